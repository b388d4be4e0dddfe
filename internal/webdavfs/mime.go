// Package webdavfs implements the local filesystem helpers a RAP child
// uses to answer READ_FILE/WRITE_FILE/PROPFIND: mime lookup, quota
// statistics, and directory listing rendering.
package webdavfs

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultMimeType is returned by MimeTable.Lookup when no extension
// matches.
const DefaultMimeType = "application/octet-stream"

// MimeTable is an extension -> media-type table. Lookup reads the map
// directly; the sorted list of extensions is built at parse time but is
// not used for lookups.
type MimeTable struct {
	ext2type map[string]string
	sorted   []string
}

// LoadMimeTable parses the `<type> <ext1> [<ext2> ...]` mime.types file
// format: '#' starts a comment to end of line, blank lines are ignored.
func LoadMimeTable(path string) (*MimeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "webdavfs: open mime file")
	}
	defer f.Close()
	return ParseMimeTable(f)
}

// ParseMimeTable is the testable core of LoadMimeTable.
func ParseMimeTable(r io.Reader) (*MimeTable, error) {
	t := &MimeTable{ext2type: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mimeType := fields[0]
		for _, ext := range fields[1:] {
			t.ext2type[strings.ToLower(ext)] = mimeType
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "webdavfs: scan mime file")
	}

	t.sorted = make([]string, 0, len(t.ext2type))
	for ext := range t.ext2type {
		t.sorted = append(t.sorted, ext)
	}
	sort.Strings(t.sorted)

	return t, nil
}

// Lookup finds the media type for name by its final '.'-delimited
// extension: a name with no '.', or one only before the final path
// separator, yields DefaultMimeType.
func (t *MimeTable) Lookup(name string) string {
	base := name
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 || idx == len(base)-1 {
		return DefaultMimeType
	}
	ext := strings.ToLower(base[idx+1:])
	if mt, ok := t.ext2type[ext]; ok {
		return mt
	}
	return DefaultMimeType
}
