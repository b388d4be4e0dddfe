package webdavfs

import (
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RenderDirectoryIndex writes a minimal HTML index of dir's non-dot
// entries to w, sorted for stable output since the listing has no other
// ordering guarantee to offer a client.
func RenderDirectoryIndex(w io.Writer, dir string, urlPath string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	isDir := make(map[string]bool, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
		isDir[e.Name()] = e.IsDir()
	}
	// Sort by NFC-normalized form so names stored in differing Unicode
	// normalization forms (e.g. NFD on some filesystems) still collate the
	// way a client displaying them as NFC would expect.
	sort.Slice(names, func(i, j int) bool {
		return norm.NFC.String(names[i]) < norm.NFC.String(names[j])
	})

	fmt.Fprintf(w, "<html><head><title>Index of %s</title></head><body>\n", html.EscapeString(urlPath))
	fmt.Fprintf(w, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(urlPath))
	for _, name := range names {
		href := html.EscapeString(name)
		label := html.EscapeString(norm.NFC.String(name))
		if isDir[name] {
			href += "/"
			label += "/"
		}
		fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>\n", href, label)
	}
	fmt.Fprint(w, "</ul>\n</body></html>\n")
	return nil
}
