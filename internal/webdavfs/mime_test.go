package webdavfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMimeFile = `
# comment line
text/plain txt text
text/html  html htm
application/octet-stream bin
`

func TestMimeTableLookup(t *testing.T) {
	table, err := ParseMimeTable(strings.NewReader(testMimeFile))
	require.NoError(t, err)

	assert.Equal(t, "text/plain", table.Lookup("file.txt"))
	assert.Equal(t, "text/plain", table.Lookup("/path/to/file.TEXT"))
	assert.Equal(t, "text/html", table.Lookup("index.html"))
	assert.Equal(t, DefaultMimeType, table.Lookup("noextension"))
	assert.Equal(t, DefaultMimeType, table.Lookup("/a/b.dir/noext"))
	assert.Equal(t, DefaultMimeType, table.Lookup("trailing."))
}

func TestMimeTableIgnoresComments(t *testing.T) {
	table, err := ParseMimeTable(strings.NewReader("text/plain txt # trailing comment\n"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", table.Lookup("a.txt"))
}
