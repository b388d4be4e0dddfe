// Package accesslog implements the access log sink: a plain-text
// writer, never routed through the structured operational logger.
package accesslog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Writer serializes access log lines to an underlying file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens path for appending, creating it if necessary.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "accesslog: open %s", path)
	}
	return &Writer{file: f}, nil
}

// NewTo wraps an already-open writer (used by tests).
func NewTo(w *os.File) *Writer {
	return &Writer{file: w}
}

// Log writes one line in the fixed format:
// "<ISO8601-now> <client-ip> <user> <status> <method> <url>\n".
func (w *Writer) Log(now time.Time, clientIP, user string, status int, method, url string) {
	line := fmt.Sprintf("%s %s %s %d %s %s\n",
		now.UTC().Format(time.RFC3339), clientIP, user, status, method, url)

	w.mu.Lock()
	defer w.mu.Unlock()
	io.WriteString(w.file, line)
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
