package rapserver

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"couling.me/webdavd/internal/webdavfs"
	"couling.me/webdavd/internal/wire"
)

// handleReadFile serves READ_FILE: a regular file replies SUCCESS with
// the open fd attached; a directory replies SUCCESS with a pipe read-end
// streaming a generated HTML index.
func (s *session) handleReadFile(msg *wire.Message) {
	msg.FD.Close()
	if len(msg.Buffers) != 2 {
		s.replyKind(wire.KindBadRapRequest)
		return
	}
	path := msg.BufferString(wire.BufPath)

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		s.replyOpenError(err, wire.KindNotFound)
		return
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		s.replyKind(wire.KindInternalError)
		return
	}

	if info.IsDir() {
		s.replyDirectoryListing(f, path)
		return
	}

	mtimeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(mtimeBuf, uint64(info.ModTime().Unix()))
	mimeType := s.mimeTable.Lookup(path)

	if err := s.replyWithFD(wire.KindSuccess, wire.NewFD(f), [][]byte{
		wire.BufDate:     mtimeBuf,
		wire.BufMimeType: []byte(mimeType),
		wire.BufLocation: []byte(path),
	}); err != nil && s.log != nil {
		s.log.WithError(err).Warn("rapserver: failed to send read_file response")
	}
}

// replyDirectoryListing replies SUCCESS with a pipe read-end and streams
// a minimal HTML index to the write end. Directory listings are not
// cacheable, so the date buffer carries the current time rather than the
// directory's mtime.
func (s *session) replyDirectoryListing(dir *os.File, path string) {
	r, w, err := os.Pipe()
	if err != nil {
		dir.Close()
		s.replyKind(wire.KindInternalError)
		return
	}

	nowBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(nowBuf, uint64(time.Now().Unix()))

	if err := s.replyWithFD(wire.KindSuccess, wire.NewFD(r), [][]byte{
		wire.BufDate:     nowBuf,
		wire.BufMimeType: []byte("text/html"),
		wire.BufLocation: []byte(path),
	}); err != nil {
		dir.Close()
		w.Close()
		if s.log != nil {
			s.log.WithError(err).Warn("rapserver: failed to send directory listing header")
		}
		return
	}

	go func() {
		defer dir.Close()
		defer w.Close()
		if err := renderDirectoryIndexTo(w, dir.Name(), path); err != nil && s.log != nil {
			s.log.WithError(err).Warn("rapserver: failed writing directory listing")
		}
	}()
}

// handleWriteFile serves WRITE_FILE: replies CONTINUE, then copies the
// attached body pipe into the opened file until EOF.
func (s *session) handleWriteFile(msg *wire.Message) {
	if len(msg.Buffers) != 2 {
		msg.FD.Close()
		s.replyKind(wire.KindBadRapRequest)
		return
	}
	if !msg.FD.Valid() {
		s.replyKind(wire.KindBadRapRequest)
		return
	}
	bodyPipe := msg.FD.File()
	defer bodyPipe.Close()

	path := msg.BufferString(wire.BufPath)

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		s.replyOpenError(err, wire.KindConflict)
		return
	}
	defer f.Close()

	s.replyKind(wire.KindContinue)

	if _, err := io.Copy(f, bodyPipe); err != nil {
		// Any copy error (a failed read of the body pipe, or a short or
		// failed write to the file) is a non-fatal end-of-operation: the
		// RAP replies and returns to its recv loop. A client disconnect
		// makes the server close the pipe, which arrives here as EOF.
		s.replyKind(wire.KindInsufficientStorage)
		return
	}

	s.replyKind(wire.KindSuccess)
}

// replyOpenError maps an os.OpenFile error to a response kind: EACCES
// always maps to ACCESS_DENIED; every other errno maps to notFoundKind
// (NOT_FOUND for reads, CONFLICT for writes).
func (s *session) replyOpenError(err error, notFoundKind wire.Kind) {
	if errIsAccessDenied(err) {
		s.replyKind(wire.KindAccessDenied)
		return
	}
	s.replyKind(notFoundKind)
}

func errIsAccessDenied(err error) bool {
	return errors.Is(err, syscall.EACCES)
}

func renderDirectoryIndexTo(w io.Writer, dirPath, urlPath string) error {
	return webdavfs.RenderDirectoryIndex(w, dirPath, urlPath)
}
