package rapserver

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"couling.me/webdavd/internal/davxml"
	"couling.me/webdavd/internal/webdavfs"
	"couling.me/webdavd/internal/wire"
)

// handlePropfind parses the attached XML body into a PropertySet, stats
// path (and its children at depth>0), replies MULTISTATUS with a pipe
// read-end, then streams the document.
func (s *session) handlePropfind(msg *wire.Message) {
	if len(msg.Buffers) != 3 {
		msg.FD.Close()
		s.replyKind(wire.KindBadRapRequest)
		return
	}

	path := msg.BufferString(wire.BufPath)
	depthRaw := msg.BufferString(wire.BufDepth)

	var set davxml.PropertySet
	var err error
	if msg.FD.Valid() {
		body := msg.FD.File()
		set, err = davxml.ParsePropfind(body)
		body.Close()
	} else {
		set = davxml.AllProperties()
	}
	if err != nil {
		s.replyKind(wire.KindBadClientRequest)
		return
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		s.replyOpenError(statErr, wire.KindNotFound)
		return
	}

	// Depth semantics reduced to {self, self+children}: "0" means self
	// only, anything else (including "infinity") means self+children.
	includeChildren := depthRaw != "0" && info.IsDir()

	entries := []davxml.Entry{s.entryFor(path, info)}
	if includeChildren {
		children, err := s.readDirEntries(path)
		if err != nil {
			s.replyKind(wire.KindInternalError)
			return
		}
		entries = append(entries, children...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		s.replyKind(wire.KindInternalError)
		return
	}

	nowBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(nowBuf, uint64(time.Now().Unix()))

	if err := s.replyWithFD(wire.KindMultistatus, wire.NewFD(r), [][]byte{
		wire.BufDate:     nowBuf,
		wire.BufMimeType: []byte("application/xml; charset=utf-8"),
		wire.BufLocation: []byte(path),
	}); err != nil {
		w.Close()
		if s.log != nil {
			s.log.WithError(err).Warn("rapserver: failed to send multistatus header")
		}
		return
	}

	go func() {
		defer w.Close()
		if err := davxml.WriteMultistatus(w, set, entries); err != nil && s.log != nil {
			s.log.WithError(err).Warn("rapserver: failed writing multistatus body")
		}
	}()
}

func (s *session) entryFor(path string, info os.FileInfo) davxml.Entry {
	e := davxml.Entry{
		Href:        path,
		DisplayName: filepath.Base(path),
		IsDir:       info.IsDir(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		CTime:       ctimeOf(info),
	}
	if info.IsDir() {
		if q, err := webdavfs.StatQuota(path); err == nil {
			e.Quota = q
			e.HasQuota = true
		}
	} else {
		e.ContentType = s.mimeTable.Lookup(path)
	}
	return e
}

func (s *session) readDirEntries(dir string) ([]davxml.Entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sep := "/"
	if strings.HasSuffix(dir, "/") {
		sep = ""
	}
	entries := make([]davxml.Entry, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.Name(), ".") {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, s.entryFor(dir+sep+item.Name(), info))
	}
	return entries, nil
}

// ctimeOf returns the platform ctime when available, falling back to
// ModTime. creationdate and getlastmodified both render from this value.
func ctimeOf(info os.FileInfo) time.Time {
	if ct, ok := platformCtime(info); ok {
		return ct
	}
	return info.ModTime()
}
