// Package rapserver implements the RAP child's single-threaded request
// executor: the recv/dispatch loop, the AUTHENTICATE handshake, and the
// READ_FILE/WRITE_FILE/PROPFIND operations.
package rapserver

import (
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"couling.me/webdavd/internal/wire"
	"couling.me/webdavd/internal/webdavfs"
)

// session carries the one piece of state a RAP accumulates across its
// lifetime: whether, and as whom, it has authenticated.
type session struct {
	sock       *net.UnixConn
	pamService string
	mimeTable  *webdavfs.MimeTable
	log        logrus.FieldLogger

	authenticated bool
	user          string
}

// Run executes the recv/dispatch loop until the peer closes the socket
// or a fatal protocol/transport error occurs. It never returns an error
// for orderly shutdown (io.EOF) - that is simply process exit.
func Run(sock *net.UnixConn, pamService string, mimeTable *webdavfs.MimeTable, log logrus.FieldLogger) error {
	s := &session{sock: sock, pamService: pamService, mimeTable: mimeTable, log: log}
	return s.run()
}

func (s *session) run() error {
	scratch := make([]byte, wire.MaxPacketSize)
	for {
		msg, err := wire.Recv(s.sock, scratch)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !msg.Kind.IsRequest() {
			msg.FD.Close()
			s.replyKind(wire.KindBadRapRequest)
			continue
		}
		if msg.Kind != wire.KindAuthenticate && !s.authenticated {
			msg.FD.Close()
			s.replyKind(wire.KindBadRapRequest)
			continue
		}

		switch msg.Kind {
		case wire.KindAuthenticate:
			s.handleAuthenticate(msg)
		case wire.KindReadFile:
			s.handleReadFile(msg)
		case wire.KindWriteFile:
			s.handleWriteFile(msg)
		case wire.KindPropfind:
			s.handlePropfind(msg)
		}
	}
}

// replyKind sends a bare response carrying no buffers and no descriptor.
func (s *session) replyKind(kind wire.Kind) {
	if err := wire.Send(s.sock, &wire.Message{Kind: kind}); err != nil && s.log != nil {
		s.log.WithError(err).Warn("rapserver: failed to send response")
	}
}

// replyWithFD sends a response carrying fd (transferring ownership to the
// codec, which closes it on send regardless of outcome) and buffers.
func (s *session) replyWithFD(kind wire.Kind, fd wire.FD, buffers [][]byte) error {
	return wire.Send(s.sock, &wire.Message{Kind: kind, FD: fd, Buffers: buffers})
}

func (s *session) handleAuthenticate(msg *wire.Message) {
	msg.FD.Close()
	if s.authenticated {
		// A RAP authenticates exactly once per lifetime; privileges have
		// already been dropped and cannot be re-established.
		s.replyKind(wire.KindBadRapRequest)
		return
	}
	if len(msg.Buffers) != 3 {
		if s.log != nil {
			s.log.Warn("rapserver: authenticate request with wrong buffer count")
		}
		s.replyKind(wire.KindBadRapRequest)
		return
	}

	user := msg.BufferString(wire.BufUser)
	password := msg.BufferString(wire.BufPassword)
	rhost := msg.BufferString(wire.BufRHost)

	canonicalUser, err := pamAuthenticate(s.pamService, user, password, rhost)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithField("user", user).Warn("rapserver: authentication failed")
		}
		s.replyKind(wire.KindAuthFailed)
		return
	}

	if err := dropToUser(canonicalUser); err != nil {
		// Fatal: the process must not answer requests without having
		// dropped privileges.
		if s.log != nil {
			s.log.WithError(err).Error("rapserver: failed to drop privileges, exiting")
		}
		panic(err)
	}

	s.authenticated = true
	s.user = canonicalUser
	s.replyKind(wire.KindSuccess)
}
