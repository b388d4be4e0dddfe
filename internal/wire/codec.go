package wire

import (
	"encoding/binary"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrFramingError is returned by Recv on a malformed or oversized header.
// It is always fatal to the session it was read from.
var ErrFramingError = errors.New("wire: malformed or oversized packet")

// ErrTooManyBuffers is returned by Send when a message carries more
// buffers than MaxBuffers. Recv reports the same condition in a received
// packet as ErrFramingError.
var ErrTooManyBuffers = errors.New("wire: buffer count exceeds maximum")

// Send writes msg as a single SOCK_SEQPACKET datagram on sock, attaching
// msg.FD as SCM_RIGHTS ancillary data when present. Send always consumes
// msg.FD - it is closed on both success and failure - so callers must not
// touch it again afterwards.
func Send(sock *net.UnixConn, msg *Message) error {
	defer msg.FD.Close()

	if len(msg.Buffers) > MaxBuffers {
		return ErrTooManyBuffers
	}

	header := make([]byte, 2+4*len(msg.Buffers))
	header[0] = byte(msg.Kind)
	header[1] = byte(len(msg.Buffers))
	for i, b := range msg.Buffers {
		binary.BigEndian.PutUint32(header[2+4*i:], uint32(len(b)))
	}

	packet := make([]byte, 0, len(header)+packetPayloadLen(msg.Buffers))
	packet = append(packet, header...)
	for _, b := range msg.Buffers {
		packet = append(packet, b...)
	}
	if len(packet) > MaxPacketSize {
		return ErrFramingError
	}

	var oob []byte
	if msg.FD.Valid() {
		oob = unix.UnixRights(int(msg.FD.File().Fd()))
	}

	n, oobn, err := sock.WriteMsgUnix(packet, oob, nil)
	if err != nil {
		return errors.Wrap(err, "wire: send")
	}
	if n != len(packet) || oobn != len(oob) {
		return errors.Wrap(io.ErrShortWrite, "wire: send")
	}
	return nil
}

func packetPayloadLen(buffers [][]byte) int {
	n := 0
	for _, b := range buffers {
		n += len(b)
	}
	return n
}

// Recv reads exactly one packet from sock into scratch, returning a Message
// whose Buffers are zero-copy slices over scratch. scratch must be at least
// MaxPacketSize bytes and must not be reused until the caller is done with
// the returned Message's buffers. Recv returns io.EOF on an orderly peer
// close and ErrFramingError on a malformed or oversized packet; both are
// fatal to the session.
func Recv(sock *net.UnixConn, scratch []byte) (*Message, error) {
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, flags, _, err := sock.ReadMsgUnix(scratch, oob)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "wire: recv")
	}
	if n == 0 && oobn == 0 {
		return nil, io.EOF
	}
	if flags&unix.MSG_TRUNC != 0 || flags&unix.MSG_CTRUNC != 0 {
		return nil, ErrFramingError
	}
	if n < 2 {
		return nil, ErrFramingError
	}

	kind := Kind(scratch[0])
	bufferCount := int(scratch[1])
	if bufferCount > MaxBuffers {
		return nil, ErrFramingError
	}
	headerLen := 2 + 4*bufferCount
	if n < headerLen {
		return nil, ErrFramingError
	}

	buffers := make([][]byte, bufferCount)
	pos := headerLen
	for i := 0; i < bufferCount; i++ {
		blen := int(binary.BigEndian.Uint32(scratch[2+4*i:]))
		if blen < 0 || pos+blen > n {
			return nil, ErrFramingError
		}
		buffers[i] = scratch[pos : pos+blen]
		pos += blen
	}

	fd, err := extractFD(oob[:oobn])
	if err != nil {
		return nil, errors.Wrap(err, "wire: recv")
	}

	return &Message{Kind: kind, FD: fd, Buffers: buffers}, nil
}

func extractFD(oob []byte) (FD, error) {
	if len(oob) == 0 {
		return FD{}, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return FD{}, errors.Wrap(err, "parsing control message")
	}
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			// Only one descriptor is ever passed per message; any
			// extras would indicate a confused peer, close them.
			for _, extra := range fds[1:] {
				unix.Close(extra)
			}
			return NewFD(os.NewFile(uintptr(fds[0]), "wire-fd")), nil
		}
	}
	return FD{}, nil
}
