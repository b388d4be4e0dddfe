// Package wire implements the framed control protocol spoken between the
// webdavd server and a RAP child over a SOCK_SEQPACKET unix socket,
// including the SCM_RIGHTS descriptor-passing convention.
package wire

import (
	"fmt"
	"os"
)

// Kind identifies the purpose of a Message. Request kinds are sent by the
// server to a RAP; response kinds are sent by a RAP back to the server.
type Kind uint8

const (
	// Request kinds.
	KindAuthenticate Kind = iota + 1
	KindReadFile
	KindWriteFile
	KindPropfind

	// Response kinds.
	KindSuccess
	KindMultistatus
	KindContinue
	KindAccessDenied
	KindNotFound
	KindBadClientRequest
	KindBadRapRequest
	KindAuthFailed
	KindInternalError
	KindInsufficientStorage
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticate:
		return "AUTHENTICATE"
	case KindReadFile:
		return "READ_FILE"
	case KindWriteFile:
		return "WRITE_FILE"
	case KindPropfind:
		return "PROPFIND"
	case KindSuccess:
		return "SUCCESS"
	case KindMultistatus:
		return "MULTISTATUS"
	case KindContinue:
		return "CONTINUE"
	case KindAccessDenied:
		return "ACCESS_DENIED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindBadClientRequest:
		return "BAD_CLIENT_REQUEST"
	case KindBadRapRequest:
		return "BAD_RAP_REQUEST"
	case KindAuthFailed:
		return "AUTH_FAILED"
	case KindInternalError:
		return "INTERNAL_ERROR"
	case KindInsufficientStorage:
		return "INSUFFICIENT_STORAGE"
	case KindConflict:
		return "CONFLICT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// IsRequest reports whether k is one of the four request kinds a RAP will
// accept from the server.
func (k Kind) IsRequest() bool {
	switch k {
	case KindAuthenticate, KindReadFile, KindWriteFile, KindPropfind:
		return true
	default:
		return false
	}
}

// Positional buffer indices, shared by both sides of the protocol.
// Meaning is kind-specific; not every kind uses every index.
const (
	BufUser     = 0 // AUTHENTICATE
	BufPassword = 1
	BufRHost    = 2

	BufHost  = 0 // READ_FILE / WRITE_FILE / PROPFIND
	BufPath  = 1
	BufDepth = 2

	BufDate     = 0 // SUCCESS / MULTISTATUS
	BufMimeType = 1
	BufLocation = 2
)

// MaxBuffers bounds the number of length-prefixed buffers a Message may
// carry. The richest kind (PROPFIND, AUTHENTICATE) uses 3; one spare slot
// is kept for forward compatibility.
const MaxBuffers = 4

// MaxPacketSize is the ceiling on one SOCK_SEQPACKET datagram. Bulk payload
// never travels inline - it always rides an attached descriptor - so this
// only needs to be generous for header + buffer metadata + small strings
// such as paths.
const MaxPacketSize = 64 * 1024

// FD wraps a descriptor being handed across the wire. Sending a Message
// consumes its FD unconditionally (closed on both success and failure);
// Recv hands the caller a fresh FD they now own. The zero value carries no
// descriptor.
type FD struct {
	f *os.File
}

// NewFD wraps an already-open file as a Message attachment.
func NewFD(f *os.File) FD {
	return FD{f: f}
}

// Valid reports whether the FD carries an open descriptor.
func (d FD) Valid() bool {
	return d.f != nil
}

// File returns the underlying *os.File, or nil if none was attached.
func (d FD) File() *os.File {
	return d.f
}

// Close closes the underlying descriptor if present. Safe to call on a
// zero-value FD.
func (d FD) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

// Message is the unit of RAP<->server communication.
type Message struct {
	Kind    Kind
	FD      FD
	Buffers [][]byte
}

// Buffer returns Buffers[i] or nil if the message has fewer than i+1
// buffers - callers index positionally per the BufXxx constants above.
func (m *Message) Buffer(i int) []byte {
	if i < 0 || i >= len(m.Buffers) {
		return nil
	}
	return m.Buffers[i]
}

// BufferString is Buffer with the NUL-free string conversion convenience
// used throughout the RAP and server code.
func (m *Message) BufferString(i int) string {
	return string(m.Buffer(i))
}
