package wire

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NewSocketpair creates a connected pair of SOCK_SEQPACKET unix sockets
// suitable for the server<->RAP control channel: parent keeps one end as a
// *net.UnixConn, child inherits the other as a raw *os.File to be dup2'd
// onto stdin/stdout before exec.
func NewSocketpair() (parent *net.UnixConn, childFile *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "wire: socketpair")
	}

	parentFile := os.NewFile(uintptr(fds[0]), "rap-control-parent")
	conn, err := net.FileConn(parentFile)
	if err != nil {
		parentFile.Close()
		unix.Close(fds[1])
		return nil, nil, errors.Wrap(err, "wire: wrap parent half")
	}
	// net.FileConn dup'd the fd; parentFile can be closed independently.
	parentFile.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		unix.Close(fds[1])
		return nil, nil, errors.New("wire: unexpected conn type for unix socketpair")
	}

	childFile = os.NewFile(uintptr(fds[1]), "rap-control-child")
	return unixConn, childFile, nil
}
