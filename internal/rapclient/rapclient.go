// Package rapclient brings up a new RAP child and drives the AUTHENTICATE
// handshake. It is the Authenticator
// rappool.Pool calls when it has no idle session to lease.
package rapclient

import (
	"context"
	"net"
	"os/exec"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"couling.me/webdavd/internal/rappool"
	"couling.me/webdavd/internal/wire"
)

// Options configures how RAP children are launched.
type Options struct {
	RapBinary     string
	PamService    string
	MimeTypesFile string
	Log           logrus.FieldLogger
}

// New returns a rappool.Authenticator bound to opts. The returned function
// forks+execs a RAP binary, duping one half of a SOCK_SEQPACKET socketpair
// onto its stdin/stdout, then completes the
// AUTHENTICATE handshake.
func New(opts Options) rappool.Authenticator {
	return func(ctx context.Context, user, password, rhost string) (int, *net.UnixConn, error) {
		// spawnID correlates this spawn attempt's log lines even before a
		// pid exists (e.g. a Start failure), since the user/password pair
		// alone isn't a safe or stable thing to log across retries.
		spawnID := uuid.New()

		parent, childFile, err := wire.NewSocketpair()
		if err != nil {
			return 0, nil, errors.Wrap(err, "rapclient: socketpair")
		}
		defer childFile.Close()

		// Deliberately not exec.CommandContext: the child is pooled and must
		// outlive the request whose context triggered the spawn.
		cmd := exec.Command(opts.RapBinary, opts.PamService, opts.MimeTypesFile)
		cmd.Stdin = childFile
		cmd.Stdout = childFile
		// The RAP's stderr is left attached to the server's own stderr so
		// its early, pre-log-redirection failures are still visible.

		if err := cmd.Start(); err != nil {
			parent.Close()
			if opts.Log != nil {
				opts.Log.WithFields(logrus.Fields{"user": user, "spawn_id": spawnID}).WithError(err).Warn("rap failed to start")
			}
			return 0, nil, errors.Wrap(err, "rapclient: could not start rap")
		}

		if err := authenticate(parent, user, password, rhost); err != nil {
			parent.Close()
			_ = cmd.Process.Kill()
			if opts.Log != nil {
				opts.Log.WithFields(logrus.Fields{"user": user, "spawn_id": spawnID, "pid": cmd.Process.Pid}).WithError(err).Warn("rap authentication attempt failed")
			}
			if errors.Is(err, errAuthRejected) {
				return 0, nil, &rappool.AuthFailedError{Err: err}
			}
			return 0, nil, err
		}

		if opts.Log != nil {
			opts.Log.WithFields(logrus.Fields{"user": user, "pid": cmd.Process.Pid, "spawn_id": spawnID}).Info("rap authenticated")
		}

		return cmd.Process.Pid, parent, nil
	}
}

var errAuthRejected = errors.New("rapclient: credentials rejected")

// authenticate sends the AUTHENTICATE request and awaits
// SUCCESS/AUTH_FAILED.
func authenticate(sock *net.UnixConn, user, password, rhost string) error {
	req := &wire.Message{
		Kind: wire.KindAuthenticate,
		Buffers: [][]byte{
			wire.BufUser:     []byte(user),
			wire.BufPassword: []byte(password),
			wire.BufRHost:    []byte(rhost),
		},
	}
	if err := wire.Send(sock, req); err != nil {
		return errors.Wrap(err, "rapclient: sending authenticate")
	}

	scratch := make([]byte, wire.MaxPacketSize)
	resp, err := wire.Recv(sock, scratch)
	if err != nil {
		return errors.Wrap(err, "rapclient: awaiting authenticate response")
	}
	defer resp.FD.Close()

	switch resp.Kind {
	case wire.KindSuccess:
		return nil
	case wire.KindAuthFailed:
		return errAuthRejected
	default:
		return errors.Errorf("rapclient: unexpected response to authenticate: %s", resp.Kind)
	}
}
