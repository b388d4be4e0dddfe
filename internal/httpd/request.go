package httpd

import (
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"

	"couling.me/webdavd/internal/wire"
)

var errUnsupportedMethod = errors.New("httpd: unsupported method")

// buildRequest maps one HTTP request to an outgoing wire.Message. For
// PUT it returns the pipe write-end the caller must stream the request
// body into after a CONTINUE reply; for PROPFIND with a body it instead
// starts a goroutine copying the body into the attached pipe
// immediately, since the RAP reads it synchronously before replying (no
// CONTINUE round-trip for PROPFIND).
func buildRequest(method, host, url string, r *http.Request) (*wire.Message, *os.File, error) {
	switch method {
	case http.MethodGet:
		return &wire.Message{
			Kind: wire.KindReadFile,
			Buffers: [][]byte{
				wire.BufHost: []byte(host),
				wire.BufPath: []byte(url),
			},
		}, nil, nil

	case "PROPFIND":
		depth := r.Header.Get("Depth")
		if depth == "" {
			depth = "infinity"
		}
		msg := &wire.Message{
			Kind: wire.KindPropfind,
			Buffers: [][]byte{
				wire.BufHost:  []byte(host),
				wire.BufPath:  []byte(url),
				wire.BufDepth: []byte(depth),
			},
		}
		if requestHasBody(r) {
			pr, pw, err := os.Pipe()
			if err != nil {
				return nil, nil, err
			}
			msg.FD = wire.NewFD(pr)
			go func() {
				io.Copy(pw, r.Body)
				pw.Close()
			}()
		}
		return msg, nil, nil

	case http.MethodPut:
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		msg := &wire.Message{
			Kind: wire.KindWriteFile,
			FD:   wire.NewFD(pr),
			Buffers: [][]byte{
				wire.BufHost: []byte(host),
				wire.BufPath: []byte(url),
			},
		}
		return msg, pw, nil

	default:
		return nil, nil, errUnsupportedMethod
	}
}
