// Package httpd implements the server-side HTTP request lifecycle:
// method routing, RAP acquisition, body-pipe brokering and response
// translation. net/http's synchronous Handler model keeps this
// straight-line: the leased session simply stays in scope for the
// duration of ServeHTTP.
package httpd

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"couling.me/webdavd/internal/accesslog"
	"couling.me/webdavd/internal/rappool"
	"couling.me/webdavd/internal/wire"
)

// acceptHeader lists every verb the server claims to support.
const acceptHeader = "OPTIONS, GET, HEAD, DELETE, PROPFIND, PUT, PROPPATCH, COPY, MOVE, REPORT, LOCK, UNLOCK"

// allowHeader lists the verbs reported on a 405.
const allowHeader = "OPTIONS, GET, HEAD, DELETE, PROPFIND, PUT, PROPPATCH, COPY, MOVE, LOCK, UNLOCK"

// Handler is the root net/http.Handler for one webdavd listener.
type Handler struct {
	Pool      *rappool.Pool
	AccessLog *accesslog.Writer
	Pages     *StaticPages
	Log       logrus.FieldLogger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.Method
	url := r.URL.Path

	// Every request authenticates before anything else happens, OPTIONS
	// included; only then is OPTIONS answered from its static page.
	user, password, hasAuth := r.BasicAuth()
	if !hasAuth {
		h.sendStatic(w, r, http.StatusUnauthorized, h.Pages.Unauthorized, "", method, url)
		return
	}

	rhost := clientIP(r)
	ctx := r.Context()

	session, outcome := h.Pool.Acquire(ctx, user, password, rhost)
	switch outcome {
	case rappool.AuthFailed, rappool.Backoff:
		h.sendStatic(w, r, http.StatusUnauthorized, h.Pages.Unauthorized, user, method, url)
		return
	case rappool.AuthError:
		h.sendStatic(w, r, http.StatusInternalServerError, h.Pages.InternalServerError, user, method, url)
		return
	}

	status := h.serveWithSession(w, r, session)
	h.logAccess(r, status, user)
}

func (h *Handler) serveWithSession(w http.ResponseWriter, r *http.Request, session *rappool.Session) int {
	method := r.Method
	url := r.URL.Path

	if method == http.MethodOptions {
		h.Pool.Release(session)
		return h.writeStatic(w, http.StatusOK, h.Pages.Options, map[string]string{"Accept": acceptHeader})
	}

	// net/http promotes the Host header onto the request itself; an
	// absent header leaves it empty.
	host := r.Host

	req, bodyPipeWrite, err := buildRequest(method, host, url, r)
	if err != nil {
		h.Pool.Release(session)
		if errors.Is(err, errUnsupportedMethod) {
			return h.writeStatic(w, http.StatusMethodNotAllowed, h.Pages.MethodNotAllowed, map[string]string{"Allow": allowHeader})
		}
		return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
	}

	if err := wire.Send(session.Sock, req); err != nil {
		if bodyPipeWrite != nil {
			bodyPipeWrite.Close()
		}
		session.Destroy()
		return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
	}

	scratch := make([]byte, wire.MaxPacketSize)
	resp, err := wire.Recv(session.Sock, scratch)
	if err != nil {
		if bodyPipeWrite != nil {
			bodyPipeWrite.Close()
		}
		session.Destroy()
		return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
	}

	if resp.Kind == wire.KindContinue {
		if bodyPipeWrite == nil {
			session.Destroy()
			return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
		}
		if _, err := io.Copy(bodyPipeWrite, r.Body); err != nil {
			bodyPipeWrite.Close()
			session.Destroy()
			return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
		}
		bodyPipeWrite.Close()

		resp, err = wire.Recv(session.Sock, scratch)
		if err != nil {
			session.Destroy()
			return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
		}
	} else if bodyPipeWrite != nil {
		bodyPipeWrite.Close()
	}

	h.Pool.Release(session)
	return h.writeRapResponse(w, resp)
}

// writeRapResponse translates a RAP reply into the HTTP response.
func (h *Handler) writeRapResponse(w http.ResponseWriter, resp *wire.Message) int {
	defer resp.FD.Close()

	switch resp.Kind {
	case wire.KindSuccess, wire.KindMultistatus:
		return h.writeStreamResponse(w, resp)
	case wire.KindAccessDenied:
		return h.writeStatic(w, http.StatusForbidden, h.Pages.Forbidden, nil)
	case wire.KindNotFound:
		return h.writeStatic(w, http.StatusNotFound, h.Pages.NotFound, nil)
	case wire.KindBadClientRequest:
		return h.writeStatic(w, http.StatusBadRequest, h.Pages.BadRequest, nil)
	case wire.KindConflict:
		return h.writeStatic(w, http.StatusConflict, h.Pages.Conflict, nil)
	case wire.KindInsufficientStorage:
		return h.writeStatic(w, http.StatusInsufficientStorage, h.Pages.InsufficientStorage, nil)
	default:
		return h.writeStatic(w, http.StatusInternalServerError, h.Pages.InternalServerError, nil)
	}
}

func (h *Handler) writeStreamResponse(w http.ResponseWriter, resp *wire.Message) int {
	status := http.StatusOK
	if resp.Kind == wire.KindMultistatus {
		status = http.StatusMultiStatus
	}

	mimeType := resp.BufferString(wire.BufMimeType)

	addStaticHeaders(w.Header())
	if mimeType != "" {
		w.Header().Set("Content-Type", mimeType)
	}
	// Only a multistatus carries its path back as a Location header.
	if location := resp.BufferString(wire.BufLocation); location != "" && resp.Kind == wire.KindMultistatus {
		w.Header().Set("Location", location)
	}

	f := resp.FD.File()
	if f != nil {
		if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		}
	}

	w.WriteHeader(status)
	if f != nil {
		io.Copy(w, f)
	}
	return status
}

func (h *Handler) sendStatic(w http.ResponseWriter, r *http.Request, status int, body []byte, user, method, url string) {
	headers := map[string]string(nil)
	if status == http.StatusUnauthorized {
		headers = map[string]string{"WWW-Authenticate": `Basic realm="My Server"`}
	}
	h.writeStatic(w, status, body, headers)
	h.logAccessDirect(r, status, user, method, url)
}

func (h *Handler) writeStatic(w http.ResponseWriter, status int, body []byte, headers map[string]string) int {
	addStaticHeaders(w.Header())
	w.Header().Set("Content-Type", "text/html")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	w.Write(body)
	return status
}

func addStaticHeaders(h http.Header) {
	h.Set("DAV", "1")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Keep-Alive", "timeout=30")
	h.Set("Connection", "Keep-Alive")
	h.Set("Server", "couling-webdavd")
	h.Set("Expires", "Thu, 19 Nov 1981 08:52:00 GMT")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, post-check=0, pre-check=0")
	h.Set("Pragma", "no-cache")
}

func (h *Handler) logAccess(r *http.Request, status int, user string) {
	h.logAccessDirect(r, status, user, r.Method, r.URL.Path)
}

func (h *Handler) logAccessDirect(r *http.Request, status int, user, method, url string) {
	if h.AccessLog == nil {
		return
	}
	h.AccessLog.Log(time.Now(), clientIP(r), user, status, method, url)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestHasBody mirrors requestHasData: a Content-Length or chunked
// Transfer-Encoding indicates an upload.
func requestHasBody(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	for _, te := range r.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}
