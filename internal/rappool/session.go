// Package rappool implements the pool of Restricted-Access Processor (RAP)
// child sessions: one process per (user, password) slot, leased to exactly
// one caller at a time.
package rappool

import (
	"net"
	"sync"
	"time"
)

// Session is one pooled RAP child bound to a single (user, password) pair.
type Session struct {
	Pid       int
	Sock      *net.UnixConn
	User      string
	CreatedAt time.Time

	mu     sync.Mutex
	inUse  bool
	closed bool
}

// leaseIfIdle atomically leases the session if it is open and not in use
// and not older than expireBefore. Returns true if the lease was taken.
func (s *Session) leaseIfIdle(expireBefore time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inUse {
		return false
	}
	if s.CreatedAt.Before(expireBefore) {
		return false
	}
	s.inUse = true
	return true
}

// InUse reports the current lease state.
func (s *Session) InUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Release clears the lease flag without closing the socket.
func (s *Session) Release() {
	s.mu.Lock()
	s.inUse = false
	s.mu.Unlock()
}

// expiredIdle reports whether the session is idle and past its max lifetime
// relative to cutoff (createdAt < cutoff), used by the janitor.
func (s *Session) expiredIdle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.inUse && s.CreatedAt.Before(cutoff)
}

// dead reports whether the session's socket has been closed.
func (s *Session) dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// destroy closes the control socket and marks the session dead. Idempotent.
func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.Sock != nil {
		s.Sock.Close()
	}
}

// Destroy is the exported form of destroy, used by callers (e.g. the HTTP
// layer) that must kill a session after a fatal control-channel error
// rather than release it back to the pool.
func (s *Session) Destroy() {
	s.destroy()
}

func newSession(pid int, sock *net.UnixConn, user string) *Session {
	return &Session{
		Pid:       pid,
		Sock:      sock,
		User:      user,
		CreatedAt: time.Now(),
		inUse:     true, // newly created sessions are returned already leased
	}
}

// group is the pool bucket for one (user, password) pair.
type group struct {
	user     string
	password string
	slots    []*Session
}
