package rappool

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AcquireOutcome tags the result of Acquire. The caller must branch on
// it before touching the returned Session.
type AcquireOutcome int

const (
	// Acquired means Session is valid and leased to the caller.
	Acquired AcquireOutcome = iota
	// AuthFailed means the credentials were empty or rejected by PAM.
	AuthFailed
	// AuthError means RAP bring-up failed (fork/exec/PAM plumbing error).
	AuthError
	// Backoff means the user already holds the maximum concurrent sessions.
	Backoff
)

// Authenticator forks and authenticates a brand new RAP for (user,
// password, rhost). It is supplied by the caller (internal/rapclient) so
// that rappool has no direct dependency on process management.
type Authenticator func(ctx context.Context, user, password, rhost string) (pid int, sock *net.UnixConn, err error)

// Pool is the RAP session pool keyed by (user, password). One mutex
// guards the whole table. Each Session also has its own small lock for
// its lease state; it is taken either on its own or while the pool lock
// is held, never the other way round.
type Pool struct {
	MaxSessionsPerUser int
	MaxSessionLife     time.Duration
	Authenticate       Authenticator
	Log                logrus.FieldLogger

	mu     sync.Mutex
	groups []*group // kept sorted by (user, password)

	janitorStop chan struct{}
	janitorWG   sync.WaitGroup
}

// New constructs a Pool. Call Start to launch the janitor and SIGCHLD reaper.
func New(maxSessionsPerUser int, maxSessionLife time.Duration, auth Authenticator, log logrus.FieldLogger) *Pool {
	return &Pool{
		MaxSessionsPerUser: maxSessionsPerUser,
		MaxSessionLife:     maxSessionLife,
		Authenticate:       auth,
		Log:                log,
	}
}

func groupLess(a, b *group) bool {
	if a.user != b.user {
		return a.user < b.user
	}
	return a.password < b.password
}

func (p *Pool) findGroupLocked(user, password string) (*group, int) {
	idx := sort.Search(len(p.groups), func(i int) bool {
		g := p.groups[i]
		if g.user != user {
			return g.user >= user
		}
		return g.password >= password
	})
	if idx < len(p.groups) && p.groups[idx].user == user && p.groups[idx].password == password {
		return p.groups[idx], idx
	}
	return nil, idx
}

func (p *Pool) insertGroupLocked(g *group) {
	_, idx := p.findGroupLocked(g.user, g.password)
	p.groups = append(p.groups, nil)
	copy(p.groups[idx+1:], p.groups[idx:])
	p.groups[idx] = g
}

// Acquire leases an idle Session for (user, password) or brings up a new
// RAP child.
func (p *Pool) Acquire(ctx context.Context, user, password, rhost string) (*Session, AcquireOutcome) {
	if user == "" || password == "" {
		return nil, AuthFailed
	}

	cutoff := time.Now().Add(-p.MaxSessionLife)

	p.mu.Lock()
	g, _ := p.findGroupLocked(user, password)
	if g != nil {
		active := 0
		for _, s := range g.slots {
			if s.leaseIfIdle(cutoff) {
				p.mu.Unlock()
				return s, Acquired
			}
			if s.InUse() {
				active++
			}
		}
		if active >= p.MaxSessionsPerUser {
			p.mu.Unlock()
			return nil, Backoff
		}
	}
	p.mu.Unlock()

	// No reusable slot: fork+authenticate a new RAP outside the lock.
	// Blocking I/O must never happen while the pool lock is held.
	pid, sock, err := p.Authenticate(ctx, user, password, rhost)
	if err != nil {
		if p.Log != nil {
			p.Log.WithError(err).WithField("user", user).Warn("rap authentication failed")
		}
		return nil, classifyAuthError(err)
	}

	session := newSession(pid, sock, user)

	p.mu.Lock()
	defer p.mu.Unlock()

	g, _ = p.findGroupLocked(user, password)
	if g == nil {
		g = &group{user: user, password: password}
		p.insertGroupLocked(g)
	}

	if len(g.slots) < p.MaxSessionsPerUser {
		g.slots = append(g.slots, session)
		return session, Acquired
	}

	// Group is full: a slot whose RAP has died, or one that is expired and
	// idle, is evicted in favour of the new child; otherwise the new child
	// is surplus and must back off.
	for i, s := range g.slots {
		if s.dead() || s.expiredIdle(cutoff) {
			s.destroy()
			g.slots[i] = session
			return session, Acquired
		}
	}

	session.destroy()
	return nil, Backoff
}

// AuthFailedError lets callers of Authenticate distinguish a rejected
// credential (AuthFailed, 401) from a bring-up failure (AuthError, 500).
type AuthFailedError struct{ Err error }

func (e *AuthFailedError) Error() string { return e.Err.Error() }
func (e *AuthFailedError) Unwrap() error { return e.Err }

func classifyAuthError(err error) AcquireOutcome {
	if _, ok := err.(*AuthFailedError); ok {
		return AuthFailed
	}
	return AuthError
}

// Release returns session to the idle pool without closing its socket.
func (p *Pool) Release(s *Session) {
	s.Release()
}

// Start launches the janitor goroutine and SIGCHLD reaper. Call once after
// construction.
func (p *Pool) Start() {
	p.janitorStop = make(chan struct{})
	p.janitorWG.Add(1)
	go p.janitorLoop()
	installSIGCHLDHandler(p.Log)
}

// Stop halts the janitor. Does not destroy existing sessions.
func (p *Pool) Stop() {
	if p.janitorStop != nil {
		close(p.janitorStop)
		p.janitorWG.Wait()
	}
}

// janitorLoop wakes every MaxSessionLife/2 and destroys idle, expired
// sessions.
func (p *Pool) janitorLoop() {
	defer p.janitorWG.Done()
	interval := p.MaxSessionLife / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.janitorStop:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *Pool) reapExpired() {
	cutoff := time.Now().Add(-p.MaxSessionLife)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		kept := g.slots[:0]
		for _, s := range g.slots {
			if s.expiredIdle(cutoff) {
				s.destroy()
				if p.Log != nil {
					p.Log.WithField("user", s.User).Debug("janitor reaped idle rap session")
				}
				continue
			}
			if s.dead() {
				continue
			}
			kept = append(kept, s)
		}
		g.slots = kept
	}
}

// Stats reports a point-in-time snapshot, used by tests and diagnostics.
type Stats struct {
	Groups       int
	Sessions     int
	InUseSession int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st Stats
	st.Groups = len(p.groups)
	for _, g := range p.groups {
		for _, s := range g.slots {
			st.Sessions++
			if s.InUse() {
				st.InUseSession++
			}
		}
	}
	return st
}
