package rappool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couling.me/webdavd/internal/wire"
)

func fakeSocketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	a, b, err := wire.NewSocketpair()
	require.NoError(t, err)
	bConn, err := net.FileConn(b)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	unixB := bConn.(*net.UnixConn)
	t.Cleanup(func() { unixB.Close() })
	return a, unixB
}

func countingAuthenticator(t *testing.T, calls *int32) Authenticator {
	return func(ctx context.Context, user, password, rhost string) (int, *net.UnixConn, error) {
		atomic.AddInt32(calls, 1)
		sock, _ := fakeSocketPair(t)
		return 1000 + int(atomic.LoadInt32(calls)), sock, nil
	}
}

func TestAcquireForksOnFirstUse(t *testing.T) {
	var calls int32
	pool := New(10, time.Hour, countingAuthenticator(t, &calls), nil)

	session, outcome := pool.Acquire(context.Background(), "alice", "pw", "1.2.3.4")
	require.Equal(t, Acquired, outcome)
	require.NotNil(t, session)
	assert.EqualValues(t, 1, calls)
}

func TestAcquireReusesReleasedSession(t *testing.T) {
	var calls int32
	pool := New(10, time.Hour, countingAuthenticator(t, &calls), nil)

	s1, outcome := pool.Acquire(context.Background(), "alice", "pw", "")
	require.Equal(t, Acquired, outcome)
	pool.Release(s1)

	s2, outcome := pool.Acquire(context.Background(), "alice", "pw", "")
	require.Equal(t, Acquired, outcome)
	assert.Same(t, s1, s2)
	assert.EqualValues(t, 1, calls, "second acquire should reuse the released session, not fork")
}

func TestAcquireBacksOffAtCapacity(t *testing.T) {
	var calls int32
	pool := New(1, time.Hour, countingAuthenticator(t, &calls), nil)

	_, outcome := pool.Acquire(context.Background(), "alice", "pw", "")
	require.Equal(t, Acquired, outcome)

	_, outcome = pool.Acquire(context.Background(), "alice", "pw", "")
	assert.Equal(t, Backoff, outcome)
}

func TestAcquireEmptyCredentialsFailsFast(t *testing.T) {
	pool := New(10, time.Hour, nil, nil)
	_, outcome := pool.Acquire(context.Background(), "", "", "")
	assert.Equal(t, AuthFailed, outcome)
}

func TestAcquireClassifiesAuthFailure(t *testing.T) {
	auth := func(ctx context.Context, user, password, rhost string) (int, *net.UnixConn, error) {
		return 0, nil, &AuthFailedError{Err: assert.AnError}
	}
	pool := New(10, time.Hour, auth, nil)
	_, outcome := pool.Acquire(context.Background(), "bob", "wrong", "")
	assert.Equal(t, AuthFailed, outcome)
}

func TestAcquireClassifiesAuthError(t *testing.T) {
	auth := func(ctx context.Context, user, password, rhost string) (int, *net.UnixConn, error) {
		return 0, nil, assert.AnError
	}
	pool := New(10, time.Hour, auth, nil)
	_, outcome := pool.Acquire(context.Background(), "bob", "pw", "")
	assert.Equal(t, AuthError, outcome)
}

func TestJanitorReapsExpiredIdleSessions(t *testing.T) {
	var calls int32
	pool := New(10, 10*time.Millisecond, countingAuthenticator(t, &calls), nil)

	session, outcome := pool.Acquire(context.Background(), "alice", "pw", "")
	require.Equal(t, Acquired, outcome)
	pool.Release(session)

	time.Sleep(20 * time.Millisecond)
	pool.reapExpired()

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Sessions)
}
