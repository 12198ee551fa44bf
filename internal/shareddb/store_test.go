package shareddb

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLock = LockConfig{
	TTL:           time.Minute,
	Timeout:       50 * time.Millisecond,
	RetryInterval: 5 * time.Millisecond,
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisConfig{Lock: testLock}), mr
}

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	cfg := InMemoryBadgerConfig()
	cfg.Lock = testLock
	b, err := OpenBadger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryWithLockTimeout(testLock.Timeout) },
		"redis": func(t *testing.T) Store {
			s, _ := newTestRedis(t)
			return s
		},
		"badger": func(t *testing.T) Store { return newTestBadger(t) },
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("absent ref is up to date", func(t *testing.T) {
				s := open(t)

				ok, err := s.IsUpToDate(ctx, "demo", "refs/heads/main", "abc")
				require.NoError(t, err)
				assert.True(t, ok)

				exists, err := s.Exists(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)
				assert.False(t, exists)

				_, found, err := s.Get(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)
				assert.False(t, found)
			})

			t.Run("compare and put", func(t *testing.T) {
				s := open(t)

				ok, err := s.CompareAndPut(ctx, "demo", "refs/heads/main", "", "a1")
				require.NoError(t, err)
				require.True(t, ok)

				ok, err = s.CompareAndPut(ctx, "demo", "refs/heads/main", "zz", "a2")
				require.NoError(t, err)
				assert.False(t, ok)

				v, found, err := s.Get(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)
				assert.True(t, found)
				assert.Equal(t, "a1", v)

				ok, err = s.CompareAndPut(ctx, "demo", "refs/heads/main", "a1", "a2")
				require.NoError(t, err)
				assert.True(t, ok)

				upToDate, err := s.IsUpToDate(ctx, "demo", "refs/heads/main", "a1")
				require.NoError(t, err)
				assert.False(t, upToDate)

				upToDate, err = s.IsUpToDate(ctx, "demo", "refs/heads/main", "a2")
				require.NoError(t, err)
				assert.True(t, upToDate)
			})

			t.Run("deleted ref keeps existing", func(t *testing.T) {
				s := open(t)

				_, err := s.CompareAndPut(ctx, "demo", "refs/heads/gone", "", "a1")
				require.NoError(t, err)
				ok, err := s.CompareAndPut(ctx, "demo", "refs/heads/gone", "a1", "")
				require.NoError(t, err)
				require.True(t, ok)

				exists, err := s.Exists(ctx, "demo", "refs/heads/gone")
				require.NoError(t, err)
				assert.True(t, exists)

				upToDate, err := s.IsUpToDate(ctx, "demo", "refs/heads/gone", "a1")
				require.NoError(t, err)
				assert.False(t, upToDate)

				upToDate, err = s.IsUpToDate(ctx, "demo", "refs/heads/gone", "")
				require.NoError(t, err)
				assert.True(t, upToDate)
			})

			t.Run("remove drops only the project", func(t *testing.T) {
				s := open(t)

				for _, p := range []string{"a", "a/b", "b"} {
					_, err := s.CompareAndPut(ctx, p, "refs/heads/main", "", "v-"+p)
					require.NoError(t, err)
				}
				require.NoError(t, s.Remove(ctx, "a"))

				exists, err := s.Exists(ctx, "a", "refs/heads/main")
				require.NoError(t, err)
				assert.False(t, exists)

				for _, p := range []string{"a/b", "b"} {
					v, found, err := s.Get(ctx, p, "refs/heads/main")
					require.NoError(t, err)
					assert.True(t, found, p)
					assert.Equal(t, "v-"+p, v)
				}
			})

			t.Run("lock is exclusive", func(t *testing.T) {
				s := open(t)

				l, err := s.LockRef(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)

				_, err = s.LockRef(ctx, "demo", "refs/heads/main")
				assert.ErrorIs(t, err, ErrLockFailed)

				other, err := s.LockRef(ctx, "demo", "refs/heads/dev")
				require.NoError(t, err)
				require.NoError(t, other.Unlock(ctx))

				require.NoError(t, l.Unlock(ctx))
				assert.ErrorIs(t, l.Unlock(ctx), ErrNotLocked)

				again, err := s.LockRef(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)
				require.NoError(t, again.Unlock(ctx))
			})

			t.Run("lock honours context", func(t *testing.T) {
				s := open(t)

				l, err := s.LockRef(ctx, "demo", "refs/heads/main")
				require.NoError(t, err)
				defer l.Unlock(ctx)

				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err = s.LockRef(cctx, "demo", "refs/heads/main")
				assert.ErrorIs(t, err, ErrLockFailed)
			})
		})
	}
}

func TestRedis_LockExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t)

	l, err := s.LockRef(ctx, "demo", "refs/heads/main")
	require.NoError(t, err)

	mr.FastForward(2 * testLock.TTL)

	l2, err := s.LockRef(ctx, "demo", "refs/heads/main")
	require.NoError(t, err)

	assert.ErrorIs(t, l.Unlock(ctx), ErrNotLocked)
	require.NoError(t, l2.Unlock(ctx))
}

func TestRedis_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedis(client, RedisConfig{Lock: testLock})
	mr.Close()

	_, err = s.IsUpToDate(ctx, "demo", "refs/heads/main", "a")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.CompareAndPut(ctx, "demo", "refs/heads/main", "", "a")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.LockRef(ctx, "demo", "refs/heads/main")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadger_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	_, err = b.CompareAndPut(ctx, "demo", "refs/heads/main", "", "a1")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer b.Close()

	v, found, err := b.Get(ctx, "demo", "refs/heads/main")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a1", v)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var s Store = Noop{}

	ok, err := s.IsUpToDate(ctx, "p", "r", "x")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndPut(ctx, "p", "r", "x", "y")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := s.Exists(ctx, "p", "r")
	require.NoError(t, err)
	assert.False(t, exists)

	l, err := s.LockRef(ctx, "p", "r")
	require.NoError(t, err)
	assert.NoError(t, l.Unlock(ctx))
	assert.NoError(t, s.Remove(ctx, "p"))
}

func (m *Memory) heldLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func TestMemory_DropsReleasedLocks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryWithLockTimeout(time.Second)

	held, err := m.LockRef(ctx, "demo", "refs/heads/main")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = m.LockRef(short, "demo", "refs/heads/main")
	require.ErrorIs(t, err, ErrLockFailed)
	assert.Equal(t, 1, m.heldLocks())

	waiter := make(chan error, 1)
	go func() {
		l, err := m.LockRef(ctx, "demo", "refs/heads/main")
		if err == nil {
			err = l.Unlock(ctx)
		}
		waiter <- err
	}()
	require.NoError(t, held.Unlock(ctx))
	require.NoError(t, <-waiter)
	assert.Zero(t, m.heldLocks())

	for _, ref := range []string{"refs/heads/a", "refs/heads/b", "refs/heads/c"} {
		l, err := m.LockRef(ctx, "demo", ref)
		require.NoError(t, err)
		require.NoError(t, l.Unlock(ctx))
	}
	assert.Zero(t, m.heldLocks())
}
