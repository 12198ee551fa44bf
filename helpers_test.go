package refguard

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/shareddb"
	"github.com/aweris/refguard/internal/store"
)

const (
	testProject = "demo"
	mainRef     = "refs/heads/main"
	devRef      = "refs/heads/dev"

	idA ObjectID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB ObjectID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	idC ObjectID = "cccccccccccccccccccccccccccccccccccccccc"
)

type casCall struct {
	ref, expected, value string
}

// spyShared wraps a Memory store, records every call and lets a test force
// failures.
type spyShared struct {
	*shareddb.Memory

	mu        sync.Mutex
	locks     []string
	unlocks   []string
	cas       []casCall
	upToDate  int
	exists    int
	removes   int
	casResult *bool
	casErr    error
	rejectRef string
	unlockErr error
	lockErr   error
	readErr   error
	removeErr error
}

func newSpyShared() *spyShared {
	return &spyShared{Memory: shareddb.NewMemory()}
}

func (s *spyShared) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks) + len(s.cas) + s.upToDate + s.exists + s.removes
}

func (s *spyShared) IsUpToDate(ctx context.Context, project, ref, id string) (bool, error) {
	s.mu.Lock()
	s.upToDate++
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.Memory.IsUpToDate(ctx, project, ref, id)
}

func (s *spyShared) Exists(ctx context.Context, project, ref string) (bool, error) {
	s.mu.Lock()
	s.exists++
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.Memory.Exists(ctx, project, ref)
}

func (s *spyShared) CompareAndPut(ctx context.Context, project, ref, expected, value string) (bool, error) {
	s.mu.Lock()
	s.cas = append(s.cas, casCall{ref: ref, expected: expected, value: value})
	result, err := s.casResult, s.casErr
	if ref == s.rejectRef {
		result = boolPtr(false)
	}
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if result != nil {
		return *result, nil
	}
	return s.Memory.CompareAndPut(ctx, project, ref, expected, value)
}

func (s *spyShared) LockRef(ctx context.Context, project, ref string) (Lock, error) {
	s.mu.Lock()
	s.locks = append(s.locks, ref)
	err := s.lockErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	l, err := s.Memory.LockRef(ctx, project, ref)
	if err != nil {
		return nil, err
	}
	return &spyLock{Lock: l, spy: s, ref: ref}, nil
}

func (s *spyShared) Remove(ctx context.Context, project string) error {
	s.mu.Lock()
	s.removes++
	err := s.removeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Remove(ctx, project)
}

type spyLock struct {
	Lock
	spy *spyShared
	ref string
}

func (l *spyLock) Unlock(ctx context.Context) error {
	l.spy.mu.Lock()
	l.spy.unlocks = append(l.spy.unlocks, l.ref)
	unlockErr := l.spy.unlockErr
	l.spy.mu.Unlock()
	if err := l.Lock.Unlock(ctx); err != nil {
		return err
	}
	return unlockErr
}

func boolPtr(b bool) *bool { return &b }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocal(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(t.TempDir(), testProject, 16, 2, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, local LocalStore, name string, id ObjectID) {
	t.Helper()
	_, err := local.Update(context.Background(), RefUpdate{Name: name, NewID: id, Force: true})
	require.NoError(t, err)
}

type fixture struct {
	local     *store.LocalStore
	shared    *spyShared
	metrics   *metrics.Metrics
	validator *Validator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		local:   newLocal(t),
		shared:  newSpyShared(),
		metrics: metrics.New(prometheus.NewRegistry(), ""),
	}
	base := []Option{
		WithSharedStore(f.shared),
		WithMetrics(f.metrics),
		WithLogger(discardLogger()),
	}
	v, err := NewValidator(testProject, f.local, append(base, opts...)...)
	require.NoError(t, err)
	f.validator = v
	return f
}

// update runs u through the validator against the local store, counting
// rollbacks and recording the value each was asked to restore.
func (f *fixture) update(ctx context.Context, u RefUpdate) (Result, []ObjectID, error) {
	var restored []ObjectID
	res, err := f.validator.ExecuteUpdate(ctx, u,
		func(ctx context.Context) (Result, error) {
			return f.local.Update(ctx, u)
		},
		func(ctx context.Context, previous ObjectID) (Result, error) {
			restored = append(restored, previous)
			return f.local.Update(ctx, RefUpdate{Name: u.Name, NewID: previous, Force: true})
		})
	return res, restored, err
}

func (f *fixture) localID(t *testing.T, name string) ObjectID {
	t.Helper()
	ref, err := f.local.Ref(context.Background(), name)
	require.NoError(t, err)
	return ref.ID
}
