package shareddb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Store. Locks block until released, the context is
// done, or the lock timeout elapses.
type Memory struct {
	mu      sync.Mutex
	refs    map[string]map[string]string
	locks   map[string]*lockEntry
	timeout time.Duration
}

// lockEntry is the lock of one ref. It is dropped once no caller holds or
// waits for it.
type lockEntry struct {
	ch    chan struct{}
	users int
}

func NewMemory() *Memory {
	return NewMemoryWithLockTimeout(DefaultLockConfig().Timeout)
}

func NewMemoryWithLockTimeout(timeout time.Duration) *Memory {
	return &Memory{
		refs:    make(map[string]map[string]string),
		locks:   make(map[string]*lockEntry),
		timeout: timeout,
	}
}

func (m *Memory) IsUpToDate(_ context.Context, project, ref, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.refs[project][ref]
	return !ok || cur == id, nil
}

func (m *Memory) CompareAndPut(_ context.Context, project, ref, expected, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs, ok := m.refs[project]
	if !ok {
		refs = make(map[string]string)
		m.refs[project] = refs
	}
	if cur, ok := refs[ref]; ok && cur != expected {
		return false, nil
	}
	refs[ref] = value
	return true, nil
}

func (m *Memory) Exists(_ context.Context, project, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.refs[project][ref]
	return ok, nil
}

func (m *Memory) Get(_ context.Context, project, ref string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.refs[project][ref]
	return v, ok, nil
}

func (m *Memory) Remove(_ context.Context, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, project)
	return nil
}

// Put sets a value unconditionally. It lets tests and tools seed the store.
func (m *Memory) Put(project, ref, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs, ok := m.refs[project]
	if !ok {
		refs = make(map[string]string)
		m.refs[project] = refs
	}
	refs[ref] = value
}

func (m *Memory) LockRef(ctx context.Context, project, ref string) (Lock, error) {
	key := LockKey(project, ref)

	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.users++
	m.mu.Unlock()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return &memoryLock{m: m, key: key, entry: e}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockFailed, key, ctx.Err())
	case <-timer.C:
		m.release(key, e)
		return nil, fmt.Errorf("%w: %s: timed out after %s", ErrLockFailed, key, m.timeout)
	}
}

func (m *Memory) release(key string, e *lockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.users--
	if e.users == 0 {
		delete(m.locks, key)
	}
}

type memoryLock struct {
	m        *Memory
	key      string
	entry    *lockEntry
	released atomic.Bool
}

func (l *memoryLock) Unlock(context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return ErrNotLocked
	}
	<-l.entry.ch
	l.m.release(l.key, l.entry)
	return nil
}
