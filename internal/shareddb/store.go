// Package shareddb holds the shared (global) ref store used to keep the refs
// of every node in agreement.
//
// Values are opaque strings keyed by project and ref name. The empty string is
// the zero value: a ref recorded with it was deleted. A ref the store has never
// seen is absent, and absent refs are considered up to date with any local
// value so a cluster can adopt existing repositories lazily.
package shareddb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockFailed is returned when a ref lock cannot be acquired in time.
	ErrLockFailed = errors.New("shareddb: lock failed")
	// ErrUnavailable wraps failures of the backing store itself.
	ErrUnavailable = errors.New("shareddb: unavailable")
	// ErrNotLocked is returned by Unlock when the lock was already released
	// or has expired.
	ErrNotLocked = errors.New("shareddb: lock not held")
)

// Store is the shared ref store contract.
type Store interface {
	// IsUpToDate reports whether the stored value of ref equals id, or the
	// ref is absent.
	IsUpToDate(ctx context.Context, project, ref, id string) (bool, error)
	// CompareAndPut atomically stores value if the current value equals
	// expected or the ref is absent. It returns false on conflict.
	CompareAndPut(ctx context.Context, project, ref, expected, value string) (bool, error)
	Exists(ctx context.Context, project, ref string) (bool, error)
	// LockRef acquires the cluster-wide lock for ref.
	LockRef(ctx context.Context, project, ref string) (Lock, error)
	// Remove drops every ref of project.
	Remove(ctx context.Context, project string) error
	Get(ctx context.Context, project, ref string) (value string, ok bool, err error)
}

// Lock is a held ref lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// LockConfig controls lock acquisition for backends that poll.
type LockConfig struct {
	// TTL bounds how long a lock survives a crashed holder.
	TTL time.Duration
	// Timeout bounds how long LockRef waits for a held lock.
	Timeout time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:           30 * time.Second,
		Timeout:       5 * time.Second,
		RetryInterval: 20 * time.Millisecond,
	}
}

func (c LockConfig) withDefaults() LockConfig {
	d := DefaultLockConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	return c
}

// LockKey is the key under which a ref lock is tracked.
func LockKey(project, ref string) string {
	return project + "-" + ref
}

// poll calls try until it reports success, fails, or the configured timeout
// elapses.
func poll(ctx context.Context, cfg LockConfig, key string, try func(context.Context) (bool, error)) error {
	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrLockFailed, key, err)
		}
		ok, err := try(ctx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", ErrLockFailed, key, err)
		}
		if err != nil {
			return fmt.Errorf("%w: lock %s: %w", ErrUnavailable, key, err)
		}
		if ok {
			return nil
		}

		wait := time.NewTimer(cfg.RetryInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("%w: %s: %w", ErrLockFailed, key, ctx.Err())
		case <-deadline.C:
			wait.Stop()
			return fmt.Errorf("%w: %s: timed out after %s", ErrLockFailed, key, cfg.Timeout)
		case <-wait.C:
		}
	}
}
