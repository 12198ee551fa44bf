package refguard

import (
	"context"
	"log/slog"
)

// lockScope holds the shared locks taken during one validation call. Each key
// is locked at most once and every lock is released by closeAll.
type lockScope struct {
	locks map[string]Lock
	keys  []string
	log   *slog.Logger
}

func newLockScope(log *slog.Logger) *lockScope {
	return &lockScope{locks: make(map[string]Lock), log: log}
}

// acquireIfAbsent calls factory unless key is already held.
func (s *lockScope) acquireIfAbsent(ctx context.Context, key string, factory func(context.Context) (Lock, error)) error {
	if _, ok := s.locks[key]; ok {
		return nil
	}
	l, err := factory(ctx)
	if err != nil {
		return err
	}
	s.locks[key] = l
	s.keys = append(s.keys, key)
	return nil
}

func (s *lockScope) held() int {
	return len(s.locks)
}

// closeAll releases every held lock in reverse acquisition order. Release
// failures are logged only; locks left behind expire in the shared store or
// must be cleared by an operator.
func (s *lockScope) closeAll(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.keys) - 1; i >= 0; i-- {
		key := s.keys[i]
		if err := s.locks[key].Unlock(ctx); err != nil {
			s.log.ErrorContext(ctx, "failed to release shared lock",
				slog.String("lock", key),
				slog.Any("error", err))
		}
		delete(s.locks, key)
	}
	s.keys = s.keys[:0]
}
