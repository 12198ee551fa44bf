package shareddb

import (
	"context"

	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/reflog"
)

// Wrapper decorates a Store with the audit trail and latency metrics. Every
// validator talks to the shared store through one.
type Wrapper struct {
	store   Store
	log     reflog.Logger
	metrics *metrics.Metrics
}

// NewWrapper wraps store. A nil store is replaced by Noop and a nil log by
// reflog.Discard.
func NewWrapper(store Store, log reflog.Logger, m *metrics.Metrics) *Wrapper {
	if store == nil {
		store = Noop{}
	}
	if log == nil {
		log = reflog.Discard{}
	}
	return &Wrapper{store: store, log: log, metrics: m}
}

// Unwrap returns the decorated store.
func (w *Wrapper) Unwrap() Store {
	return w.store
}

func (w *Wrapper) IsUpToDate(ctx context.Context, project, ref, id string) (bool, error) {
	defer w.metrics.Time(metrics.OpIsUpToDate)()
	return w.store.IsUpToDate(ctx, project, ref, id)
}

func (w *Wrapper) CompareAndPut(ctx context.Context, project, ref, expected, value string) (bool, error) {
	defer w.metrics.Time(metrics.OpCompareAndPut)()
	ok, err := w.store.CompareAndPut(ctx, project, ref, expected, value)
	if err == nil && ok {
		w.log.LogRefUpdate(ctx, project, ref, expected, value)
	}
	return ok, err
}

func (w *Wrapper) Exists(ctx context.Context, project, ref string) (bool, error) {
	defer w.metrics.Time(metrics.OpExists)()
	return w.store.Exists(ctx, project, ref)
}

func (w *Wrapper) LockRef(ctx context.Context, project, ref string) (Lock, error) {
	defer w.metrics.Time(metrics.OpLockRef)()
	l, err := w.store.LockRef(ctx, project, ref)
	if err != nil {
		return nil, err
	}
	w.log.LogLockAcquisition(ctx, project, ref)
	return &auditedLock{Lock: l, log: w.log, project: project, ref: ref}, nil
}

func (w *Wrapper) Remove(ctx context.Context, project string) error {
	defer w.metrics.Time(metrics.OpRemove)()
	if err := w.store.Remove(ctx, project); err != nil {
		return err
	}
	w.log.LogProjectDelete(ctx, project)
	return nil
}

func (w *Wrapper) Get(ctx context.Context, project, ref string) (string, bool, error) {
	defer w.metrics.Time(metrics.OpGet)()
	return w.store.Get(ctx, project, ref)
}

type auditedLock struct {
	Lock
	log     reflog.Logger
	project string
	ref     string
}

func (l *auditedLock) Unlock(ctx context.Context) error {
	if err := l.Lock.Unlock(ctx); err != nil {
		return err
	}
	l.log.LogLockRelease(ctx, l.project, l.ref)
	return nil
}
