package shareddb

import "context"

// Noop accepts everything and stores nothing. It is the default when no
// shared store is configured.
type Noop struct{}

func (Noop) IsUpToDate(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (Noop) CompareAndPut(context.Context, string, string, string, string) (bool, error) {
	return true, nil
}

func (Noop) Exists(context.Context, string, string) (bool, error) {
	return false, nil
}

func (Noop) LockRef(context.Context, string, string) (Lock, error) {
	return noopLock{}, nil
}

func (Noop) Remove(context.Context, string) error {
	return nil
}

func (Noop) Get(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

type noopLock struct{}

func (noopLock) Unlock(context.Context) error { return nil }
