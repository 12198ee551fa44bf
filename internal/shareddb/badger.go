package shareddb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	refKeyPrefix  = "r\x00"
	lockKeyPrefix = "l\x00"

	// badgerConflictRetries bounds how often a conflicting transaction is
	// replayed before the conflict is reported.
	badgerConflictRetries = 5
)

// BadgerConfig configures an embedded Badger store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
	Lock   LockConfig
}

func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true, Lock: DefaultLockConfig()}
}

func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true, Lock: DefaultLockConfig()}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a Store backed by an embedded Badger database, for single-host
// deployments sharing one data directory.
type Badger struct {
	db   *badger.DB
	lock LockConfig
}

// OpenBadger opens the database described by cfg. Close releases it.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("shareddb: badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, lock: cfg.Lock.withDefaults()}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func refKey(project, ref string) []byte {
	return []byte(refKeyPrefix + project + "\x00" + ref)
}

func projectPrefix(project string) []byte {
	return []byte(refKeyPrefix + project + "\x00")
}

func lockKey(project, ref string) []byte {
	return []byte(lockKeyPrefix + project + "\x00" + ref)
}

// update runs fn in a read-write transaction, replaying it on conflicts.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getValue(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (b *Badger) Get(_ context.Context, project, ref string) (value string, ok bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		value, ok, err = getValue(txn, refKey(project, ref))
		return err
	})
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return value, ok, nil
}

func (b *Badger) IsUpToDate(ctx context.Context, project, ref, id string) (bool, error) {
	v, ok, err := b.Get(ctx, project, ref)
	if err != nil {
		return false, err
	}
	return !ok || v == id, nil
}

func (b *Badger) Exists(ctx context.Context, project, ref string) (bool, error) {
	_, ok, err := b.Get(ctx, project, ref)
	return ok, err
}

func (b *Badger) CompareAndPut(_ context.Context, project, ref, expected, value string) (bool, error) {
	var swapped bool
	err := b.update(func(txn *badger.Txn) error {
		swapped = false
		cur, ok, err := getValue(txn, refKey(project, ref))
		if err != nil {
			return err
		}
		if ok && cur != expected {
			return nil
		}
		if err := txn.Set(refKey(project, ref), []byte(value)); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, unavailable("compare and put", err)
	}
	return swapped, nil
}

func (b *Badger) Remove(_ context.Context, project string) error {
	err := b.update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = projectPrefix(project)

		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (b *Badger) LockRef(ctx context.Context, project, ref string) (Lock, error) {
	key := lockKey(project, ref)
	token := uuid.NewString()

	err := poll(ctx, b.lock, LockKey(project, ref), func(context.Context) (bool, error) {
		acquired := false
		err := b.db.Update(func(txn *badger.Txn) error {
			_, held, err := getValue(txn, key)
			if err != nil || held {
				return err
			}
			if err := txn.SetEntry(badger.NewEntry(key, []byte(token)).WithTTL(b.lock.TTL)); err != nil {
				return err
			}
			acquired = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return acquired && err == nil, err
	})
	if err != nil {
		return nil, err
	}
	return &badgerLock{b: b, key: key, token: token}, nil
}

type badgerLock struct {
	b     *Badger
	key   []byte
	token string
}

func (l *badgerLock) Unlock(context.Context) error {
	var held bool
	err := l.b.update(func(txn *badger.Txn) error {
		cur, ok, err := getValue(txn, l.key)
		if err != nil {
			return err
		}
		held = ok && cur == l.token
		if !held {
			return nil
		}
		return txn.Delete(l.key)
	})
	if err != nil {
		return unavailable("unlock", err)
	}
	if !held {
		return fmt.Errorf("%w: %s", ErrNotLocked, l.key)
	}
	return nil
}
