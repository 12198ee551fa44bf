package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/aweris/refguard"
	"github.com/aweris/refguard/internal/config"
	"github.com/aweris/refguard/internal/logging"
	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/reflog"
	"github.com/aweris/refguard/internal/shareddb"
	"github.com/aweris/refguard/internal/store"
)

// runtime holds everything a command needs, built from the loaded config.
type runtime struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	shared   shareddb.Store
	manager  *refguard.Manager

	mu      sync.Mutex
	locals  map[string]*store.LocalStore
	closers []func() error
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		locals:   make(map[string]*store.LocalStore),
	}
	rt.metrics = metrics.New(rt.registry, cfg.MetricsRoot)

	backend, err := rt.openShared()
	if err != nil {
		return nil, err
	}
	rt.shared = shareddb.NewWrapper(backend,
		reflog.New(log.With(slog.String("component", "reflog"))),
		rt.metrics)

	filter, err := cfg.Filter()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.manager = refguard.NewManager(rt.openLocalStore,
		refguard.WithEnabled(cfg.Enabled),
		refguard.WithSharedStore(rt.shared),
		refguard.WithResolver(cfg.Resolver()),
		refguard.WithProjectFilter(filter),
		refguard.WithMetrics(rt.metrics),
		refguard.WithLogger(log),
		refguard.WithIgnoredRefs(cfg.IgnoredRefs...))
	return rt, nil
}

func (rt *runtime) openShared() (shareddb.Store, error) {
	c := rt.cfg.Shared
	lock := shareddb.LockConfig{Timeout: c.LockTimeout}

	switch c.Backend {
	case config.BackendMemory:
		return shareddb.NewMemoryWithLockTimeout(lock.Timeout), nil
	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.Redis.Addr},
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		lock.TTL = c.Redis.LockTTL
		return shareddb.NewRedis(client, shareddb.RedisConfig{Prefix: c.Redis.Prefix, Lock: lock}), nil
	case config.BackendBadger:
		bc := shareddb.DefaultBadgerConfig(c.Badger.Path)
		if c.Badger.InMemory {
			bc = shareddb.InMemoryBadgerConfig()
		}
		bc.Lock.Timeout = lock.Timeout
		bc.Logger = rt.log.With(slog.String("component", "badger"))
		db, err := shareddb.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		return db, nil
	default:
		return shareddb.Noop{}, nil
	}
}

// openLocalStore opens the local store of project once per runtime.
func (rt *runtime) openLocalStore(project string) (refguard.LocalStore, error) {
	return rt.local(project)
}

func (rt *runtime) local(project string) (*store.LocalStore, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if s, ok := rt.locals[project]; ok {
		return s, nil
	}
	c := rt.cfg.Local
	s, err := store.NewLocalStore(c.Path, project, c.CacheSize, c.CompressionLevel, c.Compression)
	if err != nil {
		return nil, err
	}
	rt.locals[project] = s
	rt.closers = append(rt.closers, s.Close)
	return s, nil
}

// refs opens the ref store of the --project project through the manager.
func (rt *runtime) refs() (string, refguard.LocalStore, error) {
	project, err := getProject()
	if err != nil {
		return "", nil, err
	}
	refs, err := rt.manager.Open(project)
	if err != nil {
		return "", nil, err
	}
	return project, refs, nil
}

// Close releases stores in reverse order and writes the metrics textfile if
// one was requested.
func (rt *runtime) Close() error {
	var errs []error
	if path := viper.GetString("metrics_textfile"); path != "" {
		if err := prometheus.WriteToTextfile(path, rt.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// withRuntime runs fn with a runtime that is closed afterwards.
func withRuntime(fn func(rt *runtime) error) (err error) {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}
