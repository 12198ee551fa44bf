package refguard

import (
	"log/slog"

	"github.com/aweris/refguard/internal/enforcement"
	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/projects"
	"github.com/aweris/refguard/internal/shareddb"
)

// Options configures validators and the manager.
type Options struct {
	Enabled     bool
	Shared      SharedStore
	Resolver    enforcement.Resolver
	Filter      *projects.Filter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	IgnoredRefs []string
}

// Option is a functional option for NewValidator and NewManager.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Shared:   shareddb.Noop{},
		Resolver: enforcement.Default{},
		Filter:   projects.MustFilter(),
		Metrics:  metrics.New(nil, ""),
		Logger:   slog.Default(),
	}
}

func applyOptions(opts []Option) *Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithEnabled switches shared-store validation on for repositories opened by
// a Manager. Validators built directly are always enabled.
func WithEnabled(enabled bool) Option {
	return func(o *Options) { o.Enabled = enabled }
}

// WithSharedStore sets the shared ref store. Nil keeps the no-op store.
func WithSharedStore(s SharedStore) Option {
	return func(o *Options) {
		if s != nil {
			o.Shared = s
		}
	}
}

// WithResolver sets the enforcement policy resolver.
func WithResolver(r enforcement.Resolver) Option {
	return func(o *Options) {
		if r != nil {
			o.Resolver = r
		}
	}
}

// WithProjectFilter limits validation to the projects f matches.
func WithProjectFilter(f *projects.Filter) Option {
	return func(o *Options) {
		if f != nil {
			o.Filter = f
		}
	}
}

// WithMetrics sets where split-brain counters are recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		if m != nil {
			o.Metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithIgnoredRefs names refs that bypass validation entirely.
func WithIgnoredRefs(refs ...string) Option {
	return func(o *Options) { o.IgnoredRefs = append(o.IgnoredRefs, refs...) }
}
