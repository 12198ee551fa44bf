package refguard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aweris/refguard/internal/metrics"
)

// OpenFunc opens the local ref store of a project.
type OpenFunc func(project string) (LocalStore, error)

// Manager opens project ref stores, wrapping them in a RefDatabase when the
// shared ref database is enabled.
type Manager struct {
	open    OpenFunc
	opts    *Options
	shared  SharedStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewManager(open OpenFunc, opts ...Option) *Manager {
	o := applyOptions(opts)
	return &Manager{
		open:    open,
		opts:    o,
		shared:  o.Shared,
		metrics: o.Metrics,
		log:     o.Logger,
	}
}

// Enabled reports whether opened stores are validated.
func (m *Manager) Enabled() bool {
	return m.opts.Enabled
}

// Open returns the ref store of project. With validation disabled it is the
// raw local store.
func (m *Manager) Open(project string) (LocalStore, error) {
	if project == "" {
		return nil, ErrProjectRequired
	}
	local, err := m.open(project)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", project, err)
	}
	if !m.opts.Enabled {
		return local, nil
	}
	return NewRefDatabase(local, newValidator(project, local, m.opts)), nil
}

// Validator returns a validator for project over local, configured like the
// stores opened by m.
func (m *Manager) Validator(project string, local LocalStore) (*Validator, error) {
	if project == "" {
		return nil, ErrProjectRequired
	}
	return newValidator(project, local, m.opts), nil
}

// ProjectDeleted drops a deleted project from the shared store. A failure
// leaves stale refs behind, so it is counted as a split brain.
func (m *Manager) ProjectDeleted(ctx context.Context, project string) error {
	if project == "" {
		return ErrProjectRequired
	}
	m.log.InfoContext(ctx, "project deleted, cleaning up shared ref store",
		slog.String("project", project))

	if err := m.shared.Remove(ctx, project); err != nil {
		m.metrics.IncSplitBrain()
		m.log.ErrorContext(ctx, "project deleted locally but not from shared ref store",
			slog.String("project", project),
			slog.Any("error", err))
		return &SystemError{Op: "remove", Project: project, Err: err}
	}
	return nil
}
