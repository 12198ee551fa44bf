// Package audit compares the refs of a local store with the values recorded
// in the shared store.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/refguard/internal/enforcement"
	"github.com/aweris/refguard/internal/shareddb"
	"github.com/aweris/refguard/internal/store"
)

const DefaultConcurrency = 4

type Status int

const (
	// InSync means both stores hold the same value.
	InSync Status = iota
	// Untracked means the shared store has never recorded the ref.
	Untracked
	// Diverged means the stores hold different values.
	Diverged
	// Deleted means the shared store recorded a delete the local store still
	// has the ref for.
	Deleted
)

func (s Status) String() string {
	switch s {
	case InSync:
		return "in-sync"
	case Untracked:
		return "untracked"
	case Diverged:
		return "diverged"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Finding is the audit outcome for one ref.
type Finding struct {
	Ref    string
	Local  store.ObjectID
	Shared string
	Status Status
}

type Report struct {
	Project  string
	Findings []Finding
}

// Count returns how many findings have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, f := range r.Findings {
		if f.Status == s {
			n++
		}
	}
	return n
}

// Consistent reports whether no ref diverged or was deleted in the shared
// store. Untracked refs are adopted on their next update and do not count.
func (r Report) Consistent() bool {
	return r.Count(Diverged) == 0 && r.Count(Deleted) == 0
}

type Option func(*Auditor)

func WithConcurrency(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithResolver skips refs whose policy is Ignored.
func WithResolver(r enforcement.Resolver) Option {
	return func(a *Auditor) {
		if r != nil {
			a.resolver = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) {
		if l != nil {
			a.log = l
		}
	}
}

// Auditor checks one project.
type Auditor struct {
	project     string
	local       store.Store
	shared      shareddb.Store
	resolver    enforcement.Resolver
	concurrency int
	log         *slog.Logger
}

func New(project string, local store.Store, shared shareddb.Store, opts ...Option) *Auditor {
	a := &Auditor{
		project:     project,
		local:       local,
		shared:      shared,
		resolver:    enforcement.Default{},
		concurrency: DefaultConcurrency,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run audits every local ref under prefix. Symbolic refs and ignored refs are
// skipped. The first shared store error cancels the remaining lookups.
func (a *Auditor) Run(ctx context.Context, prefix string) (Report, error) {
	refs, err := a.local.Refs(ctx, prefix)
	if err != nil {
		return Report{}, fmt.Errorf("list local refs: %w", err)
	}

	var mu sync.Mutex
	report := Report{Project: a.project}

	p := pool.New().WithMaxGoroutines(a.concurrency).WithContext(ctx).WithCancelOnError()

	for _, ref := range refs {
		if ref.Symbolic() || a.resolver.RefPolicy(a.project, ref.Name) == enforcement.Ignored {
			continue
		}
		ref := ref
		p.Go(func(ctx context.Context) error {
			f, err := a.check(ctx, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Findings = append(report.Findings, f)
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return Report{}, err
	}

	sort.Slice(report.Findings, func(i, j int) bool {
		return report.Findings[i].Ref < report.Findings[j].Ref
	})
	a.log.InfoContext(ctx, "audit finished",
		slog.String("project", a.project),
		slog.Int("refs", len(report.Findings)),
		slog.Int("diverged", report.Count(Diverged)),
		slog.Int("deleted", report.Count(Deleted)),
		slog.Int("untracked", report.Count(Untracked)))
	return report, nil
}

func (a *Auditor) check(ctx context.Context, ref store.Ref) (Finding, error) {
	value, ok, err := a.shared.Get(ctx, a.project, ref.Name)
	if err != nil {
		return Finding{}, fmt.Errorf("read shared ref %s: %w", ref.Name, err)
	}

	f := Finding{Ref: ref.Name, Local: ref.ID, Shared: value}
	switch {
	case !ok:
		f.Status = Untracked
	case value == string(ref.ID):
		f.Status = InSync
	case value == "":
		f.Status = Deleted
	default:
		f.Status = Diverged
	}
	if f.Status == Diverged || f.Status == Deleted {
		a.log.WarnContext(ctx, "ref out of sync with shared store",
			slog.String("project", a.project),
			slog.String("ref", ref.Name),
			slog.String("local", ref.ID.String()),
			slog.String("shared", value),
			slog.String("status", f.Status.String()))
	}
	return f, nil
}
