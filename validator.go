package refguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aweris/refguard/internal/enforcement"
	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/projects"
	"github.com/aweris/refguard/internal/shareddb"
)

// maxSymrefDepth bounds how many symbolic refs are followed to reach a leaf.
const maxSymrefDepth = 5

// UpdateFunc applies a single ref mutation to the local store.
type UpdateFunc func(ctx context.Context) (Result, error)

// RollbackFunc restores a ref to previous after a mutation the shared store
// did not accept.
type RollbackFunc func(ctx context.Context, previous ObjectID) (Result, error)

// Validator runs ref mutations of one project through the shared store.
// It holds no per-call state and is safe for concurrent use.
type Validator struct {
	project  string
	local    LocalStore
	shared   SharedStore
	resolver enforcement.Resolver
	filter   *projects.Filter
	metrics  *metrics.Metrics
	log      *slog.Logger
	ignored  map[string]struct{}
}

// NewValidator returns a validator for project reading current values from
// local.
func NewValidator(project string, local LocalStore, opts ...Option) (*Validator, error) {
	if project == "" {
		return nil, ErrProjectRequired
	}
	return newValidator(project, local, applyOptions(opts)), nil
}

func newValidator(project string, local LocalStore, o *Options) *Validator {
	ignored := make(map[string]struct{}, len(o.IgnoredRefs))
	for _, ref := range o.IgnoredRefs {
		ignored[ref] = struct{}{}
	}
	return &Validator{
		project:  project,
		local:    local,
		shared:   o.Shared,
		resolver: o.Resolver,
		filter:   o.Filter,
		metrics:  o.Metrics,
		log:      o.Logger.With(slog.String("project", project)),
		ignored:  ignored,
	}
}

func (v *Validator) Project() string {
	return v.project
}

// ExecuteUpdate applies a single ref mutation under shared-store validation.
//
// Refs that are ignored, projects out of scope and projects whose policy is
// Ignored call apply directly. Otherwise the ref is locked in the shared
// store, the local value is reconciled with it, apply runs, and on success the
// new value is recorded with a compare-and-put. If that fails the mutation is
// undone with rollback and the result becomes LockFailure.
//
// A mutation through a symbolic ref is validated against the ref it points
// at, which is the ref the local store writes.
func (v *Validator) ExecuteUpdate(ctx context.Context, u RefUpdate, apply UpdateFunc, rollback RollbackFunc) (Result, error) {
	if v.bypassRef(u.Name) || v.bypassProject() {
		return apply(ctx)
	}

	cur, err := v.leafRef(ctx, u.Name)
	if err != nil {
		return NotAttempted, err
	}
	name := cur.Name
	if name != u.Name && v.bypassRef(name) {
		return apply(ctx)
	}

	scope := newLockScope(v.log)
	defer scope.closeAll(ctx)

	pair := NewRefPair(cur, u.NewID)
	policy := v.resolver.RefPolicy(v.project, name)
	if policy != enforcement.Ignored {
		latest, vd, err := v.reconcile(ctx, pair, scope)
		if err != nil {
			if isLockError(err) {
				return LockFailure, err
			}
			return NotAttempted, err
		}
		pair = latest
		if err := v.softFail(ctx, vd, policy, name); err != nil {
			return LockFailure, err
		}
	}

	result, err := apply(ctx)
	if err != nil || !result.Success() || policy == enforcement.Ignored {
		return result, err
	}

	vd := v.propagate(ctx, pair)
	if vd.ok() {
		return result, nil
	}
	return v.rollbackSplitBrain(ctx, pair, vd, policy, rollback)
}

// rollbackSplitBrain undoes a mutation the shared store rejected.
func (v *Validator) rollbackSplitBrain(ctx context.Context, pair RefPair, vd verdict, policy enforcement.Policy, rollback RollbackFunc) (Result, error) {
	v.metrics.IncSplitBrain()
	v.log.ErrorContext(ctx, "local ref update not recorded in shared store, rolling back",
		slog.String("ref", pair.Name()),
		slog.String("verdict", vd.kind.String()),
		slog.String("previous", pair.CompareRef.ID.String()),
		slog.String("new", pair.PutValue.String()),
		slog.Any("error", vd.err))

	result, rbErr := rollback(ctx, pair.CompareRef.ID)
	if rbErr == nil && !result.Success() {
		rbErr = fmt.Errorf("rollback of %s returned %s", pair.Name(), result)
	}
	if rbErr == nil {
		result = LockFailure
	}

	sbErr := &SplitBrainError{
		Project:     v.project,
		Refs:        []string{pair.Name()},
		Cause:       vd.err,
		RollbackErr: rbErr,
	}
	if policy.Fatal() {
		return result, sbErr
	}
	if rbErr != nil {
		v.log.ErrorContext(ctx, "rollback failed, local and shared store diverge",
			slog.String("ref", pair.Name()),
			slog.Any("error", rbErr))
		return result, &SystemError{Op: "rollback", Project: v.project, Ref: pair.Name(), Err: sbErr}
	}
	v.log.WarnContext(ctx, "split brain recovered by rollback",
		slog.String("ref", pair.Name()),
		slog.String("policy", policy.String()))
	return result, nil
}

func (v *Validator) bypassRef(ref string) bool {
	if _, ok := v.ignored[ref]; ok {
		v.log.Debug("ref ignored by caller", slog.String("ref", ref))
		return true
	}
	return false
}

func (v *Validator) bypassProject() bool {
	if !v.filter.Matches(v.project) {
		v.log.Debug("project not in shared store scope")
		return true
	}
	if v.resolver.ProjectPolicy(v.project) == enforcement.Ignored {
		v.log.Debug("project policy is ignored")
		return true
	}
	return false
}

// skipRef reports whether ref is left out of reconciliation and propagation.
func (v *Validator) skipRef(ref string) bool {
	if _, ok := v.ignored[ref]; ok {
		return true
	}
	return v.resolver.RefPolicy(v.project, ref) == enforcement.Ignored
}

func (v *Validator) currentRef(ctx context.Context, name string) (Ref, error) {
	ref, err := v.local.Ref(ctx, name)
	if err != nil {
		return Ref{}, fmt.Errorf("read local ref %s: %w", name, err)
	}
	if ref.Name == "" {
		return absentRef(name), nil
	}
	return ref, nil
}

// leafRef reads name from the local store, following symbolic refs to the
// ref a write of name changes.
func (v *Validator) leafRef(ctx context.Context, name string) (Ref, error) {
	ref, err := v.currentRef(ctx, name)
	for depth := 0; err == nil && ref.Symbolic(); depth++ {
		if depth == maxSymrefDepth {
			return Ref{}, fmt.Errorf("symbolic ref %s nested too deeply", name)
		}
		ref, err = v.currentRef(ctx, ref.Target)
	}
	return ref, err
}

func (v *Validator) currentRefPair(ctx context.Context, name string, put ObjectID) (RefPair, error) {
	ref, err := v.currentRef(ctx, name)
	if err != nil {
		return RefPair{}, err
	}
	return NewRefPair(ref, put), nil
}

// reconcile locks the ref, re-reads the local value and compares it with the
// shared store. The returned error aborts the call regardless of policy; the
// verdict is subject to the policy.
func (v *Validator) reconcile(ctx context.Context, pair RefPair, scope *lockScope) (RefPair, verdict, error) {
	name := pair.Name()
	err := scope.acquireIfAbsent(ctx, shareddb.LockKey(v.project, name), func(ctx context.Context) (Lock, error) {
		return v.shared.LockRef(ctx, v.project, name)
	})
	if err != nil {
		return pair, okVerdict, &LockError{Project: v.project, Ref: name, Err: err}
	}

	latest, err := v.currentRefPair(ctx, name, pair.PutValue)
	if err != nil {
		return pair, okVerdict, err
	}

	upToDate, err := v.shared.IsUpToDate(ctx, v.project, name, string(latest.CompareRef.ID))
	if err != nil {
		return latest, systemError("is up to date", v.project, name, err), nil
	}
	if upToDate {
		return latest, okVerdict, nil
	}

	diverged := latest.CompareRef.ID == ZeroID
	if !diverged {
		diverged, err = v.shared.Exists(ctx, v.project, name)
		if err != nil {
			return latest, systemError("exists", v.project, name, err), nil
		}
	}
	if !diverged {
		return latest, okVerdict, nil
	}

	v.metrics.IncSplitBrainPrevented()
	return latest, verdict{
		kind: verdictOutOfSync,
		err:  &OutOfSyncError{Project: v.project, Ref: name, Local: latest.CompareRef.ID},
	}, nil
}

// softFail returns the verdict's error under a fatal policy and logs it
// otherwise.
func (v *Validator) softFail(ctx context.Context, vd verdict, policy enforcement.Policy, ref string) error {
	if vd.ok() {
		return nil
	}
	if policy.Fatal() {
		v.log.WarnContext(ctx, "ref update refused",
			slog.String("ref", ref),
			slog.String("verdict", vd.kind.String()),
			slog.Any("error", vd.err))
		return vd.err
	}
	v.log.WarnContext(ctx, "validation failure tolerated by enforcement policy",
		slog.String("ref", ref),
		slog.String("policy", policy.String()),
		slog.String("verdict", vd.kind.String()),
		slog.Any("error", vd.err))
	return nil
}

// propagate records the new value of pair in the shared store.
func (v *Validator) propagate(ctx context.Context, pair RefPair) verdict {
	name := pair.Name()
	ok, err := v.shared.CompareAndPut(ctx, v.project, name, string(pair.CompareRef.ID), string(pair.PutValue))
	if err != nil {
		return systemError("compare and put", v.project, name, err)
	}
	if !ok {
		return verdict{
			kind: verdictSplitBrain,
			err: fmt.Errorf("shared store rejected %s %s -> %s",
				name, pair.CompareRef.ID, pair.PutValue),
		}
	}
	return okVerdict
}

func systemError(op, project, ref string, err error) verdict {
	return verdict{
		kind: verdictSystemError,
		err:  &SystemError{Op: op, Project: project, Ref: ref, Err: err},
	}
}

func isLockError(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}
