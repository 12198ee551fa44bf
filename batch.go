package refguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aweris/refguard/internal/enforcement"
)

// BatchFunc applies every command to the local store, setting each command's
// Result.
type BatchFunc func(ctx context.Context, cmds []*Command) error

// BatchRollbackFunc applies the inverse of a batch the shared store did not
// accept.
type BatchRollbackFunc func(ctx context.Context, inverse []*Command) error

// ExecuteBatch applies cmds as one local batch under shared-store validation.
//
// The bypass decision is taken once for the whole batch, at project level.
// Every command must resolve to a ref pair before anything is locked. A ref
// found out of sync under a fatal policy aborts the batch with every command
// marked CmdLockFailure. When all commands succeed locally their new values
// are recorded in the shared store; if any of those fails the inverse batch
// is passed to rollback, the values already recorded for the batch are put
// back, and every command is marked CmdLockFailure. Batches
// with mixed local results are returned as they are.
func (v *Validator) ExecuteBatch(ctx context.Context, cmds []*Command, apply BatchFunc, rollback BatchRollbackFunc) error {
	if v.bypassProject() {
		return apply(ctx, cmds)
	}
	if len(cmds) == 0 {
		return nil
	}

	pairs, err := v.batchRefPairs(ctx, cmds)
	if err != nil {
		return err
	}

	scope := newLockScope(v.log)
	defer scope.closeAll(ctx)

	for i, pair := range pairs {
		if v.skipRef(pair.Name()) {
			continue
		}
		latest, vd, err := v.reconcile(ctx, pair, scope)
		if err != nil {
			setResults(cmds, CmdLockFailure, err.Error())
			return err
		}
		pairs[i] = latest
		if err := v.softFail(ctx, vd, v.resolver.RefPolicy(v.project, pair.Name()), pair.Name()); err != nil {
			setResults(cmds, CmdLockFailure, err.Error())
			return err
		}
	}

	if err := apply(ctx, cmds); err != nil {
		return err
	}
	if !allOK(cmds) {
		v.log.DebugContext(ctx, "batch not fully applied locally, shared store left untouched")
		return nil
	}

	var recorded []RefPair
	for _, pair := range pairs {
		if v.skipRef(pair.Name()) {
			continue
		}
		vd := v.propagate(ctx, pair)
		if vd.ok() {
			recorded = append(recorded, pair)
			continue
		}
		return v.rollbackBatch(ctx, cmds, pair, vd, recorded, rollback)
	}
	return nil
}

// batchRefPairs maps every command to a ref pair. Any failure aborts with a
// ResolutionError naming every unresolvable ref.
func (v *Validator) batchRefPairs(ctx context.Context, cmds []*Command) ([]RefPair, error) {
	pairs := make([]RefPair, len(cmds))
	var failed []string
	var first error

	for i, cmd := range cmds {
		pairs[i] = v.commandRefPair(ctx, cmd)
		if pairs[i].Failed() {
			failed = append(failed, cmd.RefName)
			if first == nil {
				first = pairs[i].Err
			}
		}
	}
	if len(failed) > 0 {
		return nil, &ResolutionError{Project: v.project, Refs: failed, Err: first}
	}
	return pairs, nil
}

// commandRefPair pairs the ref cmd writes, the leaf of a symbolic ref, with
// its new value.
func (v *Validator) commandRefPair(ctx context.Context, cmd *Command) RefPair {
	switch cmd.Type {
	case Create, Update, UpdateNonFastForward, Delete:
	default:
		return FailedRefPair(absentRef(cmd.RefName),
			fmt.Errorf("unsupported command type %s for %s", cmd.Type, cmd.RefName))
	}

	ref, err := v.leafRef(ctx, cmd.RefName)
	if err != nil {
		return FailedRefPair(absentRef(cmd.RefName), err)
	}
	switch cmd.Type {
	case Create:
		return NewRefPair(absentRef(ref.Name), cmd.NewID)
	case Delete:
		return NewRefPair(ref, ZeroID)
	default:
		return NewRefPair(ref, cmd.NewID)
	}
}

func (v *Validator) rollbackBatch(ctx context.Context, cmds []*Command, failed RefPair, vd verdict, recorded []RefPair, rollback BatchRollbackFunc) error {
	v.metrics.IncSplitBrain()
	v.log.ErrorContext(ctx, "batch not recorded in shared store, rolling back",
		slog.String("ref", failed.Name()),
		slog.String("verdict", vd.kind.String()),
		slog.Int("commands", len(cmds)),
		slog.Any("error", vd.err))

	inverse := make([]*Command, len(cmds))
	for i, cmd := range cmds {
		inverse[i] = cmd.Inverse()
	}
	rbErr := rollback(ctx, inverse)
	rbErr = errors.Join(rbErr, v.unrecord(ctx, recorded))
	setResults(cmds, CmdLockFailure, "shared store rejected update")

	refs := make([]string, len(cmds))
	for i, cmd := range cmds {
		refs[i] = cmd.RefName
	}
	sbErr := &SplitBrainError{Project: v.project, Refs: refs, Cause: vd.err, RollbackErr: rbErr}

	if v.batchPolicy(cmds).Fatal() {
		return sbErr
	}
	if rbErr != nil {
		v.log.ErrorContext(ctx, "batch rollback failed, local and shared store diverge",
			slog.Any("error", rbErr))
		return &SystemError{Op: "rollback", Project: v.project, Err: sbErr}
	}
	return nil
}

// unrecord puts back the previous shared values of refs recorded before the
// batch failed, newest first. The refs are still locked.
func (v *Validator) unrecord(ctx context.Context, recorded []RefPair) error {
	var errs []error
	for i := len(recorded) - 1; i >= 0; i-- {
		pair := recorded[i]
		ok, err := v.shared.CompareAndPut(ctx, v.project, pair.Name(),
			string(pair.PutValue), string(pair.CompareRef.ID))
		if err == nil && !ok {
			err = fmt.Errorf("shared value of %s changed", pair.Name())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore shared %s: %w", pair.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// batchPolicy is the strictest policy among the validated refs of a batch.
func (v *Validator) batchPolicy(cmds []*Command) enforcement.Policy {
	policy := enforcement.Ignored
	for _, cmd := range cmds {
		if v.skipRef(cmd.RefName) {
			continue
		}
		if p := v.resolver.RefPolicy(v.project, cmd.RefName); p > policy {
			policy = p
		}
	}
	return policy
}

func setResults(cmds []*Command, r CommandResult, msg string) {
	for _, cmd := range cmds {
		cmd.SetResult(r, msg)
	}
}

func allOK(cmds []*Command) bool {
	for _, cmd := range cmds {
		if cmd.Result != CmdOK {
			return false
		}
	}
	return true
}
