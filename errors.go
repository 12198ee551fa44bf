package refguard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOutOfSync       = errors.New("refguard: local ref out of sync with shared store")
	ErrSplitBrain      = errors.New("refguard: split brain")
	ErrLock            = errors.New("refguard: shared lock failed")
	ErrSystem          = errors.New("refguard: shared store failure")
	ErrResolution      = errors.New("refguard: cannot resolve ref update")
	ErrProjectRequired = errors.New("refguard: project name is required")
)

// OutOfSyncError reports a local ref that disagrees with the value recorded
// in the shared store.
type OutOfSyncError struct {
	Project string
	Ref     string
	Local   ObjectID
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("refguard: project %s ref %s at %s is out of sync with shared store", e.Project, e.Ref, e.Local)
}

func (e *OutOfSyncError) Is(target error) bool {
	return target == ErrOutOfSync
}

// SplitBrainError reports a local mutation the shared store did not accept.
// RollbackErr is set when restoring the local refs failed too; the error then
// also matches ErrSystem.
type SplitBrainError struct {
	Project     string
	Refs        []string
	Cause       error
	RollbackErr error
}

func (e *SplitBrainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "refguard: split brain on project %s refs [%s]", e.Project, strings.Join(e.Refs, ", "))
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.RollbackErr != nil {
		fmt.Fprintf(&b, "; rollback failed: %v", e.RollbackErr)
	}
	return b.String()
}

func (e *SplitBrainError) Is(target error) bool {
	return target == ErrSplitBrain || (target == ErrSystem && e.RollbackErr != nil)
}

func (e *SplitBrainError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Cause, e.RollbackErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// LockError reports a shared lock that could not be acquired.
type LockError struct {
	Project string
	Ref     string
	Err     error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("refguard: lock %s-%s: %v", e.Project, e.Ref, e.Err)
}

func (e *LockError) Is(target error) bool { return target == ErrLock }
func (e *LockError) Unwrap() error        { return e.Err }

// SystemError reports a shared store failure other than a lock or a conflict.
type SystemError struct {
	Op      string
	Project string
	Ref     string
	Err     error
}

func (e *SystemError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("refguard: %s on project %s: %v", e.Op, e.Project, e.Err)
	}
	return fmt.Sprintf("refguard: %s on project %s ref %s: %v", e.Op, e.Project, e.Ref, e.Err)
}

func (e *SystemError) Is(target error) bool { return target == ErrSystem }
func (e *SystemError) Unwrap() error        { return e.Err }

// ResolutionError lists the batch commands whose ref pair could not be
// built. Err is the first cause.
type ResolutionError struct {
	Project string
	Refs    []string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("refguard: cannot resolve refs [%s] on project %s: %v", strings.Join(e.Refs, ", "), e.Project, e.Err)
}

func (e *ResolutionError) Is(target error) bool { return target == ErrResolution }
func (e *ResolutionError) Unwrap() error        { return e.Err }
