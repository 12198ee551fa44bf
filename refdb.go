package refguard

import (
	"context"
	"fmt"
)

// RefDatabase wraps a LocalStore so that every mutation is validated against
// the shared store. Reads, links and renames pass straight through.
type RefDatabase struct {
	local     LocalStore
	validator *Validator
}

var _ LocalStore = (*RefDatabase)(nil)

func NewRefDatabase(local LocalStore, validator *Validator) *RefDatabase {
	return &RefDatabase{local: local, validator: validator}
}

// Unwrap returns the underlying local store.
func (db *RefDatabase) Unwrap() LocalStore {
	return db.local
}

func (db *RefDatabase) Ref(ctx context.Context, name string) (Ref, error) {
	return db.local.Ref(ctx, name)
}

func (db *RefDatabase) Refs(ctx context.Context, prefix string) ([]Ref, error) {
	return db.local.Refs(ctx, prefix)
}

func (db *RefDatabase) Link(ctx context.Context, name, target string) (Result, error) {
	return db.local.Link(ctx, name, target)
}

func (db *RefDatabase) Rename(ctx context.Context, from, to string) (Result, error) {
	return db.local.Rename(ctx, from, to)
}

func (db *RefDatabase) Update(ctx context.Context, u RefUpdate) (Result, error) {
	return db.validator.ExecuteUpdate(ctx, u,
		func(ctx context.Context) (Result, error) {
			return db.local.Update(ctx, u)
		},
		db.restore(u.Name))
}

// ForceUpdate updates a ref regardless of its current value.
func (db *RefDatabase) ForceUpdate(ctx context.Context, name string, id ObjectID) (Result, error) {
	return db.Update(ctx, RefUpdate{Name: name, NewID: id, Force: true})
}

func (db *RefDatabase) Delete(ctx context.Context, name string, expectedOld *ObjectID) (Result, error) {
	return db.validator.ExecuteUpdate(ctx, RefUpdate{Name: name, NewID: ZeroID},
		func(ctx context.Context) (Result, error) {
			return db.local.Delete(ctx, name, expectedOld)
		},
		db.restore(name))
}

// restore returns the rollback that forces name back to its previous value.
func (db *RefDatabase) restore(name string) RollbackFunc {
	return func(ctx context.Context, previous ObjectID) (Result, error) {
		return db.local.Update(ctx, RefUpdate{Name: name, NewID: previous, Force: true})
	}
}

// Batch executes cmds through the batch validator.
func (db *RefDatabase) Batch(ctx context.Context, cmds []*Command, atomic bool) error {
	return db.validator.ExecuteBatch(ctx, cmds,
		func(ctx context.Context, cmds []*Command) error {
			return db.local.Batch(ctx, cmds, atomic)
		},
		func(ctx context.Context, inverse []*Command) error {
			return applyAll(ctx, db.local, inverse)
		})
}

// applyAll runs cmds as an atomic local batch and fails unless every command
// applied.
func applyAll(ctx context.Context, local LocalStore, cmds []*Command) error {
	if err := local.Batch(ctx, cmds, true); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if cmd.Result != CmdOK {
			return fmt.Errorf("rollback of %s: %s %s", cmd.RefName, cmd.Result, cmd.Message)
		}
	}
	return nil
}

// BatchUpdate collects commands for one validated batch. The inverse of each
// command is recorded as it is added and replayed if the shared store rejects
// the batch.
type BatchUpdate struct {
	db       *RefDatabase
	cmds     []*Command
	rollback []*Command
	atomic   bool
}

func (db *RefDatabase) NewBatchUpdate() *BatchUpdate {
	return &BatchUpdate{db: db, atomic: true}
}

// SetAtomic controls whether the local store applies the batch all or
// nothing. Batches are atomic by default.
func (b *BatchUpdate) SetAtomic(atomic bool) *BatchUpdate {
	b.atomic = atomic
	return b
}

func (b *BatchUpdate) AddCommand(cmds ...*Command) *BatchUpdate {
	for _, cmd := range cmds {
		b.cmds = append(b.cmds, cmd)
		b.rollback = append(b.rollback, cmd.Inverse())
	}
	return b
}

func (b *BatchUpdate) Commands() []*Command {
	return b.cmds
}

// RollbackCommands returns the inverse commands recorded so far.
func (b *BatchUpdate) RollbackCommands() []*Command {
	return b.rollback
}

func (b *BatchUpdate) Execute(ctx context.Context) error {
	return b.db.validator.ExecuteBatch(ctx, b.cmds,
		func(ctx context.Context, cmds []*Command) error {
			return b.db.local.Batch(ctx, cmds, b.atomic)
		},
		func(ctx context.Context, _ []*Command) error {
			undo := make([]*Command, len(b.rollback))
			for i, cmd := range b.rollback {
				undo[i] = NewCommand(cmd.RefName, cmd.OldID, cmd.NewID)
			}
			return applyAll(ctx, b.db.local, undo)
		})
}
