// Package store implements the node-local ref storage layer.
//
// The Store interface is the narrow contract the validators consume. LocalStore
// is the filesystem implementation used by the CLI and the tests:
//   - loose refs as small files, one per ref
//   - a zstd-compressed packed-refs snapshot
//   - an LRU cache of resolved refs
package store

import "context"

// Store handles the refs of a single project.
type Store interface {
	// Ref returns the ref with the given name, or a zero Ref if it is absent.
	Ref(ctx context.Context, name string) (Ref, error)

	// Refs lists every ref whose name starts with prefix, sorted by name.
	Refs(ctx context.Context, prefix string) ([]Ref, error)

	// Update points a ref at a new object. Update, Delete and Batch write
	// through symbolic refs to the ref they point at; only Link rewrites a
	// symbolic ref itself.
	Update(ctx context.Context, u RefUpdate) (Result, error)

	// Delete removes a ref. A non-nil expectedOld must match its current value.
	Delete(ctx context.Context, name string, expectedOld *ObjectID) (Result, error)

	// Link makes name a symbolic ref to target.
	Link(ctx context.Context, name, target string) (Result, error)

	// Rename moves a ref to a new name.
	Rename(ctx context.Context, from, to string) (Result, error)

	// Batch executes commands, setting each command's Result. With atomic set
	// either every command applies or none does.
	Batch(ctx context.Context, cmds []*Command, atomic bool) error
}
