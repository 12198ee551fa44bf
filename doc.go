// Package refguard keeps the refs of a node in agreement with a shared,
// cluster-wide ref store so that no node can diverge from the others
// (split brain).
//
// Every ref mutation on a node goes through a Validator. The validator takes
// the cluster lock for the ref, checks that the local value still matches the
// shared store, lets the local store apply the change and finally records the
// new value in the shared store with a compare-and-put. When the shared store
// refuses the new value the local change is rolled back.
//
// How strictly this is enforced is decided per project and per ref by an
// enforcement.Resolver: Ignored refs bypass the shared store, Desired refs are
// validated but never fail the caller, Required refs fail with a typed error.
//
// Basic usage:
//
//	local, _ := store.NewLocalStore(dir, "demo", 1024, 2, true)
//	v, _ := refguard.NewValidator("demo", local,
//	    refguard.WithSharedStore(shared),
//	    refguard.WithResolver(enforcement.Default{}),
//	)
//	db := refguard.NewRefDatabase(local, v)
//
//	// Validated single-ref update
//	res, err := db.Update(ctx, refguard.RefUpdate{Name: "refs/heads/main", NewID: id})
//	if errors.Is(err, refguard.ErrOutOfSync) {
//	    // another node moved the ref first
//	}
//
//	// Validated batch
//	err = db.NewBatchUpdate().
//	    AddCommand(refguard.NewCommand("refs/heads/dev", refguard.ZeroID, id)).
//	    Execute(ctx)
//
// With a Manager, repositories are wrapped on open and project deletions are
// propagated:
//
//	m := refguard.NewManager(openLocal, refguard.WithEnabled(true), refguard.WithSharedStore(shared))
//	db, _ := m.Open("demo")
//	_ = m.ProjectDeleted(ctx, "demo")
package refguard
