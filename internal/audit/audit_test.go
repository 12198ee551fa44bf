package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/refguard/internal/logging"
	"github.com/aweris/refguard/internal/shareddb"
	"github.com/aweris/refguard/internal/store"
)

const (
	idA store.ObjectID = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idB store.ObjectID = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	idC store.ObjectID = "cccccccccccccccccccccccccccccccccccccccc"
)

func newLocal(t *testing.T, refs map[string]store.ObjectID) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(t.TempDir(), "demo", 0, 2, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	for name, id := range refs {
		_, err := s.Update(ctx, store.RefUpdate{Name: name, NewID: id})
		require.NoError(t, err)
	}
	return s
}

type failingGet struct {
	shareddb.Noop
}

func (failingGet) Get(context.Context, string, string) (string, bool, error) {
	return "", false, shareddb.ErrUnavailable
}

func TestAuditor_Run(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t, map[string]store.ObjectID{
		"refs/heads/main":                  idA,
		"refs/heads/dev":                   idB,
		"refs/heads/feature":               idC,
		"refs/heads/old":                   idA,
		"refs/draft-comments/01/1/1000000": idB,
	})
	_, err := local.Link(ctx, "HEAD", "refs/heads/main")
	require.NoError(t, err)

	shared := shareddb.NewMemory()
	shared.Put("demo", "refs/heads/main", string(idA))
	shared.Put("demo", "refs/heads/dev", string(idC))
	shared.Put("demo", "refs/heads/old", "")

	report, err := New("demo", local, shared, WithConcurrency(2), WithLogger(logging.Discard())).Run(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, "demo", report.Project)
	assert.Equal(t, []Finding{
		{Ref: "refs/heads/dev", Local: idB, Shared: string(idC), Status: Diverged},
		{Ref: "refs/heads/feature", Local: idC, Status: Untracked},
		{Ref: "refs/heads/main", Local: idA, Shared: string(idA), Status: InSync},
		{Ref: "refs/heads/old", Local: idA, Status: Deleted},
	}, report.Findings)
	assert.False(t, report.Consistent())
	assert.Equal(t, 1, report.Count(Diverged))
	assert.Equal(t, 1, report.Count(Untracked))
}

func TestAuditor_Prefix(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t, map[string]store.ObjectID{
		"refs/heads/main": idA,
		"refs/tags/v1":    idB,
	})
	shared := shareddb.NewMemory()
	shared.Put("demo", "refs/heads/main", string(idA))

	report, err := New("demo", local, shared, WithLogger(logging.Discard())).Run(ctx, "refs/heads/")
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.True(t, report.Consistent())
}

func TestAuditor_SharedFailure(t *testing.T) {
	ctx := context.Background()
	refs := make(map[string]store.ObjectID)
	for i := 0; i < 10; i++ {
		refs[fmt.Sprintf("refs/heads/b%d", i)] = idA
	}
	local := newLocal(t, refs)

	_, err := New("demo", local, failingGet{}, WithLogger(logging.Discard())).Run(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shareddb.ErrUnavailable))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "in-sync", InSync.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
