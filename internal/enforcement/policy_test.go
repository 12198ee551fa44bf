package enforcement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsIgnoredByDefault(t *testing.T) {
	tests := []struct {
		ref     string
		ignored bool
	}{
		{"", true},
		{"refs/draft-comments/5/1", true},
		{"refs/changes/01/1/1", true},
		{"refs/changes/01/1/meta", false},
		{"refs/cache-automerge/aa/bbbb", true},
		{"refs/heads/main", false},
		{"refs/meta/config", false},
		{"refs/sequences/changes", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.ignored, IsIgnoredByDefault(tt.ref))
		})
	}
}

func TestDefault(t *testing.T) {
	var r Resolver = Default{}

	assert.Equal(t, Required, r.ProjectPolicy("any"))
	assert.Equal(t, Required, r.RefPolicy("any", "refs/heads/main"))
	assert.Equal(t, Ignored, r.RefPolicy("any", "refs/draft-comments/5/1"))
	assert.Equal(t, Required, r.RefPolicy("any", "refs/changes/01/1/meta"))
}

func TestParsePolicy(t *testing.T) {
	for _, p := range Policies {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePolicy(" desired ")
	require.NoError(t, err)
	assert.Equal(t, Desired, got)

	_, err = ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestPolicyFatal(t *testing.T) {
	assert.True(t, Required.Fatal())
	assert.False(t, Desired.Fatal())
	assert.False(t, Ignored.Fatal())
}
