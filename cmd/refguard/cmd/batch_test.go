package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/refguard"
)

func TestParseBatch(t *testing.T) {
	a := strings.Repeat("a", 40)
	b := strings.Repeat("b", 40)

	cmds, err := parseBatch(strings.NewReader(`
# seed the release branch
0 ` + a + ` refs/heads/release
` + a + ` ` + b + ` refs/heads/main
` + b + ` 0 refs/heads/old
`))
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, refguard.Create, cmds[0].Type)
	assert.Equal(t, refguard.Update, cmds[1].Type)
	assert.Equal(t, refguard.Delete, cmds[2].Type)
	assert.Equal(t, "refs/heads/main", cmds[1].RefName)
	assert.Equal(t, refguard.ObjectID(b), cmds[1].NewID)
}

func TestParseBatch_Errors(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"empty", "# nothing\n", "no commands"},
		{"missing field", "0 refs/heads/main\n", "line 1"},
		{"bad id", "0 xyz refs/heads/main\n", "line 1"},
		{"both zero", "\n0 0 refs/heads/main\n", "line 2: old and new id are both zero"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBatch(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
