package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/refguard/internal/enforcement"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "refguard", cfg.MetricsRoot)
	assert.Equal(t, BackendNoop, cfg.Shared.Backend)
	assert.Equal(t, 5*time.Second, cfg.Shared.LockTimeout)
	assert.Equal(t, 4, cfg.Audit.Concurrency)
	assert.Equal(t, 2, cfg.Local.CompressionLevel)
	assert.True(t, cfg.Local.Compression)
	assert.NotEmpty(t, cfg.Local.Path)
	assert.Empty(t, cfg.Rules)
	assert.IsType(t, enforcement.Default{}, cfg.Resolver())

	f, err := cfg.Filter()
	require.NoError(t, err)
	assert.True(t, f.Matches("any/project"))
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(newViper(t, `
ref_database:
  enabled: true
  metrics_root: gerrit
  ignored_refs:
    - refs/heads/scratch
  enforcement_rules:
    desired:
      - "team/*"
    ignored:
      - "sandbox"
      - "team/web:refs/heads/tmp"
projects:
  pattern:
    - "^team/.*"
    - "infra"
shared_store:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
    lock_ttl: 10s
local_store:
  path: /var/lib/refguard
  compression_level: 3
audit:
  concurrency: 8
log:
  level: debug
  json: true
`))
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "gerrit", cfg.MetricsRoot)
	assert.Equal(t, []string{"refs/heads/scratch"}, cfg.IgnoredRefs)
	assert.Equal(t, BackendRedis, cfg.Shared.Backend)
	assert.Equal(t, "redis:6379", cfg.Shared.Redis.Addr)
	assert.Equal(t, 2, cfg.Shared.Redis.DB)
	assert.Equal(t, 10*time.Second, cfg.Shared.Redis.LockTTL)
	assert.Equal(t, "/var/lib/refguard", cfg.Local.Path)
	assert.Equal(t, 3, cfg.Local.CompressionLevel)
	assert.Equal(t, 8, cfg.Audit.Concurrency)
	assert.Equal(t, "debug", cfg.Logging().Level)
	assert.True(t, cfg.Logging().JSON)

	assert.Equal(t, []string{"team/*"}, cfg.Rules[enforcement.Desired])
	assert.Equal(t, []string{"sandbox", "team/web:refs/heads/tmp"}, cfg.Rules[enforcement.Ignored])

	r := cfg.Resolver()
	assert.Equal(t, enforcement.Ignored, r.ProjectPolicy("sandbox"))
	assert.Equal(t, enforcement.Required, r.ProjectPolicy("infra"))
	assert.Equal(t, enforcement.Ignored, r.RefPolicy("team/web", "refs/heads/tmp"))
	assert.Equal(t, enforcement.Required, r.RefPolicy("team/web", "refs/heads/main"))

	f, err := cfg.Filter()
	require.NoError(t, err)
	assert.True(t, f.Matches("team/web"))
	assert.True(t, f.Matches("infra"))
	assert.False(t, f.Matches("infra/tools"))
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("REFGUARD_SHARED_STORE_BACKEND", "Badger")
	t.Setenv("REFGUARD_SHARED_STORE_BADGER_IN_MEMORY", "true")
	t.Setenv("REFGUARD_REF_DATABASE_ENABLED", "true")

	v := newViper(t, "")
	BindEnv(v)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, BackendBadger, cfg.Shared.Backend)
	assert.True(t, cfg.Shared.Badger.InMemory)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown backend",
			yaml: "shared_store:\n  backend: etcd\n",
			want: `unknown backend "etcd"`,
		},
		{
			name: "redis without address",
			yaml: "shared_store:\n  backend: redis\n  redis:\n    addr: \"\"\n",
			want: "shared_store.redis.addr is required",
		},
		{
			name: "badger without path",
			yaml: "shared_store:\n  backend: badger\n  badger:\n    path: \"\"\n",
			want: "shared_store.badger.path is required",
		},
		{
			name: "unknown policy",
			yaml: "ref_database:\n  enforcement_rules:\n    strict:\n      - foo\n",
			want: `unknown policy "strict"`,
		},
		{
			name: "invalid project pattern",
			yaml: "projects:\n  pattern:\n    - \"^team/(\"\n",
			want: "invalid pattern",
		},
		{
			name: "zero concurrency",
			yaml: "audit:\n  concurrency: 0\n",
			want: "audit.concurrency must be at least 1",
		},
		{
			name: "bad log level",
			yaml: "log:\n  level: loud\n",
			want: `unknown level "loud"`,
		},
		{
			name: "bad compression level",
			yaml: "local_store:\n  compression_level: 9\n",
			want: "local_store.compression_level must be between 1 and 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEverything(t *testing.T) {
	err := Config{Shared: SharedStore{Backend: "zk"}, Log: Log{Level: "info"}}.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown backend", "local_store.path", "compression_level", "audit.concurrency"} {
		assert.Contains(t, err.Error(), want)
	}
}
