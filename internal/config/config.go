// Package config loads refguard settings through viper.
//
// Settings come from a YAML file, REFGUARD_* environment variables and the
// defaults registered by SetDefaults, in viper's usual precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aweris/refguard/internal/enforcement"
	"github.com/aweris/refguard/internal/logging"
	"github.com/aweris/refguard/internal/metrics"
	"github.com/aweris/refguard/internal/projects"
)

const EnvPrefix = "REFGUARD"

// Shared store backends.
const (
	BackendNoop   = "noop"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

const (
	keyEnabled        = "ref_database.enabled"
	keyMetricsRoot    = "ref_database.metrics_root"
	keyRules          = "ref_database.enforcement_rules"
	keyIgnoredRefs    = "ref_database.ignored_refs"
	keyProjects       = "projects.pattern"
	keyBackend        = "shared_store.backend"
	keyLockTimeout    = "shared_store.lock_timeout"
	keyRedisAddr      = "shared_store.redis.addr"
	keyRedisPassword  = "shared_store.redis.password"
	keyRedisDB        = "shared_store.redis.db"
	keyRedisPrefix    = "shared_store.redis.prefix"
	keyRedisLockTTL   = "shared_store.redis.lock_ttl"
	keyBadgerPath     = "shared_store.badger.path"
	keyBadgerInMemory = "shared_store.badger.in_memory"
	keyLocalPath      = "local_store.path"
	keyCacheSize      = "local_store.cache_size"
	keyCompressLevel  = "local_store.compression_level"
	keyCompression    = "local_store.compression"
	keyConcurrency    = "audit.concurrency"
	keyLogLevel       = "log.level"
	keyLogJSON        = "log.json"
)

type Config struct {
	Enabled     bool
	MetricsRoot string
	// Rules holds the "project[:ref]" enforcement rules per policy.
	Rules           map[enforcement.Policy][]string
	IgnoredRefs     []string
	ProjectPatterns []string

	Shared SharedStore
	Local  LocalStore
	Audit  Audit
	Log    Log
}

type SharedStore struct {
	Backend     string
	LockTimeout time.Duration
	Redis       Redis
	Badger      Badger
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	LockTTL  time.Duration
}

type Badger struct {
	Path     string
	InMemory bool
}

type LocalStore struct {
	Path             string
	CacheSize        int
	CompressionLevel int
	Compression      bool
}

type Audit struct {
	Concurrency int
}

type Log struct {
	Level string
	JSON  bool
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyEnabled, false)
	v.SetDefault(keyMetricsRoot, metrics.DefaultNamespace)
	v.SetDefault(keyBackend, BackendNoop)
	v.SetDefault(keyLockTimeout, 5*time.Second)
	v.SetDefault(keyRedisAddr, "localhost:6379")
	v.SetDefault(keyRedisPrefix, "refguard:")
	v.SetDefault(keyRedisLockTTL, 30*time.Second)
	v.SetDefault(keyBadgerPath, filepath.Join(DataDir(), "shared"))
	v.SetDefault(keyLocalPath, filepath.Join(DataDir(), "refs"))
	v.SetDefault(keyCacheSize, 1024)
	v.SetDefault(keyCompressLevel, 2)
	v.SetDefault(keyCompression, true)
	v.SetDefault(keyConcurrency, 4)
	v.SetDefault(keyLogLevel, "info")
}

// BindEnv makes every key readable from REFGUARD_* variables, with dots
// replaced by underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Enabled:         v.GetBool(keyEnabled),
		MetricsRoot:     v.GetString(keyMetricsRoot),
		IgnoredRefs:     v.GetStringSlice(keyIgnoredRefs),
		ProjectPatterns: v.GetStringSlice(keyProjects),
		Shared: SharedStore{
			Backend:     strings.ToLower(v.GetString(keyBackend)),
			LockTimeout: v.GetDuration(keyLockTimeout),
			Redis: Redis{
				Addr:     v.GetString(keyRedisAddr),
				Password: v.GetString(keyRedisPassword),
				DB:       v.GetInt(keyRedisDB),
				Prefix:   v.GetString(keyRedisPrefix),
				LockTTL:  v.GetDuration(keyRedisLockTTL),
			},
			Badger: Badger{
				Path:     v.GetString(keyBadgerPath),
				InMemory: v.GetBool(keyBadgerInMemory),
			},
		},
		Local: LocalStore{
			Path:             v.GetString(keyLocalPath),
			CacheSize:        v.GetInt(keyCacheSize),
			CompressionLevel: v.GetInt(keyCompressLevel),
			Compression:      v.GetBool(keyCompression),
		},
		Audit: Audit{Concurrency: v.GetInt(keyConcurrency)},
		Log: Log{
			Level: v.GetString(keyLogLevel),
			JSON:  v.GetBool(keyLogJSON),
		},
	}

	rules, err := loadRules(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Rules = rules

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadRules(v *viper.Viper) (map[enforcement.Policy][]string, error) {
	raw := v.GetStringMapStringSlice(keyRules)
	if len(raw) == 0 {
		return nil, nil
	}
	rules := make(map[enforcement.Policy][]string, len(raw))
	for name, entries := range raw {
		policy, err := enforcement.ParsePolicy(name)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", keyRules, err)
		}
		rules[policy] = append(rules[policy], entries...)
	}
	return rules, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Shared.Backend {
	case BackendNoop, BackendMemory:
	case BackendRedis:
		if c.Shared.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%s is required for the redis backend", keyRedisAddr))
		}
	case BackendBadger:
		if c.Shared.Badger.Path == "" && !c.Shared.Badger.InMemory {
			errs = append(errs, fmt.Errorf("%s is required unless %s is set", keyBadgerPath, keyBadgerInMemory))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown backend %q", keyBackend, c.Shared.Backend))
	}
	if c.Shared.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", keyLockTimeout))
	}
	if c.Local.Path == "" {
		errs = append(errs, fmt.Errorf("%s is required", keyLocalPath))
	}
	if c.Local.CompressionLevel < 1 || c.Local.CompressionLevel > 4 {
		errs = append(errs, fmt.Errorf("%s must be between 1 and 4", keyCompressLevel))
	}
	if c.Audit.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", keyConcurrency))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := projects.NewFilter(c.ProjectPatterns); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Resolver builds the enforcement resolver. Without rules every ref not
// ignored by default is Required.
func (c Config) Resolver() enforcement.Resolver {
	if len(c.Rules) == 0 {
		return enforcement.Default{}
	}
	return enforcement.NewCustom(c.Rules)
}

// Filter builds the project scope filter.
func (c Config) Filter() (*projects.Filter, error) {
	return projects.NewFilter(c.ProjectPatterns)
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, JSON: c.Log.JSON}
}

// Dir is where the config file is looked up by default.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "refguard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "refguard")
	}
	return ".refguard"
}

// DataDir is the default root of the local and embedded shared stores.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "refguard")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "refguard")
	}
	return ".refguard"
}
