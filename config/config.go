// Package config loads the authgate process configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/ftmatch/authgate/internal/util"
)

// Prefix is prepended to every environment key.
const Prefix = "AUTHGATE_"

// Storage backends.
const (
	StorageBBolt    = "bbolt"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Session store backends.
const (
	SessionsMemory     = "memory"
	SessionsPersistent = "persistent"
	SessionsRedis      = "redis"
)

const (
	minTokenKeyLen   = 32
	storageKeyLen    = 32
	minTokenTTL      = time.Minute
	maxKeyRetention  = 16
	minMatchTimeout  = 100 * time.Millisecond
	defaultRateLimit = 5
)

// RedisConfig configures the Redis session store.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Argon2Config tunes password hashing.
type Argon2Config struct {
	Time        uint32 `env:"TIME"        envDefault:"3"`
	MemoryKiB   uint32 `env:"MEMORY_KIB"  envDefault:"65536"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"4"`
}

// Config is the full process configuration.
type Config struct {
	Port        int    `env:"PORT"         envDefault:"8443"`
	DataDir     string `env:"DATA_DIR"     envDefault:"./data"`
	TLSCert     string `env:"TLS_CERT"`
	TLSKey      string `env:"TLS_KEY"`
	TLSDisabled bool   `env:"TLS_DISABLED" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	Storage      string      `env:"STORAGE"       envDefault:"bbolt"`
	PostgresDSN  string      `env:"POSTGRES_DSN"`
	SessionStore string      `env:"SESSION_STORE" envDefault:"persistent"`
	Redis        RedisConfig `envPrefix:"REDIS_"`

	// StorageKey and TokenKey are hex encoded. When empty the server
	// generates ephemeral keys and logs a warning.
	StorageKey string `env:"STORAGE_KEY"`
	TokenKey   string `env:"TOKEN_KEY"`

	TokenTTL     time.Duration `env:"TOKEN_TTL"     envDefault:"168h"`
	KeyRotation  time.Duration `env:"KEY_ROTATION"  envDefault:"1h"`
	KeyRetention int           `env:"KEY_RETENTION" envDefault:"2"`

	DefaultRegion string            `env:"DEFAULT_REGION" envDefault:"jp"`
	MatchHosts    map[string]string `env:"MATCH_HOSTS"    envKeyValSeparator:"="`
	MatchTimeout  time.Duration     `env:"MATCH_TIMEOUT"  envDefault:"3s"`
	MatchRetries  uint64            `env:"MATCH_RETRIES"  envDefault:"2"`

	AllowPlaintextMeta bool   `env:"ALLOW_PLAINTEXT_META" envDefault:"false"`
	LoginMaxFailures   int    `env:"LOGIN_MAX_FAILURES"   envDefault:"5"`
	SeedFile           string `env:"SEED_FILE"`
	SnowflakeNode      int64  `env:"SNOWFLAKE_NODE"       envDefault:"1"`

	TrustedProxies     []string `env:"TRUSTED_PROXIES"      envSeparator:","`
	AlertWebhookURL    string   `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookHeader string   `env:"ALERT_WEBHOOK_HEADER"`

	Argon2 Argon2Config `envPrefix:"ARGON2_"`
}

// Load reads an optional .env file and parses the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return parse(env.Options{Prefix: Prefix})
}

// FromMap parses configuration from an explicit environment map instead of
// the process environment. Keys carry the AUTHGATE_ prefix.
func FromMap(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize applies guardrails to values that are legal to parse but unsafe
// to run with.
func (c *Config) Sanitize() {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	c.DefaultRegion = strings.TrimSpace(c.DefaultRegion)
	if c.TokenTTL < minTokenTTL {
		c.TokenTTL = minTokenTTL
	}
	if c.KeyRetention < 0 {
		c.KeyRetention = 0
	}
	if c.KeyRetention > maxKeyRetention {
		c.KeyRetention = maxKeyRetention
	}
	if c.MatchTimeout < minMatchTimeout {
		c.MatchTimeout = minMatchTimeout
	}
	if c.LoginMaxFailures <= 0 {
		c.LoginMaxFailures = defaultRateLimit
	}
	hosts := make(map[string]string, len(c.MatchHosts))
	for region, host := range c.MatchHosts {
		region = strings.TrimSpace(region)
		host = strings.TrimRight(strings.TrimSpace(host), "/")
		if region == "" || host == "" {
			continue
		}
		hosts[region] = host
	}
	c.MatchHosts = hosts
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Storage {
	case StorageBBolt, StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage requires AUTHGATE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	switch c.SessionStore {
	case SessionsMemory, SessionsPersistent:
	case SessionsRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis session store requires AUTHGATE_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.SessionStore)
	}
	if _, err := c.StorageKeyBytes(); err != nil {
		return err
	}
	if _, err := c.TokenKeyBytes(); err != nil {
		return err
	}
	if err := util.ValidateArgon2idParams(c.Argon2Params()); err != nil {
		return fmt.Errorf("argon2 parameters: %w", err)
	}
	for region, host := range c.MatchHosts {
		u, err := url.Parse(host)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid match host for region %q: %q", region, host)
		}
	}
	return nil
}

// StorageKeyBytes decodes the record wrapping key. It returns nil when no key
// is configured.
func (c Config) StorageKeyBytes() ([]byte, error) {
	if c.StorageKey == "" {
		return nil, nil
	}
	key, err := util.HexDecode(c.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("decode storage key: %w", err)
	}
	if len(key) != storageKeyLen {
		return nil, fmt.Errorf("storage key must be %d bytes, got %d", storageKeyLen, len(key))
	}
	return key, nil
}

// TokenKeyBytes decodes the token signing key. It returns nil when no key is
// configured.
func (c Config) TokenKeyBytes() ([]byte, error) {
	if c.TokenKey == "" {
		return nil, nil
	}
	key, err := util.HexDecode(c.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	if len(key) < minTokenKeyLen {
		return nil, fmt.Errorf("token key must be at least %d bytes, got %d", minTokenKeyLen, len(key))
	}
	return key, nil
}

// Argon2Params converts the hashing settings to util parameters.
func (c Config) Argon2Params() util.Argon2idParams {
	p := util.DefaultArgon2idParams()
	p.Time = c.Argon2.Time
	p.MemoryKiB = c.Argon2.MemoryKiB
	p.Parallelism = c.Argon2.Parallelism
	return p
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
