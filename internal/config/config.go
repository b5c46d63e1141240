// Package config loads the server configuration.
//
// LOAD ORDER (later wins):
//  1. Defaults in this file
//  2. An optional YAML file (-config flag or MINESHARE_CONFIG)
//  3. MINESHARE_* environment variables
//
// Env names are the config keys upper-cased with dots turned into
// underscores: session.prune_interval → MINESHARE_SESSION_PRUNE_INTERVAL.
//
// The Config returned by Load is validated and never changes afterwards.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "MINESHARE_"

// Session store backends.
const (
	SessionStoreSQL   = "sql"
	SessionStoreRedis = "redis"
)

const minSecretLength = 16

// Config is the full server configuration.
type Config struct {
	Env      string `koanf:"env"`
	Port     int    `koanf:"port"`
	BaseURL  string `koanf:"base_url"`
	LogLevel string `koanf:"log_level"`

	DB      DBConfig      `koanf:"db"`
	Session SessionConfig `koanf:"session"`
	Redis   RedisConfig   `koanf:"redis"`
	Google  GoogleConfig  `koanf:"google"`
	SMTP    SMTPConfig    `koanf:"smtp"`
}

// DBConfig selects the SQL driver. Driver is "sqlite" or "pgx".
type DBConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// SessionConfig controls the session cookie and store.
type SessionConfig struct {
	Secret        string        `koanf:"secret"`
	Store         string        `koanf:"store"`
	TTL           time.Duration `koanf:"ttl"`
	PruneInterval time.Duration `koanf:"prune_interval"`
	CookieSecure  bool          `koanf:"cookie_secure"`
}

// RedisConfig is only read when session.store is "redis".
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// GoogleConfig enables "Sign in with Google" when ClientID is set.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CallbackURL  string `koanf:"callback_url"`
}

// SMTPConfig enables real mail delivery when Host is set. Without it,
// confirmation links are written to the log.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// defaults lists every key Load knows about. An environment variable is
// only picked up if its key appears here.
var defaults = map[string]any{
	"env":                    "development",
	"port":                   8080,
	"base_url":               "http://localhost:8080",
	"log_level":              "info",
	"db.driver":              "sqlite",
	"db.dsn":                 "data/mineshare.db",
	"session.secret":         "",
	"session.store":          SessionStoreSQL,
	"session.ttl":            30 * 24 * time.Hour,
	"session.prune_interval": 15 * time.Minute,
	"session.cookie_secure":  false,
	"redis.addr":             "localhost:6379",
	"redis.password":         "",
	"redis.db":               0,
	"google.client_id":       "",
	"google.client_secret":   "",
	"google.callback_url":    "",
	"smtp.host":              "",
	"smtp.port":              587,
	"smtp.username":          "",
	"smtp.password":          "",
	"smtp.from":              "no-reply@mineshare.local",
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	return load(path, os.Environ)
}

// load is Load with an injectable environment for tests.
func load(path string, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	envKeys := make(map[string]string, len(defaults))
	for key := range defaults {
		envKeys[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(name, value string) (string, any) {
			// Unknown variables map to "" and are skipped.
			return envKeys[strings.TrimPrefix(name, EnvPrefix)], value
		},
		EnvironFunc: environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Google.ClientID != "" && cfg.Google.CallbackURL == "" {
		cfg.Google.CallbackURL = cfg.BaseURL + "/auth/google/callback"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once so a broken deployment can be
// fixed in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	switch c.DB.Driver {
	case "sqlite", "pgx":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q: must be sqlite or pgx", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}

	if len(c.Session.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("session.secret must be at least %d characters", minSecretLength))
	}
	switch c.Session.Store {
	case SessionStoreSQL:
	case SessionStoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when session.store is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store %q: must be sql or redis", c.Session.Store))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.PruneInterval <= 0 {
		errs = append(errs, errors.New("session.prune_interval must be positive"))
	}

	if c.Google.ClientID != "" && c.Google.ClientSecret == "" {
		errs = append(errs, errors.New("google.client_secret is required when google.client_id is set"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in the development
// environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// GoogleEnabled reports whether the Google login routes should be mounted.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}

// SMTPEnabled reports whether confirmation mails go out over SMTP.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != ""
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
