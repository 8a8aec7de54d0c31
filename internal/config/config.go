// Package config loads the server configuration.
//
// PRECEDENCE (lowest to highest):
//  1. Defaults()
//  2. an optional YAML file (path from the -config flag or CONFIG_PATH)
//  3. environment variables
//
// WHY BOTH A FILE AND ENV VARS?
// The file is convenient for local development and documents every knob in
// one place. Env vars are how containers and CI inject secrets: JWT_SECRET
// should never be committed to a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Token    TokenConfig    `yaml:"token"`
	Log      LogConfig      `yaml:"log"`
	Sentry   SentryConfig   `yaml:"sentry"`
	GitHub   GitHubConfig   `yaml:"github"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestTimeout bounds each request's context, and with it any open
	// transaction. Zero disables the deadline.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig selects the credential store. Driver is "sqlite" (Path is a
// file, or ":memory:") or "postgres" (URL is a connection string).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// TokenConfig selects the token strategy: "jwt" or "opaque".
// Secret, TTL, RefreshGrace and Issuer only matter for "jwt".
type TokenConfig struct {
	Strategy     string        `yaml:"strategy"`
	Secret       string        `yaml:"secret"`
	Issuer       string        `yaml:"issuer"`
	TTL          time.Duration `yaml:"ttl"`
	RefreshGrace time.Duration `yaml:"refresh_grace"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// GitHubConfig enables GitHub sign-in when both client fields are set.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// Defaults returns a configuration that runs locally with SQLite and
// opaque tokens. JWT needs a secret, so it is opt-in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/accounts.db",
		},
		Token: TokenConfig{
			Strategy: "opaque",
			Issuer:   "account-api",
			TTL:      time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sentry: SentryConfig{
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.Token.Strategy = strings.ToLower(cfg.Token.Strategy)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Server.Port = port
	}

	setString("DB_DRIVER", &c.Database.Driver)
	setString("DB_PATH", &c.Database.Path)
	setString("DATABASE_URL", &c.Database.URL)
	setString("TOKEN_STRATEGY", &c.Token.Strategy)
	setString("JWT_SECRET", &c.Token.Secret)
	setString("JWT_ISSUER", &c.Token.Issuer)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("SENTRY_DSN", &c.Sentry.DSN)
	setString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	setString("GITHUB_CLIENT_ID", &c.GitHub.ClientID)
	setString("GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret)
	setString("GITHUB_CALLBACK_URL", &c.GitHub.CallbackURL)

	if err := setDuration("REQUEST_TIMEOUT", &c.Server.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration("JWT_TTL", &c.Token.TTL); err != nil {
		return err
	}
	return setDuration("JWT_REFRESH_GRACE", &c.Token.RefreshGrace)
}

// Validate reports every problem at once so a broken deployment can be fixed
// in one go.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server.request_timeout must not be negative"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url (DATABASE_URL) is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}

	switch strings.ToLower(c.Token.Strategy) {
	case "opaque":
	case "jwt":
		if len(c.Token.Secret) < 16 {
			errs = append(errs, errors.New("token.secret (JWT_SECRET) must be at least 16 characters"))
		}
		if c.Token.TTL <= 0 {
			errs = append(errs, errors.New("token.ttl must be positive"))
		}
		if c.Token.RefreshGrace < 0 {
			errs = append(errs, errors.New("token.refresh_grace must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("token.strategy %q must be jwt or opaque", c.Token.Strategy))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}
