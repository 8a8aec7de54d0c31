// Package main is the entry point for the account API server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (flag → YAML file → env vars)
//  2. Create the long-lived dependencies (logger, error reporting, database,
//     token issuer)
//  3. Start the server and block until a shutdown signal
//
// All actual logic lives in internal/ packages, which keeps it testable.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/sakif/account-api/internal/auth"
	"github.com/sakif/account-api/internal/config"
	"github.com/sakif/account-api/internal/metrics"
	"github.com/sakif/account-api/internal/repository"
	"github.com/sakif/account-api/internal/repository/postgres"
	"github.com/sakif/account-api/internal/repository/sqlite"
	"github.com/sakif/account-api/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		// The logger may not exist yet (bad config), so fall back to stderr.
		fmt.Fprintln(os.Stderr, "account-api:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// === 3. ERROR REPORTING ===
	// Sentry is optional: without a DSN the SDK is never initialised and every
	// capture call is a no-op.
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			return fmt.Errorf("initialising sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		logger.Info("sentry enabled", slog.String("environment", cfg.Sentry.Environment))
	}

	// Cancelled on SIGINT/SIGTERM; drives graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === 4. DATABASE ===
	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database ready", slog.String("driver", cfg.Database.Driver))

	// === 5. TOKENS ===
	issuer, err := newIssuer(cfg.Token, store.Tokens())
	if err != nil {
		return err
	}

	// === 6. OPTIONAL GITHUB SIGN-IN ===
	var github *auth.GitHubProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
		logger.Info("GitHub sign-in enabled", slog.String("callback", cfg.GitHub.CallbackURL))
	}

	// === 7. SERVER ===
	srv, err := server.New(server.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RequestTimeout:  cfg.Server.RequestTimeout,
	}, server.Deps{
		Store:     store,
		Issuer:    issuer,
		Passwords: auth.NewPasswordService(),
		Metrics:   metrics.New(),
		GitHub:    github,
	}, logger)
	if err != nil {
		return err
	}

	// Start blocks until the context is cancelled (Ctrl+C or SIGTERM).
	return srv.Start(ctx)
}

// newLogger builds the process logger from config.
//
// Text output is easier to read in a terminal; JSON is what log shippers
// (Loki, CloudWatch, Datadog) expect in production.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// openStore opens the configured credential store.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.URL)
	case "sqlite":
		if cfg.Path != ":memory:" {
			// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlite.New(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// newIssuer selects the token strategy. Exactly one is active per process.
func newIssuer(cfg config.TokenConfig, tokens repository.TokenRepository) (auth.Issuer, error) {
	switch auth.Kind(cfg.Strategy) {
	case auth.KindSigned:
		return auth.NewSignedIssuer(auth.SignedConfig{
			Secret:       cfg.Secret,
			Issuer:       cfg.Issuer,
			TTL:          cfg.TTL,
			RefreshGrace: cfg.RefreshGrace,
		}, tokens)
	case auth.KindOpaque:
		return auth.NewOpaqueIssuer(tokens), nil
	default:
		return nil, fmt.Errorf("unknown token strategy %q", cfg.Strategy)
	}
}
