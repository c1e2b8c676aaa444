// Package app wires configuration, storage, notifications and metrics into
// an engine for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"consentline/internal/config"
	"consentline/internal/db"
	"consentline/internal/engine"
	"consentline/internal/events"
	"consentline/internal/logging"
	"consentline/internal/metrics"
	"consentline/internal/migrate"
	"consentline/internal/notify"
)

// Secret overrides read from the environment after .env is loaded.
const (
	EnvCronSecret        = "CONSENTLINE_CRON_SECRET"
	EnvJWTSecret         = "CONSENTLINE_JWT_SECRET"
	EnvFingerprintSecret = "CONSENTLINE_FINGERPRINT_SECRET"
	EnvDatabaseDriver    = "CONSENTLINE_DATABASE_DRIVER"
	EnvDatabaseDSN       = "CONSENTLINE_DATABASE_DSN"
	EnvRedisAddr         = "CONSENTLINE_REDIS_ADDR"
)

// App is a bootstrapped workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Logger    *slog.Logger
	closers   []func() error
}

// LoadConfig reads consentline.yml (or the defaults) and applies .env and
// environment overrides. Variables already set in the process win over .env.
func LoadConfig(workspace string) (*config.Config, error) {
	if err := godotenv.Load(filepath.Join(workspaceDir(workspace), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *config.Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Secrets.Cron, EnvCronSecret)
	set(&cfg.Secrets.JWT, EnvJWTSecret)
	set(&cfg.Secrets.Fingerprint, EnvFingerprintSecret)
	set(&cfg.Database.Driver, EnvDatabaseDriver)
	set(&cfg.Database.DSN, EnvDatabaseDSN)
	set(&cfg.Notifications.Redis.Addr, EnvRedisAddr)
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// Bootstrap opens and migrates the database and assembles the engine. A nil
// logger is built from the logging section of the config.
func Bootstrap(ctx context.Context, workspace string, logger *slog.Logger) (*App, error) {
	cfg, err := LoadConfig(workspace)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Workspace: workspace, Config: cfg, Logger: logger, closers: []func() error{conn.Close}}
	if err := conn.PingContext(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	rec, err := metrics.New(nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, closeNotifier := BuildNotifier(cfg, logger)
	if closeNotifier != nil {
		a.closers = append(a.closers, closeNotifier)
	}
	a.Engine = newEngine(conn, dialect, cfg, logger, notifier, rec)
	logger.Debug("workspace ready", "event", "app.bootstrapped", "module", "app", "driver", dialect)
	return a, nil
}

func newEngine(conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *slog.Logger, n notify.Notifier, rec *metrics.Recorder) engine.Engine {
	e := engine.New(conn, dialect, cfg)
	e.Logger = logger
	e.Events = events.Writer{Repo: e.Repo, Logger: logger}
	e.Notifier = n
	e.Metrics = rec
	return e
}

// BuildNotifier fans notification requests out to the configured targets.
// The returned func releases the redis client, if any.
func BuildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func() error) {
	var targets notify.Fanout
	if cfg.Notifications.Log {
		targets = append(targets, notify.Log{Logger: logger})
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		hooks := make([]notify.Hook, 0, len(cfg.Notifications.Webhooks))
		for _, h := range cfg.Notifications.Webhooks {
			hooks = append(hooks, notify.Hook{
				URL:            h.URL,
				Secret:         h.Secret,
				Kinds:          h.Kinds,
				TimeoutSeconds: h.TimeoutSeconds,
				Enabled:        h.Enabled,
			})
		}
		targets = append(targets, notify.Webhook{Hooks: hooks, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	var closer func() error
	if addr := strings.TrimSpace(cfg.Notifications.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Notifications.Redis.Password,
			DB:       cfg.Notifications.Redis.DB,
		})
		targets = append(targets, notify.Queue{Client: client, Key: cfg.Notifications.Redis.Queue})
		closer = client.Close
	}
	return targets, closer
}

// Close releases everything Bootstrap opened, last opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
