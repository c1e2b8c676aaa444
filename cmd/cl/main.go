package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"consentline/internal/app"
	"consentline/internal/config"
	"consentline/internal/db"
	"consentline/internal/engine"
	"consentline/internal/logging"
	"consentline/internal/metrics"
	"consentline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Consentline CLI",
	Long: `Consentline runs collaborative decisions: consensus, consent, majority,
supermajority, nuanced (majority judgment) and advisory votes.
- Workspace: the .consentline directory holding the database; consentline.yml next to it.
- Decision: drafted by its creator, launched with a deadline, then closed early,
  on full participation, at the deadline or by hand.
- Consent decisions walk through timed stages (clarifications, opinions,
  amendments, objections); each stage opens its own actions.
- Closure scan: 'cl scan run' (or the cron endpoint) advances stages and closes
  what is due.
- Audit log: every change, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CONSENTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides consentline.yml")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text); overrides consentline.yml")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(ballotCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default consentline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fmt.Printf("Initialized workspace in %s (config: %s)\n", workspace, path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing consentline.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "consentline.yml holds database, server, scheduler and notification settings. Secrets usually come from CONSENTLINE_* variables or .env.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			redacted := *cfg
			for _, s := range []*string{&redacted.Secrets.Cron, &redacted.Secrets.JWT, &redacted.Secrets.Fingerprint, &redacted.Notifications.Redis.Password} {
				if *s != "" {
					*s = "***"
				}
			}
			redacted.Notifications.Webhooks = make([]config.WebhookConfig, len(cfg.Notifications.Webhooks))
			for i, h := range cfg.Notifications.Webhooks {
				if h.Secret != "" {
					h.Secret = "***"
				}
				redacted.Notifications.Webhooks[i] = h
			}
			return printJSONOrTable(redacted)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate consentline.yml and environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func scanCmd() *cobra.Command {
	scan := &cobra.Command{
		Use:   "scan",
		Short: "Closure scans",
		Long:  "A closure scan evaluates every open decision once: it advances consent stages and closes decisions that are due.",
	}
	scan.AddCommand(scanRunCmd())
	scan.AddCommand(scanWatchCmd())
	return scan
}

func scanRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one closure scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.RunClosureScanFrom(ctx, "cli")
				if err != nil {
					return err
				}
				return printSummary(summary)
			})
		},
	}
	return cmd
}

func scanWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run closure scans on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				every := interval
				if every <= 0 {
					every = a.Config.Scheduler.Interval.Std()
				}
				server.Scheduler{
					Engine:   a.Engine,
					Interval: every,
					Logger:   a.Logger,
					OnScan: func(s engine.ScanSummary) {
						if viper.GetBool("json") {
							_ = printJSON(s)
						}
					},
				}.Run(ctx)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "scan interval (default: scheduler.interval from consentline.yml)")
	return cmd
}

func printSummary(s engine.ScanSummary) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Processed", "Transitions", "Closures", "Notifications", "Skipped", "Failures", "Canceled"})
	tw.AppendRow(table.Row{s.Processed, s.Transitions, s.Closures, s.Notifications, s.Skipped, len(s.Failures), s.Canceled})
	tw.Render()
	for _, f := range s.Failures {
		fmt.Printf("failed %s: %s\n", f.DecisionID, f.Error)
	}
	return nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every change to a decision, in order: creation, launch, stage moves, ballots, comments and closure.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail [decision-id]",
		Short: "Show the latest log entries, for one decision or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var err error
				var entries any
				if len(args) == 1 {
					entries, err = e.DecisionLog(ctx, args[0], n)
				} else {
					entries, err = e.Repo.LatestLogEntries(ctx, e.DB, n)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, scheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			shutdownMetrics, err := metrics.Setup(ctx, metrics.ExportConfig{
				Endpoint: cfg.Metrics.OTLPEndpoint,
				Insecure: cfg.Metrics.Insecure,
				Interval: cfg.Metrics.Interval.Std(),
			})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownMetrics(sctx)
			}()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if a.Config.Secrets.JWT == "" {
					return fmt.Errorf("%s is required for bearer auth", app.EnvJWTSecret)
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:     a.Engine,
					BasePath:   basePath,
					Auth:       server.AuthConfig{JWTSecret: a.Config.Secrets.JWT, DevLogin: devLogin, Logger: a.Logger},
					CronSecret: a.Config.Secrets.Cron,
					Anonymous:  server.RateLimit{PerMinute: a.Config.Anonymous.RatePerMinute, Burst: a.Config.Anonymous.Burst},
					Logger:     a.Logger,
				})
				if err != nil {
					return err
				}
				if scheduler {
					go server.Scheduler{Engine: a.Engine, Interval: a.Config.Scheduler.Interval.Std(), Logger: a.Logger}.Run(ctx)
				}
				if a.Config.Secrets.Cron == "" {
					a.Logger.Warn("no cron secret configured; the closure-scan endpoint rejects every call", "event", "serve.no_cron_secret", "module", "cli")
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Consentline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default: server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose /auth/dev/login to mint tokens (local testing only)")
	cmd.Flags().BoolVar(&scheduler, "scheduler", false, "also run closure scans in-process every scheduler.interval")
	return cmd
}

// --- helpers ---

func cliLogger() *slog.Logger {
	level := viper.GetString("log-level")
	format := viper.GetString("log-format")
	if level == "" && format == "" {
		return nil
	}
	if format == "" {
		format = "text"
	}
	return logging.Setup(level, format)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Bootstrap(ctx, viper.GetString("workspace"), cliLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

// endTime resolves --end (RFC3339) or --duration relative to now.
func endTime(end string, d time.Duration) (time.Time, error) {
	switch {
	case strings.TrimSpace(end) != "":
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(end))
		if err != nil {
			return time.Time{}, fmt.Errorf("--end must be RFC3339: %w", err)
		}
		return t, nil
	case d > 0:
		return time.Now().Add(d), nil
	default:
		return time.Time{}, fmt.Errorf("--end or --duration required")
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
