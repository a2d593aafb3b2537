package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"snake-arena/arena/config"
	"snake-arena/arena/objstore"
	"snake-arena/arena/orchestrator"
	"snake-arena/arena/outcome"
	"snake-arena/arena/store"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		slog.Error("arena failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	env        config.Env
	log        *slog.Logger
	configPath string
	statusAddr string
	unmute     bool
	resetStats bool
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "arena",
		Short:         "Runs matches between snake bots and computes ratings.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLadder(cmd.Context())
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "arena config file (default $ARENA_CONFIG or arena.yaml)")
	f.StringVar(&a.statusAddr, "status-addr", "", "serve the status API on this address (default $ARENA_STATUS_ADDR)")
	f.BoolVar(&a.unmute, "unmute", false, "show output of every launched bot")
	f.BoolVar(&a.resetStats, "reset-stats", false, "forget stored ratings and outcomes and start from a clean slate")

	root.AddCommand(a.upCmd(), a.winratesCmd(), a.migrateCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	e, err := config.LoadEnv()
	if err != nil {
		return err
	}
	a.env = e
	if !cmd.Flags().Changed("config") {
		a.configPath = e.ConfigPath
	}
	if !cmd.Flags().Changed("status-addr") {
		a.statusAddr = e.StatusAddr
	}
	a.log, err = newLogger(os.Stderr, e.LogFormat, e.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(a.log)
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", format)
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.unmute {
		cfg.Unmute()
	}
	a.log.Info("loaded config",
		"path", a.configPath,
		"bots", cfg.BotNames(),
		"rating", cfg.Rating.Model,
		"matches", cfg.Ladder.TotalMatches,
	)
	return cfg, nil
}

// newOrchestrator wires the optional database mirror and object store.
// Either one failing to come up only disables it.
func (a *app) newOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	runID := uuid.New()
	opts := orchestrator.Options{
		Logger:     a.log,
		RunID:      runID,
		ResetStats: a.resetStats,
	}

	cleanup := func() {}
	if dsn := a.env.DatabaseURL; dsn != "" {
		if db, err := openDB(ctx, dsn, a.env.AutoMigrate); err != nil {
			a.log.Warn("database mirror disabled", "error", err)
		} else {
			opts.DB = db
			cleanup = db.Close
		}
	}
	if oc := a.env.ObjectStore; oc.Enabled() {
		if snaps, err := objstore.NewSnapshotter(ctx, oc, runID); err != nil {
			a.log.Warn("result snapshots disabled", "error", err)
		} else {
			opts.Snapshots = snaps
		}
	}

	o, err := orchestrator.New(cfg, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return o, cleanup, nil
}

func openDB(ctx context.Context, dsn string, migrate bool) (*store.DB, error) {
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if migrate {
		if err := store.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}

// serveStatus starts the status API when an address is configured. The
// returned func shuts it down.
func (a *app) serveStatus(o *orchestrator.Orchestrator, model string) func() {
	if a.statusAddr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:         a.statusAddr,
		Handler:      Router(o, model),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		a.log.Info("status API listening", "addr", a.statusAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("status API", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runLadder is the default command: prepare, up, warm up, ladder, down.
func (a *app) runLadder(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	o, cleanup, err := a.newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stopStatus := a.serveStatus(o, cfg.Rating.Model)
	defer stopStatus()

	if err := o.Prepare(ctx); err != nil {
		return err
	}
	defer o.Down()
	if err := o.Up(ctx); err != nil {
		return err
	}

	a.log.Info("waiting for bots to warm up", "warmup", cfg.Ladder.Warmup)
	select {
	case <-ctx.Done():
	case <-time.After(cfg.Ladder.Warmup):
	}

	stats, err := o.RunLadder(ctx)
	if err != nil {
		return err
	}
	a.log.Info("run summary",
		"run", o.RunID().String(),
		"completed", stats.Completed,
		"cancelled", stats.Cancelled,
		"failed", stats.Failed,
		"warnings", stats.Warnings,
	)
	return nil
}

func (a *app) upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start the bots and keep them running until Enter or a signal. No matches are played.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.up(cmd.Context(), cmd.InOrStdin())
		},
	}
}

func (a *app) up(parent context.Context, stdin io.Reader) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	o, cleanup, err := a.newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stopStatus := a.serveStatus(o, cfg.Rating.Model)
	defer stopStatus()

	if err := o.Prepare(ctx); err != nil {
		return err
	}
	defer o.Down()
	if err := o.Up(ctx); err != nil {
		return err
	}
	for _, b := range o.Bots() {
		a.log.Info("bot ready", "bot", b.Name, "addresses", b.Addresses)
	}

	enter := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(stdin).ReadString('\n')
		close(enter)
	}()
	fmt.Fprintln(os.Stderr, "Press Enter to shut the bots down")
	select {
	case <-ctx.Done():
	case <-enter:
	}
	return nil
}

func (a *app) winratesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "winrates",
		Short: "Print head-to-head win rates from the outcomes file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				file = cfg.Ladder.OutcomesFile
			}
			t, err := outcome.Load(file)
			if err != nil {
				return err
			}
			outcome.Print(cmd.OutOrStdout(), t.Report())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "outcomes file (default: outcomes_file from the config)")
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema to DATABASE_URL.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.env.DatabaseURL == "" {
				return errors.New("DATABASE_URL is not set")
			}
			db, err := openDB(cmd.Context(), a.env.DatabaseURL, true)
			if err != nil {
				return err
			}
			db.Close()
			a.log.Info("migrated")
			return nil
		},
	}
}
