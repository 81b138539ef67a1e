package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/balance-engine/api"
	"github.com/warp/balance-engine/config"
	"github.com/warp/balance-engine/engine"
	"github.com/warp/balance-engine/store/sqlite"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "balance-engine",
		Short: "Daily balance and holding materialization for financial accounts",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(newServeCommand(opts), newSyncCommand(opts), newInitCommand(opts))
	return rootCmd
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		port     int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("interval") {
				cfg.Sync.Interval = interval
			}

			app, err := newApp(cfg, cmd)
			if err != nil {
				return err
			}
			defer app.close()
			return app.serve()
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP server port")
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "scheduled sync interval, 0 disables")
	return cmd
}

// =============================================================================
// SYNC
// =============================================================================

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		account   string
		strategy  string
		startDate string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Materialize holdings and balances once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if strategy == "" {
				strategy = cfg.Sync.DefaultStrategy
			}
			dir, err := engine.ParseDirection(strategy)
			if err != nil {
				return err
			}
			var start *engine.Date
			if startDate != "" {
				if account == "" {
					return fmt.Errorf("--start-date requires --account")
				}
				d, err := engine.ParseDate(startDate)
				if err != nil {
					return fmt.Errorf("invalid --start-date: %w", err)
				}
				start = &d
			}

			app, err := newApp(cfg, cmd)
			if err != nil {
				return err
			}
			defer app.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if account != "" {
				res, err := app.runner.Sync(ctx, engine.SyncRequest{AccountID: engine.AccountID(account), Strategy: dir, StartDate: start})
				if err != nil {
					return err
				}
				printResult(cmd, res)
				return nil
			}

			outcomes, err := app.runner.SyncAll(ctx, dir)
			if err != nil {
				return err
			}
			var failed int
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(out, "%s\tfailed: %v\n", o.AccountID, o.Err)
					continue
				}
				printResult(cmd, o.Result)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d account(s) failed to sync", failed, len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id (default: every account)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "forward or reverse (default: config)")
	cmd.Flags().StringVar(&startDate, "start-date", "", "partial forward sync start, YYYY-MM-DD")
	return cmd
}

func printResult(cmd *cobra.Command, res *engine.SyncResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s..%s\tholdings=%d balances=%d converted=%d issues=%d\n",
		res.AccountID, res.Strategy, res.Window.CalcStart, res.Window.End,
		res.Holdings, res.Balances, res.ConvertedBalances, len(res.Issues))
}

// =============================================================================
// INIT
// =============================================================================

func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = "balance-engine.yaml"
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Default()
			if opts.dbPath != "" {
				cfg.Database.Path = opts.dbPath
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// =============================================================================
// WIRING
// =============================================================================

// load reads the config file if given and applies the persistent flags.
func (o *rootOptions) load() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *sqlite.Store
	runner *api.SyncRunner
}

func newApp(cfg *config.Config, cmd *cobra.Command) (*app, error) {
	level, err := cfg.Log.ZerologLevel()
	if err != nil {
		return nil, err
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	m := &engine.Materializer{
		Store:       store,
		Prices:      store,
		Rates:       store,
		Logger:      logger,
		UseHoldings: cfg.Sync.UseHoldings,
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		runner: api.NewSyncRunner(m, cfg.Sync.Concurrency, logger),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("failed to close database")
	}
}

func (a *app) serve() error {
	handler := api.NewHandler(a.store, a.runner, a.logger)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: a.cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	scheduler := api.NewSyncScheduler(a.runner, a.cfg.Sync.Interval, a.cfg.Strategy(), a.logger)
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Int("port", a.cfg.Server.Port).Str("db", a.cfg.Database.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	a.logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
