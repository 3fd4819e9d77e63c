package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nlstn/go-ocdb"
	"github.com/nlstn/go-ocdb/internal/config"
	"github.com/nlstn/go-ocdb/internal/observability"
	"github.com/nlstn/go-ocdb/internal/store"
)

// serveFlags override values of the configuration file when set.
type serveFlags struct {
	addr     string
	driver   string
	dsn      string
	logLevel string
	timing   bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dataset HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Address to listen on (overrides server.addr)")
	cmd.Flags().StringVar(&flags.driver, "driver", "", "Database driver: sqlite or postgres (overrides database.driver)")
	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "Database DSN (overrides database.dsn)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides log.level)")
	cmd.Flags().BoolVar(&flags.timing, "server-timing", false, "Emit the Server-Timing header (overrides observability.server_timing)")
	return cmd
}

func loadServeConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Server.Addr = flags.addr
	}
	if changed("driver") {
		cfg.Database.Driver = flags.driver
	}
	if changed("dsn") {
		cfg.Database.DSN = flags.dsn
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("server-timing") {
		cfg.Observability.ServerTiming = flags.timing
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newService opens the database and builds the HTTP handler described by
// cfg.
func newService(ctx context.Context, cfg *config.Config, log *slog.Logger) (http.Handler, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	obsOpts := []observability.Option{
		observability.WithServiceName(cfg.Observability.ServiceName),
	}
	if cfg.Observability.ServiceVersion != "" {
		obsOpts = append(obsOpts, observability.WithServiceVersion(cfg.Observability.ServiceVersion))
	}
	if cfg.Observability.DetailedDBTracing {
		obsOpts = append(obsOpts, observability.WithDetailedDBTracing())
	}
	if cfg.Observability.QueryTracing {
		obsOpts = append(obsOpts, observability.WithQueryTracing())
	}
	if cfg.Observability.ServerTiming {
		obsOpts = append(obsOpts, observability.WithServerTiming())
	}

	svc, err := ocdb.NewService(db,
		ocdb.WithLogger(log),
		ocdb.WithObservability(obsOpts...),
		ocdb.WithPageSize(cfg.Search.DefaultPageSize, cfg.Search.MaxPageSize),
		ocdb.WithBasePath(cfg.Server.BasePath),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := svc.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	if cfg.Server.BasePath == "" {
		return svc, nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.BasePath+"/", http.StripPrefix(cfg.Server.BasePath, svc))
	return mux, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	handler, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.String("addr", cfg.Server.Addr),
			slog.String("driver", cfg.Database.Driver),
			slog.String("base_path", cfg.Server.BasePath),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
