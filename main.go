// Command focusd runs the focus-session lifecycle engine: an HTTP API that
// tracks each user's single active work session and reconciles completed
// sessions with their tasks.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cabril87/100-days-of-fullstack-sub009/internal/clock"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/config"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/event"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/handler"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/repository/sqlite"
	"github.com/cabril87/100-days-of-fullstack-sub009/internal/service"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "focusd",
	Short:        "Focus-session lifecycle and time-accounting engine",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, event dispatcher, and expiry reaper",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry and linkage-recovery pass, then exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "focusd.yaml", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd, sweepCmd)
}

func setupLogging() {
	logOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)
}

// openStores loads config, opens the database, and runs migrations.
func openStores(ctx context.Context) (config.Config, *sqlite.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return config.Config{}, nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return config.Config{}, nil, err
	}
	slog.Info("database migrations applied")

	return cfg, db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, db, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.Real{}
	linkage := service.NewLinkageCoordinator(db.Tasks())
	sessions := service.NewSessionService(db.Sessions(), db.Tasks(), linkage, clk)
	bus := event.NewBus()
	dispatcher := event.NewDispatcher(db.Events(), bus, clk, cfg.Session.DispatchInterval)
	reaper := service.NewReaper(sessions, db.Sessions(), clk,
		cfg.Session.IdleTimeout, cfg.Session.ReapInterval)

	go dispatcher.Run(ctx)
	go reaper.Run(ctx)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, sessions, bus, handler.NewTokenVerifier(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	setupLogging()

	ctx := context.Background()

	cfg, db, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.Real{}
	linkage := service.NewLinkageCoordinator(db.Tasks())
	sessions := service.NewSessionService(db.Sessions(), db.Tasks(), linkage, clk)
	reaper := service.NewReaper(sessions, db.Sessions(), clk,
		cfg.Session.IdleTimeout, cfg.Session.ReapInterval)

	if err := reaper.Sweep(ctx); err != nil {
		return err
	}
	slog.Info("sweep complete")
	return nil
}
