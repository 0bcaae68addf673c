// Wardline relay: development chat backend for the hospital console.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/config"
	"github.com/ashureev/wardline/internal/relay"
	"github.com/ashureev/wardline/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Relay failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var debug bool

	flagSet := pflag.NewFlagSet("wardline-relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML config file (default: $WARDLINE_CONFIG)")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	rc := cfg.Relay
	slog.Info("Starting relay", "port", rc.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(rc.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", rc.DBPath)

	srv, err := relay.NewServer(relay.Config{
		Repo:          repo,
		Departments:   rc.Departments,
		HistoryLimit:  rc.HistoryLimit,
		APIToken:      rc.APIToken,
		AllowedOrigin: rc.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay.StartRetentionWorker(ctx, repo, clock.Real(), rc.Retention, rc.RetentionInterval)

	if rc.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+rc.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen for grpc health: %w", err)
		}
		health := relay.NewHealthServer(repo)
		go func() {
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			if err := health.Serve(ctx, lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Chat sockets are long-lived, so there is no write timeout.
	httpSrv := &http.Server{
		Addr:         ":" + rc.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")
	srv.Hub().CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
