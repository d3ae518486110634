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
	"time"

	"github.com/joho/godotenv"

	"burnbin/internal/httpserver"
	"burnbin/internal/id"
	"burnbin/internal/paste"
	"burnbin/internal/storage"
	"burnbin/internal/storage/memstore"
	"burnbin/internal/storage/mongostore"
	"burnbin/internal/storage/redisstore"
)

func main() {
	// A missing .env is fine; the environment and flags still apply.
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], osLookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	level, err := parseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	scheme, err := id.ParseScheme(cfg.idScheme)
	if err != nil {
		logger.Error("invalid id scheme", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed opening data store", "store", cfg.storeKind, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := paste.New(paste.Config{
		Store:       store,
		IDGenerator: id.NewWithScheme(scheme, cfg.idLength),
		Logger:      logger,
		Tombstones:  cfg.tombstones,
	})
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(httpserver.Config{
		Engine:      engine,
		TrustProxy:  cfg.behindProxy,
		BaseURL:     cfg.baseURL,
		Logger:      logger,
		TestMode:    cfg.testMode,
		CORSOrigins: cfg.corsOrigins,
	})
	if err != nil {
		logger.Error("failed to construct server", "error", err)
		os.Exit(1)
	}
	if cfg.testMode {
		logger.Warn("test mode enabled, clients may override the clock", "header", httpserver.TestNowHeader)
	}

	if cfg.janitorInterval > 0 {
		httpserver.StartJanitor(ctx, store, cfg.janitorInterval, engine.Now, logger)
	}

	srvHTTP := &http.Server{
		Addr:              cfg.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.addr, "store", cfg.storeKind)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config) (storage.Store, error) {
	switch cfg.storeKind {
	case "memory":
		return memstore.New(), nil
	case "redis":
		return redisstore.Open(ctx, cfg.redisURL)
	case "mongo":
		return mongostore.Open(ctx, cfg.mongoURI, cfg.mongoDB)
	default:
		return openFileStore(cfg.dataPath)
	}
}
