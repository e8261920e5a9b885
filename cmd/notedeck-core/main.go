package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hitalin/notedeck/internal/bridge"
	"github.com/hitalin/notedeck/internal/commands"
	"github.com/hitalin/notedeck/internal/config"
	"github.com/hitalin/notedeck/internal/eventbus"
	"github.com/hitalin/notedeck/internal/gateway"
	"github.com/hitalin/notedeck/internal/imagecache"
	"github.com/hitalin/notedeck/internal/keychain"
	"github.com/hitalin/notedeck/internal/logging"
	"github.com/hitalin/notedeck/internal/metrics"
	"github.com/hitalin/notedeck/internal/security"
	"github.com/hitalin/notedeck/internal/store"
	"github.com/hitalin/notedeck/internal/streaming"
	"github.com/hitalin/notedeck/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()

	st, err := store.Open(cfg.Store.Path, logger, metricsRegistry)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}
	defer st.Close()

	kc := keychain.New(st)
	up := upstream.New(upstream.Config{
		UserAgent:         cfg.Upstream.UserAgent,
		Timeout:           cfg.Upstream.Timeout,
		ConnectTimeout:    cfg.Upstream.ConnectTimeout,
		MaxIdlePerHost:    cfg.Upstream.MaxIdlePerHost,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
	})

	bus := eventbus.New()
	streamManager := streaming.New(cfg.Streaming, bus, st, logger, metricsRegistry)

	images, err := imagecache.New(cfg.ImageCache.Dir, cfg.ImageCache.FetchTimeout, logger, metricsRegistry)
	if err != nil {
		logger.Fatal("image cache init failed", zap.Error(err))
	}

	qb := bridge.New(bus)
	defer qb.Close()

	sessions := security.NewAuthSessionTracker()
	svc := commands.New(st, kc, up, streamManager, sessions)

	gw, err := gateway.New(cfg.Gateway, svc, bus, images, qb, logger, metricsRegistry)
	if err != nil {
		logger.Fatal("gateway init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconnectKnownAccounts(ctx, svc, logger)

	gatewayErrCh := make(chan error, 1)
	go func() {
		gatewayErrCh <- gw.Start()
	}()

	diagErrCh := make(chan error, 1)
	go func() {
		diagErrCh <- runDiagnosticsServer(ctx, cfg, metricsRegistry, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-gatewayErrCh:
		if err != nil {
			logger.Error("gateway server error", zap.Error(err))
		}
		stop()
	case err := <-diagErrCh:
		if err != nil {
			logger.Error("diagnostics server error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", zap.Error(err))
	}
	streamManager.Shutdown(shutdownCtx)
	logger.Info("notedeck-core stopped")
}

// reconnectKnownAccounts opens a streaming connection for every account
// already on file, so a restart resumes live updates without the UI
// having to re-issue connect calls.
func reconnectKnownAccounts(ctx context.Context, svc *commands.Service, logger *zap.Logger) {
	accounts, err := svc.ListAccounts()
	if err != nil {
		logger.Warn("failed to list accounts for reconnect", zap.Error(err))
		return
	}
	for _, account := range accounts {
		if err := svc.ConnectAccount(ctx, account.ID); err != nil {
			logger.Warn("failed to reconnect account", zap.String("accountId", account.ID), zap.Error(err))
		}
	}
}

func runDiagnosticsServer(ctx context.Context, cfg config.Config, metricsRegistry *metrics.Registry, logger *zap.Logger) error {
	if !cfg.Metrics.Enabled {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	mux.Handle(cfg.Metrics.Endpoint, metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("diagnostics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
