// yandexreviewsync runs the Yandex Maps review acquisition engine as a
// single binary: it exposes no browser-facing API of its own, only the
// Engine's Go API (see internal/engine) plus an operator-facing /metrics
// and /healthz surface.
//
// Usage:
//
//	export DATABASE_URL=reviews.db
//	export CAPTCHA_API_KEY=<rucaptcha-compatible solver key>
//	./yandexreviewsync
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klppl/yandexreviewsync/internal/config"
	"github.com/klppl/yandexreviewsync/internal/engine"
	"github.com/klppl/yandexreviewsync/internal/metrics"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting yandexreviewsync")

	cfg := config.Load()
	slog.Info("config loaded", "database", cfg.DatabaseURL, "port", cfg.Port,
		"sync_budget", cfg.GlobalSyncBudget, "proxies", len(cfg.YandexProxies))

	eng, err := engine.New(cfg)
	if err != nil {
		slog.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opsSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: metrics.NewOpsRouter(),
	}
	go func() {
		slog.Info("ops server listening", "addr", opsSrv.Addr)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	if len(os.Args) > 1 {
		runOnce(eng, os.Args[1])
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	opsSrv.Shutdown(shutdownCtx)

	slog.Info("yandexreviewsync stopped")
}

// runOnce syncs a single organization URL passed as the first CLI argument,
// for operators who want a one-shot run rather than wiring SyncAllSources
// into their own scheduler.
func runOnce(eng *engine.Engine, organizationURL string) {
	inserted, err := eng.SyncNewReviews(organizationURL)
	if err != nil {
		slog.Error("sync failed", "url", organizationURL, "error", err)
		return
	}
	slog.Info("sync complete", "url", organizationURL, "inserted", inserted)
}
