package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yutaoyuan/crm-system-sub000/internal/app"
	"github.com/yutaoyuan/crm-system-sub000/internal/audit"
	"github.com/yutaoyuan/crm-system-sub000/internal/config"
	"github.com/yutaoyuan/crm-system-sub000/internal/handlers"
	"github.com/yutaoyuan/crm-system-sub000/internal/importer"
	"github.com/yutaoyuan/crm-system-sub000/internal/reconcile"
	"github.com/yutaoyuan/crm-system-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	st := store.New(pool)
	auditLogger := audit.NewLogger(st)

	reconciler := reconcile.New(st, logger)
	repairs := reconcile.NewQueue(reconciler, cfg.ReconcileWorkers, 0, logger)
	repairs.Start()

	tracker := importer.NewTracker(cfg.ImportTaskTTL, cfg.ImportPollMinInterval)
	go tracker.Run(ctx, time.Minute)

	imports := importer.NewService(st, reconciler, tracker, importer.Options{
		BatchSize:       cfg.ImportBatchSize,
		MaxRows:         cfg.ImportMaxRows,
		JobTimeout:      cfg.ImportJobTimeout,
		CreateCustomers: cfg.ImportCreateCustomers,
	}, logger)

	h := handlers.NewServer(cfg, st, imports, reconciler, repairs, auditLogger, logger)
	go h.RunCacheJanitor(ctx, cfg.ListCacheTTL)

	imports.OnComplete = func(ctx context.Context, snap importer.Snapshot) {
		h.InvalidateListings()
		err := auditLogger.Log(ctx, audit.Entry{
			Action:     "import.completed",
			EntityType: "import",
			EntityID:   snap.ID,
			Metadata: map[string]any{
				"kind":      snap.Kind,
				"filename":  snap.Filename,
				"processed": snap.Processed,
				"success":   snap.Success,
				"failed":    snap.Failed,
				"error":     snap.Error,
			},
		})
		if err != nil {
			logger.Warn("audit_log_failed", "action", "import.completed", "error", err)
		}
	}

	router, err := app.NewRouter(cfg, st, h, logger)
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("api_started", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Running imports keep their own deadline; wait for them before the pool closes.
	imports.Wait()
	repairs.Close()
	logger.Info("api_stopped")
}
