package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgate.dev/internal/audit"
	"authgate.dev/internal/auth"
	"authgate.dev/internal/config"
	"authgate.dev/internal/httpapi"
	"authgate.dev/internal/obs"
	"authgate.dev/internal/store/memory"
	"authgate.dev/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.SetBuildInfo("authority", version, commit)

	cfg, err := config.LoadAuthority()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Хранилище: PostgreSQL при заданном DSN, иначе in-memory (dev).
	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Printf("AUTHGATE_PG_DSN is not set, using in-memory store")
		store = memory.New()
	}

	codec, err := auth.NewCodec(cfg.JWTSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	refresh := auth.NewRefreshTokenManager(store, codec)
	svc, err := auth.NewService(store, codec, refresh, auth.WithDefaultRole(cfg.DefaultRole))
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("ensure builtin permissions: %v", err)
	}

	// Фоновая чистка истёкших refresh-токенов.
	go sweepLoop(ctx, refresh, cfg.SweepInterval)

	api := httpapi.New(svc, store, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithRateLimit(cfg.RateLimitPerSec))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authgate-authority %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func sweepLoop(ctx context.Context, refresh *auth.RefreshTokenManager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refresh.SweepExpired(ctx)
			if err != nil {
				obs.Log("warn", "refresh_sweep_failed", map[string]any{"error": err.Error()})
				continue
			}
			if n > 0 {
				_ = audit.LogEvent(ctx, audit.EventSweep, map[string]any{"deleted": n})
			}
		}
	}
}
