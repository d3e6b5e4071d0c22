package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/app"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/config"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/llm"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/session"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/store"
)

const pruneInterval = 10 * time.Minute

func main() {
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	appLog := logger.New(cfg.LogFilePath, cfg.IsProduction())
	defer appLog.Sync()

	completer := llm.New(llm.Config{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.AITimeout,
	})
	if !completer.Configured() {
		appLog.Warn("main", "OPENAI_API_KEY is not set; /api/ai will answer 400", nil)
	}

	sessions, closeStore := openStore(ctx, cfg, appLog)
	defer closeStore()

	service := app.NewService(cfg, completer, sessions, appLog)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.AITimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		appLog.Info("main", "Cluppo gateway listening", map[string]interface{}{
			"addr":  cfg.Addr,
			"model": completer.Model(),
			"store": string(cfg.StoreKind()),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("main", "shutdown error", map[string]interface{}{"error": err.Error()})
	}
}

// openStore connects the durable store named by CLUPPO_STORE_URL. A store
// that cannot be reached is logged and the gateway runs without one.
func openStore(ctx context.Context, cfg config.Config, appLog logger.Logger) (app.SessionStore, func()) {
	noop := func() {}
	switch cfg.StoreKind() {
	case config.StoreRedis:
		redisStore, err := session.NewRedisStore(cfg.StoreURL)
		if err != nil {
			appLog.Warn("main", "Redis unavailable, running without durable store", map[string]interface{}{"error": err.Error()})
			return nil, noop
		}
		appLog.Info("main", "Using Redis for session state", nil)
		return redisStore, func() { _ = redisStore.Close() }
	case config.StorePostgres:
		db, err := store.Open(ctx, cfg.StoreURL)
		if err != nil {
			appLog.Warn("main", "PostgreSQL unavailable, running without durable store", map[string]interface{}{"error": err.Error()})
			return nil, noop
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			appLog.Error("main", "migrations failed, running without durable store", map[string]interface{}{"error": err.Error()})
			_ = db.Close()
			return nil, noop
		}
		pgStore := store.NewPostgresStore(db)
		go prune(ctx, pgStore, appLog)
		appLog.Info("main", "Using PostgreSQL for session state", nil)
		return pgStore, func() { _ = pgStore.Close() }
	default:
		appLog.Info("main", "No durable store configured", nil)
		return nil, noop
	}
}

func prune(ctx context.Context, pgStore *store.PostgresStore, appLog logger.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := pgStore.Prune(ctx)
			if err != nil {
				appLog.Warn("main", "prune failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			if removed > 0 {
				appLog.Debug("main", "pruned expired rows", map[string]interface{}{"rows": removed})
			}
		}
	}
}
