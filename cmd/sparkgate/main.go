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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	cacheadapter "github.com/Ranjithdurai451/spark-code/internal/adapter/driven/cache"
	"github.com/Ranjithdurai451/spark-code/internal/adapter/driven/gemini"
	"github.com/Ranjithdurai451/spark-code/internal/adapter/driven/judge0"
	sqliteadapter "github.com/Ranjithdurai451/spark-code/internal/adapter/driven/sqlite"
	httphandler "github.com/Ranjithdurai451/spark-code/internal/adapter/driving/http"
	"github.com/Ranjithdurai451/spark-code/internal/application"
	"github.com/Ranjithdurai451/spark-code/internal/config"
	"github.com/Ranjithdurai451/spark-code/internal/crypto"
	"github.com/Ranjithdurai451/spark-code/internal/domain/model"
	"github.com/Ranjithdurai451/spark-code/internal/domain/port/driven"
	"github.com/Ranjithdurai451/spark-code/internal/keypool"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"keys_mode", cfg.KeysMode,
		"gemini_keys", len(cfg.GeminiKeys),
		"judge0_keys", len(cfg.Judge0Keys),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire the credential cipher and cache backend.
	cipher, err := crypto.New(cfg.MasterSecret)
	if err != nil {
		return err
	}

	credentialCache := buildCredentialCache(ctx, cfg, slog.Default())

	// 6. Register the managed key pools. In local mode the pools stay empty
	// and every request runs on user-supplied keys.
	pool := keypool.New()
	if cfg.KeysMode == model.KeyModeManaged {
		if err := pool.Register(model.ServiceGemini, cfg.GeminiKeys); err != nil {
			return err
		}
		if err := pool.Register(model.ServiceJudge0, cfg.Judge0Keys); err != nil {
			return err
		}
	}

	// 7. Wire application services.
	creditStore := sqliteadapter.NewCreditRepo(db, cfg.InitialGrant)
	credentialSvc := application.NewCredentialService(credentialCache, cipher, slog.Default())
	invoker := application.NewInvoker(pool, cfg.MaxRetries, slog.Default())
	gate := application.NewAccessGate(creditStore, credentialSvc, invoker, cfg.KeysMode, slog.Default())

	// 8. Create upstream clients and the HTTP handler.
	sessions := httphandler.NewSessionManager(cfg.MasterSecret, 24*time.Hour)
	geminiClient := gemini.NewClient(cfg.GeminiBaseURL)
	judge0Client := judge0.NewClient(cfg.Judge0BaseURL)

	apiHandler := httphandler.NewHandler(
		gate,
		credentialSvc,
		creditStore,
		sessions,
		geminiClient,
		judge0Client,
		cfg.CacheTTL,
		slog.Default(),
	)
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 9. Log startup complete.
	slog.Info("sparkgate started",
		"listen_addr", cfg.ListenAddr,
		"keys_mode", cfg.KeysMode,
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout for HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// 12. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}

// buildCredentialCache selects the cache backend once at startup. With
// REDIS_ADDR set and reachable, Redis is primary with an in-process
// fallback; otherwise the in-process cache serves alone.
func buildCredentialCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) driven.CredentialCache {
	memory := cacheadapter.NewMemory(cfg.CacheTTL)
	if cfg.RedisAddr == "" {
		logger.Info("credential cache backend: memory")
		return memory
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, using memory cache", "addr", cfg.RedisAddr, "error", err)
		return memory
	}

	logger.Info("credential cache backend: redis with memory fallback", "addr", cfg.RedisAddr)
	return cacheadapter.NewFallback(cacheadapter.NewRedis(client, cfg.CacheTTL), memory, logger)
}
