package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"readerapp/internal/metrics"
	"readerapp/internal/ratelimit"
	"readerapp/internal/util"
	"readerapp/pkg/auth"
	"readerapp/pkg/storage"
	"readerapp/pkg/store"
	"readerapp/services/reader/internal/app"
	"readerapp/services/reader/internal/config"
	"readerapp/services/reader/internal/server"
)

const rateWindow = time.Minute

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, "reader")

	storeTimeout, err := config.ParseStoreTimeout(cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("failed to parse store timeout: %v", err)
	}
	scheme, err := auth.ParseScheme(cfg.PasswordScheme)
	if err != nil {
		log.Fatalf("failed to parse password scheme: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	kv, registerLimiter, loginLimiter, err := openStore(cfg, storeTimeout)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := kv.Ping(pingCtx); err != nil {
		logger.Warn("store not reachable at startup", "driver", cfg.StoreDriver, "err", err)
	}
	cancel()

	var mirror storage.ObjectStore
	if cfg.MirrorEnabled() {
		mirror, err = storage.NewMinioStore(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Prefix:    cfg.MinioPrefix,
		})
		if err != nil {
			log.Fatalf("failed to init cover mirror: %v", err)
		}
	}

	collector := metrics.New()
	appCore, err := app.New(app.Config{
		KV:             kv,
		PasswordScheme: scheme,
		UploadDir:      cfg.UploadDir,
		Mirror:         mirror,
		Metrics:        collector,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                appCore,
		Metrics:            collector,
		RegisterLimiter:    registerLimiter,
		LoginLimiter:       loginLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("reader server listening", "addr", addr, "store", cfg.StoreDriver, "passwordScheme", scheme.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down reader server")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	if err := appCore.Close(); err != nil {
		logger.Error("close store", "err", err)
	}
}

// openStore builds the KV for the configured driver together with limiters
// that share its backend.
func openStore(cfg config.FileConfig, timeout time.Duration) (store.KV, ratelimit.Limiter, ratelimit.Limiter, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		register, err := ratelimit.NewLocalLimiter(cfg.RegisterRateLimitPerMinute, rateWindow)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init register limiter: %w", err)
		}
		login, err := ratelimit.NewLocalLimiter(cfg.LoginRateLimitPerMinute, rateWindow)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init login limiter: %w", err)
		}
		return store.NewMemoryKV(), register, login, nil
	default:
		kv, err := store.NewRedisKV(store.RedisKVConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		register, err := ratelimit.NewFixedWindowLimiter(kv.Client(), "reader:ratelimit:register", cfg.RegisterRateLimitPerMinute, rateWindow)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init register limiter: %w", err)
		}
		login, err := ratelimit.NewFixedWindowLimiter(kv.Client(), "reader:ratelimit:login", cfg.LoginRateLimitPerMinute, rateWindow)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init login limiter: %w", err)
		}
		return kv, register, login, nil
	}
}
