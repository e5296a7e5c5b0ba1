package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"imagen-relay-server/modules/common/config"
	"imagen-relay-server/modules/common/credential"
	"imagen-relay-server/modules/common/logger"
	"imagen-relay-server/modules/common/metrics"
	redisClient "imagen-relay-server/modules/common/redis"
	generateimage "imagen-relay-server/modules/generate-image"
	"imagen-relay-server/modules/server"
)

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	zlog := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zlog.Sync() //nolint:errcheck

	zlog.Info("✅ Configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("endpoint", cfg.GoogleEndpoint),
		zap.String("credentials", cfg.CredentialSource()),
		zap.Bool("tokenCache", cfg.TokenCacheEnabled))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	// 자격증명 provider (옵션: Redis 토큰 캐시)
	var provider credential.Provider = credential.NewGoogleProvider(cfg, zlog)
	if cfg.TokenCacheEnabled {
		rdb, err := redisClient.Connect(ctx, cfg, zlog)
		if err != nil {
			zlog.Warn("⚠️  Token cache disabled, Redis unavailable", zap.Error(err))
		} else {
			defer rdb.Close()
			provider = credential.NewCachedProvider(provider, rdb, cfg.Scope, cfg.TokenCacheSkew, zlog, collector)
		}
	}

	client := generateimage.NewClient(&http.Client{}, cfg.GoogleEndpoint, cfg.UpstreamTimeout, zlog)
	service := generateimage.NewService(provider, client, zlog)
	handler := generateimage.NewGenerateImageHandler(service, cfg.DefaultSampleCount, collector, zlog)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(handler, collector, zlog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("🚀 Server running on http://localhost:" + cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Graceful shutdown failed", zap.Error(err))
	}
}
