/**
 * @description
 * This is the main entry point for the Apps on Purpose service. It loads the
 * configuration, builds the identity and email clients, connects the optional
 * Redis and RabbitMQ backends, wires the application service into the HTTP
 * router and starts the server with graceful shutdown.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Shared webhook dedupe and login rate limiting.
 * - go.uber.org/zap: Structured logging.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/identityclient, pkg/notifyclient, pkg/rabbitmq, pkg/signature: Provider clients and helpers.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/api"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/app"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/config"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/logger"
	"github.com/kendryah-htp/apps-on-purpose-netlify/internal/store"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/identityclient"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/notifyclient"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/rabbitmq"
	"github.com/kendryah-htp/apps-on-purpose-netlify/pkg/signature"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	zlog, err := logger.New(cfg.LogEnv)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer zlog.Sync()

	if err := cfg.Validate(); err != nil {
		zlog.Fatal("configuration rejected", zap.Error(err))
	}
	if cfg.WebhookSigningSecret == "" {
		zlog.Warn("webhook signature verification disabled; unsigned deliveries will be accepted")
	}

	identity := identityclient.NewClient(identityclient.Config{
		BaseURL:           cfg.IdentityBaseURL,
		PublicKey:         cfg.IdentityPublicKey,
		AdminKey:          cfg.IdentityAdminKey,
		MagicLinkRedirect: cfg.DashboardURL(),
		FallbackLink:      cfg.DashboardURL(),
		Timeout:           cfg.HTTPClientTimeout(),
	}, zlog)
	if !cfg.IdentityAdminEnabled() {
		zlog.Warn("identity admin integration disabled; buyers will receive the dashboard link")
	}

	notifier := notifyclient.NewClient(notifyclient.Config{
		APIKey:  cfg.EmailAPIKey,
		BaseURL: cfg.EmailBaseURL,
		Timeout: cfg.HTTPClientTimeout(),
	}, zlog)

	redisClient := connectRedis(cfg, zlog)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var (
		deduper store.Deduper
		limiter store.RateLimiter
	)
	if redisClient != nil {
		deduper = store.NewRedisDeduper(redisClient, cfg.RedisKeyPrefix, cfg.WebhookDedupeTTL())
		if cfg.LoginRateLimitPerMinute > 0 {
			limiter = store.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix, cfg.LoginRateLimitPerMinute, time.Minute)
		}
	} else {
		deduper = store.NewMemoryDeduper(store.DefaultMemoryDedupeWindow)
		if cfg.LoginRateLimitPerMinute > 0 {
			limiter = store.NewMemoryRateLimiter(cfg.LoginRateLimitPerMinute, time.Minute)
		}
	}

	// A nil *EventProducer must not reach the service as a non-nil interface.
	var publisher rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		zlog.Info("rabbitmq url not set; event bus publishing disabled")
	} else {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.RabbitMQExchange, zlog)
		if err != nil {
			zlog.Warn("rabbitmq producer unavailable; event bus publishing disabled", zap.Error(err))
		} else {
			defer producer.Close()
			publisher = producer
			zlog.Info("rabbitmq producer connected", zap.String("exchange", cfg.RabbitMQExchange))
		}
	}

	service := app.NewService(app.SettingsFromConfig(cfg), identity, notifier, publisher, deduper, zlog.Named("app"))
	verifier := signature.NewVerifier(cfg.WebhookSigningSecret, cfg.WebhookTolerance())
	handler := api.NewHandler(service, verifier, limiter, zlog.Named("api"))
	router := api.NewRouter(handler, zlog.Named("http"))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	zlog.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("shutdown failed", zap.Error(err))
	}

	zlog.Info("shutdown complete")
}

// connectRedis returns nil when REDIS_URL is unset or unreachable, in which
// case dedupe and rate limiting fall back to process memory.
func connectRedis(cfg config.Config, zlog *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		zlog.Info("redis url not set; using in-process dedupe and rate limiting")
		return nil
	}

	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zlog.Warn("redis url parse failed; using in-process dedupe and rate limiting", zap.Error(err))
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("redis ping failed; using in-process dedupe and rate limiting", zap.Error(err))
		client.Close()
		return nil
	}

	zlog.Info("redis connected")
	return client
}
