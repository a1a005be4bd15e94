// Command server runs the Incentra webhook dispatch service: the management
// and internal HTTP APIs, the Kafka domain-event intake, and (optionally) an
// internal retry scheduler loop.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"incentra/internal/audit"
	httpapi "incentra/internal/http"
	"incentra/internal/platform/config"
	"incentra/internal/platform/httpserver"
	kafkaconsumer "incentra/internal/platform/kafka/consumer"
	"incentra/internal/platform/logger"
	platformredis "incentra/internal/platform/redis"
	"incentra/internal/webhook/handler"
	"incentra/internal/webhook/intake"
	"incentra/internal/webhook/lease"
	"incentra/internal/webhook/metrics"
	"incentra/internal/webhook/service"
	deliverystore "incentra/internal/webhook/store/delivery"
	subscriptionstore "incentra/internal/webhook/store/subscription"
	"incentra/pkg/platform/middleware/auth"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	subscriptions, deliveries, dbClose := buildStores(cfg, log)
	if dbClose != nil {
		defer dbClose()
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
		service.WithAuditPublisher(audit.NewPublisher(audit.NewInMemoryStore())),
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, service.WithLease(lease.NewRedis(redisClient.Client, log)))
		log.Info("scheduler lease backed by redis")
	} else {
		opts = append(opts, service.WithLease(lease.NewLocal()))
		log.Info("redis not configured, scheduler lease is process-local")
	}

	svc := service.New(subscriptions, deliveries, cfg.Webhook, opts...)

	verifier := auth.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer)
	router := httpapi.NewRouter(handler.New(svc, log), verifier)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Group:   cfg.Kafka.Group,
		}, intake.NewHandler(svc, log), log)
		if err != nil {
			log.Error("kafka intake setup failed", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka intake stopped", "error", err)
			}
		}()
		log.Info("kafka intake running", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
	}

	if cfg.Webhook.PollInterval > 0 {
		go func() {
			if err := svc.RunScheduler(ctx, cfg.Webhook.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("retry scheduler stopped", "error", err)
			}
		}()
		log.Info("internal retry scheduler running", "interval", cfg.Webhook.PollInterval)
	}

	go func() {
		log.Info("incentra webhook service listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildStores picks PostgreSQL stores when DATABASE_URL is set, in-memory
// stores otherwise (development only; delivery state does not survive a
// restart without Postgres).
func buildStores(cfg config.Server, log *slog.Logger) (service.SubscriptionStore, service.DeliveryStore, func() error) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, using in-memory stores")
		return subscriptionstore.NewInMemory(), deliverystore.NewInMemory(), nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("database open failed", "error", err)
		os.Exit(1)
	}
	if err := db.Ping(); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	log.Info("using postgres stores")
	return subscriptionstore.NewPostgres(db), deliverystore.NewPostgres(db), db.Close
}
