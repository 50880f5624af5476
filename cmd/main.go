/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * message brokers, repositories, the core application service, and the HTTP server.
 * It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/prometheus/client_golang/prometheus: Metrics registry.
 * - internal/api, internal/app, internal/config, internal/metrics, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jobtrail/billing-service/internal/api"
	"github.com/jobtrail/billing-service/internal/app"
	"github.com/jobtrail/billing-service/internal/config"
	"github.com/jobtrail/billing-service/internal/metrics"
	"github.com/jobtrail/billing-service/internal/store"
	rmrabbit "github.com/jobtrail/billing-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"stripe webhook secret must be configured\" env=STRIPE_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish credit events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs rate limiting on the internal spend endpoint. The service
	// keeps running without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Metrics registry and collectors.
	promRegistry := prometheus.DefaultRegisterer
	billingMetrics := metrics.New(promRegistry)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	billingService := app.NewService(
		repository,
		producer,
		billingMetrics,
		cfg.StripeWebhookSecret,
		cfg.SignupBonusCredits,
	)

	var limiter app.RateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the API handlers and router.
	billingHandlers := api.NewBillingHandlers(billingService, limiter, cfg.SpendRateLimitPerMinute, cfg.WebhookRateLimitPerMinute)
	router := api.BillingRoutes(billingHandlers, api.RouterOptions{
		JWKSURL:            cfg.ClerkJWKSURL,
		ClerkAudience:      cfg.ClerkAudience,
		ClerkIssuer:        cfg.ClerkIssuer,
		InternalAPIKey:     cfg.InternalAPIKey,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// Subscribe to user.created events for broker-driven signup bonuses.
	// Broker consumption is optional; the internal endpoint covers the same job.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; signup bonuses via internal endpoint only\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		signupConsumer := app.NewSignupBonusConsumer(billingService)
		bindings := map[string]func([]byte) bool{
			app.RoutingKeyUserCreated: signupConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(app.UserEventsExchange, cfg.UserEventQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"user event consumer start failed\" err=%v", err)
		} else {
			log.Println("level=info component=bootstrap msg=\"user event consumer started\"")
		}
	}

	// Start the reconciliation sweep.
	sweeper := app.NewSweeper(billingService)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"sweep schedule invalid\" schedule=%q err=%v", cfg.SweepSchedule, err)
	}
	defer sweeper.Stop()

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
