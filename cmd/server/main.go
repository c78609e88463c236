package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/store-monitor/internal/api"
	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/internal/report"
	"github.com/smukkama/store-monitor/internal/reportstate"
	"github.com/smukkama/store-monitor/internal/source"
	"github.com/smukkama/store-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	fmt.Println("Starting Store Monitor API...")

	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	for _, topic := range []struct {
		name       string
		partitions int
	}{
		{cfg.Kafka.TopicObservations, cfg.Kafka.NumPartitions},
		{cfg.Kafka.TopicReportRequests, 1},
		{cfg.Kafka.TopicReportEvents, 1},
	} {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, topic.name, topic.partitions, 1); err != nil {
			fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
		}
	}

	requests := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReportRequests)
	defer requests.Close()
	observations := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicObservations)
	defer observations.Close()
	fmt.Println("Kafka producers initialized")

	m := metrics.NewRegistry()
	states := reportstate.NewManager(redisClient, cfg.Report.StateTTL)

	estimator, _, err := source.NewEstimator(db, cfg.Estimation, logger, m)
	if err != nil {
		log.Fatalf("Failed to create estimator: %v", err)
	}

	srv := api.NewServer(api.Deps{
		Reports:      db,
		States:       states,
		Trigger:      report.NewTrigger(db, states, requests, logger),
		Estimator:    estimator,
		Observations: observations,
		Metrics:      m,
		Logger:       logger,
		Ping: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		FilesDir: cfg.Report.OutputDir,
		BaseURL:  cfg.HTTP.PublicBaseURL,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.Handler(os.Stdout),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	fmt.Println("\n✓ Store Monitor API is running")
	fmt.Printf("✓ HTTP listening on port %d\n", cfg.HTTP.Port)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	fmt.Println("Store Monitor API stopped")
}
