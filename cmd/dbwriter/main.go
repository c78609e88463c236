package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	fmt.Println("Starting Observation Writer Service...")
	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicObservations, "dbwriter-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer created (registering with broker...)")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := metrics.NewRegistry()
	m.Serve(ctx, cfg.HTTP.MetricsAddr, logger)

	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval, logger, m)
	batchWriter.Start(ctx)
	fmt.Println("Batch writer started")

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := consumer.Stats()
			logger.Info("consumer stats", "messages", stats.Messages, "bytes", stats.Bytes, "errors", stats.Errors)
		}
	}()

	fmt.Println("\n✓ Observation Writer Service is running")
	fmt.Println("✓ Consuming status polls from Kafka and writing to PostgreSQL")
	fmt.Printf("✓ Batch size: %d messages | Flush interval: %s\n", cfg.Ingest.BatchSize, cfg.Ingest.FlushInterval)
	fmt.Printf("✓ Metrics on %s/metrics\n", cfg.HTTP.MetricsAddr)
	fmt.Println("✓ Press Ctrl+C to stop")
	fmt.Println("\nWaiting for messages...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	batchWriter.Stop()
	cancel()
	fmt.Println("Observation Writer Service stopped")
}
