package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/notification"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	fmt.Println("Starting Notification Service...")

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.NewRegistry()
	m.Serve(ctx, cfg.HTTP.MetricsAddr, logger)

	notifier := notification.NewEmailNotifier(&cfg.SMTP, cfg.HTTP.PublicBaseURL, logger, m)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		fmt.Printf("Note: %v (notifications will be logged only)\n", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReportEvents, "notification-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := queue.Consume(ctx, consumer, notifier.HandleMessage, logger); err != nil {
			logger.Error("notification consumer stopped", "error", err)
		}
	}()

	fmt.Println("\n✓ Notification Service is running")
	fmt.Printf("✓ Metrics on %s/metrics\n", cfg.HTTP.MetricsAddr)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
}
