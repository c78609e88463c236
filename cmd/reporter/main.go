package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/internal/report"
	"github.com/smukkama/store-monitor/internal/reportstate"
	"github.com/smukkama/store-monitor/internal/scheduler"
	"github.com/smukkama/store-monitor/internal/source"
	"github.com/smukkama/store-monitor/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	fmt.Println("Starting Report Runner...")

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	fmt.Println("Connected to Redis")

	m := metrics.NewRegistry()
	m.Serve(ctx, cfg.HTTP.MetricsAddr, logger)
	states := reportstate.NewManager(redisClient, cfg.Report.StateTTL)

	estimator, _, err := source.NewEstimator(db, cfg.Estimation, logger, m)
	if err != nil {
		log.Fatalf("Failed to create estimator: %v", err)
	}
	writer, err := report.NewWriter(cfg.Report.Format)
	if err != nil {
		log.Fatalf("Failed to create report writer: %v", err)
	}

	events := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReportEvents)
	defer events.Close()
	requests := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReportRequests)
	defer requests.Close()

	builder := report.NewBuilder(estimator, db, cfg.Report.Workers, cfg.Estimation.StoreTimeout, logger, m)
	runner := report.NewRunner(db, states, builder, writer, cfg.Report.OutputDir, events, logger, m)

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReportRequests, "report-runner-group")
	defer consumer.Close()
	fmt.Println("Kafka consumer initialized")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := queue.Consume(ctx, consumer, runner.HandleMessage, logger); err != nil {
			logger.Error("report consumer stopped", "error", err)
		}
	}()

	sched := scheduler.New(1)
	sched.Start()
	defer sched.Stop()

	if cfg.Report.Interval > 0 {
		trigger := report.NewTrigger(db, states, requests, logger)
		err := sched.Every("periodic-report", cfg.Report.Interval, 0, func() {
			reqCtx, reqCancel := context.WithTimeout(ctx, 30*time.Second)
			defer reqCancel()
			if _, err := trigger.Request(reqCtx, nil, protocol.TriggerSchedule); err != nil {
				logger.Error("scheduled report failed to start", "error", err)
			}
		})
		if err != nil {
			log.Fatalf("Failed to schedule periodic reports: %v", err)
		}
		fmt.Printf("✓ Periodic report every %s\n", cfg.Report.Interval)
	}

	fmt.Println("\n✓ Report Runner is running")
	fmt.Printf("✓ Writing %s reports to %s with %d workers\n", writer.Ext(), cfg.Report.OutputDir, cfg.Report.Workers)
	fmt.Printf("✓ Metrics on %s/metrics\n", cfg.HTTP.MetricsAddr)
	fmt.Println("✓ Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
	<-done
	fmt.Println("Report Runner stopped")
}
