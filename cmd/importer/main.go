package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/importer"
	"github.com/smukkama/store-monitor/pkg/config"
)

func main() {
	statusPath := flag.String("status", "", "path to store_status.csv")
	hoursPath := flag.String("hours", "", "path to menu_hours.csv")
	timezonesPath := flag.String("timezones", "", "path to timezones.csv")
	batchSize := flag.Int("batch", 5000, "status rows per insert transaction")
	flag.Parse()

	if *statusPath == "" && *hoursPath == "" && *timezonesPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()

	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	im := importer.New(db, *batchSize, logger)

	// timezones and hours first so stores exist with metadata before polls
	steps := []struct {
		path string
		run  func(context.Context, *os.File) (importer.Stats, error)
	}{
		{*timezonesPath, func(ctx context.Context, f *os.File) (importer.Stats, error) { return im.Timezones(ctx, f) }},
		{*hoursPath, func(ctx context.Context, f *os.File) (importer.Stats, error) { return im.BusinessHours(ctx, f) }},
		{*statusPath, func(ctx context.Context, f *os.File) (importer.Stats, error) { return im.Statuses(ctx, f) }},
	}
	for _, step := range steps {
		if step.path == "" {
			continue
		}
		f, err := os.Open(step.path)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", step.path, err)
		}
		stats, err := step.run(ctx, f)
		f.Close()
		if err != nil {
			log.Fatalf("Failed to import %s: %v", step.path, err)
		}
		fmt.Printf("✓ %s: %d rows, %d written, %d rejected\n", step.path, stats.Rows, stats.Written, stats.Rejected)
	}
}
