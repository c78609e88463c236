package source

import (
	"log/slog"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/uptime"
	"github.com/smukkama/store-monitor/pkg/config"
)

// NewEstimator builds an estimator reading through a Resilient wrapper
// around backing
func NewEstimator(backing uptime.Source, cfg config.EstimationConfig, logger *slog.Logger, m *metrics.Registry) (*uptime.Estimator, *Resilient, error) {
	policy, err := uptime.ParseEmptyBucketPolicy(cfg.EmptyBucketPolicy)
	if err != nil {
		return nil, nil, err
	}

	src := NewResilient(backing, Options{
		Attempts:  cfg.RetryAttempts,
		Delay:     cfg.RetryDelay,
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
	}, logger, m)

	est := uptime.NewEstimator(src, uptime.Options{
		DefaultTimezone:   cfg.DefaultTimezone,
		BucketWidth:       cfg.BucketWidth,
		HistoryLimit:      cfg.HistoryLimit,
		HistoryHalfWindow: cfg.HistoryHalfWindow,
		EmptyBucketPolicy: policy,
	})
	return est, src, nil
}
