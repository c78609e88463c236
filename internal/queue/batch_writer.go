package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/protocol"
)

// ObservationSink persists decoded observations
type ObservationSink interface {
	InsertObservations(ctx context.Context, obs []database.StatusObservation) (int64, error)
}

// BatchWriter consumes observation messages and batch-writes them to the database
type BatchWriter struct {
	src           MessageSource
	sink          ObservationSink
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *metrics.Registry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(src MessageSource, sink ObservationSink, batchSize int, flushInterval time.Duration, logger *slog.Logger, m *metrics.Registry) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		src:           src,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		metrics:       m,
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) {
	ctx, bw.cancel = context.WithCancel(ctx)

	msgCh := make(chan kafka.Message, bw.batchSize)
	bw.wg.Add(2)
	go bw.fetch(ctx, msgCh)
	go bw.run(ctx, msgCh)
}

// Stop flushes what has been consumed and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	if bw.cancel != nil {
		bw.cancel()
	}
	bw.wg.Wait()
}

func (bw *BatchWriter) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer bw.wg.Done()

	for {
		msg, err := bw.src.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.logger.Error("consume failed", "error", err)
			if !sleep(ctx, retryBackoff) {
				return
			}
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (bw *BatchWriter) run(ctx context.Context, in <-chan kafka.Message) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				bw.flush(context.WithoutCancel(ctx), batch)
			}
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.logger.Debug("flush interval reached", "messages", len(batch))
				batch = bw.flush(ctx, batch)
			}

		case msg := <-in:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.logger.Debug("batch full", "messages", len(batch))
				batch = bw.flush(ctx, batch)
			}
		}
	}
}

// flush writes the batch and commits its offsets. On a write failure the
// batch is returned so the next flush retries it.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	obs, rejected := decodeBatch(batch, bw.logger)
	bw.metrics.ObservationsAt("rejected", rejected)

	inserted, err := bw.sink.InsertObservations(ctx, obs)
	if err != nil {
		bw.logger.Error("failed to write observations", "messages", len(batch), "error", err)
		return batch
	}

	if err := bw.src.Commit(ctx, batch...); err != nil {
		bw.logger.Error("failed to commit offsets", "messages", len(batch), "error", err)
	}

	bw.metrics.ObservationsAt("written", int(inserted))
	bw.metrics.ObservationsAt("duplicate", len(obs)-int(inserted))
	bw.logger.Info("flushed observations",
		"messages", len(batch), "inserted", inserted, "rejected", rejected)
	return nil
}

func decodeBatch(batch []kafka.Message, logger *slog.Logger) ([]database.StatusObservation, int) {
	obs := make([]database.StatusObservation, 0, len(batch))
	rejected := 0
	for _, msg := range batch {
		m, err := protocol.DecodeObservationMessage(msg.Value)
		if err != nil {
			logger.Warn("rejecting observation", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			rejected++
			continue
		}
		obs = append(obs, database.StatusObservation{
			StoreID:      m.StoreID,
			TimestampUTC: m.TimestampUTC,
			Status:       m.Status,
			ReceivedAt:   m.ReceivedAt,
		})
	}
	return obs, rejected
}
