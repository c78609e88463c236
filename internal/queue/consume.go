package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// HandlerFunc processes one message
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

// ErrRetry marks a handler failure worth retrying in place before the
// offset is committed. Any other error drops the message.
var ErrRetry = errors.New("retry message")

// retryBackoff is the pause between in-place retries and failed fetches
var retryBackoff = time.Second

// Consume runs handle for each message until ctx is cancelled. Offsets are
// committed after the message is handled or dropped.
func Consume(ctx context.Context, src MessageSource, handle HandlerFunc, logger *slog.Logger) error {
	for {
		msg, err := src.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("consume failed", "error", err)
			if !sleep(ctx, retryBackoff) {
				return nil
			}
			continue
		}

		for {
			err = handle(ctx, msg)
			if !errors.Is(err, ErrRetry) {
				break
			}
			logger.Warn("retrying message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			if !sleep(ctx, retryBackoff) {
				return nil
			}
		}
		if err != nil {
			logger.Error("dropping message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}

		if err := src.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error("commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
