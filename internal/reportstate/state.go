// Package reportstate caches report status in Redis so polling clients do
// not hit Postgres.
package reportstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss means no cached state exists for the report
var ErrMiss = errors.New("report state not cached")

// State is the cached view of a report
type State struct {
	ReportID         uuid.UUID  `json:"report_id"`
	Status           string     `json:"status"`
	ReferenceTime    *time.Time `json:"reference_time,omitempty"`
	OutputLocation   string     `json:"output_location,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	StoreCount       int        `json:"store_count"`
	FailedStoreCount int        `json:"failed_store_count"`
	Done             int64      `json:"done"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Terminal reports whether the state will not change again
func (s *State) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// Manager manages report states in Redis
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new state manager; entries expire after ttl
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{redis: redisClient, ttl: ttl}
}

func stateKey(id uuid.UUID) string {
	return fmt.Sprintf("report_state:%s", id)
}

func progressKey(id uuid.UUID) string {
	return fmt.Sprintf("report_progress:%s", id)
}

// Get retrieves the cached state, including live progress
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*State, error) {
	pipe := m.redis.Pipeline()
	stateCmd := pipe.Get(ctx, stateKey(id))
	progressCmd := pipe.Get(ctx, progressKey(id))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	data, err := stateCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	state, err := decodeState(data)
	if err != nil {
		return nil, err
	}
	if done, err := progressCmd.Int64(); err == nil {
		state.Done = done
	}
	return state, nil
}

// Set saves the report state
func (m *Manager) Set(ctx context.Context, state *State) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := m.redis.Set(ctx, stateKey(state.ReportID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}
	return nil
}

// Advance bumps the number of stores finished for a running report
func (m *Manager) Advance(ctx context.Context, id uuid.UUID) error {
	pipe := m.redis.TxPipeline()
	pipe.Incr(ctx, progressKey(id))
	pipe.Expire(ctx, progressKey(id), m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to advance progress: %w", err)
	}
	return nil
}

// Delete removes the cached state and progress
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	return m.redis.Del(ctx, stateKey(id), progressKey(id)).Err()
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}
