package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Timestamp layouts accepted from clients and dataset exports
const (
	LayoutReport  = "2006-01-02 15:04:05"
	LayoutDataset = "2006-01-02 15:04:05.999999999 MST"
)

// ParseTimestamp parses a UTC instant in RFC3339, "YYYY-MM-DD HH:MM:SS" or the
// dataset's "YYYY-MM-DD HH:MM:SS.ffffff UTC" form
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, LayoutDataset, LayoutReport} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (want RFC3339 or %q)", s, LayoutReport)
}

// StatusPayload is a status poll as submitted over HTTP
type StatusPayload struct {
	StoreID      string `json:"store_id"`
	TimestampUTC string `json:"timestamp_utc"`
	Status       string `json:"status"`
}

// ParseStatusPayload decodes and validates a submitted status poll
func ParseStatusPayload(data []byte) (*ObservationMessage, error) {
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return p.Validate()
}

// Validate checks the payload and converts it to the queue message
func (p StatusPayload) Validate() (*ObservationMessage, error) {
	id, err := uuid.Parse(p.StoreID)
	if err != nil {
		return nil, fmt.Errorf("store_id must be a UUID: %w", err)
	}
	if p.TimestampUTC == "" {
		return nil, fmt.Errorf("timestamp_utc is required")
	}
	ts, err := ParseTimestamp(p.TimestampUTC)
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(p.Status))
	switch status {
	case StatusActive, StatusInactive:
	default:
		return nil, fmt.Errorf("status must be %q or %q, got %q", StatusActive, StatusInactive, p.Status)
	}

	return &ObservationMessage{
		StoreID:      id,
		TimestampUTC: ts,
		Status:       status,
	}, nil
}

// TriggerPayload is the optional body of a report trigger
type TriggerPayload struct {
	TimestampUTC string `json:"timestamp_utc"`
}

// ReferenceTime returns the pinned reference instant, or nil when unset
func (p TriggerPayload) ReferenceTime() (*time.Time, error) {
	if strings.TrimSpace(p.TimestampUTC) == "" {
		return nil, nil
	}
	ts, err := ParseTimestamp(p.TimestampUTC)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
