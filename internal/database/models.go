package database

import (
	"time"

	"github.com/google/uuid"
)

// StatusObservation is one polled status row
type StatusObservation struct {
	ID           int64
	StoreID      uuid.UUID
	TimestampUTC time.Time
	Status       string
	ReceivedAt   time.Time
}

// BusinessHour is one configured weekday row, times as local "HH:MM:SS"
type BusinessHour struct {
	StoreID   uuid.UUID
	DayOfWeek int
	StartTime string
	EndTime   string
}

// Report is a report job row
type Report struct {
	ID               uuid.UUID
	Status           string
	ReferenceTime    *time.Time
	FailureReason    *string
	OutputLocation   *string
	StoreCount       int
	FailedStoreCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// ReportUpdate carries the fields written on a status transition. Nil
// pointers leave the stored value unchanged.
type ReportUpdate struct {
	Status           string
	ReferenceTime    *time.Time
	FailureReason    *string
	OutputLocation   *string
	StoreCount       int
	FailedStoreCount int
}

const (
	ReportStatusPending   = "pending"
	ReportStatusRunning   = "running"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)
