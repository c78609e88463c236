package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ObservationMessage is the ingest topic's record for one status poll
type ObservationMessage struct {
	StoreID      uuid.UUID `json:"store_id"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Status       string    `json:"status"`
	ReceivedAt   time.Time `json:"received_at"`
}

// ReportRequest asks the report runner to build a report
type ReportRequest struct {
	ReportID      uuid.UUID  `json:"report_id"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	Trigger       string     `json:"trigger"` // api, schedule
	RequestedAt   time.Time  `json:"requested_at"`
}

const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// ReportEvent announces that a report reached a terminal state
type ReportEvent struct {
	Type             string    `json:"type"` // REPORT_COMPLETED, REPORT_FAILED
	ReportID         uuid.UUID `json:"report_id"`
	ReferenceTime    time.Time `json:"reference_time"`
	OutputLocation   string    `json:"output_location,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	StoreCount       int       `json:"store_count"`
	FailedStoreCount int       `json:"failed_store_count"`
	FinishedAt       time.Time `json:"finished_at"`
}

const (
	ReportEventCompleted = "REPORT_COMPLETED"
	ReportEventFailed    = "REPORT_FAILED"
)

// EncodeObservationMessage encodes an ObservationMessage to JSON
func EncodeObservationMessage(msg *ObservationMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeObservationMessage decodes JSON to ObservationMessage
func DecodeObservationMessage(data []byte) (*ObservationMessage, error) {
	var msg ObservationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.StoreID == uuid.Nil {
		return nil, fmt.Errorf("observation without store_id")
	}
	if msg.Status != StatusActive && msg.Status != StatusInactive {
		return nil, fmt.Errorf("observation with unknown status %q", msg.Status)
	}
	return &msg, nil
}

// EncodeReportRequest encodes a ReportRequest to JSON
func EncodeReportRequest(req *ReportRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeReportRequest decodes JSON to ReportRequest
func DecodeReportRequest(data []byte) (*ReportRequest, error) {
	var req ReportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.ReportID == uuid.Nil {
		return nil, fmt.Errorf("report request without report_id")
	}
	return &req, nil
}

// EncodeReportEvent encodes a ReportEvent to JSON
func EncodeReportEvent(ev *ReportEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeReportEvent decodes JSON to ReportEvent
func DecodeReportEvent(data []byte) (*ReportEvent, error) {
	var ev ReportEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
