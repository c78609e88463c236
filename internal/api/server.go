// Package api serves the report trigger, polling and ingest endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/internal/reportstate"
	"github.com/smukkama/store-monitor/internal/schedule"
	"github.com/smukkama/store-monitor/internal/uptime"
)

const maxBodyBytes = 1 << 20

// ReportStore reads report rows
type ReportStore interface {
	GetReport(ctx context.Context, id uuid.UUID) (*database.Report, error)
	ListReports(ctx context.Context, limit int) ([]*database.Report, error)
}

// StateReader reads cached report state
type StateReader interface {
	Get(ctx context.Context, id uuid.UUID) (*reportstate.State, error)
}

// Triggerer enqueues new reports
type Triggerer interface {
	Request(ctx context.Context, ref *time.Time, trigger string) (*database.Report, error)
}

// Estimator computes a single store's windows on demand
type Estimator interface {
	ComputeUptimeReport(ctx context.Context, storeID uuid.UUID, ref time.Time) (uptime.Report, error)
}

// Deps wires the server to its collaborators. States and Observations are
// optional.
type Deps struct {
	Reports      ReportStore
	States       StateReader
	Trigger      Triggerer
	Estimator    Estimator
	Observations queue.Publisher
	Metrics      *metrics.Registry
	Logger       *slog.Logger
	// Ping checks backing services for /healthz
	Ping func(ctx context.Context) error
	// FilesDir holds finished report files, served under /files/
	FilesDir string
	// BaseURL prefixes report_file_url; empty yields relative links
	BaseURL string
}

type Server struct {
	deps Deps
	now  func() time.Time
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, now: time.Now}
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods("GET")
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")

	r.HandleFunc("/trigger_report", s.triggerReport).Methods("POST")
	r.HandleFunc("/get_report/{id}", s.getReport).Methods("GET")
	r.HandleFunc("/reports", s.listReports).Methods("GET")
	r.HandleFunc("/stores/{id}/uptime", s.storeUptime).Methods("GET")
	r.HandleFunc("/observations", s.postObservation).Methods("POST")

	if s.deps.FilesDir != "" {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(s.deps.FilesDir)))).Methods("GET")
	}
	return r
}

// Handler returns the router wrapped with access logging and panic recovery
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	if accessLog == nil {
		accessLog = os.Stdout
	}
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(s.Router())
	return handlers.LoggingHandler(accessLog, recovered)
}

type triggerResponse struct {
	ReportID uuid.UUID `json:"report_id"`
	Status   string    `json:"status"`
}

func (s *Server) triggerReport(w http.ResponseWriter, r *http.Request) {
	var payload protocol.TriggerPayload
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	ref, err := payload.ReferenceTime()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.deps.Trigger.Request(r.Context(), ref, protocol.TriggerAPI)
	if err != nil {
		s.deps.Logger.Error("trigger report failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not start report")
		return
	}
	writeJSON(w, http.StatusAccepted, triggerResponse{ReportID: rep.ID, Status: rep.Status})
}

type reportResponse struct {
	ReportID         uuid.UUID `json:"report_id"`
	Status           string    `json:"status"`
	TimestampUTC     string    `json:"timestamp_utc"`
	ReportFileURL    string    `json:"report_file_url,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	StoreCount       int       `json:"store_count,omitempty"`
	FailedStoreCount int       `json:"failed_store_count,omitempty"`
	StoresDone       int64     `json:"stores_done,omitempty"`
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "report id must be a UUID")
		return
	}

	if s.deps.States != nil {
		st, err := s.deps.States.Get(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, s.fromState(st))
			return
		case !errors.Is(err, reportstate.ErrMiss):
			s.deps.Logger.Warn("report state cache read failed", "report_id", id, "error", err)
		}
	}

	rep, err := s.deps.Reports.GetReport(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.deps.Logger.Error("get report failed", "report_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, s.fromRow(rep))
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	reps, err := s.deps.Reports.ListReports(r.Context(), limit)
	if err != nil {
		s.deps.Logger.Error("list reports failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	out := make([]reportResponse, 0, len(reps))
	for _, rep := range reps {
		out = append(out, s.fromRow(rep))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) storeUptime(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "store id must be a UUID")
		return
	}

	ref := s.now().UTC()
	if at := r.URL.Query().Get("at"); at != "" {
		if ref, err = protocol.ParseTimestamp(at); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rep, err := s.deps.Estimator.ComputeUptimeReport(r.Context(), id, ref)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rep)
	case errors.Is(err, uptime.ErrUnresolvableTimezone), errors.Is(err, schedule.ErrMalformedSchedule):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.deps.Logger.Error("store estimate failed", "store_id", id, "error", err)
		writeError(w, http.StatusServiceUnavailable, "estimate unavailable")
	}
}

func (s *Server) postObservation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observations == nil {
		writeError(w, http.StatusNotImplemented, "ingest disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	msg, err := protocol.ParseStatusPayload(body)
	if err != nil {
		s.deps.Metrics.ObservationsAt("rejected", 1)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg.ReceivedAt = s.now().UTC()

	data, err := protocol.EncodeObservationMessage(msg)
	if err == nil {
		err = s.deps.Observations.Publish(r.Context(), msg.StoreID.String(), data)
	}
	if err != nil {
		s.deps.Logger.Error("publish observation failed", "store_id", msg.StoreID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not queue observation")
		return
	}
	s.deps.Metrics.ObservationsAt("published", 1)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fromState(st *reportstate.State) reportResponse {
	resp := reportResponse{
		ReportID:         st.ReportID,
		Status:           st.Status,
		TimestampUTC:     formatRef(st.ReferenceTime, st.UpdatedAt),
		FailureReason:    st.FailureReason,
		StoreCount:       st.StoreCount,
		FailedStoreCount: st.FailedStoreCount,
		StoresDone:       st.Done,
	}
	if st.Status == database.ReportStatusCompleted && st.OutputLocation != "" {
		resp.ReportFileURL = s.fileURL(st.OutputLocation)
	}
	return resp
}

func (s *Server) fromRow(rep *database.Report) reportResponse {
	resp := reportResponse{
		ReportID:         rep.ID,
		Status:           rep.Status,
		TimestampUTC:     formatRef(rep.ReferenceTime, rep.CreatedAt),
		StoreCount:       rep.StoreCount,
		FailedStoreCount: rep.FailedStoreCount,
	}
	if rep.FailureReason != nil {
		resp.FailureReason = *rep.FailureReason
	}
	if rep.Status == database.ReportStatusCompleted && rep.OutputLocation != nil {
		resp.ReportFileURL = s.fileURL(*rep.OutputLocation)
	}
	return resp
}

func (s *Server) fileURL(name string) string {
	return s.deps.BaseURL + "/files/" + name
}

// formatRef renders the reference instant, falling back to when the report
// was recorded if it has not been pinned yet
func formatRef(ref *time.Time, fallback time.Time) string {
	if ref != nil {
		return ref.UTC().Format(protocol.LayoutReport)
	}
	return fallback.UTC().Format(protocol.LayoutReport)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
