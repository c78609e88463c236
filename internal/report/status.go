// Package report builds store uptime reports as asynchronous jobs.
package report

import (
	"errors"
	"fmt"

	"github.com/smukkama/store-monitor/internal/database"
)

// Status is a report's lifecycle state
type Status string

const (
	StatusPending   Status = database.ReportStatusPending
	StatusRunning   Status = database.ReportStatusRunning
	StatusCompleted Status = database.ReportStatusCompleted
	StatusFailed    Status = database.ReportStatusFailed
)

// ErrInvalidTransition is returned for a move the lifecycle does not allow
var ErrInvalidTransition = errors.New("invalid report status transition")

// transitions lists the allowed predecessors of each state. running may be
// re-entered so a redelivered request can resume after a crash.
var transitions = map[Status][]Status{
	StatusRunning:   {StatusPending, StatusRunning},
	StatusCompleted: {StatusRunning},
	StatusFailed:    {StatusPending, StatusRunning},
}

// ParseStatus validates a stored status
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown report status %q", s)
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, p := range transitions[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Transition validates from -> to
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Predecessors returns the states a report may be in before entering to
func Predecessors(to Status) []string {
	out := make([]string, 0, len(transitions[to]))
	for _, p := range transitions[to] {
		out = append(out, string(p))
	}
	return out
}
