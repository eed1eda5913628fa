package research

import (
	"errors"
	"sync"
	"time"

	"github.com/meridianlabs/deepresearch/internal/citations"
	"github.com/meridianlabs/deepresearch/internal/reports"
	"github.com/meridianlabs/deepresearch/internal/sinks"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("research session not found")

	// ErrRateLimited is returned when submissions exceed the configured rate.
	ErrRateLimited = errors.New("research submissions rate limited")

	// ErrNotRunning is returned when cancelling a finished session.
	ErrNotRunning = errors.New("research session is not running")
)

// Status is the lifecycle state of a research session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session tracks one research run from submission to final report.
type Session struct {
	ID        string
	Query     string
	StartedAt time.Time

	mu         sync.RWMutex
	status     Status
	finishedAt time.Time
	report     string
	metrics    reports.Metrics
	errMsg     string
	registry   *citations.Registry
	buffer     *sinks.Buffer
	cancel     func()
}

// View is a read-only snapshot of a session for API responses.
type View struct {
	ID         string               `json:"id"`
	Query      string               `json:"query"`
	Status     Status               `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Citations  []citations.Citation `json:"citations"`
	Progress   []string             `json:"progress"`
	Report     string               `json:"report,omitempty"`
	Metrics    *reports.Metrics     `json:"metrics,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot(includeReport bool) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		ID:        s.ID,
		Query:     s.Query,
		Status:    s.status,
		StartedAt: s.StartedAt,
		Citations: s.registry.List(),
		Progress:  s.buffer.Lines(),
		Error:     s.errMsg,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		v.FinishedAt = &t
		m := s.metrics
		v.Metrics = &m
	}
	if includeReport {
		v.Report = s.report
	}
	return v
}

// Status returns the session's current status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Report returns the final report markdown, empty until the run succeeds.
func (s *Session) Report() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// ProgressLines returns the captured progress output.
func (s *Session) ProgressLines() []string {
	return s.buffer.Lines()
}

func (s *Session) addCitation(title, url string) {
	s.mu.Lock()
	s.registry.Add(url, title)
	s.mu.Unlock()
}

func (s *Session) citationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Len()
}

func (s *Session) finish(status Status, report string, metrics reports.Metrics, errMsg string) {
	s.mu.Lock()
	s.status = status
	s.report = report
	s.metrics = metrics
	s.errMsg = errMsg
	s.finishedAt = time.Now().UTC()
	s.mu.Unlock()
}
