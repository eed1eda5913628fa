// Package health provides liveness and readiness checks for the service's
// dependencies: the remote agent API and the history store.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the result of a single check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult describes one dependency's state.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency. Check must respect ctx's deadline.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc struct {
	CheckName  string
	IsCritical bool
	Fn         func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
func (c CheckFunc) Critical() bool                  { return c.IsCritical }

// Manager runs registered checks and serves the probe endpoints.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger, timeout: 5 * time.Second}
}

// Register adds a checker. Safe to call after the server starts.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// Run executes all checks concurrently and returns their results.
func (m *Manager) Run(ctx context.Context) []CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{
				Component: c.Name(),
				Status:    StatusHealthy,
				Duration:  time.Since(start),
				Critical:  c.Critical(),
			}
			if err != nil {
				res.Status = StatusUnhealthy
				res.Error = err.Error()
				m.logger.Warn("Health check failed",
					zap.String("component", c.Name()),
					zap.Error(err))
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()
	return results
}

// Ready reports whether every critical dependency is healthy.
func (m *Manager) Ready(ctx context.Context) bool {
	for _, r := range m.Run(ctx) {
		if r.Critical && r.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// RegisterRoutes registers /health, /health/live, /health/ready and
// /health/detailed on mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/health/live", m.handleLive)
	mux.HandleFunc("/health/ready", m.handleReady)
	mux.HandleFunc("/health/detailed", m.handleDetailed)
}

func (m *Manager) handleLive(w http.ResponseWriter, r *http.Request) {
	// Liveness means the process is serving requests, nothing more.
	writeStatus(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (m *Manager) handleReady(w http.ResponseWriter, r *http.Request) {
	if m.Ready(r.Context()) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func (m *Manager) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := m.Run(r.Context())
	status, code := overall(results)
	writeStatus(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (m *Manager) handleDetailed(w http.ResponseWriter, r *http.Request) {
	results := m.Run(r.Context())
	status, code := overall(results)
	writeStatus(w, code, map[string]interface{}{
		"status":     status,
		"components": results,
		"timestamp":  time.Now().UTC(),
	})
}

func overall(results []CheckResult) (Status, int) {
	for _, r := range results {
		if r.Critical && r.Status != StatusHealthy {
			return StatusUnhealthy, http.StatusServiceUnavailable
		}
	}
	return StatusHealthy, http.StatusOK
}

func writeStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// AgentAPIChecker probes the agent service endpoint with a lightweight GET.
// Any HTTP response, even an auth error, means the endpoint is reachable.
func AgentAPIChecker(endpoint string) Checker {
	client := &http.Client{Timeout: 4 * time.Second}
	return CheckFunc{
		CheckName:  "agent_api",
		IsCritical: true,
		Fn: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		},
	}
}

// Pinger matches the history store's Ping method.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker probes the history database.
func StoreChecker(p Pinger) Checker {
	return CheckFunc{
		CheckName:  "history_store",
		IsCritical: false,
		Fn:         p.Ping,
	}
}
