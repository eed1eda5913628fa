// Package research orchestrates deep research runs: agent lifecycle, run
// polling, progress fan-out, report building, and history persistence.
package research

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridianlabs/deepresearch/internal/agents"
	"github.com/meridianlabs/deepresearch/internal/citations"
	"github.com/meridianlabs/deepresearch/internal/config"
	"github.com/meridianlabs/deepresearch/internal/metrics"
	"github.com/meridianlabs/deepresearch/internal/reports"
	"github.com/meridianlabs/deepresearch/internal/sinks"
	"github.com/meridianlabs/deepresearch/internal/store"
	"github.com/meridianlabs/deepresearch/internal/streaming"
	"github.com/meridianlabs/deepresearch/internal/tracing"
)

// defaultRetention is how long a finished session stays in memory before it
// is evicted; the SQLite store serves it afterwards. Long enough for late
// SSE replays and the UI's final report fetch.
const defaultRetention = 15 * time.Minute

// Manager owns research sessions and drives them against the agent service.
type Manager struct {
	client    *agents.Client
	stream    *streaming.Manager
	history   *store.Store
	logger    *zap.Logger
	limiter   *rate.Limiter
	retention time.Duration

	mu       sync.RWMutex
	cfg      *config.Config
	sessions map[string]*Session
}

// NewManager creates a session manager. history may be nil when persistence
// is disabled.
func NewManager(client *agents.Client, stream *streaming.Manager, history *store.Store, cfg *config.Config, logger *zap.Logger) *Manager {
	perMinute := cfg.RateLimit.PerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Manager{
		client:    client,
		stream:    stream,
		history:   history,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		retention: defaultRetention,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
	}
}

// ApplyConfig swaps in reloaded tunables (poll interval, rate limits, file
// output settings) without restarting in-flight sessions.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	if cfg.RateLimit.PerMinute > 0 {
		m.limiter.SetLimit(rate.Limit(float64(cfg.RateLimit.PerMinute) / 60.0))
	}
	if cfg.RateLimit.Burst > 0 {
		m.limiter.SetBurst(cfg.RateLimit.Burst)
	}
	m.logger.Info("Research manager config applied",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("rate_per_minute", cfg.RateLimit.PerMinute),
	)
}

func (m *Manager) config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Start submits a new research query and returns the running session.
func (m *Manager) Start(ctx context.Context, query string) (*Session, error) {
	if query == "" {
		return nil, fmt.Errorf("research query must not be empty")
	}
	if !m.limiter.Allow() {
		return nil, ErrRateLimited
	}

	s := &Session{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: time.Now().UTC(),
		status:    StatusRunning,
		registry:  citations.NewRegistry(),
		buffer:    &sinks.Buffer{},
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.ResearchStarted.Inc()
	metrics.SessionsActive.Inc()
	go m.run(runCtx, s)
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns snapshots of all known sessions, newest first.
func (m *Manager) List() []View {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.Snapshot(false))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return views
}

// Cancel stops a running session. The poll loop observes the cancellation
// between iterations.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	s.cancel()
	return nil
}

// run executes the full research flow for one session.
func (m *Manager) run(ctx context.Context, s *Session) {
	defer metrics.SessionsActive.Dec()
	cfg := m.config()
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "research.run")
	defer span.End()
	tracing.AddResearchAttributes(span, s.ID, "", s.Query, 0)

	sink := m.buildSink(s, cfg)
	m.publishStatus(s.ID, string(StatusRunning))

	result, err := m.execute(ctx, s, cfg, sink)
	elapsed := time.Since(start)

	status := StatusFailed
	var report string
	var mtr reports.Metrics
	var errMsg string

	switch {
	case err != nil && ctx.Err() != nil:
		status = StatusCancelled
		errMsg = "cancelled"
		mtr = reports.ComputeMetrics(result, "", s.citationCount(), elapsed)
	case err != nil:
		errMsg = err.Error()
		mtr = reports.ComputeMetrics(result, "", s.citationCount(), elapsed)
		tracing.RecordError(span, err)
		sink.Write(fmt.Sprintf("\n❌ Research failed: %v\n", err))
	case result.Status != agents.StatusCompleted:
		errMsg = fmt.Sprintf("run ended with status %s", result.Status)
		if result.Status == agents.StatusCancelled {
			status = StatusCancelled
		}
		mtr = reports.ComputeMetrics(result, "", s.citationCount(), elapsed)
	default:
		status = StatusSucceeded
		var reg *citations.Registry
		report, reg = reports.BuildSummary(result.FinalMessage)
		sink.Write(fmt.Sprintf("\n📚 Citations:\n%s\n", reg.FormatForDisplay()))
		mtr = reports.ComputeMetrics(result, report, s.citationCount(), elapsed)
		if cfg.SaveFiles {
			if err := reports.SaveReport(cfg.ReportPath, report); err != nil {
				m.logger.Warn("Report save failed", zap.String("run_id", s.ID), zap.Error(err))
			}
		}
	}

	s.finish(status, report, mtr, errMsg)
	metrics.ResearchCompleted.WithLabelValues(string(status)).Inc()
	metrics.ResearchDuration.Observe(elapsed.Seconds())
	if m.history != nil {
		rec := store.Record{
			ID:             s.ID,
			Query:          s.Query,
			Status:         string(status),
			Report:         report,
			CitationCount:  s.citationCount(),
			Iterations:     mtr.Iterations,
			ElapsedSeconds: elapsed.Seconds(),
			CreatedAt:      s.StartedAt,
		}
		if err := m.history.Save(context.Background(), rec); err != nil {
			m.logger.Warn("History save failed", zap.String("run_id", s.ID), zap.Error(err))
		}
	}

	if report != "" {
		m.stream.Publish(s.ID, streaming.Event{Type: streaming.TypeReport, Message: report})
	}
	m.publishStatus(s.ID, string(status))
	// Releases the session's progress buffer and stream ring once late
	// SSE replays have had their window; the store serves it from here on.
	time.AfterFunc(m.retention, func() { m.evict(s.ID) })
	m.logger.Info("Research session finished",
		zap.String("run_id", s.ID),
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed),
		zap.Int("citations", s.citationCount()),
	)
}

// evict drops a finished session and its streaming history from memory.
func (m *Manager) evict(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.stream.Forget(id)
	m.logger.Debug("Research session evicted", zap.String("run_id", id))
}

// execute drives the remote agent flow and returns the poll result.
func (m *Manager) execute(ctx context.Context, s *Session, cfg *config.Config, sink sinks.Sink) (*agents.PollResult, error) {
	connID, err := m.client.GetConnectionID(ctx, cfg.BingResource)
	if err != nil {
		return nil, fmt.Errorf("resolve search connection: %w", err)
	}

	agent, err := m.client.CreateAgent(ctx, agents.CreateAgentRequest{
		Model:            cfg.Model,
		Name:             cfg.AgentName,
		Instructions:     cfg.Instructions,
		ResearchModel:    cfg.ResearchModel,
		BingConnectionID: connID,
	})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	defer func() {
		// Best-effort cleanup, even after cancellation.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.client.DeleteAgent(cleanupCtx, agent.ID); err != nil {
			m.logger.Warn("Agent cleanup failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}()

	thread, err := m.client.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	if _, err := m.client.CreateMessage(ctx, thread.ID, "user", s.Query); err != nil {
		return nil, fmt.Errorf("post query: %w", err)
	}
	run, err := m.client.StartRun(ctx, thread.ID, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	result, err := m.client.PollRun(ctx, thread.ID, run.ID, sink, func(title, url string) {
		s.addCitation(title, url)
		m.stream.Publish(s.ID, streaming.Event{Type: streaming.TypeCitation, Title: title, URL: url})
	}, cfg.PollInterval)
	if err != nil && ctx.Err() != nil {
		// Tell the service to stop the remote run before reporting cancellation.
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := m.client.CancelRun(cancelCtx, thread.ID, run.ID); cerr != nil {
			m.logger.Warn("Remote run cancel failed", zap.String("run_id", run.ID), zap.Error(cerr))
		}
	}
	return result, err
}

func (m *Manager) buildSink(s *Session, cfg *config.Config) sinks.Sink {
	multi := sinks.NewMulti(s.buffer, sinks.NewStream(m.stream, s.ID))
	if cfg.SaveFiles && cfg.ProgressPath != "" {
		if fs, err := sinks.NewFile(cfg.ProgressPath); err == nil {
			multi.Add(fs)
		} else {
			m.logger.Warn("Progress file sink unavailable", zap.Error(err))
		}
	}
	return multi
}

func (m *Manager) publishStatus(runID, status string) {
	m.stream.Publish(runID, streaming.Event{Type: streaming.TypeStatus, Message: status})
}
