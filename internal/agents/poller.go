package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meridianlabs/deepresearch/internal/metrics"
	"github.com/meridianlabs/deepresearch/internal/sinks"
)

// DefaultPollInterval is the wait between run status checks.
const DefaultPollInterval = 1 * time.Second

// cotPrefix marks in-progress reasoning fragments emitted by the deep
// research tool. They are re-labelled before reaching the UI.
const (
	cotPrefix      = "cot_summary:"
	reasoningLabel = "Reasoning:"
)

// CitationFunc is invoked once per newly discovered citation (title, url).
type CitationFunc func(title, url string)

// PollResult is the outcome of a completed poll session.
type PollResult struct {
	Status       RunStatus
	FinalMessage *ThreadMessage
	Iterations   int
}

// PollRun polls a run at a fixed interval until it reaches a terminal
// status, forwarding new agent reasoning and citations to sink and
// onCitation as they appear. It blocks; cancellation happens through ctx,
// checked between iterations.
func (c *Client) PollRun(ctx context.Context, threadID, runID string, sink sinks.Sink, onCitation CitationFunc, interval time.Duration) (*PollResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	tracer := otel.Tracer("deepresearch/agents")
	ctx, span := tracer.Start(ctx, "agents.poll_run")
	defer span.End()
	span.SetAttributes(
		attribute.String("thread.id", threadID),
		attribute.String("run.id", runID),
		attribute.Float64("poll.interval_seconds", interval.Seconds()),
	)

	var (
		lastMessageID string
		iterations    int
		seen          = make(map[string]struct{})
	)

	for {
		select {
		case <-ctx.Done():
			span.SetAttributes(attribute.String("run.final_status", "context_cancelled"))
			return &PollResult{Status: StatusCancelled, Iterations: iterations}, ctx.Err()
		case <-time.After(interval):
		}
		iterations++
		metrics.PollIterations.Inc()

		run, err := c.GetRun(ctx, threadID, runID)
		if err != nil {
			return &PollResult{Iterations: iterations}, fmt.Errorf("get run %s: %w", runID, err)
		}

		lastMessageID, err = c.forwardNewResponse(ctx, threadID, lastMessageID, sink, onCitation, seen, iterations)
		if err != nil {
			c.logger.Warn("Fetch agent response failed",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
		}

		if !run.Status.Terminal() {
			continue
		}

		span.SetAttributes(
			attribute.String("run.final_status", string(run.Status)),
			attribute.Int("run.iteration_count", iterations),
		)
		if run.Status == StatusFailed {
			span.SetAttributes(attribute.String("run.error", run.LastError.String()))
			sink.Write(fmt.Sprintf("\n❌ Run failed: %s\n", run.LastError.String()))
		}

		final, err := c.LastAgentMessage(ctx, threadID)
		if err != nil {
			return &PollResult{Status: run.Status, Iterations: iterations},
				fmt.Errorf("fetch final message: %w", err)
		}
		return &PollResult{Status: run.Status, FinalMessage: final, Iterations: iterations}, nil
	}
}

// forwardNewResponse fetches the newest agent message and, when it carries
// unseen reasoning content, writes it and any new citations to the sink.
// Returns the id of the latest processed message.
func (c *Client) forwardNewResponse(ctx context.Context, threadID, lastMessageID string, sink sinks.Sink, onCitation CitationFunc, seen map[string]struct{}, iteration int) (string, error) {
	msg, err := c.LastAgentMessage(ctx, threadID)
	if err != nil {
		return lastMessageID, err
	}
	if msg == nil || msg.ID == lastMessageID {
		return lastMessageID, nil
	}

	// Only reasoning summaries stream during a run; the final report message
	// arrives without the prefix and is handled after the run completes.
	var cot []string
	for _, t := range msg.Texts() {
		if strings.HasPrefix(t, cotPrefix) {
			cot = append(cot, reasoningLabel+strings.TrimPrefix(t, cotPrefix))
		}
	}
	if len(cot) == 0 {
		return lastMessageID, nil
	}

	sink.Write(fmt.Sprintf("\n🤖 Agent response (iteration %d):\n", iteration))
	sink.Write(strings.Join(cot, "\n"))
	sink.Write("\n")

	for _, ann := range msg.URLCitations() {
		if _, ok := seen[ann.URL]; ok {
			continue
		}
		seen[ann.URL] = struct{}{}
		title := ann.Title
		if title == "" {
			title = ann.URL
		}
		sink.Write(fmt.Sprintf("📖 Citation: [%s](%s)\n", title, ann.URL))
		metrics.CitationsDiscovered.Inc()
		if onCitation != nil {
			onCitation(title, ann.URL)
		}
	}
	return msg.ID, nil
}
