// Package reports builds the final research report: normalized superscript
// citations, a numbered source list, and optional file output.
package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meridianlabs/deepresearch/internal/agents"
	"github.com/meridianlabs/deepresearch/internal/citations"
	"github.com/meridianlabs/deepresearch/internal/metrics"
)

// BuildSummary renders an agent's final message as a markdown report with
// superscript citations and an appended numbered source list. It returns the
// markdown and the citation registry in display order. A nil message yields
// a placeholder report and an empty registry.
func BuildSummary(msg *agents.ThreadMessage) (string, *citations.Registry) {
	tracer := otel.Tracer("deepresearch/reports")
	_, span := tracer.Start(context.Background(), "reports.build_summary")
	defer span.End()

	if msg == nil {
		span.SetAttributes(attribute.Bool("summary.created", false))
		return "No message content provided.", citations.NewRegistry()
	}

	texts := msg.Texts()
	trimmed := make([]string, 0, len(texts))
	for _, t := range texts {
		trimmed = append(trimmed, strings.TrimSpace(t))
	}
	body := strings.Join(trimmed, "\n\n")

	markers := citations.CountMarkers(body)
	metrics.MarkersNormalized.Add(float64(markers))
	span.SetAttributes(
		attribute.Int("message.text_count", len(texts)),
		attribute.Int("citations.marker_count", markers),
	)

	content := citations.Normalize(body)
	registry := citations.ExtractCitations(msg.URLCitations())

	if registry.Len() > 0 {
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\n## Citations\n")
		for i, c := range registry.List() {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, c.Title, c.URL)
		}
		content = b.String()
	}

	metrics.ReportBytes.Observe(float64(len(content)))
	span.SetAttributes(
		attribute.Int("summary.unique_citations", registry.Len()),
		attribute.Int("summary.content_length", len(content)),
	)
	return content, registry
}

// SaveReport writes report content to path, creating parent directories.
func SaveReport(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// ProgressLog joins captured progress lines into downloadable file content.
func ProgressLog(lines []string) string {
	if len(lines) == 0 {
		return "No progress recorded."
	}
	return strings.Join(lines, "")
}

// Metrics summarizes a completed research session.
type Metrics struct {
	TotalCitations   int           `json:"total_citations"`
	Iterations       int           `json:"iteration_count"`
	Elapsed          time.Duration `json:"-"`
	ElapsedSeconds   float64       `json:"elapsed_time_seconds"`
	AvgIterationSecs float64       `json:"average_iteration_seconds"`
	ReportLength     int           `json:"report_length"`
	FinalCitations   int           `json:"final_message_citations"`
	HasFinalMessage  bool          `json:"has_final_message"`
}

// ComputeMetrics derives session metrics from the poll result and report.
func ComputeMetrics(res *agents.PollResult, report string, citationCount int, elapsed time.Duration) Metrics {
	m := Metrics{
		TotalCitations: citationCount,
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
		ReportLength:   len(report),
	}
	if res != nil {
		m.Iterations = res.Iterations
		m.HasFinalMessage = res.FinalMessage != nil
		if res.FinalMessage != nil {
			m.FinalCitations = len(res.FinalMessage.URLCitations())
		}
		if res.Iterations > 0 {
			m.AvgIterationSecs = elapsed.Seconds() / float64(res.Iterations)
		}
	}
	return m
}
