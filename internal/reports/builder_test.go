package reports

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/deepresearch/internal/agents"
	"github.com/meridianlabs/deepresearch/internal/citations"
)

func messageWith(texts []string, anns []citations.Annotation) *agents.ThreadMessage {
	msg := &agents.ThreadMessage{ID: "msg_1", Role: "assistant"}
	for i, t := range texts {
		mt := &agents.MessageText{Value: t}
		if i == 0 {
			for j := range anns {
				mt.Annotations = append(mt.Annotations, agents.MessageAnnotation{
					Type:        "url_citation",
					URLCitation: &anns[j],
				})
			}
		}
		msg.Content = append(msg.Content, agents.MessageContent{Type: "text", Text: mt})
	}
	return msg
}

func TestBuildSummaryNilMessage(t *testing.T) {
	content, reg := BuildSummary(nil)
	assert.Equal(t, "No message content provided.", content)
	assert.Equal(t, 0, reg.Len())
}

func TestBuildSummaryNormalizesAndAppendsCitations(t *testing.T) {
	msg := messageWith(
		[]string{"  Result 【1:3†source】【2:7†source】 text.  ", "Second paragraph."},
		[]citations.Annotation{
			{URL: "http://a", Title: "Paper A"},
			{URL: "http://b"},
		},
	)

	content, reg := BuildSummary(msg)
	assert.Contains(t, content, "Result <sup>3,7</sup> text.")
	assert.Contains(t, content, "\n\nSecond paragraph.")
	assert.Contains(t, content, "## Citations\n")
	assert.Contains(t, content, "1. [Paper A](http://a)\n")
	assert.Contains(t, content, "2. [http://b](http://b)\n")
	assert.Equal(t, 2, reg.Len())
}

func TestBuildSummaryWithoutCitations(t *testing.T) {
	msg := messageWith([]string{"Plain result."}, nil)
	content, reg := BuildSummary(msg)
	assert.Equal(t, "Plain result.", content)
	assert.NotContains(t, content, "## Citations")
	assert.Equal(t, 0, reg.Len())
}

func TestSaveReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "research_report.md")
	require.NoError(t, SaveReport(path, "# Report\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n", string(data))
}

func TestProgressLog(t *testing.T) {
	assert.Equal(t, "No progress recorded.", ProgressLog(nil))
	assert.Equal(t, "a\nb\n", ProgressLog([]string{"a\n", "b\n"}))
}

func TestComputeMetrics(t *testing.T) {
	res := &agents.PollResult{
		Status:       agents.StatusCompleted,
		Iterations:   4,
		FinalMessage: messageWith([]string{"x"}, []citations.Annotation{{URL: "u"}}),
	}
	m := ComputeMetrics(res, "report-body", 3, 8*time.Second)
	assert.Equal(t, 3, m.TotalCitations)
	assert.Equal(t, 4, m.Iterations)
	assert.InDelta(t, 8.0, m.ElapsedSeconds, 0.001)
	assert.InDelta(t, 2.0, m.AvgIterationSecs, 0.001)
	assert.Equal(t, len("report-body"), m.ReportLength)
	assert.Equal(t, 1, m.FinalCitations)
	assert.True(t, m.HasFinalMessage)

	empty := ComputeMetrics(nil, "", 0, 0)
	assert.False(t, empty.HasFinalMessage)
	assert.Zero(t, empty.AvgIterationSecs)
}
