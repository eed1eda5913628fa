package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/deepresearch/internal/citations"
	"github.com/meridianlabs/deepresearch/internal/sinks"
)

// fakeRunServer simulates a run that reports in_progress for a number of
// polls, streams one reasoning message with citations, then completes with a
// final report message.
func fakeRunServer(t *testing.T, inProgressPolls int) *httptest.Server {
	t.Helper()
	var polls int64

	cotMessage := ThreadMessage{
		ID:   "msg_cot",
		Role: "assistant",
		Content: []MessageContent{
			{Type: "text", Text: &MessageText{
				Value: "cot_summary: comparing sources",
				Annotations: []MessageAnnotation{
					{Type: "url_citation", URLCitation: &citations.Annotation{URL: "http://a", Title: "Source A"}},
					{Type: "url_citation", URLCitation: &citations.Annotation{URL: "http://b"}},
					{Type: "url_citation", URLCitation: &citations.Annotation{URL: "http://a", Title: "Source A"}},
				},
			}},
		},
	}
	finalMessage := ThreadMessage{
		ID:   "msg_final",
		Role: "assistant",
		Content: []MessageContent{
			{Type: "text", Text: &MessageText{Value: "Report body 【1:3†source】."}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/threads/t1/runs/r1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&polls, 1)
		status := StatusInProgress
		if n > int64(inProgressPolls) {
			status = StatusCompleted
		}
		_ = json.NewEncoder(w).Encode(Run{ID: "r1", ThreadID: "t1", Status: status})
	})
	mux.HandleFunc("/threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		msg := cotMessage
		if atomic.LoadInt64(&polls) > int64(inProgressPolls) {
			msg = finalMessage
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []ThreadMessage{msg}})
	})
	return httptest.NewServer(mux)
}

func TestPollRunStreamsProgressAndCompletes(t *testing.T) {
	srv := fakeRunServer(t, 2)
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	var buf sinks.Buffer
	var discovered []string

	res, err := c.PollRun(context.Background(), "t1", "r1", &buf,
		func(title, url string) { discovered = append(discovered, title+"|"+url) },
		5*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "msg_final", res.FinalMessage.ID)
	assert.GreaterOrEqual(t, res.Iterations, 3)

	out := buf.Content()
	assert.Contains(t, out, "Reasoning: comparing sources")
	assert.NotContains(t, out, "cot_summary")
	assert.Contains(t, out, "📖 Citation: [Source A](http://a)")
	// Missing title falls back to the url; duplicates are reported once.
	assert.Equal(t, []string{"Source A|http://a", "http://b|http://b"}, discovered)
}

func TestPollRunFailedRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads/t1/runs/r1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Run{
			ID: "r1", Status: StatusFailed,
			LastError: &RunError{Code: "server_error", Message: "tool crashed"},
		})
	})
	mux.HandleFunc("/threads/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []ThreadMessage{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	var buf sinks.Buffer
	res, err := c.PollRun(context.Background(), "t1", "r1", &buf, nil, 5*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Nil(t, res.FinalMessage)
	assert.Contains(t, buf.Content(), "Run failed: server_error: tool crashed")
}

func TestPollRunContextCancellation(t *testing.T) {
	srv := fakeRunServer(t, 1000)
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var buf sinks.Buffer
	res, err := c.PollRun(ctx, "t1", "r1", &buf, nil, 5*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
