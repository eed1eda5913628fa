package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridianlabs/deepresearch/internal/streaming"
)

func TestSSERequiresRunID(t *testing.T) {
	mux := http.NewServeMux()
	NewStreamingHandler(streaming.NewManager(8), zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEReplayAndLiveDelivery(t *testing.T) {
	mgr := streaming.NewManager(8)
	mux := http.NewServeMux()
	NewStreamingHandler(mgr, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Three events already in the ring before the client connects.
	mgr.Publish("run1", streaming.Event{Type: streaming.TypeStatus, Message: "running"})
	mgr.Publish("run1", streaming.Event{Type: streaming.TypeProgress, Message: "step one"})
	mgr.Publish("run1", streaming.Event{Type: streaming.TypeProgress, Message: "step two"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream/sse?run_id=run1", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	collect := func(substr string) string {
		deadline := time.After(3 * time.Second)
		for {
			select {
			case ln, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before seeing %q", substr)
				}
				if strings.Contains(ln, substr) {
					return ln
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", substr)
			}
		}
	}

	collect(": connected to run run1")
	// Events after Last-Event-ID 1 get replayed.
	collect("step one")
	collect("step two")

	// A live event published after connect is delivered too. The brief delay
	// lets the handler finish replay and move to the select loop.
	time.Sleep(50 * time.Millisecond)
	mgr.Publish("run1", streaming.Event{Type: streaming.TypeProgress, Message: "step three"})
	collect("step three")

	cancel()
}

func TestSSETypeFilter(t *testing.T) {
	mgr := streaming.NewManager(8)
	mux := http.NewServeMux()
	NewStreamingHandler(mgr, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mgr.Publish("run2", streaming.Event{Type: streaming.TypeStatus, Message: "running"})
	mgr.Publish("run2", streaming.Event{Type: streaming.TypeCitation, Message: "found", URL: "http://x"})
	mgr.Publish("run2", streaming.Event{Type: streaming.TypeProgress, Message: "working"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/stream/sse?run_id=run2&types=citation&last_event_id=0", nil)
	require.NoError(t, err)
	// last_event_id=0 means no replay, so use a fresh subscriber and a live
	// publish instead.
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		mgr.Publish("run2", streaming.Event{Type: streaming.TypeProgress, Message: "skipped"})
		mgr.Publish("run2", streaming.Event{Type: streaming.TypeCitation, Message: "kept", URL: "http://y"})
	}()

	sc := bufio.NewScanner(resp.Body)
	var saw []string
	for sc.Scan() {
		ln := sc.Text()
		if strings.HasPrefix(ln, "data: ") {
			saw = append(saw, ln)
			break
		}
	}
	require.Len(t, saw, 1)
	assert.Contains(t, saw[0], "kept")
	assert.NotContains(t, saw[0], "skipped")
	cancel()
}
