package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/deepresearch/internal/citations"
)

var annotationFixture = citations.Annotation{URL: "http://example.com", Title: "Example"}

func TestCreateAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/assistants", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		tools := body["tools"].([]interface{})
		require.Len(t, tools, 1)
		tool := tools[0].(map[string]interface{})
		assert.Equal(t, "deep_research", tool["type"])

		_ = json.NewEncoder(w).Encode(Agent{ID: "asst_1", Name: "research-agent", Model: "gpt-4o"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	agent, err := c.CreateAgent(context.Background(), CreateAgentRequest{
		Model:            "gpt-4o",
		Name:             "research-agent",
		Instructions:     "You are a helpful Agent that assists in researching scientific topics.",
		ResearchModel:    "o3-deep-research",
		BingConnectionID: "conn_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "asst_1", agent.ID)
}

func TestThreadMessageRunFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Thread{ID: "thread_1"})
	})
	mux.HandleFunc("/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "user", body["role"])
			_ = json.NewEncoder(w).Encode(ThreadMessage{ID: "msg_1", Role: "user"})
			return
		}
		// list
		assert.Equal(t, "assistant", r.URL.Query().Get("role"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []ThreadMessage{{ID: "msg_2", Role: "assistant"}},
		})
	})
	mux.HandleFunc("/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Run{ID: "run_1", ThreadID: "thread_1", Status: StatusQueued})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ctx := context.Background()

	thread, err := c.CreateThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", thread.ID)

	msg, err := c.CreateMessage(ctx, thread.ID, "user", "Research something")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)

	run, err := c.StartRun(ctx, thread.ID, "asst_1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, run.Status)
	assert.False(t, run.Status.Terminal())

	last, err := c.LastAgentMessage(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "msg_2", last.ID)
}

func TestLastAgentMessageEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []ThreadMessage{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	msg, err := c.LastAgentMessage(context.Background(), "thread_1")
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAPIErrorParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","message":"Too many requests"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.CreateThread(context.Background())
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Too many requests")
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.CreateThread(context.Background())
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestMessageAccessors(t *testing.T) {
	var nilMsg *ThreadMessage
	assert.Nil(t, nilMsg.Texts())
	assert.Nil(t, nilMsg.URLCitations())

	msg := &ThreadMessage{
		Content: []MessageContent{
			{Type: "text", Text: &MessageText{Value: "cot_summary: thinking"}},
			{Type: "image", Text: nil},
			{Type: "text", Text: &MessageText{
				Value: "more",
				Annotations: []MessageAnnotation{
					{Type: "url_citation", URLCitation: &annotationFixture},
					{Type: "file_path"},
				},
			}},
		},
	}
	assert.Equal(t, []string{"cot_summary: thinking", "more"}, msg.Texts())
	cites := msg.URLCitations()
	require.Len(t, cites, 1)
	assert.Equal(t, "http://example.com", cites[0].URL)
}
