// Package agents is a thin REST client for the hosted deep research agent
// service: agent lifecycle, threads, messages, runs, and run polling.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds individual HTTP requests; run completion is governed
// by the poll loop's context instead.
const DefaultTimeout = 2 * time.Minute

const defaultUserAgent = "deepresearch/1.0"

// Client talks to the hosted agent API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// NewClient creates a client for the agent service at endpoint.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets a custom per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// APIError is a non-2xx response from the agent service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agent api: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("agent api: %s (http %d)", e.Message, e.StatusCode)
}

// CreateAgentRequest configures a new research agent.
type CreateAgentRequest struct {
	Model        string `json:"model"`
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	// Deep research tool wiring
	ResearchModel    string `json:"research_model"`
	BingConnectionID string `json:"bing_connection_id"`
}

// CreateAgent registers an agent configured with the deep research tool.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	body := map[string]interface{}{
		"model":        req.Model,
		"name":         req.Name,
		"instructions": req.Instructions,
		"tools": []map[string]interface{}{
			{
				"type": "deep_research",
				"deep_research": map[string]string{
					"model":                        req.ResearchModel,
					"bing_grounding_connection_id": req.BingConnectionID,
				},
			},
		},
	}
	var agent Agent
	if err := c.do(ctx, http.MethodPost, "/assistants", body, &agent); err != nil {
		return nil, err
	}
	c.logger.Info("Agent created",
		zap.String("agent_id", agent.ID),
		zap.String("model", agent.Model),
	)
	return &agent, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/assistants/"+url.PathEscape(agentID), nil, nil)
}

// GetConnectionID resolves a named search connection to its identifier.
func (c *Client) GetConnectionID(ctx context.Context, name string) (string, error) {
	var conn struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/connections/"+url.PathEscape(name), nil, &conn); err != nil {
		return "", err
	}
	return conn.ID, nil
}

// CreateThread opens a new conversation thread.
func (c *Client) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// CreateMessage appends a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (*ThreadMessage, error) {
	body := map[string]string{"role": role, "content": content}
	var msg ThreadMessage
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// StartRun starts an agent run on a thread.
func (c *Client) StartRun(ctx context.Context, threadID, agentID string) (*Run, error) {
	body := map[string]string{"assistant_id": agentID}
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs"
	if err := c.do(ctx, http.MethodPost, path, body, &run); err != nil {
		return nil, err
	}
	c.logger.Info("Run started",
		zap.String("thread_id", threadID),
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
	)
	return &run, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun asks the service to cancel a run; the poll loop observes the
// resulting status change.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	return c.do(ctx, http.MethodPost, path, map[string]interface{}{}, nil)
}

// LastAgentMessage returns the most recent assistant message on the thread,
// or nil when the agent has not responded yet.
func (c *Client) LastAgentMessage(ctx context.Context, threadID string) (*ThreadMessage, error) {
	var list struct {
		Data []ThreadMessage `json:"data"`
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages?role=assistant&order=desc&limit=1"
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error APIError `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
