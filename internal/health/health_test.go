package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func alwaysOK(name string, critical bool) Checker {
	return CheckFunc{CheckName: name, IsCritical: critical, Fn: func(context.Context) error { return nil }}
}

func alwaysFail(name string, critical bool) Checker {
	return CheckFunc{CheckName: name, IsCritical: critical, Fn: func(context.Context) error {
		return errors.New("boom")
	}}
}

func TestReadyRequiresCriticalChecks(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(alwaysOK("agent_api", true))
	m.Register(alwaysFail("history_store", false))
	assert.True(t, m.Ready(context.Background()))

	m.Register(alwaysFail("broken_critical", true))
	assert.False(t, m.Ready(context.Background()))
}

func TestHealthEndpoints(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(alwaysOK("agent_api", true))
	m.Register(alwaysFail("history_store", false))

	mux := http.NewServeMux()
	m.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status     Status        `json:"status"`
		Components []CheckResult `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)
	require.Len(t, body.Components, 2)

	// A failing critical dependency flips the service unhealthy.
	m.Register(alwaysFail("agent_api_2", true))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAgentAPIChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized) // reachable is enough
	}))
	defer srv.Close()

	c := AgentAPIChecker(srv.URL)
	assert.NoError(t, c.Check(context.Background()))
	assert.True(t, c.Critical())

	srv.Close()
	assert.Error(t, c.Check(context.Background()))
}
