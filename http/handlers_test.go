package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/cache"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/llm"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/market/providers"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/monitoring"
)

const analysisJSON = `{"summary":"测试","daily":{"trend":"看涨","suggestion":"持有","confidence":0.7,"reason":"r"},` +
	`"weekly":{"trend":"震荡","suggestion":"观望","confidence":0.6,"reason":"r"},` +
	`"longterm":{"trend":"看涨","suggestion":"持有","confidence":0.6,"reason":"r"},"risk_warning":"w"}`

type fakeBackend struct {
	name     string
	enabled  bool
	response string
	err      error
}

func (b *fakeBackend) Name() string           { return b.name }
func (b *fakeBackend) Enabled() bool          { return b.enabled }
func (b *fakeBackend) Timeout() time.Duration { return time.Second }
func (b *fakeBackend) HealthCheck(context.Context) error {
	return nil
}
func (b *fakeBackend) Complete(context.Context, string, string) (string, error) {
	return b.response, b.err
}

type testEnv struct {
	srv     *httptest.Server
	mock    *providers.MockProvider
	backend *fakeBackend
	cache   *cache.Cache
	hub     *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mock := providers.NewMockProvider()
	mock.SetAnchor(time.Date(2024, 6, 14, 0, 0, 0, 0, time.Local))
	pm := providers.NewProviderManager(providers.ManagerOptions{})
	pm.AddProvider(mock)

	backend := &fakeBackend{name: llm.BackendCloud, enabled: true, response: analysisJSON}
	gateway := llm.NewGatewayWith(llm.BackendCloud, backend, &fakeBackend{name: llm.BackendLocal})
	c := cache.New(nil, cache.Options{})
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	metrics := monitoring.NewDiagnosisMetrics()
	svc := diagnosis.NewService(pm, c, gateway, diagnosis.Options{Observer: diagnosis.Observers{hub, metrics}})
	handler := NewHandler(DefaultServerConfig(), Deps{
		Diagnosis: svc,
		Data:      pm,
		Cache:     c,
		LLM:       gateway,
		Providers: pm,
		Hub:       hub,
		Metrics:   metrics,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, mock: mock, backend: backend, cache: c, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, resp.StatusCode, env.Code)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, status)

	data := body.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, llm.BackendCloud, data["llm_backend"])
	assert.Len(t, data["llm"], 2)
	assert.Equal(t, "mock", data["primary_provider"])
}

func TestDiagnoseEndpoint(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"sz000001","strategy_preference":"稳健型"}`)
	require.Equal(t, http.StatusOK, status)
	data := body.Data.(map[string]any)
	assert.Equal(t, false, data["cached"])
	assert.NotNil(t, data["generated_at"])
	assert.Equal(t, "000001", data["stock_info"].(map[string]any)["code"])
	analysis := data["analysis"].(map[string]any)
	assert.Equal(t, "测试", analysis["summary"])
	assert.Contains(t, analysis, "technical_indicators")

	status, body = env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"000001"}`)
	require.Equal(t, http.StatusOK, status)
	data = body.Data.(map[string]any)
	assert.Equal(t, true, data["cached"])
	assert.Nil(t, data["generated_at"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)
	env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)

	status, body := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, status)
	data := body.Data.(map[string]any)
	assert.Equal(t, float64(2), data["requests"])
	assert.Equal(t, float64(2), data["completed"])
	assert.Equal(t, float64(1), data["cache_hits"])
	assert.Equal(t, 0.5, data["hit_rate"])
}

func TestDiagnoseErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.mock.MarkMissing("600999")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"missing code", `{"code":"  "}`, http.StatusBadRequest},
		{"malformed code", `{"code":"abc"}`, http.StatusBadRequest},
		{"bad category", `{"code":"600000","category":"monthly"}`, http.StatusBadRequest},
		{"unknown stock", `{"code":"600999"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, http.MethodPost, "/api/analysis/diagnose", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Nil(t, body.Data)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestDiagnoseProviderOutage(t *testing.T) {
	env := newTestEnv(t)
	env.mock.MarkDown("600888")

	status, body := env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600888"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Nil(t, body.Data)
	assert.NotContains(t, body.Message, "请检查股票代码")
}

func TestDiagnoseLLMUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.backend.enabled = false

	status, body := env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Nil(t, body.Data)

	env.backend.enabled = true
	env.backend.err = &llm.CallError{Backend: llm.BackendCloud, Status: 500, Detail: "boom"}
	status, _ = env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodGet, "/api/analysis/cache/600519", "")
	assert.Equal(t, http.StatusNotFound, status, "memory-only cache has no durable rows")

	_, _ = env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)
	assert.Equal(t, 1, env.cache.Stats().FastEntries)

	status, _ = env.do(t, http.MethodDelete, "/api/analysis/cache/600519?category=monthly", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodDelete, "/api/analysis/cache/sh600519", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Message, "600519")
	assert.Equal(t, 0, env.cache.Stats().FastEntries)

	status, body = env.do(t, http.MethodGet, "/api/cache/stats", "")
	require.Equal(t, http.StatusOK, status)
	data := body.Data.(map[string]any)
	assert.Contains(t, data, "diagnosis")
	assert.Contains(t, data, "quote")
}

func TestStockEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/stock/600519", "")
	require.Equal(t, http.StatusOK, status)
	info := body.Data.(map[string]any)["info"].(map[string]any)
	assert.Equal(t, "贵州茅台", info["name"])
	assert.NotNil(t, info["current_price"])

	status, body = env.do(t, http.MethodGet, "/api/stock/600519/daily?days=10", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(10), body.Data.(map[string]any)["days"])

	status, body = env.do(t, http.MethodGet, "/api/stock/600519/daily?days=9999", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(maxDays), body.Data.(map[string]any)["days"])

	status, body = env.do(t, http.MethodGet, "/api/stock/600519/technical", "")
	require.Equal(t, http.StatusOK, status)
	indicators := body.Data.(map[string]any)["indicators"].(map[string]any)
	assert.NotNil(t, indicators["ma5"])

	status, body = env.do(t, http.MethodGet, "/api/stock/600519/fund-flow", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body.Data.(map[string]any), "fund_flow")

	status, _ = env.do(t, http.MethodGet, "/api/stock/12345x", "")
	assert.Equal(t, http.StatusBadRequest, status)

	env.mock.MarkMissing("600998")
	for _, path := range []string{"/api/stock/600998", "/api/stock/600998/daily", "/api/stock/600998/technical", "/api/stock/600998/fund-flow"} {
		status, _ = env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, status, path)
	}
}

func TestParseDays(t *testing.T) {
	assert.Equal(t, defaultDays, parseDays(""))
	assert.Equal(t, defaultDays, parseDays("abc"))
	assert.Equal(t, 1, parseDays("0"))
	assert.Equal(t, 1, parseDays("-5"))
	assert.Equal(t, 30, parseDays("30"))
	assert.Equal(t, maxDays, parseDays("251"))
}

func TestDiagnosisEventsOverWebSocket(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/ws/diagnosis?code=600519"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// events for other codes are filtered out
	_, _ = env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"000001"}`)
	_, _ = env.do(t, http.MethodPost, "/api/analysis/diagnose", `{"code":"600519"}`)

	var states []diagnosis.State
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var e diagnosis.Event
		require.NoError(t, json.Unmarshal(msg, &e))
		assert.Equal(t, "600519", e.Code)
		assert.NotEmpty(t, e.RequestID)
		states = append(states, e.State)
		if e.State == diagnosis.StateDone || e.State == diagnosis.StateFailed {
			break
		}
	}
	assert.Equal(t, diagnosis.StateFetchingBase, states[0])
	assert.Equal(t, diagnosis.StateDone, states[len(states)-1])
	assert.Contains(t, states, diagnosis.StateCacheWrite)
}
