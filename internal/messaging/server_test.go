package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/runner"
	"github.com/spigell/autoapply/internal/state"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*httptest.Server, *fakeController, *Hub, *prometheus.Registry) {
	t.Helper()

	ctrl := &fakeController{}
	hub := NewHub(nil)
	reg := prometheus.NewRegistry()
	srv := NewServer(cfg, NewDispatcher(context.Background(), ctrl, nil), hub, reg, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, ctrl, hub, reg
}

func postMessage(t *testing.T, url string, req Request) (int, Response) {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)
	res, err := http.Post(url+"/v1/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return res.StatusCode, resp
}

func TestMessagesEndpoint(t *testing.T) {
	ts, ctrl, _, _ := newTestServer(t, ServerConfig{})

	code, resp := postMessage(t, ts.URL, Request{Type: TypeStartJobSearch, UserID: "u1"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusReady, resp.Status)
	assert.Equal(t, []string{"u1"}, ctrl.inits)

	res, err := http.Post(ts.URL+"/v1/messages", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStateEndpoint(t *testing.T) {
	ts, _, _, _ := newTestServer(t, ServerConfig{})

	res, err := http.Get(ts.URL + "/v1/state")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	postMessage(t, ts.URL, Request{Type: TypeStartJobSearch, UserID: "u1"})

	res, err = http.Get(ts.URL + "/v1/state")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var st state.RunState
	require.NoError(t, json.NewDecoder(res.Body).Decode(&st))
	assert.Equal(t, "u1", st.UserID)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _, _, reg := newTestServer(t, ServerConfig{})
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "autoapply_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	res, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	res.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["running"])

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "autoapply_test_total 1")
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _, _ := newTestServer(t, ServerConfig{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/messages", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestMessagesAreRateLimited(t *testing.T) {
	ts, _, _, _ := newTestServer(t, ServerConfig{RatePerSecond: 0.001, Burst: 1})

	code, _ := postMessage(t, ts.URL, Request{Type: TypeStop})
	assert.Equal(t, http.StatusOK, code)

	code, resp := postMessage(t, ts.URL, Request{Type: TypeStop})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, StatusError, resp.Status)
}

func TestEventsStream(t *testing.T) {
	ts, _, hub, _ := newTestServer(t, ServerConfig{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(runner.Event{
		ID:     "ev-1",
		Type:   runner.EventApplicationComplete,
		Status: "completed",
		Job:    &state.JobRef{ID: "42", Title: "Go Engineer"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev runner.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, runner.EventApplicationComplete, ev.Type)
	require.NotNil(t, ev.Job)
	assert.Equal(t, "42", ev.Job.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}
