package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspilot/opspilot/ai/agents"
	"github.com/opspilot/opspilot/ai/agents/orchestrator"
	"github.com/opspilot/opspilot/ai/agents/swarm"
	"github.com/opspilot/opspilot/ai/core/llm"
	"github.com/opspilot/opspilot/ai/tools"
	"github.com/opspilot/opspilot/ai/workflow"
	"github.com/opspilot/opspilot/internal/profile"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	service := llm.NewRoutedService(func(messages []llm.Message, _ []llm.ToolDescriptor) *llm.ScriptedStep {
		last := messages[len(messages)-1].Content
		if strings.Contains(last, "Synthesize the team findings") {
			return &llm.ScriptedStep{Content: "The pod is OOM killed at 512MB, raise the memory limit."}
		}
		return &llm.ScriptedStep{Content: "OOM killed at the 512MB limit. Confidence: 0.95"}
	})

	registry := tools.NewRegistry()
	contexts := workflow.NewContextManager()

	metricTeam, err := swarm.NewMetricTeam(service, registry, contexts, 0, 10)
	require.NoError(t, err)
	logTeam, err := swarm.NewLogTeam(service, registry, contexts, 0, 10)
	require.NoError(t, err)
	report := agents.NewReportAgent(service, registry, contexts, 0)

	orch := orchestrator.New([]*swarm.Team{metricTeam, logTeam}, report, contexts, orchestrator.DefaultConfig())

	p := &profile.Profile{Mode: "demo", Addr: "127.0.0.1", Port: 0, Version: "test"}
	srv := New(p, orch, contexts, nil)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
}

type envelope struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Seq       int    `json:"seq"`
	Failed    bool   `json:"failed"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var e envelope
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestWebSocketChatFlow(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	connected := readEnvelope(t, conn)
	assert.Equal(t, "connection_status", connected.Type)
	assert.Equal(t, "connected", connected.Status)
	assert.NotEmpty(t, connected.SessionID)
	assert.False(t, connected.Resumed)

	ready := readEnvelope(t, conn)
	assert.Equal(t, "ready", ready.Status)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "chat", "message": "payment-service pod가 왜 죽어?",
	}))

	var types []string
	var complete envelope
	for {
		e := readEnvelope(t, conn)
		types = append(types, e.Type)
		if e.Type == "chat_complete" {
			complete = e
			break
		}
	}

	assert.Equal(t, "chat_start", types[0])
	assert.Contains(t, types, "agent_message")
	assert.Contains(t, complete.Message, "memory limit")
	assert.False(t, complete.Failed)
}

func TestWebSocketReconnectResumesSession(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	connected := readEnvelope(t, conn)
	readEnvelope(t, conn) // ready
	conn.Close()

	again, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?session="+connected.SessionID), nil)
	require.NoError(t, err)
	defer again.Close()

	resumed := readEnvelope(t, again)
	assert.Equal(t, connected.SessionID, resumed.SessionID)
	assert.True(t, resumed.Resumed)
}

func TestWebSocketRejectsMalformedEnvelope(t *testing.T) {
	_, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn) // connected
	readEnvelope(t, conn) // ready

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown"}`)))
	e := readEnvelope(t, conn)
	assert.Equal(t, "error", e.Type)

	// The connection survives and still accepts valid chat.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "메모리 확인"}))
	e = readEnvelope(t, conn)
	assert.Equal(t, "chat_start", e.Type)
}

// newSlowTestServer wires a server whose metric tool sleeps, so an exchange
// can be interrupted by closing the socket mid-flight.
func newSlowTestServer(t *testing.T, delay time.Duration) (*Server, *httptest.Server) {
	t.Helper()

	service := llm.NewRoutedService(func(messages []llm.Message, descriptors []llm.ToolDescriptor) *llm.ScriptedStep {
		hasMetrics := false
		for _, d := range descriptors {
			if d.Name == "query_essential_metrics" {
				hasMetrics = true
			}
		}
		last := messages[len(messages)-1].Content
		switch {
		case hasMetrics && !strings.Contains(last, "Tool query_essential_metrics result"):
			return &llm.ScriptedStep{ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "query_essential_metrics", Arguments: `{"pod_name":"payment-service"}`},
			}}
		case strings.Contains(last, "Synthesize the team findings"):
			return &llm.ScriptedStep{Content: "The pod is OOM killed at 512MB, raise the memory limit."}
		default:
			return &llm.ScriptedStep{Content: "OOM killed at the 512MB limit. Confidence: 0.95"}
		}
	})

	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewMockTool(
		"query_essential_metrics", "essential metrics", tools.CapabilityMetrics,
		&tools.Result{Success: true, Data: map[string]interface{}{"oom_killed": true}},
		tools.WithDelay(delay),
	))
	contexts := workflow.NewContextManager()

	metricTeam, err := swarm.NewMetricTeam(service, registry, contexts, 0, 10)
	require.NoError(t, err)
	logTeam, err := swarm.NewLogTeam(service, registry, contexts, 0, 10)
	require.NoError(t, err)
	report := agents.NewReportAgent(service, registry, contexts, 0)

	orch := orchestrator.New([]*swarm.Team{metricTeam, logTeam}, report, contexts, orchestrator.DefaultConfig())

	p := &profile.Profile{Mode: "demo", Addr: "127.0.0.1", Port: 0, Version: "test"}
	srv := New(p, orch, contexts, nil)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestWebSocketCloseMidExchangeReleasesSession(t *testing.T) {
	_, ts := newSlowTestServer(t, 500*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.NoError(t, err)
	connected := readEnvelope(t, conn)
	readEnvelope(t, conn) // ready

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "chat", "message": "payment-service pod가 왜 죽어?",
	}))
	start := readEnvelope(t, conn)
	require.Equal(t, "chat_start", start.Type)

	// Close while the metric tool is still sleeping. The exchange context is
	// cancelled and the session must unwind to a reusable state.
	require.NoError(t, conn.Close())

	again, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?session="+connected.SessionID), nil)
	require.NoError(t, err)
	defer again.Close()
	resumed := readEnvelope(t, again)
	assert.True(t, resumed.Resumed)
	readEnvelope(t, again) // ready

	// The interrupted exchange may still be unwinding; retry until the
	// session accepts a new one.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, again.WriteJSON(map[string]string{
			"type": "chat", "message": "payment-service pod가 왜 죽어?",
		}))
		e := readEnvelope(t, again)
		if e.Type == "error" && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		require.Equal(t, "chat_start", e.Type)
		break
	}

	var complete envelope
	for {
		e := readEnvelope(t, again)
		if e.Type == "chat_complete" {
			complete = e
			break
		}
	}
	assert.Contains(t, complete.Message, "memory limit")
	assert.False(t, complete.Failed)
}
