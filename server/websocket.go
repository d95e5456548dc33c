package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/opspilot/opspilot/ai/agents/orchestrator"
)

// Inbound and server-initiated envelope types. Exchange envelopes reuse the
// orchestrator event types unchanged.
const (
	envelopeChat             = "chat"
	envelopeConnectionStatus = "connection_status"
)

// inboundEnvelope is what clients send over the socket.
type inboundEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// statusEnvelope is sent on connect, before any exchange.
type statusEnvelope struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed,omitempty"`
}

// errorEnvelope is a stream-level error that does not end the connection.
type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The operator UI is served from a different origin in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket runs one WebSocket connection: a writer goroutine drains
// the outbound channel in order, the read loop accepts chat envelopes and
// drives exchanges. Closing the socket cancels the running exchange.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess, resumed := s.sessions.GetOrCreate(c.QueryParam("session"))
	if s.exporter != nil {
		s.exporter.SetActiveChats(s.sessions.Count())
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	out := make(chan interface{}, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case envelope, ok := <-out:
				if !ok {
					return
				}
				if err := conn.WriteJSON(envelope); err != nil {
					slog.Warn("server: websocket write failed",
						"session_id", sess.ID, "error", err)
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(envelope interface{}) {
		select {
		case out <- envelope:
		case <-ctx.Done():
		}
	}

	send(statusEnvelope{Type: envelopeConnectionStatus, Status: "connected", SessionID: sess.ID, Resumed: resumed})
	send(statusEnvelope{Type: envelopeConnectionStatus, Status: "ready", SessionID: sess.ID})

	slog.Info("server: websocket session attached",
		"session_id", sess.ID, "incident_id", sess.IncidentID, "resumed", resumed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Client went away; cancel the running exchange cooperatively.
			cancel()
			<-writerDone
			slog.Info("server: websocket session detached", "session_id", sess.ID)
			return nil
		}

		var inbound inboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Type != envelopeChat {
			send(errorEnvelope{Type: orchestrator.EventError, Message: "expected envelope {type:\"chat\", message}"})
			continue
		}
		if inbound.Message == "" {
			send(errorEnvelope{Type: orchestrator.EventError, Message: "message must not be empty"})
			continue
		}

		if !sess.TryBegin() {
			send(errorEnvelope{Type: orchestrator.EventError, Message: "an exchange is already running for this session"})
			continue
		}

		go func(message string) {
			defer sess.End()
			result := s.orch.HandleExchange(ctx, sess.IncidentID, message, sess.History(), func(e orchestrator.Event) {
				send(e)
			})
			sess.Append(message, result.Final)
		}(inbound.Message)
	}
}
