package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/forgerelay/relay/internal/broadcaster"
	"github.com/forgerelay/relay/internal/logging"
	"github.com/forgerelay/relay/internal/metrics"
	"github.com/forgerelay/relay/internal/nativetool"
	"github.com/forgerelay/relay/internal/relayerr"
)

var upgrader = websocket.Upgrader{
	// Sessions are connected to from a relay-owned web client; origin
	// checking is left to a reverse proxy in front of this process.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outboundFrame is the line-delimited JSON shape written to the client.
type outboundFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	LastSeq   int64  `json:"lastSeq,omitempty"`
	From      int64  `json:"from,omitempty"`
	To        int64  `json:"to,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Command   string `json:"command,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func frameToWire(f broadcaster.Frame) outboundFrame {
	switch f.Kind {
	case "connected":
		return outboundFrame{Type: "connected", SessionID: f.Connected.SessionID, LastSeq: f.Connected.CurrentLastSeq}
	case "replay_start":
		return outboundFrame{Type: "replay_start", From: f.Replay.From, To: f.Replay.To}
	case "replay_end":
		return outboundFrame{Type: "replay_end"}
	case "entry":
		return outboundFrame{Type: f.Entry.Type, Seq: f.Entry.Seq, Payload: json.RawMessage(f.Entry.Payload)}
	case "sandbox_status":
		return outboundFrame{Type: "sandbox_status", Status: string(*f.Status)}
	case "error":
		return outboundFrame{Type: "error", Error: f.ErrorText}
	default:
		return outboundFrame{Type: f.Kind, Payload: f.Payload}
	}
}

// commandsExpectingReply are forwarded via the supervisor's blocking Call
// and answered back to this client as a "response" frame. "prompt" is
// deliberately excluded: the mock and real agents answer a prompt with a
// stream of journal events (message_start/update/end, agent_end), never a
// synchronous response frame, so it is sent fire-and-forget instead.
var commandsExpectingReply = map[string]bool{
	"get_state":            true,
	"set_model":            true,
	"get_messages":         true,
	"get_available_models": true,
	"abort":                true,
}

// sessionSupervisor is the subset of *supervisor.Supervisor the WebSocket
// endpoint needs.
type sessionSupervisor interface {
	Send(method string, params map[string]any) error
	Call(method string, params map[string]any) (json.RawMessage, error)
	SubmitNativeToolResponse(resp nativetool.Response) error
	PendingNativeToolRequests() []nativetool.Request
}

// wsWriter serializes writes to one connection: gorilla/websocket forbids
// concurrent writers, and this endpoint has up to three sources (the
// broadcaster pump, the inbound read loop, and per-call reply goroutines).
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// sessionWebSocket implements /ws/sessions/:id?lastSeq=N: subscribe to the
// session's broadcaster, pump frames to the client, and route inbound
// client frames to the channel supervisor.
func (s *Server) sessionWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	lastSeq := int64(0)
	if v := r.URL.Query().Get("lastSeq"); v != "" {
		parsed, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			writeErr(w, relayerr.New(relayerr.KindValidation, "lastSeq must be an integer"))
			return
		}
		lastSeq = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Str("sessionId", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	out := &wsWriter{conn: conn}

	bcast := s.runtimes.broadcasterFor(id)
	sub, err := bcast.Subscribe(lastSeq)
	if err != nil {
		_ = out.writeJSON(outboundFrame{Type: "error", Error: err.Error()})
		return
	}
	defer sub.Unsubscribe()

	metrics.ActiveWebSocketConnections.Inc()
	defer metrics.ActiveWebSocketConnections.Dec()

	var sup sessionSupervisor
	if sess.Binding != nil {
		got, supErr := s.runtimes.supervisorFor(sess)
		if supErr != nil {
			logging.Error().Err(supErr).Str("sessionId", id).Msg("attaching channel supervisor failed")
		} else {
			sup = got
			for _, pending := range got.PendingNativeToolRequests() {
				_ = out.writeJSON(outboundFrame{Type: "native_tool_request", Payload: pending})
			}
		}
	}

	outboundDone := make(chan struct{})
	go func() {
		defer close(outboundDone)
		for f := range sub.Stream() {
			if err := out.writeJSON(frameToWire(f)); err != nil {
				return
			}
		}
	}()

	readInbound(conn, out, sup)
	<-outboundDone
}

func readInbound(conn *websocket.Conn, out *wsWriter, sup sessionSupervisor) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in map[string]any
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = out.writeJSON(outboundFrame{Type: "error", Error: "malformed frame"})
			continue
		}
		frameType, _ := in["type"].(string)

		if sup == nil {
			_ = out.writeJSON(outboundFrame{Type: "error", Error: "session has no attached sandbox"})
			continue
		}

		switch {
		case frameType == "":
			_ = out.writeJSON(outboundFrame{Type: "error", Error: "missing type"})

		case frameType == "native_tool_response":
			var resp nativetool.Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				_ = out.writeJSON(outboundFrame{Type: "error", Error: "malformed native_tool_response"})
				continue
			}
			if err := sup.SubmitNativeToolResponse(resp); err != nil {
				_ = out.writeJSON(outboundFrame{Type: "error", Error: err.Error()})
			}

		case commandsExpectingReply[frameType]:
			delete(in, "type")
			go func(method string, params map[string]any) {
				result, err := sup.Call(method, params)
				if err != nil {
					_ = out.writeJSON(outboundFrame{Type: "response", Command: method, Success: false, Error: err.Error()})
					return
				}
				_ = out.writeJSON(outboundFrame{Type: "response", Command: method, Success: true, Payload: result})
			}(frameType, in)

		case frameType == "prompt":
			delete(in, "type")
			if err := sup.Send(frameType, in); err != nil {
				_ = out.writeJSON(outboundFrame{Type: "error", Error: err.Error()})
			}

		default:
			_ = out.writeJSON(outboundFrame{Type: "error", Error: "unknown command type"})
		}
	}
}
