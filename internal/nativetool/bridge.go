// Package nativetool implements the host-side native-tool bridge: a
// request/response protocol overlaid on the agent channel that lets the
// sandboxed agent ask a connected client to perform a capability only the
// client host has (a native UI prompt, a local file read, …).
//
// The bridge does not validate callId or toolName; it only routes. It
// keeps pending requests in memory so a request that arrives with no
// client attached is redelivered to the next client that subscribes,
// rather than being silently lost.
package nativetool

import (
	"encoding/json"
	"sync"
)

// Request is one outstanding native_tool_request from the agent.
type Request struct {
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args"`
}

// Response is a client's answer to a Request.
type Response struct {
	CallID string          `json:"callId"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// AgentSender writes a line to the agent's stdin. Bound to the session's
// current channel supervisor.
type AgentSender func(line []byte) error

// LiveBroadcast pushes a frame to every currently-connected subscriber,
// without journaling it. Bound to the session's broadcaster.
type LiveBroadcast func(frameType string, payload any)

// Bridge is the per-session native-tool router.
type Bridge struct {
	mu        sync.Mutex
	pending   map[string]Request
	sendAgent AgentSender
	liveCast  LiveBroadcast
}

// New constructs a Bridge bound to one session's agent channel and
// broadcaster.
func New(sendAgent AgentSender, liveCast LiveBroadcast) *Bridge {
	return &Bridge{
		pending:   make(map[string]Request),
		sendAgent: sendAgent,
		liveCast:  liveCast,
	}
}

// HandleRequest is called by the channel supervisor when it classifies an
// outbound agent line as native_tool_request. It records the request as
// pending and broadcasts it live.
func (b *Bridge) HandleRequest(req Request) {
	b.mu.Lock()
	b.pending[req.CallID] = req
	b.mu.Unlock()

	b.liveCast("native_tool_request", req)
}

// HandleCancel is called when the agent sends native_tool_cancel. The
// pending request is dropped (a late client response is simply ignored)
// and the cancel is broadcast so any client showing a native prompt can
// dismiss it.
func (b *Bridge) HandleCancel(callID string) {
	b.mu.Lock()
	delete(b.pending, callID)
	b.mu.Unlock()

	b.liveCast("native_tool_cancel", map[string]string{"callId": callID})
}

// SubmitResponse is called when a client sends native_tool_response over
// its WebSocket. It writes the response to the agent's stdin and retires
// the pending request. Returns false if callID is not (or no longer)
// pending, in which case the caller should still forward the write — the
// agent is responsible for timeouts and duplicate handling, the bridge
// only tracks pending state for replay purposes.
func (b *Bridge) SubmitResponse(resp Response) (knownPending bool, err error) {
	b.mu.Lock()
	_, knownPending = b.pending[resp.CallID]
	delete(b.pending, resp.CallID)
	b.mu.Unlock()

	line, marshalErr := json.Marshal(struct {
		Type string `json:"type"`
		Response
	}{Type: "native_tool_response", Response: resp})
	if marshalErr != nil {
		return knownPending, marshalErr
	}
	return knownPending, b.sendAgent(line)
}

// PendingForReplay returns every request still awaiting a client
// response, for redelivery to a newly attached subscriber. Order is
// unspecified; callers with multiple pending requests should not assume
// FIFO.
func (b *Bridge) PendingForReplay() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Request, 0, len(b.pending))
	for _, req := range b.pending {
		out = append(out, req)
	}
	return out
}
