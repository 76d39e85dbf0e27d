package nativetool

import (
	"encoding/json"
	"testing"
)

func TestHandleRequestBroadcastsLiveAndTracksPending(t *testing.T) {
	var broadcastType string
	var broadcastPayload any
	b := New(func(line []byte) error { return nil }, func(frameType string, payload any) {
		broadcastType = frameType
		broadcastPayload = payload
	})

	req := Request{CallID: "call-1", ToolName: "native_prompt", Args: json.RawMessage(`{"q":"ok?"}`)}
	b.HandleRequest(req)

	if broadcastType != "native_tool_request" {
		t.Fatalf("expected native_tool_request broadcast, got %q", broadcastType)
	}
	if broadcastPayload.(Request).CallID != "call-1" {
		t.Fatalf("expected broadcast payload to carry callId, got %+v", broadcastPayload)
	}

	pending := b.PendingForReplay()
	if len(pending) != 1 || pending[0].CallID != "call-1" {
		t.Fatalf("expected call-1 pending, got %+v", pending)
	}
}

func TestSubmitResponseWritesToAgentAndClearsPending(t *testing.T) {
	var sentLine []byte
	b := New(func(line []byte) error { sentLine = line; return nil }, func(string, any) {})

	b.HandleRequest(Request{CallID: "call-2", ToolName: "read_file"})

	known, err := b.SubmitResponse(Response{CallID: "call-2", Result: json.RawMessage(`"contents"`)})
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if !known {
		t.Fatal("expected call-2 to have been known-pending")
	}

	var decoded map[string]any
	if err := json.Unmarshal(sentLine, &decoded); err != nil {
		t.Fatalf("unmarshal sent line: %v", err)
	}
	if decoded["type"] != "native_tool_response" || decoded["callId"] != "call-2" {
		t.Fatalf("unexpected sent line: %s", sentLine)
	}

	if pending := b.PendingForReplay(); len(pending) != 0 {
		t.Fatalf("expected no pending requests after response, got %+v", pending)
	}
}

func TestSubmitResponseForUnknownCallIDStillForwards(t *testing.T) {
	var sent bool
	b := New(func(line []byte) error { sent = true; return nil }, func(string, any) {})

	known, err := b.SubmitResponse(Response{CallID: "never-requested", Result: json.RawMessage(`null`)})
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	if known {
		t.Fatal("expected knownPending=false for a call id never requested")
	}
	if !sent {
		t.Fatal("expected the response to still be written to the agent")
	}
}

func TestHandleCancelDropsPendingAndBroadcasts(t *testing.T) {
	var broadcastType string
	b := New(func([]byte) error { return nil }, func(frameType string, _ any) { broadcastType = frameType })

	b.HandleRequest(Request{CallID: "call-3"})
	b.HandleCancel("call-3")

	if broadcastType != "native_tool_cancel" {
		t.Fatalf("expected native_tool_cancel broadcast, got %q", broadcastType)
	}
	if pending := b.PendingForReplay(); len(pending) != 0 {
		t.Fatalf("expected call-3 to be dropped from pending, got %+v", pending)
	}
}
