package supervisor

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox/mock"
	"github.com/forgerelay/relay/pkg/types"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries []types.JournalEntry
}

func (f *fakeJournal) Append(sessionID, entryType string, payload []byte, now string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := int64(len(f.entries) + 1)
	f.entries = append(f.entries, types.JournalEntry{SessionID: sessionID, Seq: seq, Type: entryType, Payload: payload, CreatedAt: now})
	return seq, nil
}

func (f *fakeJournal) snapshot() []types.JournalEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.JournalEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []types.JournalEntry
	live      []string
}

func (f *fakeBroadcaster) PublishEntry(entry types.JournalEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, entry)
}

func (f *fakeBroadcaster) PublishLive(kind string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = append(f.live, kind)
}

func (f *fakeBroadcaster) PublishSandboxStatus(status types.SandboxStatus) {}

type fakeSessionSink struct {
	mu      sync.Mutex
	errored bool
}

func (f *fakeSessionSink) MarkError(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored = true
	return nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeJournal, *fakeBroadcaster, *fakeSessionSink) {
	t.Helper()
	p := mock.New()
	h, err := p.CreateSandbox(types.CreateSandboxOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	j := &fakeJournal{}
	b := &fakeBroadcaster{}
	sink := &fakeSessionSink{}
	clock := func() string { return "2026-07-29T00:00:00Z" }

	sup, err := New("sess-1", h, j, b, sink, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup, j, b, sink
}

func TestPromptJournalsEventsInOrder(t *testing.T) {
	sup, j, b, _ := newTestSupervisor(t)

	if err := sup.Send("prompt", map[string]any{"message": "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(j.snapshot()) >= 6 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for journal entries, got %+v", j.snapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}

	entries := j.snapshot()
	if entries[0].Type != types.EventAgentStart {
		t.Fatalf("expected first entry agent_start, got %s", entries[0].Type)
	}
	if entries[len(entries)-1].Type != types.EventAgentEnd {
		t.Fatalf("expected last entry agent_end, got %s", entries[len(entries)-1].Type)
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("expected dense seq, entry %d has seq %d", i, e.Seq)
		}
	}

	b.mu.Lock()
	publishedCount := len(b.published)
	b.mu.Unlock()
	if publishedCount != len(entries) {
		t.Fatalf("expected every journaled entry to be broadcast, journaled=%d broadcast=%d", len(entries), publishedCount)
	}
}

func TestGetStateRPCRoundtrips(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)

	result, err := sup.Call("get_state", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded["status"] != "running" {
		t.Fatalf("expected status running, got %+v", decoded)
	}
}

func TestCallTimesOutWhenAgentNeverResponds(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)

	// The mock agent answers "prompt" by journaling agent_start/message/*
	// events, never a {"type":"response","command":"prompt"} frame, so a
	// Call() registered against "prompt" genuinely never gets fulfilled.
	_, err := sup.CallWithTimeout("prompt", map[string]any{"message": "hi"}, 50*time.Millisecond)
	if err != relayerr.ErrRequestTimeout {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}
