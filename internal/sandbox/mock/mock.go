// Package mock is an in-memory sandbox provider that simulates an agent
// deterministically, for tests and for running the relay without a
// container or VM backend available.
package mock

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/pkg/types"
	"github.com/google/uuid"
)

// Provider is the mock sandbox.Provider implementation.
type Provider struct {
	mu        sync.Mutex
	sandboxes map[string]*handle
}

// New constructs a mock Provider with no sandboxes.
func New() *Provider {
	return &Provider{sandboxes: make(map[string]*handle)}
}

func (p *Provider) Type() string { return "mock" }

func (p *Provider) IsAvailable() bool { return true }

func (p *Provider) CreateSandbox(opts types.CreateSandboxOptions) (sandbox.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := &handle{
		providerID: "mock-" + opts.SessionID,
		status:     types.SandboxRunning,
		createdAt:  time.Now().UTC().Format(time.RFC3339),
	}
	p.sandboxes[h.providerID] = h
	return h, nil
}

func (p *Provider) GetSandbox(providerID string) (sandbox.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.sandboxes[providerID]
	if !ok {
		return nil, relayerr.ErrSandboxNotFound
	}
	return h, nil
}

func (p *Provider) ListSandboxes() ([]types.SandboxInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.SandboxInfo, 0, len(p.sandboxes))
	for _, h := range p.sandboxes {
		h.mu.Lock()
		out = append(out, types.SandboxInfo{
			ProviderID: h.providerID,
			Status:     h.status,
			CreatedAt:  h.createdAt,
		})
		h.mu.Unlock()
	}
	return out, nil
}

func (p *Provider) Cleanup() (types.CleanupResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []string
	for id, h := range p.sandboxes {
		h.mu.Lock()
		stopped := h.status == types.SandboxStopped
		h.mu.Unlock()
		if stopped {
			delete(p.sandboxes, id)
			removed = append(removed, id)
		}
	}
	return types.CleanupResult{Removed: len(removed), Artifacts: removed}, nil
}

func (p *Provider) Capabilities() types.Capabilities {
	return types.Capabilities{LosslessPause: true, PersistentDisk: false}
}

// Remove drops a sandbox from the registry without going through
// terminate; used by tests that need to simulate a sandbox vanishing out
// from under the provider.
func (p *Provider) Remove(providerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sandboxes, providerID)
}

// handle is the mock sandbox.Handle. It runs a tiny deterministic "agent"
// goroutine per attached channel that answers the command surface the UI
// exercises: prompt, get_state, set_model, abort, get_messages,
// get_available_models.
type handle struct {
	mu           sync.Mutex
	providerID   string
	status       types.SandboxStatus
	createdAt    string
	channel      *channel
	subscribers  []func(types.SandboxStatus)
	modelID      string
	modelVendor  string
	messageCount int
}

func (h *handle) ProviderID() string { return h.providerID }

func (h *handle) Status() types.SandboxStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *handle) setStatus(s types.SandboxStatus) {
	h.mu.Lock()
	h.status = s
	subs := append([]func(types.SandboxStatus){}, h.subscribers...)
	h.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub(s)
		}
	}
}

func (h *handle) Resume(secrets map[string]string, repoAuthToken string) error {
	h.setStatus(types.SandboxRunning)
	return nil
}

func (h *handle) Pause() error {
	h.setStatus(types.SandboxPaused)
	return nil
}

func (h *handle) Terminate() error {
	h.mu.Lock()
	ch := h.channel
	h.channel = nil
	h.mu.Unlock()
	if ch != nil {
		ch.closeWithReason("terminated")
	}
	h.setStatus(types.SandboxStopped)
	return nil
}

func (h *handle) OnStatusChange(fn func(types.SandboxStatus)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
	idx := len(h.subscribers) - 1
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.subscribers) {
			h.subscribers[idx] = nil
		}
	}
}

func (h *handle) Attach() (sandbox.Channel, error) {
	h.mu.Lock()
	prev := h.channel
	ch := newChannel(h)
	h.channel = ch
	h.mu.Unlock()

	if prev != nil {
		prev.closeWithReason("reattached")
	}
	return ch, nil
}

// channel is the mock agent's side of the duplex line protocol: Send
// delivers a line as if written to the agent's stdin, and the channel
// reacts by emitting the corresponding simulated agent events through
// onMessage.
type channel struct {
	mu        sync.Mutex
	owner     *handle
	onMsg     func(line []byte)
	onClose   func(reason string)
	closed    bool
	closeOnce sync.Once
}

func newChannel(owner *handle) *channel {
	return &channel{owner: owner}
}

func (c *channel) OnMessage(fn func(line []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = fn
}

func (c *channel) OnClose(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *channel) Close() error {
	c.closeWithReason("closed")
	return nil
}

func (c *channel) closeWithReason(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn(reason)
		}
	})
}

func (c *channel) emit(v any) {
	c.mu.Lock()
	fn := c.onMsg
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	fn(line)
}

// Send interprets one inbound command line as the mock agent would.
func (c *channel) Send(line []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	var cmd struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		ID       string `json:"id"`
		Provider string `json:"provider"`
		ModelID  string `json:"modelId"`
	}
	if err := json.Unmarshal(line, &cmd); err != nil {
		return fmt.Errorf("mock channel: malformed command: %w", err)
	}

	switch cmd.Type {
	case "prompt":
		go c.runPrompt(cmd.Message)
	case "get_state":
		c.emit(map[string]any{
			"type":    "response",
			"command": "get_state",
			"success": true,
			"result": map[string]any{
				"status": string(c.owner.Status()),
			},
		})
	case "set_model":
		c.owner.mu.Lock()
		c.owner.modelVendor = cmd.Provider
		c.owner.modelID = cmd.ModelID
		c.owner.mu.Unlock()
		c.emit(map[string]any{"type": "response", "command": "set_model", "success": true})
	case "get_messages":
		c.emit(map[string]any{"type": "response", "command": "get_messages", "success": true, "result": []any{}})
	case "get_available_models":
		c.emit(map[string]any{
			"type": "response", "command": "get_available_models", "success": true,
			"result": []string{"mock/sonic-mini"},
		})
	case "abort":
		c.emit(map[string]any{"type": "response", "command": "abort", "success": true})
	default:
		c.emit(map[string]any{
			"type": "response", "command": cmd.Type, "success": false,
			"error": "unrecognized command",
		})
	}
	return nil
}

// runPrompt simulates a short agent turn: start, one message growing in
// two updates, end, agent_end. Deterministic content, no sleeps longer
// than is needed to let goroutine scheduling interleave realistically.
func (c *channel) runPrompt(message string) {
	msgID := uuid.NewString()

	c.emit(map[string]any{"type": "agent_start"})
	c.emit(map[string]any{"type": "message_start", "messageId": msgID, "role": "assistant"})
	c.emit(map[string]any{"type": "message_update", "messageId": msgID, "delta": "Echo: "})
	c.emit(map[string]any{"type": "message_update", "messageId": msgID, "delta": message})
	c.emit(map[string]any{"type": "message_end", "messageId": msgID})
	c.emit(map[string]any{"type": "agent_end", "success": true})

	c.owner.mu.Lock()
	c.owner.messageCount++
	c.owner.mu.Unlock()
}
