// Package supervisor implements the per-session Channel Supervisor: the
// exclusive owner of a session's attached sandbox channel. It classifies
// every outbound agent line (RPC response, native-tool frame, or
// journal-worthy event), serializes journal writes, and exposes an
// inbound call/send surface with timeout and cancellation.
package supervisor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/forgerelay/relay/internal/nativetool"
	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/pkg/types"
	"github.com/google/uuid"
)

const defaultCallTimeout = 30 * time.Second

// Journal is the subset of the event journal the supervisor appends to.
type Journal interface {
	Append(sessionID, entryType string, payload []byte, now string) (seq int64, err error)
}

// LiveBroadcaster is the subset of the broadcaster used for non-journaled
// live frames and journaled-entry fan-out.
type LiveBroadcaster interface {
	PublishEntry(entry types.JournalEntry)
	PublishLive(kind string, payload any)
	PublishSandboxStatus(status types.SandboxStatus)
}

// SessionErrorSink lets the supervisor report a session as failed when
// the agent is unrecoverably gone.
type SessionErrorSink interface {
	MarkError(sessionID string) error
}

type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	success bool
	result  json.RawMessage
	errText string
}

// Supervisor owns one session's attached channel for its lifetime.
type Supervisor struct {
	sessionID string
	handle    sandbox.Handle
	journal   Journal
	bcast     LiveBroadcaster
	sessions  SessionErrorSink
	now       func() string
	bridge    *nativetool.Bridge

	mu      sync.Mutex
	channel sandbox.Channel
	pending map[string][]*pendingCall // keyed by command name, FIFO per name
	closed  bool
}

// New attaches to h's channel and starts supervising it.
func New(sessionID string, h sandbox.Handle, journal Journal, bcast LiveBroadcaster, sessions SessionErrorSink, now func() string) (*Supervisor, error) {
	s := &Supervisor{
		sessionID: sessionID,
		handle:    h,
		journal:   journal,
		bcast:     bcast,
		sessions:  sessions,
		now:       now,
		pending:   make(map[string][]*pendingCall),
	}
	s.bridge = nativetool.New(s.sendRawLine, s.bcast.PublishLive)

	if err := s.attach(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) attach() error {
	ch, err := s.handle.Attach()
	if err != nil {
		return relayerr.Wrap(relayerr.KindSandboxFailure, "attaching channel", err)
	}
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	ch.OnMessage(s.handleOutboundLine)
	ch.OnClose(s.handleChannelClosed)
	return nil
}

func (s *Supervisor) sendRawLine(line []byte) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return relayerr.ErrConnectionLost
	}
	return ch.Send(line)
}

// Send writes a fire-and-forget command to the agent.
func (s *Supervisor) Send(method string, params map[string]any) error {
	line, err := encodeCommand(method, "", params)
	if err != nil {
		return err
	}
	return s.sendRawLine(line)
}

// Call writes a command and blocks until a matching response arrives, the
// default timeout elapses, or the channel closes. The response is
// correlated by command name: concurrent calls to the same command are
// served in the order the agent answers them (first pending waiter for
// that name is fulfilled first).
func (s *Supervisor) Call(method string, params map[string]any) (json.RawMessage, error) {
	return s.CallWithTimeout(method, params, defaultCallTimeout)
}

func (s *Supervisor) CallWithTimeout(method string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()
	pc := &pendingCall{resultCh: make(chan callResult, 1)}

	s.mu.Lock()
	s.pending[method] = append(s.pending[method], pc)
	s.mu.Unlock()

	line, err := encodeCommand(method, id, params)
	if err != nil {
		s.removeWaiter(method, pc)
		return nil, err
	}
	if err := s.sendRawLine(line); err != nil {
		s.removeWaiter(method, pc)
		return nil, relayerr.Wrap(relayerr.KindTransport, "writing command", err)
	}

	select {
	case res := <-pc.resultCh:
		if !res.success {
			return nil, relayerr.New(relayerr.KindTransport, res.errText)
		}
		return res.result, nil
	case <-time.After(timeout):
		s.removeWaiter(method, pc)
		return nil, relayerr.ErrRequestTimeout
	}
}

// CancelCall deregisters the oldest pending waiter for method, if any,
// and best-effort writes an abort command. Any late response for this
// waiter is discarded since it was already removed from pending.
func (s *Supervisor) CancelCall(method string) {
	s.mu.Lock()
	waiters := s.pending[method]
	if len(waiters) > 0 {
		pc := waiters[0]
		s.pending[method] = waiters[1:]
		s.mu.Unlock()
		pc.resultCh <- callResult{success: false, errText: relayerr.ErrCancelled.Error()}
		_ = s.Send("abort", nil)
		return
	}
	s.mu.Unlock()
}

func (s *Supervisor) removeWaiter(method string, target *pendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.pending[method]
	for i, pc := range waiters {
		if pc == target {
			s.pending[method] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// handleOutboundLine classifies one line arriving from the agent. The
// channel contract guarantees this is called synchronously in arrival
// order, which is what keeps journal.Append calls from racing each other
// and inverting seq order.
func (s *Supervisor) handleOutboundLine(line []byte) {
	var envelope struct {
		Type     string          `json:"type"`
		Command  string          `json:"command"`
		Success  bool            `json:"success"`
		Result   json.RawMessage `json:"result"`
		Error    string          `json:"error"`
		CallID   string          `json:"callId"`
		ToolName string          `json:"toolName"`
		Args     json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "response":
		s.fulfillPending(envelope.Command, callResult{success: envelope.Success, result: envelope.Result, errText: envelope.Error})
	case "native_tool_request":
		s.bridge.HandleRequest(nativetool.Request{CallID: envelope.CallID, ToolName: envelope.ToolName, Args: envelope.Args})
	case "native_tool_cancel":
		s.bridge.HandleCancel(envelope.CallID)
	default:
		s.appendAndBroadcast(envelope.Type, line)
	}
}

func (s *Supervisor) fulfillPending(command string, res callResult) {
	s.mu.Lock()
	waiters := s.pending[command]
	if len(waiters) == 0 {
		s.mu.Unlock()
		return
	}
	pc := waiters[0]
	s.pending[command] = waiters[1:]
	s.mu.Unlock()

	select {
	case pc.resultCh <- res:
	default:
	}
}

func (s *Supervisor) appendAndBroadcast(entryType string, payload []byte) {
	now := s.now()
	seq, err := s.journal.Append(s.sessionID, entryType, payload, now)
	if err != nil {
		return
	}
	s.bcast.PublishEntry(types.JournalEntry{
		SessionID: s.sessionID,
		Seq:       seq,
		Type:      entryType,
		Payload:   payload,
		CreatedAt: now,
	})
}

// SubmitNativeToolResponse forwards a client's native_tool_response to
// the agent's stdin.
func (s *Supervisor) SubmitNativeToolResponse(resp nativetool.Response) error {
	_, err := s.bridge.SubmitResponse(resp)
	return err
}

// PendingNativeToolRequests returns every native_tool_request still
// awaiting a client response, for redelivery to a newly attached
// subscriber per the spec's "forwards it on the next attach" rule.
func (s *Supervisor) PendingNativeToolRequests() []nativetool.Request {
	return s.bridge.PendingForReplay()
}

// handleChannelClosed implements the re-attach retry policy: while the
// session is still logically running, attempt to re-attach with bounded
// exponential backoff. If every attempt fails, the agent is considered
// gone: the session moves to error and a synthetic agent_end is journaled
// so replay-based reconnects see a clean ending.
func (s *Supervisor) handleChannelClosed(reason string) {
	if reason == "reattached" {
		// Our own Attach() call superseded the old channel; that old
		// channel's close is expected and not a disconnect.
		return
	}

	s.mu.Lock()
	alreadyClosed := s.closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	// Calls written to the closed channel get no answer on it; fail them
	// now rather than leaving them to run out their timeout.
	s.mu.Lock()
	stranded := s.pending
	s.pending = make(map[string][]*pendingCall)
	s.mu.Unlock()
	for _, waiters := range stranded {
		for _, pc := range waiters {
			select {
			case pc.resultCh <- callResult{success: false, errText: relayerr.ErrConnectionLost.Error()}:
			default:
			}
		}
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err := backoff.Retry(func() error {
		return s.attach()
	}, policy)
	if err == nil {
		return
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	payload, _ := json.Marshal(types.AgentEndPayload{Success: false, Error: "transport_disconnect"})
	s.appendAndBroadcast(types.EventAgentEnd, payload)
	if s.sessions != nil {
		_ = s.sessions.MarkError(s.sessionID)
	}
}

func encodeCommand(method, id string, params map[string]any) ([]byte, error) {
	body := map[string]any{"type": method}
	for k, v := range params {
		body[k] = v
	}
	if id != "" {
		body["id"] = id
	}
	line, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding command %q: %w", method, err)
	}
	return line, nil
}
