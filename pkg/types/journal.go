package types

// JournalEntry is one row of a session's append-only event log. Seq is
// dense and monotonically increasing within a session; it carries no
// meaning across sessions.
type JournalEntry struct {
	SessionID string      `json:"sessionId"`
	Seq       int64       `json:"seq"`
	Type      string      `json:"type"`
	Payload   JSONPayload `json:"payload"`
	CreatedAt string      `json:"createdAt"`
}

// JSONPayload is an opaque JSON document. The journal never interprets it;
// callers marshal/unmarshal their own event shapes through it.
type JSONPayload = []byte

// Common journal entry type tags. The set is open-ended; these are the ones
// the channel supervisor and the mock provider produce directly.
const (
	EventAgentStart         = "agent_start"
	EventAgentEnd           = "agent_end"
	EventMessageStart       = "message_start"
	EventMessageUpdate      = "message_update"
	EventMessageEnd         = "message_end"
	EventToolExecutionStart = "tool_execution_start"
	EventToolExecutionEnd   = "tool_execution_end"
)

// AgentEndPayload is the payload shape for a synthetic agent_end entry
// produced when the supervisor detects the agent is gone rather than
// forwarding a real agent-originated end event.
type AgentEndPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
