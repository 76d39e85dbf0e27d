package server

import (
	"sync"

	"github.com/forgerelay/relay/internal/broadcaster"
	"github.com/forgerelay/relay/internal/journal"
	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/sandboxmgr"
	"github.com/forgerelay/relay/internal/session"
	"github.com/forgerelay/relay/internal/supervisor"
	"github.com/forgerelay/relay/pkg/types"
)

// sessionRuntime bundles the broadcaster and (once a sandbox is attached)
// supervisor for one running session. A runtime is created lazily, on
// the first subscribe or command, and torn down when the session is
// deleted.
type sessionRuntime struct {
	mu         sync.Mutex
	sessionID  string
	bcast      *broadcaster.Broadcaster
	supervisor *supervisor.Supervisor
}

// runtimeRegistry is a process-wide map of sessionID -> sessionRuntime,
// guarded by its own mutex. It holds no durable state; on restart every
// entry is rebuilt lazily from the database.
type runtimeRegistry struct {
	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
	journal  *journal.Journal
	sandbox  *sandboxmgr.Manager
	sessions *session.Service
	now      func() string
}

func newRuntimeRegistry(j *journal.Journal, sbx *sandboxmgr.Manager, sessions *session.Service, now func() string) *runtimeRegistry {
	return &runtimeRegistry{
		runtimes: make(map[string]*sessionRuntime),
		journal:  j,
		sandbox:  sbx,
		sessions: sessions,
		now:      now,
	}
}

// broadcasterFor returns (creating if needed) the broadcaster for a
// session. The broadcaster alone is enough to serve a subscribe(lastSeq)
// call even before any sandbox is attached.
func (r *runtimeRegistry) broadcasterFor(sessionID string) *broadcaster.Broadcaster {
	rt := r.runtimeFor(sessionID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.bcast == nil {
		rt.bcast = broadcaster.New(sessionID, r.journal, 0)
	}
	return rt.bcast
}

func (r *runtimeRegistry) runtimeFor(sessionID string) *sessionRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[sessionID]
	if !ok {
		rt = &sessionRuntime{sessionID: sessionID}
		r.runtimes[sessionID] = rt
	}
	return rt
}

// supervisorFor attaches (if not already attached) the channel supervisor
// for a bound session, per the spec's "instantiated when the first
// subscriber connects or the first command is sent" rule.
func (r *runtimeRegistry) supervisorFor(sess *types.Session) (*supervisor.Supervisor, error) {
	if sess.Binding == nil {
		return nil, relayerr.New(relayerr.KindConflict, "session has no sandbox binding")
	}

	rt := r.runtimeFor(sess.ID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.supervisor != nil {
		return rt.supervisor, nil
	}

	handle, err := r.sandbox.GetHandle(sess.Binding.ProviderType, sess.Binding.ProviderSandboxID)
	if err != nil {
		return nil, err
	}
	bcast := rt.bcast
	if bcast == nil {
		bcast = broadcaster.New(sess.ID, r.journal, 0)
		rt.bcast = bcast
	}

	sup, err := supervisor.New(sess.ID, handle, r.journal, bcast, r.sessions, r.now)
	if err != nil {
		return nil, err
	}
	rt.supervisor = sup
	return sup, nil
}

// drop removes a session's runtime entirely, used on delete.
func (r *runtimeRegistry) drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runtimes, sessionID)
}
