package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgerelay/relay/internal/event"
	"github.com/forgerelay/relay/internal/logging"
	"github.com/forgerelay/relay/internal/metrics"
	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/internal/session"
	"github.com/forgerelay/relay/pkg/types"
)

const defaultProvisionTimeout = 60 * time.Second

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"ok": true, "version": Version})
}

type createSessionRequest struct {
	Mode          string  `json:"mode"`
	RepoID        *string `json:"repoId,omitempty"`
	EnvironmentID *string `json:"environmentId,omitempty"`
	ModelProvider *string `json:"modelProvider,omitempty"`
	ModelID       *string `json:"modelId,omitempty"`
	Name          string  `json:"name,omitempty"`
}

type sessionResponse struct {
	*types.Session
	WSEndpoint string `json:"wsEndpoint"`
}

func withWSEndpoint(sess *types.Session) sessionResponse {
	return sessionResponse{Session: sess, WSEndpoint: "/ws/sessions/" + sess.ID}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, relayerr.New(relayerr.KindValidation, "malformed request body"))
		return
	}

	sess, err := s.sessions.Create(session.CreateParams{
		Mode:          types.SessionMode(req.Mode),
		RepoID:        req.RepoID,
		EnvironmentID: req.EnvironmentID,
		ModelProvider: req.ModelProvider,
		ModelID:       req.ModelID,
		Name:          req.Name,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	s.events.Publish(event.Event{Type: event.SessionCreated, SessionID: sess.ID})
	go s.provisionSandbox(sess)

	writeData(w, http.StatusCreated, withWSEndpoint(sess))
}

// provisionSandbox runs asynchronously after create: it provisions a
// sandbox for the new session and binds it, or marks the session errored
// if provisioning does not complete within the provision timeout.
func (s *Server) provisionSandbox(sess *types.Session) {
	done := make(chan struct{})
	var providerType string
	var providerID string
	var provisionErr error

	go func() {
		defer close(done)
		opts := types.CreateSandboxOptions{SessionID: sess.ID}
		if sess.RepoID != nil {
			opts.RepoURL = *sess.RepoID
		}
		pt, handle, err := s.sandbox.CreateForSession(opts, "")
		if err != nil {
			provisionErr = err
			return
		}
		providerType = pt
		providerID = handle.ProviderID()
	}()

	select {
	case <-done:
	case <-time.After(defaultProvisionTimeout):
		provisionErr = relayerr.New(relayerr.KindSandboxFailure, "sandbox provisioning timed out")
	}

	if provisionErr != nil {
		logging.Error().Str("sessionId", sess.ID).Err(provisionErr).Msg("sandbox provisioning failed")
		_ = s.sessions.MarkError(sess.ID)
		metrics.SandboxProvisionFailuresTotal.WithLabelValues(s.sandbox.DefaultType()).Inc()
		s.events.Publish(event.Event{Type: event.SessionError, SessionID: sess.ID, Data: provisionErr.Error()})
		return
	}
	metrics.SandboxesCreatedTotal.WithLabelValues(providerType).Inc()

	if err := s.sessions.BindSandbox(sess.ID, providerType, providerID, ""); err != nil {
		logging.Error().Str("sessionId", sess.ID).Err(err).Msg("binding sandbox failed")
		_ = s.sessions.MarkError(sess.ID)
		s.events.Publish(event.Event{Type: event.SessionError, SessionID: sess.ID, Data: err.Error()})
		return
	}

	s.events.Publish(event.Event{Type: event.SessionBound, SessionID: sess.ID, Data: providerType})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, withWSEndpoint(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.sessions.Delete(id); err != nil {
		writeErr(w, err)
		return
	}

	go func() {
		if sess.Binding != nil {
			if err := s.sandbox.Terminate(sess.Binding.ProviderType, sess.Binding.ProviderSandboxID); err != nil {
				logging.Error().Str("sessionId", id).Err(err).Msg("terminating sandbox failed")
			} else {
				metrics.SandboxesTerminatedTotal.WithLabelValues(sess.Binding.ProviderType).Inc()
			}
		}
		_ = s.sessions.MarkDeleted(id)
		s.runtimes.drop(id)
		s.events.Publish(event.Event{Type: event.SessionDeleted, SessionID: id})
	}()

	writeData(w, http.StatusOK, map[string]any{"id": id, "status": string(types.StatusStopped)})
}

func (s *Server) connectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	lastSeq, err := s.journal.LastSeq(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"sessionId":    sess.ID,
		"status":       sess.Status,
		"lastSeq":      lastSeq,
		"sandboxReady": sess.Binding != nil,
		"wsEndpoint":   "/ws/sessions/" + sess.ID,
	})
}

func (s *Server) getSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(id); err != nil {
		writeErr(w, err)
		return
	}

	afterSeq := int64(0)
	if v := r.URL.Query().Get("afterSeq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErr(w, relayerr.New(relayerr.KindValidation, "afterSeq must be an integer"))
			return
		}
		afterSeq = parsed
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeErr(w, relayerr.New(relayerr.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := s.journal.ReadAfter(id, afterSeq, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sess.Binding == nil {
		writeErr(w, relayerr.New(relayerr.KindConflict, "session has no sandbox binding"))
		return
	}
	handle, err := s.sandbox.GetHandle(sess.Binding.ProviderType, sess.Binding.ProviderSandboxID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := handle.Pause(); err != nil {
		writeErr(w, relayerr.Wrap(relayerr.KindSandboxFailure, "pausing sandbox", err))
		return
	}
	if err := s.sessions.Pause(id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "status": string(types.StatusPaused)})
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sess.Binding == nil {
		writeErr(w, relayerr.New(relayerr.KindConflict, "session has no sandbox binding"))
		return
	}
	secretEnv, err := s.secrets.Materialize(types.MaterializeFilter{})
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.sandbox.ResumeSession(sess.Binding.ProviderType, sess.Binding.ProviderSandboxID, secretEnv, ""); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.sessions.Resume(id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "status": string(types.StatusRunning)})
}
