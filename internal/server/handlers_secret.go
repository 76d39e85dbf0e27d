package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
)

type createSecretRequest struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	EnvVar  string           `json:"envVarName"`
	Kind    types.SecretKind `json:"kind"`
	Value   string           `json:"value"`
	Enabled bool             `json:"enabled"`
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.secrets.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	var req createSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, relayerr.New(relayerr.KindValidation, "malformed request body"))
		return
	}
	if req.ID == "" || req.Name == "" || req.EnvVar == "" || req.Value == "" {
		writeErr(w, relayerr.New(relayerr.KindValidation, "id, name, envVarName, and value are required"))
		return
	}
	meta, err := s.secrets.Put(req.ID, req.Name, req.EnvVar, req.Kind, []byte(req.Value), req.Enabled)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, meta)
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "secretID")
	if err := s.secrets.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id})
}
