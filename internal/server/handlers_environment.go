package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgerelay/relay/internal/relayerr"
	"github.com/forgerelay/relay/pkg/types"
)

func (s *Server) listEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.envs.List()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, envs)
}

func (s *Server) getEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := s.envs.Get(chi.URLParam(r, "environmentID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, env)
}

func (s *Server) createEnvironment(w http.ResponseWriter, r *http.Request) {
	var env types.Environment
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeErr(w, relayerr.New(relayerr.KindValidation, "malformed request body"))
		return
	}
	if env.Name == "" || env.Image == "" {
		writeErr(w, relayerr.New(relayerr.KindValidation, "name and image are required"))
		return
	}
	env.ID = uuid.NewString()
	if err := s.envs.Create(&env); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, env)
}

func (s *Server) updateEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "environmentID")
	var env types.Environment
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeErr(w, relayerr.New(relayerr.KindValidation, "malformed request body"))
		return
	}
	env.ID = id
	if err := s.envs.Update(&env); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, env)
}

func (s *Server) deleteEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "environmentID")
	if err := s.envs.Delete(id); err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id})
}
