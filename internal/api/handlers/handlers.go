// Package handlers implements the HTTP handlers for the SmartStress
// agent server: session lifecycle plus advisory corpus management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/checkpoint"
	"github.com/smartstress/smartstress/internal/rag"
	"github.com/smartstress/smartstress/internal/session"
	"github.com/smartstress/smartstress/internal/sessions"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Sessions  *sessions.Service
	Ingestor  *rag.Ingestor
	Retriever *rag.Retriever
}

// New creates a Handlers instance with all dependencies.
func New(svc *sessions.Service, ing *rag.Ingestor, ret *rag.Retriever) *Handlers {
	return &Handlers{Sessions: svc, Ingestor: ing, Retriever: ret}
}

type startSessionRequest struct {
	UserID                 string                 `json:"user_id"`
	SessionID              string                 `json:"session_id,omitempty"`
	Preferences            map[string]interface{} `json:"preferences,omitempty"`
	Message                string                 `json:"message,omitempty"`
	SensorPayload          map[string]interface{} `json:"sensor_payload,omitempty"`
	ForceStressProbability *float64               `json:"force_stress_probability,omitempty"`
	DisableRAG             bool                   `json:"disable_rag,omitempty"`
}

type continueSessionRequest struct {
	UserID                 string                 `json:"user_id"`
	SessionID              string                 `json:"session_id"`
	Message                string                 `json:"message,omitempty"`
	SensorPayload          map[string]interface{} `json:"sensor_payload,omitempty"`
	ForceStressProbability *float64               `json:"force_stress_probability,omitempty"`
	DisableRAG             bool                   `json:"disable_rag,omitempty"`
}

type sessionResponse struct {
	Handle *session.Handle `json:"handle,omitempty"`
	State  *session.View   `json:"state"`
}

// StartSession handles POST /api/v1/sessions/start.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	handle, view, err := h.Sessions.Start(r.Context(), sessions.StartRequest{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Preferences:   req.Preferences,
		Message:       req.Message,
		SensorPayload: req.SensorPayload,
		ForceFlags:    forceFlags(req.ForceStressProbability, req.DisableRAG),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("thread_id", handle.ThreadID).Msg("Session created")
	respondJSON(w, http.StatusCreated, sessionResponse{Handle: &handle, State: view})
}

// ContinueSession handles POST /api/v1/sessions/continue.
func (h *Handlers) ContinueSession(w http.ResponseWriter, r *http.Request) {
	var req continueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}

	handle, view, err := h.Sessions.Continue(r.Context(), sessions.ContinueRequest{
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Message:       req.Message,
		SensorPayload: req.SensorPayload,
		ForceFlags:    forceFlags(req.ForceStressProbability, req.DisableRAG),
	})
	if err != nil {
		var unknown *sessions.ErrUnknownThread
		if errors.As(err, &unknown) {
			respondError(w, http.StatusNotFound, unknown.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{Handle: &handle, State: view})
}

// DeleteSession handles DELETE /api/v1/sessions.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	if userID == "" || sessionID == "" {
		respondError(w, http.StatusBadRequest, "user_id and session_id are required")
		return
	}

	if err := h.Sessions.Delete(r.Context(), userID, sessionID); err != nil {
		if checkpoint.IsNotFound(err) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// forceFlags builds the per-invocation overrides, nil when none are set.
func forceFlags(prob *float64, disableRAG bool) *session.ForceFlags {
	if prob == nil && !disableRAG {
		return nil
	}
	return &session.ForceFlags{StressProbability: prob, DisableRAG: disableRAG}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
