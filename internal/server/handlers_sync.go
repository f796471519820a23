package server

import (
	"errors"
	"net/http"

	"github.com/versofin/verso/internal/models"
	syncservice "github.com/versofin/verso/internal/services/sync"
)

// writeSyncError maps sync service sentinel errors to HTTP status codes.
func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncservice.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, syncservice.ErrAccessDenied):
		WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, syncservice.ErrReconnectRequired):
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "reconnect_required")
	default:
		WriteError(w, http.StatusBadRequest, err.Error())
	}
}

// handleLink handles POST /api/portfolios/{id}/link: start a link flow.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Provider string `json:"provider"`
		Market   string `json:"market"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	link, err := s.app.SyncService.RequestLink(r.Context(), userID, portfolioID, provider, req.Market)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, link)
}

// handleLinkComplete handles POST /api/portfolios/{id}/link/complete:
// exchange the Plaid public token produced by the in-process modal.
func (s *Server) handleLinkComplete(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		PublicToken     string `json:"public_token"`
		InstitutionID   string `json:"institution_id"`
		InstitutionName string `json:"institution_name"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.PublicToken == "" {
		WriteError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	inst := models.Institution{ID: req.InstitutionID, Name: req.InstitutionName}
	state, err := s.app.SyncService.CompleteLink(r.Context(), userID, portfolioID, req.PublicToken, inst)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// handleLinkCancel handles POST /api/portfolios/{id}/link/cancel.
func (s *Server) handleLinkCancel(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	provider, err := models.ParseProvider(req.Provider)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.app.SyncService.CancelLink(r.Context(), userID, portfolioID, provider)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// handleSync handles /api/portfolios/{id}/sync: POST triggers a refresh,
// GET returns the per-provider states.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, portfolioID string) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Provider string `json:"provider"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}

		provider, err := models.ParseProvider(req.Provider)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		state, err := s.app.SyncService.SyncPortfolio(r.Context(), userID, portfolioID, provider)
		if errors.Is(err, syncservice.ErrSyncInFlight) {
			// Duplicate trigger is a no-op: report the running sync, queue nothing.
			WriteJSON(w, http.StatusAccepted, map[string]interface{}{
				"state":     state,
				"in_flight": true,
			})
			return
		}
		if err != nil {
			writeSyncError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)

	case http.MethodGet:
		states, err := s.app.SyncService.SyncStates(r.Context(), userID, portfolioID)
		if err != nil {
			writeSyncError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"sync_states": states})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}
