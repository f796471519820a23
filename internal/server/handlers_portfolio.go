package server

import (
	"errors"
	"net/http"

	"github.com/versofin/verso/internal/models"
	portfolioservice "github.com/versofin/verso/internal/services/portfolio"
)

// writePortfolioError maps portfolio service sentinel errors to HTTP status
// codes.
func writePortfolioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portfolioservice.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolioservice.ErrAccessDenied):
		WriteError(w, http.StatusForbidden, err.Error())
	default:
		WriteError(w, http.StatusBadRequest, err.Error())
	}
}

// handlePortfolios handles /api/portfolios: GET lists, POST creates.
func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	switch r.Method {
	case http.MethodGet:
		includeHoldings := r.URL.Query().Get("include_holdings") == "true"
		portfolios, err := s.app.PortfolioService.ListUserPortfolios(r.Context(), userID, includeHoldings)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list portfolios")
			WriteError(w, http.StatusInternalServerError, "failed to list portfolios")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"portfolios": portfolios})

	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Currency    string `json:"currency"`
			Description string `json:"description"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		if req.Currency == "" {
			req.Currency = s.app.Config.DefaultCurrency
		}

		p, err := s.app.PortfolioService.CreatePortfolio(r.Context(), userID, req.Name, req.Currency, req.Description)
		if err != nil {
			writePortfolioError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, p)

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// handlePortfolioByID handles /api/portfolios/{id}: GET and DELETE.
func (s *Server) handlePortfolioByID(w http.ResponseWriter, r *http.Request, portfolioID string) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := s.app.PortfolioService.GetPortfolio(r.Context(), userID, portfolioID)
		if err != nil {
			writePortfolioError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)

	case http.MethodDelete:
		if err := s.app.PortfolioService.DeletePortfolio(r.Context(), userID, portfolioID); err != nil {
			writePortfolioError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": portfolioID})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleHoldings handles POST /api/portfolios/{id}/holdings: add a manual
// holding.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		AssetID      string   `json:"asset_id"`
		Name         string   `json:"name"`
		Quantity     float64  `json:"quantity"`
		AvgCost      *float64 `json:"avg_cost"`
		CurrentPrice float64  `json:"current_price"`
		Currency     string   `json:"currency"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	h := &models.Holding{
		AssetID:      req.AssetID,
		Name:         req.Name,
		Quantity:     req.Quantity,
		AvgCost:      req.AvgCost,
		CurrentPrice: req.CurrentPrice,
		Currency:     req.Currency,
	}
	p, err := s.app.PortfolioService.AddManualHolding(r.Context(), userID, portfolioID, h)
	if err != nil {
		writePortfolioError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

// handleHoldingByAsset handles /api/portfolios/{id}/holdings/{assetID}:
// PUT updates quantity/cost, DELETE removes. Manual holdings only; provider
// holdings are owned by sync.
func (s *Server) handleHoldingByAsset(w http.ResponseWriter, r *http.Request, portfolioID, assetID string) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req struct {
			Quantity float64  `json:"quantity"`
			AvgCost  *float64 `json:"avg_cost"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}

		p, err := s.app.PortfolioService.UpdateManualHolding(r.Context(), userID, portfolioID, assetID, req.Quantity, req.AvgCost)
		if err != nil {
			writePortfolioError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)

	case http.MethodDelete:
		if err := s.app.PortfolioService.DeleteManualHolding(r.Context(), userID, portfolioID, assetID); err != nil {
			writePortfolioError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": assetID})

	default:
		RequireMethod(w, r, http.MethodPut, http.MethodDelete)
	}
}

// handleMembers handles POST /api/portfolios/{id}/members: invite by email.
func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	m, err := s.app.PortfolioService.InviteMember(r.Context(), userID, portfolioID, req.Email)
	if err != nil {
		writePortfolioError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

// handleMemberAccept handles POST /api/portfolios/{id}/members/accept.
func (s *Server) handleMemberAccept(w http.ResponseWriter, r *http.Request, portfolioID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	m, err := s.app.PortfolioService.AcceptInvite(r.Context(), userID, portfolioID)
	if err != nil {
		writePortfolioError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}
