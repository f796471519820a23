package server

import (
	"net/http"
	"strings"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Auth
	mux.HandleFunc("/api/auth/register", s.handleAuthRegister)
	mux.HandleFunc("/api/auth/login", s.handleAuthLogin)

	// Portfolios
	mux.HandleFunc("/api/portfolios/", s.routePortfolios)
	mux.HandleFunc("/api/portfolios", s.handlePortfolios)
}

// routePortfolios dispatches /api/portfolios/{id}/* to the appropriate handler.
func (s *Server) routePortfolios(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/portfolios/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "portfolio id is required in path")
		return
	}

	parts := strings.SplitN(path, "/", 3)
	portfolioID := parts[0]

	if len(parts) == 1 {
		s.handlePortfolioByID(w, r, portfolioID)
		return
	}

	switch parts[1] {
	case "holdings":
		if len(parts) == 3 && parts[2] != "" {
			s.handleHoldingByAsset(w, r, portfolioID, parts[2])
			return
		}
		s.handleHoldings(w, r, portfolioID)

	case "link":
		if len(parts) == 3 {
			switch parts[2] {
			case "complete":
				s.handleLinkComplete(w, r, portfolioID)
				return
			case "cancel":
				s.handleLinkCancel(w, r, portfolioID)
				return
			}
			WriteError(w, http.StatusNotFound, "unknown link action")
			return
		}
		s.handleLink(w, r, portfolioID)

	case "sync":
		s.handleSync(w, r, portfolioID)

	case "members":
		if len(parts) == 3 && parts[2] == "accept" {
			s.handleMemberAccept(w, r, portfolioID)
			return
		}
		s.handleMembers(w, r, portfolioID)

	default:
		WriteError(w, http.StatusNotFound, "unknown portfolio resource")
	}
}
