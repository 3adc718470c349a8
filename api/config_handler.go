package api

import (
	"net/http"

	"github.com/seenimoa/tickerpulse/internal/config"
)

// handleGetConfigKeys returns the status of all sensitive API keys.
// Values are masked.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	keys := config.CheckAPIKeys(s.cfg)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    keys,
	})
}
