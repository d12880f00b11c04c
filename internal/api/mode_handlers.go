package api

import (
	"net/http"

	"github.com/flowpbx/flowpbx/internal/store"
)

// handleGetMode implements GET /mode.
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.modeResponse())
}

// handleSetMode implements POST /mode.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	var mode store.Mode
	switch req.Mode {
	case string(store.ModeSync):
		mode = store.ModeSync
	case string(store.ModeLocalize):
		mode = store.ModeLocalize
	default:
		writeError(w, http.StatusBadRequest, "unknown mode: "+req.Mode)
		return
	}

	s.dispatcher.SetMode(mode)
	writeJSON(w, http.StatusOK, s.modeResponse())
}

func (s *Server) modeResponse() map[string]any {
	st := s.dispatcher.Store()
	return map[string]any{
		"mode":     st.Mode(),
		"offsets":  st.Offsets(),
		"isSynced": st.IsSynced(s.cfg.ListenerIDs()),
	}
}
