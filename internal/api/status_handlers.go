package api

import "net/http"

// handleStatus implements GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.dispatcher.Store()

	writeJSON(w, http.StatusOK, map[string]any{
		"mode": st.Mode(),
		"config": map[string]any{
			"devices":       s.cfg.ListenerIDs(),
			"eventWindowMs": s.cfg.EventWindowMS,
			"speedOfSound":  s.cfg.SpeedOfSound,
		},
		"sync": map[string]any{
			"offsets":  st.Offsets(),
			"isSynced": st.IsSynced(s.cfg.ListenerIDs()),
		},
		"pendingPackets": s.dispatcher.PendingDepth(),
		"totalEvents":    st.EventCount(),
		"wsClients":      s.hub.ClientCount(),
	})
}
