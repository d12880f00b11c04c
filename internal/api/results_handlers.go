package api

import "net/http"

// handleResults implements GET /results.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	events := s.dispatcher.Store().Events()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// handleLatestResult implements GET /results/latest.
func (s *Server) handleLatestResult(w http.ResponseWriter, r *http.Request) {
	e, ok := s.dispatcher.Store().LatestEvent()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"event": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": e})
}
