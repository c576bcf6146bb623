package api

import "net/http"

// handleListSessions returns the device codes holding a live push session.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	codes := s.sessions.Online()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": codes, "count": len(codes)})
}
