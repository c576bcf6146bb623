package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/firewatch-core/internal/ingest"
)

// telemetryResponse acknowledges an accepted sample.
type telemetryResponse struct {
	Success   bool  `json:"success"`
	ReadingID int64 `json:"readingId"`
}

// handleTelemetry accepts one sensor sample from a device.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var body ingest.Telemetry
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sample, err := body.Sample(ingest.SourceHTTP)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	reading, err := s.ingest.Ingest(r.Context(), sample)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, telemetryResponse{Success: true, ReadingID: reading.ID})
}
