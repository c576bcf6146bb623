package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/firewatch-core/internal/audit"
	"github.com/nerrad567/firewatch-core/internal/device"
	"github.com/nerrad567/firewatch-core/internal/dispatch"
	"github.com/nerrad567/firewatch-core/internal/report"
)

// handleAlert triggers or resets a device's alarm.
//
// Path parameter action is "trigger" or "reset". Query parameter mode is
// "push" (default) or "pull". An undelivered push is a 200 with
// delivered=false; an unreachable pull target is a 503.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	mode, err := dispatch.ParseMode(r.URL.Query().Get("mode"), dispatch.ModePush)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var result dispatch.Result
	switch chi.URLParam(r, "action") {
	case "trigger":
		result, err = s.dispatcher.TriggerAlert(r.Context(), id, mode)
	case "reset":
		result, err = s.dispatcher.ResetAlert(r.Context(), id, mode)
	default:
		writeNotFound(w, "unknown alert action")
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeResult(w, result)
}

// handlePing sends a ping over the push session.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	mode, err := dispatch.ParseMode(r.URL.Query().Get("mode"), dispatch.ModePush)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.dispatcher.Ping(r.Context(), id, mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeResult(w, result)
}

// handleDeviceHealth probes a device over the requested transport.
func (s *Server) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	mode, err := dispatch.ParseMode(r.URL.Query().Get("mode"), dispatch.ModePull)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	dev, err := s.devices.FindByID(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deviceId":   dev.ID,
		"deviceCode": dev.Code,
		"mode":       mode,
		"healthy":    s.dispatcher.CheckHealth(r.Context(), id, mode),
	})
}

// handleGetThresholds reads the thresholds the device itself reports.
func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	t, err := s.dispatcher.ReadThresholds(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": id, "thresholds": t})
}

// handleUpdateThresholds pushes new thresholds to the device and stores them
// once the device accepts. Omitted fields keep their stored values.
func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	var update device.ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.dispatcher.UpdateThresholds(r.Context(), id, update)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// writeResult writes a command result. Pull failures are 503 so callers can
// tell a dead device from an offline push session.
func writeResult(w http.ResponseWriter, result dispatch.Result) {
	switch result.Reason {
	case dispatch.ReasonUnreachable, dispatch.ReasonNoAddress:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  http.StatusServiceUnavailable,
			"code":    ErrCodeDeviceUnreachable,
			"message": "device unreachable",
			"result":  result,
		})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// handleListCommands returns the device's command history, newest first.
//
// Query parameters: action (optional), limit (1-200, default 50), offset.
// Returns 404 when command recording is not configured.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.commandFilter(w, r)
	if !ok {
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	ctx := r.Context()
	if _, err := s.devices.FindByID(ctx, filter.DeviceID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.audit.List(ctx, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExportCommands renders the newest 200 commands as a download.
//
// Query parameters: format (xlsx default, or pdf), action (optional).
func (s *Server) handleExportCommands(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.commandFilter(w, r)
	if !ok {
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeBadRequest(w, "format must be xlsx or pdf")
		return
	}
	filter.Limit = audit.MaxLimit

	ctx := r.Context()
	dev, err := s.devices.FindByID(ctx, filter.DeviceID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	page, err := s.audit.List(ctx, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	log := report.CommandLog{
		Device:      dev,
		Entries:     page.Entries,
		Total:       page.Total,
		Action:      filter.Action,
		GeneratedAt: time.Now(),
	}
	data, err := report.Build(log, format)
	if err != nil {
		s.logger.Error("command export failed", "device_id", dev.ID, "format", format, "error", err)
		writeInternalError(w, "export failed")
		return
	}

	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(log, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// commandFilter reads the device ID and action shared by the history
// endpoints. It writes the error response and returns false on failure.
func (s *Server) commandFilter(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	id, ok := deviceID(w, r)
	if !ok {
		return audit.Filter{}, false
	}
	if s.audit == nil {
		writeNotFound(w, "command history is not recorded")
		return audit.Filter{}, false
	}
	return audit.Filter{DeviceID: id, Action: r.URL.Query().Get("action")}, true
}
