package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/firewatch-core/internal/device"
)

const (
	defaultReadingsLimit = 50
	maxReadingsLimit     = 500
)

// createDeviceRequest is the body of POST /devices. Liveness fields are not
// accepted; a new device starts OFFLINE until it makes contact.
type createDeviceRequest struct {
	Code       string             `json:"code"`
	Name       string             `json:"name"`
	Location   string             `json:"location"`
	Address    string             `json:"address"`
	Thresholds *device.Thresholds `json:"thresholds"`
}

// handleListDevices returns all devices.
//
// Query parameters:
//   - status: ACTIVE or OFFLINE
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := device.Status(strings.ToUpper(raw))
		if !status.Valid() {
			writeBadRequest(w, "status must be ACTIVE or OFFLINE")
			return
		}
		filtered := make([]device.Device, 0, len(devices))
		for _, d := range devices {
			if d.Status == status {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	dev, err := s.devices.FindByID(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice provisions a device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		Code:     req.Code,
		Name:     req.Name,
		Location: req.Location,
		Address:  strings.TrimSpace(req.Address),
		Status:   device.StatusOffline,
	}
	if req.Thresholds != nil {
		dev.Thresholds = *req.Thresholds
	}

	if err := s.devices.Create(r.Context(), dev); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("device provisioned", "device_id", dev.ID, "device_code", dev.Code)
	writeJSON(w, http.StatusCreated, dev)
}

// handleListReadings returns the newest readings for a device.
//
// Query parameters:
//   - limit: 1 to 500, default 50
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}

	limit := defaultReadingsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReadingsLimit {
			writeBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	ctx := r.Context()
	if _, err := s.devices.FindByID(ctx, id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	readings, err := s.devices.ListReadings(ctx, id, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// deviceID parses the {id} route parameter, writing a 400 on failure.
func deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeBadRequest(w, "device id must be a positive integer")
		return 0, false
	}
	return id, true
}
