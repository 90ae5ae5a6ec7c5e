package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shipyard/bay/internal/apierr"
	"github.com/shipyard/bay/internal/domain"
	"github.com/shipyard/bay/internal/fleetws"
	"github.com/shipyard/bay/internal/reaper"
	"github.com/shipyard/bay/internal/repository"
	"github.com/shipyard/bay/internal/scheduler"
)

type createShipRequest struct {
	TTL           int          `json:"ttl"`
	Spec          *domain.Spec `json:"spec"`
	MaxSessionNum *int         `json:"max_session_num"`
}

type shipResponse struct {
	ID          string `json:"id"`
	Status      int    `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	ContainerID string `json:"container_id"`
	IPAddress   string `json:"ip_address"`
	TTL         int    `json:"ttl"`
}

func toShipResponse(ship *domain.Ship) shipResponse {
	status := 0
	if ship.Status == domain.StatusRunning {
		status = 1
	}
	return shipResponse{
		ID:          ship.ID,
		Status:      status,
		CreatedAt:   ship.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   ship.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ContainerID: ship.ContainerID,
		IPAddress:   ship.Address,
		TTL:         ship.TTLSeconds,
	}
}

func (s *Server) handleCreateShip(w http.ResponseWriter, r *http.Request) {
	var req createShipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}
	if req.TTL <= 0 {
		writeError(w, apierr.New(apierr.InvalidArgument, "ttl must be positive"))
		return
	}

	maxSessionNum := s.defaultSessions
	if req.MaxSessionNum != nil {
		maxSessionNum = *req.MaxSessionNum
	}
	spec := s.defaultSpec
	if req.Spec != nil {
		if req.Spec.CPUs != nil {
			spec.CPUs = req.Spec.CPUs
		}
		if req.Spec.Memory != nil {
			spec.Memory = req.Spec.Memory
		}
	}

	sessionID := r.Header.Get("X-SESSION-ID")
	if sessionID == "" {
		writeError(w, apierr.New(apierr.InvalidArgument, "missing X-SESSION-ID header"))
		return
	}
	ship, reused, err := s.scheduler.AcquireForSession(r.Context(), sessionID, scheduler.CreateParams{
		Spec:          spec,
		TTLSeconds:    req.TTL,
		MaxSessionNum: maxSessionNum,
	})
	if err != nil {
		if apierr.KindOf(err) == apierr.CapacityExhausted {
			s.metrics.AdmissionRejected()
		}
		writeError(w, err)
		return
	}

	if !reused {
		s.hub.Publish(fleetws.Event{Type: "running", ShipID: ship.ID, Timestamp: ship.UpdatedAt})
		s.metrics.ShipCreated()
	}
	writeJSON(w, http.StatusOK, toShipResponse(ship))
}

func (s *Server) handleGetShip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ship, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apierr.New(apierr.NotFound, "ship not found"))
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, "ship lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, toShipResponse(ship))
}

func (s *Server) handleDeleteShip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apierr.New(apierr.NotFound, "ship not found"))
			return
		}
		writeError(w, err)
		return
	}
	s.hub.Publish(fleetws.Event{Type: "stopped", ShipID: id, Timestamp: time.Now().UTC()})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	shipID := r.PathValue("id")
	endpoint := r.PathValue("endpoint")
	sessionID := r.Header.Get("X-SESSION-ID")
	if sessionID == "" {
		writeError(w, apierr.New(apierr.InvalidArgument, "missing X-SESSION-ID header"))
		return
	}
	if err := s.router.Forward(r.Context(), w, r, shipID, sessionID, endpoint); err != nil {
		writeError(w, err)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ship, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apierr.New(apierr.NotFound, "ship not found"))
			return
		}
		writeError(w, apierr.Wrap(apierr.Internal, "ship lookup failed", err))
		return
	}

	logs, err := s.driver.Logs(r.Context(), ship.ContainerID, s.logsTailSize)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.Unavailable, "fetching ship logs failed", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(logs)
}

func (s *Server) handleExtendTTL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		TTL int `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.InvalidArgument, "malformed request body"))
		return
	}

	ship, err := reaper.ExtendTTL(r.Context(), s.repo, id, req.TTL)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, apierr.New(apierr.NotFound, "ship not found"))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipResponse(ship))
}
