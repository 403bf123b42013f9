package httpapi

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// EnqueueRequest is the body of POST /v1/operations.
type EnqueueRequest struct {
	ID              string               `json:"id,omitempty"`
	Kind            domain.OperationKind `json:"kind"`
	EntityType      string               `json:"entityType"`
	EntityID        string               `json:"entityId,omitempty"`
	Payload         domain.Payload       `json:"payload"`
	OriginalPayload domain.Payload       `json:"originalPayload,omitempty"`
	Priority        domain.Priority      `json:"priority,omitempty"`
}

// EnqueueResponse is returned by POST /v1/operations.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// StatusResponse is returned by GET /v1/status and the offline toggles.
type StatusResponse struct {
	Status   domain.OfflineStatus             `json:"status"`
	Quality  domain.ConnectionQualitySnapshot `json:"quality"`
	Strategy domain.AdaptiveStrategy          `json:"strategy"`
	Retry    domain.RetryStats                `json:"retry"`
}

// FailedResponse is returned by GET /v1/failed.
type FailedResponse struct {
	Failed []domain.FailedOperationRecord `json:"failed"`
	Stats  domain.RetryStats              `json:"stats"`
}

// RetryAllResponse is returned by POST /v1/failed/retry-all.
type RetryAllResponse struct {
	Results []domain.RetryResult `json:"results"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	op := domain.Operation{
		ID:              req.ID,
		Kind:            req.Kind,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Payload:         req.Payload,
		OriginalPayload: req.OriginalPayload,
		Priority:        req.Priority,
	}
	if op.EntityID == "" {
		op.EntityID = req.Payload.ID()
	}
	if op.Priority == "" {
		op.Priority = domain.PriorityNormal
	}

	id, err := s.engine.EnqueueOperation(op)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	failed := s.engine.FailedOperations(r.Context())
	if failed == nil {
		failed = []domain.FailedOperationRecord{}
	}
	s.writeJSON(w, http.StatusOK, FailedResponse{Failed: failed, Stats: s.engine.RetryStats()})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res := s.engine.Retry(r.Context(), r.PathValue("id"))
	status := http.StatusOK
	switch res.Error {
	case domain.ErrNotFound.Error():
		status = http.StatusNotFound
	case domain.ErrNotRetryable.Error():
		status = http.StatusConflict
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	results := s.engine.RetryAll(r.Context())
	if results == nil {
		results = []domain.RetryResult{}
	}
	s.writeJSON(w, http.StatusOK, RetryAllResponse{Results: results})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ForceProcess(r.Context()); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOffline(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if enable {
			s.engine.EnableManualOffline()
		} else {
			s.engine.DisableManualOffline()
		}
		s.writeJSON(w, http.StatusOK, s.status())
	}
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:   s.engine.Status(),
		Quality:  s.engine.ConnectionQuality(),
		Strategy: s.engine.Strategy(),
		Retry:    s.engine.RetryStats(),
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOffline), errors.Is(err, domain.ErrDrainInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", ports.Err(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
