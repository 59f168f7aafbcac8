package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/httputil"
	"github.com/ignite/reviewloop/internal/pkg/logger"
	"github.com/ignite/reviewloop/internal/service/enrollment"
)

// requireTaskSecret guards the internal routes with X-Task-Secret. With no
// secret configured every call is rejected.
func (s *Server) requireTaskSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.TaskSecret == "" {
			httputil.ServiceUnavailable(w, "task secret not configured")
			return
		}
		if !secretEqual(r.Header.Get("X-Task-Secret"), s.opts.TaskSecret) {
			httputil.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type jobCompletedRequest struct {
	ID          string           `json:"id"`
	BusinessID  string           `json:"business_id"`
	CustomerID  string           `json:"customer_id"`
	ServiceType string           `json:"service_type"`
	CompletedAt time.Time        `json:"completed_at"`
	Override    bool             `json:"override"`
	Customer    *domain.Customer `json:"customer,omitempty"`
}

// handleJobCompleted enrolls the job's customer. The job source may send the
// customer record along; it is upserted first.
//
//	POST /internal/jobs/completed
func (s *Server) handleJobCompleted(w http.ResponseWriter, r *http.Request) {
	var req jobCompletedRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.Customer != nil {
		c := *req.Customer
		if c.ID == "" {
			c.ID = req.CustomerID
		}
		if c.BusinessID == "" {
			c.BusinessID = req.BusinessID
		}
		if c.ID != req.CustomerID || c.BusinessID != req.BusinessID {
			httputil.BadRequest(w, "customer does not match job")
			return
		}
		if err := s.deps.Customers.UpsertCustomer(ctx, &c); err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	job := domain.Job{
		ID:          req.ID,
		BusinessID:  req.BusinessID,
		CustomerID:  req.CustomerID,
		ServiceType: req.ServiceType,
		CompletedAt: req.CompletedAt,
	}
	res, err := s.deps.Enrollments.Enroll(ctx, job, enrollment.EnrollOptions{Override: req.Override})
	switch {
	case errors.Is(err, enrollment.ErrInvalidJob):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, enrollment.ErrCustomerNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, res)
	}
}

type stopRequest struct {
	Reason domain.StopReason `json:"reason"`
}

// decodeStop reads an optional {"reason": ...} body.
func decodeStop(w http.ResponseWriter, r *http.Request, fallback domain.StopReason) (domain.StopReason, bool) {
	var req stopRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return "", false
	}
	if req.Reason == "" {
		req.Reason = fallback
	}
	return req.Reason, true
}

// handleStopEnrollment stops one enrollment on the owner's request.
//
//	POST /internal/enrollments/{id}/stop
func (s *Server) handleStopEnrollment(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeStop(w, r, domain.StopOwnerStopped)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	stopped, err := s.deps.Enrollments.Stop(r.Context(), id, reason)
	switch {
	case errors.Is(err, enrollment.ErrInvalidStopReason):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, enrollment.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, map[string]any{"enrollment_id": id, "stopped": stopped})
	}
}

// handleStopCampaign pauses or archives a campaign and stops its active
// enrollments.
//
//	POST /internal/campaigns/{id}/stop
func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeStop(w, r, domain.StopCampaignPaused)
	if !ok {
		return
	}
	var status domain.CampaignStatus
	switch reason {
	case domain.StopCampaignPaused:
		status = domain.CampaignPaused
	case domain.StopCampaignDeleted:
		status = domain.CampaignArchived
	default:
		httputil.BadRequest(w, enrollment.ErrInvalidStopReason.Error())
		return
	}

	id := chi.URLParam(r, "id")
	ctx := r.Context()
	if err := s.deps.Campaigns.SetCampaignStatus(ctx, id, status); err != nil {
		if errors.Is(err, enrollment.ErrCampaignNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	ids, err := s.deps.Enrollments.StopForCampaign(ctx, id, reason)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaign_id": id, "status": status, "stopped": ids, "count": len(ids)})
}

// handleRunTask runs one pass of a scheduled task, for external schedulers.
//
//	POST /internal/tasks/{name}
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	task, ok := s.tasks[name]
	if !ok {
		httputil.NotFound(w, "unknown task "+name)
		return
	}
	sum := task.RunOnce(r.Context())
	logger.Info("task triggered", "component", "api", "task", name,
		"claimed", sum.Claimed, "succeeded", sum.Succeeded, "failed", sum.Failed)
	httputil.OK(w, sum)
}
