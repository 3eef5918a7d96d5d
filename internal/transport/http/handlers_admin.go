package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/callbus/delegation"
	"warden/internal/identity"
	"warden/internal/platform/middleware"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/admin"
)

type IssueGrantRequest struct {
	Caller     identity.AgentID        `json:"caller"`
	Target     identity.AgentID        `json:"target"`
	Level      identity.PrivilegeLevel `json:"level"`
	Reason     string                  `json:"reason"`
	TTLSeconds int                     `json:"ttl_seconds,omitempty"`
}

type GrantListResponse struct {
	Grants []*delegation.Grant `json:"grants"`
}

type AuditTrailResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Events        []audit.Event `json:"events"`
}

// AdminHandler serves the operator API. Every route requires the admin
// token; the caller acts as identity.SecurityAdmin.
type AdminHandler struct {
	delegations DelegationService
	trail       AuditReader
	adminToken  string
	logger      *slog.Logger
}

func NewAdminHandler(delegations DelegationService, trail AuditReader, adminToken string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		delegations: delegations,
		trail:       trail,
		adminToken:  adminToken,
		logger:      logger,
	}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.With(middleware.ContentTypeJSON).Post("/delegations", h.handleIssueGrant)
		r.Get("/delegations", h.handleListGrants)
		r.Delete("/delegations/{id}", h.handleRevokeGrant)
		r.Get("/audit/{correlationID}", h.handleAuditTrail)
	})
}

func (h *AdminHandler) handleIssueGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req IssueGrantRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid grant request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	grant, err := h.delegations.Issue(ctx, identity.SecurityAdmin(), delegation.IssueRequest{
		Caller: req.Caller,
		Target: req.Target,
		Level:  req.Level,
		Reason: req.Reason,
		TTL:    time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(ctx, h.logger, w, "issue grant failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, grant)
}

func (h *AdminHandler) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.delegations.List(r.Context())
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, "list grants failed", err)
		return
	}
	if grants == nil {
		grants = []*delegation.Grant{}
	}
	httputil.WriteJSON(w, http.StatusOK, GrantListResponse{Grants: grants})
}

func (h *AdminHandler) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.delegations.Revoke(r.Context(), identity.SecurityAdmin(), id); err != nil {
		writeServiceError(r.Context(), h.logger, w, "revoke grant failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	events, err := h.trail.List(r.Context(), correlationID)
	if err != nil {
		writeServiceError(r.Context(), h.logger, w, "read audit trail failed",
			dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit trail"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, AuditTrailResponse{CorrelationID: correlationID, Events: events})
}

// writeServiceError logs at a level matching the status and writes the
// coded error body.
func writeServiceError(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, msg string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"status", status,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, msg, attrs...)
	} else {
		logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
