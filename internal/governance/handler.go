package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/qbank-platform/qbank/internal/api"
	"github.com/qbank-platform/qbank/internal/auth"
	"github.com/qbank-platform/qbank/internal/governance/audit"
	"github.com/qbank-platform/qbank/internal/governance/quota"
	inats "github.com/qbank-platform/qbank/internal/nats"
	"github.com/qbank-platform/qbank/internal/profiles"
)

// AuditLister is the read side of the audit store.
type AuditLister interface {
	ListByOwner(ctx context.Context, ownerUserID uuid.UUID, params audit.ListParams) ([]audit.AuditLog, int64, error)
}

// Handler provides HTTP handlers for quota and governance endpoints.
type Handler struct {
	engine    *quota.Engine
	configs   quota.ConfigStorer
	profiles  profiles.Reader
	auditRepo AuditLister
	publisher quota.EventPublisher
	validate  *validator.Validate
}

// NewHandler creates a new governance Handler. publisher may be nil.
func NewHandler(engine *quota.Engine, configs quota.ConfigStorer, profileReader profiles.Reader, auditRepo AuditLister, publisher quota.EventPublisher) *Handler {
	return &Handler{
		engine:    engine,
		configs:   configs,
		profiles:  profileReader,
		auditRepo: auditRepo,
		publisher: publisher,
		validate:  validator.New(),
	}
}

// handleQuotaError maps engine errors onto HTTP responses.
func handleQuotaError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, quota.ErrValidation):
		api.HandleError(w, api.NewValidationError(err.Error()))
	case errors.Is(err, quota.ErrProfileNotFound):
		api.HandleError(w, api.NewNotFoundError("profile not found"))
	case errors.Is(err, quota.ErrStore):
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

// GetSummary returns the caller's usage in every category.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	summary, err := h.engine.GetUsageSummary(r.Context(), userID)
	if err != nil {
		handleQuotaError(w, "getting usage summary", err)
		return
	}

	api.JSON(w, http.StatusOK, summary)
}

// GetConfig returns the caller's effective allowance for one category.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	category, err := quota.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		handleQuotaError(w, "resolving quota config", err)
		return
	}

	eff, err := h.engine.ResolveQuotaConfig(r.Context(), userID, category)
	if err != nil {
		handleQuotaError(w, "resolving quota config", err)
		return
	}

	api.JSON(w, http.StatusOK, eff)
}

// GetWindow returns the reset timestamp of a window opened now.
func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	periodDays, err := strconv.Atoi(r.URL.Query().Get("period_days"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("period_days must be an integer"))
		return
	}

	reset, err := h.engine.ComputeWindowReset(r.Context(), userID, periodDays)
	if err != nil {
		handleQuotaError(w, "computing window reset", err)
		return
	}

	api.JSON(w, http.StatusOK, WindowResponse{PeriodDays: periodDays, ResetAt: reset.Format(time.RFC3339)})
}

// ConsumeAnswer counts one answer view for the caller.
func (h *Handler) ConsumeAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req ConsumeAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.engine.ConsumeAnswerQuota(r.Context(), userID, req.QuestionID)
	if err != nil {
		handleQuotaError(w, "consuming answer quota", err)
		return
	}
	writeResult(w, res)
}

// ConsumePaper counts one paper generation for the caller. The body is optional.
func (h *Handler) ConsumePaper(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req ConsumePaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	res, err := h.engine.ConsumePaperQuota(r.Context(), userID, req.PaperID)
	if err != nil {
		handleQuotaError(w, "consuming paper quota", err)
		return
	}
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res quota.Result) {
	if res.Code == quota.CodeQuotaExceeded {
		if res.ResetAt != nil {
			retry := int(time.Until(*res.ResetAt).Seconds())
			if retry > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
			}
		}
		api.JSON(w, http.StatusTooManyRequests, res)
		return
	}
	api.JSON(w, http.StatusOK, res)
}

// ListAuditLogs returns paginated audit logs for the authenticated user.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	h.listAudit(w, r, userID)
}

// AdminListAuditLogs returns paginated audit logs of the user in ?user_id=.
func (h *Handler) AdminListAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("user_id must be a UUID"))
		return
	}
	h.listAudit(w, r, userID)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID) {
	params := parseAuditParams(r)

	logs, total, err := h.auditRepo.ListByOwner(r.Context(), ownerID, params)
	if err != nil {
		slog.Error("listing audit logs", "owner", ownerID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

// GetQuotaConfig returns the global tier defaults.
func (h *Handler) GetQuotaConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.QuotaConfig(r.Context())
	if err != nil {
		handleQuotaError(w, "reading quota config", err)
		return
	}
	api.JSON(w, http.StatusOK, cfg)
}

// UpdateQuotaConfig replaces the global tier defaults.
func (h *Handler) UpdateQuotaConfig(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req quota.QuotaConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	cfg, err := h.configs.UpdateQuotaConfig(r.Context(), req, actor)
	if err != nil {
		handleQuotaError(w, "updating quota config", err)
		return
	}

	slog.Info("quota config updated", "actor", actor)
	h.publish(r.Context(), actor, actor, inats.EventConfigUpdated, "quota_config", "1",
		fmt.Sprintf("basic answer %d/%dd, premium answer %d/%dd",
			cfg.Basic.Answer.Quota, cfg.Basic.Answer.PeriodDays, cfg.Premium.Answer.Quota, cfg.Premium.Answer.PeriodDays))
	api.JSON(w, http.StatusOK, cfg)
}

// GetOverride returns the override of {userID}.
func (h *Handler) GetOverride(w http.ResponseWriter, r *http.Request) {
	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("userID must be a UUID"))
		return
	}

	ov, err := h.configs.QuotaOverride(r.Context(), target)
	if err != nil {
		handleQuotaError(w, "reading quota override", err)
		return
	}
	if ov == nil {
		api.HandleError(w, api.NewNotFoundError("override not found"))
		return
	}
	api.JSON(w, http.StatusOK, ov)
}

// PutOverride creates or replaces the override of {userID}.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("userID must be a UUID"))
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	p, err := h.profiles.GetByID(r.Context(), target)
	if err != nil {
		handleQuotaError(w, "reading target profile", &quota.StoreError{Op: "reading target profile", Err: err})
		return
	}
	if p == nil {
		api.HandleError(w, api.NewNotFoundError("profile not found"))
		return
	}

	ov := req.toOverride()
	ov.UserID = target
	ov.CreatedBy = &actor

	stored, err := h.configs.UpsertOverride(r.Context(), ov)
	if err != nil {
		handleQuotaError(w, "upserting quota override", err)
		return
	}

	slog.Info("quota override set", "actor", actor, "user_id", target)
	h.publish(r.Context(), target, actor, inats.EventOverrideSet, "quota_override", target.String(), describeOverride(stored))
	api.JSON(w, http.StatusOK, stored)
}

// DeleteOverride clears the override of {userID}.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	target, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, api.NewValidationError("userID must be a UUID"))
		return
	}

	removed, err := h.configs.DeleteOverride(r.Context(), target)
	if err != nil {
		handleQuotaError(w, "deleting quota override", err)
		return
	}
	if !removed {
		api.HandleError(w, api.NewNotFoundError("override not found"))
		return
	}

	slog.Info("quota override cleared", "actor", actor, "user_id", target)
	h.publish(r.Context(), target, actor, inats.EventOverrideCleared, "quota_override", target.String(), "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(ctx context.Context, owner, actor uuid.UUID, eventType, resourceType, resourceID, details string) {
	if h.publisher == nil {
		return
	}
	event := inats.AuditEvent{
		OwnerUserID:  owner,
		ActorUserID:  &actor,
		EventType:    eventType,
		Severity:     "info",
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    time.Now().UTC(),
	}
	if err := h.publisher.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("publishing audit event", "event_type", eventType, "error", err)
	}
}

func describeOverride(o *quota.QuotaOverride) string {
	field := func(v *int) string {
		if v == nil {
			return "default"
		}
		return strconv.Itoa(*v)
	}
	return fmt.Sprintf("answer %s/%sd, paper %s/%sd",
		field(o.AnswerQuota), field(o.AnswerPeriodDays), field(o.PaperQuota), field(o.PaperPeriodDays))
}

func parseAuditParams(r *http.Request) audit.ListParams {
	params := audit.DefaultListParams()

	if et := r.URL.Query().Get("event_type"); et != "" {
		params.EventType = et
	}
	if sev := r.URL.Query().Get("severity"); sev != "" {
		params.Severity = sev
	}
	if rt := r.URL.Query().Get("resource_type"); rt != "" {
		params.ResourceType = rt
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= audit.MaxPageSize {
			params.PageSize = pageSize
		}
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}

	return params
}
