package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qbank-platform/qbank/internal/metrics"
	inats "github.com/qbank-platform/qbank/internal/nats"
)

// EventPublisher receives audit events for rejected consumes. Publishing is
// best effort and never changes a consume result.
type EventPublisher interface {
	PublishAuditEvent(ctx context.Context, event inats.AuditEvent) error
}

// Engine is the quota and entitlement engine: it resolves allowances and
// runs the atomic consume-or-reject operation against a Ledger.
type Engine struct {
	resolver  *Resolver
	ledger    Ledger
	window    Window
	clock     Clock
	publisher EventPublisher
}

// NewEngine creates a new Engine. publisher may be nil.
func NewEngine(resolver *Resolver, ledger Ledger, window Window, clock Clock, publisher EventPublisher) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{
		resolver:  resolver,
		ledger:    ledger,
		window:    window,
		clock:     clock,
		publisher: publisher,
	}
}

// ResolveQuotaConfig returns the effective allowance of userID for category.
func (e *Engine) ResolveQuotaConfig(ctx context.Context, userID uuid.UUID, category Category) (Effective, error) {
	return e.resolver.Resolve(ctx, userID, category)
}

// ConsumeAnswerQuota counts one answer view. Viewing the same question again
// within the window is free.
func (e *Engine) ConsumeAnswerQuota(ctx context.Context, userID uuid.UUID, questionID string) (Result, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return Result{}, &ValidationError{Field: "question_id", Reason: "is required"}
	}
	return e.consume(ctx, userID, CategoryAnswer, questionID)
}

// ConsumePaperQuota counts one paper generation. paperID is optional and is
// recorded but never makes a call free.
func (e *Engine) ConsumePaperQuota(ctx context.Context, userID uuid.UUID, paperID string) (Result, error) {
	return e.consume(ctx, userID, CategoryPaper, strings.TrimSpace(paperID))
}

// ComputeWindowReset returns the reset timestamp of a window of periodDays
// opened now.
func (e *Engine) ComputeWindowReset(_ context.Context, userID uuid.UUID, periodDays int) (time.Time, error) {
	if periodDays < 1 {
		return time.Time{}, &ValidationError{Field: "period_days", Reason: fmt.Sprintf("must be >= 1, got %d", periodDays)}
	}
	reset := e.window.Reset(e.clock.Now(), periodDays)
	slog.Debug("quota: computed window reset", "user_id", userID, "period_days", periodDays, "reset_at", reset)
	return reset, nil
}

func (e *Engine) consume(ctx context.Context, userID uuid.UUID, category Category, itemID string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.QuotaConsumeDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
	}()

	eff, err := e.resolver.Resolve(ctx, userID, category)
	if err != nil {
		return Result{}, err
	}
	if eff.IsExempt {
		metrics.QuotaConsumeTotal.WithLabelValues(string(category), CodeExempt).Inc()
		return Result{Success: true, Code: CodeExempt, Used: 0, Total: Unlimited}, nil
	}

	out, err := e.ledger.Consume(ctx, ConsumeRequest{
		UserID:    userID,
		Category:  category,
		ItemID:    itemID,
		Allowance: Allowance{Quota: eff.Quota, PeriodDays: eff.PeriodDays},
		Now:       e.clock.Now(),
	})
	if err != nil {
		metrics.QuotaStoreErrorsTotal.WithLabelValues(string(category)).Inc()
		slog.Error("quota: consume failed", "user_id", userID, "category", category, "error", err)
		return Result{}, storeErr("consuming "+string(category)+" quota", err)
	}

	resetAt := out.ResetAt
	res := Result{
		Success: true,
		Used:    out.Used,
		Total:   eff.Quota,
		ResetAt: &resetAt,
	}

	switch out.Decision {
	case DecisionConsumed:
		res.Code = CodeOK
	case DecisionAlreadyCounted:
		res.Code = CodeAlreadyCounted
		res.Message = "already counted in the current window"
	case DecisionRejected:
		res.Success = false
		res.Code = CodeQuotaExceeded
		res.Message = fmt.Sprintf("%s quota exceeded: %d/%d used, resets at %s",
			category, out.Used, eff.Quota, resetAt.Format(time.RFC3339))
		slog.Info("quota: exceeded", "user_id", userID, "category", category, "used", out.Used, "total", eff.Quota)
		e.publishExceeded(ctx, userID, category, itemID, res)
	}

	if out.RolledOver {
		slog.Debug("quota: window rolled over", "user_id", userID, "category", category, "reset_at", resetAt)
	}

	metrics.QuotaConsumeTotal.WithLabelValues(string(category), res.Code).Inc()
	return res, nil
}

func (e *Engine) publishExceeded(ctx context.Context, userID uuid.UUID, category Category, itemID string, res Result) {
	if e.publisher == nil {
		return
	}
	event := inats.AuditEvent{
		OwnerUserID:  userID,
		EventType:    inats.EventQuotaExceeded,
		Severity:     "warn",
		ResourceType: string(category),
		ResourceID:   itemID,
		Details:      res.Message,
		Timestamp:    e.clock.Now(),
	}
	if err := e.publisher.PublishAuditEvent(ctx, event); err != nil {
		slog.Warn("quota: publishing exceeded event", "user_id", userID, "category", category, "error", err)
	}
}
