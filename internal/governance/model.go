package governance

import "github.com/qbank-platform/qbank/internal/governance/quota"

type ConsumeAnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=128"`
}

type ConsumePaperRequest struct {
	PaperID string `json:"paper_id" validate:"max=128"`
}

// OverrideRequest replaces a user's override. Omitted fields fall back to the
// tier default.
type OverrideRequest struct {
	AnswerQuota      *int   `json:"answer_quota"`
	AnswerPeriodDays *int   `json:"answer_period_days"`
	PaperQuota       *int   `json:"paper_quota"`
	PaperPeriodDays  *int   `json:"paper_period_days"`
	Notes            string `json:"notes" validate:"max=1000"`
}

func (r OverrideRequest) toOverride() quota.QuotaOverride {
	return quota.QuotaOverride{
		AnswerQuota:      r.AnswerQuota,
		AnswerPeriodDays: r.AnswerPeriodDays,
		PaperQuota:       r.PaperQuota,
		PaperPeriodDays:  r.PaperPeriodDays,
		Notes:            r.Notes,
	}
}

// WindowResponse is returned by the window endpoint.
type WindowResponse struct {
	PeriodDays int    `json:"period_days"`
	ResetAt    string `json:"reset_at"`
}
