package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConsumeRequest is one consume attempt handed to a Ledger. The allowance is
// resolved before the ledger is touched.
type ConsumeRequest struct {
	UserID    uuid.UUID
	Category  Category
	ItemID    string
	Allowance Allowance
	Now       time.Time
}

// Decision is what the ledger did with a consume attempt.
type Decision int

const (
	DecisionConsumed Decision = iota
	DecisionAlreadyCounted
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionConsumed:
		return "consumed"
	case DecisionAlreadyCounted:
		return "already_counted"
	case DecisionRejected:
		return "rejected"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Outcome is the ledger state after a consume attempt.
type Outcome struct {
	Decision   Decision
	Used       int
	ResetAt    time.Time
	RolledOver bool
}

// Ledger is the per-user, per-category consumption store. Consume must run
// as one indivisible read-modify-write for a given (user, category): no two
// calls on the same key may interleave their read and write.
type Ledger interface {
	Consume(ctx context.Context, req ConsumeRequest) (Outcome, error)
	// Get returns the stored entry without rollover, or nil, nil if none.
	Get(ctx context.Context, userID uuid.UUID, category Category) (*Entry, error)
}

// evaluate applies rollover, de-dup and the limit check to an entry loaded
// under the ledger's lock. dirty reports whether the entry must be written
// back; a rejected attempt is still dirty when it rolled the window over.
func evaluate(w Window, stored *Entry, req ConsumeRequest) (e *Entry, out Outcome, dirty bool) {
	e, dirty = w.Advance(stored, req.UserID, req.Category, req.Now, req.Allowance.PeriodDays)
	out = Outcome{ResetAt: e.ResetAt, RolledOver: dirty && stored != nil}

	if req.Category.dedups() && req.ItemID != "" && e.HasItem(req.ItemID) {
		out.Decision = DecisionAlreadyCounted
		out.Used = e.Used
		return e, out, dirty
	}

	if e.Used+1 > req.Allowance.Quota {
		out.Decision = DecisionRejected
		out.Used = e.Used
		return e, out, dirty
	}

	e.Used++
	e.addItem(req.ItemID)
	out.Decision = DecisionConsumed
	out.Used = e.Used
	return e, out, true
}
