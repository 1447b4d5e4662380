package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Anchor selects how the next reset is computed on rollover.
type Anchor string

const (
	// AnchorRollover opens the new window at the moment of rollover, so the
	// cadence drifts with how late the user returns.
	AnchorRollover Anchor = "rollover"
	// AnchorStrict advances the previous reset by whole periods.
	AnchorStrict Anchor = "strict"
)

func ParseAnchor(s string) (Anchor, error) {
	switch Anchor(s) {
	case AnchorRollover, AnchorStrict:
		return Anchor(s), nil
	}
	return "", &ValidationError{Field: "rollover_anchor", Reason: fmt.Sprintf("unrecognized anchor %q", s)}
}

// Window computes and advances the reset timestamp of ledger entries.
// Rollover is lazy: it only happens when an entry is touched.
type Window struct {
	anchor Anchor
}

func NewWindow(anchor Anchor) Window {
	if anchor == "" {
		anchor = AnchorRollover
	}
	return Window{anchor: anchor}
}

func (w Window) Anchor() Anchor {
	return w.anchor
}

// Period converts a period in days to a duration.
func Period(periodDays int) time.Duration {
	return time.Duration(periodDays) * 24 * time.Hour
}

// Reset returns the end of a window opened at now.
func (w Window) Reset(now time.Time, periodDays int) time.Time {
	return now.Add(Period(periodDays))
}

// Expired reports whether the window of e has ended at now.
func Expired(e *Entry, now time.Time) bool {
	return !now.Before(e.ResetAt)
}

// next returns the reset for a window whose previous reset was prev and
// which is rolled over at now (now >= prev).
func (w Window) next(prev, now time.Time, periodDays int) time.Time {
	p := Period(periodDays)
	if w.anchor == AnchorStrict && p > 0 && !prev.IsZero() {
		k := now.Sub(prev)/p + 1
		return prev.Add(k * p)
	}
	return now.Add(p)
}

// Advance returns e ready for evaluation at now. A nil entry is synthesized
// as fresh; an expired one is rolled over with its counter and item set
// cleared together. changed is true when the returned entry differs from
// what is stored.
func (w Window) Advance(e *Entry, userID uuid.UUID, category Category, now time.Time, periodDays int) (out *Entry, changed bool) {
	if e == nil {
		return &Entry{
			UserID:   userID,
			Category: category,
			ResetAt:  w.Reset(now, periodDays),
			Items:    []string{},
		}, true
	}
	if !Expired(e, now) {
		return e, false
	}
	rolled := *e
	rolled.Used = 0
	rolled.Items = []string{}
	rolled.ResetAt = w.next(e.ResetAt, now, periodDays)
	return &rolled, true
}
