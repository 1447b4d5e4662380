package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category is a quota domain.
type Category string

const (
	CategoryAnswer Category = "answer"
	CategoryPaper  Category = "paper"
)

// Categories lists every recognised category in display order.
var Categories = []Category{CategoryAnswer, CategoryPaper}

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryAnswer, CategoryPaper:
		return Category(s), nil
	}
	return "", &ValidationError{Field: "category", Reason: fmt.Sprintf("unrecognized category %q", s)}
}

// dedups reports whether repeat consumption of an item is free in this category.
func (c Category) dedups() bool {
	return c == CategoryAnswer
}

// Result codes.
const (
	CodeOK             = "ok"
	CodeExempt         = "exempt"
	CodeAlreadyCounted = "already_counted"
	CodeQuotaExceeded  = "quota_exceeded"
)

// Unlimited is the Total reported for exempt users.
const Unlimited = -1

// Effective is the resolved allowance for one user and category.
type Effective struct {
	Quota      int  `json:"quota"`
	PeriodDays int  `json:"period_days"`
	IsExempt   bool `json:"is_exempt"`
}

// Result is the outcome of a consume call. A rejected call is a Result with
// Success false, not an error.
type Result struct {
	Success bool       `json:"success"`
	Code    string     `json:"code"`
	Message string     `json:"message,omitempty"`
	Used    int        `json:"used"`
	Total   int        `json:"total"`
	ResetAt *time.Time `json:"reset_at"`
}

// Entry is one ledger row: the counter and de-dup set for the current window.
type Entry struct {
	UserID   uuid.UUID `json:"user_id"`
	Category Category  `json:"category"`
	Used     int       `json:"used"`
	ResetAt  time.Time `json:"reset_at"`
	Items    []string  `json:"current_period_items"`
}

// HasItem reports whether id was already counted in the current window.
func (e *Entry) HasItem(id string) bool {
	for _, it := range e.Items {
		if it == id {
			return true
		}
	}
	return false
}

func (e *Entry) addItem(id string) {
	if id == "" || e.HasItem(id) {
		return
	}
	e.Items = append(e.Items, id)
}

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation error")
	// ErrStore is matched by every StoreError.
	ErrStore = errors.New("quota store failure")
	// ErrProfileNotFound is returned when the user has no profile row.
	ErrProfileNotFound = errors.New("profile not found")
)

// ValidationError reports bad input. It never has side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError reports a backing store failure. The engine never retries it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

func storeErr(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
