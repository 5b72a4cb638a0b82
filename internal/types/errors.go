package types

import (
	"fmt"
	"strings"
	"time"
)

// Coded is implemented by all typed errors in the system. HTTPStatus is
// a hint for callers that surface errors over HTTP; the core never
// serves HTTP itself.
type Coded interface {
	error
	Code() string
	HTTPStatus() int
}

// Retriable is implemented by errors that carry an explicit
// retriability decision.
type Retriable interface {
	Retriable() bool
}

// InvalidInputError reports bad parameters: empty batch lists,
// duplicates, conflicting options, invalid cursors, and the like.
type InvalidInputError struct {
	Message string
	Details map[string]any
}

func (e *InvalidInputError) Error() string   { return e.Message }
func (e *InvalidInputError) Code() string    { return "INVALID_INPUT" }
func (e *InvalidInputError) HTTPStatus() int { return 400 }

// Invalidf builds an InvalidInputError with a formatted message.
func Invalidf(format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
func (e *NotFoundError) Code() string    { return "NOT_FOUND" }
func (e *NotFoundError) HTTPStatus() int { return 404 }

// NoEligibleDaysError reports that run creation found no day with any
// filter-passing labeled user atom.
type NoEligibleDaysError struct {
	StartDate string
	EndDate   string
}

func (e *NoEligibleDaysError) Error() string {
	return fmt.Sprintf("no eligible days between %s and %s", e.StartDate, e.EndDate)
}
func (e *NoEligibleDaysError) Code() string    { return "NO_ELIGIBLE_DAYS" }
func (e *NoEligibleDaysError) HTTPStatus() int { return 400 }

// TimezoneMismatchError reports a multi-batch run whose batches do not
// share a timezone.
type TimezoneMismatchError struct {
	Timezones []string
	BatchIDs  []string
}

func (e *TimezoneMismatchError) Error() string {
	return fmt.Sprintf("batches %s have mismatched timezones: %s",
		strings.Join(e.BatchIDs, ", "), strings.Join(e.Timezones, ", "))
}
func (e *TimezoneMismatchError) Code() string    { return "TIMEZONE_MISMATCH" }
func (e *TimezoneMismatchError) HTTPStatus() int { return 400 }

// ConflictError is a generic typed conflict.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string   { return e.Message }
func (e *ConflictError) Code() string    { return "CONFLICT" }
func (e *ConflictError) HTTPStatus() int { return 409 }

// TickInProgressError reports that another tick holds the run's
// advisory lock. Retriable from the caller's perspective.
type TickInProgressError struct {
	RunID string
}

func (e *TickInProgressError) Error() string {
	return fmt.Sprintf("tick already in progress for run %s", e.RunID)
}
func (e *TickInProgressError) Code() string    { return "TICK_IN_PROGRESS" }
func (e *TickInProgressError) HTTPStatus() int { return 409 }
func (e *TickInProgressError) Retriable() bool { return true }

// Export precondition error codes.
const (
	ExportNotFound     = "EXPORT_NOT_FOUND"
	ExportPrecondition = "EXPORT_PRECONDITION"
)

// ExportPreconditionError reports a run that is not exportable.
type ExportPreconditionError struct {
	ErrCode string // EXPORT_NOT_FOUND or EXPORT_PRECONDITION
	Message string
	Details map[string]any
}

func (e *ExportPreconditionError) Error() string { return e.Message }
func (e *ExportPreconditionError) Code() string  { return e.ErrCode }
func (e *ExportPreconditionError) HTTPStatus() int {
	if e.ErrCode == ExportNotFound {
		return 404
	}
	return 409
}

// UnknownModelPricingError reports a non-stub model absent from the
// pricing book.
type UnknownModelPricingError struct {
	Model string
}

func (e *UnknownModelPricingError) Error() string {
	return fmt.Sprintf("no pricing known for model %q", e.Model)
}
func (e *UnknownModelPricingError) Code() string    { return "UNKNOWN_MODEL_PRICING" }
func (e *UnknownModelPricingError) HTTPStatus() int { return 400 }

// BudgetExceededError reports a pre- or post-call budget violation.
// Never retriable.
type BudgetExceededError struct {
	Message  string
	SpentUsd float64
	LimitUsd float64
}

func (e *BudgetExceededError) Error() string   { return e.Message }
func (e *BudgetExceededError) Code() string    { return "BUDGET_EXCEEDED" }
func (e *BudgetExceededError) HTTPStatus() int { return 402 }
func (e *BudgetExceededError) Retriable() bool { return false }

// MissingApiKeyError reports an absent provider credential.
type MissingApiKeyError struct {
	Provider string
	EnvVar   string
}

func (e *MissingApiKeyError) Error() string {
	return fmt.Sprintf("missing API key for %s: set %s", e.Provider, e.EnvVar)
}
func (e *MissingApiKeyError) Code() string    { return "MISSING_API_KEY" }
func (e *MissingApiKeyError) HTTPStatus() int { return 400 }
func (e *MissingApiKeyError) Retriable() bool { return false }

// LlmProviderError wraps a provider-side failure. Retriable by default;
// auth and quota failures are not.
type LlmProviderError struct {
	Provider string
	Message  string
	Retry    bool
	Err      error
}

func (e *LlmProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}
func (e *LlmProviderError) Code() string    { return "LLM_PROVIDER_ERROR" }
func (e *LlmProviderError) HTTPStatus() int { return 502 }
func (e *LlmProviderError) Retriable() bool { return e.Retry }
func (e *LlmProviderError) Unwrap() error   { return e.Err }

// LlmBadOutputError reports an unparseable or out-of-schema model
// response during classification.
type LlmBadOutputError struct {
	Message string
	Raw     string
}

func (e *LlmBadOutputError) Error() string   { return e.Message }
func (e *LlmBadOutputError) Code() string    { return "LLM_BAD_OUTPUT" }
func (e *LlmBadOutputError) HTTPStatus() int { return 502 }
func (e *LlmBadOutputError) Retriable() bool { return false }

// ErrorInfo maps any error to the JSON payload stored on a failed job.
func ErrorInfo(err error, at time.Time) *JobError {
	code := "INTERNAL"
	retriable := false
	if c, ok := err.(Coded); ok {
		code = c.Code()
	}
	if r, ok := err.(Retriable); ok {
		retriable = r.Retriable()
	}
	return &JobError{
		Code:      code,
		Message:   err.Error(),
		Retriable: retriable,
		At:        at.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}
