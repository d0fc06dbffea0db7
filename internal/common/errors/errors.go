// Package errors provides standardized error handling for the recommendation
// pipeline and its BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"

	ErrCodeIntentExtractionFailed ErrorCode = "INTENT_EXTRACTION_FAILED"
	ErrCodeIntentAPITimeout       ErrorCode = "INTENT_API_TIMEOUT"

	ErrCodeAuthFailed        ErrorCode = "AUTH_ERROR"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeSearchUnavailable ErrorCode = "SEARCH_UNAVAILABLE"
	ErrCodeSearchRejected    ErrorCode = "SEARCH_REJECTED"

	ErrCodeEnrichmentFailed ErrorCode = "ENRICHMENT_FAILED"

	ErrCodeTurnSuperseded     ErrorCode = "TURN_SUPERSEDED"
	ErrCodeSessionStoreFailed ErrorCode = "SESSION_STORE_FAILED"

	ErrCodeWorkflowEngine ErrorCode = "WORKFLOW_ENGINE_ERROR"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching on code only.
var (
	ErrValidation        = &StandardError{Code: ErrCodeValidationFailed}
	ErrAuth              = &StandardError{Code: ErrCodeAuthFailed}
	ErrRateLimited       = &StandardError{Code: ErrCodeRateLimited}
	ErrSearchUnavailable = &StandardError{Code: ErrCodeSearchUnavailable}
	ErrSearchRejected    = &StandardError{Code: ErrCodeSearchRejected}
	ErrEnrichment        = &StandardError{Code: ErrCodeEnrichmentFailed}
	ErrIntentExtraction  = &StandardError{Code: ErrCodeIntentExtractionFailed}
	ErrIntentTimeout     = &StandardError{Code: ErrCodeIntentAPITimeout}
	ErrTurnSuperseded    = &StandardError{Code: ErrCodeTurnSuperseded}
	ErrSessionStore      = &StandardError{Code: ErrCodeSessionStoreFailed}
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ValidationError reports a single field that failed range or shape checks.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match field errors too.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Code == ErrCodeValidationFailed
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newStandard(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewQueryValidationError wraps field errors from query validation.
func NewQueryValidationError(fieldErr *ValidationError) *StandardError {
	e := newStandard(ErrCodeValidationFailed, "Search query failed validation", fieldErr.Error(), false, fieldErr)
	e.Metadata = map[string]interface{}{"field": fieldErr.Field, "reason": fieldErr.Reason}
	return e
}

// NewInvalidInputError creates a non-retryable malformed input error.
func NewInvalidInputError(details string) *StandardError {
	return newStandard(ErrCodeInvalidInput, "Invalid worker input", details, false, nil)
}

// NewIntentExtractionFailedError creates a retryable intent extraction error.
func NewIntentExtractionFailedError(err error) *StandardError {
	return newStandard(ErrCodeIntentExtractionFailed, "Intent extraction API error", err.Error(), true, err)
}

// NewIntentAPITimeoutError creates a retryable intent API timeout error.
func NewIntentAPITimeoutError() *StandardError {
	return newStandard(ErrCodeIntentAPITimeout, "Intent extraction API timeout", "API call exceeded timeout threshold", true, nil)
}

// NewAuthError creates a non-retryable credential error for an external API.
func NewAuthError(service, details string) *StandardError {
	e := newStandard(ErrCodeAuthFailed, fmt.Sprintf("Authentication with '%s' failed", service), details, false, nil)
	e.Metadata = map[string]interface{}{"service": service}
	return e
}

// NewRateLimitedError creates a retryable rate-limit error. retryAfter may be zero.
func NewRateLimitedError(service string, retryAfter time.Duration) *StandardError {
	e := newStandard(ErrCodeRateLimited, fmt.Sprintf("Rate limited by '%s'", service), "", true, nil)
	e.Metadata = map[string]interface{}{"service": service, "retryAfterMs": retryAfter.Milliseconds()}
	return e
}

// NewSearchUnavailableError is returned once retries are exhausted with nothing fetched.
func NewSearchUnavailableError(attempts int, err error) *StandardError {
	details := fmt.Sprintf("no page fetched after %d attempts", attempts)
	if err != nil {
		details += ": " + err.Error()
	}
	e := newStandard(ErrCodeSearchUnavailable, "Business search is unavailable", details, true, err)
	e.Metadata = map[string]interface{}{"partial": false, "attempts": attempts}
	return e
}

// NewSearchRejectedError creates a non-retryable error for 4xx responses other than auth and rate limit.
func NewSearchRejectedError(status int, body string) *StandardError {
	e := newStandard(ErrCodeSearchRejected, "Business search rejected the request", body, false, nil)
	e.Metadata = map[string]interface{}{"status": status}
	return e
}

// NewEnrichmentFailedError records a per-candidate enrichment failure.
func NewEnrichmentFailedError(candidateID string, err error) *StandardError {
	e := newStandard(ErrCodeEnrichmentFailed, "Review enrichment failed", err.Error(), false, err)
	e.Metadata = map[string]interface{}{"candidateId": candidateID}
	return e
}

// NewTurnSupersededError marks a turn whose result was discarded for a newer one.
func NewTurnSupersededError(sessionID string) *StandardError {
	return newStandard(ErrCodeTurnSuperseded, "Turn superseded by a newer message", fmt.Sprintf("sessionId: %s", sessionID), false, nil)
}

// NewSessionStoreError creates a retryable session persistence error.
func NewSessionStoreError(op string, err error) *StandardError {
	return newStandard(ErrCodeSessionStoreFailed, fmt.Sprintf("Session store %s failed", op), err.Error(), true, err)
}

// NewWorkflowEngineError wraps a failed Zeebe gateway call.
func NewWorkflowEngineError(operation string, retryable bool, err error) *StandardError {
	e := newStandard(ErrCodeWorkflowEngine, fmt.Sprintf("Zeebe operation '%s' failed", operation), err.Error(), retryable, err)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return newStandard(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended Zeebe retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeIntentExtractionFailed,
		ErrCodeSearchUnavailable,
		ErrCodeSessionStoreFailed:
		return 3

	case ErrCodeIntentAPITimeout,
		ErrCodeRateLimited:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// Normalize turns any error into a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	var fieldErr *ValidationError
	if stderrors.As(err, &fieldErr) {
		return NewQueryValidationError(fieldErr)
	}
	return NewInternalError(err)
}

// CodeOf returns the code of err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTH"):
		return "AUTH"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "RATE"):
		return "SEARCH"
	case strings.Contains(codeStr, "ENRICHMENT"):
		return "ENRICHMENT"
	case strings.Contains(codeStr, "INTENT"):
		return "AI"
	case strings.Contains(codeStr, "SESSION") || strings.Contains(codeStr, "TURN"):
		return "SESSION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
