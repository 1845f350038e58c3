package quotaguard

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error types carried by GovernorError.Type.
const (
	ErrorTypeCircuitOpen = "CircuitOpen"
	ErrorTypeDailyQuota  = "DailyQuotaExceeded"
	ErrorTypeUnknownAPI  = "UnknownAPI"
	ErrorTypeValidation  = "Validation"
	ErrorTypeCacheKey    = "CacheKey"
	ErrorTypeClosed      = "Closed"
	// ErrorTypeFailure labels metrics for errors returned by a RequestFunc.
	ErrorTypeFailure = "Failure"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned while an API's breaker refuses calls
	ErrCircuitOpen = errors.New("quotaguard: service temporarily unavailable")

	// ErrDailyQuotaExceeded is returned when the provider reports a hard daily quota
	ErrDailyQuotaExceeded = errors.New("quotaguard: daily quota exceeded")

	// ErrUnknownAPI is returned for an API name with no configured profile
	ErrUnknownAPI = errors.New("quotaguard: unknown api")

	// ErrClosed is returned for queued calls rejected by Close
	ErrClosed = errors.New("quotaguard: governor closed")
)

var sentinels = map[string]error{
	ErrorTypeCircuitOpen: ErrCircuitOpen,
	ErrorTypeDailyQuota:  ErrDailyQuotaExceeded,
	ErrorTypeUnknownAPI:  ErrUnknownAPI,
	ErrorTypeClosed:      ErrClosed,
}

// GovernorError describes a failure produced by the governor itself. Errors
// returned by a RequestFunc that are not quota related never get wrapped.
type GovernorError struct {
	Type      string
	API       string
	Message   string
	Cause     error
	RequestID string
	Timestamp time.Time
}

// Error implements error interface.
func (e *GovernorError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.RequestID != "" {
		fmt.Fprintf(&b, "[%s] ", e.RequestID)
	}
	b.WriteString(e.Type)
	if e.API != "" {
		fmt.Fprintf(&b, "(%s)", e.API)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *GovernorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another GovernorError of the same type, or the sentinel for
// this error's type.
func (e *GovernorError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*GovernorError); ok {
		return e.Type == targetErr.Type
	}
	if sentinel, ok := sentinels[e.Type]; ok {
		return sentinel == target
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *GovernorError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.API != "" {
		info += fmt.Sprintf("API: %s\n", e.API)
	}
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether retrying later may succeed. An open circuit
// is transient; a daily quota is not until the provider resets it.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDailyQuotaExceeded) {
		return false
	}
	return errors.Is(err, ErrCircuitOpen)
}

// IsQuotaExceeded reports whether err is the governor's daily quota error.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrDailyQuotaExceeded)
}

func (g *Governor) newError(errorType, api, message string, cause error, requestID string) *GovernorError {
	return &GovernorError{
		Type:      errorType,
		API:       api,
		Message:   message,
		Cause:     cause,
		RequestID: requestID,
		Timestamp: g.clock.Now(),
	}
}
