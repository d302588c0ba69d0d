package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
	ErrTransport          = errors.New("transport error")
	ErrService            = errors.New("service error")
	ErrDuplicateContent   = errors.New("content already registered")
	ErrSigningUnavailable = errors.New("signing session unavailable")
	ErrSigningDeclined    = errors.New("signing declined")
	ErrSigningEstimation  = errors.New("fee estimation failed")
	ErrSigningSubmission  = errors.New("transaction submission failed")
	ErrBusy               = errors.New("stage already in flight")
)

// Outcome markers ride along with a signing failure to say what is known
// about the ledger. They are not taxonomy kinds.
var (
	// ErrLedgerUnchanged: the transaction was mined and reverted.
	ErrLedgerUnchanged = errors.New("ledger unchanged")
	// ErrBroadcastPending: the signing request reached the wallet before the
	// caller gave up, so the wallet may still broadcast it.
	ErrBroadcastPending = errors.New("transaction may still be broadcast")
)

// Error is the structured failure produced by Wrap. It keeps the marker, the
// stage and operation that failed, and a message suitable for end users.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	marker := e.Marker
	if marker == nil {
		marker = ErrService
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", marker, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", marker, detail)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrService
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// ServiceError reports a non-success response from an external service along
// with the message the service returned.
type ServiceError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "no message"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, msg)
}

func (e *ServiceError) Unwrap() error { return ErrService }

// markers lists the taxonomy in classification order; more specific outcomes
// win over the generic transport and service markers they may wrap.
var markers = []struct {
	err  error
	kind string
}{
	{ErrBusy, "busy"},
	{ErrDuplicateContent, "duplicate_content"},
	{ErrSigningUnavailable, "signing_unavailable"},
	{ErrSigningDeclined, "signing_declined"},
	{ErrSigningEstimation, "signing_estimation"},
	{ErrSigningSubmission, "signing_submission"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{context.Canceled, "canceled"},
	{ErrService, "service"},
	{ErrTransport, "transport"},
	{context.DeadlineExceeded, "transport"},
}

// Kind maps an error to the taxonomy name persisted with pipeline state.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return "unknown"
}

// MarkerOf returns the taxonomy marker carried by err, or fallback when none
// is present. Context errors map to ErrTransport.
func MarkerOf(err, fallback error) error {
	for _, m := range markers {
		if m.err == context.Canceled || m.err == context.DeadlineExceeded {
			continue
		}
		if errors.Is(err, m.err) {
			return m.err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTransport
	}
	return fallback
}

// Transport tags err as a failure to reach an external service.
func Transport(service, operation string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", service, operation, ErrTransport, err)
}

// ErrorDetails is the flattened view of a wrapped error used for display.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Cause     string
}

// Details extracts display fields from err. Message falls back to the full
// error string when no user-facing message was attached.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err)}
	var wrapped *Error
	if errors.As(err, &wrapped) {
		details.Stage = wrapped.Stage
		details.Operation = wrapped.Operation
		details.Message = wrapped.Message
		if wrapped.Err != nil {
			details.Cause = wrapped.Err.Error()
		}
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && details.Cause == "" {
		details.Cause = svcErr.Error()
	}
	if details.Message == "" {
		details.Message = err.Error()
	} else if details.Cause != "" {
		details.Message = details.Message + ": " + details.Cause
	}
	return details
}

// Retryable reports whether the caller may re-invoke the failed stage as is.
// Duplicate content is terminal and a missing signing provider blocks until a
// session becomes available.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDuplicateContent) && !errors.Is(err, ErrSigningUnavailable)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
