// Package adapters defines the shared contract every provider adapter
// conforms to: the uniform Generate call, the common error taxonomy, and
// the capability lookups the Executor and FlowOrchestrator depend on.
package adapters

import (
	"errors"
	"fmt"
)

// Category is the common error taxonomy every adapter translates
// provider-specific failures into.
type Category string

const (
	CategoryTransientAPI   Category = "transient_api"
	CategoryFatalClient    Category = "fatal_client"
	CategoryRateLimit      Category = "rate_limit"
	CategoryTimeout        Category = "timeout"
	CategoryGatewayTimeout Category = "gateway_timeout"
	CategoryToolExecution  Category = "tool_execution"
	CategoryParsing        Category = "parsing"
	CategoryAuthentication Category = "authentication"
	CategoryInvalidModel   Category = "invalid_model"
	CategoryConfiguration  Category = "configuration"
)

// Error is the common structured error every adapter raises, mirroring the
// provider-error shape used across the source corpus (category, provider,
// status, message, cause) but named for this project's taxonomy.
type Error struct {
	Category  Category
	Provider  string
	Model     string
	Status    int
	Message   string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Category, e.Provider, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Category, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given category for provider, wrapping cause.
func New(category Category, provider string, cause error) *Error {
	return &Error{Category: category, Provider: provider, Cause: cause}
}

func (e *Error) WithModel(model string) *Error       { e.Model = model; return e }
func (e *Error) WithStatus(status int) *Error        { e.Status = status; return e }
func (e *Error) WithMessage(msg string) *Error        { e.Message = msg; return e }
func (e *Error) WithRequestID(id string) *Error       { e.RequestID = id; return e }

// ClassifyStatus maps an HTTP status code to a Category, matching the
// provider-error classification rules adapters are expected to apply
// before surfacing a raw transport error.
func ClassifyStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication
	case status == 429:
		return CategoryRateLimit
	case status == 400 || status == 404 || status == 422:
		return CategoryFatalClient
	case status == 504 || status == 524:
		return CategoryGatewayTimeout
	case status >= 500:
		return CategoryTransientAPI
	default:
		return CategoryTransientAPI
	}
}

// RetryReason enumerates why an adapter is asking the Executor to rebuild
// the request with a smaller token budget. "max_output_tokens" is the only
// retriable reason; the type exists so a future reason can
// be added without breaking callers that switch on it.
type RetryReason string

const RetryReasonMaxOutputTokens RetryReason = "max_output_tokens"

// RetryWithReducedContext is the typed sentinel error adapters return
// instead of raising an exception when the provider signals
// "incomplete: max_output_tokens". The Executor catches it specifically
// via errors.As and restarts the generate loop with a shrunken budget; this
// is the Go-native substitute for the exception-based control flow the
// original implementation used.
type RetryWithReducedContext struct {
	Reason RetryReason
}

func (r *RetryWithReducedContext) Error() string {
	return fmt.Sprintf("retry with reduced context: %s", r.Reason)
}

// AsRetryWithReducedContext extracts a *RetryWithReducedContext from an
// error chain, if present.
func AsRetryWithReducedContext(err error) (*RetryWithReducedContext, bool) {
	var r *RetryWithReducedContext
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRetryable reports whether category warrants an SDK-level retry before
// surfacing to the caller.
func (c Category) IsRetryable() bool {
	switch c {
	case CategoryTransientAPI, CategoryRateLimit, CategoryTimeout, CategoryGatewayTimeout:
		return true
	default:
		return false
	}
}
