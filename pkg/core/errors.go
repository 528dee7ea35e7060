package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a gateway or exchange error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates the exchange rejected the call for rate reasons.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid or expired credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates the requested resource does not exist.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
	// ErrorTypeInsufficientFunds indicates account lacks required balance.
	ErrorTypeInsufficientFunds
	// ErrorTypeInvalidOrder indicates the order violates exchange rules.
	ErrorTypeInvalidOrder
	// ErrorTypeUnknownOperation indicates an operation missing from the registry.
	ErrorTypeUnknownOperation
	// ErrorTypeQuotaExceeded indicates a local window would be exceeded; nothing was sent.
	ErrorTypeQuotaExceeded
	// ErrorTypeClockSkew indicates the signed timestamp fell outside recvWindow.
	ErrorTypeClockSkew
	// ErrorTypeTransportExhausted indicates every transport attempt failed.
	ErrorTypeTransportExhausted
	// ErrorTypeAmbiguousOrder indicates a write was dispatched but its outcome is unknown.
	ErrorTypeAmbiguousOrder
	// ErrorTypeEmergency indicates the call was refused because emergency mode is active.
	ErrorTypeEmergency
	// ErrorTypeBanned indicates the exchange banned the IP (HTTP 418).
	ErrorTypeBanned
)

var errorTypeNames = [...]string{
	"UNKNOWN",
	"NETWORK",
	"TIMEOUT",
	"RATE_LIMIT",
	"AUTHENTICATION",
	"BAD_REQUEST",
	"NOT_FOUND",
	"SERVER_ERROR",
	"INSUFFICIENT_FUNDS",
	"INVALID_ORDER",
	"UNKNOWN_OPERATION",
	"QUOTA_EXCEEDED",
	"CLOCK_SKEW",
	"TRANSPORT_EXHAUSTED",
	"AMBIGUOUS_ORDER",
	"EMERGENCY",
	"BANNED",
}

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	if t < 0 || int(t) >= len(errorTypeNames) {
		return "UNKNOWN"
	}
	return errorTypeNames[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrGatewayClosed is returned when calling a gateway after Close.
	ErrGatewayClosed = errors.New("gateway is closed")
	// ErrStreamClosed is returned when attempting to use a closed stream.
	ErrStreamClosed = errors.New("stream is closed")
	// ErrNotConnected is returned when WebSocket is not connected.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrCircuitBreakerOpen is returned when circuit breaker is open.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrNoCredentials is returned when no API credentials are configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoAPIKey is returned when no API key is available.
	ErrNoAPIKey = errors.New("no available API key")
	// ErrNoPushData is returned by a push source with nothing fresh for a request.
	ErrNoPushData = errors.New("no fresh push data")
)

// ExchangeError represents a structured error returned from an exchange or raised
// by the gateway on its behalf.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code from the response, 0 when nothing was sent.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific error code.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// RawError contains the original error response for debugging.
	RawError any `json:"raw_error,omitempty"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
	// RetryAfter is the server or tracker provided wait before retrying, if known.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface for ExchangeError.
// It returns a formatted string with exchange name, error type, status code, and message.
func (e *ExchangeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, msg)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// WithCode sets the error code and returns the error for chaining.
func (e *ExchangeError) WithCode(code ErrorCode) *ExchangeError {
	e.Code = string(code)
	return e
}

// WithRetryAfter sets the retry hint and returns the error for chaining.
func (e *ExchangeError) WithRetryAfter(d time.Duration) *ExchangeError {
	e.RetryAfter = d
	return e
}

// WithCause sets the underlying cause and returns the error for chaining.
func (e *ExchangeError) WithCause(err error) *ExchangeError {
	e.Err = err
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, errorType ErrorType, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// NewExchangeErrorWithCode creates a new ExchangeError including an exchange-specific error code.
// The timestamp is automatically set to the current time.
func NewExchangeErrorWithCode(exchange string, errorType ErrorType, statusCode int, code, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// NewUnknownOperationError reports an operation that has no registered profile.
func NewUnknownOperationError(op Operation) *ExchangeError {
	return NewExchangeError("", ErrorTypeUnknownOperation, 0,
		fmt.Sprintf("no endpoint profile for operation %d (%s)", int(op), op)).
		WithCode(ErrCodeUnknownOperation)
}

// NewQuotaExceededError reports a call refused locally because window would overflow.
func NewQuotaExceededError(window string, retryAfter time.Duration) *ExchangeError {
	return NewExchangeError("", ErrorTypeQuotaExceeded, 0,
		fmt.Sprintf("window %s would be exceeded", window)).
		WithCode(ErrCodeQuotaExceeded).
		WithRetryAfter(retryAfter)
}

// NewTransportExhaustedError wraps the last failure once every transport is used up.
func NewTransportExhaustedError(attempts int, last error) *ExchangeError {
	return NewExchangeError("", ErrorTypeTransportExhausted, 0,
		fmt.Sprintf("all transports failed after %d attempt(s)", attempts)).
		WithCode(ErrCodeTransportExhausted).
		WithCause(last)
}

// NewAmbiguousOrderError reports a dispatched write whose outcome is unknown.
func NewAmbiguousOrderError(clientOrderID string, cause error) *ExchangeError {
	return NewExchangeError("", ErrorTypeAmbiguousOrder, 0,
		fmt.Sprintf("order %q dispatched but outcome unknown, reconcile with open orders", clientOrderID)).
		WithCode(ErrCodeAmbiguousOrder).
		WithCause(cause)
}

// NewEmergencyError reports a pull refused while emergency mode is active.
func NewEmergencyError(op Operation, reason string) *ExchangeError {
	return NewExchangeError("", ErrorTypeEmergency, 0,
		fmt.Sprintf("%s refused in emergency mode: %s", op, reason)).
		WithCode(ErrCodeEmergency)
}

// AsExchangeError returns the first ExchangeError in err's chain.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func isType(err error, t ErrorType) bool {
	e, ok := AsExchangeError(err)
	return ok && e.Type == t
}

// IsNetworkError returns true if the error is a network connectivity issue.
// Network errors are typically retryable.
func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

// IsTimeoutError returns true if the error is a timeout.
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isType(err, ErrorTypeTimeout)
}

// IsRateLimitError returns true if the exchange rejected the call for rate reasons.
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsAuthenticationError returns true if the error is an authentication failure.
// Authentication errors require credential validation and are not retryable.
func IsAuthenticationError(err error) bool {
	return isType(err, ErrorTypeAuthentication)
}

func IsServerError(err error) bool {
	return isType(err, ErrorTypeServerError)
}

func IsUnknownOperation(err error) bool {
	return isType(err, ErrorTypeUnknownOperation)
}

// IsQuotaExceeded reports a local quota refusal; the exchange was not contacted.
func IsQuotaExceeded(err error) bool {
	return isType(err, ErrorTypeQuotaExceeded)
}

func IsClockSkew(err error) bool {
	return isType(err, ErrorTypeClockSkew)
}

func IsTransportExhausted(err error) bool {
	return isType(err, ErrorTypeTransportExhausted)
}

// IsAmbiguousOrder reports a write that may or may not have reached the book.
func IsAmbiguousOrder(err error) bool {
	return isType(err, ErrorTypeAmbiguousOrder)
}

func IsEmergency(err error) bool {
	return isType(err, ErrorTypeEmergency)
}

func IsBanned(err error) bool {
	return isType(err, ErrorTypeBanned)
}

// IsRetryable reports transient transport failures worth another pull attempt.
func IsRetryable(err error) bool {
	e, ok := AsExchangeError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsTerminalError returns true if the error indicates a terminal condition.
// Terminal errors should not be retried as they will not succeed.
func IsTerminalError(err error) bool {
	e, ok := AsExchangeError(err)
	if !ok {
		return false
	}
	return e.Type == ErrorTypeInsufficientFunds ||
		e.Type == ErrorTypeInvalidOrder ||
		e.Type == ErrorTypeNotFound ||
		e.Type == ErrorTypeBanned
}

// RetryAfterOf returns the retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	if e, ok := AsExchangeError(err); ok {
		return e.RetryAfter
	}
	return 0
}
