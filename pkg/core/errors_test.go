package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		want      string
	}{
		{"unknown", ErrorTypeUnknown, "UNKNOWN"},
		{"network", ErrorTypeNetwork, "NETWORK"},
		{"timeout", ErrorTypeTimeout, "TIMEOUT"},
		{"rate_limit", ErrorTypeRateLimit, "RATE_LIMIT"},
		{"authentication", ErrorTypeAuthentication, "AUTHENTICATION"},
		{"bad_request", ErrorTypeBadRequest, "BAD_REQUEST"},
		{"not_found", ErrorTypeNotFound, "NOT_FOUND"},
		{"server_error", ErrorTypeServerError, "SERVER_ERROR"},
		{"insufficient_funds", ErrorTypeInsufficientFunds, "INSUFFICIENT_FUNDS"},
		{"invalid_order", ErrorTypeInvalidOrder, "INVALID_ORDER"},
		{"unknown_operation", ErrorTypeUnknownOperation, "UNKNOWN_OPERATION"},
		{"quota_exceeded", ErrorTypeQuotaExceeded, "QUOTA_EXCEEDED"},
		{"clock_skew", ErrorTypeClockSkew, "CLOCK_SKEW"},
		{"transport_exhausted", ErrorTypeTransportExhausted, "TRANSPORT_EXHAUSTED"},
		{"ambiguous_order", ErrorTypeAmbiguousOrder, "AMBIGUOUS_ORDER"},
		{"emergency", ErrorTypeEmergency, "EMERGENCY"},
		{"banned", ErrorTypeBanned, "BANNED"},
		{"out_of_range", ErrorType(100), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.errorType.String())
		})
	}
}

func TestExchangeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ExchangeError
		want string
	}{
		{
			name: "without_code",
			err: &ExchangeError{
				Exchange:   "binance",
				Type:       ErrorTypeRateLimit,
				StatusCode: 429,
				Message:    "too many requests",
			},
			want: "[binance] RATE_LIMIT (429): too many requests",
		},
		{
			name: "with_code",
			err: &ExchangeError{
				Exchange:   "binance",
				Type:       ErrorTypeClockSkew,
				StatusCode: 400,
				Code:       "-1021",
				Message:    "Timestamp for this request is outside of the recvWindow.",
			},
			want: "[binance] CLOCK_SKEW (400/-1021): Timestamp for this request is outside of the recvWindow.",
		},
		{
			name: "with_cause",
			err: &ExchangeError{
				Type:    ErrorTypeTransportExhausted,
				Message: "all transports failed",
				Err:     errors.New("connection refused"),
			},
			want: "[] TRANSPORT_EXHAUSTED (0): all transports failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNewExchangeError(t *testing.T) {
	err := NewExchangeError("binance", ErrorTypeNetwork, 503, "service unavailable")

	assert.NotNil(t, err)
	assert.Equal(t, "binance", err.Exchange)
	assert.Equal(t, ErrorTypeNetwork, err.Type)
	assert.Equal(t, 503, err.StatusCode)
	assert.Equal(t, "service unavailable", err.Message)
	assert.False(t, err.Timestamp.IsZero())
}

func TestNewExchangeErrorWithCode(t *testing.T) {
	err := NewExchangeErrorWithCode("binance", ErrorTypeAuthentication, 401, "-2015", "invalid api key")

	assert.Equal(t, "binance", err.Exchange)
	assert.Equal(t, ErrorTypeAuthentication, err.Type)
	assert.Equal(t, 401, err.StatusCode)
	assert.Equal(t, "-2015", err.Code)
	assert.Equal(t, "invalid api key", err.Message)
}

func TestExchangeError_Unwrap(t *testing.T) {
	cause := NewExchangeError("binance", ErrorTypeNetwork, 0, "dial tcp: refused")
	err := NewTransportExhaustedError(3, cause)

	assert.True(t, IsTransportExhausted(err))
	assert.True(t, IsErrorCode(err, ErrCodeTransportExhausted))
	assert.ErrorIs(t, err, cause)

	var inner *ExchangeError
	require.True(t, errors.As(err.Unwrap(), &inner))
	assert.Equal(t, ErrorTypeNetwork, inner.Type)
}

func TestHelpers_MatchWrappedErrors(t *testing.T) {
	quota := NewQuotaExceededError("weight-1m", 12*time.Second)
	wrapped := fmt.Errorf("get price: %w", quota)

	assert.True(t, IsQuotaExceeded(wrapped))
	assert.Equal(t, 12*time.Second, RetryAfterOf(wrapped))
	assert.False(t, IsClockSkew(wrapped))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
}

func TestNewUnknownOperationError(t *testing.T) {
	err := NewUnknownOperationError(Operation(42))

	assert.True(t, IsUnknownOperation(err))
	assert.Contains(t, err.Error(), "42")
}

func TestNewAmbiguousOrderError(t *testing.T) {
	err := NewAmbiguousOrderError("cid-1", context.DeadlineExceeded)

	assert.True(t, IsAmbiguousOrder(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "cid-1")
}

func TestNewEmergencyError(t *testing.T) {
	err := NewEmergencyError(OpGetKlines, "banned until 12:00")

	assert.True(t, IsEmergency(err))
	assert.Contains(t, err.Error(), "GET_KLINES")
}

func TestIsNetworkError(t *testing.T) {
	networkErr := NewExchangeError("test", ErrorTypeNetwork, 500, "network error")
	authErr := NewExchangeError("test", ErrorTypeAuthentication, 401, "auth error")

	assert.True(t, IsNetworkError(networkErr))
	assert.True(t, IsNetworkError(fmt.Errorf("wrapped: %w", networkErr)))
	assert.False(t, IsNetworkError(authErr))
	assert.False(t, IsNetworkError(nil))
}

func TestIsTimeoutError(t *testing.T) {
	timeoutErr := NewExchangeError("test", ErrorTypeTimeout, 408, "timeout")
	networkErr := NewExchangeError("test", ErrorTypeNetwork, 500, "network error")

	assert.True(t, IsTimeoutError(timeoutErr))
	assert.True(t, IsTimeoutError(context.DeadlineExceeded))
	assert.False(t, IsTimeoutError(networkErr))
	assert.False(t, IsTimeoutError(nil))
}

func TestIsRateLimitError(t *testing.T) {
	rateLimitErr := NewExchangeError("test", ErrorTypeRateLimit, 429, "rate limited")
	networkErr := NewExchangeError("test", ErrorTypeNetwork, 500, "network error")

	assert.True(t, IsRateLimitError(rateLimitErr))
	assert.False(t, IsRateLimitError(networkErr))
	assert.False(t, IsRateLimitError(nil))
}

func TestIsAuthenticationError(t *testing.T) {
	authErr := NewExchangeError("test", ErrorTypeAuthentication, 401, "unauthorized")
	networkErr := NewExchangeError("test", ErrorTypeNetwork, 500, "network error")

	assert.True(t, IsAuthenticationError(authErr))
	assert.False(t, IsAuthenticationError(networkErr))
	assert.False(t, IsAuthenticationError(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"network", NewExchangeError("test", ErrorTypeNetwork, 0, "reset"), true},
		{"timeout", NewExchangeError("test", ErrorTypeTimeout, 0, "deadline"), true},
		{"server", NewExchangeError("test", ErrorTypeServerError, 503, "unavailable"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"rate_limit", NewExchangeError("test", ErrorTypeRateLimit, 429, "slow down"), false},
		{"auth", NewExchangeError("test", ErrorTypeAuthentication, 401, "bad key"), false},
		{"clock_skew", NewExchangeError("test", ErrorTypeClockSkew, 400, "recvWindow"), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestIsTerminalError(t *testing.T) {
	tests := []struct {
		name     string
		errType  ErrorType
		terminal bool
	}{
		{"insufficient_funds", ErrorTypeInsufficientFunds, true},
		{"invalid_order", ErrorTypeInvalidOrder, true},
		{"not_found", ErrorTypeNotFound, true},
		{"banned", ErrorTypeBanned, true},
		{"network", ErrorTypeNetwork, false},
		{"timeout", ErrorTypeTimeout, false},
		{"rate_limit", ErrorTypeRateLimit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewExchangeError("test", tt.errType, 500, "message")
			assert.Equal(t, tt.terminal, IsTerminalError(err))
		})
	}

	assert.False(t, IsTerminalError(nil))
}
