package core

import "errors"

// ErrorCode is a stable machine-readable identifier carried in ExchangeError.Code.
// Binance rejections keep the exchange's numeric code instead (e.g. "-1021").
type ErrorCode string

// Transport and HTTP-status level codes.
const (
	ErrCodeNetwork     ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT"
	ErrCodeBanned      ErrorCode = "BANNED"
	ErrCodeAuth        ErrorCode = "AUTH_ERROR"
	ErrCodeBadRequest  ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeServerError ErrorCode = "SERVER_ERROR"
)

// Codes for refusals decided by the gateway itself. None of these reached the
// exchange except ErrCodeAmbiguousOrder and ErrCodeTransportExhausted.
const (
	ErrCodeUnknownOperation   ErrorCode = "UNKNOWN_OPERATION"
	ErrCodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeTransportExhausted ErrorCode = "TRANSPORT_EXHAUSTED"
	ErrCodeAmbiguousOrder     ErrorCode = "AMBIGUOUS_ORDER"
	ErrCodeEmergency          ErrorCode = "EMERGENCY_MODE"
)

// IsErrorCode reports whether err wraps an ExchangeError carrying code.
func IsErrorCode(err error, code ErrorCode) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return ErrorCode(exErr.Code) == code
	}
	return false
}
