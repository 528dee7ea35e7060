package core

import (
	"context"
	"net/http"
	"time"

	"resty.dev/v3"
)

// UsageReport is quota usage the exchange reported in response headers.
type UsageReport struct {
	Kind WindowKind `json:"kind"`
	// Interval is the window length the header refers to (1m for X-MBX-USED-WEIGHT-1M).
	Interval time.Duration `json:"interval"`
	Used     int           `json:"used"`
}

// Protocol defines the interface for exchange-specific protocol implementations.
// Each exchange must implement this interface to handle request building,
// response parsing, authentication and usage reporting.
type Protocol interface {
	// Name returns the exchange identifier (e.g., "binance").
	Name() string

	// Version returns the API version being used.
	Version() string

	// BaseURL returns the API base URL for the given environment.
	BaseURL(sandbox bool) string

	// BuildRequest constructs an HTTP request for the specified operation.
	BuildRequest(ctx context.Context, op Operation, params Params) (*Request, error)

	// ParseResponse deserializes the HTTP response and normalizes it to canonical types.
	// Non-2xx responses come back as *ExchangeError.
	ParseResponse(op Operation, resp *resty.Response) (any, error)

	// SignRequest adds authentication headers and signature to the request.
	// timestamp is the already corrected request time.
	SignRequest(req *resty.Request, creds Credentials, timestamp time.Time, recvWindow time.Duration) error

	// ParseUsage extracts server-reported quota usage from response headers.
	ParseUsage(header http.Header) []UsageReport

	// SupportedOperations returns the list of operations this protocol supports.
	SupportedOperations() []Operation
}
