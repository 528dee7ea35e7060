package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"tollgate/pkg/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// respondWithError maps gateway errors to HTTP statuses. Quota and throttle
// errors carry a Retry-After header when the wait is known.
func respondWithError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	if errors.Is(err, core.ErrGatewayClosed) {
		writeError(w, http.StatusServiceUnavailable, "GATEWAY_CLOSED", err.Error())
		return
	}

	e, ok := core.AsExchangeError(err)
	if ok {
		code = e.Type.String()
		switch e.Type {
		case core.ErrorTypeQuotaExceeded, core.ErrorTypeRateLimit:
			status = http.StatusTooManyRequests
		case core.ErrorTypeEmergency, core.ErrorTypeBanned, core.ErrorTypeTransportExhausted:
			status = http.StatusServiceUnavailable
		case core.ErrorTypeBadRequest, core.ErrorTypeInvalidOrder, core.ErrorTypeUnknownOperation:
			status = http.StatusBadRequest
		case core.ErrorTypeNotFound:
			status = http.StatusNotFound
		case core.ErrorTypeNetwork, core.ErrorTypeTimeout, core.ErrorTypeServerError:
			status = http.StatusBadGateway
		}
		if e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
		}
	}

	detail := errorDetail{Code: code, Message: err.Error()}
	if ok && e.RetryAfter > 0 {
		detail.RetryAfter = e.RetryAfter.Seconds()
	}
	writeJSON(w, status, errorBody{Error: detail})
}
