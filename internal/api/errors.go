package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/leafsii/leafsii-dsc/internal/engine"
)

// requestError is a problem with the request itself, caught before the engine runs.
type requestError struct {
	code    string
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(code, format string, args ...interface{}) error {
	return &requestError{code: code, message: fmt.Sprintf(format, args...)}
}

// httpStatus maps engine.Code values to HTTP statuses.
var httpStatus = map[string]int{
	"INVALID_COLLATERAL_TOKEN": http.StatusBadRequest,
	"INVALID_AMOUNT":           http.StatusBadRequest,
	"OVERFLOW":                 http.StatusBadRequest,
	"HEALTH_FACTOR_TOO_LOW":    http.StatusUnprocessableEntity,
	"HEALTH_FACTOR_SUFFICIENT": http.StatusUnprocessableEntity,
	"INSUFFICIENT_COLLATERAL":  http.StatusUnprocessableEntity,
	"BURN_EXCEEDS_DEBT":        http.StatusUnprocessableEntity,
	"INSUFFICIENT_BALANCE":     http.StatusUnprocessableEntity,
	"INSUFFICIENT_ALLOWANCE":   http.StatusUnprocessableEntity,
	"PRICE_UNAVAILABLE":        http.StatusServiceUnavailable,
}

// rpcCodes maps engine.Code values to JSON-RPC application error codes.
var rpcCodes = map[string]int{
	"INVALID_COLLATERAL_TOKEN": -32001,
	"HEALTH_FACTOR_TOO_LOW":    -32002,
	"INSUFFICIENT_COLLATERAL":  -32003,
	"HEALTH_FACTOR_SUFFICIENT": -32004,
	"INVALID_AMOUNT":           -32005,
	"BURN_EXCEEDS_DEBT":        -32006,
	"INSUFFICIENT_BALANCE":     -32007,
	"INSUFFICIENT_ALLOWANCE":   -32008,
	"PRICE_UNAVAILABLE":        -32009,
	"OVERFLOW":                 -32010,
}

// classify returns the stable code and HTTP status for err.
func classify(err error) (code string, status int) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.code, http.StatusBadRequest
	}
	code = engine.Code(err)
	if status, ok := httpStatus[code]; ok {
		return code, status
	}
	return code, http.StatusInternalServerError
}

func rpcCode(code string) int {
	if c, ok := rpcCodes[code]; ok {
		return c
	}
	return JSONRPCInternalError
}
