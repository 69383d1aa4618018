package api

import (
	"errors"
	"net/http"

	"github.com/ethsim/tx-simulator/pkg/engine"
	"github.com/ethsim/tx-simulator/pkg/simulator"
)

// ErrorResponse is the body of every non-2xx reply. Code repeats the HTTP
// status so clients parsing the body alone can branch on it.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor maps simulator and engine errors onto HTTP statuses. Upstream and
// execution failures are gateway errors; everything unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, simulator.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, simulator.ErrChainMismatch),
		errors.Is(err, simulator.ErrMultipleChainIDs),
		errors.Is(err, simulator.ErrNoBlockNumber),
		errors.Is(err, simulator.ErrInvalidBlockNumbers),
		errors.Is(err, simulator.ErrOverride):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineCreate),
		errors.Is(err, engine.ErrExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
