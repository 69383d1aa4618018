package upstream

import "errors"

// Sentinel errors for upstream endpoint operations.
var (
	// ErrNoHealthyEndpoint indicates no healthy execution endpoint is
	// available.
	ErrNoHealthyEndpoint = errors.New("no healthy upstream endpoint available")

	// ErrBlockNotFound indicates a block was not found on the endpoint.
	ErrBlockNotFound = errors.New("block not found")
)
