package venue

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the gateway and the layers above it
var (
	ErrInvalidOrder    = errors.New("invalid order request")
	ErrVenueRejected   = errors.New("venue rejected request")
	ErrNotInitialized  = errors.New("gateway not initialized")
	ErrUnsupported     = errors.New("feature not supported by venue")
	ErrOrderNotFound   = errors.New("order not found")
	ErrSymbolInfoFetch = errors.New("symbol info fetch failed")
)

// HTTPError carries the status code and body of a failed venue response so
// the retry classifier can decide whether the failure is transient.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("venue HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether the error is a venue rate-limit response.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429 || e.StatusCode == 418
}
