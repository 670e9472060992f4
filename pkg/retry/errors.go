package retry

import "errors"

// ErrCircuitOpen is returned by callers that refuse work while a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsCircuitOpen checks if an error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
