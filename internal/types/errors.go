package types

import (
	"errors"
	"fmt"
)

// ErrInvariant marks defects: states that correct operation never produces.
// Callers surface these loudly instead of folding them into an outcome.
var ErrInvariant = errors.New("invariant violation")

var (
	ErrMalformedSignal   = fmt.Errorf("%w: malformed signal", ErrInvariant)
	ErrInvalidTransition = fmt.Errorf("%w: invalid order state transition", ErrInvariant)
	ErrOrderNotFound     = errors.New("order not found")
	ErrSourceFailure     = errors.New("signal source failure")
	ErrBrokerFailure     = errors.New("broker failure")
)

// IsInvariant reports whether err belongs to the fatal class.
func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}
