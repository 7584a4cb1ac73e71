package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Signal is a single opinion produced by a strategy source. Immutable once produced.
type Signal struct {
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Confidence   float64   `json:"confidence"`
	QuantityHint float64   `json:"quantity_hint,omitempty"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Source       string    `json:"source"`
	ProducedAt   time.Time `json:"produced_at"`
}

// Validate rejects signals that must never reach the vote.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol (source=%s)", ErrMalformedSignal, s.Source)
	}
	if !s.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q (source=%s)", ErrMalformedSignal, s.Action, s.Source)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1] (source=%s)", ErrMalformedSignal, s.Confidence, s.Source)
	}
	if math.IsNaN(s.QuantityHint) || s.QuantityHint < 0 {
		return fmt.Errorf("%w: negative quantity hint %v (source=%s)", ErrMalformedSignal, s.QuantityHint, s.Source)
	}
	return nil
}

// ConsensusDecision is the reduced view of all signals for one symbol in one cycle.
type ConsensusDecision struct {
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	Confidence    float64   `json:"confidence"`
	SignalCount   int       `json:"signal_count"`
	Votes         int       `json:"votes"`
	BuyVotes      int       `json:"buy_votes"`
	SellVotes     int       `json:"sell_votes"`
	HoldVotes     int       `json:"hold_votes"`
	Malformed     int       `json:"malformed,omitempty"`
	FailedSources []string  `json:"failed_sources,omitempty"`
	QuantityHint  float64   `json:"quantity_hint,omitempty"`
	Cycle         uint64    `json:"cycle"`
	DecidedAt     time.Time `json:"decided_at"`
}
