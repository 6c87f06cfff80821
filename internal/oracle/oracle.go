// Package oracle defines the external rate-feed collaborator consumed by
// assimilators. Prices are signed integers scaled by 1e8.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrRoundNotStarted  = errors.New("oracle: round not started")
	ErrStalePrice       = errors.New("oracle: price older than staleness window")
	ErrNonPositivePrice = errors.New("oracle: zero or negative price")
)

// PriceScale is the fixed 1e8 scale every feed answer uses.
var PriceScale = big.NewInt(100_000_000)

// DefaultStaleness is the window after which a round is rejected: one day
// plus a grace period for the feed's heartbeat drift.
const DefaultStaleness = 24*time.Hour + 15*time.Minute

// RoundData is a snapshot of the latest feed round.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound *big.Int
}

// RateOracle supplies the latest round of an external price feed.
type RateOracle interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
}

// Validate rejects unusable rounds: never-started rounds, non-positive
// answers, and rounds older than the staleness window relative to now.
func Validate(round RoundData, now time.Time, staleness time.Duration) error {
	if round.StartedAt.IsZero() || round.StartedAt.Unix() == 0 {
		return ErrRoundNotStarted
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return ErrNonPositivePrice
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if now.After(round.StartedAt.Add(staleness)) {
		return ErrStalePrice
	}
	return nil
}

// Fixed is an in-process oracle pinned to a constant rate, used for
// USD-pegged quote tokens whose rate is 1.0 by definition.
type Fixed struct {
	answer *big.Int
}

// NewFixed pins the oracle to the given 1e8-scaled answer.
func NewFixed(answer *big.Int) *Fixed {
	return &Fixed{answer: new(big.Int).Set(answer)}
}

// NewFixedOne pins the oracle to exactly 1.0.
func NewFixedOne() *Fixed {
	return NewFixed(PriceScale)
}

// LatestRoundData always reports a fresh round at the pinned rate.
func (f *Fixed) LatestRoundData(context.Context) (RoundData, error) {
	now := time.Now()
	return RoundData{
		RoundID:         big.NewInt(1),
		Answer:          new(big.Int).Set(f.answer),
		StartedAt:       now,
		UpdatedAt:       now,
		AnsweredInRound: big.NewInt(1),
	}, nil
}
