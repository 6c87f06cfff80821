package assimilator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/fixedpoint"
	"fxengine/internal/oracle"
)

// OracleBacked prices the pool's base token against an external rate feed.
// Immutable once constructed.
type OracleBacked struct {
	token             common.Address
	decimalsMult      *big.Int
	quoteDecimalsMult *big.Int
	feed              oracle.RateOracle
	staleness         time.Duration
	now               func() time.Time
}

// NewOracleBacked builds a base-token assimilator. quoteDecimals is needed
// because the LP-ratio rate normalizes both pool sides. A zero staleness
// selects oracle.DefaultStaleness.
func NewOracleBacked(token common.Address, decimals, quoteDecimals uint8, feed oracle.RateOracle, staleness time.Duration) *OracleBacked {
	if staleness <= 0 {
		staleness = oracle.DefaultStaleness
	}
	return &OracleBacked{
		token:             token,
		decimalsMult:      DecimalsMultiplier(decimals),
		quoteDecimalsMult: DecimalsMultiplier(quoteDecimals),
		feed:              feed,
		staleness:         staleness,
		now:               time.Now,
	}
}

func (a *OracleBacked) Token() common.Address { return a.token }
func (a *OracleBacked) DecimalsMultiplier() *big.Int { return new(big.Int).Set(a.decimalsMult) }

// Rate fetches and validates the latest feed round.
func (a *OracleBacked) Rate(ctx context.Context) (*big.Int, error) {
	round, err := a.feed.LatestRoundData(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}
	if err := oracle.Validate(round, a.now(), a.staleness); err != nil {
		return nil, err
	}
	return round.Answer, nil
}

func (a *OracleBacked) ViewRawAmount(ctx context.Context, amount fixedpoint.Number) (*big.Int, error) {
	rate, err := a.Rate(ctx)
	if err != nil {
		return nil, err
	}
	return rawFromNumeraire(amount, a.decimalsMult, rate)
}

func (a *OracleBacked) ViewNumeraireAmount(ctx context.Context, raw *big.Int) (fixedpoint.Number, error) {
	rate, err := a.Rate(ctx)
	if err != nil {
		return fixedpoint.Number{}, err
	}
	return numeraireFromRaw(raw, a.decimalsMult, rate)
}

func (a *OracleBacked) ViewNumeraireBalance(ctx context.Context, balance *big.Int) (fixedpoint.Number, error) {
	return a.ViewNumeraireAmount(ctx, balance)
}

func (a *OracleBacked) VirtualViewNumeraireBalanceIntake(ctx context.Context, balance, deposit *big.Int) (fixedpoint.Number, error) {
	adjusted := new(big.Int).Add(balance, deposit)
	return a.ViewNumeraireAmount(ctx, adjusted)
}

func (a *OracleBacked) VirtualViewNumeraireBalanceOutput(ctx context.Context, balance, withdrawal *big.Int) (fixedpoint.Number, error) {
	adjusted := new(big.Int).Sub(balance, withdrawal)
	if adjusted.Sign() < 0 {
		adjusted.SetInt64(0)
	}
	return a.ViewNumeraireAmount(ctx, adjusted)
}

func (a *OracleBacked) ViewRawAmountLPRatio(baseWeight, quoteWeight fixedpoint.Number, amount fixedpoint.Number, baseBalance, quoteBalance *big.Int) (*big.Int, error) {
	rate, err := lpRatioRate(baseWeight, quoteWeight, baseBalance, a.decimalsMult, quoteBalance, a.quoteDecimalsMult)
	if err != nil {
		return nil, err
	}
	return rawFromNumeraire(amount, a.decimalsMult, rate)
}

func (a *OracleBacked) ViewNumeraireBalanceLPRatio(baseWeight, quoteWeight fixedpoint.Number, baseBalance, quoteBalance *big.Int) (fixedpoint.Number, error) {
	rate, err := lpRatioRate(baseWeight, quoteWeight, baseBalance, a.decimalsMult, quoteBalance, a.quoteDecimalsMult)
	if err != nil {
		return fixedpoint.Number{}, err
	}
	return numeraireFromRaw(baseBalance, a.decimalsMult, rate)
}
