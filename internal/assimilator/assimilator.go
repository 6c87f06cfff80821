// Package assimilator converts between a token's raw balance and its
// numeraire (USD) value. Each pool side has one assimilator: the base token
// uses an external rate oracle, the quote token is USD-pegged and uses a
// fixed 1.0 rate. Assimilators never hold balances; callers pass the vault's
// balances in at call time.
package assimilator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/fixedpoint"
	"fxengine/internal/oracle"
)

var (
	ErrRateUnavailable   = errors.New("assimilator: rate unavailable")
	ErrAmountNotPositive = errors.New("assimilator: amount must be positive")
	ErrZeroBaseBalance   = errors.New("assimilator: zero base balance in ratio rate")
	ErrZeroWeight        = errors.New("assimilator: zero weight")
)

var oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Assimilator is the shared contract of both pool sides.
type Assimilator interface {
	// Token is the ERC20 this assimilator prices.
	Token() common.Address
	// DecimalsMultiplier is 10^decimals of the token.
	DecimalsMultiplier() *big.Int

	// Rate returns the current 1e8-scaled USD rate after staleness and
	// positivity validation.
	Rate(ctx context.Context) (*big.Int, error)

	// ViewRawAmount converts a numeraire amount to the token's raw scale
	// using the oracle rate.
	ViewRawAmount(ctx context.Context, amount fixedpoint.Number) (*big.Int, error)
	// ViewNumeraireAmount converts a raw amount to numeraire using the
	// oracle rate.
	ViewNumeraireAmount(ctx context.Context, raw *big.Int) (fixedpoint.Number, error)

	// ViewNumeraireBalance prices the supplied vault balance at the oracle
	// rate.
	ViewNumeraireBalance(ctx context.Context, balance *big.Int) (fixedpoint.Number, error)
	// VirtualViewNumeraireBalanceIntake prices the balance as if deposit raw
	// units had already arrived.
	VirtualViewNumeraireBalanceIntake(ctx context.Context, balance, deposit *big.Int) (fixedpoint.Number, error)
	// VirtualViewNumeraireBalanceOutput prices the balance as if withdrawal
	// raw units had already left, clamping at zero.
	VirtualViewNumeraireBalanceOutput(ctx context.Context, balance, withdrawal *big.Int) (fixedpoint.Number, error)

	// ViewRawAmountLPRatio converts numeraire to raw using the
	// oracle-independent rate derived from the weighted pool balances.
	ViewRawAmountLPRatio(baseWeight, quoteWeight fixedpoint.Number, amount fixedpoint.Number, baseBalance, quoteBalance *big.Int) (*big.Int, error)
	// ViewNumeraireBalanceLPRatio prices this token's vault balance at the
	// ratio-derived rate.
	ViewNumeraireBalanceLPRatio(baseWeight, quoteWeight fixedpoint.Number, baseBalance, quoteBalance *big.Int) (fixedpoint.Number, error)
}

// rawFromNumeraire implements raw = amount * decimalsMultiplier * 1e8 / rate
// with a single truncation, multiplying before dividing.
func rawFromNumeraire(amount fixedpoint.Number, decimalsMult, rate *big.Int) (*big.Int, error) {
	if amount.Sign() < 0 {
		return nil, ErrAmountNotPositive
	}
	if rate == nil || rate.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero rate", ErrRateUnavailable)
	}
	scaled := new(big.Int).Mul(decimalsMult, oracle.PriceScale)
	raw := amount.MulBig(scaled)
	return raw.Quo(raw, rate), nil
}

// numeraireFromRaw implements numeraire = (raw * rate / 1e8) / decimalsMultiplier.
func numeraireFromRaw(raw, decimalsMult, rate *big.Int) (fixedpoint.Number, error) {
	n := new(big.Int).Mul(raw, rate)
	return fixedpoint.FromRatio(n, new(big.Int).Mul(oracle.PriceScale, decimalsMult))
}

// lpRatioRate derives a 1e8-scaled base-token rate purely from the weighted
// pool balances: rate = quoteNormalized / baseNormalized, where each side is
// scaled to 18 decimals and divided by its weight. A zero base balance is an
// invariant violation, not a zero rate.
func lpRatioRate(baseWeight, quoteWeight fixedpoint.Number, baseBalance, baseDecimalsMult, quoteBalance, quoteDecimalsMult *big.Int) (*big.Int, error) {
	if baseBalance == nil || baseBalance.Sign() == 0 {
		return nil, ErrZeroBaseBalance
	}
	baseW := baseWeight.MulBig(oneE18)
	quoteW := quoteWeight.MulBig(oneE18)
	if baseW.Sign() == 0 || quoteW.Sign() == 0 {
		return nil, ErrZeroWeight
	}

	baseAdj := new(big.Int).Mul(baseBalance, oneE18)
	baseAdj.Quo(baseAdj, baseDecimalsMult)
	baseAdj.Mul(baseAdj, oneE18)
	baseAdj.Quo(baseAdj, baseW)

	quoteAdj := new(big.Int).Mul(quoteBalance, oneE18)
	quoteAdj.Quo(quoteAdj, quoteDecimalsMult)
	quoteAdj.Mul(quoteAdj, oneE18)
	quoteAdj.Quo(quoteAdj, quoteW)

	if baseAdj.Sign() == 0 {
		return nil, ErrZeroBaseBalance
	}
	rate := new(big.Int).Mul(quoteAdj, oracle.PriceScale)
	return rate.Quo(rate, baseAdj), nil
}

// DecimalsMultiplier returns 10^decimals.
func DecimalsMultiplier(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
