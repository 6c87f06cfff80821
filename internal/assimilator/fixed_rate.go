package assimilator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/fixedpoint"
	"fxengine/internal/oracle"
)

// FixedRate prices the pool's quote token at a constant 1.0 USD. The quote
// token is the numeraire reference, so its LP-ratio views reduce to the
// plain decimal-normalized conversions.
type FixedRate struct {
	token        common.Address
	decimalsMult *big.Int
}

// NewFixedRate builds a quote-token assimilator.
func NewFixedRate(token common.Address, decimals uint8) *FixedRate {
	return &FixedRate{
		token:        token,
		decimalsMult: DecimalsMultiplier(decimals),
	}
}

func (a *FixedRate) Token() common.Address { return a.token }
func (a *FixedRate) DecimalsMultiplier() *big.Int { return new(big.Int).Set(a.decimalsMult) }

// Rate always reports 1.0 at the 1e8 scale.
func (a *FixedRate) Rate(context.Context) (*big.Int, error) {
	return new(big.Int).Set(oracle.PriceScale), nil
}

func (a *FixedRate) ViewRawAmount(_ context.Context, amount fixedpoint.Number) (*big.Int, error) {
	return rawFromNumeraire(amount, a.decimalsMult, oracle.PriceScale)
}

func (a *FixedRate) ViewNumeraireAmount(_ context.Context, raw *big.Int) (fixedpoint.Number, error) {
	return numeraireFromRaw(raw, a.decimalsMult, oracle.PriceScale)
}

func (a *FixedRate) ViewNumeraireBalance(ctx context.Context, balance *big.Int) (fixedpoint.Number, error) {
	return a.ViewNumeraireAmount(ctx, balance)
}

func (a *FixedRate) VirtualViewNumeraireBalanceIntake(ctx context.Context, balance, deposit *big.Int) (fixedpoint.Number, error) {
	adjusted := new(big.Int).Add(balance, deposit)
	return a.ViewNumeraireAmount(ctx, adjusted)
}

func (a *FixedRate) VirtualViewNumeraireBalanceOutput(ctx context.Context, balance, withdrawal *big.Int) (fixedpoint.Number, error) {
	adjusted := new(big.Int).Sub(balance, withdrawal)
	if adjusted.Sign() < 0 {
		adjusted.SetInt64(0)
	}
	return a.ViewNumeraireAmount(ctx, adjusted)
}

func (a *FixedRate) ViewRawAmountLPRatio(_, _ fixedpoint.Number, amount fixedpoint.Number, _, _ *big.Int) (*big.Int, error) {
	return rawFromNumeraire(amount, a.decimalsMult, oracle.PriceScale)
}

func (a *FixedRate) ViewNumeraireBalanceLPRatio(_, _ fixedpoint.Number, _, quoteBalance *big.Int) (fixedpoint.Number, error) {
	return numeraireFromRaw(quoteBalance, a.decimalsMult, oracle.PriceScale)
}
