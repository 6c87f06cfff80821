// Package curve computes pool liquidity and LP-share math. All pricing here
// is pure: the engine reads nothing itself, callers pass in the vault
// balances they fetched for this call.
//
// Deposit pricing runs on the LP-ratio rate (derived from the pool balances)
// rather than the oracle rate, so a stale or manipulated feed cannot skew
// what a depositor pays. The oracle-rate view exists separately for the
// rebalance ratio check.
package curve

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"fxengine/internal/assimilator"
	"fxengine/internal/fixedpoint"
)

var (
	ErrNoLiquidity       = errors.New("curve: pool has no gross liquidity")
	ErrAmountNotPositive = errors.New("curve: amount must be positive")
	ErrNoSupply          = errors.New("curve: zero share supply")
)

var bpsDenominator = big.NewInt(10_000)

// PoolBalances are the two raw vault balances read at call time. Never
// cached across calls.
type PoolBalances struct {
	BaseRaw  *big.Int
	QuoteRaw *big.Int
}

// WeightedPair is the pool's target weighting, normally 0.5/0.5. Both values
// are fixed point in [0,1] and should sum to one.
type WeightedPair struct {
	Base  fixedpoint.Number
	Quote fixedpoint.Number
}

// EqualWeights returns the standard 0.5/0.5 pair.
func EqualWeights() WeightedPair {
	half, _ := fixedpoint.FromRatio(big.NewInt(1), big.NewInt(2))
	return WeightedPair{Base: half, Quote: half}
}

// Liquidity is a gross-liquidity breakdown. Total is Base+Quote unless a
// side failed to exceed zero, in which case Total is zero.
type Liquidity struct {
	Total fixedpoint.Number
	Base  fixedpoint.Number
	Quote fixedpoint.Number
}

// Engine prices deposits and withdrawals for one pool.
type Engine struct {
	base    assimilator.Assimilator
	quote   assimilator.Assimilator
	weights WeightedPair
	feeBps  uint32
}

// NewEngine wires the two side assimilators and the target weights. feeBps
// is the protocol percent fee deducted from the deposit value before shares
// are minted; zero disables it.
func NewEngine(base, quote assimilator.Assimilator, weights WeightedPair, feeBps uint32) *Engine {
	return &Engine{base: base, quote: quote, weights: weights, feeBps: feeBps}
}

// Weights returns the pool's target weighting.
func (e *Engine) Weights() WeightedPair {
	return e.weights
}

// GrossLiquidity values both sides at the LP-ratio rate: the quote side is
// its decimal-normalized balance, the base side is priced at the
// weighted-balance ratio. Oracle-independent.
func (e *Engine) GrossLiquidity(balances PoolBalances) (Liquidity, error) {
	baseVal, err := e.base.ViewNumeraireBalanceLPRatio(e.weights.Base, e.weights.Quote, balances.BaseRaw, balances.QuoteRaw)
	if err != nil {
		return Liquidity{}, fmt.Errorf("base side: %w", err)
	}
	quoteVal, err := e.quote.ViewNumeraireBalanceLPRatio(e.weights.Base, e.weights.Quote, balances.BaseRaw, balances.QuoteRaw)
	if err != nil {
		return Liquidity{}, fmt.Errorf("quote side: %w", err)
	}

	liq := Liquidity{Base: baseVal, Quote: quoteVal}
	if baseVal.Sign() <= 0 || quoteVal.Sign() <= 0 {
		liq.Total = fixedpoint.Zero()
		return liq, nil
	}
	total, err := baseVal.Add(quoteVal)
	if err != nil {
		return Liquidity{}, err
	}
	liq.Total = total
	return liq, nil
}

// OracleLiquidity values both sides at the oracle rate. The rebalance
// engine's ratio check runs on this view.
func (e *Engine) OracleLiquidity(ctx context.Context, balances PoolBalances) (Liquidity, error) {
	baseVal, err := e.base.ViewNumeraireBalance(ctx, balances.BaseRaw)
	if err != nil {
		return Liquidity{}, fmt.Errorf("base side: %w", err)
	}
	quoteVal, err := e.quote.ViewNumeraireBalance(ctx, balances.QuoteRaw)
	if err != nil {
		return Liquidity{}, fmt.Errorf("quote side: %w", err)
	}
	total, err := baseVal.Add(quoteVal)
	if err != nil {
		return Liquidity{}, err
	}
	return Liquidity{Total: total, Base: baseVal, Quote: quoteVal}, nil
}

// SharesToMint converts a deposit's numeraire value to LP shares at 18
// decimals. A zero supply bootstraps the share price at 1:1. Division rounds
// down so minting never favors the depositor.
func (e *Engine) SharesToMint(deposit fixedpoint.Number, gross fixedpoint.Number, totalSupply *big.Int) (*big.Int, error) {
	if deposit.Sign() <= 0 {
		return nil, ErrAmountNotPositive
	}
	net, err := e.netOfFee(deposit)
	if err != nil {
		return nil, err
	}
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return net.MulBig(shareScale), nil
	}
	if gross.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	shares := new(big.Int).Mul(net.Raw(), totalSupply)
	return shares.Quo(shares, gross.Raw()), nil
}

func (e *Engine) netOfFee(deposit fixedpoint.Number) (fixedpoint.Number, error) {
	if e.feeBps == 0 {
		return deposit, nil
	}
	keep := new(big.Int).Sub(bpsDenominator, big.NewInt(int64(e.feeBps)))
	numer := new(big.Int).Mul(deposit.Raw(), keep)
	numer.Quo(numer, bpsDenominator)
	return fixedpoint.FromRaw(numer)
}

var shareScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// DepositAmountsForShares splits a deposit across both sides proportionally
// to the current per-side liquidity and converts each share to raw token
// units. One epsilon is added to each side's numeraire value before the raw
// conversion, biasing rounding against the depositor so the vault never
// receives less than the computed minimum.
func (e *Engine) DepositAmountsForShares(deposit fixedpoint.Number, liq Liquidity, balances PoolBalances) (baseRaw, quoteRaw *big.Int, err error) {
	if deposit.Sign() <= 0 {
		return nil, nil, ErrAmountNotPositive
	}
	if liq.Total.Sign() <= 0 {
		return nil, nil, ErrNoLiquidity
	}

	baseShare, err := fixedpoint.MulDiv(liq.Base, deposit, liq.Total)
	if err != nil {
		return nil, nil, err
	}
	quoteShare, err := fixedpoint.MulDiv(liq.Quote, deposit, liq.Total)
	if err != nil {
		return nil, nil, err
	}
	baseShare, err = baseShare.Add(fixedpoint.Epsilon())
	if err != nil {
		return nil, nil, err
	}
	quoteShare, err = quoteShare.Add(fixedpoint.Epsilon())
	if err != nil {
		return nil, nil, err
	}

	baseRaw, err = e.base.ViewRawAmountLPRatio(e.weights.Base, e.weights.Quote, baseShare, balances.BaseRaw, balances.QuoteRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("base side: %w", err)
	}
	quoteRaw, err = e.quote.ViewRawAmountLPRatio(e.weights.Base, e.weights.Quote, quoteShare, balances.BaseRaw, balances.QuoteRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("quote side: %w", err)
	}
	return baseRaw, quoteRaw, nil
}

// WithdrawAmountsForShares is the structural inverse of the deposit split: a
// proportional claim of shares/totalSupply on each raw balance, rounded down.
func (e *Engine) WithdrawAmountsForShares(shares, totalSupply *big.Int, balances PoolBalances) (baseRaw, quoteRaw *big.Int, err error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, ErrAmountNotPositive
	}
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return nil, nil, ErrNoSupply
	}
	if shares.Cmp(totalSupply) > 0 {
		return nil, nil, fmt.Errorf("curve: shares %s exceed supply %s", shares, totalSupply)
	}

	baseRaw = new(big.Int).Mul(balances.BaseRaw, shares)
	baseRaw.Quo(baseRaw, totalSupply)
	quoteRaw = new(big.Int).Mul(balances.QuoteRaw, shares)
	quoteRaw.Quo(quoteRaw, totalSupply)
	return baseRaw, quoteRaw, nil
}
