// Package rebalance decides whether a pool needs a corrective swap before
// liquidity is added, sizes that swap, and prices the two-step
// swap-then-deposit against a single simulated post-swap state. Plans are
// ephemeral: recomputed on every call, never persisted.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/assimilator"
	"fxengine/internal/curve"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/ledger"
)

var (
	ErrPoolNotLiquid         = errors.New("rebalance: pool has zero gross liquidity")
	ErrBaseBalanceViolation  = errors.New("rebalance: simulated base balance negative")
	ErrQuoteBalanceViolation = errors.New("rebalance: simulated quote balance negative")
	ErrAmountNotPositive     = errors.New("rebalance: amount must be positive")
)

// Side indexes the two pool sides in plans.
type Side int

const (
	SideBase Side = iota
	SideQuote
)

// Band is the quote-ratio dead band inside which the pool counts as
// balanced and no swap is performed.
type Band struct {
	Lower fixedpoint.Number
	Upper fixedpoint.Number
}

// DefaultBand returns the standard [0.48, 0.52] dead band.
func DefaultBand() Band {
	lower, _ := fixedpoint.FromRatio(big.NewInt(48), big.NewInt(100))
	upper, _ := fixedpoint.FromRatio(big.NewInt(52), big.NewInt(100))
	return Band{Lower: lower, Upper: upper}
}

// SwapPlan is the corrective swap needed before a deposit. A zero AmountInRaw
// means the pool is already inside the band and no swap runs.
type SwapPlan struct {
	AssetIn     common.Address
	AssetOut    common.Address
	InSide      Side
	AmountInRaw *big.Int
}

// Balanced reports whether the plan is the no-op terminal state.
func (p SwapPlan) Balanced() bool {
	return p.AmountInRaw == nil || p.AmountInRaw.Sign() == 0
}

// DepositPlan is the priced result of the two-step operation. Ephemeral;
// callers must revalidate ExpectedShares against the actual mint.
type DepositPlan struct {
	ExpectedShares *big.Int
	BaseRaw        *big.Int
	QuoteRaw       *big.Int
	PostSwap       curve.PoolBalances
}

// SwapSimulator is the vault's read-only swap-query surface.
type SwapSimulator interface {
	SimulateSwap(ctx context.Context, id ledger.PoolID, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// Engine sizes and prices rebalancing swaps for one pool.
type Engine struct {
	base  assimilator.Assimilator
	quote assimilator.Assimilator
	curve *curve.Engine
	band  Band
}

// NewEngine wires the side assimilators, the pool's curve engine, and the
// dead band.
func NewEngine(base, quote assimilator.Assimilator, curveEngine *curve.Engine, band Band) *Engine {
	return &Engine{base: base, quote: quote, curve: curveEngine, band: band}
}

// CalculateSwapAmount sizes the swap that moves the quote-side ratio back to
// exactly 0.50. The ratio runs on oracle-rate values: a drifted oracle is
// precisely what signals an imbalance worth correcting. Inside the dead band
// the returned plan is the balanced no-op.
func (e *Engine) CalculateSwapAmount(ctx context.Context, balances curve.PoolBalances) (SwapPlan, error) {
	liq, err := e.curve.OracleLiquidity(ctx, balances)
	if err != nil {
		return SwapPlan{}, err
	}
	if liq.Total.Sign() <= 0 {
		return SwapPlan{}, ErrPoolNotLiquid
	}

	ratio, err := fixedpoint.MulDiv(liq.Quote, fixedpoint.One(), liq.Total)
	if err != nil {
		return SwapPlan{}, err
	}
	if ratio.Cmp(e.band.Lower) >= 0 && ratio.Cmp(e.band.Upper) <= 0 {
		return SwapPlan{
			AssetIn:     e.quote.Token(),
			AssetOut:    e.base.Token(),
			InSide:      SideQuote,
			AmountInRaw: new(big.Int),
		}, nil
	}

	half, err := fixedpoint.FromRatio(big.NewInt(1), big.NewInt(2))
	if err != nil {
		return SwapPlan{}, err
	}
	target, err := fixedpoint.MulDiv(liq.Total, half, fixedpoint.One())
	if err != nil {
		return SwapPlan{}, err
	}

	if ratio.Cmp(half) < 0 {
		// Quote side underweight: bring quote in.
		deficit, err := target.Sub(liq.Quote)
		if err != nil {
			return SwapPlan{}, err
		}
		raw, err := e.quote.ViewRawAmount(ctx, deficit)
		if err != nil {
			return SwapPlan{}, err
		}
		return SwapPlan{
			AssetIn:     e.quote.Token(),
			AssetOut:    e.base.Token(),
			InSide:      SideQuote,
			AmountInRaw: raw,
		}, nil
	}

	// Quote side overweight: bring base in.
	deficit, err := target.Sub(liq.Base)
	if err != nil {
		return SwapPlan{}, err
	}
	raw, err := e.base.ViewRawAmount(ctx, deficit)
	if err != nil {
		return SwapPlan{}, err
	}
	return SwapPlan{
		AssetIn:     e.base.Token(),
		AssetOut:    e.quote.Token(),
		InSide:      SideBase,
		AmountInRaw: raw,
	}, nil
}

// QuoteSwapOutput asks the vault's read-only swap query what the planned
// swap would pay out. Required before pricing the deposit: post-swap
// balances determine the deposit split.
func (e *Engine) QuoteSwapOutput(ctx context.Context, sim SwapSimulator, id ledger.PoolID, plan SwapPlan) (*big.Int, error) {
	if plan.Balanced() {
		return new(big.Int), nil
	}
	out, err := sim.SimulateSwap(ctx, id, plan.AssetIn, plan.AssetOut, plan.AmountInRaw)
	if err != nil {
		return nil, fmt.Errorf("simulate swap: %w", err)
	}
	return out, nil
}

// PlanRebalancedDeposit prices the deposit against the balances as they
// would stand after the planned swap settles. Both legs of the compound
// operation are priced against this one simulated state.
func (e *Engine) PlanRebalancedDeposit(balances curve.PoolBalances, deposit fixedpoint.Number, plan SwapPlan, swapOut *big.Int, totalSupply *big.Int) (DepositPlan, error) {
	if deposit.Sign() <= 0 {
		return DepositPlan{}, ErrAmountNotPositive
	}

	adjusted, err := applySwap(balances, plan, swapOut)
	if err != nil {
		return DepositPlan{}, err
	}

	liq, err := e.curve.GrossLiquidity(adjusted)
	if err != nil {
		return DepositPlan{}, err
	}
	if liq.Total.Sign() <= 0 {
		return DepositPlan{}, ErrPoolNotLiquid
	}

	shares, err := e.curve.SharesToMint(deposit, liq.Total, totalSupply)
	if err != nil {
		return DepositPlan{}, err
	}
	baseRaw, quoteRaw, err := e.curve.DepositAmountsForShares(deposit, liq, adjusted)
	if err != nil {
		return DepositPlan{}, err
	}
	return DepositPlan{
		ExpectedShares: shares,
		BaseRaw:        baseRaw,
		QuoteRaw:       quoteRaw,
		PostSwap:       adjusted,
	}, nil
}

func applySwap(balances curve.PoolBalances, plan SwapPlan, swapOut *big.Int) (curve.PoolBalances, error) {
	adjusted := curve.PoolBalances{
		BaseRaw:  new(big.Int).Set(balances.BaseRaw),
		QuoteRaw: new(big.Int).Set(balances.QuoteRaw),
	}
	if plan.Balanced() {
		return adjusted, nil
	}
	if swapOut == nil {
		swapOut = new(big.Int)
	}

	if plan.InSide == SideQuote {
		adjusted.QuoteRaw.Add(adjusted.QuoteRaw, plan.AmountInRaw)
		adjusted.BaseRaw.Sub(adjusted.BaseRaw, swapOut)
	} else {
		adjusted.BaseRaw.Add(adjusted.BaseRaw, plan.AmountInRaw)
		adjusted.QuoteRaw.Sub(adjusted.QuoteRaw, swapOut)
	}
	if adjusted.BaseRaw.Sign() < 0 {
		return curve.PoolBalances{}, ErrBaseBalanceViolation
	}
	if adjusted.QuoteRaw.Sign() < 0 {
		return curve.PoolBalances{}, ErrQuoteBalanceViolation
	}
	return adjusted, nil
}
