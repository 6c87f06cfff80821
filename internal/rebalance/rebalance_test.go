package rebalance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/assimilator"
	"fxengine/internal/curve"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/ledger"
	"fxengine/internal/oracle"
)

var (
	baseToken  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	quoteToken = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testPoolID = common.HexToHash("0xdeadbeef")
)

// testEngine builds a pool with 6-decimal sides and an oracle rate of 1.00,
// so raw amounts map to numeraire one-to-one at the 1e6 scale.
func testEngine() *Engine {
	feed := oracle.NewFixedOne()
	base := assimilator.NewOracleBacked(baseToken, 6, 6, feed, 0)
	quote := assimilator.NewFixedRate(quoteToken, 6)
	curveEngine := curve.NewEngine(base, quote, curve.EqualWeights(), 0)
	return NewEngine(base, quote, curveEngine, DefaultBand())
}

func pool(baseRaw, quoteRaw int64) curve.PoolBalances {
	return curve.PoolBalances{
		BaseRaw:  big.NewInt(baseRaw),
		QuoteRaw: big.NewInt(quoteRaw),
	}
}

func TestBalancedPoolIsNoOp(t *testing.T) {
	e := testEngine()
	plan, err := e.CalculateSwapAmount(context.Background(), pool(500_000_000, 500_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Balanced() {
		t.Fatalf("ratio 0.50 should be the balanced no-op, got in=%s", plan.AmountInRaw)
	}
}

func TestDeadBandEdgesAreNoOps(t *testing.T) {
	e := testEngine()
	// Ratio 0.48 and 0.52 sit exactly on the band edges.
	for _, balances := range []curve.PoolBalances{
		pool(520_000_000, 480_000_000),
		pool(480_000_000, 520_000_000),
	} {
		plan, err := e.CalculateSwapAmount(context.Background(), balances)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !plan.Balanced() {
			t.Fatalf("band edge should be a no-op, got in=%s", plan.AmountInRaw)
		}
	}
}

func TestQuoteUnderweightBringsQuoteIn(t *testing.T) {
	e := testEngine()
	// Ratio 0.40: 600 base vs 400 quote numeraire.
	plan, err := e.CalculateSwapAmount(context.Background(), pool(600_000_000, 400_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.AssetIn != quoteToken || plan.InSide != SideQuote {
		t.Fatalf("asset in = %s, want quote token", plan.AssetIn)
	}
	// Deficit to exactly 0.50 is 100 numeraire = 100e6 raw.
	if plan.AmountInRaw.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("swap in = %s, want 100000000", plan.AmountInRaw)
	}
}

func TestQuoteOverweightBringsBaseIn(t *testing.T) {
	e := testEngine()
	// Ratio 0.60: 400 base vs 600 quote numeraire.
	plan, err := e.CalculateSwapAmount(context.Background(), pool(400_000_000, 600_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.AssetIn != baseToken || plan.InSide != SideBase {
		t.Fatalf("asset in = %s, want base token", plan.AssetIn)
	}
	if plan.AmountInRaw.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("swap in = %s, want 100000000", plan.AmountInRaw)
	}
}

func TestEmptyPoolRejected(t *testing.T) {
	e := testEngine()
	_, err := e.CalculateSwapAmount(context.Background(), pool(0, 0))
	if !errors.Is(err, ErrPoolNotLiquid) {
		t.Fatalf("expected ErrPoolNotLiquid, got %v", err)
	}
}

func TestQuoteSwapOutput(t *testing.T) {
	e := testEngine()
	mem := ledger.NewMemory()
	mem.AddPool(testPoolID, ledger.MemoryPool{
		Tokens:   [2]common.Address{baseToken, quoteToken},
		Balances: [2]*big.Int{big.NewInt(600_000_000), big.NewInt(400_000_000)},
		Decimals: [2]uint8{6, 6},
		Rates:    [2]*big.Int{big.NewInt(100_000_000), big.NewInt(100_000_000)},
	})

	plan, err := e.CalculateSwapAmount(context.Background(), pool(600_000_000, 400_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := e.QuoteSwapOutput(context.Background(), mem, testPoolID, plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Both sides at 1.00 and 6 decimals: output equals input.
	if out.Cmp(plan.AmountInRaw) != 0 {
		t.Fatalf("swap out = %s, want %s", out, plan.AmountInRaw)
	}
}

func TestPlanRebalancedDepositUsesPostSwapState(t *testing.T) {
	e := testEngine()
	balances := pool(600_000_000, 400_000_000)
	plan, err := e.CalculateSwapAmount(context.Background(), balances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	supply := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	dp, err := e.PlanRebalancedDeposit(balances, fixedpoint.FromInt(200), plan, plan.AmountInRaw, supply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Post-swap the pool is 500/500: both legs priced on that state.
	if dp.PostSwap.BaseRaw.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Fatalf("post-swap base = %s, want 500000000", dp.PostSwap.BaseRaw)
	}
	if dp.PostSwap.QuoteRaw.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Fatalf("post-swap quote = %s, want 500000000", dp.PostSwap.QuoteRaw)
	}
	if dp.ExpectedShares.Sign() <= 0 {
		t.Fatalf("expected positive shares, got %s", dp.ExpectedShares)
	}
	if dp.BaseRaw.Sign() <= 0 || dp.QuoteRaw.Sign() <= 0 {
		t.Fatalf("deposit legs must be positive: %s / %s", dp.BaseRaw, dp.QuoteRaw)
	}
}

func TestPlanRejectsNegativeSimulatedBalance(t *testing.T) {
	e := testEngine()
	balances := pool(50_000_000, 400_000_000)
	plan := SwapPlan{
		AssetIn:     quoteToken,
		AssetOut:    baseToken,
		InSide:      SideQuote,
		AmountInRaw: big.NewInt(100_000_000),
	}
	// Swap output exceeds the base side's balance.
	_, err := e.PlanRebalancedDeposit(balances, fixedpoint.FromInt(10), plan, big.NewInt(60_000_000), big.NewInt(1))
	if !errors.Is(err, ErrBaseBalanceViolation) {
		t.Fatalf("expected ErrBaseBalanceViolation, got %v", err)
	}
}

func TestPlanRejectsNonPositiveDeposit(t *testing.T) {
	e := testEngine()
	_, err := e.PlanRebalancedDeposit(pool(1, 1), fixedpoint.Zero(), SwapPlan{AmountInRaw: new(big.Int)}, nil, big.NewInt(1))
	if !errors.Is(err, ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
}
