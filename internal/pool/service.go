// Package pool is the operation surface over the pricing engines: quoting
// and executing rebalanced deposits and migrations between pools. Quotes are
// pure reads; executions run inside the ledger's atomic transaction scope
// and revalidate every caller-supplied bound before finalizing.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"fxengine/internal/assimilator"
	"fxengine/internal/curve"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/ledger"
	"fxengine/internal/rebalance"
)

var (
	ErrPoolNotRegistered = errors.New("pool: not registered")
	ErrReentrantCall     = errors.New("pool: reentrant call")
	ErrExpectedShares    = errors.New("pool: minted shares below minimum")
	ErrTokenMismatch     = errors.New("pool: pools do not share base/quote tokens")
	ErrSlippageExceeded  = errors.New("pool: required input above caller ceiling")
	ErrAmountNotPositive = errors.New("pool: amount must be positive")
	ErrZeroAddress       = errors.New("pool: zero address")
)

var bpsDenominator = big.NewInt(10_000)

// migrationBufferBps degrades the migration deposit to 99% of the exit
// valuation, absorbing cross-pool price drift between quote and execution.
const migrationBufferBps = 100

// Pool bundles one pool's engines. Base and Quote match the assimilators
// wired into Curve and Rebalancer.
type Pool struct {
	ID         ledger.PoolID
	Base       assimilator.Assimilator
	Quote      assimilator.Assimilator
	Curve      *curve.Engine
	Rebalancer *rebalance.Engine
}

// DepositQuote is a slippage envelope for a rebalanced deposit.
type DepositQuote struct {
	MinShares     *big.Int
	MaxBase       *big.Int
	MaxQuote      *big.Int
	SwapAsset     common.Address
	SwapAmountRaw *big.Int
}

// DepositResult reports an executed rebalanced deposit.
type DepositResult struct {
	MintedShares *big.Int
	BaseIn       *big.Int
	QuoteIn      *big.Int
}

// MigrationQuote prices moving a position between two pools. Deltas are the
// expected leftover amounts (exit minus re-deposit) per side; a negative
// delta means the new pool needs more of that side than the exit yields.
type MigrationQuote struct {
	MinShares  *big.Int
	BaseDelta  *big.Int
	QuoteDelta *big.Int
}

// MigrationResult reports an executed migration: new-pool shares plus the
// token dust returned to the caller.
type MigrationResult struct {
	MintedShares *big.Int
	BaseDust     *big.Int
	QuoteDust    *big.Int
}

// Service exposes the operation surface over a ledger and a set of
// registered pools.
type Service struct {
	led ledger.BalanceLedger
	log *zap.Logger

	mu       sync.Mutex
	pools    map[ledger.PoolID]*Pool
	inflight map[ledger.PoolID]bool
}

// NewService wires the ledger. A nil logger falls back to zap.NewNop.
func NewService(led ledger.BalanceLedger, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		led:      led,
		log:      log,
		pools:    make(map[ledger.PoolID]*Pool),
		inflight: make(map[ledger.PoolID]bool),
	}
}

// RegisterPool adds a pool to the service. Rejected before any state read if
// the wiring is incomplete.
func (s *Service) RegisterPool(p *Pool) error {
	if p == nil || p.Curve == nil || p.Rebalancer == nil {
		return fmt.Errorf("%w: incomplete pool wiring", ErrPoolNotRegistered)
	}
	if p.Base == nil || p.Quote == nil || p.Base.Token() == (common.Address{}) || p.Quote.Token() == (common.Address{}) {
		return ErrZeroAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.ID] = p
	return nil
}

func (s *Service) pool(id ledger.PoolID) (*Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotRegistered, id)
	}
	return p, nil
}

// acquire marks the pool's compound operation in flight, rejecting nested
// re-entry: a nested call could observe intermediate balances and invalidate
// the plan it is executing against.
func (s *Service) acquire(ids ...ledger.PoolID) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.inflight[id] {
			return nil, fmt.Errorf("%w: pool %s", ErrReentrantCall, id)
		}
	}
	for _, id := range ids {
		s.inflight[id] = true
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range ids {
			delete(s.inflight, id)
		}
	}, nil
}

// BalancesOf maps the vault's canonical token ordering onto base/quote.
func BalancesOf(p *Pool, state ledger.PoolState) (curve.PoolBalances, error) {
	baseIdx, err := state.IndexOf(p.Base.Token())
	if err != nil {
		return curve.PoolBalances{}, err
	}
	quoteIdx, err := state.IndexOf(p.Quote.Token())
	if err != nil {
		return curve.PoolBalances{}, err
	}
	return curve.PoolBalances{
		BaseRaw:  state.Balances[baseIdx],
		QuoteRaw: state.Balances[quoteIdx],
	}, nil
}

// canonicalAmounts places base/quote amounts back into the vault's ordering.
func canonicalAmounts(p *Pool, state ledger.PoolState, baseRaw, quoteRaw *big.Int) ([2]*big.Int, error) {
	baseIdx, err := state.IndexOf(p.Base.Token())
	if err != nil {
		return [2]*big.Int{}, err
	}
	var out [2]*big.Int
	out[baseIdx] = baseRaw
	out[1-baseIdx] = quoteRaw
	return out, nil
}

// QuoteRebalancedDeposit prices the swap-then-deposit operation and widens
// the result into a slippage envelope: ceilings grow and the share floor
// shrinks by slippageBps/10000.
func (s *Service) QuoteRebalancedDeposit(ctx context.Context, id ledger.PoolID, deposit fixedpoint.Number, slippageBps uint32) (DepositQuote, error) {
	if deposit.Sign() <= 0 {
		return DepositQuote{}, ErrAmountNotPositive
	}
	p, err := s.pool(id)
	if err != nil {
		return DepositQuote{}, err
	}

	state, err := s.led.PoolBalances(ctx, id)
	if err != nil {
		return DepositQuote{}, fmt.Errorf("read balances: %w", err)
	}
	balances, err := BalancesOf(p, state)
	if err != nil {
		return DepositQuote{}, err
	}
	supply, err := s.led.ShareSupply(ctx, id)
	if err != nil {
		return DepositQuote{}, fmt.Errorf("read share supply: %w", err)
	}

	plan, err := p.Rebalancer.CalculateSwapAmount(ctx, balances)
	if err != nil {
		return DepositQuote{}, err
	}
	swapOut, err := p.Rebalancer.QuoteSwapOutput(ctx, s.led, id, plan)
	if err != nil {
		return DepositQuote{}, err
	}
	dp, err := p.Rebalancer.PlanRebalancedDeposit(balances, deposit, plan, swapOut, supply)
	if err != nil {
		return DepositQuote{}, err
	}

	quote := DepositQuote{
		MinShares:     floorBps(dp.ExpectedShares, slippageBps),
		MaxBase:       ceilBps(dp.BaseRaw, slippageBps),
		MaxQuote:      ceilBps(dp.QuoteRaw, slippageBps),
		SwapAsset:     plan.AssetIn,
		SwapAmountRaw: plan.AmountInRaw,
	}
	s.log.Debug("quoted rebalanced deposit",
		zap.String("pool", id.Hex()),
		zap.String("deposit", deposit.String()),
		zap.String("min_shares", quote.MinShares.String()),
		zap.String("swap_in", quote.SwapAmountRaw.String()),
	)
	return quote, nil
}

// ExecuteRebalancedDeposit runs the swap leg and the liquidity leg as one
// atomic operation. Both legs are priced against the post-swap state; the
// caller's ceilings and share floor are revalidated inside the transaction,
// so a violated bound reverts everything.
func (s *Service) ExecuteRebalancedDeposit(ctx context.Context, id ledger.PoolID, owner common.Address, deposit fixedpoint.Number, maxBase, maxQuote, minShares *big.Int) (DepositResult, error) {
	if deposit.Sign() <= 0 {
		return DepositResult{}, ErrAmountNotPositive
	}
	if owner == (common.Address{}) {
		return DepositResult{}, ErrZeroAddress
	}
	p, err := s.pool(id)
	if err != nil {
		return DepositResult{}, err
	}
	release, err := s.acquire(id)
	if err != nil {
		return DepositResult{}, err
	}
	defer release()

	var result DepositResult
	err = s.led.Transact(ctx, func(tx ledger.Tx) error {
		state, err := tx.PoolBalances(ctx, id)
		if err != nil {
			return fmt.Errorf("read balances: %w", err)
		}
		balances, err := BalancesOf(p, state)
		if err != nil {
			return err
		}
		supply, err := s.led.ShareSupply(ctx, id)
		if err != nil {
			return fmt.Errorf("read share supply: %w", err)
		}

		plan, err := p.Rebalancer.CalculateSwapAmount(ctx, balances)
		if err != nil {
			return err
		}
		if !plan.Balanced() {
			if _, err := tx.ExecuteSwap(ctx, id, owner, plan.AssetIn, plan.AssetOut, plan.AmountInRaw); err != nil {
				return fmt.Errorf("swap leg: %w", err)
			}
		}

		// Reread through the transaction so the deposit leg prices on the
		// settled post-swap state.
		postState, err := tx.PoolBalances(ctx, id)
		if err != nil {
			return fmt.Errorf("read post-swap balances: %w", err)
		}
		postBalances, err := BalancesOf(p, postState)
		if err != nil {
			return err
		}
		dp, err := p.Rebalancer.PlanRebalancedDeposit(postBalances, deposit, rebalance.SwapPlan{}, nil, supply)
		if err != nil {
			return err
		}

		if maxBase != nil && dp.BaseRaw.Cmp(maxBase) > 0 {
			return fmt.Errorf("%w: base %s > %s", ErrSlippageExceeded, dp.BaseRaw, maxBase)
		}
		if maxQuote != nil && dp.QuoteRaw.Cmp(maxQuote) > 0 {
			return fmt.Errorf("%w: quote %s > %s", ErrSlippageExceeded, dp.QuoteRaw, maxQuote)
		}

		amounts, err := canonicalAmounts(p, postState, dp.BaseRaw, dp.QuoteRaw)
		if err != nil {
			return err
		}
		minted, err := tx.Join(ctx, id, owner, amounts)
		if err != nil {
			return fmt.Errorf("liquidity leg: %w", err)
		}
		if minShares != nil && minted.Cmp(minShares) < 0 {
			return fmt.Errorf("%w: minted %s < %s", ErrExpectedShares, minted, minShares)
		}

		result = DepositResult{MintedShares: minted, BaseIn: dp.BaseRaw, QuoteIn: dp.QuoteRaw}
		return nil
	})
	if err != nil {
		return DepositResult{}, err
	}

	s.log.Info("executed rebalanced deposit",
		zap.String("pool", id.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("minted", result.MintedShares.String()),
	)
	return result, nil
}

// QuoteMigration prices moving lpBalance from oldID to newID. Both pools
// must hold the same base and quote tokens; that check runs before any
// balance read.
func (s *Service) QuoteMigration(ctx context.Context, oldID, newID ledger.PoolID, lpBalance *big.Int) (MigrationQuote, error) {
	if lpBalance == nil || lpBalance.Sign() <= 0 {
		return MigrationQuote{}, ErrAmountNotPositive
	}
	oldPool, err := s.pool(oldID)
	if err != nil {
		return MigrationQuote{}, err
	}
	newPool, err := s.pool(newID)
	if err != nil {
		return MigrationQuote{}, err
	}
	if oldPool.Base.Token() != newPool.Base.Token() || oldPool.Quote.Token() != newPool.Quote.Token() {
		return MigrationQuote{}, ErrTokenMismatch
	}

	exitBase, exitQuote, deposit, err := s.exitValuation(ctx, oldPool, oldID, lpBalance)
	if err != nil {
		return MigrationQuote{}, err
	}

	newState, err := s.led.PoolBalances(ctx, newID)
	if err != nil {
		return MigrationQuote{}, fmt.Errorf("read new pool balances: %w", err)
	}
	newBalances, err := BalancesOf(newPool, newState)
	if err != nil {
		return MigrationQuote{}, err
	}
	newSupply, err := s.led.ShareSupply(ctx, newID)
	if err != nil {
		return MigrationQuote{}, fmt.Errorf("read new pool supply: %w", err)
	}

	dp, err := newPool.Rebalancer.PlanRebalancedDeposit(newBalances, deposit, rebalance.SwapPlan{}, nil, newSupply)
	if err != nil {
		return MigrationQuote{}, err
	}

	return MigrationQuote{
		MinShares:  dp.ExpectedShares,
		BaseDelta:  new(big.Int).Sub(exitBase, dp.BaseRaw),
		QuoteDelta: new(big.Int).Sub(exitQuote, dp.QuoteRaw),
	}, nil
}

// exitValuation computes the raw amounts an exit of lpBalance would pay out
// and their oracle valuation degraded by the migration buffer.
func (s *Service) exitValuation(ctx context.Context, p *Pool, id ledger.PoolID, lpBalance *big.Int) (exitBase, exitQuote *big.Int, deposit fixedpoint.Number, err error) {
	state, err := s.led.PoolBalances(ctx, id)
	if err != nil {
		return nil, nil, fixedpoint.Number{}, fmt.Errorf("read old pool balances: %w", err)
	}
	balances, err := BalancesOf(p, state)
	if err != nil {
		return nil, nil, fixedpoint.Number{}, err
	}
	supply, err := s.led.ShareSupply(ctx, id)
	if err != nil {
		return nil, nil, fixedpoint.Number{}, fmt.Errorf("read old pool supply: %w", err)
	}

	exitBase, exitQuote, err = p.Curve.WithdrawAmountsForShares(lpBalance, supply, balances)
	if err != nil {
		return nil, nil, fixedpoint.Number{}, err
	}
	deposit, err = s.valueAndBuffer(ctx, p, exitBase, exitQuote)
	if err != nil {
		return nil, nil, fixedpoint.Number{}, err
	}
	return exitBase, exitQuote, deposit, nil
}

// valueAndBuffer prices the exit amounts at the oracle rates and keeps 99%.
func (s *Service) valueAndBuffer(ctx context.Context, p *Pool, exitBase, exitQuote *big.Int) (fixedpoint.Number, error) {
	baseVal, err := p.Base.ViewNumeraireAmount(ctx, exitBase)
	if err != nil {
		return fixedpoint.Number{}, err
	}
	quoteVal, err := p.Quote.ViewNumeraireAmount(ctx, exitQuote)
	if err != nil {
		return fixedpoint.Number{}, err
	}
	total, err := baseVal.Add(quoteVal)
	if err != nil {
		return fixedpoint.Number{}, err
	}
	buffered := new(big.Int).Mul(total.Raw(), big.NewInt(int64(10_000-migrationBufferBps)))
	buffered.Quo(buffered, bpsDenominator)
	return fixedpoint.FromRaw(buffered)
}

// ExecuteMigration withdraws the caller's whole old-pool position, deposits
// the buffered valuation into the new pool, and leaves the remaining dust
// with the caller. All legs settle atomically or not at all.
func (s *Service) ExecuteMigration(ctx context.Context, oldID, newID ledger.PoolID, owner common.Address, minShares, minBase, minQuote *big.Int) (MigrationResult, error) {
	if owner == (common.Address{}) {
		return MigrationResult{}, ErrZeroAddress
	}
	oldPool, err := s.pool(oldID)
	if err != nil {
		return MigrationResult{}, err
	}
	newPool, err := s.pool(newID)
	if err != nil {
		return MigrationResult{}, err
	}
	if oldPool.Base.Token() != newPool.Base.Token() || oldPool.Quote.Token() != newPool.Quote.Token() {
		return MigrationResult{}, ErrTokenMismatch
	}

	release, err := s.acquire(oldID, newID)
	if err != nil {
		return MigrationResult{}, err
	}
	defer release()

	lpBalance, err := s.led.ShareBalance(ctx, oldID, owner)
	if err != nil {
		return MigrationResult{}, fmt.Errorf("read share balance: %w", err)
	}
	if lpBalance.Sign() == 0 {
		return MigrationResult{}, ErrAmountNotPositive
	}

	var result MigrationResult
	err = s.led.Transact(ctx, func(tx ledger.Tx) error {
		oldState, err := tx.PoolBalances(ctx, oldID)
		if err != nil {
			return fmt.Errorf("read old pool balances: %w", err)
		}
		exitIdxBase, err := oldState.IndexOf(oldPool.Base.Token())
		if err != nil {
			return err
		}

		exited, err := tx.Exit(ctx, oldID, owner, lpBalance)
		if err != nil {
			return fmt.Errorf("exit leg: %w", err)
		}
		exitBase := exited[exitIdxBase]
		exitQuote := exited[1-exitIdxBase]

		deposit, err := s.valueAndBuffer(ctx, oldPool, exitBase, exitQuote)
		if err != nil {
			return err
		}

		newState, err := tx.PoolBalances(ctx, newID)
		if err != nil {
			return fmt.Errorf("read new pool balances: %w", err)
		}
		newBalances, err := BalancesOf(newPool, newState)
		if err != nil {
			return err
		}
		newSupply, err := s.led.ShareSupply(ctx, newID)
		if err != nil {
			return fmt.Errorf("read new pool supply: %w", err)
		}

		dp, err := newPool.Rebalancer.PlanRebalancedDeposit(newBalances, deposit, rebalance.SwapPlan{}, nil, newSupply)
		if err != nil {
			return err
		}

		baseDust := new(big.Int).Sub(exitBase, dp.BaseRaw)
		quoteDust := new(big.Int).Sub(exitQuote, dp.QuoteRaw)
		if baseDust.Sign() < 0 || quoteDust.Sign() < 0 {
			return fmt.Errorf("%w: deposit exceeds exit on one side", ErrSlippageExceeded)
		}
		if minBase != nil && baseDust.Cmp(minBase) < 0 {
			return fmt.Errorf("%w: base dust %s < %s", ErrSlippageExceeded, baseDust, minBase)
		}
		if minQuote != nil && quoteDust.Cmp(minQuote) < 0 {
			return fmt.Errorf("%w: quote dust %s < %s", ErrSlippageExceeded, quoteDust, minQuote)
		}

		amounts, err := canonicalAmounts(newPool, newState, dp.BaseRaw, dp.QuoteRaw)
		if err != nil {
			return err
		}
		minted, err := tx.Join(ctx, newID, owner, amounts)
		if err != nil {
			return fmt.Errorf("join leg: %w", err)
		}
		if minShares != nil && minted.Cmp(minShares) < 0 {
			return fmt.Errorf("%w: minted %s < %s", ErrExpectedShares, minted, minShares)
		}

		result = MigrationResult{MintedShares: minted, BaseDust: baseDust, QuoteDust: quoteDust}
		return nil
	})
	if err != nil {
		return MigrationResult{}, err
	}

	s.log.Info("executed migration",
		zap.String("old_pool", oldID.Hex()),
		zap.String("new_pool", newID.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("minted", result.MintedShares.String()),
	)
	return result, nil
}

func floorBps(v *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).Sub(bpsDenominator, big.NewInt(int64(bps))))
	return out.Quo(out, bpsDenominator)
}

func ceilBps(v *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).Add(bpsDenominator, big.NewInt(int64(bps))))
	return out.Quo(out, bpsDenominator)
}
