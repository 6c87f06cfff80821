package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	priceScale = big.NewInt(100_000_000)
	shareScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// MemoryPool seeds one pool in the in-memory vault. Tokens must already be
// in canonical ascending order; Rates are 1e8-scaled USD prices per token,
// Decimals the tokens' native scales.
type MemoryPool struct {
	Tokens   [2]common.Address
	Balances [2]*big.Int
	Decimals [2]uint8
	Rates    [2]*big.Int
}

type memPool struct {
	tokens   [2]common.Address
	balances [2]*big.Int
	decMult  [2]*big.Int
	rates    [2]*big.Int
	supply   *big.Int
	shares   map[common.Address]*big.Int
}

func (p *memPool) clone() *memPool {
	c := &memPool{
		tokens:  p.tokens,
		decMult: p.decMult,
		rates:   p.rates,
		supply:  new(big.Int).Set(p.supply),
		shares:  make(map[common.Address]*big.Int, len(p.shares)),
	}
	for i := range p.balances {
		c.balances[i] = new(big.Int).Set(p.balances[i])
	}
	for owner, bal := range p.shares {
		c.shares[owner] = new(big.Int).Set(bal)
	}
	return c
}

// usdValue prices a raw amount of side i at the seeded rate, returned at the
// 1e8 scale.
func (p *memPool) usdValue(i int, raw *big.Int) *big.Int {
	v := new(big.Int).Mul(raw, p.rates[i])
	return v.Quo(v, p.decMult[i])
}

// Memory is an in-process vault used by tests and dry runs. Swaps settle at
// the seeded rates with no curve slippage; joins mint shares proportional to
// the deposit's USD value against the pool's USD value.
type Memory struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	pools map[PoolID]*memPool
}

// NewMemory builds an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{pools: make(map[PoolID]*memPool)}
}

// AddPool seeds a pool. Panics on a malformed seed; this is a test fixture.
func (m *Memory) AddPool(id PoolID, seed MemoryPool) {
	if seed.Tokens[0].Cmp(seed.Tokens[1]) >= 0 {
		panic("ledger: tokens must be in ascending order")
	}
	p := &memPool{
		tokens: seed.Tokens,
		supply: new(big.Int),
		shares: make(map[common.Address]*big.Int),
	}
	for i := 0; i < 2; i++ {
		p.balances[i] = new(big.Int).Set(seed.Balances[i])
		p.decMult[i] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(seed.Decimals[i])), nil)
		p.rates[i] = new(big.Int).Set(seed.Rates[i])
	}
	m.mu.Lock()
	m.pools[id] = p
	m.mu.Unlock()
}

// SetShareSupply seeds an existing LP position, minting supply to owner.
func (m *Memory) SetShareSupply(id PoolID, owner common.Address, supply *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[id]; ok {
		p.supply = new(big.Int).Set(supply)
		p.shares[owner] = new(big.Int).Set(supply)
	}
}

func (m *Memory) pool(id PoolID) (*memPool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return p, nil
}

func (m *Memory) PoolBalances(_ context.Context, id PoolID) (PoolState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(id)
	if err != nil {
		return PoolState{}, err
	}
	return poolState(p), nil
}

func poolState(p *memPool) PoolState {
	return PoolState{
		Tokens:   p.tokens,
		Balances: [2]*big.Int{new(big.Int).Set(p.balances[0]), new(big.Int).Set(p.balances[1])},
	}
}

func (m *Memory) SimulateSwap(_ context.Context, id PoolID, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(id)
	if err != nil {
		return nil, err
	}
	return swapOutput(p, tokenIn, tokenOut, amountIn)
}

func swapOutput(p *memPool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	in, err := poolState(p).IndexOf(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := poolState(p).IndexOf(tokenOut)
	if err != nil {
		return nil, err
	}
	if in == out {
		return nil, fmt.Errorf("%w: same token on both legs", ErrUnknownToken)
	}
	// out = in * rateIn/rateOut, rescaled across decimals.
	amountOut := new(big.Int).Mul(amountIn, p.rates[in])
	amountOut.Mul(amountOut, p.decMult[out])
	amountOut.Quo(amountOut, p.rates[out])
	amountOut.Quo(amountOut, p.decMult[in])
	return amountOut, nil
}

func (m *Memory) ShareSupply(_ context.Context, id PoolID) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.supply), nil
}

func (m *Memory) ShareBalance(_ context.Context, id PoolID, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pool(id)
	if err != nil {
		return nil, err
	}
	if bal, ok := p.shares[owner]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// Transact runs fn against a deep copy of the vault and commits the copy
// only when fn succeeds, giving all-or-nothing semantics. The commit
// replaces the pool set wholesale, so transactions serialize on txMu for
// their whole duration; concurrent reads stay lock-free of it.
func (m *Memory) Transact(ctx context.Context, fn func(Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	staged := make(map[PoolID]*memPool, len(m.pools))
	for id, p := range m.pools {
		staged[id] = p.clone()
	}
	m.mu.Unlock()

	tx := &memTx{pools: staged}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.pools = staged
	m.mu.Unlock()
	return nil
}

type memTx struct {
	pools map[PoolID]*memPool
}

func (t *memTx) pool(id PoolID) (*memPool, error) {
	p, ok := t.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, id)
	}
	return p, nil
}

func (t *memTx) PoolBalances(_ context.Context, id PoolID) (PoolState, error) {
	p, err := t.pool(id)
	if err != nil {
		return PoolState{}, err
	}
	return poolState(p), nil
}

func (t *memTx) ExecuteSwap(_ context.Context, id PoolID, _ common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	p, err := t.pool(id)
	if err != nil {
		return nil, err
	}
	amountOut, err := swapOutput(p, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	in, _ := poolState(p).IndexOf(tokenIn)
	out, _ := poolState(p).IndexOf(tokenOut)
	if p.balances[out].Cmp(amountOut) < 0 {
		return nil, fmt.Errorf("%w: %s token side", ErrInsufficientBalance, tokenOut)
	}
	p.balances[in].Add(p.balances[in], amountIn)
	p.balances[out].Sub(p.balances[out], amountOut)
	return amountOut, nil
}

func (t *memTx) Join(_ context.Context, id PoolID, owner common.Address, amounts [2]*big.Int) (*big.Int, error) {
	p, err := t.pool(id)
	if err != nil {
		return nil, err
	}

	depositValue := new(big.Int).Add(p.usdValue(0, amounts[0]), p.usdValue(1, amounts[1]))
	var minted *big.Int
	if p.supply.Sign() == 0 {
		minted = new(big.Int).Mul(depositValue, shareScale)
		minted.Quo(minted, priceScale)
	} else {
		poolValue := new(big.Int).Add(p.usdValue(0, p.balances[0]), p.usdValue(1, p.balances[1]))
		if poolValue.Sign() == 0 {
			return nil, fmt.Errorf("%w: pool has no value", ErrInsufficientBalance)
		}
		minted = new(big.Int).Mul(depositValue, p.supply)
		minted.Quo(minted, poolValue)
	}

	for i := 0; i < 2; i++ {
		p.balances[i].Add(p.balances[i], amounts[i])
	}
	p.supply.Add(p.supply, minted)
	bal, ok := p.shares[owner]
	if !ok {
		bal = new(big.Int)
		p.shares[owner] = bal
	}
	bal.Add(bal, minted)
	return new(big.Int).Set(minted), nil
}

func (t *memTx) Exit(_ context.Context, id PoolID, owner common.Address, shares *big.Int) ([2]*big.Int, error) {
	p, err := t.pool(id)
	if err != nil {
		return [2]*big.Int{}, err
	}
	bal, ok := p.shares[owner]
	if !ok || bal.Cmp(shares) < 0 {
		return [2]*big.Int{}, ErrInsufficientShares
	}
	if p.supply.Sign() == 0 {
		return [2]*big.Int{}, ErrInsufficientShares
	}

	var out [2]*big.Int
	for i := 0; i < 2; i++ {
		amt := new(big.Int).Mul(p.balances[i], shares)
		amt.Quo(amt, p.supply)
		p.balances[i].Sub(p.balances[i], amt)
		out[i] = amt
	}
	bal.Sub(bal, shares)
	p.supply.Sub(p.supply, shares)
	return out, nil
}
