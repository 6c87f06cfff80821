// Package ledger defines the external balance-holding collaborator: the
// vault that custody's pool tokens, executes swaps, and mints/burns LP
// shares. The pricing engine only ever sees balances through this interface
// and never caches them across calls.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownPool         = errors.New("ledger: unknown pool")
	ErrUnknownToken        = errors.New("ledger: token not in pool")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInsufficientShares  = errors.New("ledger: insufficient shares")
)

// PoolID identifies a pool in the vault, a 32-byte key.
type PoolID = common.Hash

// PoolState is a fresh read of a pool's registered tokens and raw balances,
// ordered by the vault's canonical ascending-address ordering.
type PoolState struct {
	Tokens   [2]common.Address
	Balances [2]*big.Int
}

// IndexOf returns the position of token in the canonical ordering.
func (s PoolState) IndexOf(token common.Address) (int, error) {
	for i, t := range s.Tokens {
		if t == token {
			return i, nil
		}
	}
	return 0, ErrUnknownToken
}

// BalanceLedger is the read surface plus the atomic transaction boundary.
// All state-mutating operations happen inside Transact: either every staged
// effect applies or none does.
type BalanceLedger interface {
	// PoolBalances reads the pool's current tokens and balances.
	PoolBalances(ctx context.Context, id PoolID) (PoolState, error)
	// SimulateSwap quotes a swap's output without mutating state.
	SimulateSwap(ctx context.Context, id PoolID, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	// ShareSupply reads the pool's total LP share supply (18 decimals).
	ShareSupply(ctx context.Context, id PoolID) (*big.Int, error)
	// ShareBalance reads an owner's LP share balance.
	ShareBalance(ctx context.Context, id PoolID, owner common.Address) (*big.Int, error)
	// Transact runs fn against a transactional view. If fn returns an
	// error, no staged effect is applied.
	Transact(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the mutating vault operations inside a transaction scope.
// Reads inside the scope observe the staged effects.
type Tx interface {
	// PoolBalances reads pool state as staged so far in this transaction.
	PoolBalances(ctx context.Context, id PoolID) (PoolState, error)
	// ExecuteSwap swaps amountIn of tokenIn for tokenOut and returns the
	// output amount.
	ExecuteSwap(ctx context.Context, id PoolID, owner common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	// Join deposits the given raw amounts (canonical order) and mints LP
	// shares to owner, returning the minted amount.
	Join(ctx context.Context, id PoolID, owner common.Address, amounts [2]*big.Int) (*big.Int, error)
	// Exit burns owner's shares and returns the raw amounts paid out in
	// canonical order.
	Exit(ctx context.Context, id PoolID, owner common.Address, shares *big.Int) ([2]*big.Int, error)
}
