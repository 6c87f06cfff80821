// Package evm implements the BalanceLedger against a deployed vault
// contract. Reads go through eth_call; mutations are staged during Transact
// and handed to a relayer that executes the batch atomically, so a failed
// leg reverts every leg. Return values of staged calls come from simulating
// the whole batch so far, never from a lone eth_call against pre-batch
// chain state.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/ledger"
)

const vaultABIJSON = `[
  {"inputs": [{"name": "poolId", "type": "bytes32"}], "name": "getPoolBalances", "outputs": [
    {"name": "tokens", "type": "address[]"},
    {"name": "balances", "type": "uint256[]"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [
    {"name": "poolId", "type": "bytes32"},
    {"name": "tokenIn", "type": "address"},
    {"name": "tokenOut", "type": "address"},
    {"name": "amountIn", "type": "uint256"}
  ], "name": "simulateSwap", "outputs": [{"name": "amountOut", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [
    {"name": "poolId", "type": "bytes32"},
    {"name": "recipient", "type": "address"},
    {"name": "tokenIn", "type": "address"},
    {"name": "tokenOut", "type": "address"},
    {"name": "amountIn", "type": "uint256"}
  ], "name": "executeSwap", "outputs": [{"name": "amountOut", "type": "uint256"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
    {"name": "poolId", "type": "bytes32"},
    {"name": "recipient", "type": "address"},
    {"name": "maxAmounts", "type": "uint256[]"}
  ], "name": "join", "outputs": [{"name": "shares", "type": "uint256"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [
    {"name": "poolId", "type": "bytes32"},
    {"name": "recipient", "type": "address"},
    {"name": "shares", "type": "uint256"}
  ], "name": "exit", "outputs": [{"name": "amounts", "type": "uint256[]"}], "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "bytes32"}], "name": "shareSupply", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [
    {"name": "poolId", "type": "bytes32"},
    {"name": "owner", "type": "address"}
  ], "name": "shareBalance", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	vaultABI    abi.ABI
	vaultOnce   sync.Once
	vaultABIErr error
)

func getVaultABI() (abi.ABI, error) {
	vaultOnce.Do(func() {
		vaultABI, vaultABIErr = abi.JSON(strings.NewReader(vaultABIJSON))
	})
	return vaultABI, vaultABIErr
}

// Call is one staged contract call of an atomic batch.
type Call struct {
	To   common.Address
	Data []byte
}

// Relayer executes a staged batch as a single all-or-nothing transaction
// and dry-runs the same batch beforehand.
type Relayer interface {
	ExecuteBatch(ctx context.Context, calls []Call) error
	// SimulateBatch runs the calls in order against current chain state
	// without committing, returning each call's return data. Later calls
	// observe the effects of earlier ones.
	SimulateBatch(ctx context.Context, calls []Call) ([][]byte, error)
}

// ContractCaller is the read path the vault needs from the chain client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Vault is the EVM-backed BalanceLedger.
type Vault struct {
	client  ContractCaller
	address common.Address
	relayer Relayer
}

// NewVault binds the vault contract. relayer may be nil for read-only use;
// Transact then fails.
func NewVault(client ContractCaller, address common.Address, relayer Relayer) *Vault {
	return &Vault{client: client, address: address, relayer: relayer}
}

func (v *Vault) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	contractABI, err := getVaultABI()
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &v.address, Data: data}
	resp, err := v.client.CallContract(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (v *Vault) pack(method string, args ...interface{}) ([]byte, error) {
	contractABI, err := getVaultABI()
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// PoolBalances reads the pool's tokens and balances in canonical order.
func (v *Vault) PoolBalances(ctx context.Context, id ledger.PoolID) (ledger.PoolState, error) {
	values, err := v.call(ctx, "getPoolBalances", [32]byte(id))
	if err != nil {
		return ledger.PoolState{}, err
	}
	if len(values) != 2 {
		return ledger.PoolState{}, fmt.Errorf("getPoolBalances return size %d", len(values))
	}
	tokens, ok := values[0].([]common.Address)
	if !ok {
		return ledger.PoolState{}, fmt.Errorf("tokens unexpected type %T", values[0])
	}
	balances, ok := values[1].([]*big.Int)
	if !ok {
		return ledger.PoolState{}, fmt.Errorf("balances unexpected type %T", values[1])
	}
	if len(tokens) != 2 || len(balances) != 2 {
		return ledger.PoolState{}, fmt.Errorf("pool %s has %d tokens, want 2", id, len(tokens))
	}
	return ledger.PoolState{
		Tokens:   [2]common.Address{tokens[0], tokens[1]},
		Balances: [2]*big.Int{balances[0], balances[1]},
	}, nil
}

// SimulateSwap quotes the swap output via the vault's read-only entry point.
func (v *Vault) SimulateSwap(ctx context.Context, id ledger.PoolID, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	values, err := v.call(ctx, "simulateSwap", [32]byte(id), tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	return singleBig(values, "simulateSwap")
}

// ShareSupply reads the pool's LP share supply.
func (v *Vault) ShareSupply(ctx context.Context, id ledger.PoolID) (*big.Int, error) {
	values, err := v.call(ctx, "shareSupply", [32]byte(id))
	if err != nil {
		return nil, err
	}
	return singleBig(values, "shareSupply")
}

// ShareBalance reads an owner's LP share balance.
func (v *Vault) ShareBalance(ctx context.Context, id ledger.PoolID, owner common.Address) (*big.Int, error) {
	values, err := v.call(ctx, "shareBalance", [32]byte(id), owner)
	if err != nil {
		return nil, err
	}
	return singleBig(values, "shareBalance")
}

func singleBig(values []interface{}, method string) (*big.Int, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	out, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s unexpected type %T", method, values[0])
	}
	return out, nil
}

// Transact stages mutating calls while tracking their effects on an
// in-memory view of the touched pools. Each staged call's return value
// comes from relayer.SimulateBatch over every call staged so far, so a
// later call sees the state the earlier ones will produce. Only when fn
// succeeds is the batch handed to the relayer for atomic execution.
func (v *Vault) Transact(ctx context.Context, fn func(ledger.Tx) error) error {
	if v.relayer == nil {
		return fmt.Errorf("evm: vault has no relayer, transact unavailable")
	}
	tx := &vaultTx{vault: v, staged: make(map[ledger.PoolID]*ledger.PoolState)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.calls) == 0 {
		return nil
	}
	return v.relayer.ExecuteBatch(ctx, tx.calls)
}

type vaultTx struct {
	vault  *Vault
	calls  []Call
	staged map[ledger.PoolID]*ledger.PoolState
}

// simulateNext dry-runs the staged batch plus call and returns the return
// data of call itself.
func (t *vaultTx) simulateNext(ctx context.Context, call Call) ([]byte, error) {
	batch := make([]Call, 0, len(t.calls)+1)
	batch = append(batch, t.calls...)
	batch = append(batch, call)
	outs, err := t.vault.relayer.SimulateBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("simulate batch: %w", err)
	}
	if len(outs) != len(batch) {
		return nil, fmt.Errorf("evm: batch simulation returned %d results for %d calls", len(outs), len(batch))
	}
	return outs[len(outs)-1], nil
}

func unpackVault(method string, ret []byte) ([]interface{}, error) {
	contractABI, err := getVaultABI()
	if err != nil {
		return nil, err
	}
	values, err := contractABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// state reads the pool once from chain and then tracks staged deltas.
func (t *vaultTx) state(ctx context.Context, id ledger.PoolID) (*ledger.PoolState, error) {
	if s, ok := t.staged[id]; ok {
		return s, nil
	}
	s, err := t.vault.PoolBalances(ctx, id)
	if err != nil {
		return nil, err
	}
	t.staged[id] = &s
	return &s, nil
}

func (t *vaultTx) PoolBalances(ctx context.Context, id ledger.PoolID) (ledger.PoolState, error) {
	s, err := t.state(ctx, id)
	if err != nil {
		return ledger.PoolState{}, err
	}
	return ledger.PoolState{
		Tokens:   s.Tokens,
		Balances: [2]*big.Int{new(big.Int).Set(s.Balances[0]), new(big.Int).Set(s.Balances[1])},
	}, nil
}

func (t *vaultTx) ExecuteSwap(ctx context.Context, id ledger.PoolID, owner, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := t.vault.pack("executeSwap", [32]byte(id), owner, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	call := Call{To: t.vault.address, Data: data}
	ret, err := t.simulateNext(ctx, call)
	if err != nil {
		return nil, err
	}
	values, err := unpackVault("executeSwap", ret)
	if err != nil {
		return nil, err
	}
	amountOut, err := singleBig(values, "executeSwap")
	if err != nil {
		return nil, err
	}

	s, err := t.state(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := s.IndexOf(tokenIn)
	if err != nil {
		return nil, err
	}
	out, err := s.IndexOf(tokenOut)
	if err != nil {
		return nil, err
	}
	if s.Balances[out].Cmp(amountOut) < 0 {
		return nil, fmt.Errorf("%w: %s token side", ledger.ErrInsufficientBalance, tokenOut)
	}
	s.Balances[in] = new(big.Int).Add(s.Balances[in], amountIn)
	s.Balances[out] = new(big.Int).Sub(s.Balances[out], amountOut)

	t.calls = append(t.calls, call)
	return amountOut, nil
}

func (t *vaultTx) Join(ctx context.Context, id ledger.PoolID, owner common.Address, amounts [2]*big.Int) (*big.Int, error) {
	data, err := t.vault.pack("join", [32]byte(id), owner, []*big.Int{amounts[0], amounts[1]})
	if err != nil {
		return nil, err
	}
	call := Call{To: t.vault.address, Data: data}
	ret, err := t.simulateNext(ctx, call)
	if err != nil {
		return nil, err
	}
	values, err := unpackVault("join", ret)
	if err != nil {
		return nil, err
	}
	shares, err := singleBig(values, "join")
	if err != nil {
		return nil, err
	}

	s, err := t.state(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Balances[0] = new(big.Int).Add(s.Balances[0], amounts[0])
	s.Balances[1] = new(big.Int).Add(s.Balances[1], amounts[1])

	t.calls = append(t.calls, call)
	return shares, nil
}

func (t *vaultTx) Exit(ctx context.Context, id ledger.PoolID, owner common.Address, shares *big.Int) ([2]*big.Int, error) {
	data, err := t.vault.pack("exit", [32]byte(id), owner, shares)
	if err != nil {
		return [2]*big.Int{}, err
	}
	call := Call{To: t.vault.address, Data: data}
	ret, err := t.simulateNext(ctx, call)
	if err != nil {
		return [2]*big.Int{}, err
	}
	values, err := unpackVault("exit", ret)
	if err != nil {
		return [2]*big.Int{}, err
	}
	if len(values) != 1 {
		return [2]*big.Int{}, fmt.Errorf("exit return size %d", len(values))
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) != 2 {
		return [2]*big.Int{}, fmt.Errorf("exit unexpected output %T", values[0])
	}

	s, err := t.state(ctx, id)
	if err != nil {
		return [2]*big.Int{}, err
	}
	for i := 0; i < 2; i++ {
		if s.Balances[i].Cmp(amounts[i]) < 0 {
			return [2]*big.Int{}, fmt.Errorf("%w: %s token side", ledger.ErrInsufficientBalance, s.Tokens[i])
		}
		s.Balances[i] = new(big.Int).Sub(s.Balances[i], amounts[i])
	}

	t.calls = append(t.calls, call)
	return [2]*big.Int{amounts[0], amounts[1]}, nil
}
