package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/ledger"
)

var (
	testToken0 = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	testToken1 = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	testOwner  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testVault  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	testPoolID = common.HexToHash("0x01")
)

type callerFunc func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

func (f callerFunc) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return f(ctx, msg)
}

// newStubCaller serves getPoolBalances reads from a fixed pre-batch state.
func newStubCaller(t *testing.T, contractABI abi.ABI, balances [2]int64) callerFunc {
	t.Helper()
	return func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		method, err := contractABI.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
		if method.Name != "getPoolBalances" {
			return nil, fmt.Errorf("unexpected eth_call %s", method.Name)
		}
		return method.Outputs.Pack(
			[]common.Address{testToken0, testToken1},
			[]*big.Int{big.NewInt(balances[0]), big.NewInt(balances[1])},
		)
	}
}

// modelRelayer simulates the vault: swaps settle 1:1, join reports the
// pool's first-token balance as the minted shares so the figure exposes
// which state the call ran against.
type modelRelayer struct {
	abi      abi.ABI
	balances [2]*big.Int
	executed []Call
}

func (r *modelRelayer) SimulateBatch(_ context.Context, calls []Call) ([][]byte, error) {
	bals := [2]*big.Int{new(big.Int).Set(r.balances[0]), new(big.Int).Set(r.balances[1])}
	outs := make([][]byte, 0, len(calls))
	for _, call := range calls {
		method, err := r.abi.MethodById(call.Data[:4])
		if err != nil {
			return nil, err
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		var out []byte
		switch method.Name {
		case "executeSwap":
			amountIn := args[4].(*big.Int)
			bals[0].Add(bals[0], amountIn)
			bals[1].Sub(bals[1], amountIn)
			out, err = method.Outputs.Pack(new(big.Int).Set(amountIn))
		case "join":
			shares := new(big.Int).Set(bals[0])
			amounts := args[2].([]*big.Int)
			bals[0].Add(bals[0], amounts[0])
			bals[1].Add(bals[1], amounts[1])
			out, err = method.Outputs.Pack(shares)
		case "exit":
			shares := args[2].(*big.Int)
			bals[0].Sub(bals[0], shares)
			bals[1].Sub(bals[1], shares)
			out, err = method.Outputs.Pack([]*big.Int{new(big.Int).Set(shares), new(big.Int).Set(shares)})
		default:
			return nil, fmt.Errorf("unexpected staged call %s", method.Name)
		}
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func (r *modelRelayer) ExecuteBatch(_ context.Context, calls []Call) error {
	r.executed = append(r.executed, calls...)
	return nil
}

func TestJoinReturnReflectsStagedSwap(t *testing.T) {
	contractABI, err := getVaultABI()
	if err != nil {
		t.Fatalf("vault abi: %v", err)
	}
	relayer := &modelRelayer{
		abi:      contractABI,
		balances: [2]*big.Int{big.NewInt(1000), big.NewInt(1000)},
	}
	vault := NewVault(newStubCaller(t, contractABI, [2]int64{1000, 1000}), testVault, relayer)

	var swapOut, minted *big.Int
	var postSwap ledger.PoolState
	err = vault.Transact(context.Background(), func(tx ledger.Tx) error {
		out, err := tx.ExecuteSwap(context.Background(), testPoolID, testOwner, testToken0, testToken1, big.NewInt(100))
		if err != nil {
			return err
		}
		swapOut = out

		postSwap, err = tx.PoolBalances(context.Background(), testPoolID)
		if err != nil {
			return err
		}

		minted, err = tx.Join(context.Background(), testPoolID, testOwner, [2]*big.Int{big.NewInt(50), big.NewInt(50)})
		return err
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	if swapOut.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("swap output = %s, want 100", swapOut)
	}
	if postSwap.Balances[0].Cmp(big.NewInt(1100)) != 0 || postSwap.Balances[1].Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("post-swap view = %s/%s, want 1100/900", postSwap.Balances[0], postSwap.Balances[1])
	}
	// 1100 is the first-token balance after the staged swap; 1000 would mean
	// the join was simulated against pre-batch chain state.
	if minted.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("join shares = %s, want 1100", minted)
	}
	if len(relayer.executed) != 2 {
		t.Fatalf("executed %d calls, want 2", len(relayer.executed))
	}
}

func TestExitReturnReflectsStagedCalls(t *testing.T) {
	contractABI, err := getVaultABI()
	if err != nil {
		t.Fatalf("vault abi: %v", err)
	}
	relayer := &modelRelayer{
		abi:      contractABI,
		balances: [2]*big.Int{big.NewInt(1000), big.NewInt(1000)},
	}
	vault := NewVault(newStubCaller(t, contractABI, [2]int64{1000, 1000}), testVault, relayer)

	err = vault.Transact(context.Background(), func(tx ledger.Tx) error {
		if _, err := tx.Exit(context.Background(), testPoolID, testOwner, big.NewInt(200)); err != nil {
			return err
		}
		// The staged exit drained 200 per side; a second exit larger than
		// the remaining staged balance must fail the post-condition check.
		_, err := tx.Exit(context.Background(), testPoolID, testOwner, big.NewInt(900))
		if !errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("second exit error = %v, want ErrInsufficientBalance", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}

func TestTransactAbortSkipsBatch(t *testing.T) {
	contractABI, err := getVaultABI()
	if err != nil {
		t.Fatalf("vault abi: %v", err)
	}
	relayer := &modelRelayer{
		abi:      contractABI,
		balances: [2]*big.Int{big.NewInt(1000), big.NewInt(1000)},
	}
	vault := NewVault(newStubCaller(t, contractABI, [2]int64{1000, 1000}), testVault, relayer)

	sentinel := errors.New("abort")
	err = vault.Transact(context.Background(), func(tx ledger.Tx) error {
		if _, err := tx.ExecuteSwap(context.Background(), testPoolID, testOwner, testToken0, testToken1, big.NewInt(100)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transact error = %v, want sentinel", err)
	}
	if len(relayer.executed) != 0 {
		t.Fatalf("executed %d calls after abort, want 0", len(relayer.executed))
	}
}

func TestTransactWithoutRelayer(t *testing.T) {
	contractABI, err := getVaultABI()
	if err != nil {
		t.Fatalf("vault abi: %v", err)
	}
	vault := NewVault(newStubCaller(t, contractABI, [2]int64{1000, 1000}), testVault, nil)
	err = vault.Transact(context.Background(), func(ledger.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected error from relayer-less transact")
	}
}
