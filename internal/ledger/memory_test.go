package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0x0000000000000000000000000000000000000a00")
	tokenB = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	poolID = common.HexToHash("0x01")
)

func newTestVault() *Memory {
	m := NewMemory()
	m.AddPool(poolID, MemoryPool{
		Tokens:   [2]common.Address{tokenA, tokenB},
		Balances: [2]*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000_000_000_000_000)},
		Decimals: [2]uint8{6, 18},
		Rates:    [2]*big.Int{big.NewInt(100_000_000), big.NewInt(100_000_000)},
	})
	return m
}

func TestSwapOutputCrossesDecimals(t *testing.T) {
	m := newTestVault()
	out, err := m.SimulateSwap(context.Background(), poolID, tokenA, tokenB, big.NewInt(500_000))
	if err != nil {
		t.Fatalf("SimulateSwap: %v", err)
	}
	// 0.5 of a 6-decimal token at equal rates is 0.5 of an 18-decimal token.
	want := big.NewInt(500_000_000_000_000_000)
	if out.Cmp(want) != 0 {
		t.Fatalf("swap output = %s, want %s", out, want)
	}
}

func TestSwapRespectsRateDifference(t *testing.T) {
	m := NewMemory()
	m.AddPool(poolID, MemoryPool{
		Tokens:   [2]common.Address{tokenA, tokenB},
		Balances: [2]*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		Decimals: [2]uint8{6, 6},
		Rates:    [2]*big.Int{big.NewInt(200_000_000), big.NewInt(100_000_000)},
	})
	out, err := m.SimulateSwap(context.Background(), poolID, tokenA, tokenB, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("SimulateSwap: %v", err)
	}
	if want := big.NewInt(200_000); out.Cmp(want) != 0 {
		t.Fatalf("swap output = %s, want %s", out, want)
	}
}

func TestTransactRollsBackOnError(t *testing.T) {
	m := newTestVault()
	before, err := m.PoolBalances(context.Background(), poolID)
	if err != nil {
		t.Fatalf("PoolBalances: %v", err)
	}

	sentinel := errors.New("abort")
	err = m.Transact(context.Background(), func(tx Tx) error {
		if _, err := tx.ExecuteSwap(context.Background(), poolID, owner, tokenA, tokenB, big.NewInt(100_000)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Transact error = %v, want sentinel", err)
	}

	after, err := m.PoolBalances(context.Background(), poolID)
	if err != nil {
		t.Fatalf("PoolBalances: %v", err)
	}
	for i := 0; i < 2; i++ {
		if before.Balances[i].Cmp(after.Balances[i]) != 0 {
			t.Fatalf("balance %d changed across a failed transaction: %s -> %s", i, before.Balances[i], after.Balances[i])
		}
	}
}

func TestTransactCommitsOnSuccess(t *testing.T) {
	m := newTestVault()
	err := m.Transact(context.Background(), func(tx Tx) error {
		_, err := tx.ExecuteSwap(context.Background(), poolID, owner, tokenA, tokenB, big.NewInt(100_000))
		return err
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	state, err := m.PoolBalances(context.Background(), poolID)
	if err != nil {
		t.Fatalf("PoolBalances: %v", err)
	}
	if want := big.NewInt(1_100_000); state.Balances[0].Cmp(want) != 0 {
		t.Fatalf("token-in balance = %s, want %s", state.Balances[0], want)
	}
}

func TestJoinMintsBootstrapAndProportional(t *testing.T) {
	m := newTestVault()

	var first *big.Int
	err := m.Transact(context.Background(), func(tx Tx) error {
		minted, err := tx.Join(context.Background(), poolID, owner, [2]*big.Int{big.NewInt(1_000_000), big.NewInt(0)})
		first = minted
		return err
	})
	if err != nil {
		t.Fatalf("bootstrap join: %v", err)
	}
	// 1.0 token at $1.00 mints 1e18 shares on an empty supply.
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if first.Cmp(want) != 0 {
		t.Fatalf("bootstrap mint = %s, want %s", first, want)
	}

	var second *big.Int
	err = m.Transact(context.Background(), func(tx Tx) error {
		minted, err := tx.Join(context.Background(), poolID, owner, [2]*big.Int{big.NewInt(0), big.NewInt(1_000_000_000_000_000_000)})
		second = minted
		return err
	})
	if err != nil {
		t.Fatalf("proportional join: %v", err)
	}
	// Pool held $3.00 after the first join; a $1.00 deposit mints supply/3.
	wantSecond := new(big.Int).Quo(want, big.NewInt(3))
	if second.Cmp(wantSecond) != 0 {
		t.Fatalf("proportional mint = %s, want %s", second, wantSecond)
	}
}

func TestExitProportionalAndGuarded(t *testing.T) {
	m := newTestVault()
	supply := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	m.SetShareSupply(poolID, owner, supply)

	half := new(big.Int).Quo(supply, big.NewInt(2))
	var out [2]*big.Int
	err := m.Transact(context.Background(), func(tx Tx) error {
		amounts, err := tx.Exit(context.Background(), poolID, owner, half)
		out = amounts
		return err
	})
	if err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if want := big.NewInt(500_000); out[0].Cmp(want) != 0 {
		t.Fatalf("base exit = %s, want %s", out[0], want)
	}

	err = m.Transact(context.Background(), func(tx Tx) error {
		_, err := tx.Exit(context.Background(), poolID, owner, supply)
		return err
	})
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("over-exit error = %v, want ErrInsufficientShares", err)
	}
}

func TestConcurrentTransactsBothCommit(t *testing.T) {
	m := newTestVault()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Transact(context.Background(), func(tx Tx) error {
				_, err := tx.ExecuteSwap(context.Background(), poolID, owner, tokenA, tokenB, big.NewInt(100_000))
				return err
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Transact %d: %v", i, err)
		}
	}

	state, err := m.PoolBalances(context.Background(), poolID)
	if err != nil {
		t.Fatalf("PoolBalances: %v", err)
	}
	if want := big.NewInt(1_200_000); state.Balances[0].Cmp(want) != 0 {
		t.Fatalf("token-in balance = %s, want %s", state.Balances[0], want)
	}
}

func TestUnknownPoolAndToken(t *testing.T) {
	m := newTestVault()
	if _, err := m.PoolBalances(context.Background(), common.HexToHash("0x02")); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("unknown pool error = %v, want ErrUnknownPool", err)
	}
	other := common.HexToAddress("0x0000000000000000000000000000000000000c00")
	if _, err := m.SimulateSwap(context.Background(), poolID, other, tokenB, big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("unknown token error = %v, want ErrUnknownToken", err)
	}
}
