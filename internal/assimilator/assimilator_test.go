package assimilator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/fixedpoint"
	"fxengine/internal/oracle"
)

type stubOracle struct {
	round oracle.RoundData
	err   error
}

func (s *stubOracle) LatestRoundData(context.Context) (oracle.RoundData, error) {
	return s.round, s.err
}

func freshRound(answer int64, startedAt time.Time) oracle.RoundData {
	return oracle.RoundData{
		RoundID:         big.NewInt(1),
		Answer:          big.NewInt(answer),
		StartedAt:       startedAt,
		UpdatedAt:       startedAt,
		AnsweredInRound: big.NewInt(1),
	}
}

var (
	baseToken  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	quoteToken = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func halfWeight(t *testing.T) fixedpoint.Number {
	t.Helper()
	w, err := fixedpoint.FromRatio(big.NewInt(1), big.NewInt(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return w
}

func TestOracleBackedRoundTrip(t *testing.T) {
	// Rate 2.00, 6-decimal token: 3_000_000 raw = 6.0 numeraire.
	feed := &stubOracle{round: freshRound(200_000_000, time.Now())}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)

	raw := big.NewInt(3_000_000)
	n, err := a.ViewNumeraireAmount(context.Background(), raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := n.Int(); got != 6 {
		t.Fatalf("numeraire = %d, want 6", got)
	}

	back, err := a.ViewRawAmount(context.Background(), n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	diff := new(big.Int).Sub(back, raw)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("round trip drift %s, want within 1 raw unit", diff)
	}
}

func TestOracleBackedStalenessGate(t *testing.T) {
	now := time.Now()

	stale := &stubOracle{round: freshRound(100_000_000, now.Add(-(24*time.Hour + 16*time.Minute)))}
	a := NewOracleBacked(baseToken, 6, 6, stale, 0)
	if _, err := a.Rate(context.Background()); !errors.Is(err, oracle.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	fresh := &stubOracle{round: freshRound(100_000_000, now.Add(-(24*time.Hour + 14*time.Minute)))}
	a = NewOracleBacked(baseToken, 6, 6, fresh, 0)
	if _, err := a.Rate(context.Background()); err != nil {
		t.Fatalf("round inside window rejected: %v", err)
	}
}

func TestOracleBackedRateUnavailable(t *testing.T) {
	feed := &stubOracle{err: errors.New("rpc down")}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)
	if _, err := a.ViewRawAmount(context.Background(), fixedpoint.FromInt(1)); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestOracleBackedNonPositivePrice(t *testing.T) {
	feed := &stubOracle{round: freshRound(0, time.Now())}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)
	if _, err := a.Rate(context.Background()); !errors.Is(err, oracle.ErrNonPositivePrice) {
		t.Fatalf("expected ErrNonPositivePrice, got %v", err)
	}
}

func TestVirtualBalanceClampsAtZero(t *testing.T) {
	feed := &stubOracle{round: freshRound(100_000_000, time.Now())}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)

	n, err := a.VirtualViewNumeraireBalanceOutput(context.Background(), big.NewInt(5), big.NewInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Sign() != 0 {
		t.Fatalf("clamped balance = %s, want 0", n)
	}

	n, err = a.VirtualViewNumeraireBalanceIntake(context.Background(), big.NewInt(1_000_000), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := n.Int(); got != 2 {
		t.Fatalf("intake balance = %d, want 2", got)
	}
}

func TestLPRatioIgnoresOracle(t *testing.T) {
	// Deliberately stale oracle: the LP-ratio path must not consult it.
	feed := &stubOracle{round: freshRound(100_000_000, time.Now().Add(-48*time.Hour))}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)
	half := halfWeight(t)

	// 1 base token vs 1000 quote tokens: ratio rate 1000, so the base
	// balance is worth 1000 numeraire.
	baseBal := big.NewInt(1_000_000)
	quoteBal := big.NewInt(1_000_000_000)

	n, err := a.ViewNumeraireBalanceLPRatio(half, half, baseBal, quoteBal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := n.Int(); got != 1000 {
		t.Fatalf("ratio balance = %d, want 1000", got)
	}

	raw, err := a.ViewRawAmountLPRatio(half, half, fixedpoint.FromInt(500), baseBal, quoteBal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("ratio raw = %s, want 500000", raw)
	}
}

func TestLPRatioZeroBaseBalance(t *testing.T) {
	feed := &stubOracle{round: freshRound(100_000_000, time.Now())}
	a := NewOracleBacked(baseToken, 6, 6, feed, 0)
	half := halfWeight(t)

	_, err := a.ViewNumeraireBalanceLPRatio(half, half, big.NewInt(0), big.NewInt(1_000_000))
	if !errors.Is(err, ErrZeroBaseBalance) {
		t.Fatalf("expected ErrZeroBaseBalance, got %v", err)
	}
}

func TestFixedRateQuoteSide(t *testing.T) {
	a := NewFixedRate(quoteToken, 6)

	n, err := a.ViewNumeraireAmount(context.Background(), big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := n.Int(); got != 1000 {
		t.Fatalf("quote numeraire = %d, want 1000", got)
	}

	raw, err := a.ViewRawAmount(context.Background(), fixedpoint.FromInt(250))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.Cmp(big.NewInt(250_000_000)) != 0 {
		t.Fatalf("quote raw = %s, want 250000000", raw)
	}
}

func TestRegistryIdempotentInsert(t *testing.T) {
	reg := NewRegistry()
	key := Key{Token: quoteToken, Template: TemplateFixedRate}

	first, created, err := reg.GetOrCreate(key, func() (Assimilator, error) {
		return NewFixedRate(quoteToken, 6), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("first insert should create")
	}

	second, created, err := reg.GetOrCreate(key, func() (Assimilator, error) {
		t.Fatalf("builder must not run for existing key")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created || second != first {
		t.Fatalf("second insert must return the existing instance")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", reg.Len())
	}
}
