package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/assimilator"
	"fxengine/internal/chain"
	"fxengine/internal/config"
	"fxengine/internal/curve"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/ledger"
	"fxengine/internal/ledger/evm"
	"fxengine/internal/oracle"
	"fxengine/internal/pool"
	"fxengine/internal/rebalance"
)

// poolSetup bundles everything a read-only command needs for one pool.
type poolSetup struct {
	client   *chain.Client
	service  *pool.Service
	poolID   ledger.PoolID
	pool     *pool.Pool
	ledger   ledger.BalanceLedger
	registry *assimilator.Registry
}

func (s *poolSetup) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// buildPoolSetup wires chain client, oracle, assimilators, engines, and the
// read-only vault ledger from config.
func buildPoolSetup(ctx context.Context, cfg config.Config) (*poolSetup, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Vault) {
		return nil, fmt.Errorf("vault address is required")
	}
	if !common.IsHexAddress(cfg.BaseToken) || !common.IsHexAddress(cfg.QuoteToken) {
		return nil, fmt.Errorf("base and quote token addresses are required")
	}
	if !common.IsHexAddress(cfg.BaseOracle) {
		return nil, fmt.Errorf("base oracle address is required")
	}
	if cfg.PoolID == "" {
		return nil, fmt.Errorf("pool id is required")
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	// One assimilator instance per (token, oracle, template) key; repeated
	// setups against the same registry reuse the existing instance.
	registry := assimilator.NewRegistry()
	baseKey := assimilator.Key{
		Token:    common.HexToAddress(cfg.BaseToken),
		Oracle:   common.HexToAddress(cfg.BaseOracle),
		Template: assimilator.TemplateOracleBacked,
	}
	baseAsm, _, err := registry.GetOrCreate(baseKey, func() (assimilator.Assimilator, error) {
		feed := oracle.NewChainlink(client, baseKey.Oracle)
		return assimilator.NewOracleBacked(baseKey.Token, cfg.BaseDecimals, cfg.QuoteDecimals, feed, cfg.Staleness), nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	quoteKey := assimilator.Key{
		Token:    common.HexToAddress(cfg.QuoteToken),
		Template: assimilator.TemplateFixedRate,
	}
	quoteAsm, _, err := registry.GetOrCreate(quoteKey, func() (assimilator.Assimilator, error) {
		return assimilator.NewFixedRate(quoteKey.Token, cfg.QuoteDecimals), nil
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	band, err := bandFromBps(cfg.BandLowerBps, cfg.BandUpperBps)
	if err != nil {
		client.Close()
		return nil, err
	}

	curveEngine := curve.NewEngine(baseAsm, quoteAsm, curve.EqualWeights(), cfg.FeeBps)
	rebalancer := rebalance.NewEngine(baseAsm, quoteAsm, curveEngine, band)

	vault := evm.NewVault(client, common.HexToAddress(cfg.Vault), nil)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		client.Close()
		return nil, err
	}
	service := pool.NewService(vault, logger)

	p := &pool.Pool{
		ID:         common.HexToHash(cfg.PoolID),
		Base:       baseAsm,
		Quote:      quoteAsm,
		Curve:      curveEngine,
		Rebalancer: rebalancer,
	}
	if err := service.RegisterPool(p); err != nil {
		client.Close()
		return nil, err
	}

	return &poolSetup{
		client:   client,
		service:  service,
		poolID:   p.ID,
		pool:     p,
		ledger:   vault,
		registry: registry,
	}, nil
}

func bandFromBps(lower, upper uint32) (rebalance.Band, error) {
	if lower == 0 && upper == 0 {
		return rebalance.DefaultBand(), nil
	}
	if lower >= upper || upper > 10_000 {
		return rebalance.Band{}, fmt.Errorf("invalid dead band: [%d, %d] bps", lower, upper)
	}
	lo, err := fixedpoint.FromRatio(bigFromUint(lower), bigFromUint(10_000))
	if err != nil {
		return rebalance.Band{}, err
	}
	hi, err := fixedpoint.FromRatio(bigFromUint(upper), bigFromUint(10_000))
	if err != nil {
		return rebalance.Band{}, err
	}
	return rebalance.Band{Lower: lo, Upper: hi}, nil
}
