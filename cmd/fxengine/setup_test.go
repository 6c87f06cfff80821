package main

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/assimilator"
	"fxengine/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		RPCURL:        "http://localhost:8545",
		Vault:         "0x00000000000000000000000000000000000000ff",
		PoolID:        "0x01",
		BaseToken:     "0x0000000000000000000000000000000000000a00",
		QuoteToken:    "0x0000000000000000000000000000000000000b00",
		BaseOracle:    "0x0000000000000000000000000000000000000c00",
		BaseDecimals:  6,
		QuoteDecimals: 6,
		LogLevel:      "error",
	}
}

func TestBuildPoolSetupRegistersAssimilators(t *testing.T) {
	cfg := testConfig()
	setup, err := buildPoolSetup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildPoolSetup: %v", err)
	}
	defer setup.Close()

	if got := setup.registry.Len(); got != 2 {
		t.Fatalf("registry holds %d assimilators, want 2", got)
	}

	baseKey := assimilator.Key{
		Token:    common.HexToAddress(cfg.BaseToken),
		Oracle:   common.HexToAddress(cfg.BaseOracle),
		Template: assimilator.TemplateOracleBacked,
	}
	base, ok := setup.registry.Lookup(baseKey)
	if !ok {
		t.Fatal("base assimilator missing from registry")
	}
	if base != setup.pool.Base {
		t.Fatal("pool base assimilator is not the registry instance")
	}

	quoteKey := assimilator.Key{
		Token:    common.HexToAddress(cfg.QuoteToken),
		Template: assimilator.TemplateFixedRate,
	}
	quote, ok := setup.registry.Lookup(quoteKey)
	if !ok {
		t.Fatal("quote assimilator missing from registry")
	}
	if quote != setup.pool.Quote {
		t.Fatal("pool quote assimilator is not the registry instance")
	}
}

func TestPoolRecordFromConfig(t *testing.T) {
	cfg := testConfig()
	rec := poolRecordFromConfig(cfg, 137)

	if rec.ChainID != 137 {
		t.Fatalf("chain id = %d, want 137", rec.ChainID)
	}
	if rec.PoolID != common.HexToHash(cfg.PoolID).Hex() {
		t.Fatalf("pool id = %s", rec.PoolID)
	}
	if rec.BaseToken != common.HexToAddress(cfg.BaseToken).Hex() {
		t.Fatalf("base token = %s", rec.BaseToken)
	}
	if rec.QuoteToken != common.HexToAddress(cfg.QuoteToken).Hex() {
		t.Fatalf("quote token = %s", rec.QuoteToken)
	}
	if rec.Template != string(assimilator.TemplateOracleBacked) {
		t.Fatalf("template = %s", rec.Template)
	}
}
