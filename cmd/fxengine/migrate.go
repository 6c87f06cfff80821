package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fxengine/internal/config"
	"fxengine/internal/pool"
)

func runQuoteMigration(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	newPoolStr, _ := cmd.Flags().GetString("new-pool")
	if newPoolStr == "" {
		return fmt.Errorf("new pool id is required")
	}
	lpStr, _ := cmd.Flags().GetString("lp-balance")
	lpBalance, ok := new(big.Int).SetString(lpStr, 10)
	if !ok || lpBalance.Sign() <= 0 {
		return fmt.Errorf("lp balance must be a positive integer, got %q", lpStr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := buildPoolSetup(ctx, cfg)
	if err != nil {
		return err
	}
	defer setup.Close()

	newID := common.HexToHash(newPoolStr)
	if newID == setup.poolID {
		return fmt.Errorf("new pool id matches the source pool")
	}

	// The destination pool trades the same pair, so it reuses the source
	// pool's assimilators and engines under its own id.
	newPool := &pool.Pool{
		ID:         newID,
		Base:       setup.pool.Base,
		Quote:      setup.pool.Quote,
		Curve:      setup.pool.Curve,
		Rebalancer: setup.pool.Rebalancer,
	}
	if err := setup.service.RegisterPool(newPool); err != nil {
		return err
	}

	quote, err := setup.service.QuoteMigration(ctx, setup.poolID, newID, lpBalance)
	if err != nil {
		return err
	}

	logger.Info("migration quote",
		zap.String("old_pool", setup.poolID.Hex()),
		zap.String("new_pool", newID.Hex()),
		zap.String("lp_balance", lpBalance.String()),
		zap.String("min_shares", quote.MinShares.String()),
		zap.String("base_delta", quote.BaseDelta.String()),
		zap.String("quote_delta", quote.QuoteDelta.String()),
	)
	return nil
}
