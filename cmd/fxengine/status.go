package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fxengine/internal/config"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/pool"
)

func runRebalanceStatus(cmd *cobra.Command, _ []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := buildPoolSetup(ctx, cfg)
	if err != nil {
		return err
	}
	defer setup.Close()

	state, err := setup.ledger.PoolBalances(ctx, setup.poolID)
	if err != nil {
		return err
	}
	balances, err := pool.BalancesOf(setup.pool, state)
	if err != nil {
		return err
	}

	liq, err := setup.pool.Curve.OracleLiquidity(ctx, balances)
	if err != nil {
		return err
	}
	plan, err := setup.pool.Rebalancer.CalculateSwapAmount(ctx, balances)
	if err != nil {
		return err
	}

	ratio := fixedpoint.Zero()
	if liq.Total.Sign() > 0 {
		ratio, err = fixedpoint.MulDiv(liq.Quote, fixedpoint.One(), liq.Total)
		if err != nil {
			return err
		}
	}

	logger.Info("rebalance status",
		zap.String("pool", setup.poolID.Hex()),
		zap.String("gross_liquidity", liq.Total.String()),
		zap.String("base_value", liq.Base.String()),
		zap.String("quote_value", liq.Quote.String()),
		zap.String("quote_ratio", ratio.String()),
		zap.Bool("balanced", plan.Balanced()),
		zap.String("swap_asset", plan.AssetIn.Hex()),
		zap.String("swap_amount_raw", plan.AmountInRaw.String()),
	)
	return nil
}
