package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fxengine/internal/config"
	"fxengine/internal/fixedpoint"
	"fxengine/internal/model"
	"fxengine/internal/storage"
	"fxengine/internal/storage/postgres"
)

func bigFromUint(v uint32) *big.Int {
	return new(big.Int).SetUint64(uint64(v))
}

func runQuoteDeposit(cmd *cobra.Command, _ []string) error {
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

	depositStr, _ := cmd.Flags().GetString("deposit")
	if depositStr == "" {
		return fmt.Errorf("deposit amount is required")
	}
	deposit, err := fixedpoint.Parse(depositStr)
	if err != nil {
		return err
	}
	slippageBps, _ := cmd.Flags().GetUint32("slippage-bps")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := buildPoolSetup(ctx, cfg)
	if err != nil {
		return err
	}
	defer setup.Close()

	quote, err := setup.service.QuoteRebalancedDeposit(ctx, setup.poolID, deposit, slippageBps)
	if err != nil {
		return err
	}

	logger.Info("rebalanced deposit quote",
		zap.String("pool", setup.poolID.Hex()),
		zap.String("deposit", deposit.String()),
		zap.String("min_shares", quote.MinShares.String()),
		zap.String("max_base", quote.MaxBase.String()),
		zap.String("max_quote", quote.MaxQuote.String()),
		zap.String("swap_asset", quote.SwapAsset.Hex()),
		zap.String("swap_amount_raw", quote.SwapAmountRaw.String()),
	)

	chainID, err := setup.client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	record := model.QuoteRecord{
		ChainID:       chainID.Uint64(),
		PoolID:        setup.poolID.Hex(),
		Operation:     "rebalanced-deposit",
		DepositValue:  deposit.String(),
		MinShares:     quote.MinShares.String(),
		MaxBase:       quote.MaxBase.String(),
		MaxQuote:      quote.MaxQuote.String(),
		SwapAsset:     quote.SwapAsset.Hex(),
		SwapAmountRaw: quote.SwapAmountRaw.String(),
		SlippageBps:   slippageBps,
		QuotedAt:      time.Now().Unix(),
	}

	return persistQuote(ctx, cfg, record, logger)
}

func persistQuote(ctx context.Context, cfg config.Config, record model.QuoteRecord, logger *zap.Logger) error {
	if cfg.PgDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.PutQuotes(ctx, []model.QuoteRecord{record}); err != nil {
			return fmt.Errorf("persist quote: %w", err)
		}
		logger.Debug("quote persisted", zap.String("sink", "postgres"))
		return nil
	}

	sink := storage.NewJsonlStorage(cfg.QuoteLog)
	if err := sink.PutQuotes([]model.QuoteRecord{record}); err != nil {
		return fmt.Errorf("persist quote: %w", err)
	}
	logger.Debug("quote persisted", zap.String("sink", cfg.QuoteLog))
	return nil
}
