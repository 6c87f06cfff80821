package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fxengine/internal/assimilator"
	"fxengine/internal/chain"
	"fxengine/internal/config"
	"fxengine/internal/model"
	"fxengine/internal/storage/postgres"
)

func runRegisterPool(cmd *cobra.Command, _ []string) error {
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

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.PgDSN == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	if cfg.PoolID == "" {
		return fmt.Errorf("pool id is required")
	}
	if !common.IsHexAddress(cfg.BaseToken) || !common.IsHexAddress(cfg.QuoteToken) {
		return fmt.Errorf("base and quote token addresses are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	store, err := postgres.NewStore(ctx, cfg.PgDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	rec := poolRecordFromConfig(cfg, chainID.Uint64())
	inserted, err := store.InsertPool(ctx, rec)
	if err != nil {
		return fmt.Errorf("register pool: %w", err)
	}

	logger.Info("pool registered",
		zap.Uint64("chain_id", rec.ChainID),
		zap.String("pool", rec.PoolID),
		zap.String("base_token", rec.BaseToken),
		zap.String("quote_token", rec.QuoteToken),
		zap.String("template", rec.Template),
		zap.Bool("inserted", inserted),
	)
	return nil
}

// poolRecordFromConfig builds the write-once pool row. The CLI deploys the
// oracle-backed base template, so that is the template recorded.
func poolRecordFromConfig(cfg config.Config, chainID uint64) model.PoolRecord {
	return model.PoolRecord{
		ChainID:    chainID,
		PoolID:     common.HexToHash(cfg.PoolID).Hex(),
		BaseToken:  common.HexToAddress(cfg.BaseToken).Hex(),
		QuoteToken: common.HexToAddress(cfg.QuoteToken).Hex(),
		Template:   string(assimilator.TemplateOracleBacked),
	}
}
