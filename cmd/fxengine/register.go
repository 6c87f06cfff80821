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
	"fxengine/internal/model"
	"fxengine/internal/storage/postgres"
)

func runRegisterAssimilator(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	token, _ := cmd.Flags().GetString("token")
	oracleAddr, _ := cmd.Flags().GetString("oracle")
	template, _ := cmd.Flags().GetString("template")
	address, _ := cmd.Flags().GetString("address")
	decimals, _ := cmd.Flags().GetUint8("decimals")
	dsn, _ := cmd.Flags().GetString("pg-dsn")
	rpcURL, _ := cmd.Flags().GetString("rpc")

	if !common.IsHexAddress(token) {
		return fmt.Errorf("token address is required")
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("assimilator address is required")
	}
	if dsn == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	if rpcURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	switch assimilator.Template(template) {
	case assimilator.TemplateOracleBacked:
		if !common.IsHexAddress(oracleAddr) {
			return fmt.Errorf("oracle address is required for template %q", template)
		}
	case assimilator.TemplateFixedRate:
		oracleAddr = ""
	default:
		return fmt.Errorf("unknown template %q", template)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	rec := model.AssimilatorRecord{
		ChainID:  chainID.Uint64(),
		Token:    common.HexToAddress(token).Hex(),
		Oracle:   oracleAddr,
		Template: template,
		Address:  common.HexToAddress(address).Hex(),
		Decimals: decimals,
	}
	if common.IsHexAddress(oracleAddr) {
		rec.Oracle = common.HexToAddress(oracleAddr).Hex()
	}

	inserted, err := store.InsertAssimilator(ctx, rec)
	if err != nil {
		return fmt.Errorf("register assimilator: %w", err)
	}

	if !inserted {
		existing, ok, err := store.LookupAssimilator(ctx, rec.ChainID, rec.Token, rec.Oracle, rec.Template)
		if err != nil {
			return err
		}
		if ok && existing != rec.Address {
			return fmt.Errorf("assimilator key already registered to %s", existing)
		}
	}

	logger.Info("assimilator registered",
		zap.Uint64("chain_id", rec.ChainID),
		zap.String("token", rec.Token),
		zap.String("oracle", rec.Oracle),
		zap.String("template", rec.Template),
		zap.String("address", rec.Address),
		zap.Uint8("decimals", rec.Decimals),
		zap.Bool("inserted", inserted),
	)
	return nil
}
