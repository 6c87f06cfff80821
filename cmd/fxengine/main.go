package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "fxengine",
		Short:        "FX pool pricing engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	quoteCmd := &cobra.Command{
		Use:   "quote-deposit",
		Short: "Quote a rebalanced deposit against a live pool",
		RunE:  runQuoteDeposit,
	}
	addPoolFlags(quoteCmd)
	quoteCmd.Flags().String("deposit", "", "deposit value in numeraire (decimal)")
	quoteCmd.Flags().Uint32("slippage-bps", 30, "slippage envelope in basis points")
	quoteCmd.Flags().String("pg-dsn", "", "Postgres DSN for the quote audit table")
	quoteCmd.Flags().String("quote-log", "./data/quotes.jsonl", "JSONL quote audit path")
	root.AddCommand(quoteCmd)

	statusCmd := &cobra.Command{
		Use:   "rebalance-status",
		Short: "Report a pool's ratio, dead band, and required swap",
		RunE:  runRebalanceStatus,
	}
	addPoolFlags(statusCmd)
	root.AddCommand(statusCmd)

	migrateCmd := &cobra.Command{
		Use:   "quote-migration",
		Short: "Quote moving an LP position between two pools",
		RunE:  runQuoteMigration,
	}
	addPoolFlags(migrateCmd)
	migrateCmd.Flags().String("new-pool", "", "destination pool id (bytes32 hex)")
	migrateCmd.Flags().String("lp-balance", "", "LP share balance to migrate (raw, 18 decimals)")
	root.AddCommand(migrateCmd)

	registerPoolCmd := &cobra.Command{
		Use:   "register-pool",
		Short: "Record a pool's template in the registry (write-once per pool)",
		RunE:  runRegisterPool,
	}
	addPoolFlags(registerPoolCmd)
	registerPoolCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	root.AddCommand(registerPoolCmd)

	registerCmd := &cobra.Command{
		Use:   "register-assimilator",
		Short: "Record an assimilator in the registry (write-once per key)",
		RunE:  runRegisterAssimilator,
	}
	registerCmd.Flags().String("rpc", "", "EVM RPC URL")
	registerCmd.Flags().String("token", "", "token address")
	registerCmd.Flags().String("oracle", "", "rate feed address (empty for fixed-rate)")
	registerCmd.Flags().String("template", "", "assimilator template (oracle-usd or fixed-one)")
	registerCmd.Flags().String("address", "", "deployed assimilator address")
	registerCmd.Flags().Uint8("decimals", 18, "token decimals")
	registerCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	registerCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(registerCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("vault", "", "vault contract address")
	cmd.Flags().String("pool", "", "pool id (bytes32 hex)")
	cmd.Flags().String("base-token", "", "base token address")
	cmd.Flags().String("quote-token", "", "quote token address")
	cmd.Flags().String("base-oracle", "", "base token rate feed address")
	cmd.Flags().Uint8("base-decimals", 18, "base token decimals")
	cmd.Flags().Uint8("quote-decimals", 6, "quote token decimals")
	cmd.Flags().Uint32("fee-bps", 0, "protocol percent fee in basis points")
	cmd.Flags().Duration("staleness", 0, "oracle staleness window (0 selects the default)")
	cmd.Flags().Uint32("band-lower-bps", 4800, "dead band lower bound in basis points")
	cmd.Flags().Uint32("band-upper-bps", 5200, "dead band upper bound in basis points")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
