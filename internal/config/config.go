package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	Vault         string
	PoolID        string
	BaseToken     string
	QuoteToken    string
	BaseOracle    string
	BaseDecimals  uint8
	QuoteDecimals uint8
	FeeBps        uint32
	Staleness     time.Duration
	BandLowerBps  uint32
	BandUpperBps  uint32
	PgDSN         string
	QuoteLog      string
	LogLevel      string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FXENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("base-decimals", uint8(18))
	v.SetDefault("quote-decimals", uint8(6))
	v.SetDefault("fee-bps", uint32(0))
	v.SetDefault("staleness", 24*time.Hour+15*time.Minute)
	v.SetDefault("band-lower-bps", uint32(4800))
	v.SetDefault("band-upper-bps", uint32(5200))
	v.SetDefault("quote-log", "./data/quotes.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:        v.GetString("rpc"),
		Vault:         v.GetString("vault"),
		PoolID:        v.GetString("pool"),
		BaseToken:     v.GetString("base-token"),
		QuoteToken:    v.GetString("quote-token"),
		BaseOracle:    v.GetString("base-oracle"),
		BaseDecimals:  uint8(v.GetUint("base-decimals")),
		QuoteDecimals: uint8(v.GetUint("quote-decimals")),
		FeeBps:        uint32(v.GetUint("fee-bps")),
		Staleness:     v.GetDuration("staleness"),
		BandLowerBps:  uint32(v.GetUint("band-lower-bps")),
		BandUpperBps:  uint32(v.GetUint("band-upper-bps")),
		PgDSN:         v.GetString("pg-dsn"),
		QuoteLog:      v.GetString("quote-log"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}
