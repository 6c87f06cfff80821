package model

// AssimilatorRecord is the persisted registry row for one assimilator:
// write-once per (token, oracle, template) key.
type AssimilatorRecord struct {
	ChainID  uint64 `json:"chain_id"`
	Token    string `json:"token"`
	Oracle   string `json:"oracle"`
	Template string `json:"template"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// PoolRecord tracks which assimilator template a pool was deployed with.
// Write-once per pool.
type PoolRecord struct {
	ChainID    uint64 `json:"chain_id"`
	PoolID     string `json:"pool_id"`
	BaseToken  string `json:"base_token"`
	QuoteToken string `json:"quote_token"`
	Template   string `json:"template"`
}

// QuoteRecord is one audit row for a quote produced by the engine. Amounts
// are decimal strings to survive JSON round trips without precision loss.
type QuoteRecord struct {
	ChainID       uint64 `json:"chain_id"`
	PoolID        string `json:"pool_id"`
	Operation     string `json:"operation"`
	DepositValue  string `json:"deposit_value"`
	MinShares     string `json:"min_shares"`
	MaxBase       string `json:"max_base"`
	MaxQuote      string `json:"max_quote"`
	SwapAsset     string `json:"swap_asset"`
	SwapAmountRaw string `json:"swap_amount_raw"`
	SlippageBps   uint32 `json:"slippage_bps"`
	QuotedAt      int64  `json:"quoted_at"`
}
