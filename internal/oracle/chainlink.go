package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"fxengine/internal/chain"
)

const aggregatorABIJSON = `[
  {"inputs": [], "name": "latestRoundData", "outputs": [
    {"internalType": "uint80", "name": "roundId", "type": "uint80"},
    {"internalType": "int256", "name": "answer", "type": "int256"},
    {"internalType": "uint256", "name": "startedAt", "type": "uint256"},
    {"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
    {"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
  ], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "latestAnswer", "outputs": [
    {"internalType": "int256", "name": "", "type": "int256"}
  ], "stateMutability": "view", "type": "function"}
]`

var (
	aggregatorABI    abi.ABI
	aggregatorOnce   sync.Once
	aggregatorABIErr error
)

func getAggregatorABI() (abi.ABI, error) {
	aggregatorOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// Chainlink reads a deployed aggregator feed over eth_call.
type Chainlink struct {
	client *chain.Client
	feed   common.Address
}

// NewChainlink binds a feed address to the shared chain client.
func NewChainlink(client *chain.Client, feed common.Address) *Chainlink {
	return &Chainlink{client: client, feed: feed}
}

// Feed returns the aggregator address this oracle reads.
func (o *Chainlink) Feed() common.Address {
	return o.feed
}

// LatestRoundData fetches the feed's latest round.
func (o *Chainlink) LatestRoundData(ctx context.Context) (RoundData, error) {
	feedABI, err := getAggregatorABI()
	if err != nil {
		return RoundData{}, err
	}

	data, err := feedABI.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, fmt.Errorf("pack latestRoundData: %w", err)
	}

	msg := ethereum.CallMsg{To: &o.feed, Data: data}
	resp, err := o.client.CallContract(ctx, msg)
	if err != nil {
		return RoundData{}, fmt.Errorf("call latestRoundData: %w", err)
	}

	values, err := feedABI.Unpack("latestRoundData", resp)
	if err != nil {
		return RoundData{}, fmt.Errorf("unpack latestRoundData: %w", err)
	}
	if len(values) != 5 {
		return RoundData{}, fmt.Errorf("latestRoundData return size %d", len(values))
	}

	roundID, ok := values[0].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("roundId unexpected type %T", values[0])
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("answer unexpected type %T", values[1])
	}
	startedAt, ok := values[2].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("startedAt unexpected type %T", values[2])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("updatedAt unexpected type %T", values[3])
	}
	answeredIn, ok := values[4].(*big.Int)
	if !ok {
		return RoundData{}, fmt.Errorf("answeredInRound unexpected type %T", values[4])
	}

	return RoundData{
		RoundID:         roundID,
		Answer:          answer,
		StartedAt:       unixOrZero(startedAt),
		UpdatedAt:       unixOrZero(updatedAt),
		AnsweredInRound: answeredIn,
	}, nil
}

func unixOrZero(ts *big.Int) time.Time {
	if ts == nil || ts.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0)
}
