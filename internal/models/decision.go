package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Profitability is the deferred outcome of a trading decision.
type Profitability int

const (
	Unprofitable   Profitability = 0
	Profitable     Profitability = 1
	OutcomeUnknown Profitability = 2
)

func (p Profitability) String() string {
	switch p {
	case Unprofitable:
		return "unprofitable"
	case Profitable:
		return "profitable"
	default:
		return "unknown"
	}
}

type Decision struct {
	BlockNumber     uint64          `json:"block_number"`
	ShouldTrade     bool            `json:"should_trade"`
	SellToken       *common.Address `json:"sell_token"`
	BuyToken        *common.Address `json:"buy_token"`
	MetricsSnapshot []PairMetrics   `json:"metrics_snapshot"`
	Profitable      Profitability   `json:"profitable"`
	Valid           bool            `json:"valid"`
}

// TradedPair returns the canonical pair of the decision's trade intent.
func (d Decision) TradedPair() (Pair, bool) {
	if d.SellToken == nil || d.BuyToken == nil {
		return Pair{}, false
	}
	return NewPair(*d.SellToken, *d.BuyToken), true
}

// Token is a monitored ERC-20 token. Tokens are evaluated in declaration
// order when picking a sell candidate.
type Token struct {
	Symbol     string         `json:"symbol"`
	Address    common.Address `json:"address"`
	MinBalance *big.Int       `json:"min_balance"`
	Stable     bool           `json:"stable"`
}

// BotState is owned by the block loop and threaded through each cycle.
type BotState struct {
	NextDecisionBlock     uint64          `json:"next_decision_block"`
	CanTrade              bool            `json:"can_trade"`
	SellToken             *common.Address `json:"sell_token"`
	LastExtensionBlock    uint64          `json:"last_extension_block"`
	ResolvedDecisionBlock uint64          `json:"resolved_decision_block"`
	LastBlock             uint64          `json:"last_block"`
}
