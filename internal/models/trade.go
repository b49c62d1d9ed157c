package models

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an unordered token pair in canonical form: TokenA sorts before
// TokenB by lowercase hex address.
type Pair struct {
	TokenA common.Address `json:"token_a"`
	TokenB common.Address `json:"token_b"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.TokenA.Hex(), p.TokenB.Hex())
}

// NewPair orders a and b canonically.
func NewPair(a, b common.Address) Pair {
	if strings.ToLower(b.Hex()) < strings.ToLower(a.Hex()) {
		return Pair{TokenA: b, TokenB: a}
	}
	return Pair{TokenA: a, TokenB: b}
}

// SettlementTrade is a decoded GPv2Settlement Trade event.
type SettlementTrade struct {
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Owner       common.Address
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	BuyAmount   *big.Int
	FeeAmount   *big.Int
	OrderUID    []byte
}

// TradeRecord is one row of the trade ledger. Price is nil when it could
// not be derived (zero amount on the relevant side).
type TradeRecord struct {
	BlockNumber uint64         `json:"block_number"`
	Owner       common.Address `json:"owner"`
	SellToken   common.Address `json:"sellToken"`
	BuyToken    common.Address `json:"buyToken"`
	SellAmount  string         `json:"sellAmount"`
	BuyAmount   string         `json:"buyAmount"`
	TokenA      common.Address `json:"token_a"`
	TokenB      common.Address `json:"token_b"`
	Price       *float64       `json:"price"`
}

func (t TradeRecord) Pair() Pair {
	return Pair{TokenA: t.TokenA, TokenB: t.TokenB}
}

// SellsTokenA reports whether the trade sold the pair's base token.
func (t TradeRecord) SellsTokenA() bool {
	return t.SellToken == t.TokenA
}
