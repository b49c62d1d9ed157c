package models

import "github.com/ethereum/go-ethereum/common"

type OrderRecord struct {
	OrderUID   string         `json:"orderUid"`
	Signed     bool           `json:"signed"`
	SellToken  common.Address `json:"sellToken"`
	BuyToken   common.Address `json:"buyToken"`
	Receiver   common.Address `json:"receiver"`
	SellAmount string         `json:"sellAmount"`
	BuyAmount  string         `json:"buyAmount"`
	ValidTo    uint32         `json:"validTo"`
}

// Reasoning is one line of the agent reasoning log.
type Reasoning struct {
	BlockNumber uint64 `json:"block_number"`
	Reasoning   string `json:"reasoning"`
}
