package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/models"
)

// LogFilterer is the subset of the node client needed to read logs.
type LogFilterer interface {
	FilterLogs(ctx context.Context, q geth.FilterQuery) ([]types.Log, error)
}

// Settlement reads Trade events from the GPv2Settlement contract.
type Settlement struct {
	logs     LogFilterer
	address  common.Address
	abi      abi.ABI
	topic    common.Hash
	maxRange uint64
}

// NewSettlement builds a reader. maxRange caps the block span of a single
// eth_getLogs call; the span is halved further whenever the node rejects a
// query.
func NewSettlement(logs LogFilterer, address common.Address, maxRange uint64) (*Settlement, error) {
	parsed, err := abi.JSON(settlementABI())
	if err != nil {
		return nil, fmt.Errorf("parse settlement ABI: %w", err)
	}
	if maxRange == 0 {
		maxRange = 2000
	}
	return &Settlement{
		logs:     logs,
		address:  address,
		abi:      parsed,
		topic:    parsed.Events["Trade"].ID,
		maxRange: maxRange,
	}, nil
}

func (s *Settlement) TradeTopic() common.Hash { return s.topic }

// SettlementTrades returns decoded Trade events in [fromBlock, toBlock],
// ordered by block and log index.
func (s *Settlement) SettlementTrades(ctx context.Context, fromBlock, toBlock uint64) ([]models.SettlementTrade, error) {
	if fromBlock > toBlock {
		return nil, nil
	}

	chunk := toBlock - fromBlock + 1
	if chunk > s.maxRange {
		chunk = s.maxRange
	}

	var out []models.SettlementTrade
	for start := fromBlock; start <= toBlock; {
		end := start + chunk - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := s.logs.FilterLogs(ctx, geth.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{s.address},
			Topics:    [][]common.Hash{{s.topic}},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if chunk > 1 {
				chunk /= 2
				log.Warn().Str("component", "settlement").Err(err).
					Uint64("chunk", chunk).Msg("eth_getLogs failed, shrinking range")
				continue
			}
			return nil, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}

		for _, vLog := range logs {
			if vLog.Removed {
				continue
			}
			t, err := s.DecodeTrade(vLog)
			if err != nil {
				log.Warn().Str("component", "settlement").Err(err).
					Uint64("block", vLog.BlockNumber).Uint("index", vLog.Index).Msg("skipping undecodable Trade log")
				continue
			}
			out = append(out, t)
		}

		if end == toBlock {
			break
		}
		start = end + 1
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// DecodeTrade decodes one Trade log. The owner comes from the indexed topic.
func (s *Settlement) DecodeTrade(vLog types.Log) (models.SettlementTrade, error) {
	if len(vLog.Topics) < 2 || vLog.Topics[0] != s.topic {
		return models.SettlementTrade{}, fmt.Errorf("not a Trade log")
	}

	var ev struct {
		SellToken  common.Address
		BuyToken   common.Address
		SellAmount *big.Int
		BuyAmount  *big.Int
		FeeAmount  *big.Int
		OrderUid   []byte
	}
	if err := s.abi.UnpackIntoInterface(&ev, "Trade", vLog.Data); err != nil {
		return models.SettlementTrade{}, fmt.Errorf("unpack Trade: %w", err)
	}

	return models.SettlementTrade{
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		TxHash:      vLog.TxHash,
		Owner:       common.BytesToAddress(vLog.Topics[1].Bytes()),
		SellToken:   ev.SellToken,
		BuyToken:    ev.BuyToken,
		SellAmount:  ev.SellAmount,
		BuyAmount:   ev.BuyAmount,
		FeeAmount:   ev.FeeAmount,
		OrderUID:    ev.OrderUid,
	}, nil
}
