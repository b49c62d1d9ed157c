package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/repository"
)

// TradeSource returns decoded settlement trades for an inclusive block range.
type TradeSource interface {
	SettlementTrades(ctx context.Context, fromBlock, toBlock uint64) ([]models.SettlementTrade, error)
}

// Ingestor moves settlement trades for monitored pairs into the trade ledger.
// It remembers the range it has scanned so that empty stretches of chain are
// not rescanned.
type Ingestor struct {
	source     TradeSource
	ledger     repository.TradeLedger
	monitored  map[common.Address]bool
	startBlock uint64

	scanned        bool
	scannedFrom    uint64
	scannedThrough uint64
}

func NewIngestor(source TradeSource, ledger repository.TradeLedger, tokens []common.Address, startBlock uint64) *Ingestor {
	monitored := make(map[common.Address]bool, len(tokens))
	for _, t := range tokens {
		monitored[t] = true
	}
	return &Ingestor{
		source:     source,
		ledger:     ledger,
		monitored:  monitored,
		startBlock: startBlock,
	}
}

// Ingest fetches trades in (after, through], keeps those whose tokens are
// both monitored, and appends them to the ledger.
func (i *Ingestor) Ingest(ctx context.Context, after, through uint64) ([]models.TradeRecord, error) {
	if through <= after {
		return nil, nil
	}
	records, err := i.fetch(ctx, after+1, through)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		if err := i.ledger.Append(ctx, records); err != nil {
			return nil, fmt.Errorf("append trades: %w", err)
		}
	}
	i.markScanned(after+1, through)

	log.Info().Str("component", "ingest").
		Uint64("from", after+1).Uint64("to", through).
		Int("trades", len(records)).Msg("ingested settlement trades")
	return records, nil
}

// CatchUp ingests from the last processed block up to
// min(current, nextDecision-buffer). Nothing happens when that target is not
// past the last processed block.
func (i *Ingestor) CatchUp(ctx context.Context, current, nextDecision, buffer uint64) ([]models.TradeRecord, error) {
	target := current
	if nextDecision < buffer {
		target = 0
	} else if nextDecision-buffer < target {
		target = nextDecision - buffer
	}

	last, err := i.LastProcessed(ctx)
	if err != nil {
		return nil, err
	}
	if target <= last {
		return nil, nil
	}
	return i.Ingest(ctx, last, target)
}

// ExtendBackward scans the step blocks preceding the earliest block already
// covered and prepends any trades found. It returns the new earliest block.
func (i *Ingestor) ExtendBackward(ctx context.Context, step uint64) (uint64, []models.TradeRecord, error) {
	earliest, err := i.EarliestCovered(ctx)
	if err != nil {
		return 0, nil, err
	}
	if earliest == 0 || step == 0 {
		return earliest, nil, nil
	}

	from := uint64(0)
	if earliest > step {
		from = earliest - step
	}
	records, err := i.fetch(ctx, from, earliest-1)
	if err != nil {
		return earliest, nil, err
	}
	if len(records) > 0 {
		if err := i.ledger.Prepend(ctx, records); err != nil {
			return earliest, nil, fmt.Errorf("prepend trades: %w", err)
		}
	}
	i.markScanned(from, earliest-1)

	log.Info().Str("component", "ingest").
		Uint64("from", from).Uint64("to", earliest-1).
		Int("trades", len(records)).Msg("extended trade history")
	return from, records, nil
}

// ResumeAt raises the start block so that a fresh ledger is never caught up
// from genesis.
func (i *Ingestor) ResumeAt(block uint64) {
	if block > i.startBlock {
		i.startBlock = block
	}
}

// LastProcessed is the highest block known to be ingested: the newest ledger
// row or the end of the scanned range, falling back to the start block.
func (i *Ingestor) LastProcessed(ctx context.Context) (uint64, error) {
	trades, err := i.ledger.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}
	last := i.startBlock
	if n := len(trades); n > 0 && trades[n-1].BlockNumber > last {
		last = trades[n-1].BlockNumber
	}
	if i.scanned && i.scannedThrough > last {
		last = i.scannedThrough
	}
	return last, nil
}

// EarliestCovered is the lowest block the ledger or the scanned range reaches.
func (i *Ingestor) EarliestCovered(ctx context.Context) (uint64, error) {
	trades, err := i.ledger.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}
	earliest := i.startBlock
	if i.scanned {
		earliest = i.scannedFrom
	}
	if len(trades) > 0 && (!i.scanned || trades[0].BlockNumber < earliest) {
		earliest = trades[0].BlockNumber
	}
	return earliest, nil
}

func (i *Ingestor) fetch(ctx context.Context, from, to uint64) ([]models.TradeRecord, error) {
	logs, err := i.source.SettlementTrades(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch trades %d-%d: %w", from, to, err)
	}
	sort.SliceStable(logs, func(a, b int) bool {
		if logs[a].BlockNumber != logs[b].BlockNumber {
			return logs[a].BlockNumber < logs[b].BlockNumber
		}
		return logs[a].LogIndex < logs[b].LogIndex
	})

	var records []models.TradeRecord
	for _, l := range logs {
		if !i.monitored[l.SellToken] || !i.monitored[l.BuyToken] {
			continue
		}
		rec, err := ToRecord(l)
		if err != nil {
			log.Warn().Str("component", "ingest").Err(err).
				Uint64("block", l.BlockNumber).Str("tx", l.TxHash.Hex()).
				Msg("trade stored without price")
		}
		records = append(records, rec)
	}
	return records, nil
}

func (i *Ingestor) markScanned(from, through uint64) {
	if !i.scanned {
		i.scanned = true
		i.scannedFrom, i.scannedThrough = from, through
		return
	}
	if from < i.scannedFrom {
		i.scannedFrom = from
	}
	if through > i.scannedThrough {
		i.scannedThrough = through
	}
}
