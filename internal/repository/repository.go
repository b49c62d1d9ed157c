package repository

import (
	"context"

	"github.com/kjannette/cowtrader/internal/models"
)

// TradeLedger is the append-only, block-ascending store of settlement
// trades for monitored pairs.
type TradeLedger interface {
	Append(ctx context.Context, records []models.TradeRecord) error
	// Prepend inserts older records and keeps the ledger block-ascending.
	Prepend(ctx context.Context, records []models.TradeRecord) error
	LoadAll(ctx context.Context) ([]models.TradeRecord, error)
}

// DecisionLedger stores one row per completed decision cycle. Only the
// profitable field of the last row is ever rewritten.
type DecisionLedger interface {
	Append(ctx context.Context, d models.Decision) error
	LoadAll(ctx context.Context) ([]models.Decision, error)
	Tail(ctx context.Context, n int) ([]models.Decision, error)
	PatchLast(ctx context.Context, profitable models.Profitability) error
}

type OrderLedger interface {
	Append(ctx context.Context, o models.OrderRecord) error
	LoadAll(ctx context.Context) ([]models.OrderRecord, error)
	MarkSigned(ctx context.Context, orderUID string) error
}

// BlockCursor persists the last block the bot has seen.
type BlockCursor interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

type ReasoningLog interface {
	Append(ctx context.Context, r models.Reasoning) error
}

// Store bundles the ledgers of one backend.
type Store struct {
	Trades    TradeLedger
	Decisions DecisionLedger
	Orders    OrderLedger
	Cursor    BlockCursor
	Reasoning ReasoningLog
}

func tail[T any](rows []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}
