package repository

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPGStore wires the Postgres-backed ledgers onto one pool.
func NewPGStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Trades:    NewPGTradeRepo(pool),
		Decisions: NewPGDecisionRepo(pool),
		Orders:    NewPGOrderRepo(pool),
		Cursor:    NewPGBlockCursor(pool),
		Reasoning: NewPGReasoningLog(pool),
	}
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func optionalAddress(s *string) *common.Address {
	if s == nil || *s == "" {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

func optionalHexPtr(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}
