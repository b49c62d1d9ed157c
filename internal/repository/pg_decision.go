package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/cowtrader/internal/models"
)

type PGDecisionRepo struct {
	pool *pgxpool.Pool
}

func NewPGDecisionRepo(pool *pgxpool.Pool) *PGDecisionRepo {
	return &PGDecisionRepo{pool: pool}
}

const decisionColumns = `block_number, should_trade, sell_token, buy_token, metrics_snapshot, profitable, valid`

func (r *PGDecisionRepo) Append(ctx context.Context, d models.Decision) error {
	snapshot := d.MetricsSnapshot
	if snapshot == nil {
		snapshot = []models.PairMetrics{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO decision_ledger (`+decisionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		int64(d.BlockNumber), d.ShouldTrade, optionalHexPtr(d.SellToken), optionalHexPtr(d.BuyToken),
		raw, int16(d.Profitable), d.Valid,
	)
	return err
}

func (r *PGDecisionRepo) LoadAll(ctx context.Context) ([]models.Decision, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decision_ledger ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (r *PGDecisionRepo) Tail(ctx context.Context, n int) ([]models.Decision, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM (
			SELECT id, `+decisionColumns+` FROM decision_ledger ORDER BY id DESC LIMIT $1
		 ) recent ORDER BY id ASC`,
		n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (r *PGDecisionRepo) PatchLast(ctx context.Context, profitable models.Profitability) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE decision_ledger SET profitable = $1
		 WHERE id = (SELECT MAX(id) FROM decision_ledger)`,
		int16(profitable),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrEmptyLedger
	}
	return nil
}

func collectDecisions(rows rowsIter) ([]models.Decision, error) {
	var out []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDecision(row scannable) (*models.Decision, error) {
	var (
		d          models.Decision
		block      int64
		sell, buy  *string
		raw        []byte
		profitable int16
	)
	if err := row.Scan(&block, &d.ShouldTrade, &sell, &buy, &raw, &profitable, &d.Valid); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d.MetricsSnapshot); err != nil {
			return nil, &models.DataError{Field: "metrics_snapshot", Value: string(raw), Err: err}
		}
	}
	d.BlockNumber = uint64(block)
	d.SellToken = optionalAddress(sell)
	d.BuyToken = optionalAddress(buy)
	d.Profitable = models.Profitability(profitable)
	return &d, nil
}
