package repository

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/cowtrader/internal/models"
)

type PGOrderRepo struct {
	pool *pgxpool.Pool
}

func NewPGOrderRepo(pool *pgxpool.Pool) *PGOrderRepo {
	return &PGOrderRepo{pool: pool}
}

func (r *PGOrderRepo) Append(ctx context.Context, o models.OrderRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_ledger
		 (order_uid, signed, sell_token, buy_token, receiver, sell_amount, buy_amount, valid_to)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.OrderUID, o.Signed, o.SellToken.Hex(), o.BuyToken.Hex(), o.Receiver.Hex(),
		o.SellAmount, o.BuyAmount, int64(o.ValidTo),
	)
	return err
}

func (r *PGOrderRepo) LoadAll(ctx context.Context) ([]models.OrderRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_uid, signed, sell_token, buy_token, receiver, sell_amount, buy_amount, valid_to
		 FROM order_ledger ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OrderRecord
	for rows.Next() {
		var (
			o                   models.OrderRecord
			sell, buy, receiver string
			validTo             int64
		)
		if err := rows.Scan(&o.OrderUID, &o.Signed, &sell, &buy, &receiver, &o.SellAmount, &o.BuyAmount, &validTo); err != nil {
			return nil, err
		}
		o.SellToken = common.HexToAddress(sell)
		o.BuyToken = common.HexToAddress(buy)
		o.Receiver = common.HexToAddress(receiver)
		o.ValidTo = uint32(validTo)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGOrderRepo) MarkSigned(ctx context.Context, orderUID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE order_ledger SET signed = TRUE WHERE order_uid = $1`, orderUID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderUID, models.ErrNotFound)
	}
	return nil
}

type PGBlockCursor struct {
	pool *pgxpool.Pool
}

func NewPGBlockCursor(pool *pgxpool.Pool) *PGBlockCursor {
	return &PGBlockCursor{pool: pool}
}

func (c *PGBlockCursor) Load(ctx context.Context) (uint64, bool, error) {
	rows, err := c.pool.Query(ctx, `SELECT last_processed_block FROM block_cursor WHERE id = 1`)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, false, err
	}
	return uint64(n), true, nil
}

func (c *PGBlockCursor) Save(ctx context.Context, block uint64) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO block_cursor (id, last_processed_block) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block`,
		int64(block),
	)
	return err
}

type PGReasoningLog struct {
	pool *pgxpool.Pool
}

func NewPGReasoningLog(pool *pgxpool.Pool) *PGReasoningLog {
	return &PGReasoningLog{pool: pool}
}

func (l *PGReasoningLog) Append(ctx context.Context, r models.Reasoning) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO reasoning_log (block_number, reasoning) VALUES ($1, $2)`,
		int64(r.BlockNumber), r.Reasoning,
	)
	return err
}
