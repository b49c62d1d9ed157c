package repository

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/cowtrader/internal/models"
)

type PGTradeRepo struct {
	pool *pgxpool.Pool
}

func NewPGTradeRepo(pool *pgxpool.Pool) *PGTradeRepo {
	return &PGTradeRepo{pool: pool}
}

func (r *PGTradeRepo) Append(ctx context.Context, records []models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range records {
			batch.Queue(
				`INSERT INTO trade_ledger
				 (block_number, owner, sell_token, buy_token, sell_amount, buy_amount, token_a, token_b, price)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				int64(t.BlockNumber), t.Owner.Hex(), t.SellToken.Hex(), t.BuyToken.Hex(),
				t.SellAmount, t.BuyAmount, t.TokenA.Hex(), t.TokenB.Hex(), t.Price,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert trade: %w", err)
			}
		}
		return br.Close()
	})
}

// Prepend inserts older rows. Reads order by block, so placement is implicit.
func (r *PGTradeRepo) Prepend(ctx context.Context, records []models.TradeRecord) error {
	return r.Append(ctx, records)
}

func (r *PGTradeRepo) LoadAll(ctx context.Context) ([]models.TradeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT block_number, owner, sell_token, buy_token, sell_amount, buy_amount, token_a, token_b, price
		 FROM trade_ledger ORDER BY block_number ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTradeRecords(rows)
}

func collectTradeRecords(rows rowsIter) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTradeRecord(row scannable) (*models.TradeRecord, error) {
	var (
		t                                models.TradeRecord
		block                            int64
		owner, sell, buy, tokenA, tokenB string
	)
	err := row.Scan(&block, &owner, &sell, &buy, &t.SellAmount, &t.BuyAmount, &tokenA, &tokenB, &t.Price)
	if err != nil {
		return nil, err
	}
	t.BlockNumber = uint64(block)
	t.Owner = common.HexToAddress(owner)
	t.SellToken = common.HexToAddress(sell)
	t.BuyToken = common.HexToAddress(buy)
	t.TokenA = common.HexToAddress(tokenA)
	t.TokenB = common.HexToAddress(tokenB)
	return &t, nil
}
