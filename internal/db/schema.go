package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_ledger (
	id           BIGSERIAL PRIMARY KEY,
	block_number BIGINT NOT NULL,
	owner        TEXT NOT NULL,
	sell_token   TEXT NOT NULL,
	buy_token    TEXT NOT NULL,
	sell_amount  TEXT NOT NULL,
	buy_amount   TEXT NOT NULL,
	token_a      TEXT NOT NULL,
	token_b      TEXT NOT NULL,
	price        DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS trade_ledger_block_idx ON trade_ledger (block_number, id);

CREATE TABLE IF NOT EXISTS decision_ledger (
	id               BIGSERIAL PRIMARY KEY,
	block_number     BIGINT NOT NULL,
	should_trade     BOOLEAN NOT NULL,
	sell_token       TEXT,
	buy_token        TEXT,
	metrics_snapshot JSONB NOT NULL DEFAULT '[]',
	profitable       SMALLINT NOT NULL DEFAULT 2,
	valid            BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS order_ledger (
	order_uid   TEXT PRIMARY KEY,
	signed      BOOLEAN NOT NULL DEFAULT FALSE,
	sell_token  TEXT NOT NULL,
	buy_token   TEXT NOT NULL,
	receiver    TEXT NOT NULL,
	sell_amount TEXT NOT NULL,
	buy_amount  TEXT NOT NULL,
	valid_to    BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS block_cursor (
	id                   SMALLINT PRIMARY KEY CHECK (id = 1),
	last_processed_block BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reasoning_log (
	id           BIGSERIAL PRIMARY KEY,
	block_number BIGINT NOT NULL,
	reasoning    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the ledger tables when they do not exist.
func Migrate(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("component", "db").Msg("schema up to date")
	return nil
}
