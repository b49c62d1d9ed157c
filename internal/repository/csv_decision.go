package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
)

var decisionHeader = []string{
	"block_number", "should_trade", "sell_token", "buy_token",
	"metrics_snapshot", "profitable", "valid",
}

type CSVDecisionRepo struct {
	table *csvTable
}

func NewCSVDecisionRepo(path string) *CSVDecisionRepo {
	return &CSVDecisionRepo{table: newCSVTable(path, decisionHeader)}
}

func (r *CSVDecisionRepo) Append(ctx context.Context, d models.Decision) error {
	row, err := encodeDecision(d)
	if err != nil {
		return err
	}
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	return r.table.appendRows([][]string{row})
}

func (r *CSVDecisionRepo) LoadAll(ctx context.Context) ([]models.Decision, error) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	return r.loadLocked()
}

func (r *CSVDecisionRepo) Tail(ctx context.Context, n int) ([]models.Decision, error) {
	all, err := r.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	return tail(all, n), nil
}

func (r *CSVDecisionRepo) PatchLast(ctx context.Context, profitable models.Profitability) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	rows, err := r.table.readAll()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return models.ErrEmptyLedger
	}
	last := rows[len(rows)-1]
	if len(last) != len(decisionHeader) {
		return fmt.Errorf("decisions last row: expected %d columns, got %d", len(decisionHeader), len(last))
	}
	last[5] = strconv.Itoa(int(profitable))
	return r.table.writeAll(rows)
}

func (r *CSVDecisionRepo) loadLocked() ([]models.Decision, error) {
	rows, err := r.table.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.Decision, 0, len(rows))
	for i, row := range rows {
		d, err := decodeDecision(row)
		if err != nil {
			return nil, fmt.Errorf("decisions row %d: %w", i+1, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func encodeDecision(d models.Decision) ([]string, error) {
	snapshot := d.MetricsSnapshot
	if snapshot == nil {
		snapshot = []models.PairMetrics{}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	return []string{
		strconv.FormatUint(d.BlockNumber, 10),
		strconv.FormatBool(d.ShouldTrade),
		optionalHex(d.SellToken),
		optionalHex(d.BuyToken),
		string(raw),
		strconv.Itoa(int(d.Profitable)),
		strconv.FormatBool(d.Valid),
	}, nil
}

func decodeDecision(row []string) (models.Decision, error) {
	if len(row) != len(decisionHeader) {
		return models.Decision{}, fmt.Errorf("expected %d columns, got %d", len(decisionHeader), len(row))
	}
	block, err := parseBlock(row[0])
	if err != nil {
		return models.Decision{}, err
	}
	shouldTrade, err := strconv.ParseBool(row[1])
	if err != nil {
		return models.Decision{}, &models.DataError{Field: "should_trade", Value: row[1], Err: err}
	}
	sell, err := parseOptionalAddress("sell_token", row[2])
	if err != nil {
		return models.Decision{}, err
	}
	buy, err := parseOptionalAddress("buy_token", row[3])
	if err != nil {
		return models.Decision{}, err
	}
	var snapshot []models.PairMetrics
	if row[4] != "" {
		if err := json.Unmarshal([]byte(row[4]), &snapshot); err != nil {
			return models.Decision{}, &models.DataError{Field: "metrics_snapshot", Value: row[4], Err: err}
		}
	}
	profitable, err := strconv.Atoi(row[5])
	if err != nil {
		return models.Decision{}, &models.DataError{Field: "profitable", Value: row[5], Err: err}
	}
	valid, err := strconv.ParseBool(row[6])
	if err != nil {
		return models.Decision{}, &models.DataError{Field: "valid", Value: row[6], Err: err}
	}
	return models.Decision{
		BlockNumber:     block,
		ShouldTrade:     shouldTrade,
		SellToken:       sell,
		BuyToken:        buy,
		MetricsSnapshot: snapshot,
		Profitable:      models.Profitability(profitable),
		Valid:           valid,
	}, nil
}

func optionalHex(a *common.Address) string {
	if a == nil {
		return ""
	}
	return a.Hex()
}
