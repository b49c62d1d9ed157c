package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
)

var tradeHeader = []string{
	"block_number", "owner", "sellToken", "buyToken",
	"sellAmount", "buyAmount", "token_a", "token_b", "price",
}

type CSVTradeRepo struct {
	table *csvTable
}

func NewCSVTradeRepo(path string) *CSVTradeRepo {
	return &CSVTradeRepo{table: newCSVTable(path, tradeHeader)}
}

func (r *CSVTradeRepo) Append(ctx context.Context, records []models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, encodeTrade(rec))
	}
	return r.table.appendRows(rows)
}

func (r *CSVTradeRepo) Prepend(ctx context.Context, records []models.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	existing, err := r.loadLocked()
	if err != nil {
		return err
	}
	all := make([]models.TradeRecord, 0, len(records)+len(existing))
	all = append(all, records...)
	all = append(all, existing...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].BlockNumber < all[j].BlockNumber })

	rows := make([][]string, 0, len(all))
	for _, rec := range all {
		rows = append(rows, encodeTrade(rec))
	}
	return r.table.writeAll(rows)
}

func (r *CSVTradeRepo) LoadAll(ctx context.Context) ([]models.TradeRecord, error) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	return r.loadLocked()
}

func (r *CSVTradeRepo) loadLocked() ([]models.TradeRecord, error) {
	rows, err := r.table.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.TradeRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := decodeTrade(row)
		if err != nil {
			return nil, fmt.Errorf("trades row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeTrade(t models.TradeRecord) []string {
	price := ""
	if t.Price != nil {
		price = strconv.FormatFloat(*t.Price, 'g', -1, 64)
	}
	return []string{
		strconv.FormatUint(t.BlockNumber, 10),
		t.Owner.Hex(),
		t.SellToken.Hex(),
		t.BuyToken.Hex(),
		t.SellAmount,
		t.BuyAmount,
		t.TokenA.Hex(),
		t.TokenB.Hex(),
		price,
	}
}

func decodeTrade(row []string) (models.TradeRecord, error) {
	if len(row) != len(tradeHeader) {
		return models.TradeRecord{}, fmt.Errorf("expected %d columns, got %d", len(tradeHeader), len(row))
	}
	block, err := parseBlock(row[0])
	if err != nil {
		return models.TradeRecord{}, err
	}
	addrs := make([]common.Address, 0, 5)
	for _, idx := range []int{1, 2, 3, 6, 7} {
		a, err := parseAddress(tradeHeader[idx], row[idx])
		if err != nil {
			return models.TradeRecord{}, err
		}
		addrs = append(addrs, a)
	}
	rec := models.TradeRecord{
		BlockNumber: block,
		Owner:       addrs[0],
		SellToken:   addrs[1],
		BuyToken:    addrs[2],
		SellAmount:  row[4],
		BuyAmount:   row[5],
		TokenA:      addrs[3],
		TokenB:      addrs[4],
	}
	if row[8] != "" {
		p, err := strconv.ParseFloat(row[8], 64)
		if err != nil {
			return models.TradeRecord{}, &models.DataError{Field: "price", Value: row[8], Err: err}
		}
		rec.Price = &p
	}
	return rec, nil
}

func parseBlock(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &models.DataError{Field: "block_number", Value: s, Err: err}
	}
	return n, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, &models.DataError{Field: field, Value: s, Err: fmt.Errorf("not a hex address")}
	}
	return common.HexToAddress(s), nil
}

// parseOptionalAddress reads an address column where empty or "none" means
// no token.
func parseOptionalAddress(field, s string) (*common.Address, error) {
	if s == "" || s == "none" {
		return nil, nil
	}
	a, err := parseAddress(field, s)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
