package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kjannette/cowtrader/internal/models"
)

var orderHeader = []string{
	"orderUid", "signed", "sellToken", "buyToken",
	"receiver", "sellAmount", "buyAmount", "validTo",
}

type CSVOrderRepo struct {
	table *csvTable
}

func NewCSVOrderRepo(path string) *CSVOrderRepo {
	return &CSVOrderRepo{table: newCSVTable(path, orderHeader)}
}

func (r *CSVOrderRepo) Append(ctx context.Context, o models.OrderRecord) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()
	return r.table.appendRows([][]string{encodeOrder(o)})
}

func (r *CSVOrderRepo) LoadAll(ctx context.Context) ([]models.OrderRecord, error) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	rows, err := r.table.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.OrderRecord, 0, len(rows))
	for i, row := range rows {
		o, err := decodeOrder(row)
		if err != nil {
			return nil, fmt.Errorf("orders row %d: %w", i+1, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *CSVOrderRepo) MarkSigned(ctx context.Context, orderUID string) error {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	rows, err := r.table.readAll()
	if err != nil {
		return err
	}
	found := false
	for _, row := range rows {
		if len(row) > 1 && row[0] == orderUID {
			row[1] = "true"
			found = true
		}
	}
	if !found {
		return fmt.Errorf("order %s: %w", orderUID, models.ErrNotFound)
	}
	return r.table.writeAll(rows)
}

func encodeOrder(o models.OrderRecord) []string {
	return []string{
		o.OrderUID,
		strconv.FormatBool(o.Signed),
		o.SellToken.Hex(),
		o.BuyToken.Hex(),
		o.Receiver.Hex(),
		o.SellAmount,
		o.BuyAmount,
		strconv.FormatUint(uint64(o.ValidTo), 10),
	}
}

func decodeOrder(row []string) (models.OrderRecord, error) {
	if len(row) != len(orderHeader) {
		return models.OrderRecord{}, fmt.Errorf("expected %d columns, got %d", len(orderHeader), len(row))
	}
	signed, err := strconv.ParseBool(row[1])
	if err != nil {
		return models.OrderRecord{}, &models.DataError{Field: "signed", Value: row[1], Err: err}
	}
	sell, err := parseAddress("sellToken", row[2])
	if err != nil {
		return models.OrderRecord{}, err
	}
	buy, err := parseAddress("buyToken", row[3])
	if err != nil {
		return models.OrderRecord{}, err
	}
	receiver, err := parseAddress("receiver", row[4])
	if err != nil {
		return models.OrderRecord{}, err
	}
	validTo, err := strconv.ParseUint(row[7], 10, 32)
	if err != nil {
		return models.OrderRecord{}, &models.DataError{Field: "validTo", Value: row[7], Err: err}
	}
	return models.OrderRecord{
		OrderUID:   row[0],
		Signed:     signed,
		SellToken:  sell,
		BuyToken:   buy,
		Receiver:   receiver,
		SellAmount: row[5],
		BuyAmount:  row[6],
		ValidTo:    uint32(validTo),
	}, nil
}
