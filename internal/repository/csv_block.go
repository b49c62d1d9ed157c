package repository

import (
	"context"
	"strconv"
)

var blockHeader = []string{"last_processed_block"}

// CSVBlockCursor keeps the last seen block in a single-row file.
type CSVBlockCursor struct {
	table *csvTable
}

func NewCSVBlockCursor(path string) *CSVBlockCursor {
	return &CSVBlockCursor{table: newCSVTable(path, blockHeader)}
}

func (c *CSVBlockCursor) Load(ctx context.Context) (uint64, bool, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	rows, err := c.table.readAll()
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, false, nil
	}
	n, err := parseBlock(rows[0][0])
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *CSVBlockCursor) Save(ctx context.Context, block uint64) error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	return c.table.writeAll([][]string{{strconv.FormatUint(block, 10)}})
}
