package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kjannette/cowtrader/internal/models"
)

// JSONLReasoningLog appends one JSON object per line.
type JSONLReasoningLog struct {
	mu   sync.Mutex
	path string
}

func NewJSONLReasoningLog(path string) *JSONLReasoningLog {
	return &JSONLReasoningLog{path: path}
}

func (l *JSONLReasoningLog) Append(ctx context.Context, r models.Reasoning) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(l.path), err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	return nil
}

// NewCSVStore wires the file-backed ledgers.
func NewCSVStore(tradesPath, decisionsPath, ordersPath, blockPath, reasoningPath string) *Store {
	return &Store{
		Trades:    NewCSVTradeRepo(tradesPath),
		Decisions: NewCSVDecisionRepo(decisionsPath),
		Orders:    NewCSVOrderRepo(ordersPath),
		Cursor:    NewCSVBlockCursor(blockPath),
		Reasoning: NewJSONLReasoningLog(reasoningPath),
	}
}
