// Package scheduler runs periodic housekeeping beside the block loop.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/repository"
)

// Uploader stores one object. blob.S3Writer satisfies it.
type Uploader interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

type ArchiveConfig struct {
	Interval time.Duration // e.g. 1*time.Hour
	// Prefix is prepended to every object key, e.g. "cowtrader/gnosis".
	Prefix string
	// Now is overridable in tests.
	Now func() time.Time
}

// ArchiveResult lists the objects written by one snapshot.
type ArchiveResult struct {
	Keys []string
	Rows map[string]int
}

// ArchiveScheduler snapshots the trade, decision and order ledgers as JSONL
// and uploads them. Snapshots are full copies; nothing is removed from the
// live ledgers.
type ArchiveScheduler struct {
	store    *repository.Store
	uploader Uploader
	cfg      ArchiveConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewArchiveScheduler(store *repository.Store, uploader Uploader, cfg ArchiveConfig) *ArchiveScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ArchiveScheduler{store: store, uploader: uploader, cfg: cfg}
}

func (s *ArchiveScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Info().Str("component", "scheduler").Msg("archive scheduler already running")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if _, err := s.ArchiveNow(ctx); err != nil {
					log.Error().Str("component", "scheduler").Err(err).Msg("ledger archive failed")
				}
				cancel()
			}
		}
	}()

	log.Info().Str("component", "scheduler").Dur("interval", s.cfg.Interval).Msg("archive scheduler started")
}

func (s *ArchiveScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	log.Info().Str("component", "scheduler").Msg("archive scheduler stopped")
}

func (s *ArchiveScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ArchiveNow uploads one snapshot of every ledger under
// <prefix>/<UTC timestamp>/<ledger>.jsonl.
func (s *ArchiveScheduler) ArchiveNow(ctx context.Context) (ArchiveResult, error) {
	stamp := s.cfg.Now().UTC().Format("20060102T150405Z")
	res := ArchiveResult{Rows: map[string]int{}}

	trades, err := s.store.Trades.LoadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("load trades: %w", err)
	}
	decisions, err := s.store.Decisions.LoadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("load decisions: %w", err)
	}
	orders, err := s.store.Orders.LoadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("load orders: %w", err)
	}

	ledgers := []struct {
		name string
		rows []any
	}{
		{"trades", toAny(trades)},
		{"decisions", toAny(decisions)},
		{"orders", toAny(orders)},
	}
	for _, l := range ledgers {
		body, err := encodeJSONL(l.rows)
		if err != nil {
			return res, fmt.Errorf("encode %s: %w", l.name, err)
		}
		key := s.key(stamp, l.name)
		if err := s.uploader.Put(ctx, key, bytes.NewReader(body), "application/x-ndjson"); err != nil {
			return res, fmt.Errorf("upload %s: %w", l.name, err)
		}
		res.Keys = append(res.Keys, key)
		res.Rows[l.name] = len(l.rows)
	}

	log.Info().Str("component", "scheduler").Str("snapshot", stamp).
		Int("trades", res.Rows["trades"]).Int("decisions", res.Rows["decisions"]).
		Int("orders", res.Rows["orders"]).Msg("ledgers archived")
	return res, nil
}

func (s *ArchiveScheduler) key(stamp, name string) string {
	if s.cfg.Prefix == "" {
		return stamp + "/" + name + ".jsonl"
	}
	return s.cfg.Prefix + "/" + stamp + "/" + name + ".jsonl"
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}

func encodeJSONL(rows []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
