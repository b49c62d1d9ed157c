package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kjannette/cowtrader/internal/ingest"
	"github.com/kjannette/cowtrader/internal/models"
)

var (
	backfillFrom uint64
	backfillTo   uint64
	backfillStep uint64
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest historical settlement trades into the trade ledger",
	Long: `Fill the trade ledger for [--from, --to] without running the bot.

An empty ledger is filled forward over the whole range. Otherwise the ledger is
extended backwards to --from in --step sized scans and forwards to --to, so
rows already present are never duplicated.

Examples:
  cowtrader backfill --from 38000000
  cowtrader backfill --from 38000000 --to 38200000 --step 5000`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "First block to cover (required)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "Last block to cover (default: chain head)")
	backfillCmd.Flags().Uint64Var(&backfillStep, "step", 0, "Blocks per backward scan (default: LOG_RANGE_LIMIT)")
	_ = backfillCmd.MarkFlagRequired("from")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	to := backfillTo
	if to == 0 {
		if to, err = a.eth.BlockNumber(ctx); err != nil {
			return fmt.Errorf("read head block: %w", err)
		}
	}
	if backfillFrom == 0 || backfillFrom > to {
		return fmt.Errorf("--from must be in [1, %d]", to)
	}
	step := backfillStep
	if step == 0 {
		step = uint64(cfg.LogRangeLimit)
	}
	if step == 0 {
		return fmt.Errorf("--step must be positive")
	}

	n, err := backfill(ctx, a.ingestor, backfillFrom, to, step)
	log.Info().Str("component", "ingest").Uint64("from", backfillFrom).Uint64("to", to).
		Int("trades", n).Msg("backfill finished")
	return err
}

// backfill covers [from, to] around whatever the ledger already holds.
func backfill(ctx context.Context, ing *ingest.Ingestor, from, to, step uint64) (int, error) {
	earliest, err := ing.EarliestCovered(ctx)
	if err != nil {
		return 0, err
	}
	if earliest == 0 {
		recs, err := ing.Ingest(ctx, from-1, to)
		return len(recs), err
	}

	total := 0
	for earliest > from {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		s := step
		if earliest-from < s {
			s = earliest - from
		}
		var recs []models.TradeRecord
		earliest, recs, err = ing.ExtendBackward(ctx, s)
		if err != nil {
			return total, err
		}
		total += len(recs)
	}

	last, err := ing.LastProcessed(ctx)
	if err != nil {
		return total, err
	}
	recs, err := ing.Ingest(ctx, last, to)
	return total + len(recs), err
}
