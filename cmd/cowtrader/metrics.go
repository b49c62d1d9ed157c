package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/risk"
	"github.com/kjannette/cowtrader/internal/strategy"
)

var (
	metricsFormula  string
	metricsLookback uint64
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print pair metrics computed from the trade ledger",
	Long: `Compute the per-pair metrics the agent is shown and print them as JSON.

Examples:
  cowtrader metrics
  cowtrader metrics --formula imbalance --lookback 5000`,
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().StringVar(&metricsFormula, "formula", "", "streak or imbalance (default: METRICS_FORMULA)")
	metricsCmd.Flags().Uint64Var(&metricsLookback, "lookback", 0, "Lookback window in blocks (default: LOOKBACK_BLOCKS)")
}

type pairMetricsOutput struct {
	Pair string `json:"pair"`
	models.PairMetrics
}

func runMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	name := cfg.MetricsFormula
	if metricsFormula != "" {
		name = metricsFormula
	}
	formula, err := strategy.ParseFormula(name)
	if err != nil {
		return err
	}
	lookback := uint64(cfg.LookbackBlocks)
	if metricsLookback > 0 {
		lookback = metricsLookback
	}

	ctx := context.Background()
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	trades, err := store.Trades.LoadAll(ctx)
	if err != nil {
		return err
	}
	guardian := risk.NewGuardian(cfg.Tokens, cfg.RequireSellBalance)
	metrics := strategy.ComputeMetrics(trades, lookback, formula)

	out := make([]pairMetricsOutput, len(metrics))
	for i, m := range metrics {
		p := m.Pair()
		out[i] = pairMetricsOutput{
			Pair:        guardian.Symbol(p.TokenA) + "/" + guardian.Symbol(p.TokenB),
			PairMetrics: m,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
