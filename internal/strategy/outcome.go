package strategy

import "github.com/kjannette/cowtrader/internal/models"

// Outcome judges a past trade decision against current metrics. Selling
// token_a pays off when the a-to-b price has risen since the decision; selling
// token_b pays off when it has fallen. The outcome is unknown when the traded
// pair is missing from either the decision's snapshot or the current metrics.
func Outcome(d models.Decision, current []models.PairMetrics) models.Profitability {
	pair, ok := d.TradedPair()
	if !ok {
		return models.OutcomeUnknown
	}
	initial, ok := models.FindPair(d.MetricsSnapshot, pair)
	if !ok {
		return models.OutcomeUnknown
	}
	final, ok := models.FindPair(current, pair)
	if !ok {
		return models.OutcomeUnknown
	}

	var won bool
	if *d.SellToken == pair.TokenA {
		won = final.LastPrice > initial.LastPrice
	} else {
		won = final.LastPrice < initial.LastPrice
	}
	if won {
		return models.Profitable
	}
	return models.Unprofitable
}
