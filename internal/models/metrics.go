package models

import "github.com/ethereum/go-ethereum/common"

// PairMetrics holds rolling statistics for one canonical pair. Exactly one
// signal family is populated: OrderImbalance, or the up-move fields.
type PairMetrics struct {
	TokenA     common.Address `json:"token_a"`
	TokenB     common.Address `json:"token_b"`
	LastPrice  float64        `json:"last_price"`
	MinPrice   float64        `json:"min_price"`
	MaxPrice   float64        `json:"max_price"`
	VolumeBuy  float64        `json:"volume_buy"`
	VolumeSell float64        `json:"volume_sell"`
	TradeCount int            `json:"trade_count"`

	OrderImbalance *float64 `json:"order_imbalance,omitempty"`

	UpMovesRatio  *float64 `json:"up_moves_ratio,omitempty"`
	MaxUpStreak   *int     `json:"max_up_streak,omitempty"`
	MaxDownStreak *int     `json:"max_down_streak,omitempty"`
}

func (m PairMetrics) Pair() Pair {
	return Pair{TokenA: m.TokenA, TokenB: m.TokenB}
}

// FindPair returns the metrics entry for p, if any.
func FindPair(metrics []PairMetrics, p Pair) (PairMetrics, bool) {
	for _, m := range metrics {
		if m.TokenA == p.TokenA && m.TokenB == p.TokenB {
			return m, true
		}
	}
	return PairMetrics{}, false
}
