package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kjannette/cowtrader/internal/models"
)

// Formula selects the directional signal attached to each PairMetrics.
type Formula string

const (
	FormulaStreak    Formula = "streak"
	FormulaImbalance Formula = "imbalance"
)

func ParseFormula(s string) (Formula, error) {
	switch f := Formula(strings.ToLower(strings.TrimSpace(s))); f {
	case FormulaStreak, FormulaImbalance:
		return f, nil
	case "":
		return FormulaStreak, nil
	default:
		return "", fmt.Errorf("unknown metrics formula %q", s)
	}
}

// ComputeMetrics builds per-pair statistics over trades whose block is at
// least max(block) - lookbackBlocks. Pairs appear in the order they are
// first seen in the window. A pair that fails is logged and left out.
func ComputeMetrics(trades []models.TradeRecord, lookbackBlocks uint64, formula Formula) []models.PairMetrics {
	if len(trades) == 0 {
		return nil
	}

	var latest uint64
	for _, t := range trades {
		if t.BlockNumber > latest {
			latest = t.BlockNumber
		}
	}
	var threshold uint64
	if latest > lookbackBlocks {
		threshold = latest - lookbackBlocks
	}

	var order []models.Pair
	groups := make(map[models.Pair][]models.TradeRecord)
	for _, t := range trades {
		if t.BlockNumber < threshold {
			continue
		}
		p := t.Pair()
		if _, seen := groups[p]; !seen {
			order = append(order, p)
		}
		groups[p] = append(groups[p], t)
	}

	out := make([]models.PairMetrics, 0, len(order))
	for _, p := range order {
		m, ok, err := computePair(p, groups[p], formula)
		if err != nil {
			log.Warn().Str("component", "metrics").Str("pair", p.String()).Err(err).Msg("skipping pair")
			continue
		}
		if ok {
			out = append(out, m)
		}
	}
	return out
}

// computePair returns ok=false when no row in the group carries a price.
func computePair(p models.Pair, rows []models.TradeRecord, formula Formula) (models.PairMetrics, bool, error) {
	sorted := make([]models.TradeRecord, 0, len(rows))
	for _, r := range rows {
		if r.Price != nil {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return models.PairMetrics{}, false, nil
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BlockNumber < sorted[j].BlockNumber })

	prices := make([]float64, len(sorted))
	for i, r := range sorted {
		if math.IsNaN(*r.Price) || math.IsInf(*r.Price, 0) {
			return models.PairMetrics{}, false, fmt.Errorf("non-finite price at block %d", r.BlockNumber)
		}
		prices[i] = *r.Price
	}

	m := models.PairMetrics{
		TokenA:     p.TokenA,
		TokenB:     p.TokenB,
		LastPrice:  prices[len(prices)-1],
		MinPrice:   prices[0],
		MaxPrice:   prices[0],
		TradeCount: len(sorted),
	}
	for _, v := range prices[1:] {
		m.MinPrice = math.Min(m.MinPrice, v)
		m.MaxPrice = math.Max(m.MaxPrice, v)
	}
	m.VolumeBuy, m.VolumeSell = sumVolumes(sorted)

	switch formula {
	case FormulaImbalance:
		imb := OrderImbalance(m.VolumeBuy, m.VolumeSell)
		m.OrderImbalance = &imb
	default:
		ratio, up, down := StreakSignal(prices)
		m.UpMovesRatio = &ratio
		m.MaxUpStreak = &up
		m.MaxDownStreak = &down
	}
	return m, true, nil
}

// sumVolumes totals raw buy and sell amounts. Any unparsable amount zeroes
// both totals for the group.
func sumVolumes(rows []models.TradeRecord) (buy, sell float64) {
	totalBuy, totalSell := decimal.Zero, decimal.Zero
	for _, r := range rows {
		b, err := decimal.NewFromString(r.BuyAmount)
		if err != nil {
			return 0, 0
		}
		s, err := decimal.NewFromString(r.SellAmount)
		if err != nil {
			return 0, 0
		}
		totalBuy = totalBuy.Add(b)
		totalSell = totalSell.Add(s)
	}
	buy, _ = totalBuy.Float64()
	sell, _ = totalSell.Float64()
	return buy, sell
}

// OrderImbalance is (buy - sell) / (buy + sell), or 0 when both are zero.
func OrderImbalance(buy, sell float64) float64 {
	total := buy + sell
	if total == 0 {
		return 0
	}
	return (buy - sell) / total
}

// StreakSignal summarizes consecutive price moves. upRatio is the share of
// non-zero moves that went up (0.5 when there are none). maxUp and maxDown
// are the longest runs of strictly rising and strictly falling moves; a flat
// move ends a run.
func StreakSignal(prices []float64) (upRatio float64, maxUp, maxDown int) {
	upRatio = 0.5
	if len(prices) < 2 {
		return upRatio, 0, 0
	}

	var ups, moves, runUp, runDown int
	for i := 1; i < len(prices); i++ {
		switch {
		case prices[i] > prices[i-1]:
			ups++
			moves++
			runUp++
			runDown = 0
		case prices[i] < prices[i-1]:
			moves++
			runDown++
			runUp = 0
		default:
			runUp, runDown = 0, 0
		}
		maxUp = max(maxUp, runUp)
		maxDown = max(maxDown, runDown)
	}
	if moves > 0 {
		upRatio = float64(ups) / float64(moves)
	}
	return upRatio, maxUp, maxDown
}
