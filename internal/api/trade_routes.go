package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/strategy"
)

type tradeJSON struct {
	models.TradeRecord
	Pair string `json:"pair"`
}

type metricsJSON struct {
	models.PairMetrics
	Pair string `json:"pair"`
}

func (s *Server) pairLabel(p models.Pair) string {
	if s.deps.Guardian == nil {
		return p.String()
	}
	return s.deps.Guardian.Symbol(p.TokenA) + "/" + s.deps.Guardian.Symbol(p.TokenB)
}

// parseToken resolves ?token= given as a monitored symbol or an address.
func (s *Server) parseToken(r *http.Request) (*common.Address, error) {
	v := strings.TrimSpace(r.URL.Query().Get("token"))
	if v == "" {
		return nil, nil
	}
	if common.IsHexAddress(v) {
		a := common.HexToAddress(v)
		return &a, nil
	}
	if s.deps.Guardian != nil {
		for _, t := range s.deps.Guardian.Tokens() {
			if strings.EqualFold(t.Symbol, v) {
				a := t.Address
				return &a, nil
			}
		}
	}
	return nil, fmt.Errorf("unknown token %q", v)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	token, err := s.parseToken(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := parseLimit(r, 100)

	trades, err := s.deps.Store.Trades.LoadAll(r.Context())
	if err != nil {
		internalError(w, err, "failed to fetch trades")
		return
	}
	if token != nil {
		filtered := trades[:0:0]
		for _, t := range trades {
			if t.TokenA == *token || t.TokenB == *token {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}

	trades = lastN(trades, limit)
	out := make([]tradeJSON, len(trades))
	for i, t := range trades {
		out[i] = tradeJSON{TradeRecord: t, Pair: s.pairLabel(t.Pair())}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMetrics computes pair metrics over the ledger the same way the bot
// does before asking the agent. ?formula= overrides the configured signal.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	formula := s.deps.Formula
	if v := r.URL.Query().Get("formula"); v != "" {
		f, err := strategy.ParseFormula(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		formula = f
	}

	trades, err := s.deps.Store.Trades.LoadAll(r.Context())
	if err != nil {
		internalError(w, err, "failed to fetch trades")
		return
	}
	metrics := strategy.ComputeMetrics(trades, s.deps.Lookback, formula)
	out := make([]metricsJSON, len(metrics))
	for i, m := range metrics {
		out[i] = metricsJSON{PairMetrics: m, Pair: s.pairLabel(m.Pair())}
	}
	writeJSON(w, http.StatusOK, out)
}
