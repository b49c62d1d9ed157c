package api

import (
	"net/http"

	"github.com/kjannette/cowtrader/internal/models"
)

type decisionStats struct {
	Total        int `json:"total"`
	ShouldTrade  int `json:"should_trade"`
	Valid        int `json:"valid"`
	Profitable   int `json:"profitable"`
	Unprofitable int `json:"unprofitable"`
	Unknown      int `json:"unknown"`
	// WinRate is profitable / (profitable + unprofitable), zero when no
	// trade has been judged yet.
	WinRate float64 `json:"win_rate"`
}

type stateJSON struct {
	models.BotState
	Running bool `json:"running"`
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	decisions, err := s.deps.Store.Decisions.Tail(r.Context(), limit)
	if err != nil {
		internalError(w, err, "failed to fetch decisions")
		return
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleDecisionStats(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.deps.Store.Decisions.LoadAll(r.Context())
	if err != nil {
		internalError(w, err, "failed to fetch decision stats")
		return
	}
	writeJSON(w, http.StatusOK, summarize(decisions))
}

func summarize(decisions []models.Decision) decisionStats {
	var st decisionStats
	for _, d := range decisions {
		st.Total++
		if d.Valid {
			st.Valid++
		}
		if !d.ShouldTrade {
			continue
		}
		st.ShouldTrade++
		switch d.Profitable {
		case models.Profitable:
			st.Profitable++
		case models.Unprofitable:
			st.Unprofitable++
		default:
			st.Unknown++
		}
	}
	if judged := st.Profitable + st.Unprofitable; judged > 0 {
		st.WinRate = float64(st.Profitable) / float64(judged)
	}
	return st
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	orders, err := s.deps.Store.Orders.LoadAll(r.Context())
	if err != nil {
		internalError(w, err, "failed to fetch orders")
		return
	}
	if orders == nil {
		orders = []models.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, lastN(orders, limit))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bot == nil {
		writeError(w, http.StatusServiceUnavailable, "bot not started")
		return
	}
	st, running := s.deps.Bot.State()
	writeJSON(w, http.StatusOK, stateJSON{BotState: st, Running: running})
}
