package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
)

const DefaultSystemPrompt = `You manage the treasury of a Safe on Gnosis Chain that trades on CoW Protocol.
Each time you are consulted you may sell the whole balance of one token (the sell token) for one
other monitored token, or do nothing. You receive recent on-chain trade metrics per token pair,
the Safe's balances, and your most recent decisions with their measured outcome
(profitable: 1 = yes, 0 = no, 2 = not yet known).

Prices in the metrics are expressed as amount of token_b per unit of token_a.
Prefer stable tokens when volatile pairs trend down; prefer volatile tokens when they trend up.

Reply with a single JSON object and nothing else:
{"should_trade": <bool>, "buy_token": "<address or symbol, or null>", "reasoning": "<short explanation>"}`

type tokenInfo struct {
	Symbol           string `json:"symbol"`
	Address          string `json:"address"`
	IsStable         bool   `json:"is_stable"`
	ExpectedBehavior string `json:"expected_behavior"`
}

type promptPayload struct {
	SellToken         tokenInfo         `json:"sell_token"`
	EligibleBuyTokens []tokenInfo       `json:"eligible_buy_tokens"`
	Balances          map[string]string `json:"token_balances"`
	Metrics           []pairView        `json:"metrics"`
	PriorDecisions    []decisionView    `json:"prior_decisions"`
	LookbackBlocks    uint64            `json:"lookback_blocks"`
}

type pairView struct {
	Pair string `json:"pair"`
	models.PairMetrics
}

type decisionView struct {
	BlockNumber     uint64     `json:"block_number"`
	ShouldTrade     bool       `json:"should_trade"`
	SellToken       string     `json:"sell_token,omitempty"`
	BuyToken        string     `json:"buy_token,omitempty"`
	MetricsSnapshot []pairView `json:"metrics_snapshot"`
	Profitable      int        `json:"profitable"`
	Valid           bool       `json:"valid"`
}

func info(t models.Token) tokenInfo {
	behaviour := "USD value can fluctuate"
	if t.Stable {
		behaviour = "USD value stable, good for preserving value"
	}
	return tokenInfo{Symbol: t.Symbol, Address: t.Address.Hex(), IsStable: t.Stable, ExpectedBehavior: behaviour}
}

// BuildPrompt renders the request as the user turn. Token addresses are
// annotated with symbols so the model can reason about them by name.
func BuildPrompt(req Request) (string, error) {
	p := promptPayload{
		Balances:       make(map[string]string, len(req.Context.TokenBalances)),
		LookbackBlocks: req.Context.LookbackBlocks,
	}

	sellKnown := false
	for _, t := range req.Tokens {
		if t.Address == req.SellToken {
			p.SellToken = info(t)
			sellKnown = true
			continue
		}
		p.EligibleBuyTokens = append(p.EligibleBuyTokens, info(t))
	}
	if !sellKnown {
		return "", fmt.Errorf("sell token %s is not monitored", req.SellToken.Hex())
	}

	for addr, bal := range req.Context.TokenBalances {
		if bal != nil {
			p.Balances[symbolOf(req.Tokens, addr)] = bal.String()
		}
	}
	p.Metrics = pairViews(req.Tokens, req.Context.Metrics)
	for _, d := range req.Context.PriorDecisions {
		dv := decisionView{
			BlockNumber:     d.BlockNumber,
			ShouldTrade:     d.ShouldTrade,
			MetricsSnapshot: pairViews(req.Tokens, d.MetricsSnapshot),
			Profitable:      int(d.Profitable),
			Valid:           d.Valid,
		}
		if d.SellToken != nil {
			dv.SellToken = symbolOf(req.Tokens, *d.SellToken)
		}
		if d.BuyToken != nil {
			dv.BuyToken = symbolOf(req.Tokens, *d.BuyToken)
		}
		p.PriorDecisions = append(p.PriorDecisions, dv)
	}

	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return "Current trading context:\n" + string(body) +
		"\n\nDecide whether to sell " + p.SellToken.Symbol + " now, and for which eligible token.", nil
}

func pairViews(tokens []models.Token, metrics []models.PairMetrics) []pairView {
	out := make([]pairView, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, pairView{
			Pair:        symbolOf(tokens, m.TokenA) + "/" + symbolOf(tokens, m.TokenB),
			PairMetrics: m,
		})
	}
	return out
}

type rawResponse struct {
	ShouldTrade *bool   `json:"should_trade"`
	BuyToken    *string `json:"buy_token"`
	Reasoning   string  `json:"reasoning"`
}

// ParseResponse extracts the JSON object from the model's reply. buy_token
// may be an address or a monitored symbol.
func ParseResponse(text string, tokens []models.Token) (Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Response{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(text, 120))
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.ShouldTrade == nil {
		return Response{}, fmt.Errorf("%w: should_trade missing", ErrMalformedResponse)
	}

	resp := Response{ShouldTrade: *raw.ShouldTrade, Reasoning: raw.Reasoning}
	if raw.BuyToken != nil {
		resp.RawBuyToken = strings.TrimSpace(*raw.BuyToken)
		resp.BuyToken = resolveToken(resp.RawBuyToken, tokens)
	}
	return resp, nil
}

func resolveToken(s string, tokens []models.Token) *common.Address {
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, s) {
			a := t.Address
			return &a
		}
	}
	// Unmonitored addresses are kept so the guardian can reject them and the
	// decision ledger records what was proposed.
	if common.IsHexAddress(s) {
		a := common.HexToAddress(s)
		return &a
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
