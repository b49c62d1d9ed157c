// Package agent asks a language model whether to trade the current sell
// token, and for which monitored token.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/models"
)

var ErrMalformedResponse = errors.New("malformed agent response")

// Completer is a single-turn text completion backend.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// TradeContext is the market picture handed to the agent.
type TradeContext struct {
	TokenBalances  map[common.Address]*big.Int `json:"token_balances"`
	Metrics        []models.PairMetrics        `json:"metrics"`
	PriorDecisions []models.Decision           `json:"prior_decisions"`
	LookbackBlocks uint64                      `json:"lookback_blocks"`
}

type Request struct {
	Context   TradeContext
	SellToken common.Address
	// Tokens is the monitored set in declaration order.
	Tokens         []models.Token
	EncourageTrade bool
}

// Response is the agent's answer. BuyToken is nil when the agent named an
// unknown symbol or nothing; RawBuyToken keeps what it said. Addresses are
// returned as given, monitored or not.
type Response struct {
	ShouldTrade bool
	BuyToken    *common.Address
	RawBuyToken string
	Reasoning   string
}

type Decider interface {
	Decide(ctx context.Context, req Request) (Response, error)
}

type Agent struct {
	llm          Completer
	systemPrompt string
}

func New(llm Completer, systemPrompt string) *Agent {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Agent{llm: llm, systemPrompt: systemPrompt}
}

// LoadSystemPrompt reads the prompt file, or returns the built-in prompt
// when path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (a *Agent) Decide(ctx context.Context, req Request) (Response, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return Response{}, err
	}
	system := a.systemPrompt
	if req.EncourageTrade {
		system += "\n\n" + encourageAddendum(symbolOf(req.Tokens, req.SellToken))
	}

	text, err := a.llm.Complete(ctx, system, prompt)
	if err != nil {
		return Response{}, fmt.Errorf("agent completion: %w", err)
	}

	resp, err := ParseResponse(text, req.Tokens)
	if err != nil {
		return Response{}, err
	}
	if resp.ShouldTrade && resp.BuyToken == nil {
		log.Warn().Str("component", "agent").Str("buy_token", resp.RawBuyToken).
			Msg("agent named a token outside the monitored set")
	}
	return resp, nil
}

func encourageAddendum(sell string) string {
	return fmt.Sprintf("I encourage you to sell %s. From the eligible_buy_tokens list, pick the one "+
		"that is most promising despite current market conditions. We are experimenting and "+
		"learning, so consider unconventional choices.", sell)
}

func symbolOf(tokens []models.Token, addr common.Address) string {
	for _, t := range tokens {
		if t.Address == addr {
			return t.Symbol
		}
	}
	return addr.Hex()
}
