package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
)

// Guardian owns the monitored token table and the rules that decide which
// token may be sold and whether an agent's trade intent is acceptable.
type Guardian struct {
	tokens             []models.Token
	monitored          map[common.Address]models.Token
	requireSellBalance bool
}

// NewGuardian keeps tokens in declaration order. When requireSellBalance is
// set, a trade is only valid while the sell balance still exceeds its
// minimum.
func NewGuardian(tokens []models.Token, requireSellBalance bool) *Guardian {
	m := make(map[common.Address]models.Token, len(tokens))
	for _, t := range tokens {
		m[t.Address] = t
	}
	return &Guardian{tokens: tokens, monitored: m, requireSellBalance: requireSellBalance}
}

func (g *Guardian) Tokens() []models.Token { return g.tokens }

func (g *Guardian) Addresses() []common.Address {
	out := make([]common.Address, len(g.tokens))
	for i, t := range g.tokens {
		out[i] = t.Address
	}
	return out
}

func (g *Guardian) IsMonitored(a common.Address) bool {
	_, ok := g.monitored[a]
	return ok
}

func (g *Guardian) Symbol(a common.Address) string {
	if t, ok := g.monitored[a]; ok {
		return t.Symbol
	}
	return a.Hex()
}

// SelectSellToken returns the first token, in declaration order, whose
// balance is strictly above its minimum. Missing balances count as zero.
func (g *Guardian) SelectSellToken(balances map[common.Address]*big.Int) (common.Address, error) {
	for _, t := range g.tokens {
		if aboveMinimum(balances[t.Address], t.MinBalance) {
			return t.Address, nil
		}
	}
	return common.Address{}, models.ErrNoSellToken
}

// EligibleBuyTokens is every monitored token except sell.
func (g *Guardian) EligibleBuyTokens(sell common.Address) []common.Address {
	out := make([]common.Address, 0, len(g.tokens))
	for _, t := range g.tokens {
		if t.Address != sell {
			out = append(out, t.Address)
		}
	}
	return out
}

// Validate checks a decision. A decision that does not trade is always
// valid. The returned error wraps models.ErrInvalidDecision and says why.
func (g *Guardian) Validate(d models.Decision, balances map[common.Address]*big.Int) error {
	if !d.ShouldTrade {
		return nil
	}
	if d.SellToken == nil || d.BuyToken == nil {
		return fmt.Errorf("%w: sell and buy token are both required", models.ErrInvalidDecision)
	}
	sell, buy := *d.SellToken, *d.BuyToken
	if !g.IsMonitored(buy) {
		return fmt.Errorf("%w: buy token %s is not monitored", models.ErrInvalidDecision, buy.Hex())
	}
	if buy == sell {
		return fmt.Errorf("%w: buy token equals sell token %s", models.ErrInvalidDecision, g.Symbol(sell))
	}
	if g.requireSellBalance {
		t, ok := g.monitored[sell]
		if !ok {
			return fmt.Errorf("%w: sell token %s is not monitored", models.ErrInvalidDecision, sell.Hex())
		}
		if !aboveMinimum(balances[sell], t.MinBalance) {
			return fmt.Errorf("%w: %s balance %s not above minimum %s",
				models.ErrInvalidDecision, t.Symbol, balanceString(balances[sell]), t.MinBalance)
		}
	}
	return nil
}

func aboveMinimum(bal, minimum *big.Int) bool {
	if bal == nil {
		return false
	}
	if minimum == nil {
		return bal.Sign() > 0
	}
	return bal.Cmp(minimum) > 0
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
