package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/cowtrader/internal/models"
)

var (
	gno   = common.HexToAddress("0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb")
	cow   = common.HexToAddress("0x177127622c4A00F3d409B75571e12cB3c8973d3c")
	wxdai = common.HexToAddress("0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func gnosisTokens() []models.Token {
	return []models.Token{
		{Symbol: "GNO", Address: gno, MinBalance: big.NewInt(116)},
		{Symbol: "COW", Address: cow, MinBalance: e18(10)},
		{Symbol: "WXDAI", Address: wxdai, MinBalance: e18(5), Stable: true},
	}
}

// --- SelectSellToken ---

func TestSelectSellToken_FirstQualifyingInDeclarationOrder(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	balances := map[common.Address]*big.Int{
		gno:   big.NewInt(200),
		cow:   e18(5),
		wxdai: e18(1),
	}
	got, err := g.SelectSellToken(balances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != gno {
		t.Fatalf("expected GNO, got %s", g.Symbol(got))
	}
}

func TestSelectSellToken_SkipsTokensAtThreshold(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	balances := map[common.Address]*big.Int{
		gno:   big.NewInt(116), // equal is not above
		cow:   e18(10),
		wxdai: e18(6),
	}
	got, err := g.SelectSellToken(balances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wxdai {
		t.Fatalf("expected WXDAI, got %s", g.Symbol(got))
	}
}

func TestSelectSellToken_NoneQualify(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	_, err := g.SelectSellToken(map[common.Address]*big.Int{gno: big.NewInt(1)})
	if !errors.Is(err, models.ErrNoSellToken) {
		t.Fatalf("expected ErrNoSellToken, got %v", err)
	}
}

func TestEligibleBuyTokens(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	got := g.EligibleBuyTokens(cow)
	if len(got) != 2 || got[0] != gno || got[1] != wxdai {
		t.Fatalf("unexpected eligible tokens: %v", got)
	}
}

// --- Validate ---

func decision(trade bool, sell, buy *common.Address) models.Decision {
	return models.Decision{BlockNumber: 1000, ShouldTrade: trade, SellToken: sell, BuyToken: buy}
}

func ptr(a common.Address) *common.Address { return &a }

func TestValidate_NoTradeIsAlwaysValid(t *testing.T) {
	g := NewGuardian(gnosisTokens(), true)
	if err := g.Validate(decision(false, nil, nil), nil); err != nil {
		t.Fatalf("should_trade=false must be valid, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	doge := common.HexToAddress("0x00000000000000000000000000000000000d06e0")

	cases := map[string]models.Decision{
		"missing buy":  decision(true, ptr(gno), nil),
		"missing sell": decision(true, nil, ptr(cow)),
		"self pair":    decision(true, ptr(gno), ptr(gno)),
		"unmonitored":  decision(true, ptr(gno), ptr(doge)),
	}
	for name, d := range cases {
		err := g.Validate(d, nil)
		if !errors.Is(err, models.ErrInvalidDecision) {
			t.Fatalf("%s: expected ErrInvalidDecision, got %v", name, err)
		}
		t.Logf("%s: %v", name, err)
	}
}

func TestValidate_Accepts(t *testing.T) {
	g := NewGuardian(gnosisTokens(), false)
	if err := g.Validate(decision(true, ptr(gno), ptr(wxdai)), nil); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_RequireSellBalance(t *testing.T) {
	g := NewGuardian(gnosisTokens(), true)
	d := decision(true, ptr(gno), ptr(cow))

	if err := g.Validate(d, map[common.Address]*big.Int{gno: big.NewInt(50)}); !errors.Is(err, models.ErrInvalidDecision) {
		t.Fatalf("expected insufficient balance rejection, got %v", err)
	}
	if err := g.Validate(d, map[common.Address]*big.Int{gno: big.NewInt(500)}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}
