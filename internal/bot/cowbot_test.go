package bot

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/cowtrader/internal/agent"
	"github.com/kjannette/cowtrader/internal/execution"
	"github.com/kjannette/cowtrader/internal/ingest"
	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/repository"
	"github.com/kjannette/cowtrader/internal/risk"
	"github.com/kjannette/cowtrader/internal/strategy"
)

var (
	gno   = common.HexToAddress("0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb")
	cow   = common.HexToAddress("0x177127622c4A00F3d409B75571e12cB3c8973d3c")
	wxdai = common.HexToAddress("0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d")
	safe  = common.HexToAddress("0xbc3c7818177dA740292659b574D48B699Fdf0816")

	tokens = []models.Token{
		{Symbol: "GNO", Address: gno, MinBalance: big.NewInt(100)},
		{Symbol: "COW", Address: cow, MinBalance: big.NewInt(1000)},
		{Symbol: "WXDAI", Address: wxdai, MinBalance: big.NewInt(10), Stable: true},
	}
)

type fakeChain struct{ head uint64 }

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

type fakeBalances struct {
	bal map[common.Address]*big.Int
	err error
}

func (f *fakeBalances) BalancesOf(ctx context.Context, owner common.Address, tokens []common.Address) (map[common.Address]*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[common.Address]*big.Int, len(tokens))
	for _, t := range tokens {
		if b, ok := f.bal[t]; ok {
			out[t] = b
		} else {
			out[t] = big.NewInt(0)
		}
	}
	return out, nil
}

type fakeSource struct {
	trades []models.SettlementTrade
	calls  [][2]uint64
}

func (f *fakeSource) SettlementTrades(ctx context.Context, from, to uint64) ([]models.SettlementTrade, error) {
	f.calls = append(f.calls, [2]uint64{from, to})
	var out []models.SettlementTrade
	for _, tr := range f.trades {
		if tr.BlockNumber >= from && tr.BlockNumber <= to {
			out = append(out, tr)
		}
	}
	return out, nil
}

type fakeDecider struct {
	resp     agent.Response
	err      error
	requests []agent.Request
}

func (f *fakeDecider) Decide(ctx context.Context, req agent.Request) (agent.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type execCall struct {
	sell, buy common.Address
	amount    *big.Int
}

type fakeExecutor struct {
	uid   string
	err   error
	calls []execCall
}

func (f *fakeExecutor) Execute(ctx context.Context, sell, buy common.Address, amount *big.Int) (string, error) {
	f.calls = append(f.calls, execCall{sell, buy, amount})
	return f.uid, f.err
}

type fakeNotifier struct {
	messages []string
	orders   []string
	unsigned []string
	agentErr []uint64
}

func (f *fakeNotifier) Send(msg string) { f.messages = append(f.messages, msg) }
func (f *fakeNotifier) OrderSubmitted(block uint64, uid, sellSymbol, buySymbol, sellAmount string) {
	f.orders = append(f.orders, uid)
}
func (f *fakeNotifier) UnsignedOrder(block uint64, uid string, err error) {
	f.unsigned = append(f.unsigned, uid)
}
func (f *fakeNotifier) AgentFailure(block uint64, err error) { f.agentErr = append(f.agentErr, block) }

type harness struct {
	bot      *CowBot
	store    *repository.Store
	dir      string
	chain    *fakeChain
	source   *fakeSource
	balances *fakeBalances
	agent    *fakeDecider
	exec     *fakeExecutor
	notify   *fakeNotifier
}

func newHarness(t *testing.T, head uint64) *harness {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewCSVStore(
		filepath.Join(dir, "trades.csv"),
		filepath.Join(dir, "decisions.csv"),
		filepath.Join(dir, "orders.csv"),
		filepath.Join(dir, "last_block_processed.csv"),
		filepath.Join(dir, "reasoning.jsonl"),
	)
	h := &harness{
		store:    store,
		dir:      dir,
		chain:    &fakeChain{head: head},
		source:   &fakeSource{},
		balances: &fakeBalances{bal: map[common.Address]*big.Int{}},
		agent:    &fakeDecider{},
		exec:     &fakeExecutor{uid: "0xabc123"},
		notify:   &fakeNotifier{},
	}
	guardian := risk.NewGuardian(tokens, true)
	ing := ingest.NewIngestor(h.source, store.Trades, guardian.Addresses(), 0)
	h.bot = NewCowBot(Params{
		Account:           safe,
		Cooldown:          360,
		Lookback:          15000,
		CatchupBuffer:     5,
		HistoricalStep:    720,
		ExtensionInterval: 6,
		PriorDecisions:    3,
		Formula:           strategy.FormulaStreak,
	}, Deps{
		Chain:    h.chain,
		Balances: h.balances,
		Ingestor: ing,
		Store:    store,
		Guardian: guardian,
		Agent:    h.agent,
		Executor: h.exec,
		Notify:   h.notify,
	})
	return h
}

func settlement(block uint64, sell, buy common.Address, sellAmt, buyAmt int64) models.SettlementTrade {
	return models.SettlementTrade{
		BlockNumber: block,
		Owner:       safe,
		SellToken:   sell,
		BuyToken:    buy,
		SellAmount:  big.NewInt(sellAmt),
		BuyAmount:   big.NewInt(buyAmt),
		FeeAmount:   big.NewInt(0),
	}
}

func TestInit_FreshStartDecidesAtHead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)

	require.NoError(t, h.bot.Init(ctx))
	st := h.bot.State()
	assert.Equal(t, uint64(1000), st.NextDecisionBlock)
	assert.Equal(t, uint64(1000), st.LastBlock)
	assert.Empty(t, h.source.calls, "nothing to ingest without a cursor or start block")

	cursor, ok, err := h.store.Cursor.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), cursor)
}

func TestInit_ResumesFromCursorAndLastDecision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.store.Cursor.Save(ctx, 900))
	require.NoError(t, h.store.Decisions.Append(ctx, models.Decision{BlockNumber: 800, Profitable: models.OutcomeUnknown, Valid: true}))
	h.source.trades = []models.SettlementTrade{
		settlement(850, gno, cow, 1, 10),
		settlement(950, gno, cow, 1, 12),
	}

	require.NoError(t, h.bot.Init(ctx))
	assert.Equal(t, [][2]uint64{{901, 1000}}, h.source.calls)
	assert.Equal(t, uint64(1160), h.bot.State().NextDecisionBlock, "last decision + cooldown")

	trades, err := h.store.Trades.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(950), trades[0].BlockNumber)
}

func TestHandleBlock_WaitsForCooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.store.Decisions.Append(ctx, models.Decision{BlockNumber: 990, Profitable: models.OutcomeUnknown, Valid: true}))
	require.NoError(t, h.bot.Init(ctx))

	for block := uint64(1001); block < 1010; block++ {
		res := h.bot.HandleBlock(ctx, block)
		assert.Equal(t, OutcomeWaiting, res.Outcome)
	}
	assert.Empty(t, h.agent.requests, "agent is never called before the next decision block")

	cursor, _, err := h.store.Cursor.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1009), cursor, "cursor advances on every block")
}

func TestHandleBlock_DecidesAndExecutes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.bal[gno] = big.NewInt(200)
	h.agent.resp = agent.Response{ShouldTrade: true, BuyToken: &cow, RawBuyToken: "COW", Reasoning: "GNO momentum is fading"}

	res := h.bot.HandleBlock(ctx, 1001)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeDecided, res.Outcome)
	assert.Equal(t, "0xabc123", res.OrderUID)

	require.Len(t, h.agent.requests, 1)
	req := h.agent.requests[0]
	assert.Equal(t, gno, req.SellToken)
	assert.Equal(t, uint64(15000), req.Context.LookbackBlocks)

	require.Len(t, h.exec.calls, 1)
	assert.Equal(t, gno, h.exec.calls[0].sell)
	assert.Equal(t, cow, h.exec.calls[0].buy)
	assert.Equal(t, int64(200), h.exec.calls[0].amount.Int64(), "whole sell balance")
	assert.Equal(t, []string{"0xabc123"}, h.notify.orders)

	decisions, err := h.store.Decisions.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, uint64(1001), d.BlockNumber)
	assert.True(t, d.ShouldTrade)
	assert.True(t, d.Valid)
	assert.Equal(t, models.OutcomeUnknown, d.Profitable)
	require.NotNil(t, d.SellToken)
	assert.Equal(t, gno, *d.SellToken)

	assert.Equal(t, uint64(1361), h.bot.State().NextDecisionBlock)

	raw, err := os.ReadFile(filepath.Join(h.dir, "reasoning.jsonl"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "GNO momentum is fading"))
}

func TestHandleBlock_NoTradeIsValidAndNotExecuted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.bal[gno] = big.NewInt(200)
	h.agent.resp = agent.Response{ShouldTrade: false, BuyToken: &cow, Reasoning: "hold"}

	res := h.bot.HandleBlock(ctx, 1000)
	assert.Equal(t, OutcomeDecided, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.True(t, res.Decision.Valid)
	assert.Nil(t, res.Decision.SellToken, "tokens only recorded for trades")
	assert.Nil(t, res.Decision.BuyToken)
	assert.Empty(t, h.exec.calls)
}

func TestHandleBlock_NoSellToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.bal[gno] = big.NewInt(100)

	res := h.bot.HandleBlock(ctx, 1000)
	assert.Equal(t, OutcomeNoSellToken, res.Outcome)
	assert.Empty(t, h.agent.requests)
	assert.Equal(t, uint64(1000), h.bot.State().NextDecisionBlock, "next decision block unchanged")
	assert.Nil(t, h.bot.State().SellToken)
}

func TestHandleBlock_AgentFailureKeepsSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.bal[cow] = big.NewInt(5000)
	h.agent.err = errors.New("anthropic: HTTP 529 overloaded")

	res := h.bot.HandleBlock(ctx, 1002)
	assert.Equal(t, OutcomeAgentFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, []uint64{1002}, h.notify.agentErr)
	assert.Equal(t, uint64(1000), h.bot.State().NextDecisionBlock)

	decisions, err := h.store.Decisions.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, decisions, "no decision recorded")

	// retried on the following block
	h.agent.err = nil
	h.agent.resp = agent.Response{ShouldTrade: false}
	res = h.bot.HandleBlock(ctx, 1003)
	assert.Equal(t, OutcomeDecided, res.Outcome)
	assert.Len(t, h.agent.requests, 2)
}

func TestHandleBlock_InvalidDecisionNotExecuted(t *testing.T) {
	wbtc := common.HexToAddress("0x8e5bBbb09Ed1ebdE8674Cda39A0c169401db4252")
	cases := []struct {
		name  string
		reply string
		buy   *common.Address
	}{
		{"unknown symbol", `{"should_trade": true, "buy_token": "WETH", "reasoning": "eth"}`, nil},
		{"unmonitored address", `{"should_trade": true, "buy_token": "0x8e5bbbb09ed1ebde8674cda39a0c169401db4252", "reasoning": "btc"}`, &wbtc},
		{"buy equals sell", `{"should_trade": true, "buy_token": "GNO", "reasoning": "more gno"}`, &gno},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, 1000)
			require.NoError(t, h.bot.Init(ctx))
			h.balances.bal[gno] = big.NewInt(200)
			resp, err := agent.ParseResponse(tc.reply, tokens)
			require.NoError(t, err)
			h.agent.resp = resp

			res := h.bot.HandleBlock(ctx, 1000)
			assert.Equal(t, OutcomeDecided, res.Outcome)
			require.NotNil(t, res.Decision)
			assert.False(t, res.Decision.Valid)
			assert.Empty(t, h.exec.calls)
			assert.Equal(t, uint64(1360), h.bot.State().NextDecisionBlock, "invalid decisions still start a cooldown")

			decisions, err := h.store.Decisions.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, decisions, 1)
			assert.False(t, decisions[0].Valid)
			assert.Equal(t, tc.buy, decisions[0].BuyToken, "proposed buy token is kept")
		})
	}
}

func TestHandleBlock_UnsignedOrderAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.bal[gno] = big.NewInt(200)
	h.agent.resp = agent.Response{ShouldTrade: true, BuyToken: &wxdai}
	h.exec.uid = ""
	h.exec.err = &execution.StageError{Stage: execution.StageSign, OrderUID: "0xdead", Err: errors.New("nonce too low")}

	res := h.bot.HandleBlock(ctx, 1000)
	assert.Equal(t, OutcomeDecided, res.Outcome)
	assert.Equal(t, "0xdead", res.OrderUID)
	assert.Equal(t, []string{"0xdead"}, h.notify.unsigned)
	assert.Empty(t, h.notify.orders)
}

func TestHandleBlock_ResolvesPreviousDecisionOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.store.Cursor.Save(ctx, 900))

	// cow sorts first, so price is GNO per COW
	pair := models.NewPair(gno, cow)
	require.NoError(t, h.store.Decisions.Append(ctx, models.Decision{
		BlockNumber:     640,
		ShouldTrade:     true,
		SellToken:       &gno,
		BuyToken:        &cow,
		MetricsSnapshot: []models.PairMetrics{{TokenA: pair.TokenA, TokenB: pair.TokenB, LastPrice: 0.2}},
		Profitable:      models.OutcomeUnknown,
		Valid:           true,
	}))
	h.source.trades = []models.SettlementTrade{settlement(950, cow, gno, 10, 1)}
	require.NoError(t, h.bot.Init(ctx))
	require.Equal(t, uint64(1000), h.bot.State().NextDecisionBlock)

	h.balances.bal[gno] = big.NewInt(200)
	h.agent.resp = agent.Response{ShouldTrade: true, BuyToken: &cow}

	res := h.bot.HandleBlock(ctx, 1000)
	require.Equal(t, OutcomeDecided, res.Outcome)

	decisions, err := h.store.Decisions.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, models.Profitable, decisions[0].Profitable, "sold GNO and GNO per COW fell from 0.2 to 0.1")
	assert.Equal(t, models.OutcomeUnknown, decisions[1].Profitable)
	assert.Equal(t, uint64(640), h.bot.State().ResolvedDecisionBlock)

	prior := h.agent.requests[0].Context.PriorDecisions
	require.Len(t, prior, 1)
	assert.Equal(t, models.Profitable, prior[0].Profitable, "agent sees the resolved outcome")
}

func TestHandleBlock_ExtendsHistoryWhileWaiting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10000)
	require.NoError(t, h.store.Cursor.Save(ctx, 9000))
	require.NoError(t, h.store.Decisions.Append(ctx, models.Decision{BlockNumber: 9990, Profitable: models.OutcomeUnknown, Valid: true}))
	h.source.trades = []models.SettlementTrade{settlement(8500, gno, cow, 1, 10)}
	require.NoError(t, h.bot.Init(ctx))
	require.Len(t, h.source.calls, 1)

	h.bot.HandleBlock(ctx, 10003)
	assert.Len(t, h.source.calls, 1, "interval not reached")

	h.bot.HandleBlock(ctx, 10006)
	require.Len(t, h.source.calls, 2)
	assert.Equal(t, [2]uint64{8281, 9000}, h.source.calls[1])

	trades, err := h.store.Trades.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(8500), trades[0].BlockNumber)
}

func TestHandleBlock_BalanceFailureRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(ctx))
	h.balances.err = errors.New("rpc timeout")

	res := h.bot.HandleBlock(ctx, 1000)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, uint64(1000), h.bot.State().NextDecisionBlock)
}

func TestRun_StopsOnShutdown(t *testing.T) {
	h := newHarness(t, 1000)
	require.NoError(t, h.bot.Init(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.bot.Run(context.Background()) }()
	h.bot.Shutdown()
	require.NoError(t, <-done)
	assert.False(t, h.bot.IsRunning())
	h.bot.Shutdown()
}
