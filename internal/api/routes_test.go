package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/repository"
	"github.com/kjannette/cowtrader/internal/risk"
	"github.com/kjannette/cowtrader/internal/strategy"
	"github.com/kjannette/cowtrader/internal/telemetry"
)

var (
	gno = common.HexToAddress("0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb")
	cow = common.HexToAddress("0x177127622c4A00F3d409B75571e12cB3c8973d3c")
)

type staticState struct {
	st      models.BotState
	running bool
}

func (s staticState) State() (models.BotState, bool) { return s.st, s.running }

type downDB struct{}

func (downDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func fptr(f float64) *float64 { return &f }

func newTestServer(t *testing.T, apiKey string) (*Server, *repository.Store) {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewCSVStore(
		filepath.Join(dir, "trades.csv"),
		filepath.Join(dir, "decisions.csv"),
		filepath.Join(dir, "orders.csv"),
		filepath.Join(dir, "block.csv"),
		filepath.Join(dir, "reasoning.jsonl"),
	)
	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg).ObserveBlock(1000, 1360)

	guardian := risk.NewGuardian([]models.Token{
		{Symbol: "GNO", Address: gno, MinBalance: big.NewInt(1)},
		{Symbol: "COW", Address: cow, MinBalance: big.NewInt(1)},
	}, true)
	s := NewServer(Deps{
		Store:    store,
		Bot:      staticState{st: models.BotState{NextDecisionBlock: 1360, LastBlock: 1000}, running: true},
		Guardian: guardian,
		Gatherer: reg,
		Lookback: 15000,
		Formula:  strategy.FormulaStreak,
	}, 0, apiKey, "")
	return s, store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func seedTrades(t *testing.T, store *repository.Store) {
	t.Helper()
	p := models.NewPair(gno, cow)
	rows := []models.TradeRecord{
		{BlockNumber: 100, SellToken: gno, BuyToken: cow, SellAmount: "1", BuyAmount: "10", TokenA: p.TokenA, TokenB: p.TokenB, Price: fptr(0.1)},
		{BlockNumber: 110, SellToken: cow, BuyToken: gno, SellAmount: "8", BuyAmount: "1", TokenA: p.TokenA, TokenB: p.TokenB, Price: fptr(0.125)},
	}
	require.NoError(t, store.Trades.Append(context.Background(), rows))
}

func TestHandleTrades(t *testing.T) {
	s, store := newTestServer(t, "")
	seedTrades(t, store)

	rr := get(t, s, "/v1/trades?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, float64(110), out[0]["block_number"], "newest rows win the limit")
	assert.Equal(t, "COW/GNO", out[0]["pair"])

	rr = get(t, s, "/v1/trades?token=gno")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Len(t, out, 2)

	rr = get(t, s, "/v1/trades?token=WETH")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleMetrics(t *testing.T) {
	s, store := newTestServer(t, "")
	seedTrades(t, store)

	rr := get(t, s, "/v1/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 0.125, out[0]["last_price"])
	assert.Contains(t, out[0], "up_moves_ratio")

	rr = get(t, s, "/v1/metrics?formula=imbalance")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Contains(t, out[0], "order_imbalance")

	rr = get(t, s, "/v1/metrics?formula=vwap")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleDecisionsAndStats(t *testing.T) {
	s, store := newTestServer(t, "")
	ctx := context.Background()
	for _, d := range []models.Decision{
		{BlockNumber: 10, ShouldTrade: true, SellToken: &gno, BuyToken: &cow, Profitable: models.Profitable, Valid: true},
		{BlockNumber: 20, ShouldTrade: false, Profitable: models.OutcomeUnknown, Valid: true},
		{BlockNumber: 30, ShouldTrade: true, SellToken: &cow, BuyToken: &gno, Profitable: models.Unprofitable, Valid: true},
		{BlockNumber: 40, ShouldTrade: true, SellToken: &gno, Profitable: models.OutcomeUnknown, Valid: false},
	} {
		require.NoError(t, store.Decisions.Append(ctx, d))
	}

	rr := get(t, s, "/v1/decisions?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var decisions []models.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decisions))
	require.Len(t, decisions, 2)
	assert.Equal(t, uint64(30), decisions[0].BlockNumber)

	rr = get(t, s, "/v1/decisions/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var st decisionStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, decisionStats{
		Total: 4, ShouldTrade: 3, Valid: 3,
		Profitable: 1, Unprofitable: 1, Unknown: 1, WinRate: 0.5,
	}, st)
}

func TestHandleOrders_Empty(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := get(t, s, "/v1/orders")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestHandleState(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := get(t, s, "/v1/state")
	require.Equal(t, http.StatusOK, rr.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, float64(1360), out["next_decision_block"])
	assert.Equal(t, true, out["running"])

	s.deps.Bot = nil
	rr = get(t, s, "/v1/state")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, "secret123")
	rr := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var out healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "csv", out.Services.Database)
	assert.Equal(t, "running", out.Services.Bot)

	s.deps.DB = downDB{}
	rr = get(t, s, "/health")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "disconnected", out.Services.Database)
}

func TestPrometheusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cowtrader_")
}

func TestRoutesRequireAuth(t *testing.T) {
	s, _ := newTestServer(t, "secret123")
	rr := get(t, s, "/v1/decisions")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
