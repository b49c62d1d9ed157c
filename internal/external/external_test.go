package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/cowtrader/internal/external"
	"github.com/kjannette/cowtrader/internal/httputil"
)

const (
	safe    = "0xbc3c7818177dA740292659b574D48B699Fdf0816"
	gno     = "0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb"
	cow     = "0x177127622c4A00F3d409B75571e12cB3c8973d3c"
	appHash = "0xb48d38f93eaa084033fc5970bf96e559c33c4cdc07d889ab00b4d63f9590739d"
)

const quoteBody = `{
  "quote": {
    "sellToken": "0x9c58bacc331c9aa871afd802db6379a98e80cedb",
    "buyToken": "0x177127622c4a00f3d409b75571e12cb3c8973d3c",
    "receiver": "0xbc3c7818177da740292659b574d48b699fdf0816",
    "sellAmount": "190",
    "buyAmount": "4000",
    "validTo": 1735689600,
    "appData": "0xb48d38f93eaa084033fc5970bf96e559c33c4cdc07d889ab00b4d63f9590739d",
    "appDataHash": "0xb48d38f93eaa084033fc5970bf96e559c33c4cdc07d889ab00b4d63f9590739d",
    "feeAmount": "10",
    "kind": "sell",
    "partiallyFillable": false,
    "sellTokenBalance": "erc20",
    "buyTokenBalance": "erc20",
    "signingScheme": "presign"
  },
  "from": "0xbc3c7818177da740292659b574d48b699fdf0816",
  "expiration": "2025-01-01T00:00:00Z",
  "id": 4242,
  "verified": true
}`

func TestCowQuote(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	c := external.NewCowClient(srv.URL, 0)
	q, err := c.Quote(context.Background(), external.NewSellQuoteRequest(gno, cow, "200", safe, appHash))
	require.NoError(t, err)

	assert.Equal(t, "200", got["sellAmountBeforeFee"])
	assert.Equal(t, safe, got["from"])
	assert.Equal(t, safe, got["receiver"])
	assert.Equal(t, "{}", got["appData"])
	assert.Equal(t, appHash, got["appDataHash"])
	assert.Equal(t, "verified", got["priceQuality"])
	assert.Equal(t, "presign", got["signingScheme"])
	assert.Equal(t, false, got["onchainOrder"])
	assert.Equal(t, "sell", got["kind"])

	assert.Equal(t, int64(4242), q.ID)
	assert.Equal(t, "4000", q.Quote.BuyAmount)
	assert.Equal(t, uint32(1735689600), q.Quote.ValidTo)
}

func TestCowQuote_StatusHandling(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		errMsg string
	}{
		{"created", http.StatusCreated, quoteBody, ""},
		{"rejected", http.StatusBadRequest, `{"errorType":"NoLiquidity","description":"no route found"}`, "quote request failed: NoLiquidity - no route found"},
		{"redirect", http.StatusMultipleChoices, `moved`, "quote request failed: order request failed: HTTP 300: moved"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			q, err := external.NewCowClient(srv.URL, 0).Quote(context.Background(), external.NewSellQuoteRequest(gno, cow, "200", safe, appHash))
			if tc.errMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, int64(4242), q.ID)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.errMsg, err.Error())
		})
	}
}

func TestOrderFromQuote(t *testing.T) {
	var q external.QuoteResponse
	require.NoError(t, json.Unmarshal([]byte(quoteBody), &q))

	o := external.OrderFromQuote(q)
	assert.Equal(t, "0", o.FeeAmount, "fee is always zero")
	assert.Equal(t, "presign", o.SigningScheme)
	assert.Equal(t, "0x", o.Signature)
	assert.Equal(t, int64(4242), o.QuoteID)
	assert.Equal(t, q.From, o.From)
	assert.Equal(t, "190", o.SellAmount)
	assert.Equal(t, appHash, o.AppDataHash)

	raw, err := json.Marshal(o)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "quoteId")
	assert.Contains(t, m, "partiallyFillable")
}

func TestCowSubmitOrder_ReturnsUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`"0xabc123"`))
	}))
	defer srv.Close()

	uid, err := external.NewCowClient(srv.URL, 0).SubmitOrder(context.Background(), external.OrderRequest{})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", uid)
}

func TestCowSubmitOrder_StructuredRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorType":"InsufficientBalance","description":"not enough funds"}`))
	}))
	defer srv.Close()

	_, err := external.NewCowClient(srv.URL, 0).SubmitOrder(context.Background(), external.OrderRequest{})
	require.Error(t, err)
	assert.Equal(t, "InsufficientBalance - not enough funds", err.Error())

	var oe *external.OrderError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusBadRequest, oe.Status)
}

func TestCowSubmitOrder_UnstructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := external.NewCowClient(srv.URL, 0).SubmitOrder(context.Background(), external.OrderRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order request failed")
	assert.Contains(t, err.Error(), "502")
}

func TestCowClient_BreakerOpensOnUpstreamFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := external.NewCowClient(srv.URL, 0)
	for i := 0; i < 5; i++ {
		_, err := c.SubmitOrder(context.Background(), external.OrderRequest{})
		require.Error(t, err)
	}
	_, err := c.SubmitOrder(context.Background(), external.OrderRequest{})
	assert.ErrorIs(t, err, external.ErrCircuitOpen)
	assert.Equal(t, int32(5), hits.Load(), "no request while open")
}

func TestCowClient_RejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorType":"InsufficientBalance","description":"not enough funds"}`))
	}))
	defer srv.Close()

	c := external.NewCowClient(srv.URL, 0)
	for i := 0; i < 8; i++ {
		_, err := c.SubmitOrder(context.Background(), external.OrderRequest{})
		assert.NotErrorIs(t, err, external.ErrCircuitOpen)
	}
	assert.Equal(t, int32(8), hits.Load())
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req struct {
			Model    string `json:"model"`
			System   string `json:"system"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "be careful", req.System)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
		}

		w.Write([]byte(`{"content":[{"type":"text","text":"{\"should_trade\":false,"},{"type":"text","text":"\"reasoning\":\"flat\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	c := external.NewAnthropicClient("sk-test", "test-model", external.WithAnthropicBaseURL(srv.URL))
	out, err := c.Complete(context.Background(), "be careful", "context here")
	require.NoError(t, err)
	assert.Equal(t, `{"should_trade":false,"reasoning":"flat"}`, out)
}

func TestAnthropicComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	c := external.NewAnthropicClient("bad", "m",
		external.WithAnthropicBaseURL(srv.URL),
		external.WithAnthropicRetry(httputil.RetryConfig{MaxAttempts: 1}))
	_, err := c.Complete(context.Background(), "", "hi")

	var ae *external.AnthropicError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "authentication_error", ae.Type)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
}
