package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const DefaultCowAPIBaseURL = "https://api.cow.fi/xdai/api/v1"

// QuoteRequest is the body of POST /quote for a presigned sell order.
type QuoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	From                string `json:"from"`
	Receiver            string `json:"receiver"`
	AppData             string `json:"appData"`
	AppDataHash         string `json:"appDataHash"`
	SellTokenBalance    string `json:"sellTokenBalance"`
	BuyTokenBalance     string `json:"buyTokenBalance"`
	PriceQuality        string `json:"priceQuality"`
	SigningScheme       string `json:"signingScheme"`
	OnchainOrder        bool   `json:"onchainOrder"`
	Kind                string `json:"kind"`
}

// NewSellQuoteRequest fills the fixed fields of a presign sell quote.
// from is also the receiver.
func NewSellQuoteRequest(sellToken, buyToken, sellAmount, from, appDataHash string) QuoteRequest {
	return QuoteRequest{
		SellToken:           sellToken,
		BuyToken:            buyToken,
		SellAmountBeforeFee: sellAmount,
		From:                from,
		Receiver:            from,
		AppData:             "{}",
		AppDataHash:         appDataHash,
		SellTokenBalance:    "erc20",
		BuyTokenBalance:     "erc20",
		PriceQuality:        "verified",
		SigningScheme:       "presign",
		OnchainOrder:        false,
		Kind:                "sell",
	}
}

type Quote struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData"`
	AppDataHash       string `json:"appDataHash"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
}

type QuoteResponse struct {
	Quote      Quote  `json:"quote"`
	From       string `json:"from"`
	Expiration string `json:"expiration"`
	ID         int64  `json:"id"`
	Verified   bool   `json:"verified"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	Receiver          string `json:"receiver"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidTo           uint32 `json:"validTo"`
	FeeAmount         string `json:"feeAmount"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`
	SigningScheme     string `json:"signingScheme"`
	Signature         string `json:"signature"`
	From              string `json:"from"`
	QuoteID           int64  `json:"quoteId"`
	AppData           string `json:"appData"`
	AppDataHash       string `json:"appDataHash"`
}

// OrderFromQuote turns a quote into a presign order with a zero fee.
func OrderFromQuote(q QuoteResponse) OrderRequest {
	return OrderRequest{
		SellToken:         q.Quote.SellToken,
		BuyToken:          q.Quote.BuyToken,
		Receiver:          q.Quote.Receiver,
		SellAmount:        q.Quote.SellAmount,
		BuyAmount:         q.Quote.BuyAmount,
		ValidTo:           q.Quote.ValidTo,
		FeeAmount:         "0",
		Kind:              q.Quote.Kind,
		PartiallyFillable: q.Quote.PartiallyFillable,
		SellTokenBalance:  q.Quote.SellTokenBalance,
		BuyTokenBalance:   q.Quote.BuyTokenBalance,
		SigningScheme:     "presign",
		Signature:         "0x",
		From:              q.From,
		QuoteID:           q.ID,
		AppData:           q.Quote.AppData,
		AppDataHash:       q.Quote.AppDataHash,
	}
}

// OrderError is the structured rejection returned by the CoW API.
type OrderError struct {
	Status      int
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s - %s", e.ErrorType, e.Description)
}

// CowClient talks to the CoW Protocol order book API. Requests are never
// retried; a breaker stops calls after repeated upstream failures.
type CowClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewCowClient(baseURL string, timeout time.Duration) *CowClient {
	if baseURL == "" {
		baseURL = DefaultCowAPIBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CowClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    newBreaker("cow-api", 5, time.Minute, isClientFault),
	}
}

func (c *CowClient) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	return execute(c.breaker, func() (QuoteResponse, error) {
		var out QuoteResponse
		status, body, err := c.post(ctx, "/quote", req)
		if err != nil {
			return out, fmt.Errorf("quote request failed: %w", err)
		}
		if !success(status) {
			return out, fmt.Errorf("quote request failed: %w", decodeOrderError(status, body))
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("decode quote: %w", err)
		}
		return out, nil
	})
}

// SubmitOrder posts an order and returns its UID.
func (c *CowClient) SubmitOrder(ctx context.Context, order OrderRequest) (string, error) {
	return execute(c.breaker, func() (string, error) {
		status, body, err := c.post(ctx, "/orders", order)
		if err != nil {
			return "", fmt.Errorf("order request failed: %w", err)
		}
		if !success(status) {
			return "", decodeOrderError(status, body)
		}
		return strings.Trim(strings.TrimSpace(string(body)), `"`), nil
	})
}

func (c *CowClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func success(status int) bool { return status >= 200 && status < 300 }

// decodeOrderError parses {errorType, description}. Bodies that are not
// that shape become a generic failure carrying the status.
func decodeOrderError(status int, body []byte) error {
	oe := &OrderError{Status: status}
	if err := json.Unmarshal(body, oe); err != nil || oe.ErrorType == "" {
		return fmt.Errorf("order request failed: HTTP %d: %s", status, truncate(string(body), 200))
	}
	if oe.Description == "" {
		oe.Description = http.StatusText(status)
	}
	return oe
}

func isClientFault(err error) bool {
	var oe *OrderError
	return errors.As(err, &oe) && oe.Status < 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
