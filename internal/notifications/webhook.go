package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/httputil"
)

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = "CowTrader"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	log.Info().Str("component", "notify").Msg(formatted)

	if s.webhookURL == "" {
		return
	}

	payload := s.formatPayload(formatted)
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Str("component", "notify").Err(err).Msg("marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		log.Error().Str("component", "notify").Err(err).Msg("failed to send notification after retries")
		return
	}
	resp.Body.Close()
}

// OrderSubmitted reports an order accepted by the CoW API and presigned.
func (s *Sender) OrderSubmitted(block uint64, uid, sellSymbol, buySymbol, sellAmount string) {
	s.Send(fmt.Sprintf("block %d: order %s submitted, selling %s %s for %s", block, shortUID(uid), sellAmount, sellSymbol, buySymbol))
}

// UnsignedOrder alerts that an order reached the order book but the presign
// transaction failed. The order will not execute until it is signed.
func (s *Sender) UnsignedOrder(block uint64, uid string, err error) {
	s.Send(fmt.Sprintf("ALERT block %d: order %s submitted but NOT signed: %v", block, uid, err))
}

func (s *Sender) AgentFailure(block uint64, err error) {
	s.Send(fmt.Sprintf("block %d: decision agent failed, retrying next block: %v", block, err))
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

func shortUID(uid string) string {
	if len(uid) > 18 {
		return uid[:10] + "…" + uid[len(uid)-6:]
	}
	return uid
}
