// Package execution turns an approved trade intent into a presigned CoW
// Protocol order.
package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/external"
	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/repository"
)

type Stage string

const (
	StageQuote      Stage = "quote"
	StageSubmit     Stage = "submit"
	StagePersist    Stage = "persist"
	StageSign       Stage = "sign"
	StageMarkSigned Stage = "mark_signed"
)

// StageError reports which step failed. OrderUID is set once the order
// book has accepted the order, so a failure from StagePersist onward means
// an order is live but possibly unsigned. Error returns the underlying
// message unchanged.
type StageError struct {
	Stage    Stage
	OrderUID string
	Err      error
}

func (e *StageError) Error() string { return e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// Submitted reports whether the order reached the order book.
func (e *StageError) Submitted() bool { return e.OrderUID != "" }

type OrderAPI interface {
	Quote(ctx context.Context, req external.QuoteRequest) (external.QuoteResponse, error)
	SubmitOrder(ctx context.Context, order external.OrderRequest) (string, error)
}

// Signer authorizes a submitted order on chain and returns the tx hash.
type Signer interface {
	Sign(ctx context.Context, orderUID string, order external.OrderRequest) (string, error)
}

type Config struct {
	Account     common.Address
	AppDataHash string
	DryRun      bool
}

type Pipeline struct {
	api    OrderAPI
	signer Signer
	orders repository.OrderLedger
	cfg    Config
}

func NewPipeline(api OrderAPI, signer Signer, orders repository.OrderLedger, cfg Config) *Pipeline {
	return &Pipeline{api: api, signer: signer, orders: orders, cfg: cfg}
}

// Execute sells amount of sell for buy. It returns the order UID on full
// success. In dry-run mode the order is built and logged but never
// submitted, and the returned UID is empty.
func (p *Pipeline) Execute(ctx context.Context, sell, buy common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", &StageError{Stage: StageQuote, Err: fmt.Errorf("sell amount must be positive")}
	}

	quote, err := p.api.Quote(ctx, external.NewSellQuoteRequest(
		sell.Hex(), buy.Hex(), amount.String(), p.cfg.Account.Hex(), p.cfg.AppDataHash,
	))
	if err != nil {
		return "", &StageError{Stage: StageQuote, Err: err}
	}
	log.Info().Str("component", "execution").
		Int64("quote_id", quote.ID).Str("sell_amount", quote.Quote.SellAmount).
		Str("buy_amount", quote.Quote.BuyAmount).Msg("quote received")

	order := external.OrderFromQuote(quote)

	if p.cfg.DryRun {
		log.Info().Str("component", "execution").Bool("dry_run", true).
			Str("sell", order.SellToken).Str("buy", order.BuyToken).
			Str("sell_amount", order.SellAmount).Str("buy_amount", order.BuyAmount).
			Uint32("valid_to", order.ValidTo).Msg("order built, not submitted")
		return "", nil
	}

	uid, err := p.api.SubmitOrder(ctx, order)
	if err != nil {
		return "", &StageError{Stage: StageSubmit, Err: err}
	}
	log.Info().Str("component", "execution").Str("order_uid", uid).Msg("order submitted")

	if err := p.orders.Append(ctx, Record(uid, order, false)); err != nil {
		return uid, &StageError{Stage: StagePersist, OrderUID: uid, Err: fmt.Errorf("persist order: %w", err)}
	}

	txHash, err := p.signer.Sign(ctx, uid, order)
	if err != nil {
		return uid, &StageError{Stage: StageSign, OrderUID: uid, Err: fmt.Errorf("sign order: %w", err)}
	}
	log.Info().Str("component", "execution").Str("order_uid", uid).Str("tx", txHash).Msg("order presigned")

	if err := p.orders.MarkSigned(ctx, uid); err != nil {
		return uid, &StageError{Stage: StageMarkSigned, OrderUID: uid, Err: fmt.Errorf("mark signed: %w", err)}
	}
	return uid, nil
}

// Record maps a submitted order onto its ledger row.
func Record(uid string, o external.OrderRequest, signed bool) models.OrderRecord {
	return models.OrderRecord{
		OrderUID:   uid,
		Signed:     signed,
		SellToken:  common.HexToAddress(o.SellToken),
		BuyToken:   common.HexToAddress(o.BuyToken),
		Receiver:   common.HexToAddress(o.Receiver),
		SellAmount: o.SellAmount,
		BuyAmount:  o.BuyAmount,
		ValidTo:    o.ValidTo,
	}
}
