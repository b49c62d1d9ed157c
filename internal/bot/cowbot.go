package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/agent"
	"github.com/kjannette/cowtrader/internal/execution"
	"github.com/kjannette/cowtrader/internal/ingest"
	"github.com/kjannette/cowtrader/internal/models"
	"github.com/kjannette/cowtrader/internal/repository"
	"github.com/kjannette/cowtrader/internal/risk"
	"github.com/kjannette/cowtrader/internal/strategy"
	"github.com/kjannette/cowtrader/internal/telemetry"
)

// Cycle outcomes, also used as metric labels.
const (
	OutcomeWaiting     = "waiting"
	OutcomeNoSellToken = "no_sell_token"
	OutcomeAgentFailed = "agent_failed"
	OutcomeDecided     = "decided"
	OutcomeFailed      = "failed"
)

// maxBacklog is how many missed blocks the poll loop replays one by one.
// Larger gaps jump straight to the head.
const maxBacklog = 32

type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type BalanceReader interface {
	BalancesOf(ctx context.Context, owner common.Address, tokens []common.Address) (map[common.Address]*big.Int, error)
}

type Executor interface {
	Execute(ctx context.Context, sell, buy common.Address, amount *big.Int) (string, error)
}

type AllowlistChecker interface {
	IsAllowed(ctx context.Context, token common.Address) (bool, error)
}

// Notifier is the operator alert channel. notifications.Sender satisfies it.
type Notifier interface {
	Send(msg string)
	OrderSubmitted(block uint64, uid, sellSymbol, buySymbol, sellAmount string)
	UnsignedOrder(block uint64, uid string, err error)
	AgentFailure(block uint64, err error)
}

type Params struct {
	Account           common.Address
	Cooldown          uint64
	Lookback          uint64
	CatchupBuffer     uint64
	HistoricalStep    uint64
	ExtensionInterval uint64
	PriorDecisions    int
	Formula           strategy.Formula
	EncourageTrade    bool
	StartBlock        uint64
	PollInterval      time.Duration
}

type Deps struct {
	Chain     BlockSource
	Balances  BalanceReader
	Ingestor  *ingest.Ingestor
	Store     *repository.Store
	Guardian  *risk.Guardian
	Agent     agent.Decider
	Executor  Executor
	Notify    Notifier
	Telemetry *telemetry.Metrics
	// Allowlist is optional; when set, Init warns about tokens the trading
	// module would refuse.
	Allowlist AllowlistChecker
}

// CycleResult summarises one block handler run.
type CycleResult struct {
	Block    uint64
	Outcome  string
	Decision *models.Decision
	OrderUID string
	Err      error
}

// CowBot runs the per-block decision cycle. Blocks are handled one at a time
// and every cycle observes the state left by the previous one.
type CowBot struct {
	p    Params
	deps Deps
	log  zerolog.Logger

	mu      sync.Mutex
	state   models.BotState
	running bool
	stopCh  chan struct{}
}

func NewCowBot(p Params, deps Deps) *CowBot {
	if p.PollInterval <= 0 {
		p.PollInterval = 5 * time.Second
	}
	return &CowBot{
		p:      p,
		deps:   deps,
		log:    log.With().Str("component", "bot").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Init brings the trade ledger up to the chain head and schedules the first
// decision: one cooldown after the newest recorded decision, or right away
// when there is none.
func (b *CowBot) Init(ctx context.Context) error {
	head, err := b.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head block: %w", err)
	}

	after, err := b.resumeFrom(ctx, head)
	if err != nil {
		return err
	}
	b.deps.Ingestor.ResumeAt(after)
	recs, err := b.deps.Ingestor.Ingest(ctx, after, head)
	if err != nil {
		return fmt.Errorf("startup ingest: %w", err)
	}
	b.deps.Telemetry.Ingested(len(recs))

	if err := b.deps.Store.Cursor.Save(ctx, head); err != nil {
		return fmt.Errorf("save block cursor: %w", err)
	}

	next := head
	last, err := b.deps.Store.Decisions.Tail(ctx, 1)
	if err != nil {
		return fmt.Errorf("load last decision: %w", err)
	}
	if len(last) > 0 {
		next = last[0].BlockNumber + b.p.Cooldown
	}

	b.mu.Lock()
	b.state = models.BotState{
		NextDecisionBlock:  next,
		LastExtensionBlock: head,
		LastBlock:          head,
	}
	b.mu.Unlock()

	b.checkAllowlist(ctx)

	b.log.Info().Uint64("head", head).Uint64("resumed_after", after).
		Uint64("next_decision", next).Int("trades", len(recs)).
		Msg("bot initialized")
	return nil
}

// resumeFrom picks the block after which startup ingestion begins: the saved
// cursor, else the configured start block, else the head. A ledger whose
// newest trade predates that point pulls it back so no gap is left.
func (b *CowBot) resumeFrom(ctx context.Context, head uint64) (uint64, error) {
	after := head
	cursor, ok, err := b.deps.Store.Cursor.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load block cursor: %w", err)
	}
	switch {
	case ok:
		after = cursor
	case b.p.StartBlock > 0:
		after = b.p.StartBlock - 1
	}

	trades, err := b.deps.Store.Trades.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}
	if n := len(trades); n > 0 && trades[n-1].BlockNumber < after {
		after = trades[n-1].BlockNumber
	}
	if after > head {
		after = head
	}
	return after, nil
}

func (b *CowBot) checkAllowlist(ctx context.Context) {
	if b.deps.Allowlist == nil {
		return
	}
	for _, t := range b.deps.Guardian.Tokens() {
		ok, err := b.deps.Allowlist.IsAllowed(ctx, t.Address)
		if err != nil {
			b.log.Warn().Err(err).Str("token", t.Symbol).Msg("allowlist check failed")
			continue
		}
		if !ok {
			b.log.Warn().Str("token", t.Symbol).Str("address", t.Address.Hex()).
				Msg("token is not on the trading module allowlist")
		}
	}
}

// State returns a copy of the current bot state.
func (b *CowBot) State() models.BotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	if s.SellToken != nil {
		sell := *s.SellToken
		s.SellToken = &sell
	}
	return s
}

func (b *CowBot) updateState(fn func(s *models.BotState)) {
	b.mu.Lock()
	fn(&b.state)
	b.mu.Unlock()
}

// HandleBlock runs one decision cycle for block. It never panics; faults end
// the cycle with OutcomeFailed and leave the next decision block untouched so
// the following block retries.
func (b *CowBot) HandleBlock(ctx context.Context, block uint64) (res CycleResult) {
	res.Block = block
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("block handler panic: %v", r)
		}
		if res.Outcome == OutcomeFailed {
			b.log.Error().Err(res.Err).Uint64("block", block).Str("outcome", res.Outcome).Msg("cycle failed")
		}
		b.deps.Telemetry.Cycle(res.Outcome)
	}()

	if err := b.deps.Store.Cursor.Save(ctx, block); err != nil {
		b.log.Error().Err(err).Uint64("block", block).Msg("failed to save block cursor")
	}

	var next uint64
	b.updateState(func(s *models.BotState) {
		s.LastBlock = block
		s.CanTrade = false
		next = s.NextDecisionBlock
	})
	b.deps.Telemetry.ObserveBlock(block, next)

	if block < next {
		b.maybeExtendHistory(ctx, block)
		res.Outcome = OutcomeWaiting
		return res
	}
	return b.decide(ctx, block, next)
}

func (b *CowBot) decide(ctx context.Context, block, next uint64) CycleResult {
	res := CycleResult{Block: block}
	fail := func(err error) CycleResult {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	recs, err := b.deps.Ingestor.CatchUp(ctx, block, next, b.p.CatchupBuffer)
	if err != nil {
		return fail(fmt.Errorf("catch up trades: %w", err))
	}
	b.deps.Telemetry.Ingested(len(recs))

	balances, err := b.deps.Balances.BalancesOf(ctx, b.p.Account, b.deps.Guardian.Addresses())
	if err != nil {
		return fail(fmt.Errorf("read balances: %w", err))
	}

	sell, err := b.deps.Guardian.SelectSellToken(balances)
	if errors.Is(err, models.ErrNoSellToken) {
		b.updateState(func(s *models.BotState) { s.SellToken = nil })
		b.log.Info().Uint64("block", block).Msg("no token above its minimum balance, skipping decision")
		res.Outcome = OutcomeNoSellToken
		return res
	}
	b.updateState(func(s *models.BotState) {
		s.SellToken = &sell
		s.CanTrade = true
	})

	trades, err := b.deps.Store.Trades.LoadAll(ctx)
	if err != nil {
		return fail(fmt.Errorf("load trades: %w", err))
	}
	b.deps.Telemetry.LedgerSize(len(trades))
	metrics := strategy.ComputeMetrics(trades, b.p.Lookback, b.p.Formula)
	for _, m := range metrics {
		b.deps.Telemetry.PairPrice(b.pairLabel(m.Pair()), m.LastPrice)
	}

	if err := b.resolveLastDecision(ctx, metrics); err != nil {
		b.log.Error().Err(err).Msg("failed to record decision outcome")
	}

	prior, err := b.deps.Store.Decisions.Tail(ctx, b.p.PriorDecisions)
	if err != nil {
		return fail(fmt.Errorf("load prior decisions: %w", err))
	}

	req := agent.Request{
		Context: agent.TradeContext{
			TokenBalances:  balances,
			Metrics:        metrics,
			PriorDecisions: prior,
			LookbackBlocks: b.p.Lookback,
		},
		SellToken:      sell,
		Tokens:         b.deps.Guardian.Tokens(),
		EncourageTrade: b.p.EncourageTrade,
	}
	started := time.Now()
	resp, err := b.deps.Agent.Decide(ctx, req)
	b.deps.Telemetry.AgentCall(time.Since(started))
	if err != nil {
		b.log.Error().Err(err).Uint64("block", block).Msg("agent call failed, decision deferred")
		b.deps.Notify.AgentFailure(block, err)
		res.Outcome = OutcomeAgentFailed
		res.Err = err
		return res
	}

	if resp.Reasoning != "" {
		if err := b.deps.Store.Reasoning.Append(ctx, models.Reasoning{BlockNumber: block, Reasoning: resp.Reasoning}); err != nil {
			b.log.Error().Err(err).Msg("failed to save agent reasoning")
		}
	}

	d := models.Decision{
		BlockNumber:     block,
		ShouldTrade:     resp.ShouldTrade,
		MetricsSnapshot: metrics,
		Profitable:      models.OutcomeUnknown,
	}
	if resp.ShouldTrade {
		d.SellToken = &sell
		d.BuyToken = resp.BuyToken
	}
	if err := b.deps.Guardian.Validate(d, balances); err != nil {
		b.log.Warn().Err(err).Uint64("block", block).Str("buy_token", resp.RawBuyToken).Msg("decision rejected")
	} else {
		d.Valid = true
	}

	if err := b.deps.Store.Decisions.Append(ctx, d); err != nil {
		return fail(fmt.Errorf("save decision: %w", err))
	}
	b.deps.Telemetry.Decision(d.ShouldTrade, d.Valid)
	res.Decision = &d

	ev := b.log.Info().Uint64("block", block).Bool("should_trade", d.ShouldTrade).Bool("valid", d.Valid)
	if d.ShouldTrade && d.BuyToken != nil {
		ev = ev.Str("sell", b.deps.Guardian.Symbol(sell)).Str("buy", b.deps.Guardian.Symbol(*d.BuyToken))
	}
	ev.Msg("decision recorded")

	if d.Valid && d.ShouldTrade {
		res.OrderUID = b.execute(ctx, block, sell, *d.BuyToken, balances[sell])
	}

	newNext := block + b.p.Cooldown
	b.updateState(func(s *models.BotState) { s.NextDecisionBlock = newNext })
	b.deps.Telemetry.ObserveBlock(block, newNext)
	res.Outcome = OutcomeDecided
	return res
}

// execute places the order for the whole sell balance. Failures are logged
// and alerted; they do not fail the cycle, the decision is already recorded.
func (b *CowBot) execute(ctx context.Context, block uint64, sell, buy common.Address, amount *big.Int) string {
	sellSym, buySym := b.deps.Guardian.Symbol(sell), b.deps.Guardian.Symbol(buy)
	uid, err := b.deps.Executor.Execute(ctx, sell, buy, amount)
	if err == nil {
		if uid == "" {
			b.deps.Telemetry.Order("dry_run")
			b.log.Info().Str("sell", sellSym).Str("buy", buySym).Str("amount", amount.String()).
				Msg("dry run, order not placed")
			return ""
		}
		b.deps.Telemetry.Order("signed")
		b.deps.Notify.OrderSubmitted(block, uid, sellSym, buySym, amount.String())
		return uid
	}

	var stageErr *execution.StageError
	if errors.As(err, &stageErr) && stageErr.Submitted() {
		b.deps.Telemetry.Order("unsigned")
		b.log.Error().Err(err).Str("order_uid", stageErr.OrderUID).Str("stage", string(stageErr.Stage)).
			Msg("order submitted but not signed")
		b.deps.Notify.UnsignedOrder(block, stageErr.OrderUID, err)
		return stageErr.OrderUID
	}
	b.deps.Telemetry.Order("failed")
	b.log.Error().Err(err).Str("sell", sellSym).Str("buy", buySym).Msg("order execution failed")
	b.deps.Notify.Send(fmt.Sprintf("Order %s -> %s failed at block %d: %v", sellSym, buySym, block, err))
	return ""
}

// resolveLastDecision records the outcome of the newest decision if it was a
// trade and has not been judged yet.
func (b *CowBot) resolveLastDecision(ctx context.Context, metrics []models.PairMetrics) error {
	last, err := b.deps.Store.Decisions.Tail(ctx, 1)
	if err != nil {
		return err
	}
	if len(last) == 0 {
		return nil
	}
	d := last[0]
	resolved := b.State().ResolvedDecisionBlock
	if !d.ShouldTrade || d.Profitable != models.OutcomeUnknown || d.BlockNumber == resolved {
		return nil
	}

	outcome := strategy.Outcome(d, metrics)
	if err := b.deps.Store.Decisions.PatchLast(ctx, outcome); err != nil {
		return err
	}
	b.updateState(func(s *models.BotState) { s.ResolvedDecisionBlock = d.BlockNumber })
	b.log.Info().Uint64("decision_block", d.BlockNumber).Str("outcome", outcome.String()).Msg("decision outcome recorded")
	return nil
}

// maybeExtendHistory walks the ledger backwards while the bot waits, until
// the lookback window is covered.
func (b *CowBot) maybeExtendHistory(ctx context.Context, block uint64) {
	if b.p.ExtensionInterval == 0 || b.p.HistoricalStep == 0 {
		return
	}
	if block < b.State().LastExtensionBlock+b.p.ExtensionInterval {
		return
	}
	b.updateState(func(s *models.BotState) { s.LastExtensionBlock = block })

	latest, err := b.deps.Ingestor.LastProcessed(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("history extension skipped")
		return
	}
	earliest, err := b.deps.Ingestor.EarliestCovered(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("history extension skipped")
		return
	}
	if earliest == 0 || latest-earliest >= b.p.Lookback {
		return
	}

	_, recs, err := b.deps.Ingestor.ExtendBackward(ctx, b.p.HistoricalStep)
	if err != nil {
		b.log.Warn().Err(err).Msg("history extension failed")
		return
	}
	b.deps.Telemetry.Ingested(len(recs))
}

func (b *CowBot) pairLabel(p models.Pair) string {
	return b.deps.Guardian.Symbol(p.TokenA) + "/" + b.deps.Guardian.Symbol(p.TokenB)
}

// Run polls the chain head and hands every new block to HandleBlock in order.
func (b *CowBot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	seen := b.state.LastBlock
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ticker := time.NewTicker(b.p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			b.deps.Notify.Send("CoW trader shutting down")
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seen = b.poll(ctx, seen)
		}
	}
}

func (b *CowBot) poll(ctx context.Context, seen uint64) uint64 {
	head, err := b.deps.Chain.BlockNumber(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("could not read head block")
		return seen
	}
	if head <= seen {
		return seen
	}
	if head-seen > maxBacklog {
		b.log.Warn().Uint64("from", seen+1).Uint64("to", head-1).Msg("skipping missed blocks")
		seen = head - 1
	}
	for n := seen + 1; n <= head; n++ {
		if ctx.Err() != nil {
			return n - 1
		}
		b.HandleBlock(ctx, n)
	}
	return head
}

func (b *CowBot) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	b.log.Info().Msg("shutting down")
}

func (b *CowBot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
