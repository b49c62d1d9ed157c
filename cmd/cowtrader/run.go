package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/cowtrader/internal/agent"
	"github.com/kjannette/cowtrader/internal/api"
	"github.com/kjannette/cowtrader/internal/blob"
	"github.com/kjannette/cowtrader/internal/bot"
	"github.com/kjannette/cowtrader/internal/ethereum"
	"github.com/kjannette/cowtrader/internal/execution"
	"github.com/kjannette/cowtrader/internal/external"
	"github.com/kjannette/cowtrader/internal/lock"
	"github.com/kjannette/cowtrader/internal/notifications"
	"github.com/kjannette/cowtrader/internal/scheduler"
	"github.com/kjannette/cowtrader/internal/strategy"
	"github.com/kjannette/cowtrader/internal/telemetry"
)

const lockTTL = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the trading bot, REST API and ledger archiver",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	fmt.Print(banner)

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	cfg.Print()

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var instanceLock *lock.Lock
	if cfg.RedisAddr != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()
		instanceLock, err = lock.Acquire(ctx, rdb, "cowtrader:"+cfg.SafeAddress, lockTTL)
		if err != nil {
			return fmt.Errorf("instance lock: %w", err)
		}
		defer instanceLock.Release()
		log.Info().Str("component", "lock").Str("token", instanceLock.Token()).Msg("instance lock acquired")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := telemetry.NewMetrics(reg)

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)
	account := common.HexToAddress(cfg.SafeAddress)

	balances, err := ethereum.NewBalances(a.eth, common.HexToAddress(cfg.MulticallAddress))
	if err != nil {
		return err
	}
	module, err := ethereum.NewTradingModule(a.eth, common.HexToAddress(cfg.TradingModuleAddress))
	if err != nil {
		return err
	}
	var allowlist bot.AllowlistChecker
	if cfg.TokenAllowlistAddress != "" {
		al, err := ethereum.NewAllowlist(a.eth, common.HexToAddress(cfg.TokenAllowlistAddress))
		if err != nil {
			return err
		}
		allowlist = al
	}

	systemPrompt, err := agent.LoadSystemPrompt(cfg.SystemPromptFilepath)
	if err != nil {
		return err
	}
	llm := external.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AgentModel)
	cow := external.NewCowClient(cfg.CowAPIBaseURL, 30*time.Second)
	pipeline := execution.NewPipeline(cow, execution.NewModuleSigner(module), a.store.Orders, execution.Config{
		Account:     account,
		AppDataHash: cfg.AppDataHash,
		DryRun:      cfg.DryRun,
	})

	formula, err := strategy.ParseFormula(cfg.MetricsFormula)
	if err != nil {
		return err
	}
	b := bot.NewCowBot(bot.Params{
		Account:           account,
		Cooldown:          uint64(cfg.TradingBlockCooldown),
		Lookback:          uint64(cfg.LookbackBlocks),
		CatchupBuffer:     uint64(cfg.CatchupBufferBlocks),
		HistoricalStep:    uint64(cfg.HistoricalBlockStep),
		ExtensionInterval: uint64(cfg.ExtensionInterval),
		PriorDecisions:    cfg.PriorDecisions,
		Formula:           formula,
		EncourageTrade:    cfg.EncourageTrade,
		StartBlock:        cfg.StartBlock,
		PollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}, bot.Deps{
		Chain:     a.eth,
		Balances:  balances,
		Ingestor:  a.ingestor,
		Store:     a.store,
		Guardian:  a.guardian,
		Agent:     agent.New(llm, systemPrompt),
		Executor:  pipeline,
		Notify:    notify,
		Telemetry: tel,
		Allowlist: allowlist,
	})
	svc := bot.NewService(b, notify)

	var dbPinger api.Pinger
	if a.pool != nil {
		dbPinger = a.pool
	}
	srv := api.NewServer(api.Deps{
		Store:    a.store,
		Bot:      svc,
		Guardian: a.guardian,
		DB:       dbPinger,
		Gatherer: reg,
		Lookback: uint64(cfg.LookbackBlocks),
		Formula:  formula,
	}, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin)

	var archiver *scheduler.ArchiveScheduler
	if cfg.S3Bucket != "" {
		writer, err := blob.NewS3Writer(ctx, blob.Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint})
		if err != nil {
			return err
		}
		archiver = scheduler.NewArchiveScheduler(a.store, writer, scheduler.ArchiveConfig{
			Interval: time.Duration(cfg.ArchiveIntervalMinutes) * time.Minute,
			Prefix:   cfg.S3Prefix,
		})
	} else {
		log.Info().Str("component", "scheduler").Msg("archive skipped: no S3_BUCKET configured")
	}

	g, gctx := errgroup.WithContext(ctx)

	mode := "LIVE MODE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	if err := svc.Start(gctx, mode); err != nil {
		return err
	}
	g.Go(func() error { return svc.Wait(gctx) })

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if instanceLock != nil {
		g.Go(func() error {
			if err := instanceLock.Keep(gctx); err != nil {
				return fmt.Errorf("instance lock: %w", err)
			}
			return nil
		})
	}

	if archiver != nil {
		archiver.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")
		if archiver != nil {
			archiver.Stop()
		}
		svc.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Str("component", "api").Err(err).Msg("shutdown error")
		}
		return nil
	})

	log.Info().Msg("all services started")
	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
