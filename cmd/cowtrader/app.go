package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/cowtrader/internal/config"
	"github.com/kjannette/cowtrader/internal/db"
	"github.com/kjannette/cowtrader/internal/ethereum"
	"github.com/kjannette/cowtrader/internal/ingest"
	"github.com/kjannette/cowtrader/internal/logging"
	"github.com/kjannette/cowtrader/internal/repository"
	"github.com/kjannette/cowtrader/internal/risk"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	eth      *ethereum.Client
	pool     *pgxpool.Pool
	store    *repository.Store
	guardian *risk.Guardian
	ingestor *ingest.Ingestor
}

// loadConfig reads .env and the environment, configures logging and
// validates. trading selects the full check used by the bot.
func loadConfig(trading bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	validate := cfg.ValidateData
	if trading {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore returns the ledgers for the configured backend. The pool is nil
// on the CSV backend.
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, *pgxpool.Pool, error) {
	if cfg.StoreBackend != "postgres" {
		log.Info().Str("component", "db").Str("trades", cfg.TradeFilepath).Msg("using CSV ledgers")
		return repository.NewCSVStore(
			cfg.TradeFilepath,
			cfg.DecisionsFilepath,
			cfg.OrdersFilepath,
			cfg.BlockFilepath,
			cfg.ReasoningFilepath,
		), nil, nil
	}

	log.Info().Str("component", "db").Str("host", cfg.DBHost).Int("port", cfg.DBPort).
		Str("db", cfg.DBName).Msg("connecting")
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.TestConnection(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db migrate: %w", err)
	}
	return repository.NewPGStore(pool), pool, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool, store: store}

	a.eth, err = ethereum.NewClient(ctx, ethereum.ClientConfig{
		RPCURL:            cfg.EthereumAPIEndpoint,
		PrivateKeyHex:     cfg.PrivateKey,
		ChainID:           int64(cfg.ChainID),
		GasLimit:          cfg.GasLimit,
		GasMultiplier:     cfg.GasMultiplier,
		RequestsPerSecond: cfg.RPCRateLimit,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	settlement, err := ethereum.NewSettlement(a.eth, common.HexToAddress(cfg.SettlementAddress), uint64(cfg.LogRangeLimit))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.guardian = risk.NewGuardian(cfg.Tokens, cfg.RequireSellBalance)
	a.ingestor = ingest.NewIngestor(settlement, store.Trades, a.guardian.Addresses(), 0)
	return a, nil
}

func (a *app) Close() {
	if a.eth != nil {
		a.eth.Close()
	}
	if a.pool != nil {
		a.pool.Close()
		log.Info().Str("component", "db").Msg("connection pool closed")
	}
}
