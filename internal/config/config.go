package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/kjannette/cowtrader/internal/models"
)

type Config struct {
	// Secrets (from .env)
	PrivateKey          string
	EthereumAPIEndpoint string
	AnthropicAPIKey     string
	WebhookURL          string
	BotName             string
	APIKey              string
	CORSAllowOrigin     string

	// Chain
	ChainID               int
	SafeAddress           string
	SettlementAddress     string
	TradingModuleAddress  string
	TokenAllowlistAddress string
	MulticallAddress      string
	GasLimit              int
	GasMultiplier         float64
	LogRangeLimit         int
	RPCRateLimit          float64

	// CoW API
	CowAPIBaseURL string
	AppDataHash   string

	// Storage
	StoreBackend      string
	TradeFilepath     string
	BlockFilepath     string
	OrdersFilepath    string
	DecisionsFilepath string
	ReasoningFilepath string
	DBHost            string
	DBPort            int
	DBName            string
	DBUser            string
	DBPassword        string

	// Tokens, in declaration order
	Tokens []models.Token

	// Decision cycle
	StartBlock           uint64
	HistoricalBlockStep  int
	ExtensionInterval    int
	TradingBlockCooldown int
	LookbackBlocks       int
	CatchupBufferBlocks  int
	PriorDecisions       int
	MetricsFormula       string
	RequireSellBalance   bool

	// Agent
	AgentModel           string
	SystemPromptFilepath string
	EncourageTrade       bool

	DryRun bool

	// Timing
	PollIntervalSeconds    int
	ArchiveIntervalMinutes int

	// API
	APIPort int

	LogLevel  string
	LogFormat string

	// Optional infrastructure
	RedisAddr     string
	RedisPassword string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3Prefix      string
}

// tokenFile is the shape of the optional CONFIG_FILE.
type tokenFile struct {
	Tokens []struct {
		Symbol     string `toml:"symbol"`
		Address    string `toml:"address"`
		MinBalance string `toml:"min_balance"`
		Stable     bool   `toml:"stable"`
	} `toml:"tokens"`
}

var defaultTokens = []struct {
	symbol, address, minBalance string
	stable                      bool
}{
	{"GNO", "0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb", "116", false},
	{"COW", "0x177127622c4A00F3d409B75571e12cB3c8973d3c", "10e18", false},
	{"WXDAI", "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d", "5e18", true},
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Secrets
		PrivateKey:          envStr("PRIVATE_KEY", ""),
		EthereumAPIEndpoint: envStr("ETHEREUM_API_ENDPOINT", "https://rpc.gnosischain.com"),
		AnthropicAPIKey:     envStr("ANTHROPIC_API_KEY", ""),
		WebhookURL:          envStr("WEBHOOK_URL", ""),
		BotName:             envStr("BOT_NAME", "CowTrader"),
		APIKey:              envStr("API_KEY", ""),
		CORSAllowOrigin:     envStr("CORS_ALLOW_ORIGIN", "*"),

		// Chain
		ChainID:               envInt("CHAIN_ID", 100),
		SafeAddress:           envStr("SAFE_ADDRESS", "0xbc3c7818177dA740292659b574D48B699Fdf0816"),
		SettlementAddress:     envStr("SETTLEMENT_ADDRESS", "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
		TradingModuleAddress:  envStr("TRADING_MODULE_ADDRESS", "0xF11bC1ff8Ab8Cc297e5a1f1A51B8d1792E99D648"),
		TokenAllowlistAddress: envStr("TOKEN_ALLOWLIST_ADDRESS", "0x98a4351d926e6274829c3807f39D9a7037462589"),
		MulticallAddress:      envStr("MULTICALL_ADDRESS", "0xcA11bde05977b3631167028862bE2a173976CA11"),
		GasLimit:              envInt("GAS_LIMIT", 300000),
		GasMultiplier:         envFloat("GAS_MULTIPLIER", 1.2),
		LogRangeLimit:         envInt("LOG_RANGE_LIMIT", 2000),
		RPCRateLimit:          envFloat("RPC_RATE_LIMIT", 10),

		// CoW API
		CowAPIBaseURL: envStr("COW_API_BASE_URL", "https://api.cow.fi/xdai/api/v1"),
		AppDataHash:   envStr("APP_DATA_HASH", "0xb48d38f93eaa084033fc5970bf96e559c33c4cdc07d889ab00b4d63f9590739d"),

		// Storage
		StoreBackend:      strings.ToLower(envStr("STORE_BACKEND", "csv")),
		TradeFilepath:     envStr("TRADE_FILEPATH", ".db/trades.csv"),
		BlockFilepath:     envStr("BLOCK_FILEPATH", ".db/last_block_processed.csv"),
		OrdersFilepath:    envStr("ORDERS_FILEPATH", ".db/orders.csv"),
		DecisionsFilepath: envStr("DECISIONS_FILEPATH", ".db/decisions.csv"),
		ReasoningFilepath: envStr("REASONING_FILEPATH", ".db/reasoning.jsonl"),
		DBHost:            envStr("DB_HOST", "localhost"),
		DBPort:            envInt("DB_PORT", 5432),
		DBName:            envStr("DB_NAME", "cowtrader"),
		DBUser:            envStr("DB_USER", ""),
		DBPassword:        envStr("DB_PASSWORD", ""),

		// Decision cycle
		StartBlock:           uint64(envInt("START_BLOCK", 0)),
		HistoricalBlockStep:  envInt("HISTORICAL_BLOCK_STEP", 720),
		ExtensionInterval:    envInt("EXTENSION_INTERVAL", 6),
		TradingBlockCooldown: envInt("TRADING_BLOCK_COOLDOWN", 360),
		LookbackBlocks:       envInt("LOOKBACK_BLOCKS", 15000),
		CatchupBufferBlocks:  envInt("CATCHUP_BUFFER_BLOCKS", 5),
		PriorDecisions:       envInt("PRIOR_DECISIONS", 3),
		MetricsFormula:       strings.ToLower(envStr("METRICS_FORMULA", "streak")),
		RequireSellBalance:   envBool("REQUIRE_SELL_BALANCE", false),

		// Agent
		AgentModel:           envStr("AGENT_MODEL", "claude-3-5-sonnet-latest"),
		SystemPromptFilepath: envStr("SYSTEM_PROMPT_FILEPATH", ""),
		EncourageTrade:       envBool("ENCOURAGE_TRADE", false),

		DryRun: envBool("DRY_RUN", false),

		// Timing
		PollIntervalSeconds:    envInt("POLL_INTERVAL_SECONDS", 5),
		ArchiveIntervalMinutes: envInt("ARCHIVE_INTERVAL_MINUTES", 60),

		APIPort: envInt("API_PORT", 3001),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		S3Bucket:      envStr("S3_BUCKET", ""),
		S3Region:      envStr("S3_REGION", "us-east-1"),
		S3Endpoint:    envStr("S3_ENDPOINT", ""),
		S3Prefix:      envStr("S3_PREFIX", "cowtrader"),
	}

	tokens, err := loadTokens(envStr("CONFIG_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Tokens = tokens

	return cfg, nil
}

// loadTokens builds the monitored token table. Order of precedence:
// MONITORED_TOKENS / MIN_BALANCE_<SYMBOL> env vars, then the TOML file,
// then the built-in Gnosis defaults.
func loadTokens(path string) ([]models.Token, error) {
	type entry struct {
		address, minBalance string
		stable              bool
	}
	known := map[string]entry{}
	var order []string

	for _, d := range defaultTokens {
		known[d.symbol] = entry{d.address, d.minBalance, d.stable}
		order = append(order, d.symbol)
	}

	if path != "" {
		var f tokenFile
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if len(f.Tokens) > 0 {
			order = order[:0]
			for _, t := range f.Tokens {
				sym := strings.ToUpper(t.Symbol)
				known[sym] = entry{t.Address, t.MinBalance, t.Stable}
				order = append(order, sym)
			}
		}
	}

	if v := os.Getenv("MONITORED_TOKENS"); v != "" {
		order = order[:0]
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				order = append(order, s)
			}
		}
	}

	tokens := make([]models.Token, 0, len(order))
	for _, sym := range order {
		e := known[sym]
		if addr := os.Getenv("TOKEN_ADDRESS_" + sym); addr != "" {
			e.address = addr
		}
		if mb := os.Getenv("MIN_BALANCE_" + sym); mb != "" {
			e.minBalance = mb
		}
		if !common.IsHexAddress(e.address) {
			return nil, fmt.Errorf("token %s: invalid or missing address %q", sym, e.address)
		}
		minBal, err := ParseAmount(e.minBalance)
		if err != nil {
			return nil, fmt.Errorf("token %s: min balance: %w", sym, err)
		}
		tokens = append(tokens, models.Token{
			Symbol:     sym,
			Address:    common.HexToAddress(e.address),
			MinBalance: minBal,
			Stable:     e.stable,
		})
	}
	return tokens, nil
}

// ParseAmount parses an integer base-unit amount, accepting exponent
// notation such as "10e18". Empty means zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("fractional base-unit amount %q", s)
	}
	return d.BigInt(), nil
}

// Validate checks everything the bot needs to trade.
func (c *Config) Validate() error { return c.validate(true) }

// ValidateData checks only what the ledger commands (backfill, metrics,
// archive) need; no signing key or agent credentials.
func (c *Config) ValidateData() error { return c.validate(false) }

func (c *Config) validate(trading bool) error {
	var errs []string

	if !common.IsHexAddress(c.SafeAddress) {
		errs = append(errs, "SAFE_ADDRESS must be a hex address")
	}
	if !common.IsHexAddress(c.SettlementAddress) {
		errs = append(errs, "SETTLEMENT_ADDRESS must be a hex address")
	}
	if c.EthereumAPIEndpoint == "" {
		errs = append(errs, "ETHEREUM_API_ENDPOINT is required")
	}
	if len(c.Tokens) < 2 {
		errs = append(errs, "at least two monitored tokens are required")
	}
	if c.TradingBlockCooldown <= 0 {
		errs = append(errs, "TRADING_BLOCK_COOLDOWN must be positive")
	}
	if c.LookbackBlocks <= 0 {
		errs = append(errs, "LOOKBACK_BLOCKS must be positive")
	}
	if c.HistoricalBlockStep <= 0 || c.ExtensionInterval <= 0 {
		errs = append(errs, "HISTORICAL_BLOCK_STEP and EXTENSION_INTERVAL must be positive")
	}
	if c.MetricsFormula != "streak" && c.MetricsFormula != "imbalance" {
		errs = append(errs, "METRICS_FORMULA must be streak or imbalance")
	}
	if c.StoreBackend != "csv" && c.StoreBackend != "postgres" {
		errs = append(errs, "STORE_BACKEND must be csv or postgres")
	}
	if c.StoreBackend == "postgres" && c.DBUser == "" {
		errs = append(errs, "DB_USER is required for the postgres backend")
	}
	if trading {
		if !c.DryRun && c.PrivateKey == "" {
			errs = append(errs, "PRIVATE_KEY is required unless DRY_RUN is enabled")
		}
		if c.AnthropicAPIKey == "" {
			errs = append(errs, "ANTHROPIC_API_KEY is required")
		}
		if c.APIKey == "" {
			fmt.Println("[WARN] API_KEY not set: REST API has no authentication")
		}
		if c.WebhookURL == "" {
			fmt.Println("[WARN] WEBHOOK_URL not set: unsigned order alerts will only be logged")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== CoW Trading Bot Configuration ===")

	if c.DryRun {
		fmt.Println("════════════════════════════════════════")
		fmt.Println("  DRY RUN MODE ENABLED")
		fmt.Println("  Orders are quoted but never submitted")
		fmt.Println("════════════════════════════════════════")
	} else {
		fmt.Println("  LIVE TRADING MODE")
	}

	fmt.Println("--------------------------------------")
	fmt.Printf("Chain ID: %d\n", c.ChainID)
	if len(c.SafeAddress) > 16 {
		fmt.Printf("Safe: %s...%s\n", c.SafeAddress[:10], c.SafeAddress[len(c.SafeAddress)-6:])
	}
	fmt.Printf("Settlement: %s...\n", truncAddr(c.SettlementAddress))
	fmt.Printf("CoW API: %s\n", c.CowAPIBaseURL)
	fmt.Println("--------------------------------------")
	fmt.Println("Monitored Tokens:")
	for _, t := range c.Tokens {
		fmt.Printf("  %-6s %s... min %s%s\n", t.Symbol, truncAddr(t.Address.Hex()), t.MinBalance, boolLabel(t.Stable, " (stable)", ""))
	}
	fmt.Println("--------------------------------------")
	fmt.Println("Decision Cycle:")
	fmt.Printf("  Cooldown: %d blocks\n", c.TradingBlockCooldown)
	fmt.Printf("  Lookback: %d blocks\n", c.LookbackBlocks)
	fmt.Printf("  Metrics: %s\n", c.MetricsFormula)
	fmt.Printf("  Store: %s\n", c.StoreBackend)
	fmt.Printf("  Agent: %s\n", boolLabel(c.AnthropicAPIKey != "", c.AgentModel, "not configured"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// TokenAddresses returns the monitored token addresses in declaration order.
func (c *Config) TokenAddresses() []common.Address {
	out := make([]common.Address, len(c.Tokens))
	for i, t := range c.Tokens {
		out[i] = t.Address
	}
	return out
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func truncAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10]
	}
	return addr
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
