package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// API settings
	APIAddr string `yaml:"api_addr"`
	APIKey  string `yaml:"api_key"`
	DevMode bool   `yaml:"dev_mode"`

	// Upstream price/catalog API
	KasFyiBaseURL string        `yaml:"kasfyi_base_url"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	UpstreamRPS   float64       `yaml:"upstream_rps"`
	UpstreamBurst int           `yaml:"upstream_burst"`

	// Price cache
	PriceCacheTTL        time.Duration `yaml:"price_cache_ttl"`
	PriceCacheMaxEntries int           `yaml:"price_cache_max_entries"`
	PriceCacheBackend    string        `yaml:"price_cache_backend"`
	PriceRefresh         time.Duration `yaml:"price_refresh_interval"`
	WatchTickers         []string      `yaml:"watch_tickers"`

	// Catalog
	CatalogPageSize int `yaml:"catalog_page_size"`

	// Order book
	OrderTTL      time.Duration `yaml:"order_ttl"`
	SweepInterval time.Duration `yaml:"order_sweep_interval"`
	SettleTimeout time.Duration `yaml:"order_settle_timeout"`

	// Pre-submit risk limits (CLI submit path)
	RiskMaxOrderUSD     float64  `yaml:"risk_max_order_usd"`
	RiskDailyLimitUSD   float64  `yaml:"risk_daily_limit_usd"`
	RiskMaxDeviationBps int      `yaml:"risk_max_deviation_bps"`
	RiskAllowedTokens   []string `yaml:"risk_allowed_tokens"`

	// Redis settings (optional)
	RedisAddr string `yaml:"redis_addr"`

	// ClickHouse settings (optional)
	ClickHouseAddr     string `yaml:"clickhouse_addr"`
	ClickHouseDatabase string `yaml:"clickhouse_database"`
	ClickHouseUsername string `yaml:"clickhouse_username"`
	ClickHousePassword string `yaml:"clickhouse_password"`

	// AI
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`

	// Local wallet (CLI only)
	WalletPrivateKey string `yaml:"-"`
	WalletAddress    string `yaml:"wallet_address"`

	fileErr error
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIAddr:             ":8090",
		KasFyiBaseURL:       constants.DefaultKasFyiBaseURL,
		HTTPTimeout:         12 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        500 * time.Millisecond,
		UpstreamRPS:         5,
		UpstreamBurst:       10,
		PriceCacheTTL:       constants.DefaultPriceCacheTTL,
		PriceCacheBackend:   "memory",
		PriceRefresh:        constants.DefaultRefresh,
		CatalogPageSize:     constants.DefaultCatalogPageSize,
		OrderTTL:            constants.DefaultOrderTTL,
		SweepInterval:       constants.DefaultSweepInterval,
		SettleTimeout:       constants.DefaultSettleTimeout,
		RiskMaxOrderUSD:     1_000,
		RiskDailyLimitUSD:   10_000,
		RiskMaxDeviationBps: 500,
		ClickHouseDatabase:  "krc20",
		ClickHouseUsername:  "default",
	}
}

// Load builds the config from defaults, the optional CONFIG_FILE (YAML) and
// environment variables, in that order of precedence (env wins).
func Load() *Config {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			cfg.fileErr = err
		}
	}

	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.DevMode = getBoolEnv("DEV_MODE", cfg.DevMode)

	cfg.KasFyiBaseURL = getEnv("KASFYI_BASE_URL", cfg.KasFyiBaseURL)
	cfg.HTTPTimeout = getDurationEnv("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.MaxRetries = getIntEnv("MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryBackoff = getDurationEnv("RETRY_BACKOFF", cfg.RetryBackoff)
	cfg.UpstreamRPS = getFloatEnv("UPSTREAM_RPS", cfg.UpstreamRPS)
	cfg.UpstreamBurst = getIntEnv("UPSTREAM_BURST", cfg.UpstreamBurst)

	cfg.PriceCacheTTL = getDurationEnv("PRICE_CACHE_TTL", cfg.PriceCacheTTL)
	cfg.PriceCacheMaxEntries = getIntEnv("PRICE_CACHE_MAX_ENTRIES", cfg.PriceCacheMaxEntries)
	cfg.PriceCacheBackend = getEnv("PRICE_CACHE_BACKEND", cfg.PriceCacheBackend)
	cfg.PriceRefresh = getDurationEnv("PRICE_REFRESH_INTERVAL", cfg.PriceRefresh)
	cfg.WatchTickers = getListEnv("WATCH_TICKERS", cfg.WatchTickers)

	cfg.CatalogPageSize = getIntEnv("CATALOG_PAGE_SIZE", cfg.CatalogPageSize)

	cfg.OrderTTL = getDurationEnv("ORDER_TTL", cfg.OrderTTL)
	cfg.SweepInterval = getDurationEnv("ORDER_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SettleTimeout = getDurationEnv("ORDER_SETTLE_TIMEOUT", cfg.SettleTimeout)

	cfg.RiskMaxOrderUSD = getFloatEnv("RISK_MAX_ORDER_USD", cfg.RiskMaxOrderUSD)
	cfg.RiskDailyLimitUSD = getFloatEnv("RISK_DAILY_LIMIT_USD", cfg.RiskDailyLimitUSD)
	cfg.RiskMaxDeviationBps = getIntEnv("RISK_MAX_DEVIATION_BPS", cfg.RiskMaxDeviationBps)
	cfg.RiskAllowedTokens = getListEnv("RISK_ALLOWED_TOKENS", cfg.RiskAllowedTokens)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)

	cfg.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", cfg.ClickHouseAddr)
	cfg.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", cfg.ClickHouseDatabase)
	cfg.ClickHouseUsername = getEnv("CLICKHOUSE_USERNAME", cfg.ClickHouseUsername)
	cfg.ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", cfg.ClickHousePassword)

	cfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", cfg.OpenRouterAPIKey)

	cfg.WalletPrivateKey = getEnv("WALLET_PRIVATE_KEY", cfg.WalletPrivateKey)
	cfg.WalletAddress = getEnv("WALLET_ADDRESS", cfg.WalletAddress)

	return cfg
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	if c.fileErr != nil {
		return c.fileErr
	}
	if strings.TrimSpace(c.KasFyiBaseURL) == "" {
		return fmt.Errorf("KASFYI_BASE_URL is required")
	}
	if c.PriceCacheTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be > 0")
	}
	if c.PriceCacheMaxEntries < 0 {
		return fmt.Errorf("PRICE_CACHE_MAX_ENTRIES must be >= 0")
	}
	switch c.PriceCacheBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis price cache")
		}
	default:
		return fmt.Errorf("unknown PRICE_CACHE_BACKEND %q (use memory|redis)", c.PriceCacheBackend)
	}
	if c.OrderTTL <= 0 {
		return fmt.Errorf("ORDER_TTL must be > 0")
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("ORDER_SETTLE_TIMEOUT must be > 0")
	}
	if c.CatalogPageSize < 1 || c.CatalogPageSize > constants.MaxCatalogPageSize {
		return fmt.Errorf("CATALOG_PAGE_SIZE must be between 1 and %d", constants.MaxCatalogPageSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0")
	}
	if c.UpstreamRPS <= 0 {
		return fmt.Errorf("UPSTREAM_RPS must be > 0")
	}
	if c.RiskMaxDeviationBps < 0 || c.RiskMaxDeviationBps > 10_000 {
		return fmt.Errorf("RISK_MAX_DEVIATION_BPS must be between 0 and 10000")
	}
	if c.RiskMaxOrderUSD < 0 || c.RiskDailyLimitUSD < 0 {
		return fmt.Errorf("risk USD limits must be >= 0")
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
