package constants

import "time"

// Redis keys
const (
	RedisKeyPricePrefix = "price:"
	RedisKeyHaltPrefix  = "halts:"
	RedisKeyHaltIndex   = "halts:index"
)

// Redis Pub/Sub channels
const (
	PubSubChannelOrders       = "orders:all"
	PubSubChannelPairPrefix   = "orders:pair:"
	PubSubChannelPriceUpdates = "prices:updates"
)

// Upstream
const (
	DefaultKasFyiBaseURL = "https://api-v2-do.kas.fyi"
	KRC20Path            = "/token/krc20"
)

// Cache and order lifetimes
const (
	DefaultPriceCacheTTL = 30 * time.Second
	DefaultOrderTTL      = 30 * time.Minute
	DefaultSweepInterval = 1 * time.Minute
	DefaultSettleTimeout = 1 * time.Hour
	DefaultRefresh       = 30 * time.Second
)

// Limits
const (
	DefaultCatalogPageSize = 50
	MaxCatalogPageSize     = 500
	MaxPriceBatch          = 100
)

// Native chain unit
const (
	NativeTicker   = "KAS"
	NativeDecimals = 8
	SompiPerKAS    = 100_000_000
)

// KRC20 operation types accepted by the wallet's signKRC20Transaction.
const (
	KRC20OpDeploy   = 2
	KRC20OpMint     = 3
	KRC20OpTransfer = 4
)

// ClickHouse
const (
	ClickHouseOrdersTable = "swap_orders"
)
