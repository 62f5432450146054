package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"strategy-core/internal/risk"
)

// Config holds environment-driven settings for the strategy core.
type Config struct {
	Port string

	// Trading session
	TradingMode    string // "paper" or "live"
	Symbols        []string
	InitialCapital float64
	FeeRate        float64 // decimal (e.g. 0.001 = 10 bps)
	SlippagePct    float64 // percent applied to market fills
	Account        string

	// Market data
	UseMockFeed      bool
	MockFeedInterval string // Go duration, e.g. "1s"
	KlineInterval    string // venue candle interval for live feeds, e.g. "1m"
	BinanceTestnet   bool

	// Venue fixed-point precision applied to every configured symbol.
	PricePrecision    int
	QuantityPrecision int

	// Risk limits
	MaxPositionSize    float64
	MaxPositionValue   float64
	MaxExposure        float64
	MaxExposurePct     float64
	MaxDailyLoss       float64
	MaxDailyLossPct    float64
	MaxTotalLoss       float64
	MaxTotalLossPct    float64
	MaxDrawdownPct     float64
	MaxOrderValue      float64
	MaxOrdersPerMinute int

	// Strategy files
	StrategiesPath string

	// Database
	DBPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		TradingMode:      strings.ToLower(getEnv("TRADING_MODE", "paper")),
		Symbols:          splitAndTrim(getEnv("SYMBOLS", "BTCUSDT")),
		InitialCapital:   getEnvFloat("INITIAL_CAPITAL", 10000.0),
		FeeRate:          getEnvFloat("FEE_RATE", 0.001),
		SlippagePct:      getEnvFloat("SLIPPAGE_PCT", 0.05),
		Account:          getEnv("ACCOUNT", "default"),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "true") == "true",
		MockFeedInterval: getEnv("MOCK_FEED_INTERVAL", "1s"),
		KlineInterval:    getEnv("KLINE_INTERVAL", "1m"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",

		PricePrecision:    getEnvInt("PRICE_PRECISION", 2),
		QuantityPrecision: getEnvInt("QUANTITY_PRECISION", 3),

		MaxPositionSize:    getEnvFloat("MAX_POSITION_SIZE", 0),
		MaxPositionValue:   getEnvFloat("MAX_POSITION_VALUE", 50_000),
		MaxExposure:        getEnvFloat("MAX_EXPOSURE", 100_000),
		MaxExposurePct:     getEnvFloat("MAX_EXPOSURE_PCT", 200),
		MaxDailyLoss:       getEnvFloat("MAX_DAILY_LOSS", 1_000),
		MaxDailyLossPct:    getEnvFloat("MAX_DAILY_LOSS_PCT", 0),
		MaxTotalLoss:       getEnvFloat("MAX_TOTAL_LOSS", 0),
		MaxTotalLossPct:    getEnvFloat("MAX_TOTAL_LOSS_PCT", 0),
		MaxDrawdownPct:     getEnvFloat("MAX_DRAWDOWN_PCT", 25),
		MaxOrderValue:      getEnvFloat("MAX_ORDER_VALUE", 10_000),
		MaxOrdersPerMinute: getEnvInt("MAX_ORDERS_PER_MINUTE", 30),

		StrategiesPath: getEnv("STRATEGIES_PATH", "./strategies.yaml"),
		DBPath:         getEnv("DB_PATH", "./data/strategy.db"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

// RiskLimits maps the configured ceilings onto a risk limit snapshot.
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionSize:    c.MaxPositionSize,
		MaxPositionValue:   c.MaxPositionValue,
		MaxExposure:        c.MaxExposure,
		MaxExposurePct:     c.MaxExposurePct,
		MaxDailyLoss:       c.MaxDailyLoss,
		MaxDailyLossPct:    c.MaxDailyLossPct,
		MaxTotalLoss:       c.MaxTotalLoss,
		MaxTotalLossPct:    c.MaxTotalLossPct,
		MaxDrawdownPct:     c.MaxDrawdownPct,
		MaxOrderValue:      c.MaxOrderValue,
		MaxOrdersPerMinute: c.MaxOrdersPerMinute,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
