package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	envPrefix   = "AUTOCLOSE"
	minInterval = 100 * time.Millisecond
)

const (
	VenueBinance     = "binance"
	VenueHyperliquid = "hyperliquid"

	ModePerPosition = "per_position"
	ModeAggregate   = "aggregate"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Exchanges  ExchangesConfig  `mapstructure:"exchanges"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"`
	MarkStream MarkStreamConfig `mapstructure:"mark_stream"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type ExchangeConfig struct {
	Venue string `mapstructure:"venue"`
}

type ExchangesConfig struct {
	Binance     BinanceConfig     `mapstructure:"binance"`
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
}

type BinanceConfig struct {
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BaseURL    string `mapstructure:"base_url"`
	Testnet    bool   `mapstructure:"testnet"`
	QuoteAsset string `mapstructure:"quote_asset"`
	RecvWindow int64  `mapstructure:"recv_window"`
}

type HyperliquidConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	WalletAddress string  `mapstructure:"wallet_address"`
	PrivateKey    string  `mapstructure:"private_key"`
	Slippage      float64 `mapstructure:"slippage"`
}

type GuardConfig struct {
	Mode             string        `mapstructure:"mode"`
	TakeProfit       float64       `mapstructure:"take_profit"`
	StopLoss         float64       `mapstructure:"stop_loss"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	ErrorPause       time.Duration `mapstructure:"error_pause"`
	ClosePause       time.Duration `mapstructure:"close_pause"`
	CloseAllPause    time.Duration `mapstructure:"close_all_pause"`
	SymbolsWhitelist []string      `mapstructure:"symbols_whitelist"`
	DryRun           bool          `mapstructure:"dry_run"`
}

type DashboardConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type MarkStreamConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type JournalConfig struct {
	Path string `mapstructure:"path"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("exchange.venue", VenueBinance)
	v.SetDefault("exchanges.binance.quote_asset", "USDT")
	v.SetDefault("exchanges.binance.recv_window", 5000)
	v.SetDefault("exchanges.hyperliquid.base_url", "https://api.hyperliquid.xyz")
	v.SetDefault("exchanges.hyperliquid.slippage", 0.05)
	v.SetDefault("guard.mode", ModePerPosition)
	v.SetDefault("guard.take_profit", 1.0)
	v.SetDefault("guard.stop_loss", -1.0)
	v.SetDefault("guard.check_interval", 3*time.Second)
	v.SetDefault("guard.error_pause", 10*time.Second)
	v.SetDefault("guard.close_pause", time.Second)
	v.SetDefault("guard.close_all_pause", 500*time.Millisecond)
	v.SetDefault("dashboard.addr", ":5000")
	v.SetDefault("dashboard.stale_after", 10*time.Second)
	v.SetDefault("mark_stream.url", "wss://fstream.binance.com/ws/!markPrice@arr@1s")
	v.SetDefault("journal.path", "autoclose.db")

	// Keys without a default are invisible to AutomaticEnv on Unmarshal.
	v.SetDefault("app.log_file", "")
	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.secret_key", "")
	v.SetDefault("exchanges.binance.base_url", "")
	v.SetDefault("exchanges.binance.testnet", false)
	v.SetDefault("exchanges.hyperliquid.wallet_address", "")
	v.SetDefault("exchanges.hyperliquid.private_key", "")
	v.SetDefault("guard.symbols_whitelist", []string{})
	v.SetDefault("guard.dry_run", false)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("mark_stream.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
}

// LoadConfig reads config.yaml from path (optional), the .env file in the
// working directory (optional) and AUTOCLOSE_* environment variables.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyConventionalEnv(&cfg)
	return &cfg, nil
}

// applyConventionalEnv honours the variable names the exchange's own tooling uses.
func applyConventionalEnv(cfg *Config) {
	if cfg.Exchanges.Binance.APIKey == "" {
		cfg.Exchanges.Binance.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if cfg.Exchanges.Binance.SecretKey == "" {
		cfg.Exchanges.Binance.SecretKey = os.Getenv("BINANCE_API_SECRET")
	}
	if cfg.Exchanges.Hyperliquid.PrivateKey == "" {
		cfg.Exchanges.Hyperliquid.PrivateKey = os.Getenv("HYPERLIQUID_PRIVATE_KEY")
	}
}

// Validate checks the settings every command needs. Credentials are
// checked separately by RequireCredentials.
func (c *Config) Validate() error {
	switch c.Exchange.Venue {
	case VenueBinance, VenueHyperliquid:
	default:
		return fmt.Errorf("unknown exchange venue %q", c.Exchange.Venue)
	}
	switch c.Guard.Mode {
	case ModePerPosition, ModeAggregate:
	default:
		return fmt.Errorf("unknown guard mode %q", c.Guard.Mode)
	}
	// Bare integers decode as nanoseconds; durations are written as "3s".
	if c.Guard.CheckInterval < minInterval {
		return fmt.Errorf("guard.check_interval %s is below %s (use a duration such as 3s)", c.Guard.CheckInterval, minInterval)
	}
	if c.Guard.ErrorPause < minInterval {
		return fmt.Errorf("guard.error_pause %s is below %s (use a duration such as 10s)", c.Guard.ErrorPause, minInterval)
	}
	if c.Guard.ClosePause < 0 || c.Guard.CloseAllPause < 0 {
		return errors.New("close pauses must not be negative")
	}
	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return errors.New("dashboard.addr is required when the dashboard is enabled")
	}
	return nil
}

// RequireCredentials fails when the selected venue cannot sign orders.
func (c *Config) RequireCredentials() error {
	switch c.Exchange.Venue {
	case VenueBinance:
		if c.Exchanges.Binance.APIKey == "" || c.Exchanges.Binance.SecretKey == "" {
			return errors.New("binance api_key and secret_key are required")
		}
	case VenueHyperliquid:
		if c.Exchanges.Hyperliquid.PrivateKey == "" {
			return errors.New("hyperliquid private_key is required")
		}
	}
	return nil
}

// ThresholdWarnings lists suspicious threshold settings. They are reported,
// not rejected.
func (c *Config) ThresholdWarnings() []string {
	tp := decimal.NewFromFloat(c.Guard.TakeProfit)
	sl := decimal.NewFromFloat(c.Guard.StopLoss)

	var warnings []string
	if !tp.IsPositive() {
		warnings = append(warnings, fmt.Sprintf("take_profit %s is not positive", tp))
	}
	if !sl.IsNegative() {
		warnings = append(warnings, fmt.Sprintf("stop_loss %s is not negative", sl))
	}
	if sl.GreaterThanOrEqual(tp) {
		warnings = append(warnings, fmt.Sprintf("stop_loss %s overlaps take_profit %s; take-profit wins", sl, tp))
	}
	return warnings
}
