// Package config defines all configuration for the SentryCoin engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Symbol       string           `mapstructure:"symbol"`
	PaperTrading bool             `mapstructure:"paper_trading"`
	RealTime     bool             `mapstructure:"real_time_feeds"`
	Exchange     ExchangeConfig   `mapstructure:"exchange"`
	Liquidity    LiquidityConfig  `mapstructure:"liquidity"`
	Classifier   ClassifierConfig `mapstructure:"classifier"`
	Scheduler    SchedulerConfig  `mapstructure:"scheduler"`
	Whale        WhaleConfig      `mapstructure:"whale"`
	Telegram     TelegramConfig   `mapstructure:"telegram"`
	Logging      LoggingConfig    `mapstructure:"logging"`
	Server       ServerConfig     `mapstructure:"server"`
}

// ExchangeConfig holds venue endpoints for the ingest streams.
// The spot venue provides the depth snapshot + diff stream; the two
// derivatives venues provide open interest, funding and mark price.
type ExchangeConfig struct {
	RESTBaseURL   string `mapstructure:"rest_base_url"`   // depth snapshot endpoint host
	WSDepthURL    string `mapstructure:"ws_depth_url"`    // diff-depth stream
	WSDerivURL    string `mapstructure:"ws_deriv_url"`    // perpetuals ticker (OI + funding)
	WSMarkURL     string `mapstructure:"ws_mark_url"`     // futures mark-price stream
	Depth         int    `mapstructure:"depth"`           // top-N levels to request and analyze
	MaxReconnects int    `mapstructure:"max_reconnects"`  // attempts before a stream reports DEGRADED
}

// LiquidityConfig tunes the Dynamic Liquidity Analyzer.
//
//   - DepthNormal: total top-N quantity that maps the depth component to 100.
//   - ImpactNotionalUSD: hypothetical market order size for the impact walk.
//   - RingSize: rolling DLS history cap (2880 = 24h at one sample per 30s).
//   - SampleInterval: minimum spacing between ring appends.
//   - SignalThreshold: percentile required for IsValidForSignal (before the
//     classifier's adaptive overlay).
type LiquidityConfig struct {
	DepthNormal       float64       `mapstructure:"depth_normal"`
	ImpactNotionalUSD float64       `mapstructure:"impact_notional_usd"`
	RingSize          int           `mapstructure:"ring_size"`
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	SignalThreshold   int           `mapstructure:"signal_threshold"`
	VolumeWindow      time.Duration `mapstructure:"volume_window"`
}

// ClassifierConfig selects the threshold profile and the adaptive overlay
// parameters. Profile is "strict" (production) or "aggressive" (a calibration
// that fires frequently, for shakedowns and integration testing).
type ClassifierConfig struct {
	Profile            string        `mapstructure:"profile"`
	AlertReduction     int           `mapstructure:"alert_reduction"`      // points removed per active alert
	ThresholdFloor     int           `mapstructure:"threshold_floor"`      // effective threshold never drops below this
	SilenceWindow      time.Duration `mapstructure:"silence_window"`       // forced diagnostic after this much silence
	WhaleAlertTTL      time.Duration `mapstructure:"whale_alert_ttl"`      // validity of whale-derived alerts
	OIAlertTTL         time.Duration `mapstructure:"oi_alert_ttl"`         // validity of OI_SPIKE alerts
	OISpikePct         float64       `mapstructure:"oi_spike_pct"`         // open-interest jump that raises OI_SPIKE
	FundingSpikeRate   float64       `mapstructure:"funding_spike_rate"`   // |funding| that raises FUNDING_SPIKE
	VolatilitySpikePct float64       `mapstructure:"volatility_spike_pct"` // mark-price move that raises HIGH_VOLATILITY
}

// SchedulerConfig bounds the task queue and worker pool.
type SchedulerConfig struct {
	MaxQueueSize     int           `mapstructure:"max_queue_size"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	Workers          int           `mapstructure:"workers"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	ShutdownDeadline time.Duration `mapstructure:"shutdown_deadline"`
}

// WhaleConfig holds the watchlist and the balance provider.
// Watchlist and exchange tags are loaded once at startup; changing them
// requires a restart.
type WhaleConfig struct {
	WebhookToken    string            `mapstructure:"webhook_token"`
	EtherscanURL    string            `mapstructure:"etherscan_url"`
	EtherscanKey    string            `mapstructure:"etherscan_key"`
	Watchlist       []string          `mapstructure:"watchlist"`
	ExchangeTags    map[string]string `mapstructure:"exchange_tags"` // address -> venue name
	CriticalUSD     float64           `mapstructure:"critical_usd"`  // threat >= CRITICAL above this
	AlertUSD        float64           `mapstructure:"alert_usd"`     // side-channel alert above this
	BalanceInterval time.Duration     `mapstructure:"balance_interval"`
}

// TelegramConfig configures the outbound notifier. Empty token disables it.
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	ChatID      string        `mapstructure:"chat_id"`
	BaseURL     string        `mapstructure:"base_url"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// LoggingConfig configures the stateful logger and its optional file sink.
type LoggingConfig struct {
	Level           string `mapstructure:"level"`
	Format          string `mapstructure:"format"` // "json" or "text"
	StateChangeOnly bool   `mapstructure:"state_change_only"`
	Dir             string `mapstructure:"dir"`        // empty = console only
	MaxFileBytes    int64  `mapstructure:"max_file_bytes"`
	MaxFiles        int    `mapstructure:"max_files"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Secrets come from env: TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID,
// ETHERSCAN_API_KEY, WEBHOOK_SECURITY_TOKEN. Operational toggles SYMBOL,
// PORT, PAPER_TRADING and ENABLE_REAL_TIME_FEEDS are honored too.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive and operational fields from env
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Telegram.BotToken = tok
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Telegram.ChatID = chat
	}
	if key := os.Getenv("ETHERSCAN_API_KEY"); key != "" {
		cfg.Whale.EtherscanKey = key
	}
	if tok := os.Getenv("WEBHOOK_SECURITY_TOKEN"); tok != "" {
		cfg.Whale.WebhookToken = tok
	}
	if sym := os.Getenv("SYMBOL"); sym != "" {
		cfg.Symbol = sym
	}
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Server.Port)
	}
	if pt := os.Getenv("PAPER_TRADING"); pt == "false" || pt == "0" {
		cfg.PaperTrading = false
	}
	if rt := os.Getenv("ENABLE_REAL_TIME_FEEDS"); rt == "false" || rt == "0" {
		cfg.RealTime = false
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "ETHUSDT")
	v.SetDefault("paper_trading", true)
	v.SetDefault("real_time_feeds", true)

	v.SetDefault("exchange.depth", 50)
	v.SetDefault("exchange.max_reconnects", 10)

	v.SetDefault("liquidity.depth_normal", 2000)
	v.SetDefault("liquidity.impact_notional_usd", 10000)
	v.SetDefault("liquidity.ring_size", 2880)
	v.SetDefault("liquidity.sample_interval", 30*time.Second)
	v.SetDefault("liquidity.signal_threshold", 75)
	v.SetDefault("liquidity.volume_window", time.Hour)

	v.SetDefault("classifier.profile", "strict")
	v.SetDefault("classifier.alert_reduction", 15)
	v.SetDefault("classifier.threshold_floor", 10)
	v.SetDefault("classifier.silence_window", 60*time.Second)
	v.SetDefault("classifier.whale_alert_ttl", 30*time.Second)
	v.SetDefault("classifier.oi_alert_ttl", 60*time.Second)
	v.SetDefault("classifier.oi_spike_pct", 5.0)
	v.SetDefault("classifier.funding_spike_rate", 0.0005)
	v.SetDefault("classifier.volatility_spike_pct", 1.5)

	v.SetDefault("scheduler.max_queue_size", 500)
	v.SetDefault("scheduler.max_concurrent", 8)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.default_timeout", 30*time.Second)
	v.SetDefault("scheduler.shutdown_deadline", 30*time.Second)

	v.SetDefault("whale.etherscan_url", "https://api.etherscan.io/api")
	v.SetDefault("whale.critical_usd", 10_000_000)
	v.SetDefault("whale.alert_usd", 1_000_000)
	v.SetDefault("whale.balance_interval", 5*time.Minute)

	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.min_interval", time.Second)
	v.SetDefault("telegram.queue_size", 128)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.state_change_only", true)
	v.SetDefault("logging.max_file_bytes", 10*1024*1024)
	v.SetDefault("logging.max_files", 30)

	v.SetDefault("server.port", 8080)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required (set SYMBOL)")
	}
	if c.RealTime {
		if c.Exchange.RESTBaseURL == "" {
			return fmt.Errorf("exchange.rest_base_url is required when real_time_feeds is on")
		}
		if c.Exchange.WSDepthURL == "" {
			return fmt.Errorf("exchange.ws_depth_url is required when real_time_feeds is on")
		}
	}
	if c.Whale.WebhookToken == "" {
		return fmt.Errorf("whale.webhook_token is required (set WEBHOOK_SECURITY_TOKEN)")
	}
	if c.Liquidity.RingSize <= 0 {
		return fmt.Errorf("liquidity.ring_size must be > 0")
	}
	if c.Liquidity.SignalThreshold < 0 || c.Liquidity.SignalThreshold > 100 {
		return fmt.Errorf("liquidity.signal_threshold must be in [0,100]")
	}
	switch c.Classifier.Profile {
	case "strict", "aggressive":
	default:
		return fmt.Errorf("classifier.profile must be \"strict\" or \"aggressive\"")
	}
	if c.Scheduler.MaxQueueSize <= 0 {
		return fmt.Errorf("scheduler.max_queue_size must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port")
	}
	return nil
}
