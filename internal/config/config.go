package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig              `yaml:"log"`
	REST      RESTConfig                 `yaml:"rest"`
	WS        WSConfig                   `yaml:"ws"`
	State     StateConfig                `yaml:"state"`
	Strategy  StrategyConfig             `yaml:"strategy"`
	Precision map[string]PrecisionConfig `yaml:"precision"`
	Metrics   MetricsConfig              `yaml:"metrics"`
	Telegram  TelegramConfig             `yaml:"telegram"`
	Timescale TimescaleConfig            `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	PublicURL      string        `yaml:"public_url"`
	PrivateURL     string        `yaml:"private_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	Symbol           string        `yaml:"symbol"`
	Size             float64       `yaml:"size"`
	LongStrikePrice  float64       `yaml:"long_strike_price"`
	ShortStrikePrice float64       `yaml:"short_strike_price"`
	ThresholdPercent float64       `yaml:"threshold_percent"`
	MaxBounceCount   int           `yaml:"max_bounce_count"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	OrderbookDepth   int           `yaml:"orderbook_depth"`
	EventQueueSize   int           `yaml:"event_queue_size"`
}

type PrecisionConfig struct {
	Price int `yaml:"price"`
	Size  int `yaml:"size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Token                string        `yaml:"token"`
	ChatID               string        `yaml:"chat_id"`
	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	// OperatorAllowedUserIDs restricts commands to these Telegram user
	// ids. Empty means any member of the configured chat.
	OperatorAllowedUserIDs []int64 `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultPrecision applies to symbols missing from the precision table.
var DefaultPrecision = PrecisionConfig{Price: 2, Size: 3}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.bybit.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.PublicURL == "" {
		cfg.WS.PublicURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if cfg.WS.PrivateURL == "" {
		cfg.WS.PrivateURL = "wss://stream.bybit.com/v5/private"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 20 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/strike-guard-bot.db"
	}
	if cfg.Strategy.TickInterval == 0 {
		cfg.Strategy.TickInterval = 10 * time.Millisecond
	}
	if cfg.Strategy.OrderbookDepth == 0 {
		cfg.Strategy.OrderbookDepth = 1
	}
	if cfg.Strategy.EventQueueSize == 0 {
		cfg.Strategy.EventQueueSize = 1024
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9091"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Strategy.Symbol == "" {
		return errors.New("strategy.symbol is required")
	}
	if cfg.Strategy.Size <= 0 {
		return errors.New("strategy.size must be > 0")
	}
	if cfg.Strategy.LongStrikePrice <= 0 || cfg.Strategy.ShortStrikePrice <= 0 {
		return errors.New("strategy.long_strike_price and strategy.short_strike_price must be > 0")
	}
	if cfg.Strategy.ShortStrikePrice >= cfg.Strategy.LongStrikePrice {
		return fmt.Errorf("strategy.short_strike_price %.4f must be below long_strike_price %.4f",
			cfg.Strategy.ShortStrikePrice, cfg.Strategy.LongStrikePrice)
	}
	if cfg.Strategy.ThresholdPercent < 0 {
		return errors.New("strategy.threshold_percent must be >= 0")
	}
	if cfg.Strategy.MaxBounceCount < 0 {
		return errors.New("strategy.max_bounce_count must be >= 0")
	}
	for symbol, prec := range cfg.Precision {
		if prec.Price < 0 || prec.Size < 0 {
			return fmt.Errorf("precision for %s must be >= 0", symbol)
		}
	}
	return nil
}

// PrecisionFor returns the configured precision for a symbol, falling back
// to the {2,3} default when the symbol is not listed.
func (c *Config) PrecisionFor(symbol string) PrecisionConfig {
	if prec, ok := c.Precision[symbol]; ok {
		return prec
	}
	return DefaultPrecision
}
