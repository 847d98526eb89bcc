package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LoggingConfig  `yaml:"log"`
	Redis   RedisConfig    `yaml:"redis"`
	WS      WSConfig       `yaml:"ws"`
	Venue   VenueConfig    `yaml:"venue"`
	State   StateConfig    `yaml:"state"`
	History HistoryConfig  `yaml:"history"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Alerts  TelegramConfig `yaml:"alerts"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type WSConfig struct {
	URL                  string        `yaml:"url"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	QueueSize            int           `yaml:"queue_size"`
}

type VenueConfig struct {
	ClobURL    string        `yaml:"clob_url"`
	GammaURL   string        `yaml:"gamma_url"`
	DataAPIURL string        `yaml:"data_api_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	DSN       string `yaml:"dsn"`
	Schema    string `yaml:"schema"`
	QueueSize int    `yaml:"queue_size"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

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
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnvOverrides lets secrets live in the environment instead of the
// yaml file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PMARB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PMARB_TELEGRAM_TOKEN"); v != "" {
		cfg.Alerts.Token = v
	}
	if v := os.Getenv("PMARB_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Alerts.ChatID = v
	}
	if v := os.Getenv("PMARB_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "pmarb"
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.WS.ConnectTimeout == 0 {
		cfg.WS.ConnectTimeout = 10 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 10 * time.Second
	}
	if cfg.WS.ReconnectBaseDelay == 0 {
		cfg.WS.ReconnectBaseDelay = time.Second
	}
	if cfg.WS.ReconnectMaxDelay == 0 {
		cfg.WS.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.WS.QueueSize == 0 {
		cfg.WS.QueueSize = 256
	}
	if cfg.Venue.ClobURL == "" {
		cfg.Venue.ClobURL = "https://clob.polymarket.com"
	}
	if cfg.Venue.GammaURL == "" {
		cfg.Venue.GammaURL = "https://gamma-api.polymarket.com"
	}
	if cfg.Venue.DataAPIURL == "" {
		cfg.Venue.DataAPIURL = "https://data-api.polymarket.com"
	}
	if cfg.Venue.Timeout == 0 {
		cfg.Venue.Timeout = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/pm-arb-worker.db"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9110"
	}
}

func validate(cfg *Config) error {
	if cfg.WS.MaxReconnectAttempts < 0 {
		return errors.New("ws.max_reconnect_attempts must be >= 0")
	}
	if cfg.WS.QueueSize < 1 {
		return errors.New("ws.queue_size must be >= 1")
	}
	if cfg.WS.ReconnectMaxDelay < cfg.WS.ReconnectBaseDelay {
		return errors.New("ws.reconnect_max_delay must be >= ws.reconnect_base_delay")
	}
	if cfg.Alerts.Enabled && (cfg.Alerts.Token == "" || cfg.Alerts.ChatID == "") {
		return errors.New("alerts enabled but token or chat_id missing")
	}
	return nil
}
