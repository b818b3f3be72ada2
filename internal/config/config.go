package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	envparse "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/marketpulse/anomaly-radar/internal/domain"
)

// Config is the full set of tunables the runner needs at startup. All
// fields are immutable once loaded — nothing in the pipeline mutates
// Config after LoadConfig returns.
type Config struct {
	Env      string `env:"ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	Feed     FeedConfig
	Alert    AlertConfig
	Metrics  MetricsConfig
	Security SecurityConfig

	Majors   []domain.Symbol
	LargeCap []domain.Symbol

	Thresholds map[domain.Group]domain.GroupThresholds
}

type FeedConfig struct {
	BaseURL   string `env:"COINGLASS_BASE_URL" envDefault:"wss://open-api-v4.coinglass.com"`
	APIKeyWS  string `env:"COINGLASS_API_KEY_WS"`

	PingInterval     time.Duration `env:"WS_PING_INTERVAL_SECONDS" envDefault:"20s"`
	PingTimeout      time.Duration `env:"WS_PING_TIMEOUT_SECONDS" envDefault:"60s"`
	MinPingInterval  time.Duration `env:"WS_MIN_PING_INTERVAL_SECONDS" envDefault:"10s"`
	MaxPingInterval  time.Duration `env:"WS_MAX_PING_INTERVAL_SECONDS" envDefault:"120s"`
	AdaptivePing     bool          `env:"WS_ADAPTIVE_PING_ENABLED" envDefault:"true"`
	ConnectTimeout   time.Duration `env:"WS_CONNECT_TIMEOUT_SECONDS" envDefault:"30s"`

	ReconnectBase     time.Duration `env:"WS_RECONNECT_BASE_SECONDS" envDefault:"1s"`
	ReconnectMax      time.Duration `env:"WS_RECONNECT_MAX_SECONDS" envDefault:"60s"`
	ReconnectMaxTries int           `env:"WS_RECONNECT_MAX_ATTEMPTS" envDefault:"10"`

	OutboundRatePerSec float64 `env:"WS_OUTBOUND_RATE_PER_SEC" envDefault:"5"`

	BaseWindowSeconds  int     `env:"AGGREGATOR_BASE_WINDOW_SECONDS" envDefault:"30"`
	MinWindowSeconds   int     `env:"AGGREGATOR_MIN_WINDOW_SECONDS" envDefault:"10"`
	MaxWindowSeconds   int     `env:"AGGREGATOR_MAX_WINDOW_SECONDS" envDefault:"120"`
	MaxEventsPerBuffer int     `env:"AGGREGATOR_MAX_EVENTS_PER_BUFFER" envDefault:"2000"`
	MaxMemoryMB        float64 `env:"AGGREGATOR_MAX_MEMORY_MB" envDefault:"512"`
}

type AlertConfig struct {
	TelegramAlertToken string   `env:"TELEGRAM_ALERT_TOKEN"`
	ChatIDs            []string `env:"-"`
	AlertChannelID     string   `env:"TELEGRAM_ALERT_CHANNEL_ID"`
	AdminChatID        string   `env:"TELEGRAM_ADMIN_CHAT_ID"`

	FanoutSpacing   time.Duration `env:"ALERT_FANOUT_SPACING_MS" envDefault:"100ms"`
	SendTimeout     time.Duration `env:"ALERT_SEND_TIMEOUT_SECONDS" envDefault:"30s"`
	RecordMaxAgeHrs int           `env:"ALERT_RECORD_MAX_AGE_HOURS" envDefault:"24"`
}

type MetricsConfig struct {
	Enabled    bool   `env:"METRICS_ENABLED" envDefault:"true"`
	ListenAddr string `env:"METRICS_LISTEN_ADDR" envDefault:":9090"`
}

type SecurityConfig struct {
	RequestSigningEnabled bool   `env:"REQUEST_SIGNING_ENABLED" envDefault:"true"`
	HMACSecretKey         string `env:"HMAC_SECRET_KEY" envDefault:"default-hmac-secret-change-in-production"`
	PrivateDataMasking    bool   `env:"PRIVATE_DATA_MASKING" envDefault:"true"`
	EncryptionKey         string `env:"ENCRYPTION_KEY"`
	AdminJWTSecret        string `env:"ADMIN_JWT_SECRET"`
	AdminTokenExpiryHrs   int    `env:"ADMIN_TOKEN_EXPIRY_HOURS" envDefault:"12"`
}

// LoadConfig loads environment variables (optionally from a local
// .env file, same convention as the original bot) and assembles a
// validated Config.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Overload(".env")
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := envparse.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Majors = overrideSymbolList("SYMBOL_GROUP_MAJORS", domain.DefaultMajors())
	cfg.LargeCap = overrideSymbolList("SYMBOL_GROUP_LARGE_CAP", domain.DefaultLargeCap())
	cfg.Thresholds = domain.DefaultGroupThresholds()

	cfg.Alert.ChatIDs = buildChatIDs(cfg.Alert.AlertChannelID, cfg.Alert.AdminChatID)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the hard startup checks:
// required credentials present, at least one destination chat ID, and
// the chat-sink credential must not collide with any other credential
// the process holds.
func (c *Config) Validate() error {
	var missing []string
	if c.Alert.TelegramAlertToken == "" {
		missing = append(missing, "TELEGRAM_ALERT_TOKEN")
	}
	if c.Feed.APIKeyWS == "" {
		missing = append(missing, "COINGLASS_API_KEY_WS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required environment variable(s): %s", domain.ErrConfigInvalid, strings.Join(missing, ", "))
	}
	if len(c.Alert.ChatIDs) == 0 {
		return fmt.Errorf("%w: at least one alert chat ID is required", domain.ErrConfigInvalid)
	}
	if mainToken := os.Getenv("TELEGRAM_BOT_TOKEN"); mainToken != "" && mainToken == c.Alert.TelegramAlertToken {
		return fmt.Errorf("%w: TELEGRAM_ALERT_TOKEN must differ from TELEGRAM_BOT_TOKEN", domain.ErrConfigInvalid)
	}
	return nil
}

func buildChatIDs(primary, fallback string) []string {
	var ids []string
	if primary != "" {
		ids = append(ids, primary)
	}
	if fallback != "" && fallback != primary {
		ids = append(ids, fallback)
	}
	return ids
}

func overrideSymbolList(envKey string, defaults []domain.Symbol) []domain.Symbol {
	raw := os.Getenv(envKey)
	if raw == "" {
		return defaults
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, domain.Symbol(p))
		}
	}
	if len(out) == 0 {
		return defaults
	}
	return out
}

// ParseIntEnv looks up a single integer env variable, returning def when
// it is unset or not an integer. Nothing else in the module calls it.
func ParseIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
