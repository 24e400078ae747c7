package shared

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	GroupID      string `envconfig:"KAFKA_GROUP" default:"indicator-engine"`
	EventsTopic  string `envconfig:"EVENTS_TOPIC" default:"market.events"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"all"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576"` // 1MB
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	Database string `envconfig:"POSTGRES_DB" default:"trading"`
	User     string `envconfig:"POSTGRES_USER" default:"trader"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"trader"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"4"`
	Table    string `envconfig:"PG_TABLE" default:"indicator_snapshots"`
}

// MetricsConfig controls the Prometheus / status listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000"`
}

// LogConfig selects the minimum level written.
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// PipelineConfig holds the recompute loop knobs.
type PipelineConfig struct {
	Symbol          string        `envconfig:"SYMBOL"` // optional: ignore events for other symbols
	WindowSize      int           `envconfig:"WINDOW_SIZE" default:"60"`
	MinTrades       int           `envconfig:"MIN_TRADES" default:"30"`
	TickInterval    time.Duration `envconfig:"TICK_INTERVAL" default:"100ms"`
	GateInterval    time.Duration `envconfig:"GATE_INTERVAL" default:"100ms"`
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"2s"`
	QueueSize       int           `envconfig:"EVENT_QUEUE_SIZE" default:"4096"`
}

// FeedConfig describes the live market-data subscription.
type FeedConfig struct {
	URL        string        `envconfig:"COINAPI_WS_URL" default:"wss://ws.coinapi.io/v1/"`
	APIKey     string        `envconfig:"COINAPI_KEY"`
	AssetID    string        `envconfig:"FEED_ASSET" default:"PI"`
	ExchangeID string        `envconfig:"FEED_EXCHANGE" default:"BITGET"`
	SymbolID   string        `envconfig:"FEED_SYMBOL"` // optional: drop events for any other symbol
	Sim        bool          `envconfig:"SIM_FEED" default:"false"`
	SimSymbol  string        `envconfig:"SIM_SYMBOL" default:"BITGET_SPOT_PI_USDT"`
	SimPrice   float64       `envconfig:"SIM_BASE_PRICE" default:"0.75"`
	SimStep    time.Duration `envconfig:"SIM_STEP" default:"50ms"`
}

// WebhookConfig controls delivery to the analytics webhook.
type WebhookConfig struct {
	URL           string        `envconfig:"WEBHOOK_URL"`
	BatchSize     int           `envconfig:"WEBHOOK_BATCH" default:"50"`
	FlushInterval time.Duration `envconfig:"WEBHOOK_FLUSH" default:"5s"`
	Timeout       time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
}

// SQLiteConfig points the local sink at a database file.
type SQLiteConfig struct {
	Path string `envconfig:"SQLITE_PATH" default:"data/indicators.db"`
}

// Load reads an optional .env file and then fills the given struct from the
// environment.
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	err := envconfig.Process(prefix, &cfg)
	return cfg, err
}
