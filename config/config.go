package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"cryptostream/models"
)

type Config struct {
	Cryptostream CryptostreamConfig  `yaml:"cryptostream"`
	Logging      LoggingConfig       `yaml:"logging"`
	Reader       ReaderConfig        `yaml:"reader"`
	Exchanges    ExchangesConfig     `yaml:"exchanges"`
	Streams      []StreamGroupConfig `yaml:"streams"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Dashboard    DashboardConfig     `yaml:"dashboard"`
	Storage      StorageConfig       `yaml:"storage"`
}

type CryptostreamConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type ReaderConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	Reconnect        bool          `yaml:"reconnect"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	// ConnectRate is dials per second per venue; zero disables the limit.
	ConnectRate  float64 `yaml:"connect_rate"`
	ConnectBurst int     `yaml:"connect_burst"`
}

type ExchangeConfig struct {
	URL string `yaml:"url"`
}

type ExchangesConfig struct {
	Deribit ExchangeConfig `yaml:"deribit"`
	Aevo    ExchangeConfig `yaml:"aevo"`
}

// StreamGroupConfig is one connection's worth of subscriptions.
type StreamGroupConfig struct {
	Name          string               `yaml:"name"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

type SubscriptionConfig struct {
	Exchange   string `yaml:"exchange"`
	Base       string `yaml:"base"`
	Quote      string `yaml:"quote"`
	Instrument string `yaml:"instrument"`
	Kind       string `yaml:"kind"`
	Expiry     string `yaml:"expiry"`
	Strike     string `yaml:"strike"`
	OptionKind string `yaml:"option_kind"`
	Exercise   string `yaml:"exercise"`
}

type MetricsConfig struct {
	QueueDepth         bool             `yaml:"queue_depth"`
	QueueDepthInterval time.Duration    `yaml:"queue_depth_interval"`
	ReportInterval     time.Duration    `yaml:"report_interval"`
	CloudWatch         CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	MetricsHistory int    `yaml:"metrics_history"`
	LogHistory     int    `yaml:"log_history"`
}

type StorageConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Reader: ReaderConfig{
			HandshakeTimeout: 10 * time.Second,
			KeepAlive:        20 * time.Second,
			ReconnectDelay:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			QueueDepth:         true,
			QueueDepthInterval: 10 * time.Second,
			ReportInterval:     time.Minute,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = splitList(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptostream.Name == "" {
		return fmt.Errorf("cryptostream.name is required")
	}

	if cfg.Cryptostream.Version == "" {
		return fmt.Errorf("cryptostream.version is required")
	}

	if cfg.Reader.HandshakeTimeout <= 0 {
		return fmt.Errorf("reader.handshake_timeout must be greater than 0")
	}
	if cfg.Reader.ConnectRate < 0 {
		return fmt.Errorf("reader.connect_rate must not be negative")
	}

	if len(cfg.Streams) == 0 {
		return fmt.Errorf("streams must declare at least one group")
	}
	for i, group := range cfg.Streams {
		if len(group.Subscriptions) == 0 {
			return fmt.Errorf("streams[%d] has no subscriptions", i)
		}
		exchange := group.Subscriptions[0].Exchange
		for j, sub := range group.Subscriptions {
			if sub.Exchange != exchange {
				return fmt.Errorf("streams[%d] mixes exchanges %q and %q", i, exchange, sub.Exchange)
			}
			if _, err := sub.ToInstrument(); err != nil {
				return fmt.Errorf("streams[%d].subscriptions[%d]: %w", i, j, err)
			}
			if _, err := models.ParseStreamKind(sub.Kind); err != nil {
				return fmt.Errorf("streams[%d].subscriptions[%d]: %w", i, j, err)
			}
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	return nil
}

// ToInstrument builds the normalized instrument a subscription names.
func (s SubscriptionConfig) ToInstrument() (models.Instrument, error) {
	if s.Base == "" || s.Quote == "" {
		return models.Instrument{}, fmt.Errorf("base and quote are required")
	}

	var kind models.InstrumentKind
	switch models.InstrumentType(strings.ToLower(s.Instrument)) {
	case models.InstrumentSpot:
		kind = models.Spot()
	case models.InstrumentPerpetual:
		kind = models.Perpetual()
	case models.InstrumentFuture:
		expiry, err := parseExpiry(s.Expiry)
		if err != nil {
			return models.Instrument{}, err
		}
		kind = models.Future(expiry)
	case models.InstrumentOption:
		expiry, err := parseExpiry(s.Expiry)
		if err != nil {
			return models.Instrument{}, err
		}
		strike, err := decimal.NewFromString(s.Strike)
		if err != nil {
			return models.Instrument{}, fmt.Errorf("invalid strike %q: %w", s.Strike, err)
		}
		exercise := models.OptionExercise(strings.ToLower(s.Exercise))
		if exercise == "" {
			exercise = models.ExerciseEuropean
		}
		kind = models.Option(models.OptionContract{
			Kind:     models.OptionKind(strings.ToLower(s.OptionKind)),
			Exercise: exercise,
			Expiry:   expiry,
			Strike:   strike,
		})
	default:
		return models.Instrument{}, fmt.Errorf("unknown instrument %q", s.Instrument)
	}

	if err := kind.Validate(); err != nil {
		return models.Instrument{}, err
	}
	return models.NewInstrument(s.Base, s.Quote, kind), nil
}

// parseExpiry accepts a date (2023-06-30, expiring 08:00 UTC) or RFC3339.
func parseExpiry(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.Add(8 * time.Hour), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q", v)
	}
	return t.UTC(), nil
}

func (s SubscriptionConfig) StreamKind() (models.StreamKind, error) {
	return models.ParseStreamKind(s.Kind)
}
