package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수로 배포별 값을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Storage struct {
		Drive         string          `yaml:"drive"` // local | sqlite | memory
		Path          string          `yaml:"path"`
		AppendOnlyNew bool            `yaml:"append_only_new"`
		PriceStep     decimal.Decimal `yaml:"price_step"`
		VolumeStep    decimal.Decimal `yaml:"volume_step"`
		MessageCache  bool            `yaml:"message_cache"`
		DaysLoad      int             `yaml:"days_load"`
		Baskets       []BasketConfig  `yaml:"baskets"`
	} `yaml:"storage"`

	Cache struct {
		RedisAddr string `yaml:"redis_addr"` // empty disables the fast tier
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Prefix    string `yaml:"prefix"`
		TTLSec    int    `yaml:"ttl_sec"`
	} `yaml:"cache"`

	Snapshot struct {
		Dir             string `yaml:"dir"`
		FlushIntervalMS int    `yaml:"flush_interval_ms"`
	} `yaml:"snapshot"`

	Processor struct {
		BufferSize         int    `yaml:"buffer_size"`
		InboxSize          int    `yaml:"inbox_size"`
		StorageIntervalMS  int    `yaml:"storage_interval_ms"`
		Mode               string `yaml:"mode"` // incremental | snapshot
		FilterSubscription bool   `yaml:"filter_subscription"`
	} `yaml:"processor"`

	Live struct {
		WebSocket struct {
			URL           string   `yaml:"url"`
			Subscriptions []string `yaml:"subscriptions"` // "SBER@TQBR:ticks"
		} `yaml:"websocket"`
		Kafka struct {
			Brokers      []string `yaml:"brokers"`
			Topic        string   `yaml:"topic"`
			GroupID      string   `yaml:"group_id"`
			RequestTopic string   `yaml:"request_topic"`
		} `yaml:"kafka"`
	} `yaml:"live"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"logging"`
}

// BasketConfig declares a synthetic instrument built from underlyings.
type BasketConfig struct {
	Security    string   `yaml:"security"`
	Underlyings []string `yaml:"underlyings"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML bytes, applies defaults and env overrides, and
// validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	// 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Storage.Drive == "" {
		c.Storage.Drive = "local"
	}
	if c.Processor.BufferSize == 0 {
		c.Processor.BufferSize = 1024
	}
	if c.Processor.InboxSize == 0 {
		c.Processor.InboxSize = 4096
	}
	if c.Processor.StorageIntervalMS == 0 {
		c.Processor.StorageIntervalMS = 10000
	}
	if c.Processor.Mode == "" {
		c.Processor.Mode = "incremental"
	}
	if c.Snapshot.FlushIntervalMS == 0 {
		c.Snapshot.FlushIntervalMS = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.Storage.Drive {
	case "local", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for %s drive", c.Storage.Drive)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage drive: %s", c.Storage.Drive)
	}
	if c.Storage.PriceStep.IsNegative() || c.Storage.VolumeStep.IsNegative() {
		return fmt.Errorf("steps must not be negative")
	}
	if c.Storage.DaysLoad < 0 {
		return fmt.Errorf("days_load must not be negative")
	}
	for _, b := range c.Storage.Baskets {
		if len(b.Underlyings) == 0 {
			return fmt.Errorf("basket %s has no underlyings", b.Security)
		}
	}

	if c.Processor.BufferSize < 0 || c.Processor.InboxSize < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.Processor.StorageIntervalMS <= 0 || c.Snapshot.FlushIntervalMS <= 0 {
		return fmt.Errorf("flush intervals must be positive")
	}
	if c.Processor.Mode != "incremental" && c.Processor.Mode != "snapshot" {
		return fmt.Errorf("unknown processor mode: %s", c.Processor.Mode)
	}

	if url := c.Live.WebSocket.URL; url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("invalid websocket URL: %s", url)
	}
	if len(c.Live.Kafka.Brokers) > 0 && c.Live.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	return nil
}

// StorageInterval returns the live buffer flush period.
func (c *Config) StorageInterval() time.Duration {
	return time.Duration(c.Processor.StorageIntervalMS) * time.Millisecond
}

// SnapshotInterval returns the snapshot store flush period.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.FlushIntervalMS) * time.Millisecond
}

// CacheTTL returns the fast tier expiry, zero for none.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
// 환경 변수는 설정 파일보다 우선합니다.
func overrideWithEnv(cfg *Config) {
	if path := os.Getenv("MDS_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if addr := os.Getenv("MDS_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if pass := os.Getenv("MDS_REDIS_PASSWORD"); pass != "" {
		cfg.Cache.Password = pass
	}
	if brokers := os.Getenv("MDS_KAFKA_BROKERS"); brokers != "" {
		cfg.Live.Kafka.Brokers = strings.Split(brokers, ",")
	}
}
