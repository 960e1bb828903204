package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// Manual trigger throttling per client; a negative burst disables it.
		TriggerBurst int           `yaml:"trigger_burst" default:"3" validate:"gte=-1"`
		TriggerEvery time.Duration `yaml:"trigger_every" default:"1m"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level      string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string        `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string        `yaml:"output" default:"stdout"`
		Collect    bool          `yaml:"collect"`
		FlushEvery time.Duration `yaml:"flush_every" default:"30s"`
	} `yaml:"log"`
	Pipeline struct {
		Schedule       string        `yaml:"schedule" default:"06:30"`
		RunOnStartup   bool          `yaml:"run_on_startup"`
		MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
		BaseDelay      time.Duration `yaml:"base_delay" default:"2s"`
		MaxDelay       time.Duration `yaml:"max_delay" default:"30s"`
		Jitter         float64       `yaml:"jitter" default:"0.3" validate:"gte=0,lt=1"`
		MaxSourcesDown int           `yaml:"max_sources_down" default:"3" validate:"gte=0"`
		BacktestMaxAge time.Duration `yaml:"backtest_max_age" default:"168h"`
	} `yaml:"pipeline"`
	Store struct {
		Driver     string `yaml:"driver" default:"sqlite" validate:"oneof=sqlite clickhouse"`
		SQLitePath string `yaml:"sqlite_path" default:"data/finpilot.db"`
	} `yaml:"store"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finpilot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		NotifyTopic  string   `yaml:"notify_topic" default:"finpilot.notifications"`
		TriggerTopic string   `yaml:"trigger_topic" default:"finpilot.pipeline.trigger"`
		LogTopic     string   `yaml:"log_topic" default:"finpilot.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"finpilot-orchestrator"`
			RetryMax   int           `yaml:"retry_max" default:"2"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finpilot"`
	} `yaml:"redis"`
	Model struct {
		Mode         string        `yaml:"mode" default:"http" validate:"oneof=http command file"`
		ServiceURL   string        `yaml:"service_url" validate:"omitempty,url"`
		RunPath      string        `yaml:"run_path" default:"/run"`
		Command      string        `yaml:"command"`
		Args         []string      `yaml:"args"`
		Timeout      time.Duration `yaml:"timeout" default:"20m"`
		FallbackPath string        `yaml:"fallback_path"`
	} `yaml:"model"`
	Health struct {
		Timeout time.Duration  `yaml:"timeout" default:"10s"`
		Sources []SourceConfig `yaml:"sources" validate:"dive"`
	} `yaml:"health"`
	Notify struct {
		Transport  string `yaml:"transport" default:"log" validate:"oneof=log kafka webhook"`
		WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`
	} `yaml:"notify"`
}

// SourceConfig registers one external data source for health probing.
type SourceConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	URL          string        `yaml:"url" validate:"required,url"`
	DegradedOver time.Duration `yaml:"degraded_over" default:"3s"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present), then the YAML file, then applies
// environment variable overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	for i := range c.Health.Sources {
		if err := defaults.Set(&c.Health.Sources[i]); err != nil {
			return fmt.Errorf("config defaults: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR port: %w", err)
			}
			c.Redis.Port = p
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MODEL_URL"); v != "" {
		c.Model.ServiceURL = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
		c.Notify.Transport = "webhook"
	}
	if v := os.Getenv("PIPELINE_SCHEDULE"); v != "" {
		c.Pipeline.Schedule = v
	}
	return nil
}

// ScheduleClock returns the daily run time as hour and minute (UTC).
func (c *Config) ScheduleClock() (int, int) {
	h, m, _ := ParseClock(c.Pipeline.Schedule)
	return h, m
}

// ParseClock parses "HH:MM" in 24h form.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, _, err := ParseClock(c.Pipeline.Schedule); err != nil {
		return fmt.Errorf("pipeline.schedule: %w", err)
	}
	if c.Model.Mode == "http" && c.Model.ServiceURL == "" {
		return fmt.Errorf("model.service_url is required for mode 'http'")
	}
	if c.Model.Mode == "command" && c.Model.Command == "" {
		return fmt.Errorf("model.command is required for mode 'command'")
	}
	if c.Model.Mode == "file" && c.Model.FallbackPath == "" {
		return fmt.Errorf("model.fallback_path is required for mode 'file'")
	}
	if c.Notify.Transport == "webhook" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required for transport 'webhook'")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Notify.Transport == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("notify.transport 'kafka' requires kafka.enabled")
	}
	if c.Pipeline.MaxDelay < c.Pipeline.BaseDelay {
		return fmt.Errorf("pipeline.max_delay must be >= pipeline.base_delay")
	}
	return nil
}
