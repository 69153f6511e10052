package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "dealdesk.yml"

// Config models dealdesk.yml.
type Config struct {
	Server struct {
		Addr             string `yaml:"addr"`
		BasePath         string `yaml:"base_path"`
		JWTSecret        string `yaml:"jwt_secret"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"server"`
	Database struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Webhooks struct {
		ESign struct {
			Secret string `yaml:"secret"`
		} `yaml:"esign"`
	} `yaml:"webhooks"`
	Events struct {
		NATSURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`
	Scheduler struct {
		Jobs map[string]JobConfig `yaml:"jobs"`
	} `yaml:"scheduler"`
	Metrics struct {
		BucketSizeDays   int     `yaml:"bucket_size_days"`
		LookbackDays     int     `yaml:"lookback_days"`
		AnomalyThreshold float64 `yaml:"anomaly_threshold"`
		StaleEscrowHours int     `yaml:"stale_escrow_hours"`
	} `yaml:"metrics"`
	Log LogConfig `yaml:"log"`
}

type JobConfig struct {
	Interval string `yaml:"interval"`
	Enabled  bool   `yaml:"enabled"`
}

// Every parses Interval; an empty interval means trigger-only.
func (j JobConfig) Every() (time.Duration, error) {
	if strings.TrimSpace(j.Interval) == "" {
		return 0, nil
	}
	return time.ParseDuration(j.Interval)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dealctl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Database.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Metrics.BucketSizeDays <= 0 {
		return fmt.Errorf("config.metrics.bucket_size_days must be positive")
	}
	if c.Metrics.LookbackDays < c.Metrics.BucketSizeDays {
		return fmt.Errorf("config.metrics.lookback_days must cover at least one bucket")
	}
	if c.Metrics.AnomalyThreshold <= 0 {
		return fmt.Errorf("config.metrics.anomaly_threshold must be positive")
	}
	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("config.events.subject_prefix is required with nats_url")
	}
	for name, job := range c.Scheduler.Jobs {
		if name == "" {
			return fmt.Errorf("config.scheduler.jobs contains empty job name")
		}
		d, err := job.Every()
		if err != nil {
			return fmt.Errorf("job %s has invalid interval %q: %w", name, job.Interval, err)
		}
		if d < 0 {
			return fmt.Errorf("job %s has negative interval", name)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: "127.0.0.1:8080"
  base_path: /v1
  jwt_secret: ""
  allow_actor_header: false

database:
  workspace: .

webhooks:
  esign:
    secret: ""

events:
  nats_url: ""
  subject_prefix: dealdesk.negotiation

scheduler:
  jobs:
    premium-metrics:
      interval: 1h
      enabled: true
    escrow-reconcile:
      interval: 6h
      enabled: true

metrics:
  bucket_size_days: 7
  lookback_days: 84
  anomaly_threshold: 2.0
  stale_escrow_hours: 72

log:
  level: info
  format: json
`
