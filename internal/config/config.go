package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"consentline/internal/domain"
)

const FileName = "consentline.yml"

// Config models consentline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Scheduler struct {
		Interval        Duration `yaml:"interval"`
		DecisionTimeout Duration `yaml:"decision_timeout"`
	} `yaml:"scheduler"`
	Decisions struct {
		DefaultLayout   domain.StageLayout `yaml:"default_layout"`
		DefaultScale    int                `yaml:"default_nuanced_scale"`
		AdvisoryBinding bool               `yaml:"advisory_binding_deadline"`
		MinDuration     Duration           `yaml:"min_duration"`
	} `yaml:"decisions"`
	Secrets struct {
		Cron        string `yaml:"cron"`
		JWT         string `yaml:"jwt"`
		Fingerprint string `yaml:"fingerprint"`
	} `yaml:"secrets"`
	Anonymous struct {
		RatePerMinute int `yaml:"rate_per_minute"`
		Burst         int `yaml:"burst"`
	} `yaml:"anonymous"`
	Notifications struct {
		Log      bool            `yaml:"log"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
		Redis    struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Queue    string `yaml:"queue"`
		} `yaml:"redis"`
	} `yaml:"notifications"`
	Metrics struct {
		OTLPEndpoint string   `yaml:"otlp_endpoint"`
		Insecure     bool     `yaml:"insecure"`
		Interval     Duration `yaml:"interval"`
	} `yaml:"metrics"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Kinds          []string `yaml:"kinds"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Duration parses Go duration strings such as "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite":
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not a level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config.logging.format must be json or text")
	}
	if c.Scheduler.Interval.Std() < 0 || c.Scheduler.DecisionTimeout.Std() < 0 {
		return fmt.Errorf("config.scheduler durations must be positive")
	}
	if c.Decisions.DefaultLayout != "" && !c.Decisions.DefaultLayout.Valid() {
		return fmt.Errorf("config.decisions.default_layout must be MERGED or DISTINCT")
	}
	switch c.Decisions.DefaultScale {
	case 0, 3, 5, 7:
	default:
		return fmt.Errorf("config.decisions.default_nuanced_scale must be 3, 5 or 7")
	}
	if c.Anonymous.RatePerMinute < 0 || c.Anonymous.Burst < 0 {
		return fmt.Errorf("config.anonymous limits must not be negative")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		for _, kind := range hook.Kinds {
			if kind != "stage_transition" && kind != "closure" {
				return fmt.Errorf("config.notifications.webhooks[%d] has unknown kind %s", i, kind)
			}
		}
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

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
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

const defaultTemplate = `database:
  driver: sqlite

server:
  addr: 127.0.0.1:8080
  base_path: /v1

logging:
  level: info
  format: json

scheduler:
  interval: 15m
  decision_timeout: 30s

decisions:
  default_layout: DISTINCT
  default_nuanced_scale: 5
  advisory_binding_deadline: false
  min_duration: 1h

anonymous:
  rate_per_minute: 30
  burst: 10

notifications:
  log: true
  redis:
    queue: consentline:notifications

metrics:
  interval: 15s
`
