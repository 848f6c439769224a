package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"opssync/internal/sla"
)

const fileName = "opssync.yml"

// Config models opssync.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		// JWTSecretEnv names the environment variable holding the HS256 secret.
		JWTSecretEnv           string `yaml:"jwt_secret_env"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	SLA        sla.Rules `yaml:"sla"`
	Timeliness struct {
		Timezone    string `yaml:"timezone"`
		DefaultDays int    `yaml:"default_days"`
	} `yaml:"timeliness"`
	Digest DigestConfig `yaml:"digest"`
}

type DigestConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Schedule        string `yaml:"schedule"`
	Days            int    `yaml:"days"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// CronParser accepts standard 5-field expressions.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if err := c.SLA.Validate(); err != nil {
		return fmt.Errorf("config.sla: %w", err)
	}
	if _, err := time.LoadLocation(c.Timeliness.Timezone); err != nil {
		return fmt.Errorf("config.timeliness.timezone %q: %w", c.Timeliness.Timezone, err)
	}
	if d := c.Timeliness.DefaultDays; d < 1 || d > 180 {
		return fmt.Errorf("config.timeliness.default_days must be within [1,180], got %d", d)
	}
	if c.Digest.Enabled {
		if _, err := CronParser.Parse(c.Digest.Schedule); err != nil {
			return fmt.Errorf("config.digest.schedule %q: %w", c.Digest.Schedule, err)
		}
		if c.Digest.Days < 1 || c.Digest.Days > 180 {
			return fmt.Errorf("config.digest.days must be within [1,180], got %d", c.Digest.Days)
		}
	}
	return nil
}

// Location returns the zone used for trend day keys.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timeliness.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// JWTSecret reads the bearer-token secret from the configured variable.
func (c *Config) JWTSecret() string {
	return os.Getenv(c.Auth.JWTSecretEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with opssync config init", path)
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
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultYAML), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
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

// DefaultYAML is written by opssync config init.
const DefaultYAML = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  jwt_secret_env: OPSSYNC_JWT_SECRET
  allow_legacy_actor_header: false

sla:
  at_risk_minutes: 60
  red_minutes: 120

timeliness:
  timezone: UTC
  default_days: 30

digest:
  enabled: false
  schedule: "0 7 * * 1-5"
  days: 7
  slack_webhook_url: ""
`
