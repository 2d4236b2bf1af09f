package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"ticketgate/internal/domain"
	"ticketgate/internal/fees"
	"ticketgate/internal/quota"
)

const FileName = "ticketgate.yml"

// Rate sheet names used by the engines.
const (
	SheetEvents = "events"
	SheetStore  = "store"
)

// Config models ticketgate.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLogin               bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Storage struct {
		Driver    string `yaml:"driver"`
		Workspace string `yaml:"workspace"`
		Path      string `yaml:"path"`
		DSN       string `yaml:"dsn"`
	} `yaml:"storage"`
	Timezone   string                      `yaml:"timezone"`
	RateSheets map[string]domain.RateSheet `yaml:"rate_sheets"`
	Quotas     map[string]QuotaConfig      `yaml:"quotas"`
	Tickets    struct {
		DefaultPerHolderLimit int64 `yaml:"default_per_holder_limit"`
	} `yaml:"tickets"`
}

type QuotaConfig struct {
	Window        string `yaml:"window"`
	Limit         int64  `yaml:"limit"`
	PerActorLimit int64  `yaml:"per_actor_limit"`
	Scope         string `yaml:"scope"`
	Timezone      string `yaml:"timezone"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config.storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.storage.driver must be sqlite, postgres or memory, got %q", c.Storage.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, ok := c.RateSheets[SheetEvents]; !ok {
		return fmt.Errorf("config.rate_sheets.%s is required", SheetEvents)
	}
	for name, rs := range c.RateSheets {
		if err := fees.ValidateRates(rs); err != nil {
			return fmt.Errorf("rate sheet %s: %w", name, err)
		}
		if rs.Currency == "" {
			return fmt.Errorf("rate sheet %s has no currency", name)
		}
	}
	for name := range c.Quotas {
		def, err := c.Quota(name)
		if err != nil {
			return err
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("quota %s: %w", name, err)
		}
	}
	if c.Tickets.DefaultPerHolderLimit < 0 {
		return fmt.Errorf("config.tickets.default_per_holder_limit must not be negative")
	}
	return nil
}

// Location returns the configured time zone, UTC when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.timezone: %w", err)
	}
	return loc, nil
}

// RateSheet returns a copy of the named rate sheet.
func (c *Config) RateSheet(name string) (domain.RateSheet, error) {
	rs, ok := c.RateSheets[name]
	if !ok {
		return domain.RateSheet{}, fmt.Errorf("rate sheet %s: %w", name, domain.ErrNotFound)
	}
	return rs, nil
}

// Quota builds the named quota definition. Quotas without their own time zone
// use the config time zone.
func (c *Config) Quota(name string) (quota.Definition, error) {
	qc, ok := c.Quotas[name]
	if !ok {
		return quota.Definition{}, fmt.Errorf("%s: %w", name, domain.ErrQuotaNotFound)
	}
	loc, err := c.Location()
	if err != nil {
		return quota.Definition{}, err
	}
	if qc.Timezone != "" {
		if loc, err = time.LoadLocation(qc.Timezone); err != nil {
			return quota.Definition{}, fmt.Errorf("quota %s timezone: %w", name, err)
		}
	}
	scope := qc.Scope
	if scope == "" {
		scope = string(quota.ScopeActor)
	}
	return quota.Definition{
		Name:          name,
		Window:        quota.WindowKind(qc.Window),
		Limit:         qc.Limit,
		PerActorLimit: qc.PerActorLimit,
		Scope:         quota.ScopeRule(scope),
		Location:      loc,
	}, nil
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

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults. A file that defines rate_sheets or quotas replaces the
// default set for that section instead of adding to it.
func FromYAML(data []byte) (*Config, error) {
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg := Default()
	if _, ok := sections["rate_sheets"]; ok {
		cfg.RateSheets = nil
	}
	if _, ok := sections["quotas"]; ok {
		cfg.Quotas = nil
	}
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
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login: false

storage:
  driver: sqlite
  workspace: "."

timezone: Africa/Nairobi

rate_sheets:
  events:
    commission_rate: 10
    processing_fee_rate: 2.9
    refund_fee_rate: 5
    min_price: 10000
    max_price: 100000000
    lead_time_days: 7
    cancellation_period_hours: 24
    max_events_per_actor_per_month: 5
    currency: KES
  store:
    commission_rate: 7.5
    processing_fee_rate: 2.9
    refund_fee_rate: 0
    min_price: 100
    max_price: 50000000
    currency: KES

quotas:
  downloads:
    window: day
    limit: 20
    scope: actor
  sacco.conversion:
    window: day
    limit: 5000000
    scope: actor
  promotion.redeem:
    window: global_and_actor
    limit: 100
    per_actor_limit: 1
    scope: actor_resource
  poll.vote:
    window: once
    limit: 1
    scope: actor_resource

tickets:
  default_per_holder_limit: 10
`
