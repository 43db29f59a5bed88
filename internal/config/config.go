// Package config provides YAML + environment configuration loading for Dockyard.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys use "__", e.g.
// DY_DATABASE__HOST=10.0.0.5.
const EnvPrefix = "DY_"

// Config is the top-level Dockyard configuration, loaded from dockyard.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Policy    PolicyConfig    `yaml:"policy"`
	Digest    DigestConfig    `yaml:"digest"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds connection settings for the backing store.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // "mysql" or "sqlite"
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Name           string        `yaml:"name"`
	Path           string        `yaml:"path"` // sqlite file
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
}

// PolicyConfig tunes the auto-policy engine.
type PolicyConfig struct {
	Enabled          *bool         `yaml:"enabled"`
	Tick             time.Duration `yaml:"tick"`
	TriggerAfter     time.Duration `yaml:"trigger_after"`
	Cooldown         time.Duration `yaml:"cooldown"`
	BatteryThreshold *float64      `yaml:"battery_threshold"` // unset means 30; 0 never charges
}

// IsEnabled reports whether the engine should run. Unset means enabled.
func (p PolicyConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Threshold returns the configured battery threshold, 30 when unset.
func (p PolicyConfig) Threshold() float64 {
	if p.BatteryThreshold == nil {
		return 30
	}
	return *p.BatteryThreshold
}

// DigestConfig schedules the periodic fleet digest event.
type DigestConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron; empty disables
}

// MQTTConfig configures the optional event mirror.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// TelegraphConfig configures chat alerts for high-severity events.
type TelegraphConfig struct {
	MinLevel string     `yaml:"min_level"`
	Slack    ChatConfig `yaml:"slack"`
	Discord  ChatConfig `yaml:"discord"`
}

// ChatConfig holds credentials for one chat platform.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json, console
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether metrics are exposed. Unset means enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Load reads a YAML config file from path, overlays DY_* environment
// variables, and returns a validated Config. A missing file is allowed so
// that the service can be configured from the environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	return fromKoanf(k)
}

// Parse unmarshals YAML bytes into a validated Config. Environment overrides
// are not applied.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DY_DATABASE__HOST to database.host.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// rawBytes is a koanf.Provider over an in-memory document.
type rawBytes []byte

func (r rawBytes) ReadBytes() ([]byte, error) { return r, nil }

func (r rawBytes) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("rawBytes provider does not support Read")
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	d := &c.Database
	if d.Driver == "" {
		d.Driver = "mysql"
	}
	if d.Host == "" {
		d.Host = "127.0.0.1"
	}
	if d.Port == 0 {
		d.Port = 3306
	}
	if d.Name == "" {
		d.Name = "dockyard"
	}
	if d.Path == "" {
		d.Path = "dockyard.db"
	}
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = 2 * time.Second
	}
	if d.ReadTimeout == 0 {
		d.ReadTimeout = 3 * time.Second
	}
	if d.WriteTimeout == 0 {
		d.WriteTimeout = 3 * time.Second
	}
	if d.OpTimeout == 0 {
		d.OpTimeout = 3 * time.Second
	}
	if d.MaxOpenConns == 0 {
		d.MaxOpenConns = 10
	}

	p := &c.Policy
	if p.Tick == 0 {
		p.Tick = time.Second
	}
	if p.TriggerAfter == 0 {
		p.TriggerAfter = 6 * time.Second
	}
	if p.Cooldown == 0 {
		p.Cooldown = 7 * time.Second
	}
	if p.BatteryThreshold == nil {
		threshold := 30.0
		p.BatteryThreshold = &threshold
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "dockyard"
	}
	if c.Telegraph.MinLevel == "" {
		c.Telegraph.MinLevel = "ERROR"
	}
	c.Telegraph.MinLevel = strings.ToUpper(c.Telegraph.MinLevel)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.User == "" {
			errs = append(errs, "database.user is required for mysql")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Policy.Tick < 0 || c.Policy.TriggerAfter < 0 || c.Policy.Cooldown < 0 {
		errs = append(errs, "policy durations must be positive")
	}
	if t := c.Policy.Threshold(); math.IsNaN(t) || t < 0 || t > 100 {
		errs = append(errs, fmt.Sprintf("policy.battery_threshold %.1f out of range 0-100", t))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	switch c.Telegraph.MinLevel {
	case "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Sprintf("telegraph.min_level %q must be INFO, WARN or ERROR", c.Telegraph.MinLevel))
	}
	switch c.Log.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be auto, json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
