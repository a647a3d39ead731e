package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. REPLYDESK_SERVER_PORT.
const EnvPrefix = "REPLYDESK"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
	// AllowedOrigins is a comma separated list; empty means localhost only.
	AllowedOrigins string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
	JSON  bool   `yaml:"json" envconfig:"JSON"`
}

type DatabaseConfig struct {
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

type WorkerConfig struct {
	// DefaultCallTimeout applies to bridge calls that do not set their own.
	DefaultCallTimeout time.Duration `yaml:"default_call_timeout" envconfig:"DEFAULT_CALL_TIMEOUT"`
	// ReplyBudget bounds one run of the reply pipeline, plugin included.
	ReplyBudget time.Duration `yaml:"reply_budget" envconfig:"REPLY_BUDGET"`
}

type PluginsConfig struct {
	Dir   string `yaml:"dir" envconfig:"DIR"`
	Watch bool   `yaml:"watch" envconfig:"WATCH"`
}

type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"ENABLED"`
	RefreshSpec string `yaml:"refresh_spec" envconfig:"REFRESH_SPEC"`
	HealthSpec  string `yaml:"health_spec" envconfig:"HEALTH_SPEC"`
	SyncSpec    string `yaml:"sync_spec" envconfig:"SYNC_SPEC"`
}

type AnalyticsConfig struct {
	Brokers  string `yaml:"brokers" envconfig:"BROKERS"`
	Topic    string `yaml:"topic" envconfig:"TOPIC"`
	ClientID string `yaml:"client_id" envconfig:"CLIENT_ID"`
}

// BrokerList splits the comma separated broker setting.
func (a AnalyticsConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(a.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion,
// then applies REPLYDESK_* overrides.
func LoadFromBytes(data []byte) (Config, error) {
	c := defaults()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// LoadFile layers a YAML file on top of an already loaded config.
func LoadFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}
	c := base
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &c); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := applyEnv(&c); err != nil {
		return base, err
	}
	return c, c.Validate()
}

func applyEnv(c *Config) error {
	groups := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix + "_SERVER", &c.Server},
		{EnvPrefix + "_LOG", &c.Log},
		{EnvPrefix + "_DATABASE", &c.Database},
		{EnvPrefix + "_WORKER", &c.Worker},
		{EnvPrefix + "_PLUGINS", &c.Plugins},
		{EnvPrefix + "_SCHEDULER", &c.Scheduler},
		{EnvPrefix + "_ANALYTICS", &c.Analytics},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return fmt.Errorf("env overrides %s: %w", g.prefix, err)
		}
	}
	return nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 9999},
		Log:    LogConfig{Level: "info"},
		Database: DatabaseConfig{
			SQLitePath: "./data/replydesk.db",
		},
		Worker: WorkerConfig{
			DefaultCallTimeout: 10 * time.Second,
			ReplyBudget:        15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			RefreshSpec: "*/5 * * * * *",
			HealthSpec:  "*/5 * * * * *",
			SyncSpec:    "*/20 * * * * *",
		},
		Analytics: AnalyticsConfig{Topic: "replydesk.events", ClientID: "replydesk"},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Database.SQLitePath == "" {
		return &ConfigError{Field: "database.sqlite_path", Message: "required"}
	}
	if c.Worker.DefaultCallTimeout < time.Second {
		return &ConfigError{Field: "worker.default_call_timeout", Message: "must be at least 1s"}
	}
	if c.Worker.ReplyBudget <= 0 {
		return &ConfigError{Field: "worker.reply_budget", Message: "must be positive"}
	}
	return nil
}

// ResolvePaths makes relative storage paths absolute against dataDir.
func (c *Config) ResolvePaths(dataDir string) {
	if dataDir == "" {
		return
	}
	if !filepath.IsAbs(c.Database.SQLitePath) {
		c.Database.SQLitePath = filepath.Join(dataDir, c.Database.SQLitePath)
	}
	if c.Plugins.Dir != "" && !filepath.IsAbs(c.Plugins.Dir) {
		c.Plugins.Dir = filepath.Join(dataDir, c.Plugins.Dir)
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
