// Package config loads the crewrelay configuration from file, environment
// and defaults, in that order of increasing precedence for env overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration tree.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Run       RunConfig       `mapstructure:"run"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Session   SessionConfig   `mapstructure:"session"`
	Repos     ReposConfig     `mapstructure:"repos"`
	Log       LogConfig       `mapstructure:"log"`
}

// BackendConfig locates the answering backend.
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	ChatPath   string `mapstructure:"chat_path"`
	MultiPath  string `mapstructure:"multi_path"`
	StreamPath string `mapstructure:"stream_path"`
}

// RunConfig tunes the orchestrator.
type RunConfig struct {
	// DeadlineSeconds is the logical timeout the simulated-path call is
	// raced against.
	DeadlineSeconds int `mapstructure:"deadline_seconds"`
	// CadenceMs is the simulated progress interval. Cosmetic only; it is
	// uncoupled from actual backend timing.
	CadenceMs   int    `mapstructure:"cadence_ms"`
	DefaultTier string `mapstructure:"default_tier"`
	DefaultMode string `mapstructure:"default_mode"`
	DefaultPath string `mapstructure:"default_path"`
}

// ProvidersConfig names the provider behind each tier.
type ProvidersConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
}

// GatewayConfig configures the websocket gateway.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SessionConfig configures the continuation-id cache.
type SessionConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxHistory int    `mapstructure:"max_history"`
}

// ReposConfig locates the repo manifest.
type ReposConfig struct {
	ManifestPath string `mapstructure:"manifest_path"`
	Watch        bool   `mapstructure:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Deadline returns the run deadline as a duration.
func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Run.DeadlineSeconds) * time.Second
}

// Cadence returns the simulator cadence as a duration.
func (c *Config) Cadence() time.Duration {
	return time.Duration(c.Run.CadenceMs) * time.Millisecond
}

// Load reads configuration. An empty configPath searches ./.crewrelay,
// the working directory and ~/.crewrelay for config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := ResolveUserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(".", ".crewrelay"))
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".crewrelay"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CREWRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file: defaults plus environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Session.DBPath = ExpandUserPath(cfg.Session.DBPath)
	cfg.Repos.ManifestPath = ExpandUserPath(cfg.Repos.ManifestPath)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://127.0.0.1:8600")
	v.SetDefault("backend.chat_path", "/api/chat")
	v.SetDefault("backend.multi_path", "/api/multi-agent")
	v.SetDefault("backend.stream_path", "/api/multi-agent/stream")

	v.SetDefault("run.deadline_seconds", 120)
	v.SetDefault("run.cadence_ms", 2100)
	v.SetDefault("run.default_tier", "primary")
	v.SetDefault("run.default_mode", "multi")
	v.SetDefault("run.default_path", "simulated")

	v.SetDefault("providers.primary", "fast")
	v.SetDefault("providers.secondary", "deep")

	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 18600)

	v.SetDefault("session.db_path", "~/.crewrelay/sessions.db")
	v.SetDefault("session.max_history", 20)

	v.SetDefault("repos.manifest_path", "~/.crewrelay/repos.yaml")
	v.SetDefault("repos.watch", true)

	v.SetDefault("log.level", "info")
}
