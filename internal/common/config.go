// -----------------------------------------------------------------------
// Configuration schema and layered loader: defaults -> data/config.yaml ->
// GATEWAY_* environment overrides -> CLI flags (port, log level only).
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration struct the engine compiles against.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Queue   QueueConfig   `yaml:"queue"`
	Backend BackendConfig `yaml:"backend"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port                int             `yaml:"port"`
	Host                string          `yaml:"host"`
	Auth                string          `yaml:"auth"`
	Keepalive           KeepaliveConfig `yaml:"keepalive"`
	ShutdownGraceSeconds int            `yaml:"shutdownGraceSeconds"`
}

type KeepaliveConfig struct {
	Mode string `yaml:"mode"` // "comment" | "content"
}

type BrowserConfig struct {
	Proxy   ProxyConfig `yaml:"proxy"`
	DataDir string      `yaml:"dataDir"`
	Binary  string      `yaml:"binary"`
}

type ProxyConfig struct {
	Enable bool   `yaml:"enable"`
	Type   string `yaml:"type"` // "http" | "socks5"
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Passwd string `yaml:"passwd"`
}

type QueueConfig struct {
	QueueBuffer        int     `yaml:"queueBuffer"`
	ImageLimit         int     `yaml:"imageLimit"`
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `yaml:"rateLimitBurst"`
}

type BackendConfig struct {
	Pool    PoolConfig                        `yaml:"pool"`
	Adapter map[string]map[string]interface{} `yaml:"adapter"`
}

type PoolConfig struct {
	Strategy  string           `yaml:"strategy"` // "least_busy" | "round_robin" | "random"
	Failover  FailoverConfig   `yaml:"failover"`
	Instances []InstanceConfig `yaml:"instances"`
}

type FailoverConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"maxRetries"`
}

type InstanceConfig struct {
	Name          string         `yaml:"name"`
	UserDataMark  string         `yaml:"userDataMark"`
	Proxy         *ProxyConfig   `yaml:"proxy"`
	ProxyDisabled bool           `yaml:"proxyDisabled"`
	Workers       []WorkerConfig `yaml:"workers"`
}

type WorkerConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	MergeTypes  []string `yaml:"mergeTypes"`
	MergeMonitor string  `yaml:"mergeMonitor"`
	MonitorCron string   `yaml:"monitorCron"`
}

type LoggingConfig struct {
	Level      string   `yaml:"level"`
	Output     []string `yaml:"output"`
	TimeFormat string   `yaml:"timeFormat"`
}

// Defaults returns the built-in configuration baseline, overridden in turn
// by a config file, environment variables, then CLI flags.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 8080,
			Host:                 "0.0.0.0",
			Auth:                 "",
			Keepalive:            KeepaliveConfig{Mode: "comment"},
			ShutdownGraceSeconds: 30,
		},
		Browser: BrowserConfig{
			DataDir: "data",
		},
		Queue: QueueConfig{
			QueueBuffer: 2,
			ImageLimit:  5,
		},
		Backend: BackendConfig{
			Pool: PoolConfig{
				Strategy: "least_busy",
				Failover: FailoverConfig{Enabled: true, MaxRetries: 2},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"console", "file"},
		},
	}
}

// Load builds the effective Config: defaults, then path if it exists, then
// GATEWAY_* environment overrides. CLI flag overrides (port, log level) are
// applied by the caller via ApplyFlagOverrides, since flag parsing happens
// in main.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.Backend.Pool.Instances) == 0 {
		return cfg, nil
	}
	if err := validateInstances(cfg.Backend.Pool.Instances); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides mirrors the reference's QUAERO_* precedence: environment
// variables win over the config file, under a GATEWAY_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_SERVER_AUTH"); v != "" {
		cfg.Server.Auth = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GATEWAY_PROXY_HOST"); v != "" {
		cfg.Browser.Proxy.Host = v
		cfg.Browser.Proxy.Enable = true
	}
}

// ApplyFlagOverrides applies CLI-flag-sourced overrides, which take
// precedence over everything else. Either may be zero-valued to mean "no
// override".
func ApplyFlagOverrides(cfg *Config, port int, logLevel string) {
	if port > 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

// ResolveAuthToken resolves the single shared bearer token: environment
// variable wins over the config file value.
func ResolveAuthToken(cfg *Config) string {
	if v := os.Getenv("GATEWAY_SERVER_AUTH"); v != "" {
		return v
	}
	return cfg.Server.Auth
}

// validateInstances enforces that Instance names and resolved user-data
// directories are unique, a startup error otherwise.
func validateInstances(instances []InstanceConfig) error {
	names := make(map[string]bool, len(instances))
	dirs := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if names[inst.Name] {
			return fmt.Errorf("config: duplicate instance name %q", inst.Name)
		}
		names[inst.Name] = true

		// Mirrors app.go's own derivation: userDataMark if set, else the
		// Instance name. Two Instances that both omit userDataMark are only
		// a collision if they also share a name, which the check above
		// already catches.
		dir := resolvedUserDataDir(inst)
		if dirs[dir] {
			return fmt.Errorf("config: duplicate instance user-data directory %q", dir)
		}
		dirs[dir] = true
	}
	return nil
}

// resolvedUserDataDir mirrors app.go's buildInstancesAndWorkers (orDefault
// over UserDataMark/Name): the directory-disambiguating mark if set,
// otherwise the Instance name. No trimming, to match that derivation
// exactly.
func resolvedUserDataDir(inst InstanceConfig) string {
	if inst.UserDataMark != "" {
		return inst.UserDataMark
	}
	return inst.Name
}
