package config

import "time"

// Config represents the complete courier configuration.
type Config struct {
	Include  []string            `yaml:"include,omitempty"`
	Service  ServiceConfig       `yaml:"service"`
	State    StateConfig         `yaml:"state"`
	API      APIConfig           `yaml:"api,omitempty"`
	Host     HostConfig          `yaml:"host,omitempty"`
	Grants   map[string][]string `yaml:"grants,omitempty"` // identity -> scopes seeded at startup
	Commands []CommandConfig     `yaml:"commands,omitempty"`
	Units    []UnitConfig        `yaml:"units,omitempty"`

	// SourcePath is the absolute path of the root config file.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name                   string        `yaml:"name" split_words:"true"`
	Identity               string        `yaml:"identity" split_words:"true"`
	LogLevel               string        `yaml:"log_level" split_words:"true"`
	TickInterval           time.Duration `yaml:"tick_interval" split_words:"true"`
	Jitter                 time.Duration `yaml:"jitter" split_words:"true"`
	ActivationLogRetention time.Duration `yaml:"activation_log_retention" split_words:"true"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" split_words:"true"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool       `yaml:"enabled" split_words:"true"`
	Listen  string     `yaml:"listen" split_words:"true"`
	Tokens  []APIToken `yaml:"tokens,omitempty" ignored:"true"`
}

// APIToken binds a bearer token to a caller identity and admin scopes.
type APIToken struct {
	Token    string   `yaml:"token"`
	Identity string   `yaml:"identity"`
	Scopes   []string `yaml:"scopes"`
}

// HostConfig controls the background host.
type HostConfig struct {
	// Access is the answer to background access requests:
	// allowed, denied or denied_by_policy.
	Access string `yaml:"access" split_words:"true"`
	// Reregister forces every unit to be registered afresh at startup.
	Reregister bool `yaml:"reregister" split_words:"true"`
}

// ExecConfig describes an executable.
type ExecConfig struct {
	Path    string        `yaml:"path"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Dir     string        `yaml:"dir,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// CommandConfig declares an exec-backed command.
type CommandConfig struct {
	Name        string     `yaml:"name"`
	DisplayName string     `yaml:"display_name,omitempty"`
	Summary     string     `yaml:"summary,omitempty"`
	Scopes      []string   `yaml:"scopes,omitempty"`
	Exec        ExecConfig `yaml:"exec"`
}

// UnitConfig declares an exec-backed background unit.
type UnitConfig struct {
	Name            string     `yaml:"name"`
	Trigger         string     `yaml:"trigger"` // e.g. "15m", "hourly", "event:login", "daily!once"
	RequiresNetwork bool       `yaml:"requires_network,omitempty"`
	Exec            ExecConfig `yaml:"exec"`
}

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                   "courier",
			Identity:               "courier.cli",
			LogLevel:               "info",
			TickInterval:           60 * time.Second,
			Jitter:                 0,
			ActivationLogRetention: 30 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/courier.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Host: HostConfig{
			Access: "allowed",
		},
		Grants: make(map[string][]string),
	}
}
