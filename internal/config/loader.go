package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/courier/internal/background"
	"github.com/mattjoyce/courier/internal/host"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Builtin command names a config command may not shadow.
var reservedCommands = map[string]bool{"help": true, "auth": true}

// Load reads configuration from a file (or a directory holding config.yaml),
// follows its include list, applies defaults and the COURIER_* environment
// overlay, then validates.
// Priority: environment > file > defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := applyEnvOverlay(cfg); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $COURIER_CONFIG, ~/.config/courier/config.yaml,
// /etc/courier/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("COURIER_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "courier", "config.yaml"))
	}
	candidates = append(candidates, "/etc/courier/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $COURIER_CONFIG, %s)", strings.Join(candidates, ", "))
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in
// the include tree, sorted.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(&Config{}, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}

		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}

		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero
// values. Lists are appended and grants are unioned per identity.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.Identity != "" {
		dst.Service.Identity = src.Service.Identity
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.TickInterval != 0 {
		dst.Service.TickInterval = src.Service.TickInterval
	}
	if src.Service.Jitter != 0 {
		dst.Service.Jitter = src.Service.Jitter
	}
	if src.Service.ActivationLogRetention != 0 {
		dst.Service.ActivationLogRetention = src.Service.ActivationLogRetention
	}

	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	dst.API.Tokens = append(dst.API.Tokens, src.API.Tokens...)

	if src.Host.Access != "" {
		dst.Host.Access = src.Host.Access
	}
	if src.Host.Reregister {
		dst.Host.Reregister = true
	}

	if len(src.Grants) > 0 {
		if dst.Grants == nil {
			dst.Grants = make(map[string][]string)
		}
		for identity, scopes := range src.Grants {
			dst.Grants[identity] = append(dst.Grants[identity], scopes...)
		}
	}

	dst.Commands = append(dst.Commands, src.Commands...)
	dst.Units = append(dst.Units, src.Units...)
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.Identity == "" {
		cfg.Service.Identity = defaults.Service.Identity
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.ActivationLogRetention == 0 {
		cfg.Service.ActivationLogRetention = defaults.Service.ActivationLogRetention
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Host.Access == "" {
		cfg.Host.Access = defaults.Host.Access
	}
	if cfg.Grants == nil {
		cfg.Grants = defaults.Grants
	}
	return cfg
}

// applyEnvOverlay lets COURIER_SERVICE_*, COURIER_STATE_*, COURIER_API_* and
// COURIER_HOST_* variables override file values.
func applyEnvOverlay(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{"COURIER_SERVICE", &cfg.Service},
		{"COURIER_STATE", &cfg.State},
		{"COURIER_API", &cfg.API},
		{"COURIER_HOST", &cfg.Host},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return err
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.Jitter < 0 {
		return fmt.Errorf("service.jitter must not be negative")
	}
	if cfg.Service.ActivationLogRetention < 0 {
		return fmt.Errorf("service.activation_log_retention must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if err := unresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if _, err := host.ParsePolicy(cfg.Host.Access); err != nil {
		return fmt.Errorf("host.access: %w", err)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		seen := make(map[string]bool, len(cfg.API.Tokens))
		for i, tok := range cfg.API.Tokens {
			field := fmt.Sprintf("api.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if tok.Identity == "" {
				return fmt.Errorf("%s.identity is required", field)
			}
			if seen[tok.Token] {
				return fmt.Errorf("%s.token duplicates an earlier token", field)
			}
			seen[tok.Token] = true
		}
	}

	for identity, scopes := range cfg.Grants {
		if strings.TrimSpace(identity) == "" {
			return fmt.Errorf("grants: identity must not be empty")
		}
		if len(scopes) == 0 {
			return fmt.Errorf("grants[%s]: scopes must be non-empty", identity)
		}
	}

	commandNames := make(map[string]bool, len(cfg.Commands))
	for i, c := range cfg.Commands {
		field := fmt.Sprintf("commands[%d]", i)
		name := strings.ToLower(c.Name)
		if name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if reservedCommands[name] {
			return fmt.Errorf("%s: %q is a builtin command", field, c.Name)
		}
		if commandNames[name] {
			return fmt.Errorf("%s: duplicate command %q", field, c.Name)
		}
		commandNames[name] = true
		if err := validateExec(field, c.Exec); err != nil {
			return err
		}
	}

	unitNames := make(map[string]bool, len(cfg.Units))
	for i, u := range cfg.Units {
		field := fmt.Sprintf("units[%d]", i)
		if u.Name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if unitNames[u.Name] {
			return fmt.Errorf("%s: duplicate unit %q", field, u.Name)
		}
		unitNames[u.Name] = true
		if _, err := background.ParseTrigger(u.Trigger); err != nil {
			return fmt.Errorf("unit %q: %w", u.Name, err)
		}
		if err := validateExec(field, u.Exec); err != nil {
			return err
		}
	}
	return nil
}

func validateExec(field string, e ExecConfig) error {
	if e.Path == "" {
		return fmt.Errorf("%s.exec.path is required", field)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("%s.exec.timeout must not be negative", field)
	}
	if err := unresolved(field+".exec.path", e.Path); err != nil {
		return err
	}
	for j, kv := range e.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("%s.exec.env[%d] must be KEY=VALUE", field, j)
		}
		if err := unresolved(fmt.Sprintf("%s.exec.env[%d]", field, j), kv); err != nil {
			return err
		}
	}
	return nil
}
