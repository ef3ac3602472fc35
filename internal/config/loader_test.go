package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  tick_interval: 30s
state:
  path: ./test.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.TickInterval != 30*time.Second {
					t.Error("tick_interval not parsed")
				}
				if cfg.State.Path != "./test.db" {
					t.Error("state.path not parsed")
				}
				if cfg.Service.Name != "courier" || cfg.Service.LogLevel != "info" {
					t.Errorf("defaults not applied: %+v", cfg.Service)
				}
				if cfg.Host.Access != "allowed" {
					t.Errorf("host.access default = %q", cfg.Host.Access)
				}
				if cfg.Service.ActivationLogRetention != 30*24*time.Hour {
					t.Error("retention default not applied")
				}
			},
		},
		{
			name: "commands units and grants",
			yaml: `
state:
  path: ./test.db
grants:
  com.example.notes: [notes.read, notes.write]
commands:
  - name: echo
    display_name: Echo
    summary: Returns its input.
    scopes: [echo]
    exec:
      path: /usr/bin/cat
      timeout: 5s
units:
  - name: sync
    trigger: 15m
    requires_network: true
    exec:
      path: /usr/local/bin/sync
  - name: welcome
    trigger: event:login!once
    exec:
      path: /usr/local/bin/welcome
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if got := cfg.Grants["com.example.notes"]; len(got) != 2 {
					t.Errorf("grants = %v", got)
				}
				if len(cfg.Commands) != 1 || cfg.Commands[0].Exec.Timeout != 5*time.Second {
					t.Errorf("commands = %+v", cfg.Commands)
				}
				if len(cfg.Units) != 2 || !cfg.Units[0].RequiresNetwork {
					t.Errorf("units = %+v", cfg.Units)
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${COURIER_TEST_DB}
api:
  enabled: true
  tokens:
    - token: ${COURIER_TEST_TOKEN}
      identity: com.example.app
      scopes: ["*"]
`,
			env: map[string]string{
				"COURIER_TEST_DB":    "/tmp/test.db",
				"COURIER_TEST_TOKEN": "secret123",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/test.db" {
					t.Errorf("env var not interpolated in state.path: %s", cfg.State.Path)
				}
				if cfg.API.Tokens[0].Token != "secret123" {
					t.Error("env var not interpolated in api token")
				}
			},
		},
		{
			name: "environment overlay wins over file",
			yaml: `
service:
  log_level: info
  tick_interval: 30s
state:
  path: ./file.db
host:
  access: allowed
`,
			env: map[string]string{
				"COURIER_SERVICE_LOG_LEVEL":     "debug",
				"COURIER_SERVICE_TICK_INTERVAL": "2m",
				"COURIER_STATE_PATH":            "/var/lib/courier/env.db",
				"COURIER_HOST_ACCESS":           "denied",
				"COURIER_HOST_REREGISTER":       "true",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" {
					t.Errorf("log_level = %q", cfg.Service.LogLevel)
				}
				if cfg.Service.TickInterval != 2*time.Minute {
					t.Errorf("tick_interval = %v", cfg.Service.TickInterval)
				}
				if cfg.State.Path != "/var/lib/courier/env.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if cfg.Host.Access != "denied" || !cfg.Host.Reregister {
					t.Errorf("host = %+v", cfg.Host)
				}
			},
		},
		{
			name: "missing env var fails validation",
			yaml: `
state:
  path: ./test.db
api:
  enabled: true
  tokens:
    - token: ${COURIER_TEST_MISSING}
      identity: x
`,
			wantErr: "${COURIER_TEST_MISSING} is not set",
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: trace
`,
			wantErr: "service.log_level",
		},
		{
			name: "unknown host access",
			yaml: `
host:
  access: sometimes
`,
			wantErr: "host.access",
		},
		{
			name: "token without identity",
			yaml: `
api:
  enabled: true
  tokens:
    - token: abc
`,
			wantErr: "identity is required",
		},
		{
			name: "command shadows builtin",
			yaml: `
commands:
  - name: Help
    exec:
      path: /bin/true
`,
			wantErr: "builtin command",
		},
		{
			name: "duplicate command is case-insensitive",
			yaml: `
commands:
  - name: echo
    exec: {path: /bin/cat}
  - name: ECHO
    exec: {path: /bin/cat}
`,
			wantErr: "duplicate command",
		},
		{
			name: "duplicate unit",
			yaml: `
units:
  - name: sync
    trigger: hourly
    exec: {path: /bin/true}
  - name: sync
    trigger: daily
    exec: {path: /bin/true}
`,
			wantErr: "duplicate unit",
		},
		{
			name: "invalid unit trigger",
			yaml: `
units:
  - name: sync
    trigger: 10s
    exec: {path: /bin/true}
`,
			wantErr: `unit "sync"`,
		},
		{
			name: "unit without exec path",
			yaml: `
units:
  - name: sync
    trigger: hourly
`,
			wantErr: "exec.path is required",
		},
		{
			name: "malformed exec env",
			yaml: `
commands:
  - name: echo
    exec:
      path: /bin/cat
      env: [NOEQUALS]
`,
			wantErr: "KEY=VALUE",
		},
		{
			name: "empty grant scopes",
			yaml: `
grants:
  com.example.app: []
`,
			wantErr: "scopes must be non-empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			configPath := writeConfig(t, t.TempDir(), "config.yaml", tt.yaml)
			cfg, err := Load(configPath)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.SourcePath != configPath {
				t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, configPath)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "state:\n  path: ./dir.db\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.State.Path != "./dir.db" {
		t.Errorf("state.path = %q", cfg.State.Path)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for directory without config.yaml")
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "units"), 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "config.yaml", `
include:
  - grants.yaml
  - units/sync.yaml
service:
  tick_interval: 10s
grants:
  com.example.app: [a]
`)
	writeConfig(t, dir, "grants.yaml", `
grants:
  com.example.app: [b]
  com.example.other: [c]
`)
	writeConfig(t, filepath.Join(dir, "units"), "sync.yaml", `
service:
  log_level: debug
units:
  - name: sync
    trigger: hourly
    exec: {path: /bin/true}
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Grants["com.example.app"]; len(got) != 2 {
		t.Errorf("grants not unioned: %v", got)
	}
	if len(cfg.Grants["com.example.other"]) != 1 {
		t.Error("included identity missing")
	}
	if len(cfg.Units) != 1 || cfg.Units[0].Name != "sync" {
		t.Errorf("units = %+v", cfg.Units)
	}
	if cfg.Service.LogLevel != "debug" || cfg.Service.TickInterval != 10*time.Second {
		t.Errorf("service merge = %+v", cfg.Service)
	}

	files, err := DiscoverAllConfigFiles(dir)
	if err != nil {
		t.Fatalf("DiscoverAllConfigFiles() error = %v", err)
	}
	if len(files) != 3 {
		t.Errorf("files = %v, want 3", files)
	}
}

func TestLoadIncludeErrors(t *testing.T) {
	t.Run("missing include", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, "config.yaml", "include: [nope.yaml]\n")
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "file not found") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, "config.yaml", "include: [a.yaml]\n")
		writeConfig(t, dir, "a.yaml", "include: [config.yaml]\n")
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "circular dependency") {
			t.Fatalf("error = %v", err)
		}
	})
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${COURIER_TEST_HOME}/data",
			env:   map[string]string{"COURIER_TEST_HOME": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${COURIER_TEST_USER}:${COURIER_TEST_PASS}",
			env:   map[string]string{"COURIER_TEST_USER": "admin", "COURIER_TEST_PASS": "secret"},
			want:  "admin:secret",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${COURIER_TEST_UNDEFINED}",
			want:  "key: ${COURIER_TEST_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := interpolateEnv(tt.input); got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Units = []UnitConfig{{Name: "sync", Trigger: "hourly", Exec: ExecConfig{Path: "/bin/true"}}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"negative tick interval", func(c *Config) { c.Service.TickInterval = -1 }, true},
		{"negative jitter", func(c *Config) { c.Service.Jitter = -time.Second }, true},
		{"warning is a log level", func(c *Config) { c.Service.LogLevel = "WARNING" }, false},
		{"missing state path", func(c *Config) { c.State.Path = "" }, true},
		{"api enabled without listen", func(c *Config) { c.API.Enabled = true; c.API.Listen = "" }, true},
		{"duplicate api token", func(c *Config) {
			c.API.Enabled = true
			c.API.Tokens = []APIToken{{Token: "t", Identity: "a"}, {Token: "t", Identity: "b"}}
		}, true},
		{"negative exec timeout", func(c *Config) { c.Units[0].Exec.Timeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
