package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[upstream]
timeout_seconds = 60
idle_connections = 50
max_redirects = 3

[log]
level = "debug"
format = "text"

[admin]
enabled = true
port = 9100

[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.BodyMaxBytes != 5242880 {
		t.Errorf("Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 5242880)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Upstream.MaxRedirects != 3 {
		t.Errorf("Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 3)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if !cfg.Admin.Enabled || cfg.Admin.Port != 9100 {
		t.Errorf("Admin = %+v, want enabled on port 9100", cfg.Admin)
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, "")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.BodyMaxBytes != 0 {
		t.Errorf("Server.BodyMaxBytes = %d, want 0 (unlimited)", cfg.Server.BodyMaxBytes)
	}
	if cfg.Upstream.TimeoutSeconds != 0 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want 0 (no timeout)", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 100)
	}
	if cfg.Upstream.MaxRedirects != 10 {
		t.Errorf("Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 10)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
	if cfg.Admin.Addr() != "127.0.0.1:9090" {
		t.Errorf("Admin.Addr() = %q, want %q", cfg.Admin.Addr(), "127.0.0.1:9090")
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(cliWithPath(filepath.Join(t.TempDir(), "nope.toml")))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit config file, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[server\nport = ")))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_PortPrecedence(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 7000
`)

	tests := []struct {
		name string
		cli  CLI
		want int
	}{
		{"config file", CLI{Config: path}, 7000},
		{"flag or env over config", CLI{Config: path, Port: 7100}, 7100},
		{"argument over flag or env", CLI{Config: path, Port: 7100, Listen: 7200}, 7200},
		{"argument over config", CLI{Config: path, Listen: 7200}, 7200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(&tt.cli)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Server.Port != tt.want {
				t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, tt.want)
			}
		})
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"

[log]
level = "info"
`)

	cfg, err := Load(&CLI{Config: path, Host: "127.0.0.1", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		cli     CLI
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", CLI{}, "server.port"},
		{"port too large", "[server]\nport = 70000\n", CLI{}, "server.port"},
		{"argument port out of range", "", CLI{Listen: 65536}, "server.port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", CLI{}, "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", CLI{}, "timeout_seconds"},
		{"negative redirects", "[upstream]\nmax_redirects = -1\n", CLI{}, "max_redirects"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n", CLI{}, "log.level"},
		{"bad log format", "[log]\nformat = \"xml\"\n", CLI{}, "log.format"},
		{"metrics without admin", "[metrics]\nenabled = true\n", CLI{}, "admin.enabled"},
		{"admin port clash", "[server]\nport = 9000\n[admin]\nenabled = true\nport = 9000\n", CLI{}, "admin.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := tt.cli
			cli.Config = writeConfig(t, tt.data)
			_, err := Load(&cli)
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[admin]
enabled = true

[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithAdminRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz", "/healthz"},
		{"healthz sub", "/healthz/metrics"},
		{"proxy/status", "/proxy/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[admin]
enabled = true

[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	path := writeConfig(t, "")
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{filePath: path}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	path := writeConfig(t, "")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{filePath: path}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))

	if buf.Len() != 0 {
		t.Errorf("expected no warning, got %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	(&Config{}).WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))
	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	missing := filepath.Join(dir, "missing.toml")
	if got := findConfigInPaths([]string{missing, first, second}); got != first {
		t.Errorf("findConfigInPaths() = %q, want %q", got, first)
	}
	if got := findConfigInPaths([]string{missing}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
