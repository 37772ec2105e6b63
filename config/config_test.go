package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type leaseSection struct {
	Duration time.Duration `mapstructure:"duration"`
	Leeway   float64       `mapstructure:"leeway"`
}

type testConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Lease         leaseSection `mapstructure:"lease"`
	Shards        int          `mapstructure:"shards"`
	Ignored       string       `mapstructure:"-"`
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestServiceConfigDefaults(t *testing.T) {
	t.Run("empty environment defaults to development", func(t *testing.T) {
		cfg := ServiceConfig{Name: "regd"}
		cfg.ApplyDefaults()
		if cfg.Environment != "development" || !cfg.Debug {
			t.Errorf("got env=%q debug=%v", cfg.Environment, cfg.Debug)
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("logging defaults not applied: %+v", cfg.Logging)
		}
	})

	t.Run("production keeps debug false", func(t *testing.T) {
		cfg := ServiceConfig{Name: "regd", Environment: "production"}
		cfg.ApplyDefaults()
		if cfg.Debug {
			t.Error("expected debug=false for production")
		}
	})
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ServiceConfig
		errMsg string
	}{
		{"valid", ServiceConfig{Name: "regd", Environment: "staging"}, ""},
		{"missing name", ServiceConfig{Environment: "production"}, "config.name is required"},
		{"invalid environment", ServiceConfig{Name: "regd", Environment: "qa"}, "config.environment must be one of"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.Logging.ApplyDefaults()
			err := cfg.Validate()
			if tc.errMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Fatalf("expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestStructKeys(t *testing.T) {
	got := StructKeys(&testConfig{})
	want := []string{
		"name", "environment", "version", "debug",
		"logging.level", "logging.format", "logging.output", "logging.no_color",
		"logging.timestamp", "logging.caller",
		"lease.duration", "lease.leeway", "shards",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("StructKeys =\n%v\nwant\n%v", got, want)
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("regd", "registry.sweep_interval"); got != "REGD_REGISTRY_SWEEP_INTERVAL" {
		t.Errorf("EnvName = %q", got)
	}
	if got := EnvName("", "shards"); got != "SHARDS" {
		t.Errorf("EnvName = %q", got)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "config.yml", `
name: regd
environment: staging
shards: 16
lease:
  duration: 30s
  leeway: 3
`)
	envFile := writeFile(t, dir, ".env", "CFGTEST_LEASE_LEEWAY=2.5\n")
	t.Setenv("CFGTEST_SHARDS", "64")
	t.Cleanup(func() { os.Unsetenv("CFGTEST_LEASE_LEEWAY") })

	var cfg testConfig
	err := LoadConfig("regd", &cfg,
		WithConfigFile(cfgFile),
		WithEnvFile(envFile),
		WithEnvPrefix("CFGTEST"),
	)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Name != "regd" || cfg.Environment != "staging" {
		t.Errorf("file values not loaded: %+v", cfg.ServiceConfig)
	}
	if cfg.Lease.Duration != 30*time.Second {
		t.Errorf("duration = %v", cfg.Lease.Duration)
	}
	if cfg.Shards != 64 {
		t.Errorf("env should override file: shards = %d", cfg.Shards)
	}
	if cfg.Lease.Leeway != 2.5 {
		t.Errorf(".env should override file: leeway = %v", cfg.Lease.Leeway)
	}
}

type memFS map[string]bool

func (m memFS) Exists(path string) bool   { return m[path] }
func (m memFS) LoadEnv(path string) error { return nil }

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	var cfg testConfig
	err := LoadConfig("regd", &cfg, WithFileSystem(memFS{}), WithConfigFile("/nope/config.yml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfigNoFiles(t *testing.T) {
	var cfg testConfig
	if err := LoadConfig("regd", &cfg, WithFileSystem(memFS{}), WithEnvPrefix("CFGTEST_NONE")); err != nil {
		t.Fatalf("LoadConfig without files: %v", err)
	}
	if cfg.Name != "" {
		t.Errorf("expected zero config, got %+v", cfg)
	}
}

func TestSearchPathsPreferCmdDir(t *testing.T) {
	fs := memFS{"./cmd/regd/config.yml": true, "./config.yml": true}
	if got := firstExisting(fs, searchPaths("regd", "config.yml")); got != "./cmd/regd/config.yml" {
		t.Errorf("firstExisting = %q", got)
	}
}
