package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Capture.Port != 9100 {
		t.Errorf("capture port = %d, want 9100", cfg.Capture.Port)
	}
	if cfg.Parser.DefaultCodepage != "cp437" {
		t.Errorf("default codepage = %q, want cp437", cfg.Parser.DefaultCodepage)
	}
	if cfg.Archive.Enabled {
		t.Error("archiving enabled by default")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8417 {
		t.Errorf("server port = %d, want default 8417", cfg.Server.Port)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printsink.yaml")
	body := `
server:
  port: 8080
capture:
  port: 9101
  idle_timeout: 5s
noise_filter:
  enabled: false
  min_bytes: 64
parser:
  default_codepage: cp850
webhooks:
  - url: https://example.com/hook
    secret: s3cret
    events: [job.captured]
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Capture.Port != 9101 {
		t.Errorf("capture port = %d, want 9101", cfg.Capture.Port)
	}
	if cfg.Capture.IdleTimeout.Std() != 5*time.Second {
		t.Errorf("idle timeout = %v, want 5s", cfg.Capture.IdleTimeout.Std())
	}
	if cfg.NoiseFilter.Enabled {
		t.Error("noise filter still enabled")
	}
	if cfg.NoiseFilter.MinBytes != 64 {
		t.Errorf("noise min bytes = %d, want 64", cfg.NoiseFilter.MinBytes)
	}
	if cfg.Parser.DefaultCodepage != "cp850" {
		t.Errorf("codepage = %q, want cp850", cfg.Parser.DefaultCodepage)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].URL != "https://example.com/hook" {
		t.Errorf("webhooks = %+v", cfg.Webhooks)
	}
	// Untouched sections keep their defaults.
	if cfg.History.MaxJobs != 25 {
		t.Errorf("history max jobs = %d, want default 25", cfg.History.MaxJobs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte("2h30m"), &d); err != nil {
		t.Fatalf("duration string: %v", err)
	}
	if d.Std() != 2*time.Hour+30*time.Minute {
		t.Errorf("got %v, want 2h30m", d.Std())
	}

	if err := yaml.Unmarshal([]byte("5000000000"), &d); err != nil {
		t.Fatalf("integer nanoseconds: %v", err)
	}
	if d.Std() != 5*time.Second {
		t.Errorf("got %v, want 5s", d.Std())
	}

	if err := yaml.Unmarshal([]byte("soon"), &d); err == nil {
		t.Error("expected error for junk duration")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PRINTSINK_PORT", "9000")
	t.Setenv("PRINTSINK_CAPTURE_PORT", "9102")
	t.Setenv("PRINTSINK_CODEPAGE", "cp858")

	cfg := Defaults()
	cfg.ApplyEnv()

	if cfg.Server.Port != 9000 {
		t.Errorf("server port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Capture.Port != 9102 {
		t.Errorf("capture port = %d, want 9102", cfg.Capture.Port)
	}
	if cfg.Parser.DefaultCodepage != "cp858" {
		t.Errorf("codepage = %q, want cp858", cfg.Parser.DefaultCodepage)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port zero", func(c *Config) { c.Server.Port = 0 }},
		{"capture port too high", func(c *Config) { c.Capture.Port = 70000 }},
		{"capture host not loopback", func(c *Config) { c.Capture.Host = "0.0.0.0" }},
		{"capture host garbage", func(c *Config) { c.Capture.Host = "printer.local" }},
		{"negative idle timeout", func(c *Config) { c.Capture.IdleTimeout = Duration(-time.Second) }},
		{"negative noise threshold", func(c *Config) { c.NoiseFilter.MinBytes = -1 }},
		{"negative history jobs", func(c *Config) { c.History.MaxJobs = -5 }},
		{"unknown codepage", func(c *Config) { c.Parser.DefaultCodepage = "latin1" }},
		{"archive without dir", func(c *Config) { c.Archive.Enabled = true; c.Archive.Dir = "" }},
		{"webhook bad url", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "not a url"}} }},
		{"webhook bad scheme", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "ftp://example.com"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printsink.yaml")

	cfg := Defaults()
	cfg.Capture.Port = 9200
	cfg.Capture.IdleTimeout = Duration(45 * time.Second)
	cfg.NoiseFilter.MinBytes = 16

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Capture.Port != 9200 {
		t.Errorf("capture port = %d, want 9200", loaded.Capture.Port)
	}
	if loaded.Capture.IdleTimeout.Std() != 45*time.Second {
		t.Errorf("idle timeout = %v, want 45s", loaded.Capture.IdleTimeout.Std())
	}
	if loaded.NoiseFilter.MinBytes != 16 {
		t.Errorf("noise min bytes = %d, want 16", loaded.NoiseFilter.MinBytes)
	}
}
