package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orrn/printsink/internal/escpos"
)

// Duration accepts YAML scalars in time.ParseDuration form ("30s",
// "2h") as well as plain integer nanoseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Capture     CaptureConfig     `yaml:"capture"`
	NoiseFilter NoiseFilterConfig `yaml:"noise_filter"`
	History     HistoryConfig     `yaml:"history"`
	Parser      ParserConfig      `yaml:"parser"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Webhooks    []WebhookConfig   `yaml:"webhooks"`
	Auth        AuthConfig        `yaml:"auth"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CaptureConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	IdleTimeout Duration `yaml:"idle_timeout"`
	MaxJobBytes int64    `yaml:"max_job_bytes"`
}

type NoiseFilterConfig struct {
	Enabled  bool `yaml:"enabled"`
	MinBytes int  `yaml:"min_bytes"`
}

type HistoryConfig struct {
	MaxJobs  int      `yaml:"max_jobs"`
	MaxBytes int64    `yaml:"max_bytes"`
	PruneAge Duration `yaml:"prune_age"`
}

type ParserConfig struct {
	DefaultCodepage string `yaml:"default_codepage"`
}

type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Dir             string `yaml:"dir"`
	RetentionMonths int    `yaml:"retention_months"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type AuthConfig struct {
	PasswordHash string   `yaml:"password_hash"`
	SessionTTL   Duration `yaml:"session_ttl"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8417,
		},
		Capture: CaptureConfig{
			Enabled:     true,
			Host:        "127.0.0.1",
			Port:        9100,
			IdleTimeout: Duration(30 * time.Second),
			MaxJobBytes: 16 << 20,
		},
		NoiseFilter: NoiseFilterConfig{
			Enabled:  true,
			MinBytes: 32,
		},
		History: HistoryConfig{
			MaxJobs:  25,
			MaxBytes: 0,
			PruneAge: 0,
		},
		Parser: ParserConfig{
			DefaultCodepage: "cp437",
		},
		Archive: ArchiveConfig{
			Enabled:         false,
			Dir:             "./archive",
			RetentionMonths: 12,
		},
		Auth: AuthConfig{
			PasswordHash: "",
			SessionTTL:   Duration(12 * time.Hour),
		},
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides loaded values from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PRINTSINK_HOST"); v != "" {
		c.Server.Host = v
	}

	if v := os.Getenv("PRINTSINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PRINTSINK_CAPTURE_HOST"); v != "" {
		c.Capture.Host = v
	}

	if v := os.Getenv("PRINTSINK_CAPTURE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Capture.Port = port
		}
	}

	if v := os.Getenv("PRINTSINK_CODEPAGE"); v != "" {
		c.Parser.DefaultCodepage = v
	}

	if v := os.Getenv("PRINTSINK_ARCHIVE_DIR"); v != "" {
		c.Archive.Dir = v
	}

	if v := os.Getenv("PRINTSINK_AUTH_HASH"); v != "" {
		c.Auth.PasswordHash = v
	}
}

// Save writes the configuration to disk. Runtime settings changes are
// deliberately not persisted through this; it exists for tooling that
// generates a starting config file.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Capture.Port < 1 || c.Capture.Port > 65535 {
		return fmt.Errorf("capture port must be between 1 and 65535, got %d", c.Capture.Port)
	}

	// The capture listener impersonates a local printer; binding it to
	// a reachable interface would swallow real print traffic.
	if c.Capture.Host != "localhost" {
		ip := net.ParseIP(c.Capture.Host)
		if ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("capture host must be a loopback address, got %q", c.Capture.Host)
		}
	}

	if c.Capture.IdleTimeout < 0 {
		return fmt.Errorf("capture idle timeout must be non-negative")
	}

	if c.Capture.MaxJobBytes < 0 {
		return fmt.Errorf("capture max job bytes must be non-negative")
	}

	if c.NoiseFilter.MinBytes < 0 {
		return fmt.Errorf("noise filter min bytes must be non-negative")
	}

	if c.History.MaxJobs < 0 {
		return fmt.Errorf("history max jobs must be non-negative")
	}

	if c.History.MaxBytes < 0 {
		return fmt.Errorf("history max bytes must be non-negative")
	}

	if c.History.PruneAge < 0 {
		return fmt.Errorf("history prune age must be non-negative")
	}

	if _, ok := escpos.PageByName(c.Parser.DefaultCodepage); !ok {
		return fmt.Errorf("unknown codepage: %s (valid: cp437, cp850, cp852, cp858, cp860, cp863, cp865, cp866, cp1252)", c.Parser.DefaultCodepage)
	}

	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive dir is required when archiving is enabled")
	}

	if c.Archive.RetentionMonths < 0 {
		return fmt.Errorf("archive retention months must be non-negative")
	}

	for i, wh := range c.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %d: invalid url: %s", i, wh.URL)
		}
	}

	if c.Auth.PasswordHash != "" && c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth session ttl must be positive")
	}

	return nil
}
