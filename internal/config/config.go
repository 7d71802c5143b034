package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Vault     VaultConfig     `yaml:"vault"`
	Retention RetentionConfig `yaml:"retention"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WorkerConfig struct {
	URL            string        `yaml:"url"`
	TriggerTimeout time.Duration `yaml:"trigger_timeout"`
	TargetHTTPURL  string        `yaml:"target_http_url"`
	TargetHTTPSURL string        `yaml:"target_https_url"`
}

type VaultConfig struct {
	// Hex-encoded 32-byte AES key. PROXYWARD_ENCRYPTION_KEY overrides.
	Key string `yaml:"key"`
}

type RetentionConfig struct {
	MaxRunAge time.Duration `yaml:"max_run_age"`
}

// Load reads the YAML config at path. A missing file is only an error when the
// path was given explicitly; otherwise the defaults are used as-is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	// Defaults
	cfg.Server.Addr = ":8000"
	cfg.Server.CORSOrigin = "http://localhost:3000"
	cfg.Database.Path = "proxyward.db"
	cfg.Worker.URL = "http://runner:9090"
	cfg.Worker.TriggerTimeout = 30 * time.Second
	cfg.Worker.TargetHTTPURL = "http://target:3001"
	cfg.Worker.TargetHTTPSURL = "https://target:3443"
	cfg.Retention.MaxRunAge = 30 * 24 * time.Hour

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			applyEnv(&cfg)
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROXYWARD_ENCRYPTION_KEY"); v != "" {
		cfg.Vault.Key = v
	}
	if v := os.Getenv("PROXYWARD_WORKER_URL"); v != "" {
		cfg.Worker.URL = v
	}
}
