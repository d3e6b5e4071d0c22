// Package clientcfg loads the terminal client's settings.
package clientcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GatewayURL            string  `toml:"gateway_url" json:"gateway_url" yaml:"gateway_url"`
	StatePath             string  `toml:"state_path" json:"state_path" yaml:"state_path"`
	DocumentPath          string  `toml:"document_path" json:"document_path" yaml:"document_path"`
	Format                string  `toml:"format" json:"format" yaml:"format"`
	Seed                  int64   `toml:"seed" json:"seed" yaml:"seed"`
	PersistMemory         bool    `toml:"persist_memory" json:"persist_memory" yaml:"persist_memory"`
	// Hostility and Sabotage override the persisted persona dials when set.
	Hostility             float64 `toml:"hostility" json:"hostility" yaml:"hostility"`
	Sabotage              float64 `toml:"sabotage" json:"sabotage" yaml:"sabotage"`
	ContextRadius         int     `toml:"context_radius" json:"context_radius" yaml:"context_radius"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds" json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	LogFile               string  `toml:"log_file" json:"log_file" yaml:"log_file"`
}

func Default() Config {
	return Config{
		GatewayURL:            "http://localhost:3001",
		DocumentPath:          "document.txt",
		Format:                "text",
		ContextRadius:         1,
		RequestTimeoutSeconds: 60,
	}
}

// Load reads path by extension (.toml, .yaml/.yml, .json) over the
// defaults, then applies CLUPPO_GATEWAY_URL and CLUPPO_STATE_PATH. An empty
// path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CLUPPO_GATEWAY_URL")); v != "" {
		c.GatewayURL = v
	}
	if v, ok := os.LookupEnv("CLUPPO_STATE_PATH"); ok {
		c.StatePath = strings.TrimSpace(v)
	}
}

// Validate rejects settings the client cannot run with. Non-positive dials
// are cleared to 0 (unset) rather than rejected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GatewayURL) == "" {
		return errors.New("gateway_url is required")
	}
	switch c.Format {
	case "", "text":
		c.Format = "text"
	case "prosemirror":
	default:
		return fmt.Errorf("format must be text or prosemirror, got %q", c.Format)
	}
	if c.ContextRadius < 0 {
		return fmt.Errorf("context_radius must be >= 0, got %d", c.ContextRadius)
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 60
	}
	c.Hostility = dial(c.Hostility)
	c.Sabotage = dial(c.Sabotage)
	return nil
}

func dial(v float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
