package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models raidline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Catalog struct {
		// Path takes precedence over URL when both are set.
		Path string `yaml:"path"`
		URL  string `yaml:"url"`
	} `yaml:"catalog"`
}

// Default returns a config suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = "127.0.0.1:8585"
	cfg.Server.BasePath = "/api/v2"
	cfg.Auth.AllowLegacyActorHeader = true
	return cfg
}

// Load reads and validates config from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	if c.Catalog.Path == "" && c.Catalog.URL == "" {
		return fmt.Errorf("config.catalog.path or config.catalog.url is required")
	}
	return nil
}

// ToYAML serializes the config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
