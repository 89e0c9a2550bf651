// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	Storage Storage `json:"storage" yaml:"storage"`

	Signature struct {
		Algorithm string `json:"algorithm" yaml:"algorithm"` // mock-sha256, secp256k1
	} `json:"signature" yaml:"signature"`

	Environment string `json:"environment" yaml:"environment"` // development, production
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

type Storage struct {
	Provider  string `json:"provider" yaml:"provider"` // memory, badger, bolt, fs, ipfs
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
	IPFSURL   string `json:"ipfs_url" yaml:"ipfs_url"`
	CacheSize int    `json:"cache_size" yaml:"cache_size"`
	Compress  bool   `json:"compress" yaml:"compress"`
}

// Default returns a configuration usable without any file: in-memory storage
// and the mock signer.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "memory"
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "disot"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = ".disot"
	}
	if c.Storage.IPFSURL == "" {
		c.Storage.IPFSURL = "http://127.0.0.1:5001"
	}
	if c.Signature.Algorithm == "" {
		c.Signature.Algorithm = "mock-sha256"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects unknown provider and signer names.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "memory", "badger", "bolt", "fs", "ipfs":
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	switch c.Signature.Algorithm {
	case "mock-sha256", "secp256k1":
	default:
		return fmt.Errorf("unknown signature algorithm %q", c.Signature.Algorithm)
	}
	if c.Storage.CacheSize < 0 {
		return fmt.Errorf("cache_size cannot be negative")
	}
	return nil
}

func getConfigPath() string {
	env := os.Getenv("DISOT_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads path as JSON, or YAML when the extension is .yaml/.yml. An empty
// path falls back to config/config.<DISOT_ENV>.json, and a missing default
// file yields Default().
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
