// Package config loads cms.yaml files describing a continuum memory system:
// its levels, index, encoder cache and persistence backends.
//
// Example cms.yaml:
//
//	dimensions: 384
//	namespace: scanner
//	index:
//	  backend: hnsw
//	levels:
//	  - name: session
//	    update_freq: 1
//	    learning_rate: 0.1
//	    ttl: 30m
//	  - name: domain
//	    update_freq: 1000
//	    learning_rate: 0.0001
//	    surprise_threshold: 0.8
//	redis:
//	  url: redis://localhost:6379/0
//	chromem:
//	  path: /var/lib/cms
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/continuum"
	"github.com/zero-day-ai/continuum/level"
)

// File names searched by Load when given a directory.
const (
	FileName    = "cms.yaml"
	AltFileName = "cms.yml"
)

// Config represents a cms.yaml configuration file.
type Config struct {
	Dimensions int            `yaml:"dimensions,omitempty"`
	Namespace  string         `yaml:"namespace,omitempty"`
	Index      *IndexConfig   `yaml:"index,omitempty"`
	Encoder    *EncoderConfig `yaml:"encoder,omitempty"`
	Levels     []LevelConfig  `yaml:"levels,omitempty"`

	// Persistence backends. Redis and etcd are alternatives for
	// key-value levels.
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
	Etcd    *EtcdConfig    `yaml:"etcd,omitempty"`
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`
}

// LevelConfig describes one level. Omitted fields take the level package
// defaults.
type LevelConfig struct {
	Name              string   `yaml:"name"`
	UpdateFreq        int      `yaml:"update_freq"`
	LearningRate      float64  `yaml:"learning_rate"`
	SurpriseThreshold *float64 `yaml:"surprise_threshold,omitempty"`
	Capacity          int      `yaml:"capacity,omitempty"`
	Frozen            bool     `yaml:"frozen,omitempty"`

	// TTL is a Go duration string (e.g., "1h"). Empty selects the kind
	// default.
	TTL string `yaml:"ttl,omitempty"`
}

// IndexConfig selects the shared index backend.
type IndexConfig struct {
	// Backend is "flat" (default) or "hnsw".
	Backend   string `yaml:"backend,omitempty"`
	OverFetch int    `yaml:"over_fetch,omitempty"`

	// HNSW tuning, used when Backend is "hnsw".
	M        int     `yaml:"m,omitempty"`
	EfSearch int     `yaml:"ef_search,omitempty"`
	Ml       float64 `yaml:"ml,omitempty"`
}

// EncoderConfig configures the development hash encoder.
type EncoderConfig struct {
	Salt string `yaml:"salt,omitempty"`

	// CacheSize enables an encode cache holding that many vectors.
	CacheSize int64 `yaml:"cache_size,omitempty"`
}

// RedisConfig configures the Redis key-value store.
type RedisConfig struct {
	URL string `yaml:"url"`
	TLS bool   `yaml:"tls,omitempty"`

	// Timeouts are Go duration strings.
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
	WriteTimeout   string `yaml:"write_timeout,omitempty"`
}

// EtcdConfig configures the etcd key-value store.
type EtcdConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	DialTimeout string   `yaml:"dial_timeout,omitempty"`
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"`
}

// ChromemConfig configures the chromem vector store. An empty Path keeps
// the database in memory.
type ChromemConfig struct {
	Path     string `yaml:"path,omitempty"`
	Compress bool   `yaml:"compress,omitempty"`
}

// GetDimensions returns the embedding dimension or the default of 384.
func (c *Config) GetDimensions() int {
	if c == nil || c.Dimensions <= 0 {
		return 384
	}
	return c.Dimensions
}

// GetNamespace returns the persistence namespace or the default "cms".
func (c *Config) GetNamespace() string {
	if c == nil || c.Namespace == "" {
		return "cms"
	}
	return c.Namespace
}

// GetBackend returns the index backend name or "flat".
func (i *IndexConfig) GetBackend() string {
	if i == nil || i.Backend == "" {
		return "flat"
	}
	return i.Backend
}

// GetOverFetch returns the over-fetch factor or 2.
func (i *IndexConfig) GetOverFetch() int {
	if i == nil || i.OverFetch <= 0 {
		return 2
	}
	return i.OverFetch
}

// GetConnectTimeout parses the connect timeout, defaulting to 5s.
func (r *RedisConfig) GetConnectTimeout() time.Duration {
	return durationOr(r.ConnectTimeout, 5*time.Second)
}

// GetReadTimeout parses the read timeout, defaulting to 3s.
func (r *RedisConfig) GetReadTimeout() time.Duration {
	return durationOr(r.ReadTimeout, 3*time.Second)
}

// GetWriteTimeout parses the write timeout, defaulting to 3s.
func (r *RedisConfig) GetWriteTimeout() time.Duration {
	return durationOr(r.WriteTimeout, 3*time.Second)
}

// GetDialTimeout parses the dial timeout, defaulting to 5s.
func (e *EtcdConfig) GetDialTimeout() time.Duration {
	return durationOr(e.DialTimeout, 5*time.Second)
}

// durationOr parses s, returning def when s is empty or invalid.
func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Validate checks the configuration without opening any backend.
func (c *Config) Validate() error {
	if c.Redis != nil && c.Etcd != nil {
		return fmt.Errorf("%w: redis and etcd are mutually exclusive", level.ErrInvalidConfig)
	}
	if c.Redis != nil && c.Redis.URL == "" {
		return fmt.Errorf("%w: redis.url is required", level.ErrInvalidConfig)
	}
	if c.Etcd != nil && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("%w: etcd.endpoints is required", level.ErrInvalidConfig)
	}
	switch b := c.Index.GetBackend(); b {
	case "flat", "hnsw":
	default:
		return fmt.Errorf("%w: unknown index backend %q", level.ErrInvalidConfig, b)
	}
	_, err := c.LevelConfigs()
	return err
}

// LevelConfigs converts the level list into validated level configs. An
// empty list yields the standard four tiers.
func (c *Config) LevelConfigs() ([]level.Config, error) {
	if len(c.Levels) == 0 {
		return continuum.DefaultLevels(), nil
	}

	out := make([]level.Config, 0, len(c.Levels))
	for _, lc := range c.Levels {
		cfg := level.NewConfig(lc.Name, lc.UpdateFreq, lc.LearningRate)
		if lc.SurpriseThreshold != nil {
			cfg.SurpriseThreshold = *lc.SurpriseThreshold
		}
		if lc.Capacity != 0 {
			cfg.Capacity = lc.Capacity
		}
		cfg.Frozen = lc.Frozen

		if lc.TTL != "" {
			ttl, err := time.ParseDuration(lc.TTL)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: invalid ttl %q: %v", level.ErrInvalidConfig, lc.Name, lc.TTL, err)
			}
			cfg.TTL = ttl
		}

		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Load reads and parses a cms.yaml file. If path is a directory, it looks
// for cms.yaml or cms.yml inside it.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{FileName, AltFileName} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s or %s found in %s", FileName, AltFileName, path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadFromDir searches for cms.yaml starting at dir and walking up to
// parent directories until found or the root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no %s found in %s or parent directories", FileName, dir)
		}
		absDir = parent
	}
}
