package config

import (
	"crypto/tls"
	"fmt"

	"github.com/zero-day-ai/continuum"
	"github.com/zero-day-ai/continuum/encoder"
	"github.com/zero-day-ai/continuum/index"
	"github.com/zero-day-ai/continuum/kvstore"
	"github.com/zero-day-ai/continuum/level"
	"github.com/zero-day-ai/continuum/vectorstore"
)

// Setup is everything continuum.New needs besides the encoder.
type Setup struct {
	Dimensions int
	Levels     []level.Config
	Options    []continuum.Option
}

// Open validates the configuration and connects the configured stores.
// The returned options hand the stores to the System, which closes them.
// Stores connect lazily, so an unreachable backend is not an error here.
func (c *Config) Open() (*Setup, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	levels, err := c.LevelConfigs()
	if err != nil {
		return nil, err
	}

	opts := []continuum.Option{
		continuum.WithNamespace(c.GetNamespace()),
		continuum.WithOverFetch(c.Index.GetOverFetch()),
	}
	if c.Index.GetBackend() == "hnsw" {
		opts = append(opts, continuum.WithIndexBackend(index.NewHNSW(index.HNSWOptions{
			M:        c.Index.M,
			EfSearch: c.Index.EfSearch,
			Ml:       c.Index.Ml,
		})))
	}

	kv, err := c.openKV()
	if err != nil {
		return nil, err
	}
	if kv != nil {
		opts = append(opts, continuum.WithKVStore(kv))
	}

	if c.Chromem != nil {
		vs, err := vectorstore.NewChromemStore(vectorstore.ChromemOptions{
			Path:     c.Chromem.Path,
			Compress: c.Chromem.Compress,
		})
		if err != nil {
			if kv != nil {
				_ = kv.Close()
			}
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		opts = append(opts, continuum.WithVectorStore(vs))
	}

	return &Setup{
		Dimensions: c.GetDimensions(),
		Levels:     levels,
		Options:    opts,
	}, nil
}

func (c *Config) openKV() (kvstore.Store, error) {
	switch {
	case c.Redis != nil:
		store, err := kvstore.NewRedisStore(c.Redis.storeOptions())
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	case c.Etcd != nil:
		store, err := kvstore.NewEtcdStore(kvstore.EtcdOptions{
			Endpoints:   c.Etcd.Endpoints,
			DialTimeout: c.Etcd.GetDialTimeout(),
			Username:    c.Etcd.Username,
			Password:    c.Etcd.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("open etcd store: %w", err)
		}
		return store, nil
	}
	return nil, nil
}

// storeOptions maps the YAML block onto the store options. tls: true uses
// the system roots with a TLS 1.2 floor.
func (r *RedisConfig) storeOptions() kvstore.RedisOptions {
	opts := kvstore.RedisOptions{
		URL:            r.URL,
		ConnectTimeout: r.GetConnectTimeout(),
		ReadTimeout:    r.GetReadTimeout(),
		WriteTimeout:   r.GetWriteTimeout(),
	}
	if r.TLS {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Encoder returns the development hash encoder sized to the configured
// dimension, wrapped in an encode cache when encoder.cache_size is set.
func Encoder[T any](c *Config) (encoder.Encoder[T], error) {
	var salt string
	var cacheSize int64
	if c.Encoder != nil {
		salt = c.Encoder.Salt
		cacheSize = c.Encoder.CacheSize
	}

	var enc encoder.Encoder[T] = encoder.NewHash[T](c.GetDimensions(), salt)
	if cacheSize <= 0 {
		return enc, nil
	}

	cached, err := encoder.NewCached[T](enc, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create encode cache: %w", err)
	}
	return cached, nil
}
