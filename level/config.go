package level

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid level config")

// Default configuration values applied by NewConfig.
const (
	DefaultSurpriseThreshold = 0.5
	DefaultCapacity          = 10000
)

// Config is the immutable configuration of one level.
type Config struct {
	// Name identifies the level and selects its backend kind.
	Name string

	// UpdateFreq is the step cadence at which updates are considered.
	UpdateFreq int

	// LearningRate is carried for host policies and not interpreted here.
	LearningRate float64

	// SurpriseThreshold is the exclusive lower bound a surprise score must
	// exceed for an update to be kept.
	SurpriseThreshold float64

	// Capacity bounds the number of entries held by the level.
	Capacity int

	// Frozen levels never accept updates.
	Frozen bool

	// TTL is the persistence expiry for backend-stored entries. Zero selects
	// the kind default (see DefaultTTL).
	TTL time.Duration
}

// NewConfig returns a Config with default threshold and capacity.
func NewConfig(name string, updateFreq int, learningRate float64) Config {
	return Config{
		Name:              name,
		UpdateFreq:        updateFreq,
		LearningRate:      learningRate,
		SurpriseThreshold: DefaultSurpriseThreshold,
		Capacity:          DefaultCapacity,
	}
}

// Validate checks every field and reports the first violation.
func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.UpdateFreq < 1:
		return fmt.Errorf("%w: %s: update_freq must be >= 1, got %d", ErrInvalidConfig, c.Name, c.UpdateFreq)
	case !unit(c.LearningRate):
		return fmt.Errorf("%w: %s: learning_rate must be in [0,1], got %v", ErrInvalidConfig, c.Name, c.LearningRate)
	case !unit(c.SurpriseThreshold):
		return fmt.Errorf("%w: %s: surprise_threshold must be in [0,1], got %v", ErrInvalidConfig, c.Name, c.SurpriseThreshold)
	case c.Capacity < 1:
		return fmt.Errorf("%w: %s: capacity must be >= 1, got %d", ErrInvalidConfig, c.Name, c.Capacity)
	case c.TTL < 0:
		return fmt.Errorf("%w: %s: ttl must not be negative", ErrInvalidConfig, c.Name)
	}
	return nil
}

// unit reports whether v lies in [0,1]. NaN fails.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}
