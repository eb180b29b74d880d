/*
 *
 * Copyright 2025 The ringbus authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config holds the ringbus configuration, loaded through viper from
// a YAML file, RINGBUS_* environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/daqlab/ringbus/internal/errors"
)

// Config represents the complete ringbus configuration
type Config struct {
	Ring     RingConfig     `mapstructure:"ring" yaml:"ring" json:"ring"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy" json:"proxy"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder" json:"recorder"`
	Filter   FilterConfig   `mapstructure:"filter" yaml:"filter" json:"filter"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// RingConfig controls the ring directory and handle defaults.
type RingConfig struct {
	// Dir holds the shared regions; empty selects /dev/shm or the temp dir.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
	// Capacity is the default payload capacity for new rings (power of two).
	Capacity uint64 `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
	// MaxConsumers is the consumer slot table size for new rings.
	MaxConsumers int `mapstructure:"max_consumers" yaml:"max_consumers" json:"max_consumers"`
	// LivenessInterval is how often a blocked producer probes consumer processes.
	LivenessInterval time.Duration `mapstructure:"liveness_interval" yaml:"liveness_interval" json:"liveness_interval"`
	// StaleTimeout reclaims slots idle this long even if the process lives (0 = never).
	StaleTimeout time.Duration `mapstructure:"stale_timeout" yaml:"stale_timeout" json:"stale_timeout"`
	// ForceRemove detaches live handles on remove instead of failing.
	ForceRemove bool `mapstructure:"force_remove" yaml:"force_remove" json:"force_remove"`
	// PutTimeout bounds ring sink puts (negative = wait forever).
	PutTimeout time.Duration `mapstructure:"put_timeout" yaml:"put_timeout" json:"put_timeout"`
	// GetTimeout bounds ring source reads (negative = wait forever).
	GetTimeout time.Duration `mapstructure:"get_timeout" yaml:"get_timeout" json:"get_timeout"`
}

// ProxyConfig controls the ring:// proxy.
type ProxyConfig struct {
	Listen      string        `mapstructure:"listen" yaml:"listen" json:"listen"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
}

// RecorderConfig controls event file recording.
type RecorderConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir" json:"dir"`
	SegmentSize int64  `mapstructure:"segment_size" yaml:"segment_size" json:"segment_size"`
	Checksum    bool   `mapstructure:"checksum" yaml:"checksum" json:"checksum"`
}

// FilterConfig controls the filter pipeline defaults.
type FilterConfig struct {
	// SampleRate is the maximum physics events per second passed by the sampler (0 = all).
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables the endpoint.
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen"`
}

// Default values.
const (
	DefaultCapacity         = 8 * 1024 * 1024
	DefaultMaxConsumers     = 100
	DefaultLivenessInterval = time.Second
	DefaultProxyListen      = ":30000"
	DefaultSegmentSize      = 1 << 30
)

// SetDefaults registers defaults on the global viper instance.
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers defaults on v.
func SetDefaultsOn(v *viper.Viper) {
	v.SetDefault("ring.dir", "")
	v.SetDefault("ring.capacity", DefaultCapacity)
	v.SetDefault("ring.max_consumers", DefaultMaxConsumers)
	v.SetDefault("ring.liveness_interval", DefaultLivenessInterval)
	v.SetDefault("ring.stale_timeout", time.Duration(0))
	v.SetDefault("ring.force_remove", false)
	v.SetDefault("ring.put_timeout", -1*time.Second)
	v.SetDefault("ring.get_timeout", -1*time.Second)

	v.SetDefault("proxy.listen", DefaultProxyListen)
	v.SetDefault("proxy.dial_timeout", 10*time.Second)

	v.SetDefault("recorder.dir", ".")
	v.SetDefault("recorder.segment_size", int64(DefaultSegmentSize))
	v.SetDefault("recorder.checksum", true)

	v.SetDefault("filter.sample_rate", 0.0)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.listen", "")
}

// Get unmarshals and validates the global viper configuration.
func Get() (*Config, error) {
	return FromViper(viper.GetViper())
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "FromViper", "unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaultsOn(v)
	cfg, err := FromViper(v)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
			"Config", "Validate", "check configuration")
	}
	if c.Ring.Capacity == 0 || c.Ring.Capacity&(c.Ring.Capacity-1) != 0 {
		return invalid("ring.capacity %d is not a power of two", c.Ring.Capacity)
	}
	if c.Ring.MaxConsumers <= 0 {
		return invalid("ring.max_consumers must be positive, got %d", c.Ring.MaxConsumers)
	}
	if c.Ring.LivenessInterval <= 0 {
		return invalid("ring.liveness_interval must be positive")
	}
	if c.Ring.StaleTimeout < 0 {
		return invalid("ring.stale_timeout cannot be negative")
	}
	if c.Recorder.SegmentSize <= 0 {
		return invalid("recorder.segment_size must be positive")
	}
	if c.Filter.SampleRate < 0 {
		return invalid("filter.sample_rate cannot be negative")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ringbus")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "ringbus")
}
