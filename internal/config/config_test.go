package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint64(DefaultCapacity), cfg.Ring.Capacity)
	assert.Equal(t, DefaultMaxConsumers, cfg.Ring.MaxConsumers)
	assert.Equal(t, time.Second, cfg.Ring.LivenessInterval)
	assert.True(t, cfg.Ring.PutTimeout < 0)
	assert.Equal(t, DefaultProxyListen, cfg.Proxy.Listen)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
ring:
  capacity: 65536
  max_consumers: 8
  liveness_interval: 250ms
  force_remove: true
recorder:
  segment_size: 4096
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	v := viper.New()
	SetDefaultsOn(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), cfg.Ring.Capacity)
	assert.Equal(t, 8, cfg.Ring.MaxConsumers)
	assert.Equal(t, 250*time.Millisecond, cfg.Ring.LivenessInterval)
	assert.True(t, cfg.Ring.ForceRemove)
	assert.Equal(t, int64(4096), cfg.Recorder.SegmentSize)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"capacity not power of two", func(c *Config) { c.Ring.Capacity = 5000 }},
		{"no consumer slots", func(c *Config) { c.Ring.MaxConsumers = 0 }},
		{"zero liveness interval", func(c *Config) { c.Ring.LivenessInterval = 0 }},
		{"negative sample rate", func(c *Config) { c.Filter.SampleRate = -1 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}
