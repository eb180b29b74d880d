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

// Package app carries the process-wide objects a ringbus tool needs:
// configuration, logger, metrics, the ring directory and run state.
package app

import (
	"io"
	"log/slog"
	"time"

	"github.com/daqlab/ringbus/internal/config"
	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/datasource"
	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/metric"
	"github.com/daqlab/ringbus/internal/retry"
	"github.com/daqlab/ringbus/internal/runstate"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// Context is built once per process and passed to whatever needs it.
type Context struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
	Directory *shm.Directory
	RunState  *runstate.Tracker

	logCloser io.Closer
}

// New builds a Context from cfg.
func New(cfg *config.Config) (*Context, error) {
	logger, closer, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "app", "New", "create logger")
	}
	return NewWithLogger(cfg, logger, closer), nil
}

// NewWithLogger builds a Context around an existing logger. closer may be nil.
func NewWithLogger(cfg *config.Config, logger *slog.Logger, closer io.Closer) *Context {
	metrics := metric.NewMetricsRegistry()
	return &Context{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Directory: shm.NewDirectory(shm.DirectoryOptions{
			Dir:              cfg.Ring.Dir,
			MaxConsumers:     cfg.Ring.MaxConsumers,
			LivenessInterval: cfg.Ring.LivenessInterval,
			StaleTimeout:     cfg.Ring.StaleTimeout,
			ForceRemove:      cfg.Ring.ForceRemove,
			Metrics:          metrics,
			Logger:           logger,
		}),
		RunState:  runstate.NewTracker(logger),
		logCloser: closer,
	}
}

// SourceOptions returns datasource options from the configuration.
func (c *Context) SourceOptions() datasource.Options {
	return datasource.Options{
		Directory:   c.Directory,
		Timeout:     c.Config.Ring.GetTimeout,
		DialTimeout: c.Config.Proxy.DialTimeout,
		Retry:       retry.DefaultConfig(),
		Logger:      c.Logger,
	}
}

// SinkOptions returns datasink options from the configuration.
func (c *Context) SinkOptions() datasink.Options {
	rc := errors.DefaultRetryConfig()
	return datasink.Options{
		Directory:   c.Directory,
		Timeout:     c.Config.Ring.PutTimeout,
		Retry:       &rc,
		DialTimeout: c.Config.Proxy.DialTimeout,
		DialRetry:   retry.DefaultConfig(),
		Logger:      c.Logger,
	}
}

// DefaultCapacity returns the configured capacity for new rings.
func (c *Context) DefaultCapacity() uint64 { return c.Config.Ring.Capacity }

// PollTimeout bounds source waits for loops that must notice shutdown.
func (c *Context) PollTimeout() time.Duration {
	if t := c.Config.Ring.GetTimeout; t >= 0 && t < time.Second {
		return t
	}
	return 250 * time.Millisecond
}

// Close releases the log file, if any.
func (c *Context) Close() error {
	if c.logCloser == nil {
		return nil
	}
	return c.logCloser.Close()
}
