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

// Package datasource provides byte sources that records are read from: a
// local ring, a ring behind a remote proxy, a recorded event file and an
// in-memory stream for tests.
//
// Every Source fills a request completely or fails without consuming. A
// source with nothing more to give returns io.EOF; one that ends in the
// middle of a request returns io.ErrUnexpectedEOF. Running out of time is
// ErrWouldBlock, a transient condition the caller may retry.
package datasource

import (
	"context"
	"log/slog"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/retry"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/remote"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// ErrWouldBlock is returned when a request could not be satisfied in time.
var ErrWouldBlock = errors.ErrWouldBlock

// Source is a byte stream that records are decoded from.
type Source interface {
	// Read fills buf completely and consumes the bytes.
	Read(buf []byte) (int, error)
	// Peek fills buf completely without consuming.
	Peek(buf []byte) (int, error)
	// Ignore consumes exactly n bytes.
	Ignore(n int) error
	// Available returns the bytes that can be read without waiting.
	Available() (int, error)
	// Position returns the bytes consumed through this source.
	Position() uint64
	Close() error
}

// Options configures Open.
type Options struct {
	// Directory resolves local ring names. Required for local rings.
	Directory *shm.Directory
	// Timeout bounds each wait; negative waits forever, zero polls.
	Timeout time.Duration
	// EOFOnProducerExit ends a ring stream once its producer is gone and
	// the ring is drained.
	EOFOnProducerExit bool
	// FromStart attaches ring consumers at the oldest intact byte.
	FromStart bool
	// DialTimeout and Retry govern remote connections.
	DialTimeout time.Duration
	Retry       retry.Config
	Logger      *slog.Logger
}

// Open returns the source addressed by uri: a bare ring name, a
// ring:// or tcp:// address, or a file:// path.
func Open(ctx context.Context, uri string, opts Options) (Source, error) {
	addr, err := shm.ParseAddress(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "datasource", "Open", "parse "+uri)
	}
	logger := logging.OrDefault(opts.Logger)

	switch {
	case addr.IsFile():
		return OpenFile(addr.Path)
	case addr.IsLocal():
		if opts.Directory == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "datasource", "Open", "local ring without a directory")
		}
		attach := opts.Directory.AttachConsumer
		if opts.FromStart || addr.FromStart {
			attach = opts.Directory.AttachConsumerFromStart
		}
		cons, err := attach(addr.Name)
		if err != nil {
			return nil, err
		}
		return NewRing(cons, RingOptions{
			Timeout:           opts.Timeout,
			EOFOnProducerExit: opts.EOFOnProducerExit,
			Logger:            logger,
		}), nil
	default:
		return remote.Dial(ctx, addr, remote.ModeConsume, remote.DialOptions{
			FromStart:         opts.FromStart || addr.FromStart,
			EOFOnProducerExit: opts.EOFOnProducerExit,
			Timeout:           opts.Timeout,
			DialTimeout:       opts.DialTimeout,
			Retry:             opts.Retry,
			Logger:            logger,
		})
	}
}

// static checks
var (
	_ Source = (*Ring)(nil)
	_ Source = (*File)(nil)
	_ Source = (*Memory)(nil)
	_ Source = (*Logging)(nil)
	_ Source = (*remote.Client)(nil)

	_ ringitem.Bounded = (*Ring)(nil)
	_ ringitem.Bounded = (*Logging)(nil)
	_ ringitem.Bounded = (*remote.Client)(nil)
)
