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

// Package datasink provides the destinations records are written to: a
// local ring, a ring behind a remote proxy, an event file and in-memory and
// logging doubles for tests.
package datasink

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/retry"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/remote"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// ErrWouldBlock is returned when a put could not complete in time.
var ErrWouldBlock = errors.ErrWouldBlock

// Sink accepts whole records. A failed put leaves nothing behind.
type Sink interface {
	// PutItem encodes it and writes it in one put.
	PutItem(it *ringitem.Item) error
	// Put writes b, which must hold whole records. b is not retained.
	Put(b []byte) error
	Close() error
}

// Options configures Open.
type Options struct {
	// Directory resolves local ring names. Required for local rings.
	Directory *shm.Directory
	// Create creates a missing local ring with the address capacity, or
	// shm.DefaultCapacity.
	Create bool
	// Timeout bounds each ring put; negative waits forever.
	Timeout time.Duration
	// Retry retries ring puts that ran out of time. Nil disables retries.
	Retry *errors.RetryConfig
	// DialTimeout and DialRetry govern remote connections.
	DialTimeout time.Duration
	DialRetry   retry.Config
	Logger      *slog.Logger
}

// Open returns the sink addressed by uri: a bare ring name, a ring:// or
// tcp:// address, or a file:// path.
func Open(ctx context.Context, uri string, opts Options) (Sink, error) {
	addr, err := shm.ParseAddress(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "datasink", "Open", "parse "+uri)
	}
	logger := logging.OrDefault(opts.Logger)

	switch {
	case addr.IsFile():
		return CreateFile(addr.Path)
	case addr.IsLocal():
		if opts.Directory == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "datasink", "Open", "local ring without a directory")
		}
		prod, err := opts.Directory.AttachProducer(addr.Name)
		if err != nil && opts.Create && stderrors.Is(err, shm.ErrNoSuchRing) {
			capacity := addr.Capacity
			if capacity == 0 {
				capacity = shm.DefaultCapacity
			}
			prod, err = opts.Directory.CreateAndAttachProducer(addr.Name, capacity)
			if stderrors.Is(err, shm.ErrDuplicateRing) {
				// Lost a creation race; attach to the winner's ring.
				prod, err = opts.Directory.AttachProducer(addr.Name)
			}
		}
		if err != nil {
			return nil, err
		}
		return NewRing(prod, RingOptions{Timeout: opts.Timeout, Retry: opts.Retry, Logger: logger}), nil
	default:
		c, err := remote.Dial(ctx, addr, remote.ModeProduce, remote.DialOptions{
			DialTimeout: opts.DialTimeout,
			Retry:       opts.DialRetry,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return NewRemote(c), nil
	}
}

// static checks
var (
	_ Sink = (*Ring)(nil)
	_ Sink = (*File)(nil)
	_ Sink = (*Memory)(nil)
	_ Sink = (*Remote)(nil)
	_ Sink = (*Logging)(nil)
)
