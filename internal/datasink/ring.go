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
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// RingOptions configures a Ring sink.
type RingOptions struct {
	// Timeout bounds each put attempt; negative waits forever.
	Timeout time.Duration
	// Retry retries attempts that ran out of time. Nil disables retries.
	Retry  *errors.RetryConfig
	Logger *slog.Logger
}

// Ring writes records into a local ring through its producer handle.
type Ring struct {
	prod   *shm.Producer
	opts   RingOptions
	logger *slog.Logger
	w      *ringitem.Writer
}

// NewRing wraps prod. The Ring owns the handle and detaches it on Close.
func NewRing(prod *shm.Producer, opts RingOptions) *Ring {
	r := &Ring{
		prod:   prod,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger).With("ring", prod.Name()),
	}
	r.w = ringitem.NewWriter(r)
	return r
}

// Producer returns the underlying handle.
func (r *Ring) Producer() *shm.Producer { return r.prod }

func (r *Ring) PutItem(it *ringitem.Item) error { return r.w.WriteItem(it) }

// Put writes b in one ring put, so a consumer never sees part of it.
func (r *Ring) Put(b []byte) error {
	attempt := func() error {
		ok, err := r.prod.Put(b, r.opts.Timeout)
		if err != nil {
			return retry.NonRetryable(err)
		}
		if !ok {
			return errors.WrapTransient(ErrWouldBlock, "Ring", "Put", "wait for space in "+r.prod.Name())
		}
		return nil
	}

	var err error
	if r.opts.Retry == nil {
		err = attempt()
	} else {
		err = retry.Do(context.Background(), r.opts.Retry.ToRetryConfig(), attempt)
		if err != nil && errors.IsTransient(err) {
			r.logger.Warn("Ring put gave up", "bytes", len(b), "retries", r.opts.Retry.MaxRetries)
		}
	}
	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		return nre.Err
	}
	return err
}

// Close detaches the producer.
func (r *Ring) Close() error { return r.prod.Detach() }
