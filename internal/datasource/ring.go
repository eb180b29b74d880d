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

package datasource

import (
	"io"
	"log/slog"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// DefaultWaitSlice bounds each ring wait so producer exit is noticed.
const DefaultWaitSlice = 100 * time.Millisecond

// RingOptions configures a Ring source.
type RingOptions struct {
	// Timeout bounds each request; negative waits forever, zero polls.
	Timeout time.Duration
	// EOFOnProducerExit reports io.EOF once the ring is drained and has no
	// producer, provided this source saw a producer or its data before.
	EOFOnProducerExit bool
	// WaitSlice is the longest single wait; zero means DefaultWaitSlice.
	WaitSlice time.Duration
	Logger    *slog.Logger
}

// Ring reads from a local ring through a consumer handle.
type Ring struct {
	cons        *shm.Consumer
	opts        RingOptions
	logger      *slog.Logger
	pos         uint64
	sawProducer bool
}

// NewRing wraps cons. The Ring owns the handle and detaches it on Close.
func NewRing(cons *shm.Consumer, opts RingOptions) *Ring {
	if opts.WaitSlice <= 0 {
		opts.WaitSlice = DefaultWaitSlice
	}
	return &Ring{
		cons:        cons,
		opts:        opts,
		logger:      logging.OrDefault(opts.Logger).With("ring", cons.Name(), "slot", cons.Slot()),
		sawProducer: cons.ProducerAlive(),
	}
}

// Consumer returns the underlying handle.
func (r *Ring) Consumer() *shm.Consumer { return r.cons }

// Capacity returns the ring capacity, which bounds any record read from it.
func (r *Ring) Capacity() uint64 { return r.cons.Capacity() }

func (r *Ring) Read(buf []byte) (int, error) {
	if err := r.wait(len(buf), "Read"); err != nil {
		return 0, err
	}
	n, err := r.cons.Get(buf, len(buf), 0)
	if err != nil {
		return 0, err
	}
	r.pos += uint64(n)
	return n, nil
}

func (r *Ring) Peek(buf []byte) (int, error) {
	if err := r.wait(len(buf), "Peek"); err != nil {
		return 0, err
	}
	return r.cons.Peek(buf)
}

func (r *Ring) Ignore(n int) error {
	if err := r.wait(n, "Ignore"); err != nil {
		return err
	}
	if err := r.cons.Skip(n); err != nil {
		return err
	}
	r.pos += uint64(n)
	return nil
}

func (r *Ring) Available() (int, error) {
	n, err := r.cons.Available()
	return int(n), err
}

func (r *Ring) Position() uint64 { return r.pos }

// Close detaches the consumer.
func (r *Ring) Close() error {
	return r.cons.Detach()
}

// wait blocks until n bytes are available, the stream ended or the timeout
// elapsed. Waits are sliced so a vanished producer is noticed.
func (r *Ring) wait(n int, method string) error {
	if n == 0 {
		return nil
	}
	var deadline time.Time
	if r.opts.Timeout >= 0 {
		deadline = time.Now().Add(r.opts.Timeout)
	}
	for {
		step := r.opts.WaitSlice
		if r.opts.Timeout >= 0 {
			step = min(step, max(time.Until(deadline), 0))
		}
		ok, err := r.cons.WaitFor(n, step)
		if err != nil {
			return err
		}
		if ok {
			r.sawProducer = true
			return nil
		}
		if r.opts.EOFOnProducerExit {
			if err := r.checkEOF(n); err != nil {
				return err
			}
		}
		if r.opts.Timeout >= 0 && !time.Now().Before(deadline) {
			return errors.WrapTransient(ErrWouldBlock, "Ring", method, "wait for "+r.cons.Name())
		}
	}
}

// checkEOF reports end of stream once the producer is gone, this source saw
// it or its data, and fewer than n bytes remain.
func (r *Ring) checkEOF(n int) error {
	if r.cons.ProducerAlive() {
		r.sawProducer = true
		return nil
	}
	if !r.sawProducer {
		return nil
	}
	avail, err := r.cons.Available()
	if err != nil {
		return err
	}
	if avail >= uint64(n) {
		return nil
	}
	r.logger.Debug("Producer gone, ending stream", "available", avail, "position", r.pos)
	if avail == 0 {
		return io.EOF
	}
	return io.ErrUnexpectedEOF
}
