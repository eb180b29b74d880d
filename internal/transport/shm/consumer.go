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

package shm

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/metric"
)

// Consumer reads a ring at its own pace through a slot in the slot table.
// A Consumer is meant to be used from one goroutine; Detach may be called
// from any goroutine.
type Consumer struct {
	dir       *Directory
	r         *region
	idx       int
	serial    uint64
	slotLabel string
	metrics   *metric.Metrics

	mu      sync.RWMutex
	closing atomic.Bool
}

func newConsumer(d *Directory, r *region, idx int, serial uint64) *Consumer {
	if d.metrics != nil {
		d.metrics.Attachments.WithLabelValues(r.name, "consumer").Inc()
	}
	d.logger.Debug("Consumer attached", "ring", r.name, "slot", idx, "cursor", r.slot(idx).Cursor())
	return &Consumer{
		dir:       d,
		r:         r,
		idx:       idx,
		serial:    serial,
		slotLabel: strconv.Itoa(idx),
		metrics:   d.metrics,
	}
}

// Name returns the ring name.
func (c *Consumer) Name() string { return c.r.name }

// Slot returns the index of this consumer's slot.
func (c *Consumer) Slot() int { return c.idx }

// Capacity returns the ring's payload capacity in bytes.
func (c *Consumer) Capacity() uint64 { return c.r.capacity }

// Get waits up to timeout until at least minBytes are available, then
// copies as many available bytes as fit in buf and consumes them. It
// returns 0 with a nil error if the timeout elapsed first.
func (c *Consumer) Get(buf []byte, minBytes int, timeout time.Duration) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.check(); err != nil {
		return 0, c.wrap(err, "Get")
	}
	if minBytes < 0 {
		minBytes = 0
	}
	if uint64(minBytes) > c.r.capacity {
		return 0, c.wrap(fmt.Errorf("%w: %d > %d", ErrTooLarge, minBytes, c.r.capacity), "Get")
	}
	c.touch()

	ok, err := c.waitAvailable(uint64(minBytes), timeout)
	if err != nil {
		return 0, c.wrap(err, "Get")
	}
	if !ok {
		if c.metrics != nil {
			c.metrics.GetTimeouts.WithLabelValues(c.r.name).Inc()
		}
		return 0, nil
	}

	n, err := c.copyAvailable(buf)
	if err != nil {
		return 0, c.wrap(err, "Get")
	}
	if err := c.advance(uint64(n)); err != nil {
		return 0, c.wrap(err, "Get")
	}
	return n, nil
}

// Peek copies up to len(buf) available bytes without consuming them. It
// never blocks.
func (c *Consumer) Peek(buf []byte) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.check(); err != nil {
		return 0, c.wrap(err, "Peek")
	}
	c.touch()
	n, err := c.copyAvailable(buf)
	if err != nil {
		return 0, c.wrap(err, "Peek")
	}
	return n, nil
}

// WaitFor blocks until n bytes are available or timeout elapses.
func (c *Consumer) WaitFor(n int, timeout time.Duration) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.check(); err != nil {
		return false, c.wrap(err, "WaitFor")
	}
	if n < 0 {
		n = 0
	}
	if uint64(n) > c.r.capacity {
		return false, c.wrap(fmt.Errorf("%w: %d > %d", ErrTooLarge, n, c.r.capacity), "WaitFor")
	}
	c.touch()
	ok, err := c.waitAvailable(uint64(n), timeout)
	if err != nil {
		return false, c.wrap(err, "WaitFor")
	}
	return ok, nil
}

// Skip consumes exactly n bytes without copying them.
func (c *Consumer) Skip(n int) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.check(); err != nil {
		return c.wrap(err, "Skip")
	}
	avail, err := c.available()
	if err != nil {
		return c.wrap(err, "Skip")
	}
	if n < 0 || uint64(n) > avail {
		return c.wrap(fmt.Errorf("%w: skip %d with %d available", ErrSkipRange, n, avail), "Skip")
	}
	if err := c.advance(uint64(n)); err != nil {
		return c.wrap(err, "Skip")
	}
	return nil
}

// Available returns the unread byte count.
func (c *Consumer) Available() (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.check(); err != nil {
		return 0, c.wrap(err, "Available")
	}
	c.touch()
	avail, err := c.available()
	if err != nil {
		return 0, c.wrap(err, "Available")
	}
	return avail, nil
}

// Cursor returns the number of bytes consumed by this handle.
func (c *Consumer) Cursor() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closing.Load() {
		return 0
	}
	return c.r.slot(c.idx).Cursor()
}

// ProducerAlive reports whether a producer is attached and its process runs.
func (c *Consumer) ProducerAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closing.Load() {
		return false
	}
	pid := c.r.cb.ProducerPID()
	return pid != 0 && processAlive(int(pid))
}

// Detach frees the slot and unmaps the ring. A producer blocked on this
// consumer's backlog is woken.
func (c *Consumer) Detach() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.r.signalData()
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.r
	r.lock()
	if s := r.slot(c.idx); s.InUse() && s.Serial() == c.serial {
		s.release()
	}
	r.unlock()
	r.signalSpace()

	if c.metrics != nil {
		c.metrics.Attachments.WithLabelValues(r.name, "consumer").Dec()
		c.metrics.Backlog.DeleteLabelValues(r.name, c.slotLabel)
	}
	c.dir.logger.Debug("Consumer detached", "ring", r.name, "slot", c.idx)
	return r.close()
}

func (c *Consumer) waitAvailable(n uint64, timeout time.Duration) (bool, error) {
	cb := c.r.cb
	return c.r.await(waitSpec{
		seq:     &cb.dataSeq,
		waiters: &cb.dataWaiters,
		ready: func() bool {
			avail, err := c.available()
			// An overrun is reported by the copy that follows.
			return err != nil || avail >= n
		},
		stop: c.check,
	}, timeout)
}

// copyAvailable copies min(available, len(buf)) bytes at the cursor.
func (c *Consumer) copyAvailable(buf []byte) (int, error) {
	avail, err := c.available()
	if err != nil {
		return 0, err
	}
	n := min(avail, uint64(len(buf)))
	c.r.copyOut(c.r.slot(c.idx).Cursor(), buf[:n])
	return int(n), nil
}

func (c *Consumer) available() (uint64, error) {
	s := c.r.slot(c.idx)
	avail := c.r.cb.ProducerCursor() - s.Cursor()
	if avail > c.r.capacity {
		return 0, fmt.Errorf("%w: backlog %d exceeds capacity %d", ErrOverrun, avail, c.r.capacity)
	}
	return avail, nil
}

// advance moves this consumer's cursor and wakes a blocked producer. The
// ownership check and the store happen under the region lock, so a slot
// reclaimed and handed to another consumer is never written through this
// handle.
func (c *Consumer) advance(n uint64) error {
	s := c.r.slot(c.idx)
	c.r.lock()
	if !s.InUse() || s.Serial() != c.serial {
		c.r.unlock()
		return ErrDetached
	}
	cursor := s.Cursor() + n
	atomic.StoreUint64(&s.cursor, cursor)
	s.touch(time.Now().UnixNano())
	c.r.unlock()
	if n > 0 {
		c.r.signalSpace()
	}
	if c.metrics != nil {
		c.metrics.BytesGot.WithLabelValues(c.r.name).Add(float64(n))
		c.metrics.Backlog.WithLabelValues(c.r.name, c.slotLabel).Set(float64(c.r.cb.ProducerCursor() - cursor))
	}
	return nil
}

func (c *Consumer) touch() {
	c.r.slot(c.idx).touch(time.Now().UnixNano())
}

// check validates that the slot still belongs to this handle.
func (c *Consumer) check() error {
	if c.closing.Load() {
		return ErrDetached
	}
	if c.r.cb.Removed() {
		return ErrRingRemoved
	}
	s := c.r.slot(c.idx)
	if !s.InUse() || s.Serial() != c.serial || s.PID() != selfPID {
		return ErrDetached
	}
	return nil
}

func (c *Consumer) wrap(err error, method string) error {
	if isStructural(err) {
		return errors.WrapInvalid(err, "Consumer", method, "ring "+c.r.name)
	}
	return errors.WrapFatal(err, "Consumer", method, "ring "+c.r.name)
}
