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
	"sync"
	"sync/atomic"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/metric"
)

// Producer is the single writer of a ring. A Producer is meant to be used
// from one goroutine; Detach may be called from any goroutine.
type Producer struct {
	dir     *Directory
	r       *region
	gen     uint64
	metrics *metric.Metrics

	mu        sync.RWMutex
	closing   atomic.Bool
	lastProbe time.Time
}

func newProducer(d *Directory, r *region, gen uint64) *Producer {
	if d.metrics != nil {
		d.metrics.Attachments.WithLabelValues(r.name, "producer").Inc()
	}
	d.logger.Debug("Producer attached", "ring", r.name, "generation", gen)
	return &Producer{dir: d, r: r, gen: gen, metrics: d.metrics}
}

// Name returns the ring name.
func (p *Producer) Name() string { return p.r.name }

// Capacity returns the payload capacity in bytes.
func (p *Producer) Capacity() uint64 { return p.r.capacity }

// Put copies data into the ring, waiting up to timeout for enough free
// space. It returns false with a nil error if the timeout elapsed first; the
// ring is unchanged in that case. Empty data succeeds at once.
func (p *Producer) Put(data []byte, timeout time.Duration) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.check(); err != nil {
		return false, p.wrap(err, "Put")
	}
	n := uint64(len(data))
	if n == 0 {
		return true, nil
	}
	if n > p.r.capacity {
		return false, p.wrap(fmt.Errorf("%w: %d > %d", ErrTooLarge, n, p.r.capacity), "Put")
	}

	cb := p.r.cb
	var start uint64
	ok, err := p.r.await(waitSpec{
		seq:     &cb.spaceSeq,
		waiters: &cb.spaceWaiters,
		ready: func() bool {
			var fits bool
			start, fits = p.reserve(n)
			return fits
		},
		stop: p.check,
		idle: p.probe,
	}, timeout)
	if err != nil {
		return false, p.wrap(err, "Put")
	}
	if !ok {
		if p.metrics != nil {
			p.metrics.PutTimeouts.WithLabelValues(p.r.name).Inc()
		}
		return false, nil
	}

	p.r.copyIn(start, data)
	cb.publish(start + n)
	p.r.signalData()

	if p.metrics != nil {
		p.metrics.PutsTotal.WithLabelValues(p.r.name).Inc()
		p.metrics.BytesPut.WithLabelValues(p.r.name).Add(float64(n))
	}
	return true, nil
}

// reserve claims n bytes at the producer cursor if they are free.
func (p *Producer) reserve(n uint64) (uint64, bool) {
	r := p.r
	r.lock()
	defer r.unlock()
	if r.freeLocked() < n {
		return 0, false
	}
	start := r.cb.ProducerCursor()
	atomic.StoreUint64(&r.cb.reserveCursor, start+n)
	return start, true
}

// probe runs the liveness sweep at most once per LivenessInterval and
// reports whether it freed any slot.
func (p *Producer) probe() bool {
	now := time.Now()
	if now.Sub(p.lastProbe) < p.dir.opts.LivenessInterval {
		return false
	}
	p.lastProbe = now
	p.r.lock()
	n := p.dir.reclaimLocked(p.r, now)
	p.r.unlock()
	return n > 0
}

// Free returns the bytes that could be put without waiting.
func (p *Producer) Free() (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.check(); err != nil {
		return 0, p.wrap(err, "Free")
	}
	p.r.lock()
	defer p.r.unlock()
	return p.r.freeLocked(), nil
}

// Cursor returns the number of bytes published so far.
func (p *Producer) Cursor() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closing.Load() {
		return 0
	}
	return p.r.cb.ProducerCursor()
}

// State returns a snapshot of the ring.
func (p *Producer) State() (RingState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closing.Load() {
		return RingState{}, p.wrap(ErrDetached, "State")
	}
	return p.r.state(), nil
}

// Detach releases the producer claim and unmaps the ring. Consumers are
// woken so they can notice the producer is gone.
func (p *Producer) Detach() error {
	if !p.closing.CompareAndSwap(false, true) {
		return nil
	}
	p.r.signalSpace()
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.r
	r.lock()
	if r.cb.ProducerPID() == selfPID && r.cb.ProducerGeneration() == p.gen {
		atomic.StoreUint32(&r.cb.producerPID, 0)
	}
	r.unlock()
	r.signalData()

	if p.metrics != nil {
		p.metrics.Attachments.WithLabelValues(r.name, "producer").Dec()
	}
	p.dir.logger.Debug("Producer detached", "ring", r.name, "cursor", r.cb.ProducerCursor())
	return r.close()
}

// check validates that the producer still owns the ring.
func (p *Producer) check() error {
	if p.closing.Load() {
		return ErrDetached
	}
	cb := p.r.cb
	if cb.Removed() {
		return ErrRingRemoved
	}
	if cb.ProducerPID() != selfPID || cb.ProducerGeneration() != p.gen {
		return ErrDetached
	}
	return nil
}

func (p *Producer) wrap(err error, method string) error {
	if isStructural(err) {
		return errors.WrapInvalid(err, "Producer", method, "ring "+p.r.name)
	}
	return errors.WrapFatal(err, "Producer", method, "ring "+p.r.name)
}

// freeLocked returns capacity minus the backlog of the slowest consumer.
// Caller holds the lock.
func (r *region) freeLocked() uint64 {
	low, ok := r.minConsumerCursor()
	if !ok {
		return r.capacity
	}
	used := r.cb.ProducerCursor() - low
	if used >= r.capacity {
		return 0
	}
	return r.capacity - used
}
