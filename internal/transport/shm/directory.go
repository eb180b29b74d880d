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
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/metric"
)

// Forever makes a blocking operation wait without a deadline.
const Forever time.Duration = -1

// DefaultLivenessInterval is how often a blocked producer probes consumers.
const DefaultLivenessInterval = time.Second

// DirectoryOptions configures a Directory.
type DirectoryOptions struct {
	// Dir holds the region files; empty selects DefaultDir().
	Dir string
	// MaxConsumers is the slot table size of rings created here.
	MaxConsumers int
	// LivenessInterval is how often a blocked producer probes consumers.
	LivenessInterval time.Duration
	// StaleTimeout reclaims slots of live processes that have unread data
	// and have not touched the ring for this long. Zero disables it.
	StaleTimeout time.Duration
	// ForceRemove makes Remove detach live handles instead of failing.
	ForceRemove bool
	Metrics     *metric.MetricsRegistry
	Logger      *slog.Logger
}

// Directory creates, finds and removes rings by name. It is safe for
// concurrent use; every attach maps the region afresh.
type Directory struct {
	dir     string
	opts    DirectoryOptions
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewDirectory returns a directory rooted at opts.Dir.
func NewDirectory(opts DirectoryOptions) *Directory {
	if opts.Dir == "" {
		opts.Dir = DefaultDir()
	}
	if opts.MaxConsumers <= 0 {
		opts.MaxConsumers = DefaultMaxConsumers
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = DefaultLivenessInterval
	}
	return &Directory{
		dir:     opts.Dir,
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger).With("component", "ring-directory"),
		metrics: opts.Metrics.Core(),
	}
}

// DefaultDir returns /dev/shm when present, else the temp directory.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Dir returns the directory holding region files.
func (d *Directory) Dir() string { return d.dir }

// Path returns the region file path for name.
func (d *Directory) Path(name string) string {
	return filepath.Join(d.dir, regionFilePrefix+name)
}

// ValidateName checks that name can be used as a ring name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Create creates a ring with the given capacity; zero selects
// DefaultCapacity. It fails with ErrDuplicateRing if the name is taken.
func (d *Directory) Create(name string, capacity uint64) error {
	r, err := d.create(name, capacity, false)
	if err != nil {
		return d.wrap(err, "Create", "create ring")
	}
	return r.close()
}

// CreateAndAttachProducer creates a ring and attaches this process as its
// producer in one step, so no other process can claim it in between.
func (d *Directory) CreateAndAttachProducer(name string, capacity uint64) (*Producer, error) {
	r, err := d.create(name, capacity, true)
	if err != nil {
		return nil, d.wrap(err, "CreateAndAttachProducer", "create ring")
	}
	return newProducer(d, r, r.cb.ProducerGeneration()), nil
}

func (d *Directory) create(name string, capacity uint64, claim bool) (*region, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if err := ValidateCapacity(capacity); err != nil {
		return nil, err
	}
	r, err := createRegion(name, d.Path(name), capacity, d.opts.MaxConsumers, claim)
	if err != nil {
		return nil, err
	}
	d.logger.Info("Ring created",
		"ring", name,
		"capacity", capacity,
		"max_consumers", d.opts.MaxConsumers,
		"region_id", r.regionID())
	return r, nil
}

// Exists reports whether name has a region file with a valid control block.
func (d *Directory) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	r, err := openRegion(name, d.Path(name))
	if err != nil {
		return false
	}
	defer r.close()
	return !r.cb.Removed()
}

// Remove deletes a ring. With live attachments it fails with ErrRingInUse
// unless the directory was configured with ForceRemove.
func (d *Directory) Remove(name string) error {
	return d.remove(name, d.opts.ForceRemove, "Remove")
}

// RemoveForce deletes a ring even if handles are attached. Attached handles
// see ErrRingRemoved from their next operation and blocked waiters wake.
func (d *Directory) RemoveForce(name string) error {
	return d.remove(name, true, "RemoveForce")
}

func (d *Directory) remove(name string, force bool, method string) error {
	if err := ValidateName(name); err != nil {
		return d.wrap(err, method, "remove ring")
	}
	r, err := openRegion(name, d.Path(name))
	if err != nil {
		return d.wrap(err, method, "remove ring")
	}
	defer r.close()

	r.lock()
	live := r.liveAttachments()
	if live > 0 && !force {
		r.unlock()
		return d.wrap(fmt.Errorf("%w: %s has %d live attachments", ErrRingInUse, name, live), method, "remove ring")
	}
	atomic.StoreUint32(&r.cb.removed, 1)
	r.unlock()

	r.signalData()
	r.signalSpace()

	if err := os.Remove(r.path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.WrapFatal(err, "Directory", method, "unlink region")
	}
	d.logger.Info("Ring removed", "ring", name, "forced", live > 0)
	return nil
}

// AttachProducer attaches this process as the ring's producer. A claim left
// by a dead process is taken over.
func (d *Directory) AttachProducer(name string) (*Producer, error) {
	r, err := d.open(name)
	if err != nil {
		return nil, d.wrap(err, "AttachProducer", "attach producer")
	}

	cb := r.cb
	r.lock()
	if cb.Removed() {
		r.unlock()
		r.close()
		return nil, d.wrap(fmt.Errorf("%w: %s", ErrNoSuchRing, name), "AttachProducer", "attach producer")
	}
	if pid := cb.ProducerPID(); pid != 0 {
		if processAlive(int(pid)) {
			r.unlock()
			r.close()
			return nil, d.wrap(fmt.Errorf("%w: pid %d", ErrProducerAttached, pid), "AttachProducer", "attach producer")
		}
		d.logger.Warn("Taking over producer claim of dead process", "ring", name, "pid", pid)
	}
	// Bytes reserved by a producer that died mid-copy were never published.
	atomic.StoreUint64(&cb.reserveCursor, cb.ProducerCursor())
	gen := atomic.AddUint64(&cb.producerGen, 1)
	atomic.StoreUint32(&cb.producerPID, selfPID)
	r.unlock()

	return newProducer(d, r, gen), nil
}

// AttachConsumer attaches a consumer that sees only data published from now on.
func (d *Directory) AttachConsumer(name string) (*Consumer, error) {
	return d.attachConsumer(name, false, "AttachConsumer")
}

// AttachConsumerFromStart attaches a consumer positioned at the oldest byte
// still intact in the ring.
func (d *Directory) AttachConsumerFromStart(name string) (*Consumer, error) {
	return d.attachConsumer(name, true, "AttachConsumerFromStart")
}

func (d *Directory) attachConsumer(name string, fromStart bool, method string) (*Consumer, error) {
	r, err := d.open(name)
	if err != nil {
		return nil, d.wrap(err, method, "attach consumer")
	}

	cb := r.cb
	r.lock()
	if cb.Removed() {
		r.unlock()
		r.close()
		return nil, d.wrap(fmt.Errorf("%w: %s", ErrNoSuchRing, name), method, "attach consumer")
	}
	idx := r.freeSlot()
	if idx < 0 {
		if d.reclaimLocked(r, time.Now()) > 0 {
			idx = r.freeSlot()
		}
	}
	if idx < 0 {
		r.unlock()
		r.close()
		return nil, d.wrap(fmt.Errorf("%w: %s has %d slots", ErrNoFreeConsumerSlots, name, len(r.slots)), method, "attach consumer")
	}

	cursor := cb.ProducerCursor()
	if fromStart {
		cursor = 0
		if res := cb.ReserveCursor(); res > r.capacity {
			cursor = res - r.capacity
		}
	}
	serial := atomic.AddUint64(&cb.attachSerial, 1)
	s := r.slot(idx)
	atomic.StoreUint64(&s.cursor, cursor)
	atomic.StoreUint32(&s.pid, selfPID)
	atomic.StoreUint64(&s.serial, serial)
	s.touch(time.Now().UnixNano())
	atomic.StoreUint32(&s.inUse, 1)
	r.unlock()

	return newConsumer(d, r, idx, serial), nil
}

// List returns the names of all rings in the directory, sorted.
func (d *Directory) List() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, errors.WrapFatal(err, "Directory", "List", "read ring directory")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), regionFilePrefix) {
			continue
		}
		names = append(names, strings.TrimPrefix(e.Name(), regionFilePrefix))
	}
	sort.Strings(names)
	return names, nil
}

// Stat returns a snapshot of the ring's control block and slot table.
func (d *Directory) Stat(name string) (RingState, error) {
	r, err := d.open(name)
	if err != nil {
		return RingState{}, d.wrap(err, "Stat", "stat ring")
	}
	defer r.close()
	return r.state(), nil
}

// ReclaimDead frees the slots of consumers whose processes have exited, and
// of stale consumers when StaleTimeout is set. It returns the number freed.
func (d *Directory) ReclaimDead(name string) (int, error) {
	r, err := d.open(name)
	if err != nil {
		return 0, d.wrap(err, "ReclaimDead", "reclaim slots")
	}
	defer r.close()
	r.lock()
	n := d.reclaimLocked(r, time.Now())
	r.unlock()
	if n > 0 {
		r.signalSpace()
	}
	return n, nil
}

func (d *Directory) open(name string) (*region, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return openRegion(name, d.Path(name))
}

// reclaimLocked frees dead and stale slots. Caller holds the region lock.
func (d *Directory) reclaimLocked(r *region, now time.Time) int {
	prod := r.cb.ProducerCursor()
	freed := 0
	for i := range r.slots {
		s := r.slot(i)
		if !s.InUse() {
			continue
		}
		pid := s.PID()
		reason := ""
		switch {
		case !processAlive(int(pid)):
			reason = "process exited"
		case d.opts.StaleTimeout > 0 &&
			prod != s.Cursor() &&
			now.Sub(time.Unix(0, s.LastActive())) > d.opts.StaleTimeout:
			reason = "stale"
		default:
			continue
		}
		backlog := prod - s.Cursor()
		s.release()
		freed++
		d.logger.Warn("Reclaimed consumer slot",
			"ring", r.name,
			"slot", i,
			"pid", pid,
			"reason", reason,
			"backlog", backlog)
	}
	if freed > 0 && d.metrics != nil {
		d.metrics.SlotsReclaimed.WithLabelValues(r.name).Add(float64(freed))
	}
	return freed
}

// wrap classifies err: structural conditions are invalid, the rest fatal.
func (d *Directory) wrap(err error, method, action string) error {
	if isStructural(err) {
		return errors.WrapInvalid(err, "Directory", method, action)
	}
	return errors.WrapFatal(err, "Directory", method, action)
}

func isStructural(err error) bool {
	for _, target := range []error{
		ErrDuplicateRing, ErrNoSuchRing, ErrProducerAttached, ErrNoFreeConsumerSlots,
		ErrRingInUse, ErrRingRemoved, ErrInvalidName, ErrInvalidCapacity, ErrBadRegion,
		ErrTooLarge, ErrSkipRange, ErrDetached,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

// freeSlot returns the first unused slot index, or -1. Caller holds the lock.
func (r *region) freeSlot() int {
	for i := range r.slots {
		if !r.slot(i).InUse() {
			return i
		}
	}
	return -1
}

// liveAttachments counts the live producer and consumers. Caller holds the lock.
func (r *region) liveAttachments() int {
	n := 0
	if pid := r.cb.ProducerPID(); pid != 0 && processAlive(int(pid)) {
		n++
	}
	for i := range r.slots {
		s := r.slot(i)
		if s.InUse() && processAlive(int(s.PID())) {
			n++
		}
	}
	return n
}

// minConsumerCursor returns the lowest cursor of any attached consumer.
// Caller holds the lock.
func (r *region) minConsumerCursor() (uint64, bool) {
	var lowest uint64
	found := false
	for i := range r.slots {
		s := r.slot(i)
		if !s.InUse() {
			continue
		}
		c := s.Cursor()
		if !found || c < lowest {
			lowest = c
			found = true
		}
	}
	return lowest, found
}
