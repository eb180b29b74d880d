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
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// RegionMagic identifies a ring region.
	RegionMagic = "DAQRING\x00"

	// RegionVersion is the layout version written at creation.
	RegionVersion = uint32(1)

	// ControlBlockSize is the size of the control block at offset 0.
	ControlBlockSize = 256

	// ConsumerSlotSize is the size of one consumer slot.
	ConsumerSlotSize = 64

	// MinCapacity is the smallest payload capacity accepted.
	MinCapacity = 4096

	// DefaultCapacity is used when a zero capacity is requested.
	DefaultCapacity = 8 * 1024 * 1024

	// DefaultMaxConsumers is the slot table size when none is configured.
	DefaultMaxConsumers = 100

	// MaxConsumerSlots bounds the slot table.
	MaxConsumerSlots = 4096
)

// controlBlock is the shared header at the start of every region. Fields are
// only touched through atomics; offsets are fixed across processes.
type controlBlock struct {
	magic           [8]byte   // 0x00: "DAQRING\0"
	version         uint32    // 0x08: layout version
	maxConsumers    uint32    // 0x0C: consumer slot count
	capacity        uint64    // 0x10: payload capacity (power of two)
	dataOffset      uint64    // 0x18: offset of the payload area
	producerCursor  uint64    // 0x20: bytes published by the producer
	reserveCursor   uint64    // 0x28: bytes reserved by the producer
	epoch           uint64    // 0x30: producerCursor / capacity
	producerGen     uint64    // 0x38: bumped on every producer attach
	producerPID     uint32    // 0x40: attached producer pid, 0 if none
	lock            uint32    // 0x44: slot table lock, holder pid or 0
	dataSeq         uint32    // 0x48: futex word bumped on publish
	spaceSeq        uint32    // 0x4C: futex word bumped on consume
	dataWaiters     uint32    // 0x50: consumers sleeping on dataSeq
	spaceWaiters    uint32    // 0x54: producers sleeping on spaceSeq
	removed         uint32    // 0x58: set by a forced remove
	lockWaiters     uint32    // 0x5C: lockers sleeping on lock
	regionID        [16]byte  // 0x60: random region identity
	createdUnixNano int64     // 0x70: creation time
	attachSerial    uint64    // 0x78: last consumer attach serial
	reserved        [128]byte // 0x80-0xFF
}

// consumerSlot is one entry of the slot table that follows the control block.
type consumerSlot struct {
	cursor     uint64   // 0x00: bytes consumed
	pid        uint32   // 0x08: owning process
	inUse      uint32   // 0x0C: 1 while attached
	lastActive int64    // 0x10: unix nanos of the last operation
	serial     uint64   // 0x18: attach serial, detects reuse
	reserved   [32]byte // 0x20-0x3F
}

var (
	_ [ControlBlockSize - unsafe.Sizeof(controlBlock{})]byte
	_ [unsafe.Sizeof(controlBlock{}) - ControlBlockSize]byte
	_ [ConsumerSlotSize - unsafe.Sizeof(consumerSlot{})]byte
	_ [unsafe.Sizeof(consumerSlot{}) - ConsumerSlotSize]byte
)

func (cb *controlBlock) Magic() [8]byte { return cb.magic }

func (cb *controlBlock) Version() uint32 { return atomic.LoadUint32(&cb.version) }

func (cb *controlBlock) MaxConsumers() int { return int(atomic.LoadUint32(&cb.maxConsumers)) }

func (cb *controlBlock) Capacity() uint64 { return atomic.LoadUint64(&cb.capacity) }

func (cb *controlBlock) DataOffset() uint64 { return atomic.LoadUint64(&cb.dataOffset) }

// ProducerCursor returns the number of bytes published so far.
func (cb *controlBlock) ProducerCursor() uint64 { return atomic.LoadUint64(&cb.producerCursor) }

// ReserveCursor returns the end of the producer's current reservation.
func (cb *controlBlock) ReserveCursor() uint64 { return atomic.LoadUint64(&cb.reserveCursor) }

func (cb *controlBlock) Epoch() uint64 { return atomic.LoadUint64(&cb.epoch) }

func (cb *controlBlock) ProducerGeneration() uint64 { return atomic.LoadUint64(&cb.producerGen) }

func (cb *controlBlock) ProducerPID() uint32 { return atomic.LoadUint32(&cb.producerPID) }

// Removed reports whether the ring was force-removed.
func (cb *controlBlock) Removed() bool { return atomic.LoadUint32(&cb.removed) != 0 }

func (cb *controlBlock) RegionID() [16]byte { return cb.regionID }

func (cb *controlBlock) CreatedUnixNano() int64 { return atomic.LoadInt64(&cb.createdUnixNano) }

// publish makes bytes up to cursor visible to consumers.
func (cb *controlBlock) publish(cursor uint64) {
	atomic.StoreUint64(&cb.epoch, cursor/cb.Capacity())
	atomic.StoreUint64(&cb.producerCursor, cursor)
}

func (s *consumerSlot) Cursor() uint64 { return atomic.LoadUint64(&s.cursor) }

func (s *consumerSlot) PID() uint32 { return atomic.LoadUint32(&s.pid) }

func (s *consumerSlot) InUse() bool { return atomic.LoadUint32(&s.inUse) != 0 }

func (s *consumerSlot) LastActive() int64 { return atomic.LoadInt64(&s.lastActive) }

func (s *consumerSlot) Serial() uint64 { return atomic.LoadUint64(&s.serial) }

func (s *consumerSlot) touch(nowNano int64) { atomic.StoreInt64(&s.lastActive, nowNano) }

// release frees the slot. Caller holds the region lock.
func (s *consumerSlot) release() {
	atomic.StoreUint32(&s.inUse, 0)
	atomic.StoreUint32(&s.pid, 0)
	atomic.StoreUint64(&s.serial, 0)
}

// Layout calculation and validation helpers

// IsPowerOfTwo returns true if n is a power of two
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// ValidateCapacity checks that capacity can back a ring.
func ValidateCapacity(capacity uint64) error {
	if !IsPowerOfTwo(capacity) {
		return fmt.Errorf("%w: %d is not a power of two", ErrInvalidCapacity, capacity)
	}
	if capacity < MinCapacity {
		return fmt.Errorf("%w: %d is below minimum %d", ErrInvalidCapacity, capacity, MinCapacity)
	}
	return nil
}

// CalculateLayout returns the payload offset and total region size for a
// ring with the given capacity and slot count.
func CalculateLayout(capacity uint64, maxConsumers int) (dataOffset, totalSize uint64, err error) {
	if err := ValidateCapacity(capacity); err != nil {
		return 0, 0, err
	}
	if maxConsumers <= 0 || maxConsumers > MaxConsumerSlots {
		return 0, 0, fmt.Errorf("consumer slot count %d out of range [1, %d]", maxConsumers, MaxConsumerSlots)
	}
	dataOffset = alignTo64(ControlBlockSize + uint64(maxConsumers)*ConsumerSlotSize)
	totalSize = dataOffset + capacity
	return dataOffset, totalSize, nil
}

// validateControlBlock checks a mapped header against the mapping size.
func validateControlBlock(cb *controlBlock, size uint64) error {
	if string(cb.magic[:]) != RegionMagic {
		return fmt.Errorf("%w: bad magic %q", ErrBadRegion, cb.magic[:])
	}
	if v := cb.Version(); v != RegionVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadRegion, v)
	}
	dataOffset, total, err := CalculateLayout(cb.Capacity(), cb.MaxConsumers())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRegion, err)
	}
	if cb.DataOffset() != dataOffset {
		return fmt.Errorf("%w: data offset %d, expected %d", ErrBadRegion, cb.DataOffset(), dataOffset)
	}
	if size < total {
		return fmt.Errorf("%w: region is %d bytes, layout needs %d", ErrBadRegion, size, total)
	}
	return nil
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}
