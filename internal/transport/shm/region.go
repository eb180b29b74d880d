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
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// regionFilePrefix prefixes every region file name in the directory.
const regionFilePrefix = "ringbus_"

// region is one mapping of a ring's backing file. Each handle owns its own
// mapping so detaching never disturbs other handles in the process.
type region struct {
	name string
	path string
	file *os.File
	mem  []byte

	cb       *controlBlock
	slots    []consumerSlot
	data     []byte
	capacity uint64
	mask     uint64

	closeOnce sync.Once
	closeErr  error
}

func controlBlockOf(mem []byte) *controlBlock {
	return (*controlBlock)(unsafe.Pointer(&mem[0]))
}

// newRegion builds typed views over a validated mapping.
func newRegion(name, path string, file *os.File, mem []byte) *region {
	cb := controlBlockOf(mem)
	capacity := cb.Capacity()
	n := cb.MaxConsumers()
	dataOff := cb.DataOffset()
	return &region{
		name:     name,
		path:     path,
		file:     file,
		mem:      mem,
		cb:       cb,
		slots:    unsafe.Slice((*consumerSlot)(unsafe.Pointer(&mem[ControlBlockSize])), n),
		data:     mem[dataOff : dataOff+capacity],
		capacity: capacity,
		mask:     capacity - 1,
	}
}

// initRegion writes a fresh control block. The magic goes in last so a
// concurrent opener never validates a half-built header.
func initRegion(mem []byte, capacity uint64, maxConsumers int, dataOffset uint64, claim bool) {
	cb := controlBlockOf(mem)
	if claim {
		cb.producerPID = selfPID
		cb.producerGen = 1
	}
	cb.version = RegionVersion
	cb.maxConsumers = uint32(maxConsumers)
	cb.capacity = capacity
	cb.dataOffset = dataOffset
	cb.regionID = uuid.New()
	cb.createdUnixNano = time.Now().UnixNano()
	copy(cb.magic[:], RegionMagic)
}

// slot returns consumer slot i.
func (r *region) slot(i int) *consumerSlot {
	return &r.slots[i]
}

// copyIn writes src at the monotonic position pos, splitting at the wrap.
func (r *region) copyIn(pos uint64, src []byte) {
	off := pos & r.mask
	first := r.capacity - off
	if uint64(len(src)) <= first {
		copy(r.data[off:], src)
		return
	}
	copy(r.data[off:], src[:first])
	copy(r.data, src[first:])
}

// copyOut reads len(dst) bytes from the monotonic position pos.
func (r *region) copyOut(pos uint64, dst []byte) {
	off := pos & r.mask
	first := r.capacity - off
	if uint64(len(dst)) <= first {
		copy(dst, r.data[off:off+uint64(len(dst))])
		return
	}
	copy(dst, r.data[off:])
	copy(dst[first:], r.data[:uint64(len(dst))-first])
}

// close unmaps the region and closes the file. Safe to call more than once.
func (r *region) close() error {
	r.closeOnce.Do(func() {
		r.cb = nil
		r.slots = nil
		r.data = nil
		if err := munmap(r.mem); err != nil {
			r.closeErr = err
		}
		r.mem = nil
		if r.file != nil {
			if err := r.file.Close(); err != nil && r.closeErr == nil {
				r.closeErr = err
			}
		}
	})
	return r.closeErr
}

// regionID formats the region identity.
func (r *region) regionID() string {
	return uuid.UUID(r.cb.RegionID()).String()
}
