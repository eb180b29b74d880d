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
	"strings"
	"sync/atomic"
	"time"
)

// RingState is a snapshot of a ring for diagnostics and status output.
type RingState struct {
	Name               string          `json:"name" yaml:"name"`
	RegionID           string          `json:"region_id" yaml:"region_id"`
	Created            time.Time       `json:"created" yaml:"created"`
	Capacity           uint64          `json:"capacity" yaml:"capacity"`
	ProducerCursor     uint64          `json:"producer_cursor" yaml:"producer_cursor"`
	ReserveCursor      uint64          `json:"reserve_cursor" yaml:"reserve_cursor"`
	Epoch              uint64          `json:"epoch" yaml:"epoch"`
	ProducerPID        int             `json:"producer_pid" yaml:"producer_pid"`
	ProducerAlive      bool            `json:"producer_alive" yaml:"producer_alive"`
	ProducerGeneration uint64          `json:"producer_generation" yaml:"producer_generation"`
	MaxConsumers       int             `json:"max_consumers" yaml:"max_consumers"`
	Free               uint64          `json:"free" yaml:"free"`
	Removed            bool            `json:"removed,omitempty" yaml:"removed,omitempty"`
	DataSeq            uint32          `json:"-" yaml:"-"`
	SpaceSeq           uint32          `json:"-" yaml:"-"`
	Consumers          []ConsumerState `json:"consumers" yaml:"consumers"`
}

// ConsumerState describes one in-use consumer slot.
type ConsumerState struct {
	Slot       int       `json:"slot" yaml:"slot"`
	PID        int       `json:"pid" yaml:"pid"`
	Alive      bool      `json:"alive" yaml:"alive"`
	Cursor     uint64    `json:"cursor" yaml:"cursor"`
	Backlog    uint64    `json:"backlog" yaml:"backlog"`
	LastActive time.Time `json:"last_active" yaml:"last_active"`
}

// state reads a snapshot under the region lock.
func (r *region) state() RingState {
	cb := r.cb
	r.lock()
	defer r.unlock()

	prod := cb.ProducerCursor()
	pid := cb.ProducerPID()
	st := RingState{
		Name:               r.name,
		RegionID:           r.regionID(),
		Created:            time.Unix(0, cb.CreatedUnixNano()),
		Capacity:           r.capacity,
		ProducerCursor:     prod,
		ReserveCursor:      cb.ReserveCursor(),
		Epoch:              cb.Epoch(),
		ProducerPID:        int(pid),
		ProducerAlive:      pid != 0 && processAlive(int(pid)),
		ProducerGeneration: cb.ProducerGeneration(),
		MaxConsumers:       len(r.slots),
		Free:               r.freeLocked(),
		Removed:            cb.Removed(),
		DataSeq:            atomic.LoadUint32(&cb.dataSeq),
		SpaceSeq:           atomic.LoadUint32(&cb.spaceSeq),
	}
	for i := range r.slots {
		s := r.slot(i)
		if !s.InUse() {
			continue
		}
		cursor := s.Cursor()
		st.Consumers = append(st.Consumers, ConsumerState{
			Slot:       i,
			PID:        int(s.PID()),
			Alive:      processAlive(int(s.PID())),
			Cursor:     cursor,
			Backlog:    prod - cursor,
			LastActive: time.Unix(0, s.LastActive()),
		})
	}
	return st
}

// Bottleneck returns the consumer with the largest backlog, if any.
func (s RingState) Bottleneck() (ConsumerState, bool) {
	var worst ConsumerState
	found := false
	for _, c := range s.Consumers {
		if !found || c.Backlog > worst.Backlog {
			worst = c
			found = true
		}
	}
	return worst, found
}

// DiagnoseBackpressure reports whether the producer is, or is about to be,
// blocked by a consumer, and describes the ring.
func DiagnoseBackpressure(s RingState) (bool, string) {
	usedPercent := 0.0
	if s.Capacity > 0 {
		usedPercent = float64(s.Capacity-s.Free) / float64(s.Capacity) * 100
	}
	blocked := usedPercent >= 95.0

	var b strings.Builder
	if blocked {
		b.WriteString("BACKPRESSURE DETECTED:\n")
	} else {
		b.WriteString("Ring State:\n")
	}
	fmt.Fprintf(&b, "%s: Used=%d/%d (%.1f%%) Producer=%d Epoch=%d ProducerPID=%d Alive=%t DataSeq=%d SpaceSeq=%d\n",
		s.Name, s.Capacity-s.Free, s.Capacity, usedPercent,
		s.ProducerCursor, s.Epoch, s.ProducerPID, s.ProducerAlive, s.DataSeq, s.SpaceSeq)
	for _, c := range s.Consumers {
		fmt.Fprintf(&b, "  slot %d: pid=%d alive=%t cursor=%d backlog=%d idle=%s\n",
			c.Slot, c.PID, c.Alive, c.Cursor, c.Backlog, time.Since(c.LastActive).Truncate(time.Millisecond))
	}
	if blocked {
		if worst, ok := s.Bottleneck(); ok {
			fmt.Fprintf(&b, "Slot %d (pid %d) holds the producer back with %d unread bytes.", worst.Slot, worst.PID, worst.Backlog)
			if !worst.Alive {
				b.WriteString(" Its process has exited; the slot is reclaimed by the next liveness probe.")
			}
		}
	}
	return blocked, b.String()
}
