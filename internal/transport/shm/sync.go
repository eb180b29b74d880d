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
	"runtime"
	"sync/atomic"
	"time"
)

const (
	// lockSpins is how many times a locker yields before sleeping.
	lockSpins = 64
	// lockSleep bounds each sleep on the lock word so a dead holder is
	// noticed promptly.
	lockSleep = 2 * time.Millisecond
	// maxWaitSlice bounds each futex sleep in a blocking operation.
	maxWaitSlice = 100 * time.Millisecond
)

var selfPID = uint32(os.Getpid())

// lock acquires the region's slot table lock. The lock word holds the
// holder's pid; a holder whose process has exited is robbed. Critical
// sections are short and never block, so spinning first is cheap.
func (r *region) lock() {
	cb := r.cb
	for i := 0; ; i++ {
		if atomic.CompareAndSwapUint32(&cb.lock, 0, selfPID) {
			return
		}
		holder := atomic.LoadUint32(&cb.lock)
		if holder == 0 {
			continue
		}
		if i < lockSpins {
			runtime.Gosched()
			continue
		}
		if holder != selfPID && !processAlive(int(holder)) {
			if atomic.CompareAndSwapUint32(&cb.lock, holder, selfPID) {
				return
			}
			continue
		}
		atomic.AddUint32(&cb.lockWaiters, 1)
		futexWaitTimeout(&cb.lock, holder, lockSleep)
		atomic.AddUint32(&cb.lockWaiters, ^uint32(0))
	}
}

// unlock releases the slot table lock.
func (r *region) unlock() {
	cb := r.cb
	atomic.StoreUint32(&cb.lock, 0)
	if atomic.LoadUint32(&cb.lockWaiters) > 0 {
		futexWake(&cb.lock, 1)
	}
}

// signalData bumps the data word and wakes sleeping consumers.
func (r *region) signalData() {
	cb := r.cb
	atomic.AddUint32(&cb.dataSeq, 1)
	if atomic.LoadUint32(&cb.dataWaiters) > 0 {
		futexWake(&cb.dataSeq, 0)
	}
}

// signalSpace bumps the space word and wakes a sleeping producer.
func (r *region) signalSpace() {
	cb := r.cb
	atomic.AddUint32(&cb.spaceSeq, 1)
	if atomic.LoadUint32(&cb.spaceWaiters) > 0 {
		futexWake(&cb.spaceSeq, 0)
	}
}

// waitSpec describes one blocking wait on a futex word.
type waitSpec struct {
	seq     *uint32
	waiters *uint32
	// ready reports whether the caller may proceed.
	ready func() bool
	// stop returns a non-nil error to abandon the wait.
	stop func() error
	// idle runs whenever the condition is unmet; returning true retries
	// the condition at once.
	idle func() bool
	// slice bounds each sleep; zero means maxWaitSlice.
	slice time.Duration
}

// await blocks until ready holds, returning true, or until timeout elapses,
// returning false. A negative timeout waits forever and zero only polls.
//
// The waiter count is raised before the final check of the condition, so a
// signaller that changes the condition after that check sees the waiter and
// issues a wake, and the changed sequence word makes the futex return.
func (r *region) await(w waitSpec, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	slice := w.slice
	if slice <= 0 {
		slice = maxWaitSlice
	}
	for {
		if err := w.stop(); err != nil {
			return false, err
		}
		snap := atomic.LoadUint32(w.seq)
		if w.ready() {
			return true, nil
		}
		if w.idle != nil && w.idle() {
			continue
		}
		if timeout == 0 {
			return false, nil
		}
		sleep := slice
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			sleep = min(sleep, remaining)
		}

		atomic.AddUint32(w.waiters, 1)
		if w.ready() {
			atomic.AddUint32(w.waiters, ^uint32(0))
			return true, nil
		}
		err := futexWaitTimeout(w.seq, snap, sleep)
		atomic.AddUint32(w.waiters, ^uint32(0))
		if err != nil && err != errFutexTimeout {
			return false, err
		}
	}
}
