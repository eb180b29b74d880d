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

import "errors"

// Structural errors. They are returned wrapped as invalid-class errors by the
// Directory and handles; test with errors.Is.
var (
	ErrDuplicateRing       = errors.New("ring already exists")
	ErrNoSuchRing          = errors.New("ring does not exist")
	ErrProducerAttached    = errors.New("a live producer is already attached")
	ErrNoFreeConsumerSlots = errors.New("no free consumer slots")
	ErrRingInUse           = errors.New("ring has live attachments")
	ErrInvalidName         = errors.New("invalid ring name")
	ErrInvalidCapacity     = errors.New("invalid ring capacity")
	ErrBadRegion           = errors.New("not a ring region")
	ErrTooLarge            = errors.New("request larger than ring capacity")
	ErrSkipRange           = errors.New("skip beyond available data")
)

// Lifecycle errors seen by attached handles.
var (
	// ErrRingRemoved is returned once the ring was force-removed.
	ErrRingRemoved = errors.New("ring removed")
	// ErrDetached is returned by a handle whose attachment is gone.
	ErrDetached = errors.New("handle detached")
	// ErrOverrun means a consumer's backlog exceeded the capacity, which the
	// backpressure protocol forbids; the consumer's view is corrupt.
	ErrOverrun = errors.New("consumer overrun")
)

// ErrUnsupported is returned on platforms without shared memory support.
var ErrUnsupported = errors.New("shared memory rings not supported on this platform")

// errFutexTimeout is returned by futexWaitTimeout when the wait times out.
var errFutexTimeout = errors.New("futex timeout")
