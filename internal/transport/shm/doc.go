/*
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
 */

// Package shm implements named shared-memory rings with one producer and
// many independently paced consumers.
//
// A ring lives in a memory-mapped file holding a control block, a fixed
// consumer slot table and the payload area. The producer and every consumer
// keep monotonic byte cursors; a consumer's unread backlog is the difference
// between the producer cursor and its own. The producer never writes more
// than capacity bytes ahead of the slowest live consumer, so a slow consumer
// applies backpressure and a dead one is reclaimed by a liveness probe.
//
// Slot table changes and free-space computations happen under a short
// cross-process lock in the control block; payload copies do not hold it.
// Blocking puts and gets sleep on shared futex words and honour a timeout;
// running out of time is reported as a result, not as an error.
//
// The ring carries an untyped byte stream. Record framing lives in the
// ringitem package.
package shm
