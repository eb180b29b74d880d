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

package ringitem

// BufferPool recycles encode buffers. It holds at most a fixed number of
// buffers; extra buffers returned to a full pool are dropped.
type BufferPool struct {
	buffers chan []byte
	size    int
}

// NewBufferPool returns a pool of up to count buffers of at least size bytes.
func NewBufferPool(count, size int) *BufferPool {
	return &BufferPool{buffers: make(chan []byte, count), size: size}
}

// Get returns an empty buffer with capacity of at least n.
func (p *BufferPool) Get(n int) []byte {
	select {
	case b := <-p.buffers:
		if cap(b) >= n {
			return b[:0]
		}
		// Too small for this request; let it go and allocate.
	default:
	}
	return make([]byte, 0, max(n, p.size))
}

// Put returns b to the pool.
func (p *BufferPool) Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	select {
	case p.buffers <- b[:0]:
	default:
	}
}

var defaultPool = NewBufferPool(16, 64*1024)
