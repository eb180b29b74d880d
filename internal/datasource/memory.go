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

package datasource

import (
	"fmt"
	"io"
	"sync"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// Memory is a byte-accurate in-memory source. A sealed Memory reports end of
// stream when drained; an open one reports ErrWouldBlock until more bytes
// are appended.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	pos    uint64
	sealed bool
	closed bool
}

// NewMemory returns a sealed source over a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: append([]byte(nil), data...), sealed: true}
}

// NewMemoryStream returns an open source fed with Append.
func NewMemoryStream() *Memory {
	return &Memory{}
}

// Append adds bytes to the end of the stream.
func (m *Memory) Append(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, b...)
}

// Seal marks the end of the stream.
func (m *Memory) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

func (m *Memory) Read(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(len(buf), "Read"); err != nil {
		return 0, err
	}
	n := copy(buf, m.data)
	m.data = m.data[n:]
	m.pos += uint64(n)
	return n, nil
}

func (m *Memory) Peek(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(len(buf), "Peek"); err != nil {
		return 0, err
	}
	return copy(buf, m.data), nil
}

func (m *Memory) Ignore(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked(n, "Ignore"); err != nil {
		return err
	}
	m.data = m.data[n:]
	m.pos += uint64(n)
	return nil
}

func (m *Memory) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data), nil
}

func (m *Memory) Position() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) checkLocked(n int, method string) error {
	switch {
	case m.closed:
		return errors.ErrClosed
	case n < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: %d bytes", shm.ErrSkipRange, n), "Memory", method, "check request")
	case n <= len(m.data):
		return nil
	case !m.sealed:
		return errors.WrapTransient(ErrWouldBlock, "Memory", method, "wait for data")
	case len(m.data) == 0:
		return io.EOF
	default:
		return io.ErrUnexpectedEOF
	}
}
