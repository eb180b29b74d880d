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

package datasink

import (
	"sync"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// Memory collects everything put into it.
type Memory struct {
	mu     sync.Mutex
	data   []byte
	puts   int
	closed bool
	w      *ringitem.Writer
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	m := &Memory{}
	m.w = ringitem.NewWriter(m)
	return m
}

func (m *Memory) PutItem(it *ringitem.Item) error { return m.w.WriteItem(it) }

func (m *Memory) Put(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrClosed
	}
	m.data = append(m.data, b...)
	m.puts++
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Bytes returns a copy of the collected stream.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Puts returns the number of successful puts.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Items decodes the collected stream.
func (m *Memory) Items() ([]*ringitem.Item, error) {
	data := m.Bytes()
	var items []*ringitem.Item
	for len(data) > 0 {
		h, err := ringitem.ParseHeader(data, ringitem.DefaultMaxItemSize)
		if err != nil {
			return items, err
		}
		if int(h.Size) > len(data) {
			return items, errors.WrapInvalid(ringitem.ErrMalformed, "Memory", "Items", "truncated record")
		}
		it, err := ringitem.ParseItem(data[:h.Size])
		if err != nil {
			return items, err
		}
		items = append(items, it)
		data = data[h.Size:]
	}
	return items, nil
}
