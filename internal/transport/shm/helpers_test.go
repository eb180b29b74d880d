//go:build unix

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
	"testing"
	"time"

	"github.com/daqlab/ringbus/internal/logging"
)

// newTestDirectory returns a Directory over a fresh temporary directory.
func newTestDirectory(t *testing.T, opts DirectoryOptions) *Directory {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return NewDirectory(opts)
}

// createTestRing creates a ring with a unique name and removes it on cleanup.
func createTestRing(t *testing.T, d *Directory, capacity uint64) string {
	t.Helper()
	name := fmt.Sprintf("test-%d", time.Now().UnixNano())
	if err := d.Create(name, capacity); err != nil {
		t.Fatalf("Failed to create test ring %s: %v", name, err)
	}
	t.Cleanup(func() {
		d.RemoveForce(name)
	})
	return name
}

func attachProducer(t *testing.T, d *Directory, name string) *Producer {
	t.Helper()
	p, err := d.AttachProducer(name)
	if err != nil {
		t.Fatalf("AttachProducer(%s): %v", name, err)
	}
	t.Cleanup(func() { p.Detach() })
	return p
}

func attachConsumer(t *testing.T, d *Directory, name string) *Consumer {
	t.Helper()
	c, err := d.AttachConsumer(name)
	if err != nil {
		t.Fatalf("AttachConsumer(%s): %v", name, err)
	}
	t.Cleanup(func() { c.Detach() })
	return c
}

// pattern returns n bytes of a deterministic sequence starting at offset.
func pattern(offset, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((offset + i) % 251)
	}
	return b
}

func mustPut(t *testing.T, p *Producer, data []byte) {
	t.Helper()
	ok, err := p.Put(data, time.Second)
	if err != nil {
		t.Fatalf("Put(%d bytes): %v", len(data), err)
	}
	if !ok {
		t.Fatalf("Put(%d bytes) timed out", len(data))
	}
}
