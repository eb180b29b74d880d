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

import (
	stderrors "errors"
	"io"

	"github.com/daqlab/ringbus/internal/errors"
)

// Source is the byte stream a Reader decodes. Peek and Read fill buf
// completely or fail without consuming anything; a stream with nothing left
// returns io.EOF.
type Source interface {
	Peek(buf []byte) (int, error)
	Read(buf []byte) (int, error)
}

// Bounded is implemented by sources that can never hold more than
// Capacity bytes at once, such as rings. Zero means unbounded.
type Bounded interface {
	Capacity() uint64
}

// Reader iterates records from a Source.
type Reader struct {
	src      Source
	maxSize  uint32
	capLimit uint32
	prefix   [PrefixSize]byte
}

// NewReader returns a Reader accepting records up to DefaultMaxItemSize, or
// up to the source's capacity when it is Bounded and smaller.
func NewReader(src Source) *Reader {
	r := &Reader{src: src}
	if b, ok := src.(Bounded); ok {
		if c := b.Capacity(); c > 0 && c < DefaultMaxItemSize {
			r.capLimit = uint32(c)
		}
	}
	r.SetMaxSize(DefaultMaxItemSize)
	return r
}

// SetMaxSize bounds accepted records; larger ones are malformed. The
// capacity of a Bounded source always applies.
func (r *Reader) SetMaxSize(n uint32) {
	if r.capLimit > 0 && (n == 0 || n > r.capLimit) {
		n = r.capLimit
	}
	r.maxSize = n
}

// Next returns the next whole record. It peeks the prefix, validates it and
// reads exactly the record's size in one call, so a would-block or timeout
// error from the source leaves the stream at the record boundary.
func (r *Reader) Next() (*Item, error) {
	if _, err := r.src.Peek(r.prefix[:]); err != nil {
		return nil, err
	}
	h, err := ParseHeader(r.prefix[:], r.maxSize)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Reader", "Next", "validate record prefix")
	}
	buf := make([]byte, h.Size)
	if _, err := r.src.Read(buf); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return ParseItem(buf)
}

// Sink receives encoded records. Put must not retain b.
type Sink interface {
	Put(b []byte) error
}

// Writer encodes records onto a Sink.
type Writer struct {
	sink Sink
	pool *BufferPool
}

// NewWriter returns a Writer over sink using the shared buffer pool.
func NewWriter(sink Sink) *Writer {
	return &Writer{sink: sink, pool: defaultPool}
}

// WriteItem encodes it and hands it to the sink in a single Put.
func (w *Writer) WriteItem(it *Item) error {
	buf := it.AppendTo(w.pool.Get(it.Size()))
	err := w.sink.Put(buf)
	w.pool.Put(buf)
	return err
}
