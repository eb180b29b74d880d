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

// Package ringitem frames typed data acquisition records on a ring byte
// stream.
//
// Every record starts with its total size and type code, then a sub-header
// size word that counts itself: 4 means no sub-header, 20 means the event
// builder coordination fields follow. All integers are little-endian.
package ringitem

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/daqlab/ringbus/internal/errors"
)

// Framing constants.
const (
	// HeaderSize covers the total size and type words.
	HeaderSize = 8
	// SubHeaderWordSize is the size of the sub-header size word.
	SubHeaderWordSize = 4
	// CoordinationSize is the sub-header size word plus its fields.
	CoordinationSize = 20
	// MinItemSize is the smallest valid record.
	MinItemSize = HeaderSize + SubHeaderWordSize
	// PrefixSize is what a reader peeks before the whole record.
	PrefixSize = MinItemSize
	// DefaultMaxItemSize bounds records accepted by a Reader.
	DefaultMaxItemSize = 64 * 1024 * 1024
)

// ErrMalformed reports inconsistent record framing.
var ErrMalformed = stderrors.New("malformed record")

// Coordination carries the event builder fields of a record.
type Coordination struct {
	Timestamp uint64
	SourceID  uint32
	Barrier   uint32
}

// Item is one framed record. Payload is the body after the sub-header.
type Item struct {
	Type         Type
	Coordination *Coordination
	Payload      []byte
}

// Header is the fixed prefix of a record.
type Header struct {
	Size          uint32
	Type          Type
	SubHeaderSize uint32
}

// HasCoordination reports whether a coordination sub-header follows.
func (h Header) HasCoordination() bool { return h.SubHeaderSize == CoordinationSize }

// BodyOffset returns the offset of the payload within the record.
func (h Header) BodyOffset() int {
	if h.HasCoordination() {
		return HeaderSize + CoordinationSize
	}
	return HeaderSize + SubHeaderWordSize
}

// ParseHeader validates the first PrefixSize bytes of a record. A maxSize of
// zero means no limit.
func ParseHeader(b []byte, maxSize uint32) (Header, error) {
	if len(b) < PrefixSize {
		return Header{}, fmt.Errorf("%w: %d byte prefix", ErrMalformed, len(b))
	}
	h := Header{
		Size:          binary.LittleEndian.Uint32(b[0:4]),
		Type:          Type(binary.LittleEndian.Uint32(b[4:8])),
		SubHeaderSize: binary.LittleEndian.Uint32(b[8:12]),
	}
	switch h.SubHeaderSize {
	case 0, SubHeaderWordSize, CoordinationSize:
	default:
		return h, fmt.Errorf("%w: sub-header size %d", ErrMalformed, h.SubHeaderSize)
	}
	if h.Size < uint32(h.BodyOffset()) {
		return h, fmt.Errorf("%w: size %d too small for %s", ErrMalformed, h.Size, h.Type)
	}
	if maxSize > 0 && h.Size > maxSize {
		return h, fmt.Errorf("%w: size %d exceeds limit %d", ErrMalformed, h.Size, maxSize)
	}
	return h, nil
}

// Size returns the encoded size of the record.
func (it *Item) Size() int {
	n := HeaderSize + SubHeaderWordSize + len(it.Payload)
	if it.Coordination != nil {
		n += CoordinationSize - SubHeaderWordSize
	}
	return n
}

// AppendTo appends the encoded record to b.
func (it *Item) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(it.Size()))
	b = binary.LittleEndian.AppendUint32(b, uint32(it.Type))
	if c := it.Coordination; c != nil {
		b = binary.LittleEndian.AppendUint32(b, CoordinationSize)
		b = binary.LittleEndian.AppendUint64(b, c.Timestamp)
		b = binary.LittleEndian.AppendUint32(b, c.SourceID)
		b = binary.LittleEndian.AppendUint32(b, c.Barrier)
	} else {
		b = binary.LittleEndian.AppendUint32(b, SubHeaderWordSize)
	}
	return append(b, it.Payload...)
}

// Encode returns the record as a new byte slice.
func (it *Item) Encode() []byte {
	return it.AppendTo(make([]byte, 0, it.Size()))
}

// ParseItem decodes exactly one record occupying all of b. The payload
// aliases b.
func ParseItem(b []byte) (*Item, error) {
	h, err := ParseHeader(b, 0)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ringitem", "ParseItem", "parse header")
	}
	if int(h.Size) != len(b) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: header says %d bytes, have %d", ErrMalformed, h.Size, len(b)),
			"ringitem", "ParseItem", "check size")
	}
	it := &Item{Type: h.Type, Payload: b[h.BodyOffset():]}
	if h.HasCoordination() {
		it.Coordination = &Coordination{
			Timestamp: binary.LittleEndian.Uint64(b[12:20]),
			SourceID:  binary.LittleEndian.Uint32(b[20:24]),
			Barrier:   binary.LittleEndian.Uint32(b[24:28]),
		}
	}
	return it, nil
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	out := &Item{Type: it.Type, Payload: append([]byte(nil), it.Payload...)}
	if it.Coordination != nil {
		c := *it.Coordination
		out.Coordination = &c
	}
	return out
}

// WithCoordination sets the coordination sub-header and returns it.
func (it *Item) WithCoordination(c Coordination) *Item {
	it.Coordination = &c
	return it
}
