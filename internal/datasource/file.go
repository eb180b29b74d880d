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
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// fileBufferSize is the initial read buffer of a File source.
const fileBufferSize = 1 << 20

// File reads a recorded event file.
type File struct {
	f   *os.File
	br  *bufio.Reader
	pos uint64
}

// OpenFile opens path for reading.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "File", "OpenFile", "open "+path)
	}
	return &File{f: f, br: bufio.NewReaderSize(f, fileBufferSize)}, nil
}

// Name returns the file path.
func (f *File) Name() string { return f.f.Name() }

func (f *File) Read(buf []byte) (int, error) {
	b, err := f.peek(len(buf), "Read")
	if err != nil {
		return 0, err
	}
	n := copy(buf, b)
	f.br.Discard(n)
	f.pos += uint64(n)
	return n, nil
}

func (f *File) Peek(buf []byte) (int, error) {
	b, err := f.peek(len(buf), "Peek")
	if err != nil {
		return 0, err
	}
	return copy(buf, b), nil
}

// Ignore discards n bytes only once all of them are buffered, so a short
// file leaves the position unchanged.
func (f *File) Ignore(n int) error {
	if n < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %d bytes", shm.ErrSkipRange, n), "File", "Ignore", "check request")
	}
	if _, err := f.peek(n, "Ignore"); err != nil {
		return err
	}
	m, _ := f.br.Discard(n)
	f.pos += uint64(m)
	return nil
}

// peek returns the next n bytes without consuming them, growing the read
// buffer when n is larger than it.
func (f *File) peek(n int, method string) ([]byte, error) {
	if n > f.br.Size() {
		f.br = bufio.NewReaderSize(f.br, n)
	}
	b, err := f.br.Peek(n)
	if err != nil {
		if err == io.EOF && len(b) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.WrapFatal(err, "File", method, "read "+f.f.Name())
	}
	return b, nil
}

// Available returns the buffered byte count.
func (f *File) Available() (int, error) { return f.br.Buffered(), nil }

func (f *File) Position() uint64 { return f.pos }

func (f *File) Close() error { return f.f.Close() }
