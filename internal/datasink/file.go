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
	"bufio"
	"os"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// File writes records to an event file.
type File struct {
	f       *os.File
	bw      *bufio.Writer
	w       *ringitem.Writer
	written int64
}

// CreateFile creates or truncates path.
func CreateFile(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "File", "CreateFile", "create "+path)
	}
	return NewFile(f), nil
}

// NewFile writes to an open file and closes it on Close.
func NewFile(f *os.File) *File {
	s := &File{f: f, bw: bufio.NewWriterSize(f, 1<<20)}
	s.w = ringitem.NewWriter(s)
	return s
}

// Name returns the file path.
func (s *File) Name() string { return s.f.Name() }

// Written returns the bytes accepted so far.
func (s *File) Written() int64 { return s.written }

func (s *File) PutItem(it *ringitem.Item) error { return s.w.WriteItem(it) }

func (s *File) Put(b []byte) error {
	n, err := s.bw.Write(b)
	s.written += int64(n)
	if err != nil {
		return errors.WrapFatal(err, "File", "Put", "write "+s.f.Name())
	}
	return nil
}

// Flush pushes buffered bytes to the file.
func (s *File) Flush() error {
	if err := s.bw.Flush(); err != nil {
		return errors.WrapFatal(err, "File", "Flush", "write "+s.f.Name())
	}
	return nil
}

// Close flushes, syncs and closes the file.
func (s *File) Close() error {
	err := s.Flush()
	if serr := s.f.Sync(); err == nil && serr != nil {
		err = errors.WrapFatal(serr, "File", "Close", "sync "+s.f.Name())
	}
	if cerr := s.f.Close(); err == nil && cerr != nil {
		err = errors.WrapFatal(cerr, "File", "Close", "close "+s.f.Name())
	}
	return err
}
