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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// createRegion creates and maps a new region file with O_EXCL, so exactly
// one of several racing creators succeeds. With claim set the region is born
// with this process as its producer.
func createRegion(name, path string, capacity uint64, maxConsumers int, claim bool) (*region, error) {
	dataOffset, totalSize, err := CalculateLayout(capacity, maxConsumers)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o666)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRing, name)
		}
		return nil, fmt.Errorf("failed to create region file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize region file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, err
	}

	initRegion(mem, capacity, maxConsumers, dataOffset, claim)
	return newRegion(name, path, file, mem), nil
}

// openRegion maps an existing region file and validates its control block.
func openRegion(name, path string) (*region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchRing, name)
		}
		return nil, fmt.Errorf("failed to open region file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat region file: %w", err)
	}
	size := info.Size()
	if size < ControlBlockSize {
		file.Close()
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrBadRegion, size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	if err := validateControlBlock(controlBlockOf(mem), uint64(size)); err != nil {
		munmap(mem)
		file.Close()
		return nil, err
	}
	return newRegion(name, path, file, mem), nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// munmap unmaps a memory-mapped region
func munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
