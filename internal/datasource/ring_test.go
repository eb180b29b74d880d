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

package datasource

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

func newRing(t *testing.T) (*shm.Directory, string, *shm.Producer) {
	t.Helper()
	dir := shm.NewDirectory(shm.DirectoryOptions{Dir: t.TempDir(), Logger: logging.Discard()})
	name := fmt.Sprintf("src-%d", time.Now().UnixNano())
	prod, err := dir.CreateAndAttachProducer(name, 64*1024)
	require.NoError(t, err)
	t.Cleanup(func() {
		prod.Detach()
		dir.RemoveForce(name)
	})
	return dir, name, prod
}

func TestRingSourceReadsWholeRecords(t *testing.T) {
	dir, name, prod := newRing(t)
	src, err := Open(context.Background(), name, Options{Directory: dir, Timeout: time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	defer src.Close()

	it := ringitem.NewPhysicsEvent([]byte("0123456789"))
	ok, err := prod.Put(it.Encode(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := ringitem.NewReader(src).Next()
	require.NoError(t, err)
	assert.Equal(t, it.Payload, got.Payload)
	assert.Equal(t, uint64(it.Size()), src.Position())
}

func TestRingSourceTimeoutIsWouldBlock(t *testing.T) {
	dir, name, prod := newRing(t)
	src, err := Open(context.Background(), name, Options{Directory: dir, Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	defer src.Close()

	// Half a prefix must not be consumed by a failed peek.
	ok, err := prod.Put([]byte{1, 2, 3, 4, 5, 6}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = src.Peek(make([]byte, ringitem.PrefixSize))
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.True(t, errors.IsTransient(err))

	avail, err := src.Available()
	require.NoError(t, err)
	assert.Equal(t, 6, avail)
}

func TestRingSourceEOFAfterProducerExit(t *testing.T) {
	dir, name, prod := newRing(t)
	src, err := Open(context.Background(), name, Options{
		Directory:         dir,
		Timeout:           shm.Forever,
		EOFOnProducerExit: true,
	})
	require.NoError(t, err)
	defer src.Close()

	ok, err := prod.Put([]byte("tail"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, prod.Detach())

	buf := make([]byte, 4)
	_, err = src.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf))

	done := make(chan error, 1)
	go func() {
		_, err := src.Read(buf)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not end after producer exit")
	}
}

func TestRingSourceFromStart(t *testing.T) {
	dir, name, prod := newRing(t)
	ok, err := prod.Put([]byte("early"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	late, err := Open(context.Background(), name, Options{Directory: dir, Timeout: 0})
	require.NoError(t, err)
	defer late.Close()
	_, err = late.Read(make([]byte, 5))
	assert.ErrorIs(t, err, ErrWouldBlock)

	early, err := Open(context.Background(), "ring:///"+name+"?from=start", Options{Directory: dir, Timeout: 0})
	require.NoError(t, err)
	defer early.Close()
	buf := make([]byte, 5)
	_, err = early.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "early", string(buf))
}

func TestRingSourceOversizedRecordIsMalformed(t *testing.T) {
	dir := shm.NewDirectory(shm.DirectoryOptions{Dir: t.TempDir(), Logger: logging.Discard()})
	name := fmt.Sprintf("small-%d", time.Now().UnixNano())
	prod, err := dir.CreateAndAttachProducer(name, shm.MinCapacity)
	require.NoError(t, err)
	t.Cleanup(func() {
		prod.Detach()
		dir.RemoveForce(name)
	})

	src, err := Open(context.Background(), name, Options{Directory: dir, Timeout: time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	defer src.Close()

	// A prefix announcing a record the ring could never hold.
	prefix := binary.LittleEndian.AppendUint32(nil, 10000)
	prefix = binary.LittleEndian.AppendUint32(prefix, uint32(ringitem.PhysicsEventType))
	prefix = binary.LittleEndian.AppendUint32(prefix, 0)
	ok, err := prod.Put(prefix, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = ringitem.NewReader(src).Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ringitem.ErrMalformed)
	assert.NotErrorIs(t, err, shm.ErrTooLarge)
	assert.True(t, errors.IsInvalid(err))

	avail, err := src.Available()
	require.NoError(t, err)
	assert.Equal(t, len(prefix), avail)
}
