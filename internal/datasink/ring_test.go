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

package datasink

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

func newDirectory(t *testing.T) *shm.Directory {
	t.Helper()
	return shm.NewDirectory(shm.DirectoryOptions{Dir: t.TempDir(), Logger: logging.Discard()})
}

func ringName() string { return fmt.Sprintf("sink-%d", time.Now().UnixNano()) }

func TestRingSinkCreatesAndFeedsRing(t *testing.T) {
	dir := newDirectory(t)
	name := ringName()
	uri := fmt.Sprintf("ring:///%s?cap=%d", name, 16*1024)

	s, err := Open(context.Background(), uri, Options{Directory: dir, Create: true, Timeout: time.Second})
	require.NoError(t, err)
	defer s.Close()
	st, err := dir.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(16*1024), st.Capacity)

	cons, err := dir.AttachConsumer(name)
	require.NoError(t, err)
	defer cons.Detach()

	it := ringitem.NewPhysicsEvent([]byte("hello ring"))
	require.NoError(t, s.PutItem(it))

	buf := make([]byte, it.Size())
	n, err := cons.Get(buf, it.Size(), time.Second)
	require.NoError(t, err)
	require.Equal(t, it.Size(), n)
	got, err := ringitem.ParseItem(buf)
	require.NoError(t, err)
	assert.Equal(t, it.Payload, got.Payload)
}

func TestRingSinkTimeoutIsWouldBlock(t *testing.T) {
	dir := newDirectory(t)
	name := ringName()
	require.NoError(t, dir.Create(name, shm.MinCapacity))

	cons, err := dir.AttachConsumer(name)
	require.NoError(t, err)
	defer cons.Detach()

	s, err := Open(context.Background(), name, Options{
		Directory: dir,
		Timeout:   10 * time.Millisecond,
		Retry:     &errors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2},
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(make([]byte, shm.MinCapacity)))
	err = s.Put([]byte{1})
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, errors.IsFatal(err))
}

func TestRingSinkStructuralErrorsAreNotRetried(t *testing.T) {
	dir := newDirectory(t)
	name := ringName()
	require.NoError(t, dir.Create(name, shm.MinCapacity))

	s, err := Open(context.Background(), name, Options{
		Directory: dir,
		Retry:     &errors.RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 1},
	})
	require.NoError(t, err)
	defer s.Close()

	start := time.Now()
	err = s.Put(make([]byte, shm.MinCapacity+1))
	assert.ErrorIs(t, err, shm.ErrTooLarge)
	assert.True(t, errors.IsInvalid(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOpenSinkMissingRingWithoutCreate(t *testing.T) {
	dir := newDirectory(t)
	_, err := Open(context.Background(), "absent", Options{Directory: dir})
	assert.ErrorIs(t, err, shm.ErrNoSuchRing)
}
