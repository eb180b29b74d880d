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

package remote

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/retry"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// startProxy serves a fresh directory on a loopback port.
func startProxy(t *testing.T) (*shm.Directory, shm.Address) {
	t.Helper()
	dir := shm.NewDirectory(shm.DirectoryOptions{Dir: t.TempDir(), Logger: logging.Discard()})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &Server{Directory: dir, Logger: logging.Discard(), PollInterval: 20 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("proxy did not stop")
		}
	})

	tcp := ln.Addr().(*net.TCPAddr)
	return dir, shm.Address{Scheme: "ring", Host: "127.0.0.1", Port: tcp.Port}
}

func testDialOptions() DialOptions {
	return DialOptions{
		Timeout: 5 * time.Second,
		Retry:   retry.Once(),
		Logger:  logging.Discard(),
	}
}

func TestFrameHeaderCodec(t *testing.T) {
	var b [FrameHeaderSize]byte
	in := FrameHeader{Length: 1234, Type: FrameData, Flags: CloseFlagEOF, Sequence: 99}
	encodeFrameHeaderTo(&b, in)
	out, err := decodeFrameHeader(b[:])
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeFrameHeader(b[:4])
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHelloCodec(t *testing.T) {
	in := Hello{Version: ProtocolVersion, Mode: ModeConsume, Flags: HelloFlagFromStart | HelloFlagEOFOnExit, Ring: "daq"}
	out, err := decodeHello(encodeHello(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeHello([]byte{1, 2})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestErrorCodecKeepsSentinelAndClass(t *testing.T) {
	orig := errors.WrapInvalid(shm.ErrNoSuchRing, "Directory", "AttachConsumer", "open ring")
	got := decodeError(encodeError(orig))
	assert.ErrorIs(t, got, shm.ErrNoSuchRing)
	assert.True(t, errors.IsInvalid(got))

	got = decodeError(encodeError(stderrors.New("disk on fire")))
	assert.True(t, errors.IsFatal(got))
	assert.Contains(t, got.Error(), "disk on fire")
}

func TestRemoteConsumerReceivesLocalProducerData(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "remote-consume"
	require.NoError(t, dir.Create(addr.Name, 64*1024))
	prod, err := dir.AttachProducer(addr.Name)
	require.NoError(t, err)
	defer prod.Detach()

	cl, err := Dial(context.Background(), addr, ModeConsume, testDialOptions())
	require.NoError(t, err)
	defer cl.Close()
	assert.Equal(t, uint64(64*1024), cl.Capacity())

	payload := bytes.Repeat([]byte("ringbus!"), 1000)
	ok, err := prod.Put(payload, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	head := make([]byte, 8)
	n, err := cl.Peek(head)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "ringbus!", string(head))

	got := make([]byte, len(payload))
	n, err = cl.Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(len(payload)), cl.Position())
}

func TestRemoteConsumerTimesOutWithWouldBlock(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "remote-idle"
	require.NoError(t, dir.Create(addr.Name, 16*1024))

	opts := testDialOptions()
	opts.Timeout = 50 * time.Millisecond
	cl, err := Dial(context.Background(), addr, ModeConsume, opts)
	require.NoError(t, err)
	defer cl.Close()

	_, err = cl.Read(make([]byte, 4))
	assert.ErrorIs(t, err, errors.ErrWouldBlock)
	assert.True(t, errors.IsTransient(err))
}

func TestRemoteConsumerSeesEOFAfterProducerExit(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "remote-eof"
	require.NoError(t, dir.Create(addr.Name, 16*1024))
	prod, err := dir.AttachProducer(addr.Name)
	require.NoError(t, err)

	opts := testDialOptions()
	opts.EOFOnProducerExit = true
	cl, err := Dial(context.Background(), addr, ModeConsume, opts)
	require.NoError(t, err)
	defer cl.Close()

	// Give the proxy a poll interval to observe the live producer.
	time.Sleep(100 * time.Millisecond)
	ok, err := prod.Put([]byte("last words"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, prod.Detach())

	got := make([]byte, 10)
	_, err = cl.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "last words", string(got))

	_, err = cl.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRemoteProducerFeedsLocalConsumer(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "remote-produce"
	require.NoError(t, dir.Create(addr.Name, 16*1024))
	cons, err := dir.AttachConsumer(addr.Name)
	require.NoError(t, err)
	defer cons.Detach()

	cl, err := Dial(context.Background(), addr, ModeProduce, testDialOptions())
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, cl.Put([]byte{byte(i), byte(i), byte(i), byte(i)}))
	}
	require.NoError(t, cl.Close())

	buf := make([]byte, 32)
	n, err := cons.Get(buf, 32, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	for i := 0; i < 8; i++ {
		assert.Equal(t, []byte{byte(i), byte(i), byte(i), byte(i)}, buf[i*4:i*4+4])
	}
}

func TestDialRejectsMissingRing(t *testing.T) {
	_, addr := startProxy(t)
	addr.Name = "nobody-home"

	opts := testDialOptions()
	opts.Retry = retry.DefaultConfig()
	start := time.Now()
	_, err := Dial(context.Background(), addr, ModeConsume, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, shm.ErrNoSuchRing)
	assert.True(t, errors.IsInvalid(err))
	// A rejection is final; no backoff was spent on it.
	assert.Less(t, time.Since(start), time.Second)
}

func TestDialRejectsSecondProducer(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "one-producer"
	require.NoError(t, dir.Create(addr.Name, 16*1024))
	prod, err := dir.AttachProducer(addr.Name)
	require.NoError(t, err)
	defer prod.Detach()

	_, err = Dial(context.Background(), addr, ModeProduce, testDialOptions())
	assert.ErrorIs(t, err, shm.ErrProducerAttached)
}

func TestClientModeMismatch(t *testing.T) {
	dir, addr := startProxy(t)
	addr.Name = "mode-check"
	require.NoError(t, dir.Create(addr.Name, 16*1024))

	cl, err := Dial(context.Background(), addr, ModeConsume, testDialOptions())
	require.NoError(t, err)
	defer cl.Close()
	err = cl.Put([]byte("x"))
	assert.ErrorIs(t, err, ErrWrongMode)
	assert.True(t, errors.IsInvalid(err))
}

func TestDialUnreachableFailsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := shm.Address{Scheme: "ring", Host: "127.0.0.1", Port: port, Name: "gone"}
	_, err = Dial(context.Background(), addr, ModeConsume, testDialOptions())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
