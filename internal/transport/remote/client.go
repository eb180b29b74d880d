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
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/retry"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// ErrWrongMode is returned when a consumer operation is used on a producer
// client or the reverse.
var ErrWrongMode = stderrors.New("operation not valid in this client mode")

// DefaultMaxBuffered bounds the bytes a consumer client holds before it stops
// reading from the connection.
const DefaultMaxBuffered = 4 * 1024 * 1024

// DialOptions configures a client.
type DialOptions struct {
	// FromStart attaches a consumer at the oldest intact byte.
	FromStart bool
	// EOFOnProducerExit ends the stream once the producer is gone and the
	// ring is drained.
	EOFOnProducerExit bool
	// Timeout bounds each consumer wait; negative waits forever.
	Timeout time.Duration
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// Retry governs reconnect attempts. Zero value means retry.DefaultConfig.
	Retry       retry.Config
	MaxBuffered int
	Logger      *slog.Logger
}

// Client is one session with a ring proxy. A consume-mode client is a byte
// source; a produce-mode client is a byte sink.
type Client struct {
	conn     *conn
	mode     Mode
	addr     shm.Address
	capacity uint64
	timeout  time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	changed     chan struct{}
	buf         []byte
	maxBuffered int
	want        int
	eof         bool
	rerr        error
	pos         uint64
	closed      bool

	done chan struct{}
}

// Dial connects to the proxy for addr and attaches to its ring in mode.
// Connection failures are retried with backoff; a REJECT is not.
func Dial(ctx context.Context, addr shm.Address, mode Mode, opts DialOptions) (*Client, error) {
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	logger := logging.OrDefault(opts.Logger).With("component", "ring-client", "ring", addr.String())

	var flags uint8
	if opts.FromStart {
		flags |= HelloFlagFromStart
	}
	if opts.EOFOnProducerExit {
		flags |= HelloFlagEOFOnExit
	}
	hello := encodeHello(Hello{Version: ProtocolVersion, Mode: mode, Flags: flags, Ring: addr.Name})

	cl, err := retry.DoWithResult(ctx, cfg, func() (*Client, error) {
		d := net.Dialer{Timeout: dialTimeout}
		nc, err := d.DialContext(ctx, "tcp", addr.HostPort())
		if err != nil {
			logger.Debug("Dial failed", "error", err)
			return nil, err
		}
		c := newConn(nc)
		capacity, err := handshake(c, hello, dialTimeout)
		if err != nil {
			c.close()
			return nil, err
		}
		return &Client{conn: c, capacity: capacity}, nil
	})
	if err != nil {
		var nre *retry.NonRetryableError
		if stderrors.As(err, &nre) {
			return nil, nre.Err
		}
		return nil, errors.WrapTransient(err, "Client", "Dial", "connect to "+addr.HostPort())
	}

	cl.mode = mode
	cl.addr = addr
	cl.timeout = opts.Timeout
	cl.logger = logger
	cl.changed = make(chan struct{})
	cl.maxBuffered = opts.MaxBuffered
	if cl.maxBuffered <= 0 {
		cl.maxBuffered = DefaultMaxBuffered
	}
	cl.done = make(chan struct{})
	go cl.readLoop()
	logger.Info("Attached to remote ring", "mode", mode.String(), "capacity", cl.capacity)
	return cl, nil
}

// handshake sends HELLO and waits for the verdict.
func handshake(c *conn, hello []byte, timeout time.Duration) (uint64, error) {
	if err := c.send(FrameHello, 0, hello); err != nil {
		return 0, err
	}
	fh, payload, err := c.recvWithin(timeout)
	if err != nil {
		return 0, err
	}
	switch fh.Type {
	case FrameAccept:
		if len(payload) != 8 {
			return 0, retry.NonRetryable(fmt.Errorf("%w: accept payload %d bytes", ErrProtocol, len(payload)))
		}
		return binary.LittleEndian.Uint64(payload), nil
	case FrameReject:
		return 0, retry.NonRetryable(decodeError(payload))
	default:
		return 0, retry.NonRetryable(fmt.Errorf("%w: unexpected %s during handshake", ErrProtocol, fh.Type))
	}
}

// Capacity returns the remote ring's capacity.
func (c *Client) Capacity() uint64 { return c.capacity }

// Mode returns the client's role.
func (c *Client) Mode() Mode { return c.mode }

// readLoop receives frames until the session ends.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		fh, payload, err := c.conn.recv()
		if err != nil {
			c.finish(false, err)
			return
		}
		switch fh.Type {
		case FrameData:
			if c.mode != ModeConsume {
				c.finish(false, fmt.Errorf("%w: DATA sent to a producer", ErrProtocol))
				return
			}
			if !c.append(payload) {
				return
			}
		case FrameClose:
			if fh.Flags&CloseFlagError != 0 {
				c.finish(false, decodeError(payload))
			} else {
				c.finish(true, nil)
			}
			return
		default:
			c.finish(false, fmt.Errorf("%w: unexpected %s", ErrProtocol, fh.Type))
			return
		}
	}
}

// append buffers payload, waiting while the buffer is full. It returns false
// once the client is closed.
func (c *Client) append(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) >= max(c.maxBuffered, c.want) && !c.closed {
		ch := c.changed
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
	}
	if c.closed {
		return false
	}
	c.buf = append(c.buf, payload...)
	c.notifyLocked()
	return true
}

func (c *Client) finish(eof bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if eof {
		c.eof = true
	} else if c.rerr == nil {
		if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
			err = io.ErrUnexpectedEOF
		}
		c.rerr = err
	}
	c.notifyLocked()
}

func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// waitLocked blocks until n bytes are buffered or the stream ended. Caller
// holds mu.
func (c *Client) waitLocked(n int) error {
	if n > len(c.buf) {
		c.want = n
		c.notifyLocked()
		defer func() { c.want = 0 }()
	}
	var timer <-chan time.Time
	if c.timeout >= 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timer = t.C
	}
	for len(c.buf) < n {
		switch {
		case c.closed:
			return errors.ErrClosed
		case c.eof:
			if len(c.buf) == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		case c.rerr != nil:
			return c.rerr
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
			c.mu.Lock()
		case <-timer:
			c.mu.Lock()
			if len(c.buf) >= n {
				return nil
			}
			return errors.WrapTransient(errors.ErrWouldBlock, "Client", "Read", "wait for remote data")
		}
	}
	return nil
}

// Read fills buf completely, waiting up to the configured timeout.
func (c *Client) Read(buf []byte) (int, error) {
	if c.mode != ModeConsume {
		return 0, errors.WrapInvalid(ErrWrongMode, "Client", "Read", "read")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitLocked(len(buf)); err != nil {
		return 0, err
	}
	n := copy(buf, c.buf)
	c.consumeLocked(n)
	return n, nil
}

// Peek fills buf completely without consuming.
func (c *Client) Peek(buf []byte) (int, error) {
	if c.mode != ModeConsume {
		return 0, errors.WrapInvalid(ErrWrongMode, "Client", "Peek", "peek")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitLocked(len(buf)); err != nil {
		return 0, err
	}
	return copy(buf, c.buf), nil
}

// Ignore discards exactly n bytes.
func (c *Client) Ignore(n int) error {
	if c.mode != ModeConsume {
		return errors.WrapInvalid(ErrWrongMode, "Client", "Ignore", "ignore")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitLocked(n); err != nil {
		return err
	}
	c.consumeLocked(n)
	return nil
}

func (c *Client) consumeLocked(n int) {
	c.buf = c.buf[n:]
	if len(c.buf) == 0 {
		c.buf = nil
	}
	c.pos += uint64(n)
	c.notifyLocked()
}

// Available returns the buffered byte count.
func (c *Client) Available() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 && c.rerr != nil {
		return 0, c.rerr
	}
	return len(c.buf), nil
}

// Position returns the bytes consumed so far.
func (c *Client) Position() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Put sends b to the remote ring as one DATA frame.
func (c *Client) Put(b []byte) error {
	if c.mode != ModeProduce {
		return errors.WrapInvalid(ErrWrongMode, "Client", "Put", "put")
	}
	c.mu.Lock()
	err := c.rerr
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.ErrClosed
	}
	if err != nil {
		return err
	}
	if uint64(len(b)) > c.capacity {
		return errors.WrapInvalid(fmt.Errorf("%w: %d > %d", shm.ErrTooLarge, len(b), c.capacity), "Client", "Put", "put")
	}
	if err := c.conn.send(FrameData, 0, b); err != nil {
		return errors.WrapFatal(err, "Client", "Put", "send data")
	}
	return nil
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.notifyLocked()
	c.mu.Unlock()

	c.conn.send(FrameClose, 0, nil)
	if c.mode == ModeProduce {
		// Let the proxy drain what was sent before the connection drops.
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
		}
	}
	err := c.conn.close()
	<-c.done
	c.logger.Debug("Remote session closed", "position", c.pos)
	return err
}
