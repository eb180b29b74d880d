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
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/metric"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// Server defaults.
const (
	DefaultListen       = ":30000"
	DefaultChunkSize    = 64 * 1024
	DefaultPollInterval = 100 * time.Millisecond
	helloTimeout        = 10 * time.Second
)

// Server exposes the rings of a Directory to remote clients.
type Server struct {
	Directory *shm.Directory
	// Listen is the TCP address; empty means DefaultListen.
	Listen  string
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
	// ChunkSize bounds the DATA frames streamed to consumers.
	ChunkSize int
	// PollInterval bounds each ring wait so shutdown is noticed.
	PollInterval time.Duration

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}
}

// Serve listens on s.Listen and serves clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Listen
	if addr == "" {
		addr = DefaultListen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Serve", "listen on "+addr)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves clients accepted from ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	logger := s.logger()
	s.setListener(ln)
	logger.Info("Ring proxy listening", "addr", ln.Addr().String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})

	var acceptErr error
	for {
		nc, err := ln.Accept()
		if err != nil {
			if gctx.Err() == nil {
				acceptErr = errors.WrapFatal(err, "Server", "Serve", "accept")
			}
			break
		}
		g.Go(func() error {
			s.handle(gctx, nc)
			return nil
		})
	}
	cancel()
	g.Wait()
	logger.Info("Ring proxy stopped")
	return acceptErr
}

// Addr waits until the server is listening and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.readyCh():
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ln.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) readyCh() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	return s.ready
}

func (s *Server) setListener(ln net.Listener) {
	ready := s.readyCh()
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(ready)
}

func (s *Server) logger() *slog.Logger {
	return logging.OrDefault(s.Logger).With("component", "ring-proxy")
}

func (s *Server) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

// handle runs one client session.
func (s *Server) handle(ctx context.Context, nc net.Conn) {
	logger := s.logger().With("peer", nc.RemoteAddr().String())
	c := newConn(nc)
	defer c.close()

	fh, payload, err := c.recvWithin(helloTimeout)
	if err != nil {
		logger.Warn("No hello from client", "error", err)
		return
	}
	if fh.Type != FrameHello {
		c.send(FrameReject, 0, encodeError(fmt.Errorf("%w: expected HELLO, got %s", ErrProtocol, fh.Type)))
		return
	}
	hello, err := decodeHello(payload)
	if err != nil {
		c.send(FrameReject, 0, encodeError(errors.WrapInvalid(err, "Server", "handle", "decode hello")))
		return
	}
	logger = logger.With("ring", hello.Ring, "mode", hello.Mode.String())

	if m := s.Metrics.Core(); m != nil {
		m.ProxyClients.Inc()
		defer m.ProxyClients.Dec()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		nc.SetDeadline(time.Now())
	}()

	switch hello.Mode {
	case ModeConsume:
		err = s.serveConsumer(sessCtx, cancel, c, hello, logger)
	case ModeProduce:
		err = s.serveProducer(sessCtx, c, hello, logger)
	}
	if err != nil && ctx.Err() == nil {
		logger.Warn("Client session ended with error", "error", err)
		return
	}
	logger.Info("Client session closed")
}

func (s *Server) serveConsumer(ctx context.Context, cancel context.CancelFunc, c *conn, hello Hello, logger *slog.Logger) error {
	attach := s.Directory.AttachConsumer
	if hello.Flags&HelloFlagFromStart != 0 {
		attach = s.Directory.AttachConsumerFromStart
	}
	cons, err := attach(hello.Ring)
	if err != nil {
		c.send(FrameReject, 0, encodeError(err))
		return err
	}
	defer cons.Detach()
	if err := c.send(FrameAccept, 0, binary.LittleEndian.AppendUint64(nil, cons.Capacity())); err != nil {
		return err
	}
	logger.Info("Consumer client attached", "slot", cons.Slot())

	// The client only ever sends CLOSE; any frame or error ends the session.
	go func() {
		c.recv()
		cancel()
	}()

	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	buf := make([]byte, chunk)
	eofOnExit := hello.Flags&HelloFlagEOFOnExit != 0
	sawProducer := cons.ProducerAlive()
	for {
		if ctx.Err() != nil {
			c.send(FrameClose, 0, nil)
			return nil
		}
		n, err := cons.Get(buf, 1, s.pollInterval())
		if err != nil {
			c.send(FrameClose, CloseFlagError, encodeError(err))
			return err
		}
		if n > 0 {
			sawProducer = true
			if err := c.send(FrameData, 0, buf[:n]); err != nil {
				return err
			}
			continue
		}
		if !eofOnExit {
			continue
		}
		if cons.ProducerAlive() {
			sawProducer = true
			continue
		}
		if avail, err := cons.Available(); sawProducer && err == nil && avail == 0 {
			return c.send(FrameClose, CloseFlagEOF, nil)
		}
	}
}

func (s *Server) serveProducer(ctx context.Context, c *conn, hello Hello, logger *slog.Logger) error {
	prod, err := s.Directory.AttachProducer(hello.Ring)
	if err != nil {
		c.send(FrameReject, 0, encodeError(err))
		return err
	}
	defer prod.Detach()
	if err := c.send(FrameAccept, 0, binary.LittleEndian.AppendUint64(nil, prod.Capacity())); err != nil {
		return err
	}
	logger.Info("Producer client attached")

	for {
		fh, payload, err := c.recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch fh.Type {
		case FrameClose:
			return nil
		case FrameData:
		default:
			err := fmt.Errorf("%w: unexpected %s from producer", ErrProtocol, fh.Type)
			c.send(FrameClose, CloseFlagError, encodeError(err))
			return err
		}
		for {
			ok, err := prod.Put(payload, s.pollInterval())
			if err != nil {
				c.send(FrameClose, CloseFlagError, encodeError(err))
				return err
			}
			if ok {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}
