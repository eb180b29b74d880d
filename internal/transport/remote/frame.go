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

// Package remote carries ring data over TCP so producers and consumers on
// other hosts can use a ring through a proxy running beside it.
//
// Every message is a frame: a 16-byte little-endian header followed by
// Length payload bytes. A client opens with HELLO naming the ring and its
// role, the proxy answers ACCEPT or REJECT, then ring bytes flow as DATA
// frames until either side sends CLOSE.
package remote

import (
	"bufio"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// Frame header layout (16 bytes, little-endian):
// uint32 length    // payload length in bytes (excludes header)
// uint8  type      // enum FrameType
// uint8  flags     // per-type flags
// uint16 reserved  // zero
// uint64 sequence  // per-direction frame counter starting at 1
const FrameHeaderSize = 16

// MaxFrameSize bounds a frame payload.
const MaxFrameSize = 16 * 1024 * 1024

// ProtocolVersion is carried in HELLO.
const ProtocolVersion = 1

type FrameType uint8

const (
	FrameHello  FrameType = 0x01
	FrameAccept FrameType = 0x02
	FrameReject FrameType = 0x03
	FrameData   FrameType = 0x04
	FrameClose  FrameType = 0x05
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "HELLO"
	case FrameAccept:
		return "ACCEPT"
	case FrameReject:
		return "REJECT"
	case FrameData:
		return "DATA"
	case FrameClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// Flags
const (
	// HELLO flags
	HelloFlagFromStart = uint8(0x01)
	HelloFlagEOFOnExit = uint8(0x02)

	// CLOSE flags
	CloseFlagEOF   = uint8(0x01) // producer gone and ring drained
	CloseFlagError = uint8(0x02) // payload carries an error
)

// ErrProtocol reports a malformed or unexpected frame.
var ErrProtocol = stderrors.New("ring proxy protocol error")

// FrameHeader represents the on-wire header.
type FrameHeader struct {
	Length   uint32
	Type     FrameType
	Flags    uint8
	Reserved uint16
	Sequence uint64
}

func encodeFrameHeaderTo(dst *[FrameHeaderSize]byte, fh FrameHeader) {
	b := dst[:]
	binary.LittleEndian.PutUint32(b[0:4], fh.Length)
	b[4] = byte(fh.Type)
	b[5] = fh.Flags
	binary.LittleEndian.PutUint16(b[6:8], fh.Reserved)
	binary.LittleEndian.PutUint64(b[8:16], fh.Sequence)
}

func decodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: frame header too short", ErrProtocol)
	}
	var fh FrameHeader
	fh.Length = binary.LittleEndian.Uint32(b[0:4])
	fh.Type = FrameType(b[4])
	fh.Flags = b[5]
	fh.Reserved = binary.LittleEndian.Uint16(b[6:8])
	fh.Sequence = binary.LittleEndian.Uint64(b[8:16])
	return fh, nil
}

// Mode is the role a client takes on the ring.
type Mode uint8

const (
	ModeConsume Mode = 1
	ModeProduce Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeConsume:
		return "consume"
	case ModeProduce:
		return "produce"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Hello is the opening request of a client.
type Hello struct {
	Version uint8
	Mode    Mode
	Flags   uint8
	Ring    string
}

func encodeHello(h Hello) []byte {
	out := make([]byte, 0, 6+len(h.Ring))
	out = append(out, h.Version, byte(h.Mode), h.Flags, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(h.Ring)))
	return append(out, h.Ring...)
}

func decodeHello(b []byte) (Hello, error) {
	if len(b) < 6 {
		return Hello{}, fmt.Errorf("%w: hello too short", ErrProtocol)
	}
	h := Hello{Version: b[0], Mode: Mode(b[1]), Flags: b[2]}
	if h.Version != ProtocolVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrProtocol, h.Version)
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b[6:]) != n {
		return h, fmt.Errorf("%w: hello ring name length %d, have %d bytes", ErrProtocol, n, len(b[6:]))
	}
	h.Ring = string(b[6:])
	switch h.Mode {
	case ModeConsume, ModeProduce:
	default:
		return h, fmt.Errorf("%w: unknown mode %d", ErrProtocol, h.Mode)
	}
	return h, nil
}

// Ring errors that survive the trip across the wire, by code. Code 0 is an
// unlisted error.
var wireErrors = []error{
	nil,
	shm.ErrNoSuchRing,
	shm.ErrProducerAttached,
	shm.ErrNoFreeConsumerSlots,
	shm.ErrRingRemoved,
	shm.ErrInvalidName,
	shm.ErrTooLarge,
	shm.ErrDetached,
	ErrProtocol,
}

// encodeError carries err's code, class and text.
func encodeError(err error) []byte {
	code := 0
	for i, target := range wireErrors[1:] {
		if stderrors.Is(err, target) {
			code = i + 1
			break
		}
	}
	out := []byte{byte(code), byte(errors.Classify(err))}
	return append(out, err.Error()...)
}

// decodeError rebuilds an error sent by the peer so errors.Is matches the
// original sentinel and the class is preserved.
func decodeError(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("%w: error payload too short", ErrProtocol)
	}
	msg := "remote: " + string(b[2:])
	var err error = stderrors.New(msg)
	if code := int(b[0]); code > 0 && code < len(wireErrors) {
		err = fmt.Errorf("%w: %s", wireErrors[code], msg)
	}
	switch errors.ErrorClass(b[1]) {
	case errors.ErrorTransient:
		return errors.WrapTransient(err, "remote", "peer", "ring operation")
	case errors.ErrorInvalid:
		return errors.WrapInvalid(err, "remote", "peer", "ring operation")
	default:
		return errors.WrapFatal(err, "remote", "peer", "ring operation")
	}
}

// conn frames messages on a TCP connection. Sends are serialised; receives
// belong to a single goroutine.
type conn struct {
	nc net.Conn
	br *bufio.Reader

	wmu  sync.Mutex
	bw   *bufio.Writer
	wseq uint64

	rseq uint64
	hdr  [FrameHeaderSize]byte
}

func newConn(nc net.Conn) *conn {
	return &conn{
		nc: nc,
		br: bufio.NewReaderSize(nc, 64*1024),
		bw: bufio.NewWriterSize(nc, 64*1024),
	}
}

// send writes one frame and flushes it.
func (c *conn) send(t FrameType, flags uint8, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d byte payload", ErrProtocol, len(payload))
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.wseq++
	var hdr [FrameHeaderSize]byte
	encodeFrameHeaderTo(&hdr, FrameHeader{Length: uint32(len(payload)), Type: t, Flags: flags, Sequence: c.wseq})
	if _, err := c.bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

// recv reads one frame. The payload is freshly allocated.
func (c *conn) recv() (FrameHeader, []byte, error) {
	if _, err := io.ReadFull(c.br, c.hdr[:]); err != nil {
		return FrameHeader{}, nil, err
	}
	fh, err := decodeFrameHeader(c.hdr[:])
	if err != nil {
		return fh, nil, err
	}
	c.rseq++
	if fh.Sequence != c.rseq {
		return fh, nil, fmt.Errorf("%w: frame sequence %d, expected %d", ErrProtocol, fh.Sequence, c.rseq)
	}
	if fh.Length > MaxFrameSize {
		return fh, nil, fmt.Errorf("%w: %d byte frame", ErrProtocol, fh.Length)
	}
	payload := make([]byte, fh.Length)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		if stderrors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fh, nil, err
	}
	return fh, payload, nil
}

// recvWithin reads one frame under a read deadline.
func (c *conn) recvWithin(d time.Duration) (FrameHeader, []byte, error) {
	c.nc.SetReadDeadline(time.Now().Add(d))
	defer c.nc.SetReadDeadline(time.Time{})
	return c.recv()
}

func (c *conn) close() error { return c.nc.Close() }
