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

package ringitem

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadBody reports a record whose body does not match its type.
var ErrBadBody = stderrors.New("bad record body")

// TitleSize is the fixed width of a state change title, NUL included.
const TitleSize = 80

// Current ring format version.
const (
	FormatMajor = 12
	FormatMinor = 0
)

// Body is the typed content of a record.
type Body interface {
	ItemType() Type
	AppendBody(b []byte) []byte
	String() string
}

// ToItem frames body as a record.
func ToItem(body Body) *Item {
	return &Item{Type: body.ItemType(), Payload: body.AppendBody(nil)}
}

// StateChange marks a run boundary: begin, end, pause or resume.
type StateChange struct {
	Kind             Type
	Run              uint32
	TimeOffset       uint32
	UnixTime         uint32
	OffsetDivisor    uint32
	OriginalSourceID uint32
	Title            string
}

// NewStateChange builds a state change record. The title is truncated to
// fit its fixed field.
func NewStateChange(kind Type, run uint32, elapsed time.Duration, when time.Time, title string) *Item {
	return ToItem(&StateChange{
		Kind:          kind,
		Run:           run,
		TimeOffset:    uint32(elapsed / time.Second),
		UnixTime:      uint32(when.Unix()),
		OffsetDivisor: 1,
		Title:         title,
	})
}

func (s *StateChange) ItemType() Type { return s.Kind }

func (s *StateChange) AppendBody(b []byte) []byte {
	b = appendU32s(b, s.Run, s.TimeOffset, s.UnixTime, s.OffsetDivisor, s.OriginalSourceID)
	var title [TitleSize]byte
	copy(title[:TitleSize-1], s.Title)
	return append(b, title[:]...)
}

func (s *StateChange) String() string {
	return fmt.Sprintf("%s run %d at %s, %s into the run\nTitle: %s",
		s.Kind, s.Run, time.Unix(int64(s.UnixTime), 0).Format(time.DateTime),
		elapsed(s.TimeOffset, s.OffsetDivisor), s.Title)
}

func decodeStateChange(it *Item) (Body, error) {
	p := it.Payload
	if len(p) != 20+TitleSize {
		return nil, bodyErr(it, "want %d bytes, have %d", 20+TitleSize, len(p))
	}
	v := readU32s(p, 5)
	return &StateChange{
		Kind:             it.Type,
		Run:              v[0],
		TimeOffset:       v[1],
		UnixTime:         v[2],
		OffsetDivisor:    v[3],
		OriginalSourceID: v[4],
		Title:            cString(p[20:]),
	}, nil
}

// AbnormalEnd signals that a run ended abnormally. It has no body.
type AbnormalEnd struct{}

// NewAbnormalEnd builds an abnormal end record.
func NewAbnormalEnd() *Item { return ToItem(AbnormalEnd{}) }

func (AbnormalEnd) ItemType() Type             { return AbnormalEndRun }
func (AbnormalEnd) AppendBody(b []byte) []byte { return b }
func (AbnormalEnd) String() string             { return "Run ended abnormally" }

func decodeAbnormalEnd(it *Item) (Body, error) {
	if len(it.Payload) != 0 {
		return nil, bodyErr(it, "unexpected %d byte body", len(it.Payload))
	}
	return AbnormalEnd{}, nil
}

// Text carries documentation strings: packet types or monitored variables.
type Text struct {
	Kind             Type
	TimeOffset       uint32
	UnixTime         uint32
	OffsetDivisor    uint32
	OriginalSourceID uint32
	Strings          []string
}

// NewText builds a text record of kind PacketTypes or MonitoredVars.
func NewText(kind Type, elapsed time.Duration, when time.Time, strs []string) *Item {
	return ToItem(&Text{
		Kind:          kind,
		TimeOffset:    uint32(elapsed / time.Second),
		UnixTime:      uint32(when.Unix()),
		OffsetDivisor: 1,
		Strings:       strs,
	})
}

func (t *Text) ItemType() Type { return t.Kind }

func (t *Text) AppendBody(b []byte) []byte {
	b = appendU32s(b, t.TimeOffset, t.UnixTime, uint32(len(t.Strings)), t.OffsetDivisor, t.OriginalSourceID)
	for _, s := range t.Strings {
		b = append(b, s...)
		b = append(b, 0)
	}
	return b
}

func (t *Text) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s at %s, %s into the run, %d strings",
		t.Kind, time.Unix(int64(t.UnixTime), 0).Format(time.DateTime),
		elapsed(t.TimeOffset, t.OffsetDivisor), len(t.Strings))
	for _, s := range t.Strings {
		sb.WriteString("\n  ")
		sb.WriteString(s)
	}
	return sb.String()
}

func decodeText(it *Item) (Body, error) {
	p := it.Payload
	if len(p) < 20 {
		return nil, bodyErr(it, "%d bytes is shorter than the text header", len(p))
	}
	v := readU32s(p, 5)
	t := &Text{Kind: it.Type, TimeOffset: v[0], UnixTime: v[1], OffsetDivisor: v[3], OriginalSourceID: v[4]}
	rest := p[20:]
	for i := uint32(0); i < v[2]; i++ {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return nil, bodyErr(it, "string %d of %d is not terminated", i+1, v[2])
		}
		t.Strings = append(t.Strings, string(rest[:end]))
		rest = rest[end+1:]
	}
	return t, nil
}

// RingFormat announces the record format version.
type RingFormat struct {
	Major uint16
	Minor uint16
}

// NewRingFormat builds a format record for the current version.
func NewRingFormat() *Item { return ToItem(&RingFormat{Major: FormatMajor, Minor: FormatMinor}) }

func (f *RingFormat) ItemType() Type { return RingFormatType }

func (f *RingFormat) AppendBody(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, f.Major)
	return binary.LittleEndian.AppendUint16(b, f.Minor)
}

func (f *RingFormat) String() string { return fmt.Sprintf("Ring format %d.%d", f.Major, f.Minor) }

func decodeRingFormat(it *Item) (Body, error) {
	if len(it.Payload) != 4 {
		return nil, bodyErr(it, "want 4 bytes, have %d", len(it.Payload))
	}
	return &RingFormat{
		Major: binary.LittleEndian.Uint16(it.Payload[0:2]),
		Minor: binary.LittleEndian.Uint16(it.Payload[2:4]),
	}, nil
}

// Scaler holds periodic scaler counts over an interval.
type Scaler struct {
	IntervalStart    uint32
	IntervalEnd      uint32
	UnixTime         uint32
	IntervalDivisor  uint32
	Incremental      bool
	OriginalSourceID uint32
	Counts           []uint32
}

// NewScaler builds a periodic scaler record.
func NewScaler(start, end time.Duration, when time.Time, counts []uint32, incremental bool) *Item {
	return ToItem(&Scaler{
		IntervalStart:   uint32(start / time.Second),
		IntervalEnd:     uint32(end / time.Second),
		UnixTime:        uint32(when.Unix()),
		IntervalDivisor: 1,
		Incremental:     incremental,
		Counts:          counts,
	})
}

func (s *Scaler) ItemType() Type { return PeriodicScalers }

func (s *Scaler) AppendBody(b []byte) []byte {
	var inc uint32
	if s.Incremental {
		inc = 1
	}
	b = appendU32s(b, s.IntervalStart, s.IntervalEnd, s.UnixTime, s.IntervalDivisor,
		uint32(len(s.Counts)), inc, s.OriginalSourceID)
	return appendU32s(b, s.Counts...)
}

func (s *Scaler) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scalers from %s to %s at %s, incremental=%t",
		elapsed(s.IntervalStart, s.IntervalDivisor), elapsed(s.IntervalEnd, s.IntervalDivisor),
		time.Unix(int64(s.UnixTime), 0).Format(time.DateTime), s.Incremental)
	for i, c := range s.Counts {
		fmt.Fprintf(&sb, "\n  %3d: %d", i, c)
	}
	return sb.String()
}

func decodeScaler(it *Item) (Body, error) {
	p := it.Payload
	if len(p) < 28 {
		return nil, bodyErr(it, "%d bytes is shorter than the scaler header", len(p))
	}
	v := readU32s(p, 7)
	if uint64(len(p)-28) != uint64(v[4])*4 {
		return nil, bodyErr(it, "%d scalers do not fit %d bytes", v[4], len(p)-28)
	}
	return &Scaler{
		IntervalStart:    v[0],
		IntervalEnd:      v[1],
		UnixTime:         v[2],
		IntervalDivisor:  v[3],
		Incremental:      v[5] != 0,
		OriginalSourceID: v[6],
		Counts:           readU32s(p[28:], int(v[4])),
	}, nil
}

// PhysicsEvent is an opaque event payload, also used for event builder
// fragments.
type PhysicsEvent struct {
	Kind Type
	Data []byte
}

// NewPhysicsEvent builds a physics event record around data.
func NewPhysicsEvent(data []byte) *Item {
	return &Item{Type: PhysicsEventType, Payload: data}
}

func (e *PhysicsEvent) ItemType() Type             { return e.Kind }
func (e *PhysicsEvent) AppendBody(b []byte) []byte { return append(b, e.Data...) }
func (e *PhysicsEvent) String() string {
	return fmt.Sprintf("%d bytes of event data\n%s", len(e.Data), hexDump(e.Data))
}

func decodePhysicsEvent(it *Item) (Body, error) {
	return &PhysicsEvent{Kind: it.Type, Data: it.Payload}, nil
}

// EventCount reports how many physics events were emitted so far.
type EventCount struct {
	TimeOffset       uint32
	OffsetDivisor    uint32
	UnixTime         uint32
	Count            uint64
	OriginalSourceID uint32
}

// NewEventCount builds a physics event count record.
func NewEventCount(elapsed time.Duration, when time.Time, count uint64) *Item {
	return ToItem(&EventCount{
		TimeOffset:    uint32(elapsed / time.Second),
		OffsetDivisor: 1,
		UnixTime:      uint32(when.Unix()),
		Count:         count,
	})
}

func (c *EventCount) ItemType() Type { return PhysicsEventCount }

func (c *EventCount) AppendBody(b []byte) []byte {
	b = appendU32s(b, c.TimeOffset, c.OffsetDivisor, c.UnixTime)
	b = binary.LittleEndian.AppendUint64(b, c.Count)
	return binary.LittleEndian.AppendUint32(b, c.OriginalSourceID)
}

func (c *EventCount) String() string {
	return fmt.Sprintf("%d events, %s into the run at %s",
		c.Count, elapsed(c.TimeOffset, c.OffsetDivisor), time.Unix(int64(c.UnixTime), 0).Format(time.DateTime))
}

func decodeEventCount(it *Item) (Body, error) {
	p := it.Payload
	if len(p) != 24 {
		return nil, bodyErr(it, "want 24 bytes, have %d", len(p))
	}
	v := readU32s(p, 3)
	return &EventCount{
		TimeOffset:       v[0],
		OffsetDivisor:    v[1],
		UnixTime:         v[2],
		Count:            binary.LittleEndian.Uint64(p[12:20]),
		OriginalSourceID: binary.LittleEndian.Uint32(p[20:24]),
	}, nil
}

// Timestamp policies of the event builder glommer.
const (
	GlomFirst   uint16 = 0
	GlomLast    uint16 = 1
	GlomAverage uint16 = 2
)

// GlomInfo describes the event builder's glom parameters.
type GlomInfo struct {
	CoincidenceTicks uint64
	Building         bool
	TimestampPolicy  uint16
}

// NewGlomInfo builds an event builder glom info record.
func NewGlomInfo(ticks uint64, building bool, policy uint16) *Item {
	return ToItem(&GlomInfo{CoincidenceTicks: ticks, Building: building, TimestampPolicy: policy})
}

func (g *GlomInfo) ItemType() Type { return EVBGlomInfo }

func (g *GlomInfo) AppendBody(b []byte) []byte {
	var building uint16
	if g.Building {
		building = 1
	}
	b = binary.LittleEndian.AppendUint64(b, g.CoincidenceTicks)
	b = binary.LittleEndian.AppendUint16(b, building)
	return binary.LittleEndian.AppendUint16(b, g.TimestampPolicy)
}

func (g *GlomInfo) String() string {
	policy := [...]string{"first", "last", "average"}
	p := "unknown"
	if int(g.TimestampPolicy) < len(policy) {
		p = policy[g.TimestampPolicy]
	}
	return fmt.Sprintf("Glom: building=%t coincidence=%d ticks timestamp=%s", g.Building, g.CoincidenceTicks, p)
}

func decodeGlomInfo(it *Item) (Body, error) {
	p := it.Payload
	if len(p) != 12 {
		return nil, bodyErr(it, "want 12 bytes, have %d", len(p))
	}
	return &GlomInfo{
		CoincidenceTicks: binary.LittleEndian.Uint64(p[0:8]),
		Building:         binary.LittleEndian.Uint16(p[8:10]) != 0,
		TimestampPolicy:  binary.LittleEndian.Uint16(p[10:12]),
	}, nil
}

// Generic is the body of a record type with no registered decoder.
type Generic struct {
	Kind Type
	Data []byte
}

func (g *Generic) ItemType() Type             { return g.Kind }
func (g *Generic) AppendBody(b []byte) []byte { return append(b, g.Data...) }
func (g *Generic) String() string {
	return fmt.Sprintf("%d bytes\n%s", len(g.Data), hexDump(g.Data))
}

func appendU32s(b []byte, vals ...uint32) []byte {
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func readU32s(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func elapsed(offset, divisor uint32) time.Duration {
	if divisor == 0 {
		divisor = 1
	}
	return time.Duration(float64(offset) / float64(divisor) * float64(time.Second))
}

func bodyErr(it *Item, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrBadBody, it.Type, fmt.Sprintf(format, args...))
}
