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
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/daqlab/ringbus/internal/errors"
)

// Decoder turns a record into its typed body.
type Decoder func(it *Item) (Body, error)

type registration struct {
	name    string
	decoder Decoder
}

// Registry maps record types to decoders. Types without a decoder decode to
// Generic.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]registration
}

// NewRegistry returns a registry holding the built-in record types.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Type]registration)}
	for _, t := range []Type{BeginRun, EndRun, PauseRun, ResumeRun} {
		r.Register(t, t.String(), decodeStateChange)
	}
	r.Register(AbnormalEndRun, AbnormalEndRun.String(), decodeAbnormalEnd)
	r.Register(PacketTypes, PacketTypes.String(), decodeText)
	r.Register(MonitoredVars, MonitoredVars.String(), decodeText)
	r.Register(RingFormatType, RingFormatType.String(), decodeRingFormat)
	r.Register(PeriodicScalers, PeriodicScalers.String(), decodeScaler)
	r.Register(PhysicsEventType, PhysicsEventType.String(), decodePhysicsEvent)
	r.Register(PhysicsEventCount, PhysicsEventCount.String(), decodeEventCount)
	r.Register(EVBFragment, EVBFragment.String(), decodePhysicsEvent)
	r.Register(EVBUnknownPayload, EVBUnknownPayload.String(), decodePhysicsEvent)
	r.Register(EVBGlomInfo, EVBGlomInfo.String(), decodeGlomInfo)
	return r
}

// Register installs or replaces the decoder for t.
func (r *Registry) Register(t Type, name string, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t] = registration{name: name, decoder: dec}
}

// Name returns the registered name of t, or its default name.
func (r *Registry) Name(t Type) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[t]; ok && e.name != "" {
		return e.name
	}
	return t.String()
}

// Decode returns the typed body of it. Unregistered types yield Generic with
// no error. A registered type whose body does not parse yields Generic and
// an invalid-class error wrapping ErrBadBody.
func (r *Registry) Decode(it *Item) (Body, error) {
	r.mu.RLock()
	e, ok := r.entries[it.Type]
	r.mu.RUnlock()
	generic := &Generic{Kind: it.Type, Data: it.Payload}
	if !ok || e.decoder == nil {
		return generic, nil
	}
	body, err := e.decoder(it)
	if err != nil {
		return generic, errors.WrapInvalid(err, "Registry", "Decode", "decode "+r.Name(it.Type))
	}
	return body, nil
}

// Describe renders a record for humans.
func (r *Registry) Describe(it *Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "----------- %s (%d) %d bytes\n", r.Name(it.Type), uint32(it.Type), it.Size())
	if c := it.Coordination; c != nil {
		fmt.Fprintf(&sb, "Timestamp: %d source id: %d barrier: %d\n", c.Timestamp, c.SourceID, c.Barrier)
	}
	body, err := r.Decode(it)
	if err != nil {
		fmt.Fprintf(&sb, "!! %v\n", err)
	}
	sb.WriteString(body.String())
	sb.WriteByte('\n')
	return sb.String()
}

// DefaultRegistry holds the built-in types and anything registered through
// the package-level Register.
var DefaultRegistry = NewRegistry()

// Register installs a decoder in DefaultRegistry.
func Register(t Type, name string, dec Decoder) { DefaultRegistry.Register(t, name, dec) }

// Decode decodes it with DefaultRegistry.
func Decode(it *Item) (Body, error) { return DefaultRegistry.Decode(it) }

// Describe renders it with DefaultRegistry.
func Describe(it *Item) string { return DefaultRegistry.Describe(it) }

// maxDump bounds the bytes shown by hexDump.
const maxDump = 256

func hexDump(b []byte) string {
	if len(b) <= maxDump {
		return strings.TrimRight(hex.Dump(b), "\n")
	}
	return strings.TrimRight(hex.Dump(b[:maxDump]), "\n") + fmt.Sprintf("\n... %d more bytes", len(b)-maxDump)
}
