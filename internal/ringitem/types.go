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
	"fmt"
	"strconv"
	"strings"
)

// Type is a record type code.
type Type uint32

// Record type codes.
const (
	BeginRun          Type = 1
	EndRun            Type = 2
	PauseRun          Type = 3
	ResumeRun         Type = 4
	AbnormalEndRun    Type = 5
	PacketTypes       Type = 10
	MonitoredVars     Type = 11
	RingFormatType    Type = 12
	PeriodicScalers   Type = 20
	PhysicsEventType  Type = 30
	PhysicsEventCount Type = 31
	EVBFragment       Type = 40
	EVBUnknownPayload Type = 41
	EVBGlomInfo       Type = 42

	// FirstUserType is the lowest code available to applications.
	FirstUserType Type = 32768
)

var typeNames = map[Type]string{
	BeginRun:          "BEGIN_RUN",
	EndRun:            "END_RUN",
	PauseRun:          "PAUSE_RUN",
	ResumeRun:         "RESUME_RUN",
	AbnormalEndRun:    "ABNORMAL_ENDRUN",
	PacketTypes:       "PACKET_TYPES",
	MonitoredVars:     "MONITORED_VARIABLES",
	RingFormatType:    "RING_FORMAT",
	PeriodicScalers:   "PERIODIC_SCALERS",
	PhysicsEventType:  "PHYSICS_EVENT",
	PhysicsEventCount: "PHYSICS_EVENT_COUNT",
	EVBFragment:       "EVB_FRAGMENT",
	EVBUnknownPayload: "EVB_UNKNOWN_PAYLOAD",
	EVBGlomInfo:       "EVB_GLOM_INFO",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	if t >= FirstUserType {
		return "USER_" + strconv.FormatUint(uint64(t), 10)
	}
	return "UNKNOWN_" + strconv.FormatUint(uint64(t), 10)
}

// IsStateChange reports whether t is BEGIN, END, PAUSE or RESUME.
func (t Type) IsStateChange() bool {
	return t >= BeginRun && t <= ResumeRun
}

// ParseType accepts a type name (case-insensitive) or a decimal code.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return Type(n), nil
	}
	upper := strings.ToUpper(s)
	for t, name := range typeNames {
		if name == upper {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown record type %q", s)
}

// ParseTypes parses a comma-separated list of types.
func ParseTypes(list string) ([]Type, error) {
	var out []Type
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseType(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
