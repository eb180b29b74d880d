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

package filter

import (
	"maps"
	"slices"
	"sync"

	"github.com/daqlab/ringbus/internal/metric"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// TypeStats is the traffic seen for one record type.
type TypeStats struct {
	Type    ringitem.Type `json:"-" yaml:"-"`
	Name    string        `json:"type" yaml:"type"`
	Records uint64        `json:"records" yaml:"records"`
	Bytes   uint64        `json:"bytes" yaml:"bytes"`
}

// Stats counts records and bytes per type. Counts go to the pipeline
// metrics when a registry is configured and are always kept for Snapshot.
type Stats struct {
	pipeline string
	metrics  *metric.Metrics

	mu     sync.Mutex
	byType map[ringitem.Type]*TypeStats
}

// NewStats returns counters labelled with the pipeline name.
func NewStats(pipeline string, reg *metric.MetricsRegistry) *Stats {
	return &Stats{
		pipeline: pipeline,
		metrics:  reg.Core(),
		byType:   make(map[ringitem.Type]*TypeStats),
	}
}

// Observe counts it.
func (s *Stats) Observe(it *ringitem.Item) {
	size := uint64(it.Size())
	s.mu.Lock()
	ts, ok := s.byType[it.Type]
	if !ok {
		ts = &TypeStats{Type: it.Type, Name: it.Type.String()}
		s.byType[it.Type] = ts
	}
	ts.Records++
	ts.Bytes += size
	s.mu.Unlock()

	if s.metrics != nil {
		name := it.Type.String()
		s.metrics.Records.WithLabelValues(s.pipeline, name).Inc()
		s.metrics.RecordBytes.WithLabelValues(s.pipeline, name).Add(float64(size))
	}
}

// Snapshot returns the counts ordered by type code.
func (s *Stats) Snapshot() []TypeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TypeStats, 0, len(s.byType))
	for _, t := range slices.Sorted(maps.Keys(s.byType)) {
		out = append(out, *s.byType[t])
	}
	return out
}

// Total returns the records and bytes over all types.
func (s *Stats) Total() (records, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.byType {
		records += ts.Records
		bytes += ts.Bytes
	}
	return records, bytes
}
