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

// Package filter moves records from a source to a sink, keeping those that
// pass a chain of filters and counting what went by.
package filter

import (
	"slices"

	"golang.org/x/time/rate"

	"github.com/daqlab/ringbus/internal/ringitem"
)

// Filter decides whether a record continues down the pipeline.
type Filter interface {
	Keep(it *ringitem.Item) bool
}

// Func adapts a function to Filter.
type Func func(it *ringitem.Item) bool

func (f Func) Keep(it *ringitem.Item) bool { return f(it) }

// Sieve selects records by type. An empty Accept list accepts every type;
// Reject wins over Accept.
type Sieve struct {
	Accept []ringitem.Type
	Reject []ringitem.Type
}

func (s Sieve) Keep(it *ringitem.Item) bool {
	if slices.Contains(s.Reject, it.Type) {
		return false
	}
	return len(s.Accept) == 0 || slices.Contains(s.Accept, it.Type)
}

// Sampler passes at most a fixed number of physics events per second.
// Every other record type always passes.
type Sampler struct {
	limiter *rate.Limiter
}

// NewSampler returns a sampler allowing perSecond physics events per second
// with bursts of up to one second's worth. A non-positive rate passes all.
func NewSampler(perSecond float64) *Sampler {
	if perSecond <= 0 {
		return &Sampler{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Sampler{limiter: rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))}
}

func (s *Sampler) Keep(it *ringitem.Item) bool {
	if it.Type != ringitem.PhysicsEventType {
		return true
	}
	return s.limiter.Allow()
}
