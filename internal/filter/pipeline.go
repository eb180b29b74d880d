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
	"context"
	stderrors "errors"
	"io"
	"log/slog"

	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/metric"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/runstate"
)

// Pipeline reads records, applies Filters and writes survivors to Sink.
//
// A record whose body fails typed decoding is logged and skipped. A framing
// error ends the run with an error, since the stream cannot be resynced.
// ABNORMAL_END is forwarded and then ends the run without error.
type Pipeline struct {
	Name    string
	Reader  *ringitem.Reader
	Sink    datasink.Sink
	Filters []Filter
	// Stats counts every record read. Optional.
	Stats *Stats
	// Tracker follows run state. Optional.
	Tracker *runstate.Tracker
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger

	forwarded uint64
	skipped   uint64
}

// Forwarded returns the records written to the sink.
func (p *Pipeline) Forwarded() uint64 { return p.forwarded }

// Skipped returns the records dropped for a malformed body.
func (p *Pipeline) Skipped() uint64 { return p.skipped }

// Run moves records until the source ends, ctx is done or an ABNORMAL_END
// went by.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := logging.OrDefault(p.Logger).With("component", "pipeline", "pipeline", p.Name)
	metrics := p.Metrics.Core()

	for {
		if ctx.Err() != nil {
			return nil
		}
		it, err := p.Reader.Next()
		switch {
		case err == nil:
		case stderrors.Is(err, errors.ErrWouldBlock):
			continue
		case stderrors.Is(err, io.EOF):
			logger.Info("Source ended", "forwarded", p.forwarded, "skipped", p.skipped)
			return nil
		case errors.IsInvalid(err):
			return errors.WrapFatal(err, "Pipeline", "Run", "read record")
		default:
			return err
		}

		if p.Stats != nil {
			p.Stats.Observe(it)
		}
		if _, err := ringitem.Decode(it); err != nil {
			p.skipped++
			if metrics != nil {
				metrics.MalformedTotal.WithLabelValues(p.Name).Inc()
			}
			logger.Warn("Skipping malformed record", "type", it.Type.String(), "error", err)
			continue
		}
		if p.Tracker != nil {
			if _, err := p.Tracker.Observe(it); err != nil {
				logger.Debug("Run state", "error", err)
			}
		}

		if p.keep(it) {
			if err := p.put(ctx, it); err != nil {
				return err
			}
			p.forwarded++
		}
		if it.Type == ringitem.AbnormalEndRun {
			logger.Warn("Abnormal end, stopping pipeline", "forwarded", p.forwarded)
			return nil
		}
	}
}

func (p *Pipeline) keep(it *ringitem.Item) bool {
	// Abnormal end is always forwarded so downstream consumers stop too.
	if it.Type == ringitem.AbnormalEndRun {
		return true
	}
	for _, f := range p.Filters {
		if !f.Keep(it) {
			return false
		}
	}
	return true
}

// put retries would-block results until ctx is done.
func (p *Pipeline) put(ctx context.Context, it *ringitem.Item) error {
	for {
		err := p.Sink.PutItem(it)
		if err == nil || !stderrors.Is(err, errors.ErrWouldBlock) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
