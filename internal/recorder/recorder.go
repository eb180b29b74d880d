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

// Package recorder writes the runs found in a record stream to event files.
//
// Each run goes to files named run-NNNN-SS.evt, where NNNN is the run number
// and SS the segment. A segment is closed and the next one opened before a
// record that would push it past the segment size, so records are never
// split and concatenating a run's segments reproduces its stream. With
// checksums enabled a run-NNNN.sha3 sidecar lists the SHA3-256 of every
// segment and of the whole run.
package recorder

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/metric"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// ErrAbnormalEnd stops a recording after an ABNORMAL_END record. It marks an
// orderly stop, not a failure.
var ErrAbnormalEnd = stderrors.New("run ended abnormally")

// DefaultSegmentSize is used when Options.SegmentSize is not positive.
const DefaultSegmentSize = 1 << 30

// Options configures a Recorder.
type Options struct {
	Dir         string
	SegmentSize int64
	Checksum    bool
	// OneShot stops the recording after the first run ends.
	OneShot bool
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger
}

// SegmentName returns the file name of segment seg of run.
func SegmentName(run uint32, seg int) string {
	return fmt.Sprintf("run-%04d-%02d.evt", run, seg)
}

// ChecksumName returns the checksum sidecar name of run.
func ChecksumName(run uint32) string {
	return fmt.Sprintf("run-%04d.sha3", run)
}

// Recorder writes runs to segment files. It is used from one goroutine.
type Recorder struct {
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics

	inRun    bool
	run      uint32
	seg      int
	cur      *datasink.File
	segHash  hash.Hash
	runHash  hash.Hash
	sums     []string
	files    []string
	finished int
}

// New prepares a recorder writing into opts.Dir.
func New(opts Options) (*Recorder, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Recorder", "New", "create "+opts.Dir)
	}
	return &Recorder{
		opts:    opts,
		logger:  logging.OrDefault(opts.Logger).With("component", "recorder", "dir", opts.Dir),
		metrics: opts.Metrics.Core(),
	}, nil
}

// Files returns the paths of the segments written so far.
func (r *Recorder) Files() []string { return append([]string(nil), r.files...) }

// RunsFinished returns the number of runs closed so far.
func (r *Recorder) RunsFinished() int { return r.finished }

// Run records items from rd until the stream ends, ctx is done, a one-shot
// run finished or an ABNORMAL_END arrived. Would-block results from the
// source are retried.
func (r *Recorder) Run(ctx context.Context, rd *ringitem.Reader) error {
	defer r.Close()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		it, err := rd.Next()
		switch {
		case err == nil:
		case stderrors.Is(err, errors.ErrWouldBlock):
			continue
		case stderrors.Is(err, io.EOF):
			if r.inRun {
				r.logger.Warn("Stream ended inside a run", "run", r.run)
			}
			return nil
		default:
			return err
		}

		done, err := r.Write(it)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Write handles one record. It reports done when a one-shot recording has
// finished, and ErrAbnormalEnd after an ABNORMAL_END.
func (r *Recorder) Write(it *ringitem.Item) (bool, error) {
	switch it.Type {
	case ringitem.BeginRun:
		run, err := runNumber(it)
		if err != nil {
			r.logger.Warn("Dropping unreadable BEGIN_RUN", "error", err)
			return false, nil
		}
		if r.inRun {
			r.logger.Warn("BEGIN_RUN inside a run, closing it", "run", r.run, "next", run)
			if err := r.endRun(); err != nil {
				return false, err
			}
		}
		if err := r.beginRun(run); err != nil {
			return false, err
		}
		return false, r.put(it)

	case ringitem.EndRun:
		if !r.inRun {
			r.logger.Warn("Dropping END_RUN outside a run")
			return false, nil
		}
		if err := r.put(it); err != nil {
			return false, err
		}
		if err := r.endRun(); err != nil {
			return false, err
		}
		return r.opts.OneShot, nil

	case ringitem.AbnormalEndRun:
		if r.inRun {
			if err := r.put(it); err != nil {
				return false, err
			}
			if err := r.endRun(); err != nil {
				return false, err
			}
		}
		r.logger.Warn("Recording stopped by abnormal end")
		return true, ErrAbnormalEnd
	}

	if !r.inRun {
		r.logger.Warn("Dropping record outside a run", "type", it.Type.String())
		return false, nil
	}
	return false, r.put(it)
}

// Close ends any open run.
func (r *Recorder) Close() error {
	if !r.inRun {
		return nil
	}
	return r.endRun()
}

func runNumber(it *ringitem.Item) (uint32, error) {
	body, err := ringitem.Decode(it)
	if err != nil {
		return 0, err
	}
	sc, ok := body.(*ringitem.StateChange)
	if !ok {
		return 0, ringitem.ErrBadBody
	}
	return sc.Run, nil
}

func (r *Recorder) beginRun(run uint32) error {
	r.inRun = true
	r.run = run
	r.seg = 0
	r.sums = nil
	if r.opts.Checksum {
		r.runHash = sha3.New256()
	}
	r.logger.Info("Run started", "run", run)
	return r.openSegment()
}

func (r *Recorder) openSegment() error {
	path := filepath.Join(r.opts.Dir, SegmentName(r.run, r.seg))
	f, err := datasink.CreateFile(path)
	if err != nil {
		return err
	}
	r.cur = f
	r.files = append(r.files, path)
	if r.opts.Checksum {
		r.segHash = sha3.New256()
	}
	if r.metrics != nil {
		r.metrics.SegmentsOpened.Inc()
	}
	r.logger.Debug("Segment opened", "file", path)
	return nil
}

func (r *Recorder) closeSegment() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	if r.opts.Checksum {
		r.sums = append(r.sums, fmt.Sprintf("%s  %s\n",
			hex.EncodeToString(r.segHash.Sum(nil)), filepath.Base(r.cur.Name())))
	}
	r.logger.Debug("Segment closed", "file", r.cur.Name(), "bytes", r.cur.Written())
	r.cur = nil
	return err
}

func (r *Recorder) endRun() error {
	err := r.closeSegment()
	r.inRun = false
	r.finished++
	if r.opts.Checksum {
		if cerr := r.writeChecksums(); err == nil {
			err = cerr
		}
	}
	r.logger.Info("Run finished", "run", r.run, "segments", r.seg+1)
	return err
}

func (r *Recorder) writeChecksums() error {
	var sb strings.Builder
	for _, s := range r.sums {
		sb.WriteString(s)
	}
	fmt.Fprintf(&sb, "%s  %s\n", hex.EncodeToString(r.runHash.Sum(nil)), fmt.Sprintf("run-%04d-*.evt", r.run))
	path := filepath.Join(r.opts.Dir, ChecksumName(r.run))
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.WrapFatal(err, "Recorder", "endRun", "write "+path)
	}
	return nil
}

// put writes one whole record, rolling to a new segment first if it would
// not fit.
func (r *Recorder) put(it *ringitem.Item) error {
	b := it.Encode()
	if r.cur.Written() > 0 && r.cur.Written()+int64(len(b)) > r.opts.SegmentSize {
		if err := r.closeSegment(); err != nil {
			return err
		}
		r.seg++
		if err := r.openSegment(); err != nil {
			return err
		}
	}
	start := time.Now()
	if err := r.cur.Put(b); err != nil {
		return err
	}
	if r.opts.Checksum {
		r.segHash.Write(b)
		r.runHash.Write(b)
	}
	if r.metrics != nil {
		r.metrics.BytesRecorded.Add(float64(len(b)))
	}
	if d := time.Since(start); d > time.Second {
		r.logger.Warn("Slow segment write", "file", r.cur.Name(), "duration", d)
	}
	return nil
}
