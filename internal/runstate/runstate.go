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

// Package runstate follows the run state machine carried by a record
// stream:
//
//	Idle --BEGIN--> Active --PAUSE--> Paused --RESUME--> Active
//	Active|Paused --END--> Idle
//	any --ABNORMAL_END--> Idle
package runstate

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
)

// ErrInvalidTransition is returned for a state change that is not legal in
// the current state. The tracker still follows the stream.
var ErrInvalidTransition = stderrors.New("invalid run state transition")

// State is a run state.
type State int

const (
	Idle State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Run describes the current or last run.
type Run struct {
	Number  uint32
	Title   string
	Started time.Time
	// Ended is zero while the run is in progress.
	Ended    time.Time
	Abnormal bool
}

// Transition is the effect of one observed record.
type Transition struct {
	From, To State
	Type     ringitem.Type
	Run      uint32
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Tracker follows the run state of a record stream. It is safe for
// concurrent use.
type Tracker struct {
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	run    Run
	hasRun bool
}

// NewTracker returns a tracker in the Idle state.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logging.OrDefault(logger).With("component", "runstate")}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run returns the current or last run, and false before the first BEGIN.
func (t *Tracker) Run() (Run, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run, t.hasRun
}

// Observe applies it to the state machine. Records that are not state
// changes leave the state alone.
func (t *Tracker) Observe(it *ringitem.Item) (Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr := Transition{From: t.state, To: t.state, Type: it.Type, Run: t.run.Number}
	if it.Type == ringitem.AbnormalEndRun {
		t.state = Idle
		if t.hasRun && t.run.Ended.IsZero() {
			t.run.Ended = time.Now()
			t.run.Abnormal = true
		}
		tr.To = Idle
		t.logger.Warn("Run ended abnormally", "run", t.run.Number, "from", tr.From.String())
		return tr, nil
	}
	if !it.Type.IsStateChange() {
		return tr, nil
	}

	body, err := ringitem.Decode(it)
	if err != nil {
		return tr, err
	}
	sc, ok := body.(*ringitem.StateChange)
	if !ok {
		return tr, errors.WrapInvalid(ringitem.ErrBadBody, "Tracker", "Observe", "decode "+it.Type.String())
	}
	when := time.Unix(int64(sc.UnixTime), 0)

	var legal bool
	switch it.Type {
	case ringitem.BeginRun:
		legal = t.state == Idle
		t.state = Active
		t.run = Run{Number: sc.Run, Title: sc.Title, Started: when}
		t.hasRun = true
	case ringitem.PauseRun:
		legal = t.state == Active
		t.state = Paused
	case ringitem.ResumeRun:
		legal = t.state == Paused
		t.state = Active
	case ringitem.EndRun:
		legal = t.state != Idle
		t.state = Idle
		if t.hasRun {
			t.run.Ended = when
		}
	}
	tr.To = t.state
	tr.Run = sc.Run

	if !legal {
		t.logger.Warn("Unexpected state change", "type", it.Type.String(), "run", sc.Run, "state", tr.From.String())
		return tr, errors.WrapInvalid(
			fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, it.Type, tr.From),
			"Tracker", "Observe", "apply state change")
	}
	t.logger.Info("Run state changed", "type", it.Type.String(), "run", sc.Run, "from", tr.From.String(), "to", tr.To.String())
	return tr, nil
}
