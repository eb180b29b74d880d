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

package runstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/errors"
	"github.com/daqlab/ringbus/internal/logging"
	"github.com/daqlab/ringbus/internal/ringitem"
)

var t0 = time.Unix(1700000000, 0)

func sc(kind ringitem.Type, run uint32) *ringitem.Item {
	return ringitem.NewStateChange(kind, run, 0, t0, "test run")
}

func TestLegalSequence(t *testing.T) {
	tr := NewTracker(logging.Discard())
	_, ok := tr.Run()
	assert.False(t, ok)

	steps := []struct {
		item *ringitem.Item
		from State
		to   State
	}{
		{sc(ringitem.BeginRun, 7), Idle, Active},
		{ringitem.NewPhysicsEvent([]byte{1, 2}), Active, Active},
		{sc(ringitem.PauseRun, 7), Active, Paused},
		{sc(ringitem.ResumeRun, 7), Paused, Active},
		{sc(ringitem.PauseRun, 7), Active, Paused},
		{sc(ringitem.EndRun, 7), Paused, Idle},
	}
	for i, s := range steps {
		got, err := tr.Observe(s.item)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.from, got.From, "step %d", i)
		assert.Equal(t, s.to, got.To, "step %d", i)
		assert.Equal(t, s.from != s.to, got.Changed(), "step %d", i)
	}

	run, ok := tr.Run()
	require.True(t, ok)
	assert.Equal(t, uint32(7), run.Number)
	assert.Equal(t, "test run", run.Title)
	assert.Equal(t, t0, run.Started)
	assert.False(t, run.Ended.IsZero())
	assert.False(t, run.Abnormal)
}

func TestInvalidTransitionsStillFollowStream(t *testing.T) {
	tests := []struct {
		name  string
		prep  []*ringitem.Item
		item  *ringitem.Item
		after State
	}{
		{"pause while idle", nil, sc(ringitem.PauseRun, 1), Paused},
		{"resume while active", []*ringitem.Item{sc(ringitem.BeginRun, 1)}, sc(ringitem.ResumeRun, 1), Active},
		{"end while idle", nil, sc(ringitem.EndRun, 1), Idle},
		{"begin while active", []*ringitem.Item{sc(ringitem.BeginRun, 1)}, sc(ringitem.BeginRun, 2), Active},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(logging.Discard())
			for _, it := range tt.prep {
				_, err := tr.Observe(it)
				require.NoError(t, err)
			}
			_, err := tr.Observe(tt.item)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, tt.after, tr.State())
		})
	}
}

func TestAbnormalEndFromAnyState(t *testing.T) {
	for _, prep := range [][]*ringitem.Item{
		nil,
		{sc(ringitem.BeginRun, 3)},
		{sc(ringitem.BeginRun, 3), sc(ringitem.PauseRun, 3)},
	} {
		tr := NewTracker(logging.Discard())
		for _, it := range prep {
			_, err := tr.Observe(it)
			require.NoError(t, err)
		}
		got, err := tr.Observe(ringitem.NewAbnormalEnd())
		require.NoError(t, err)
		assert.Equal(t, Idle, got.To)
		assert.Equal(t, Idle, tr.State())
		if len(prep) > 0 {
			run, _ := tr.Run()
			assert.True(t, run.Abnormal)
		}
	}
}

func TestMalformedStateChangeLeavesState(t *testing.T) {
	tr := NewTracker(logging.Discard())
	_, err := tr.Observe(&ringitem.Item{Type: ringitem.BeginRun, Payload: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, ringitem.ErrBadBody)
	assert.Equal(t, Idle, tr.State())
}
