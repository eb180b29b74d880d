//go:build unix

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

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daqlab/ringbus/internal/datasink"
	"github.com/daqlab/ringbus/internal/recorder"
	"github.com/daqlab/ringbus/internal/ringitem"
	"github.com/daqlab/ringbus/internal/transport/shm"
)

// execute runs the root command against ringDir and returns its output.
func execute(t *testing.T, ringDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--ring-dir", ringDir, "--log-level", "ERROR"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func ringName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func writeEventFile(t *testing.T, items ...*ringitem.Item) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.evt")
	f, err := datasink.CreateFile(path)
	require.NoError(t, err)
	for _, it := range items {
		require.NoError(t, f.PutItem(it))
	}
	require.NoError(t, f.Close())
	return path
}

func sampleRun(run uint32) []*ringitem.Item {
	when := time.Unix(1700000000, 0)
	return []*ringitem.Item{
		ringitem.NewStateChange(ringitem.BeginRun, run, 0, when, "cli"),
		ringitem.NewPhysicsEvent([]byte("event one")),
		ringitem.NewScaler(0, time.Second, when, []uint32{1, 2, 3}, true),
		ringitem.NewPhysicsEvent([]byte("event two")),
		ringitem.NewStateChange(ringitem.EndRun, run, 2*time.Second, when, "cli"),
	}
}

func TestCreateStatusRemove(t *testing.T) {
	dir := t.TempDir()
	name := ringName("cli")

	out, err := execute(t, dir, "create", name, "--capacity", "8192")
	require.NoError(t, err)
	assert.Contains(t, out, "Created ring "+name)

	_, err = execute(t, dir, "create", name, "--capacity", "8192")
	assert.ErrorIs(t, err, shm.ErrDuplicateRing)

	out, err = execute(t, dir, "status", name, "--output", "json")
	require.NoError(t, err)
	var states []shm.RingState
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, 1)
	assert.Equal(t, name, states[0].Name)
	assert.Equal(t, uint64(8192), states[0].Capacity)
	assert.Equal(t, uint64(8192), states[0].Free)

	out, err = execute(t, dir, "status", "--output", "text")
	require.NoError(t, err)
	assert.Contains(t, out, name)

	out, err = execute(t, dir, "remove", name)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed ring")
	_, err = os.Stat(filepath.Join(dir, "ringbus_"+name))
	assert.True(t, os.IsNotExist(err))
}

func TestCapacityProbe(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "capacity", ringName("probe"), "--capacity", "65536")
	require.NoError(t, err)
	assert.Contains(t, out, "Size 65536 bytes: OK")
	assert.Contains(t, out, "Filled 65536 bytes before backpressure, 0 free")

	names, err := shm.NewDirectory(shm.DirectoryOptions{Dir: dir}).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCatThenDump(t *testing.T) {
	dir := t.TempDir()
	name := ringName("replay")
	path := writeEventFile(t, sampleRun(3)...)

	out, err := execute(t, dir, "cat", path, "--ring", "ring:///"+name+"?cap=65536")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 5 records")

	out, err = execute(t, dir, "dump", name, "--from-start", "--count", "2", "--types", "PHYSICS_EVENT")
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("PHYSICS_EVENT")))
	assert.NotContains(t, out, "BEGIN_RUN")
}

func TestRecordFromFile(t *testing.T) {
	path := writeEventFile(t, append(sampleRun(7), sampleRun(8)...)...)
	outDir := t.TempDir()

	out, err := execute(t, t.TempDir(), "record", "file://"+path, "--dir", outDir, "--one-shot")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded 1 run(s)")
	assert.FileExists(t, filepath.Join(outDir, recorder.SegmentName(7, 0)))
	assert.FileExists(t, filepath.Join(outDir, recorder.ChecksumName(7)))
	assert.NoFileExists(t, filepath.Join(outDir, recorder.SegmentName(8, 0)))
}

func TestFilterFileToFile(t *testing.T) {
	in := writeEventFile(t, sampleRun(1)...)
	outPath := filepath.Join(t.TempDir(), "out.evt")

	out, err := execute(t, t.TempDir(), "filter", "file://"+in, "file://"+outPath, "--reject", "PERIODIC_SCALERS")
	require.NoError(t, err)
	assert.Contains(t, out, "Forwarded 4 record(s)")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	want := sampleRun(1)
	want = append(want[:2], want[3:]...)
	var expected []byte
	for _, it := range want {
		expected = it.AppendTo(expected)
	}
	assert.Equal(t, expected, data)
}
