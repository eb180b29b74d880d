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

package shm

import (
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/daqlab/ringbus/internal/logging"
)

// TestHelperConsumerProcess attaches a consumer and exits without detaching.
// It only runs as a child of the tests below.
func TestHelperConsumerProcess(t *testing.T) {
	dir := os.Getenv("RINGBUS_HELPER_DIR")
	if dir == "" {
		t.Skip("helper process")
	}
	d := NewDirectory(DirectoryOptions{Dir: dir, Logger: logging.Discard()})
	if _, err := d.AttachConsumer(os.Getenv("RINGBUS_HELPER_RING")); err != nil {
		os.Exit(2)
	}
	os.Exit(0)
}

// runDeadConsumer leaves a slot held by a process that has exited.
func runDeadConsumer(t *testing.T, d *Directory, name string) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperConsumerProcess$")
	cmd.Env = append(os.Environ(), "RINGBUS_HELPER_DIR="+d.Dir(), "RINGBUS_HELPER_RING="+name)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("helper process failed: %v\n%s", err, out)
	}
}

func TestDeadConsumerReleasesBackpressure(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{LivenessInterval: 50 * time.Millisecond})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)

	runDeadConsumer(t, d, name)

	st, err := d.Stat(name)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Consumers) != 1 || st.Consumers[0].Alive {
		t.Fatalf("expected one dead consumer slot, got %+v", st.Consumers)
	}

	mustPut(t, p, pattern(0, 4096))
	ok, err := p.Put(pattern(4096, 1000), 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("Put behind dead consumer = %v, %v", ok, err)
	}

	st, _ = d.Stat(name)
	if len(st.Consumers) != 0 {
		t.Fatalf("dead consumer slot not reclaimed: %+v", st.Consumers)
	}
}

func TestReclaimDead(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{MaxConsumers: 1})
	name := createTestRing(t, d, 4096)

	runDeadConsumer(t, d, name)
	n, err := d.ReclaimDead(name)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ReclaimDead = %d, want 1", n)
	}
	attachConsumer(t, d, name)
}

func TestAttachReclaimsDeadSlot(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{MaxConsumers: 1})
	name := createTestRing(t, d, 4096)

	runDeadConsumer(t, d, name)
	attachConsumer(t, d, name)
	if _, err := d.AttachConsumer(name); !errors.Is(err, ErrNoFreeConsumerSlots) {
		t.Fatalf("AttachConsumer with live slot holder = %v", err)
	}
}

func TestRemoveIgnoresDeadAttachments(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	runDeadConsumer(t, d, name)
	if err := d.Remove(name); err != nil {
		t.Fatalf("Remove with only dead attachments: %v", err)
	}
}
