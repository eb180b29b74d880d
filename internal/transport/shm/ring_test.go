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
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTwoConsumersIndependentCursors(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 8192)
	p := attachProducer(t, d, name)
	a := attachConsumer(t, d, name)
	b := attachConsumer(t, d, name)

	record := pattern(0, 3000)
	mustPut(t, p, record)

	for _, c := range []*Consumer{a, b} {
		buf := make([]byte, 3000)
		n, err := c.Peek(buf)
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if n != 3000 || !bytes.Equal(buf, record) {
			t.Fatalf("slot %d peeked %d bytes, want the 3000-byte record", c.Slot(), n)
		}
	}

	if err := a.Skip(1000); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	buf := make([]byte, 2000)
	n, err := a.Get(buf, 2000, time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != 2000 || !bytes.Equal(buf, record[1000:]) {
		t.Fatalf("consumer A got %d bytes, want the trailing 2000", n)
	}
	if avail, _ := a.Available(); avail != 0 {
		t.Errorf("consumer A available = %d, want 0", avail)
	}

	avail, err := b.Available()
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if avail != 3000 {
		t.Fatalf("consumer B available = %d, want 3000", avail)
	}
	full := make([]byte, 3000)
	if n, err := b.Get(full, 3000, time.Second); err != nil || n != 3000 || !bytes.Equal(full, record) {
		t.Fatalf("consumer B Get = %d, %v; want the whole record", n, err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	if err := d.Create("x", 4096); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := d.Create("x", 4096)
	if !errors.Is(err, ErrDuplicateRing) {
		t.Fatalf("second Create error = %v, want ErrDuplicateRing", err)
	}
	if !d.Exists("x") {
		t.Fatal("Exists(x) = false after Create")
	}
}

func TestCreateRejectsBadCapacity(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	for _, c := range []uint64{1000, 2048, 5000} {
		if err := d.Create("bad", c); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("Create(cap=%d) error = %v, want ErrInvalidCapacity", c, err)
		}
	}
	if d.Exists("bad") {
		t.Error("a rejected Create left a region behind")
	}
}

func TestRemoveInUse(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	if err := d.Create("x", 4096); err != nil {
		t.Fatal(err)
	}
	c, err := d.AttachConsumer("x")
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Remove("x"); !errors.Is(err, ErrRingInUse) {
		t.Fatalf("Remove with attached consumer = %v, want ErrRingInUse", err)
	}
	if _, err := c.Available(); err != nil {
		t.Fatalf("consumer view disturbed by failed remove: %v", err)
	}

	if err := c.Detach(); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("x"); err != nil {
		t.Fatalf("Remove after detach: %v", err)
	}
	if d.Exists("x") {
		t.Fatal("ring still exists after Remove")
	}
	if err := d.Remove("x"); !errors.Is(err, ErrNoSuchRing) {
		t.Fatalf("Remove of missing ring = %v, want ErrNoSuchRing", err)
	}
}

func TestForceRemoveWakesConsumer(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{ForceRemove: true})
	name := createTestRing(t, d, 4096)
	c := attachConsumer(t, d, name)

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(make([]byte, 16), 16, Forever)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := d.Remove(name); err != nil {
		t.Fatalf("forced Remove: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrRingRemoved) {
			t.Fatalf("blocked Get returned %v, want ErrRingRemoved", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Get was not woken by forced remove")
	}
}

func TestPutBlocksOnSlowConsumer(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	c := attachConsumer(t, d, name)

	mustPut(t, p, pattern(0, 4096))

	start := time.Now()
	ok, err := p.Put([]byte{1}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok {
		t.Fatal("Put overwrote unread data instead of timing out")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("Put returned after %v, before its timeout", elapsed)
	}
	if ok, _ := p.Put([]byte{1}, 0); ok {
		t.Fatal("polling Put succeeded on a full ring")
	}

	done := make(chan error, 1)
	go func() {
		ok, err := p.Put(pattern(4096, 100), Forever)
		if err == nil && !ok {
			err = errors.New("Put returned false with Forever")
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	buf := make([]byte, 200)
	if n, err := c.Get(buf, 200, time.Second); err != nil || n != 200 {
		t.Fatalf("Get = %d, %v", n, err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked Put: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Put did not complete after the consumer drained")
	}
	if got := p.Cursor(); got != 4196 {
		t.Fatalf("producer cursor = %d, want 4196", got)
	}
}

func TestPutWithoutConsumersNeverBlocks(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)

	for i := 0; i < 10; i++ {
		ok, err := p.Put(pattern(i*3000, 3000), 0)
		if err != nil || !ok {
			t.Fatalf("Put #%d = %v, %v", i, ok, err)
		}
	}
}

func TestPutTooLarge(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)

	if _, err := p.Put(make([]byte, 4097), time.Second); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Put(4097) error = %v, want ErrTooLarge", err)
	}
	c := attachConsumer(t, d, name)
	if _, err := c.Get(make([]byte, 8192), 4097, 0); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Get(min=4097) error = %v, want ErrTooLarge", err)
	}
}

func TestGetTimeout(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	c := attachConsumer(t, d, name)

	n, err := c.Get(make([]byte, 10), 10, 30*time.Millisecond)
	if err != nil || n != 0 {
		t.Fatalf("Get on empty ring = %d, %v; want 0, nil", n, err)
	}
	if ok, err := c.WaitFor(1, 0); ok || err != nil {
		t.Fatalf("WaitFor on empty ring = %v, %v", ok, err)
	}
}

func TestPeekIsIdempotent(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	c := attachConsumer(t, d, name)
	mustPut(t, p, pattern(0, 500))

	first := make([]byte, 300)
	second := make([]byte, 300)
	if _, err := c.Peek(first); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Peek(second); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("repeated Peek returned different bytes")
	}
	if c.Cursor() != 0 {
		t.Fatalf("Peek moved the cursor to %d", c.Cursor())
	}
}

func TestSkipRange(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	a := attachConsumer(t, d, name)
	b := attachConsumer(t, d, name)
	mustPut(t, p, pattern(0, 100))

	if err := a.Skip(101); !errors.Is(err, ErrSkipRange) {
		t.Fatalf("Skip past available = %v, want ErrSkipRange", err)
	}
	if err := a.Skip(40); err != nil {
		t.Fatal(err)
	}
	if a.Cursor() != 40 || b.Cursor() != 0 {
		t.Fatalf("cursors after skip = %d, %d; want 40, 0", a.Cursor(), b.Cursor())
	}
	buf := make([]byte, 60)
	if n, _ := a.Get(buf, 60, time.Second); n != 60 || !bytes.Equal(buf, pattern(40, 60)) {
		t.Fatal("bytes after skip differ")
	}
}

func TestWraparound(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	c := attachConsumer(t, d, name)

	offset := 0
	for i := 0; i < 25; i++ {
		size := 700 + i*37
		mustPut(t, p, pattern(offset, size))
		buf := make([]byte, size)
		n, err := c.Get(buf, size, time.Second)
		if err != nil || n != size {
			t.Fatalf("iteration %d: Get = %d, %v", i, n, err)
		}
		if !bytes.Equal(buf, pattern(offset, size)) {
			t.Fatalf("iteration %d: data corrupted across wrap at offset %d", i, offset)
		}
		offset += size
	}
	st, err := p.State()
	if err != nil {
		t.Fatal(err)
	}
	if st.Epoch == 0 || st.ProducerCursor != uint64(offset) {
		t.Fatalf("state after wrap = %+v", st)
	}
}

func TestStreamToPacedConsumers(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 8192)
	p := attachProducer(t, d, name)
	fast := attachConsumer(t, d, name)
	slow := attachConsumer(t, d, name)

	const total = 1 << 20
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	read := func(c *Consumer, chunk int, pause time.Duration) {
		defer wg.Done()
		got := 0
		buf := make([]byte, chunk)
		for got < total {
			n, err := c.Get(buf, 1, time.Second)
			if err != nil {
				errs <- err
				return
			}
			if n == 0 {
				errs <- errors.New("consumer starved")
				return
			}
			if !bytes.Equal(buf[:n], pattern(got, n)) {
				errs <- errors.New("consumer saw bytes out of order")
				return
			}
			got += n
			if pause > 0 {
				time.Sleep(pause)
			}
		}
	}

	wg.Add(3)
	go read(fast, 4096, 0)
	go read(slow, 1000, 50*time.Microsecond)
	go func() {
		defer wg.Done()
		for off := 0; off < total; {
			size := min(1+(off*7)%3000, total-off)
			ok, err := p.Put(pattern(off, size), 5*time.Second)
			if err != nil || !ok {
				errs <- errors.New("producer failed or timed out")
				return
			}
			off += size
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestAttachConsumerFromStartCatchesUp(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)

	for i := 0; i < 3; i++ {
		mustPut(t, p, pattern(i*2000, 2000))
	}

	late := attachConsumer(t, d, name)
	if avail, _ := late.Available(); avail != 0 {
		t.Fatalf("new consumer sees %d old bytes", avail)
	}

	c, err := d.AttachConsumerFromStart(name)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Detach()
	if c.Cursor() != 6000-4096 {
		t.Fatalf("catch-up cursor = %d, want %d", c.Cursor(), 6000-4096)
	}
	buf := make([]byte, 4096)
	if n, err := c.Get(buf, 4096, 0); err != nil || n != 4096 || !bytes.Equal(buf, pattern(6000-4096, 4096)) {
		t.Fatalf("catch-up Get = %d, %v", n, err)
	}
}

func TestProducerExclusive(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	name := createTestRing(t, d, 4096)
	p, err := d.AttachProducer(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.AttachProducer(name); !errors.Is(err, ErrProducerAttached) {
		t.Fatalf("second AttachProducer = %v, want ErrProducerAttached", err)
	}
	if err := p.Detach(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Put([]byte{1}, 0); !errors.Is(err, ErrDetached) {
		t.Fatalf("Put after Detach = %v, want ErrDetached", err)
	}
	p2 := attachProducer(t, d, name)
	mustPut(t, p2, []byte("again"))
}

func TestCreateAndAttachProducer(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	p, err := d.CreateAndAttachProducer("made", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Detach()
	if p.Capacity() != DefaultCapacity {
		t.Fatalf("capacity = %d, want default %d", p.Capacity(), DefaultCapacity)
	}
	if _, err := d.AttachProducer("made"); !errors.Is(err, ErrProducerAttached) {
		t.Fatalf("AttachProducer on claimed ring = %v", err)
	}
}

func TestNoFreeConsumerSlots(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{MaxConsumers: 2})
	name := createTestRing(t, d, 4096)
	attachConsumer(t, d, name)
	c := attachConsumer(t, d, name)
	if _, err := d.AttachConsumer(name); !errors.Is(err, ErrNoFreeConsumerSlots) {
		t.Fatalf("third AttachConsumer = %v, want ErrNoFreeConsumerSlots", err)
	}
	c.Detach()
	attachConsumer(t, d, name)
}

func TestStatAndList(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{})
	for _, n := range []string{"b", "a"} {
		if err := d.Create(n, 4096); err != nil {
			t.Fatal(err)
		}
	}
	names, err := d.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("List = %v", names)
	}

	p := attachProducer(t, d, "a")
	c := attachConsumer(t, d, "a")
	mustPut(t, p, pattern(0, 1000))
	c.Skip(400)

	st, err := d.Stat("a")
	if err != nil {
		t.Fatal(err)
	}
	if !st.ProducerAlive || st.ProducerCursor != 1000 || len(st.Consumers) != 1 {
		t.Fatalf("Stat = %+v", st)
	}
	if st.Consumers[0].Backlog != 600 || st.Free != 4096-600 {
		t.Fatalf("consumer backlog = %d, free = %d", st.Consumers[0].Backlog, st.Free)
	}
	if st.RegionID == "" {
		t.Error("region id not set")
	}
	if blocked, _ := DiagnoseBackpressure(st); blocked {
		t.Error("ring reported as blocked at 15% use")
	}
}

func TestStaleConsumerReclaimed(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{StaleTimeout: 20 * time.Millisecond})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	c := attachConsumer(t, d, name)

	mustPut(t, p, pattern(0, 4096))
	time.Sleep(40 * time.Millisecond)

	ok, err := p.Put([]byte{1}, time.Second)
	if err != nil || !ok {
		t.Fatalf("Put past stale consumer = %v, %v", ok, err)
	}
	if _, err := c.Available(); !errors.Is(err, ErrDetached) {
		t.Fatalf("stale consumer error = %v, want ErrDetached", err)
	}
}

func TestReclaimedSlotNotWrittenByOldHandle(t *testing.T) {
	d := newTestDirectory(t, DirectoryOptions{StaleTimeout: 10 * time.Millisecond, MaxConsumers: 1})
	name := createTestRing(t, d, 4096)
	p := attachProducer(t, d, name)
	stale := attachConsumer(t, d, name)

	mustPut(t, p, pattern(0, 100))
	time.Sleep(30 * time.Millisecond)
	if n, err := d.ReclaimDead(name); err != nil || n != 1 {
		t.Fatalf("ReclaimDead = %d, %v, want 1 slot", n, err)
	}

	next := attachConsumer(t, d, name)
	if next.Slot() != stale.Slot() {
		t.Fatalf("new consumer got slot %d, want reused slot %d", next.Slot(), stale.Slot())
	}
	before := next.Cursor()

	// A cursor store racing the reclaim must not land in the new owner's slot.
	if err := stale.advance(50); !errors.Is(err, ErrDetached) {
		t.Fatalf("advance on reclaimed slot = %v, want ErrDetached", err)
	}
	if err := stale.Skip(50); !errors.Is(err, ErrDetached) {
		t.Fatalf("Skip on reclaimed slot = %v, want ErrDetached", err)
	}
	if got := next.Cursor(); got != before {
		t.Fatalf("new consumer cursor = %d, want %d", got, before)
	}
	if avail, err := next.Available(); err != nil || avail != 0 {
		t.Fatalf("new consumer Available = %d, %v, want 0", avail, err)
	}
}
