package main

import "testing"

func TestImmediateQueueFIFOOrder(t *testing.T) {
	buf := newObjectBuffer(true)
	q := buf.imm
	q.enqueue(1)
	q.enqueue(2)
	q.enqueue(3)
	got := q.drain()
	want := []int32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if q.len() != 0 {
		t.Errorf("queue should be empty after drain, len = %d", q.len())
	}
}

func TestImmediateQueueRecyclesNodes(t *testing.T) {
	buf := newObjectBuffer(true)
	q := buf.imm
	q.enqueue(10)
	q.enqueue(20)
	q.drain()
	if q.free == nil {
		t.Fatal("expected recycled nodes on the free list after drain")
	}
	// A subsequent enqueue should reuse a freed node rather than
	// allocating a new one.
	freeBefore := q.free
	q.enqueue(30)
	if q.free == freeBefore {
		t.Error("enqueue should pop a node off the free list, not leave it untouched")
	}
}

func TestImmediateQueueFlushIsNoOpWhenEmpty(t *testing.T) {
	buf := newObjectBuffer(true)
	buf.imm.flush()
	if buf.tell() != 0 {
		t.Errorf("flushing an empty queue should write nothing, tell() = %d", buf.tell())
	}
}
