package main

// Queued literal pushes waiting to be packed into PUSHBYTE/PUSH*BYTES/
// PUSHNUMBER instructions. The original obj.c backs this with a singly
// linked free list (add_immediate/remove_immediate) so repeated
// enqueue/dequeue cycles never call malloc in the compiler's hot path.
// Go's allocator and GC make that optimization unnecessary, but the
// queue keeps the same enqueue/drain shape so the packing logic in
// emitter.go reads the same way the original's push_immediate does.

type immediateNode struct {
	value int32
	next  *immediateNode
}

type immediateQueue struct {
	head, tail *immediateNode
	free       *immediateNode
	count      int
	buf        *objectBuffer
}

func newImmediateQueue(buf *objectBuffer) *immediateQueue {
	return &immediateQueue{buf: buf}
}

func (q *immediateQueue) alloc(v int32) *immediateNode {
	if q.free != nil {
		n := q.free
		q.free = n.next
		n.value = v
		n.next = nil
		return n
	}
	return &immediateNode{value: v}
}

// enqueue defers a literal push (add_immediate).
func (q *immediateQueue) enqueue(v int32) {
	n := q.alloc(v)
	if q.tail == nil {
		q.head, q.tail = n, n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.count++
}

// len reports how many pushes are currently queued.
func (q *immediateQueue) len() int {
	return q.count
}

// drain removes and returns every queued value in FIFO order, recycling
// the backing nodes onto the free list (remove_immediate).
func (q *immediateQueue) drain() []int32 {
	if q.count == 0 {
		return nil
	}
	out := make([]int32, 0, q.count)
	for n := q.head; n != nil; {
		out = append(out, n.value)
		next := n.next
		n.next = q.free
		q.free = n
		n = next
	}
	q.head, q.tail, q.count = nil, nil, 0
	return out
}

// flush drains the queue and writes the packed push instructions for it
// to the owning buffer (§4.2.5). It is a no-op when nothing is queued.
func (q *immediateQueue) flush() {
	if q.count == 0 {
		return
	}
	values := q.drain()
	if q.buf.compressed {
		writePackedImmediates(q.buf, values)
	} else {
		writePackedImmediatesUncompressed(q.buf, values)
	}
}
