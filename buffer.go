package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// pageSize mirrors BUFFER_SIZE from the original compiler's obj.c: output
// is accumulated in fixed-size pages linked into a list, rather than one
// ever-growing slice, so seeking back to patch an earlier chunk (the
// header's offset-to-chunks field, for one) never has to reallocate.
const pageSize = 4096

// page is one node in the linked list of fixed-size output buffers.
type page struct {
	data []byte
	used int
	next *page
}

// objectBuffer is the paged byte buffer the emitter and chunk writer both
// write through. It supports tell/seek/seekEnd/flush with the same
// semantics as the original obj.c: seeking never truncates, it only moves
// the write cursor, so a later seekEnd resumes appending after whatever
// was already written past the seek point.
type objectBuffer struct {
	pages      *page
	cur        *page
	curPos     int // index of cur within the page list, counted in pages
	pos        int // write offset within cur.data
	written    int // high-water mark across the whole buffer, in bytes
	compressed bool

	imm *immediateQueue
}

func newObjectBuffer(compressed bool) *objectBuffer {
	first := &page{data: make([]byte, pageSize)}
	b := &objectBuffer{pages: first, cur: first, compressed: compressed}
	b.imm = newImmediateQueue(b)
	return b
}

// pageAt returns the nth page (0-based), allocating and linking new pages
// as needed — mirroring add_buffer's "extend the list on demand" behavior.
func (b *objectBuffer) pageAt(n int) *page {
	p := b.pages
	for i := 0; i < n; i++ {
		if p.next == nil {
			p.next = &page{data: make([]byte, pageSize)}
		}
		p = p.next
	}
	return p
}

// tell flushes any queued immediates first (they have not been committed
// to the buffer yet) and returns the absolute byte offset of the write
// cursor, matching c_tell.
func (b *objectBuffer) tell() int {
	b.imm.flush()
	return b.curPos*pageSize + b.pos
}

// seek moves the write cursor to an absolute byte offset without flushing
// queued immediates (matching c_seek — callers that need a flushed offset
// call tell first). It does not extend the buffer; seeking past the
// current high-water mark is a caller error reserved for append-only use
// via seekEnd.
func (b *objectBuffer) seek(offset int) {
	pageIdx := offset / pageSize
	b.cur = b.pageAt(pageIdx)
	b.curPos = pageIdx
	b.pos = offset % pageSize
}

// seekEnd restores the write cursor to the high-water mark, resuming
// append-mode writes after a backpatch via seek.
func (b *objectBuffer) seekEnd() {
	b.seek(b.written)
}

// appendBytes writes raw bytes at the current cursor, extending the
// high-water mark if the cursor is already at the end (matching
// c_add_sized, which both patches in place and appends depending on where
// the cursor currently sits).
func (b *objectBuffer) appendBytes(data []byte) {
	for len(data) > 0 {
		if b.pos == pageSize {
			if b.cur.next == nil {
				b.cur.next = &page{data: make([]byte, pageSize)}
			}
			b.cur = b.cur.next
			b.curPos++
			b.pos = 0
		}
		n := copy(b.cur.data[b.pos:], data)
		b.pos += n
		data = data[n:]
		abs := b.curPos*pageSize + b.pos
		if abs > b.written {
			b.written = abs
		}
	}
}

func (b *objectBuffer) appendByte(v byte) {
	b.appendBytes([]byte{v})
}

func (b *objectBuffer) appendInt16(v int16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(v))
	b.appendBytes(buf[:])
}

func (b *objectBuffer) appendInt32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	b.appendBytes(buf[:])
}

func (b *objectBuffer) appendZeroInt32() {
	b.appendInt32(0)
}

// appendString writes s followed by a single NUL terminator.
func (b *objectBuffer) appendString(s string) {
	b.appendBytes([]byte(s))
	b.appendByte(0)
}

// bytes materializes the full buffer contents up to the high-water mark,
// flushing queued immediates first.
func (b *objectBuffer) bytes() []byte {
	b.imm.flush()
	out := make([]byte, 0, b.written)
	p := b.pages
	remaining := b.written
	for p != nil && remaining > 0 {
		n := remaining
		if n > pageSize {
			n = pageSize
		}
		out = append(out, p.data[:n]...)
		remaining -= n
		p = p.next
	}
	return out
}

// validObjectMagics lists the first four bytes this back end will
// silently overwrite on disk — anything else looks like a file the caller
// did not mean to hand us, and flush refuses to clobber it.
var validObjectMagics = [][]byte{
	[]byte("ACS\x00"),
	[]byte("ACSE"),
	[]byte("ACSe"),
}

// writeObjectFile writes data to path, refusing to overwrite an existing
// file whose first four bytes are not one of the known ACS object
// magics — mirroring c_flush's safety check against clobbering an
// unrelated file that happens to share the output path.
func writeObjectFile(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil {
		if len(existing) < 4 || !matchesKnownMagic(existing[:4]) {
			return fmt.Errorf("refusing to overwrite %s: not a recognized ACS object file", path)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func matchesKnownMagic(head []byte) bool {
	for _, m := range validObjectMagics {
		if bytes.Equal(head, m) {
			return true
		}
	}
	return false
}
