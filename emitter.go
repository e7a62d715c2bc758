package main

import "fmt"

// emitter streams instructions into an objectBuffer, applying the local
// optimization ladder described in §4.2: stacking literals into the
// immediate queue, folding unary/binary operations over queued or
// just-emitted immediates, rewriting foldable special/builtin calls into
// their direct forms, and packing queued pushes compactly. The original
// compiler (obj.c: c_add_opc/c_add_arg/write_opc/write_arg) does all of
// this inline against one mutable buffer; we keep the same single-pass
// shape but return errors instead of aborting the whole compile.
type emitter struct {
	buf         *objectBuffer
	compressed  bool
	pendingOp   Opcode
	pendingArgs []int32
	pendingWant int
	haveOpen    bool
}

func newEmitter(buf *objectBuffer, compressed bool) *emitter {
	return &emitter{buf: buf, compressed: compressed}
}

// writeOpcodeByte writes a bare opcode using the compressed two-byte
// escape for codes >= 240 (§4.2.3): a literal 240 byte followed by the
// opcode's value minus 240, packed little-endian over two bytes. In
// uncompressed mode every opcode is a plain 4-byte little-endian value,
// matching write_opc.
func writeOpcodeByte(buf *objectBuffer, compressed bool, code Opcode) {
	if !compressed {
		buf.appendInt32(int32(code))
		return
	}
	if code < 240 {
		buf.appendByte(byte(code))
		return
	}
	buf.appendByte(240)
	buf.appendInt16(int16(code - 240))
}

// addOpc begins a new instruction. want is the opcode's declared argument
// count; the emitter defers the actual write until the arguments arrive
// via addArg (or immediately, for zero-argument opcodes), so constant
// folding and direct-opcode rewriting have a chance to collapse the whole
// instruction first — mirroring c_add_opc.
func (e *emitter) addOpc(code Opcode, wantArgs int) error {
	if e.haveOpen {
		return fmt.Errorf("emitter: addOpc called with an instruction already open")
	}
	if isStackingOpcode(code) {
		return fmt.Errorf("emitter: %v is a stacking opcode, use pushImmediate", code)
	}

	if isUnaryFoldable(code) && e.tryFoldUnary(code) {
		return nil
	}
	if isBinaryFoldable(code) && e.tryFoldBinary(code) {
		return nil
	}

	e.haveOpen = true
	e.pendingOp = code
	e.pendingWant = wantArgs
	e.pendingArgs = e.pendingArgs[:0]
	if wantArgs == 0 {
		return e.flushPending()
	}
	return nil
}

// addArg supplies one argument to the instruction opened by addOpc.
func (e *emitter) addArg(v int32) error {
	if !e.haveOpen {
		return fmt.Errorf("emitter: addArg called with no instruction open")
	}
	e.pendingArgs = append(e.pendingArgs, v)
	if len(e.pendingArgs) == e.pendingWant {
		return e.flushPending()
	}
	return nil
}

// flushPending applies the direct-opcode rewrite (§4.2.2 step 4) if one
// exists for the pending instruction, then writes the (possibly
// rewritten) opcode and its arguments.
func (e *emitter) flushPending() error {
	code := e.pendingOp
	args := e.pendingArgs
	e.haveOpen = false

	if entry, ok := lookupDirect(code); ok && len(args) == entry.count {
		return e.writeDirect(entry, args)
	}

	e.buf.imm.flush()
	writeOpcodeByte(e.buf, e.compressed, code)
	for i, v := range args {
		writeArg(e.buf, e.compressed, code, i, v)
	}
	return nil
}

// writeDirect rewrites a special/builtin call opcode to its -DIRECT or
// -DIRECTB form when every argument is already a known immediate and fits
// the direct form's constraints (the direct form folds the arguments into
// the instruction stream itself, in place of separate push instructions).
// Compressed mode prefers -DIRECTB (one byte per argument) when every
// argument is byte-sized; otherwise it falls back to -DIRECT, matching
// c_add_opc's DIRECTB branch. Argument widths go through the same
// argWidthFor classification writeArg uses, so an LSPEC{n}DIRECT's
// leading special-number argument still gets its one-byte compressed
// width (§4.2.4) even though this path never goes through writeArg's
// non-direct caller.
func (e *emitter) writeDirect(entry directTableEntry, args []int32) error {
	e.buf.imm.flush()

	direct := entry.direct
	if e.compressed && entry.directB != OpNone && allByteValues(args) {
		direct = entry.directB
	}

	writeOpcodeByte(e.buf, e.compressed, direct)
	if direct == entry.directB {
		for _, v := range args {
			e.buf.appendByte(byte(v))
		}
		return nil
	}
	for i, v := range args {
		writeArg(e.buf, e.compressed, direct, i, v)
	}
	return nil
}

func allByteValues(args []int32) bool {
	for _, v := range args {
		if !isByteValue(v) {
			return false
		}
	}
	return true
}

// isByteValue matches is_byte_value: values are compared as unsigned, so
// negative numbers are never byte values even though they fit in 32 bits.
func isByteValue(v int32) bool {
	return uint32(v) <= 255
}

// pushImmediate defers a literal push; it does not write anything until
// the queue is flushed by the next non-stacking instruction, by tell(),
// or by an explicit flush at the end of a script/function body.
func (e *emitter) pushImmediate(v int32) {
	e.buf.imm.enqueue(v)
}

// writePackedImmediates writes the queued literal pushes, choosing the
// most compact encoding available in the active format (§4.2.5).
// Compressed mode packs runs of byte-sized values into PUSHBYTE (1 value),
// PUSH2BYTES..PUSH5BYTES (2-5 values), or PUSHBYTES (a run of more than 5,
// prefixed with an explicit count byte); any value that does not fit in a
// byte breaks the run and is written as a standalone PUSHNUMBER.
// Uncompressed mode has no byte-packed forms at all: every value is its
// own PUSHNUMBER instruction.
func writePackedImmediates(buf *objectBuffer, values []int32) {
	i := 0
	for i < len(values) {
		if !isByteValue(values[i]) {
			writeOpcodeByte(buf, true, OpPushNumber)
			buf.appendInt32(values[i])
			i++
			continue
		}
		run := 1
		for i+run < len(values) && run < 255 && isByteValue(values[i+run]) {
			run++
		}
		switch {
		case run == 1:
			writeOpcodeByte(buf, true, OpPushByte)
			buf.appendByte(byte(values[i]))
		case run >= 2 && run <= 5:
			op := []Opcode{OpPush2Bytes, OpPush3Bytes, OpPush4Bytes, OpPush5Bytes}[run-2]
			writeOpcodeByte(buf, true, op)
			for k := 0; k < run; k++ {
				buf.appendByte(byte(values[i+k]))
			}
		default:
			writeOpcodeByte(buf, true, OpPushBytes)
			buf.appendByte(byte(run))
			for k := 0; k < run; k++ {
				buf.appendByte(byte(values[i+k]))
			}
		}
		i += run
	}
}

// writePackedImmediatesUncompressed is the BigE-format counterpart: the
// only byte-packed push form available is PUSH4BYTES, so a run of exactly
// four consecutive byte-sized values packs into one PUSH4BYTES
// instruction; anything shorter than a full run of four, or any
// non-byte-sized value, falls through to its own PUSHNUMBER (§4.2.5).
func writePackedImmediatesUncompressed(buf *objectBuffer, values []int32) {
	i := 0
	for i < len(values) {
		if isByteValue(values[i]) {
			run := 1
			for i+run < len(values) && run < 4 && isByteValue(values[i+run]) {
				run++
			}
			if run == 4 {
				writeOpcodeByte(buf, false, OpPush4Bytes)
				for k := 0; k < 4; k++ {
					buf.appendByte(byte(values[i+k]))
				}
				i += 4
				continue
			}
		}
		writeOpcodeByte(buf, false, OpPushNumber)
		buf.appendInt32(values[i])
		i++
	}
}

// writeArg writes one already-resolved argument for code at position
// argIndex, applying the per-opcode-group width classification from
// §4.2.4. CASEGOTOSORTED pads to a 4-byte boundary before its first
// argument, since the switch's jump table that follows must itself be
// 4-byte aligned.
func writeArg(buf *objectBuffer, compressed bool, code Opcode, argIndex int, v int32) {
	if code == OpCaseGotoSorted && argIndex == 0 {
		padTo4(buf)
	}
	switch argWidthFor(code, argIndex, compressed) {
	case argWidth1:
		buf.appendByte(byte(v))
	case argWidth2:
		buf.appendInt16(int16(v))
	default:
		buf.appendInt32(v)
	}
}

func padTo4(buf *objectBuffer) {
	for buf.tell()%4 != 0 {
		buf.appendByte(0)
	}
}

// argWidthFor reports how many bytes argument argIndex of code occupies
// (§4.2.4). Variable/array manipulation opcodes and CALL/CALLDISCARD are
// a single byte when compressed and a full 4-byte index otherwise.
// CALLFUNC's compressed form splits its argument count into a single byte
// ahead of a 2-byte function index; uncompressed, both are 4 bytes.
// LSPEC1..5 and their -DIRECT (non-byte) forms write their first argument
// (the special number) as one byte when compressed and leave every other
// argument, in either mode, at 4 bytes. The -DIRECTB family and the
// byte-packed push opcodes are always one byte per argument, since they
// only exist in compressed mode to begin with.
func argWidthFor(code Opcode, argIndex int, compressed bool) argWidth {
	switch {
	case isVarManipulationOpcode(code), code == OpCall, code == OpCallDiscard:
		if compressed {
			return argWidth1
		}
		return argWidth4
	case code == OpCallFunc:
		if !compressed {
			return argWidth4
		}
		if argIndex == 0 {
			return argWidth1
		}
		return argWidth2
	case isLspecDirectBFamily(code):
		return argWidth1
	case isLspecDirectFamily(code):
		if compressed && argIndex == 0 {
			return argWidth1
		}
		return argWidth4
	default:
		return argWidth4
	}
}

func (e *emitter) tryFoldUnary(code Opcode) bool {
	if e.buf.imm.count == 0 {
		return false
	}
	last := e.buf.imm.tail
	v := foldUnary(code, last.value)
	last.value = v
	return true
}

func (e *emitter) tryFoldBinary(code Opcode) bool {
	if e.buf.imm.count < 2 {
		return false
	}
	// Walk to the last two queued nodes.
	var prev, a, b *immediateNode
	for n := e.buf.imm.head; n != nil; n = n.next {
		if n.next == nil {
			b = n
			a = prev
		}
		prev = n
	}
	if a == nil || b == nil {
		return false
	}
	v := foldBinary(code, a.value, b.value)
	a.value = v
	// b was the tail; drop it from the queue and recycle it.
	a.next = nil
	e.buf.imm.tail = a
	b.next = e.buf.imm.free
	e.buf.imm.free = b
	e.buf.imm.count--
	return true
}

// foldUnary applies a unary operator to a compile-time constant, matching
// the original's wrapping 32-bit two's-complement semantics.
func foldUnary(code Opcode, v int32) int32 {
	switch code {
	case OpUnaryMinus:
		return -v
	case OpNegateLogical:
		if v == 0 {
			return 1
		}
		return 0
	case OpNegateBinary:
		return ^v
	}
	return v
}

// foldBinary applies a binary operator to two compile-time constants.
// Division and modulus truncate toward zero, matching Go's native / and %
// operators on signed integers (and the original compiler's C semantics).
func foldBinary(code Opcode, a, b int32) int32 {
	switch code {
	case OpOrLogical:
		return boolInt(a != 0 || b != 0)
	case OpAndLogical:
		return boolInt(a != 0 && b != 0)
	case OpOrBitwise:
		return a | b
	case OpEorBitwise:
		return a ^ b
	case OpAndBitwise:
		return a & b
	case OpEq:
		return boolInt(a == b)
	case OpNe:
		return boolInt(a != b)
	case OpLt:
		return boolInt(a < b)
	case OpLe:
		return boolInt(a <= b)
	case OpGt:
		return boolInt(a > b)
	case OpGe:
		return boolInt(a >= b)
	case OpLShift:
		return a << uint32(b)
	case OpRShift:
		return a >> uint32(b)
	case OpAdd:
		return a + b
	case OpSubtract:
		return a - b
	case OpMultiply:
		return a * b
	case OpDivide:
		if b == 0 {
			return 0
		}
		return a / b
	case OpModulus:
		if b == 0 {
			return 0
		}
		return a % b
	}
	return 0
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
