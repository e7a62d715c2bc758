package main

import "testing"

func TestFoldUnaryDoubleNegation(t *testing.T) {
	buf := newObjectBuffer(true)
	em := newEmitter(buf, true)
	em.pushImmediate(5)
	if err := em.addOpc(OpUnaryMinus, 0); err != nil {
		t.Fatal(err)
	}
	if err := em.addOpc(OpUnaryMinus, 0); err != nil {
		t.Fatal(err)
	}
	if buf.imm.count != 1 {
		t.Fatalf("expected exactly one immediate still queued, got %d", buf.imm.count)
	}
	if got := buf.imm.head.value; got != 5 {
		t.Errorf("double negation of 5 = %d, want 5", got)
	}
}

func TestFoldBinaryAdd(t *testing.T) {
	buf := newObjectBuffer(true)
	em := newEmitter(buf, true)
	em.pushImmediate(2)
	em.pushImmediate(3)
	if err := em.addOpc(OpAdd, 0); err != nil {
		t.Fatal(err)
	}
	if buf.imm.count != 1 {
		t.Fatalf("expected folding to collapse to one immediate, got %d", buf.imm.count)
	}
	if got := buf.imm.head.value; got != 5 {
		t.Errorf("2+3 folded = %d, want 5", got)
	}
}

func TestFoldBinaryDivideTruncatesTowardZero(t *testing.T) {
	if got := foldBinary(OpDivide, -7, 2); got != -3 {
		t.Errorf("-7/2 = %d, want -3 (truncation toward zero)", got)
	}
	if got := foldBinary(OpModulus, -7, 2); got != -1 {
		t.Errorf("-7%%2 = %d, want -1", got)
	}
}

func TestFoldBinaryDivideByZeroDoesNotPanic(t *testing.T) {
	if got := foldBinary(OpDivide, 5, 0); got != 0 {
		t.Errorf("5/0 folded = %d, want the defined fallback 0", got)
	}
}

func TestDirectOpcodeRewrite(t *testing.T) {
	buf := newObjectBuffer(false)
	em := newEmitter(buf, false)
	if err := em.addOpc(OpDelay, 1); err != nil {
		t.Fatal(err)
	}
	if err := em.addArg(35); err != nil {
		t.Fatal(err)
	}
	out := buf.bytes()
	if int32FromBytes(out[0:4]) != int32(OpDelayDirect) {
		t.Fatalf("expected DELAYDIRECT opcode written, got %d", int32FromBytes(out[0:4]))
	}
	if int32FromBytes(out[4:8]) != 35 {
		t.Errorf("expected the argument 35 inline, got %d", int32FromBytes(out[4:8]))
	}
}

// TestDirectOpcodeRewriteCompressedDirectB exercises the scenario named
// in the spec: a compressed-format DELAY with a byte-sized argument
// collapses to the one-byte DELAYDIRECTB form.
func TestDirectOpcodeRewriteCompressedDirectB(t *testing.T) {
	buf := newObjectBuffer(true)
	em := newEmitter(buf, true)
	if err := em.addOpc(OpDelay, 1); err != nil {
		t.Fatal(err)
	}
	if err := em.addArg(35); err != nil {
		t.Fatal(err)
	}
	out := buf.bytes()
	if out[0] != byte(OpDelayDirectB) {
		t.Fatalf("expected a single-byte DELAYDIRECTB opcode, got %v", out[:1])
	}
	if out[1] != 35 {
		t.Errorf("expected the argument packed as a single byte 35, got %d", out[1])
	}
	if len(out) != 2 {
		t.Errorf("expected a 2-byte instruction (opcode+arg), got %d bytes", len(out))
	}
}

func TestDirectOpcodeRewriteCompressedFallsBackWhenArgTooBig(t *testing.T) {
	buf := newObjectBuffer(true)
	em := newEmitter(buf, true)
	if err := em.addOpc(OpDelay, 1); err != nil {
		t.Fatal(err)
	}
	if err := em.addArg(90000); err != nil {
		t.Fatal(err)
	}
	out := buf.bytes()
	if out[0] != byte(OpDelayDirect) {
		t.Fatalf("expected the 4-byte DELAYDIRECT form when the argument does not fit a byte, got opcode %d", out[0])
	}
}

func TestWritePackedImmediatesRunLengths(t *testing.T) {
	cases := []struct {
		name   string
		values []int32
		wantOp Opcode
	}{
		{"single value", []int32{7}, OpPushByte},
		{"two values", []int32{1, 2}, OpPush2Bytes},
		{"five values", []int32{1, 2, 3, 4, 5}, OpPush5Bytes},
		{"six values uses PUSHBYTES with explicit count", []int32{1, 2, 3, 4, 5, 6}, OpPushBytes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := newObjectBuffer(true)
			writePackedImmediates(buf, tc.values)
			out := buf.bytes()
			if Opcode(out[0]) != tc.wantOp {
				t.Errorf("opcode = %v, want %v", Opcode(out[0]), tc.wantOp)
			}
		})
	}
}

func TestWritePackedImmediatesNonByteBreaksRun(t *testing.T) {
	buf := newObjectBuffer(true)
	writePackedImmediates(buf, []int32{1, 2, 90000, 3})
	out := buf.bytes()
	if Opcode(out[0]) != OpPush2Bytes {
		t.Fatalf("expected the byte-sized run packed first, got opcode %d", out[0])
	}
	// PUSH2BYTES opcode (1) + two value bytes (2) = offset 3 for the next instruction.
	if Opcode(out[3]) != OpPushNumber {
		t.Errorf("expected PUSHNUMBER for the non-byte value, got opcode %d", out[3])
	}
}

func TestWritePackedImmediatesUncompressedAlwaysPushNumber(t *testing.T) {
	buf := newObjectBuffer(false)
	writePackedImmediatesUncompressed(buf, []int32{1, 2, 3})
	out := buf.bytes()
	// Each PUSHNUMBER instruction is opcode(4) + value(4) = 8 bytes.
	if len(out) != 3*8 {
		t.Fatalf("len(out) = %d, want %d", len(out), 3*8)
	}
	for i := 0; i < 3; i++ {
		if int32FromBytes(out[i*8:i*8+4]) != int32(OpPushNumber) {
			t.Errorf("instruction %d opcode = %d, want PUSHNUMBER", i, int32FromBytes(out[i*8:i*8+4]))
		}
	}
}

func TestWritePackedImmediatesUncompressedPacksFullRunOfFour(t *testing.T) {
	buf := newObjectBuffer(false)
	writePackedImmediatesUncompressed(buf, []int32{1, 2, 3, 4})
	out := buf.bytes()
	if int32FromBytes(out[0:4]) != int32(OpPush4Bytes) {
		t.Fatalf("expected a single PUSH4BYTES instruction, got opcode %d", int32FromBytes(out[0:4]))
	}
	if len(out) != 8 {
		t.Fatalf("len(out) = %d, want 8 (4-byte opcode + 4 byte values)", len(out))
	}
	for i, want := range []byte{1, 2, 3, 4} {
		if out[4+i] != want {
			t.Errorf("value byte %d = %d, want %d", i, out[4+i], want)
		}
	}
}

func TestWritePackedImmediatesUncompressedResidualBelowFourIsPushNumber(t *testing.T) {
	buf := newObjectBuffer(false)
	writePackedImmediatesUncompressed(buf, []int32{1, 2, 3, 4, 5})
	out := buf.bytes()
	// First four pack into PUSH4BYTES (8 bytes); the fifth, falling short
	// of another full run, becomes its own PUSHNUMBER (8 bytes).
	if len(out) != 16 {
		t.Fatalf("len(out) = %d, want 16", len(out))
	}
	if int32FromBytes(out[8:12]) != int32(OpPushNumber) {
		t.Errorf("expected PUSHNUMBER for the residual value, got opcode %d", int32FromBytes(out[8:12]))
	}
	if int32FromBytes(out[12:16]) != 5 {
		t.Errorf("expected the residual value 5 inline, got %d", int32FromBytes(out[12:16]))
	}
}

func TestArgWidthForVarManipulationRespectsCompression(t *testing.T) {
	code := VarOpcode(VarOpPush, VarTargetMap)
	if w := argWidthFor(code, 0, true); w != argWidth1 {
		t.Errorf("compressed var-manipulation arg width = %d, want 1", w)
	}
	if w := argWidthFor(code, 0, false); w != argWidth4 {
		t.Errorf("uncompressed var-manipulation arg width = %d, want 4", w)
	}
}

func TestArgWidthForCallFuncRespectsCompression(t *testing.T) {
	if w := argWidthFor(OpCallFunc, 0, true); w != argWidth1 {
		t.Errorf("compressed CALLFUNC arg 0 width = %d, want 1", w)
	}
	if w := argWidthFor(OpCallFunc, 1, true); w != argWidth2 {
		t.Errorf("compressed CALLFUNC arg 1 width = %d, want 2", w)
	}
	if w := argWidthFor(OpCallFunc, 0, false); w != argWidth4 {
		t.Errorf("uncompressed CALLFUNC arg 0 width = %d, want 4", w)
	}
	if w := argWidthFor(OpCallFunc, 1, false); w != argWidth4 {
		t.Errorf("uncompressed CALLFUNC arg 1 width = %d, want 4", w)
	}
}

func TestArgWidthForLspecDirectFirstArgByteWhenCompressed(t *testing.T) {
	if w := argWidthFor(OpLspec3, 0, true); w != argWidth1 {
		t.Errorf("compressed LSPEC3 special-number width = %d, want 1", w)
	}
	if w := argWidthFor(OpLspec3, 1, true); w != argWidth4 {
		t.Errorf("compressed LSPEC3 second argument width = %d, want 4", w)
	}
	if w := argWidthFor(OpLspec3, 0, false); w != argWidth4 {
		t.Errorf("uncompressed LSPEC3 special-number width = %d, want 4", w)
	}
}

func TestWriteOpcodeByteCompressedEscapesPast240(t *testing.T) {
	buf := newObjectBuffer(true)
	writeOpcodeByte(buf, true, opcodeVarBase)
	out := buf.bytes()
	if out[0] != 240 {
		t.Fatalf("expected the escape byte 240 first, got %d", out[0])
	}
	if len(out) != 3 {
		t.Fatalf("expected a 3-byte encoding (escape + 2-byte value), got %d bytes", len(out))
	}
}

func TestWriteOpcodeByteCompressedBelow240IsOneByte(t *testing.T) {
	buf := newObjectBuffer(true)
	writeOpcodeByte(buf, true, OpAdd)
	out := buf.bytes()
	if len(out) != 1 {
		t.Fatalf("expected a 1-byte encoding, got %d bytes", len(out))
	}
	if out[0] != byte(OpAdd) {
		t.Errorf("opcode byte = %d, want %d", out[0], OpAdd)
	}
}

func TestArgWidthForCaseGotoSortedPadsToFourBytes(t *testing.T) {
	buf := newObjectBuffer(false)
	buf.appendByte(0) // misalign the cursor by one byte
	writeArg(buf, false, OpCaseGotoSorted, 0, 7)
	if buf.tell()%4 != 0 {
		t.Errorf("expected 4-byte alignment after the first CASEGOTOSORTED argument, tell() = %d", buf.tell())
	}
}
