package main

import "fmt"

// The chunk writer assembles a finished Library into one ACS object file:
// a small header followed by a fixed sequence of named, length-prefixed
// chunks (§4.3). The emission order below matches the original compiler's
// top-level `c_write_chunk_obj` orchestration exactly — SPTR through
// FARY unconditionally, then MEXP/MSTR/ASTR/ATAG only when the library
// itself is importable.

// scriptVarCountThreshold is the original compiler's literal constant:
// SVCT is only emitted for a script whose local variable count exceeds
// this, since anything at or below it already fits in the SPTR entry's
// own size field.
const scriptVarCountThreshold = 20

// minObjectSize is the smallest file the engine will accept; short files
// are padded with trailing zero bytes rather than rejected.
const minObjectSize = 32

// chunkTag is a 4-byte ASCII chunk identifier.
type chunkTag string

const (
	tagSPTR chunkTag = "SPTR"
	tagSVCT chunkTag = "SVCT"
	tagSFLG chunkTag = "SFLG"
	tagSNAM chunkTag = "SNAM"
	tagFUNC chunkTag = "FUNC"
	tagFNAM chunkTag = "FNAM"
	tagSTRL chunkTag = "STRL"
	tagSTRE chunkTag = "STRE"
	tagMINI chunkTag = "MINI"
	tagARAY chunkTag = "ARAY"
	tagAINI chunkTag = "AINI"
	tagLOAD chunkTag = "LOAD"
	tagMIMP chunkTag = "MIMP"
	tagAIMP chunkTag = "AIMP"
	tagSARY chunkTag = "SARY"
	tagFARY chunkTag = "FARY"
	tagMEXP chunkTag = "MEXP"
	tagMSTR chunkTag = "MSTR"
	tagASTR chunkTag = "ASTR"
	tagATAG chunkTag = "ATAG"
)

// alignedChunks lists the chunks whose payload is zero-padded to a
// 4-byte boundary before the next chunk header begins (§4.3.4): name
// tables, the encrypted string pool, and the two chunks whose payload is
// itself a table of little-endian indices.
var alignedChunks = map[chunkTag]bool{
	tagSNAM: true,
	tagFNAM: true,
	tagSTRE: true,
	tagLOAD: true,
	tagMEXP: true,
}

// chunkWriter assembles a Library into a finished object file.
type chunkWriter struct {
	buf        *objectBuffer
	lib        *Library
	compressed bool
}

func newChunkWriter(buf *objectBuffer, lib *Library) *chunkWriter {
	return &chunkWriter{buf: buf, lib: lib, compressed: lib.Format.Compressed()}
}

// patchChunkOffset backpatches the header's offset field, matching the
// original's write-then-seek-then-restore pattern (write body forward,
// then go back and fill in the header once the true offset is known).
func (w *chunkWriter) patchChunkOffset(offset int) {
	end := w.buf.tell()
	w.buf.seek(4)
	w.buf.appendInt32(int32(offset))
	w.buf.seek(end)
}

func (w *chunkWriter) writeChunk(tag chunkTag, payload []byte) {
	w.buf.appendBytes([]byte(tag))
	w.buf.appendInt32(int32(len(payload)))
	w.buf.appendBytes(payload)
	if alignedChunks[tag] {
		for w.buf.tell()%4 != 0 {
			w.buf.appendByte(0)
		}
	}
}

// Write appends the chunk directory — SPTR through FARY, then the
// MEXP/MSTR/ASTR/ATAG export chunks when the library is importable — to
// a buffer that already holds the 8-byte header and the compiled
// function/script bodies, backpatches the header's directory offset, and
// returns the finished file bytes.
func (w *chunkWriter) Write() ([]byte, error) {
	directoryOffset := w.buf.tell()

	if err := w.writeSPTR(); err != nil {
		return nil, err
	}
	w.writeSVCT()
	w.writeSFLG()
	w.writeSNAM()
	if err := w.writeFUNC(); err != nil {
		return nil, err
	}
	w.writeFNAM()
	w.writeSTRL()
	w.writeMINI()
	w.writeARAY()
	w.writeAINI()
	w.writeLOAD()
	w.writeMIMP()
	w.writeAIMP()
	w.writeSARY()
	w.writeFARY()

	if w.lib.Importable {
		w.writeMEXP()
		w.writeMSTR()
		w.writeASTR()
		w.writeATAG()
	}

	w.patchChunkOffset(directoryOffset)

	out := w.buf.bytes()
	if len(out) < minObjectSize {
		pad := make([]byte, minObjectSize-len(out))
		out = append(out, pad...)
	}
	return out, nil
}

// writeSPTR emits one entry per script: assigned number, byte offset of
// its body, argument count. Negative or zero NumParam/Size never occur in
// a well-formed Script (the semantic analyzer rejects those before
// codegen runs), so this does not re-validate them.
func (w *chunkWriter) writeSPTR() error {
	if len(w.lib.Scripts) == 0 {
		return nil
	}
	var payload objectPayload
	for _, s := range w.lib.Scripts {
		payload.int16(int16(s.AssignedNumber))
		payload.int16(int16(s.Type))
		payload.int32(int32(s.Offset))
		payload.int32(int32(s.NumParam))
	}
	w.writeChunk(tagSPTR, payload.bytes())
	return nil
}

// writeSVCT emits one entry per script whose local variable count exceeds
// scriptVarCountThreshold.
func (w *chunkWriter) writeSVCT() {
	var payload objectPayload
	for _, s := range w.lib.Scripts {
		if s.Size > scriptVarCountThreshold {
			payload.int16(int16(s.AssignedNumber))
			payload.int16(int16(s.Size))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagSVCT, payload.bytes())
}

// writeSFLG emits one entry per script with a non-zero flag set.
func (w *chunkWriter) writeSFLG() {
	var payload objectPayload
	for _, s := range w.lib.Scripts {
		if s.Flags != 0 {
			payload.int16(int16(s.AssignedNumber))
			payload.int16(int16(s.Flags))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagSFLG, payload.bytes())
}

// writeSNAM emits the named-script string table: a count, an offset table,
// then the concatenated NUL-terminated name text of each named script, the
// same [count; offsets[count]; names] shape writeFNAM/writeMEXP use.
func (w *chunkWriter) writeSNAM() {
	var named []*IndexedString
	for _, s := range w.lib.Scripts {
		if s.NamedScript && s.Number != nil {
			if u, ok := s.Number.Root.(*IndexedStringUsage); ok {
				named = append(named, u.String)
			}
		}
	}
	if len(named) == 0 {
		return
	}
	var payload objectPayload
	payload.int32(int32(len(named)))
	offsets := make([]int32, 0, len(named))
	var names objectPayload
	for _, s := range named {
		offsets = append(offsets, int32(4+4*len(named)+names.len()))
		names.cstring(s.Value)
	}
	for _, off := range offsets {
		payload.int32(off)
	}
	payload.raw(names.bytes())
	w.writeChunk(tagSNAM, payload.bytes())
}

// writeFUNC emits one fixed-size entry per function index this library
// assigned (§4.1.2): every imported function it actually calls first,
// each with its real parameter count but size and offset forced to zero
// since the body lives in the exporting library's own object, then this
// library's own visible functions with their real parameter count,
// local-size high-water mark (excluding param slots), and body offset.
func (w *chunkWriter) writeFUNC() error {
	imported := importedUsedFuncs(w.lib)
	local := visibleLocalFuncs(w.lib)
	if len(imported)+len(local) == 0 {
		return nil
	}
	var payload objectPayload
	for _, f := range imported {
		payload.byte1(byte(f.TotalParamSize()))
		payload.byte1(0) // size and offset are zeroed for an imported entry
		payload.byte1(byte(boolInt(f.ReturnSpec != SpecVoid)))
		payload.byte1(0) // reserved, matches the original's padding byte
		payload.int32(0)
	}
	for _, f := range local {
		if f.Impl == nil {
			return fmt.Errorf("chunk: function %q missing codegen metadata", f.Name.Value)
		}
		params := f.TotalParamSize()
		payload.byte1(byte(params))
		payload.byte1(byte(f.Impl.Size - params))
		payload.byte1(byte(boolInt(f.ReturnSpec != SpecVoid)))
		payload.byte1(0) // reserved, matches the original's padding byte
		payload.int32(int32(f.Impl.ObjPos))
	}
	w.writeChunk(tagFUNC, payload.bytes())
	return nil
}

// writeFNAM emits the function name table for the same [imported, local]
// sequence writeFUNC uses, so entry N of FNAM always names entry N of
// FUNC.
func (w *chunkWriter) writeFNAM() {
	imported := importedUsedFuncs(w.lib)
	local := visibleLocalFuncs(w.lib)
	total := len(imported) + len(local)
	if total == 0 {
		return
	}
	var payload objectPayload
	payload.int32(int32(total))
	offsets := make([]int32, 0, total)
	var names objectPayload
	for _, f := range imported {
		offsets = append(offsets, int32(4+4*total+names.len()))
		names.cstring(f.Name.Value)
	}
	for _, f := range local {
		offsets = append(offsets, int32(4+4*total+names.len()))
		names.cstring(f.Name.Value)
	}
	for _, off := range offsets {
		payload.int32(off)
	}
	payload.raw(names.bytes())
	w.writeChunk(tagFNAM, payload.bytes())
}

// writeSTRL emits the library's string pool, encrypted in place with STRE
// when Library.EncryptStr is set (in which case the chunk tag itself is
// STRE rather than STRL — the two are the same payload shape, the tag is
// how the engine knows to decrypt on load).
func (w *chunkWriter) writeSTRL() {
	var used []*IndexedString
	for _, s := range w.lib.Strings {
		if s.Used {
			used = append(used, s)
		}
	}
	if len(used) == 0 {
		return
	}

	var table objectPayload
	var pool objectPayload
	table.int32(0) // reserved, matches the original's leading zero word
	table.int32(int32(len(used)))
	table.int32(0) // reserved, matches the original's trailing zero word

	base := 12 + 4*len(used)

	offset := 0
	for _, s := range used {
		table.int32(int32(base + offset))
		offset += s.Length + 1
	}

	runningOffset := base
	for _, s := range used {
		raw := append([]byte(s.Value), 0)
		if w.lib.EncryptStr {
			raw = encryptString(raw, runningOffset)
		}
		pool.raw(raw)
		runningOffset += s.Length + 1
	}

	table.raw(pool.bytes())

	tag := tagSTRL
	if w.lib.EncryptStr {
		tag = tagSTRE
	}
	w.writeChunk(tag, table.bytes())
}

// encryptString applies the STRE cipher: cipher[i] = plaintext[i] XOR
// (offset*157135 + i/2), where offset starts at the pool's offset-table
// base (12 + 4*count) and accumulates length+1 over strings already
// written to the pool — the same base the offset table itself uses — and
// i ranges over every byte including the trailing NUL.
func encryptString(plain []byte, offset int) []byte {
	out := make([]byte, len(plain))
	for i, b := range plain {
		key := byte(offset*157135 + i/2)
		out[i] = b ^ key
	}
	return out
}

// decryptString reverses encryptString; XOR is its own inverse, so this
// is the same transform applied again.
func decryptString(cipher []byte, offset int) []byte {
	return encryptString(cipher, offset)
}

func (w *chunkWriter) writeMINI() {
	var payload objectPayload
	for _, v := range w.lib.Vars {
		if v.Storage != StorageMap || v.IsArray() || v.Value == nil {
			continue
		}
		if v.Value.Expr.Value != nil && *v.Value.Expr.Value == 0 {
			continue
		}
		payload.int32(int32(v.Index))
		if v.Value.Expr.Value != nil {
			payload.int32(int32(*v.Value.Expr.Value))
		} else {
			payload.int32(0)
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagMINI, payload.bytes())
}

func (w *chunkWriter) writeARAY() {
	var payload objectPayload
	for _, v := range w.lib.Vars {
		if v.Storage != StorageMap || !v.IsArray() || v.Hidden {
			continue
		}
		payload.int32(int32(v.Index))
		payload.int32(int32(v.Size))
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagARAY, payload.bytes())
}

// writeAINI emits one array's sparse initializer chain: the variable's
// index, followed by one value per cell up to one past the highest
// initialized index, zero-filling the gaps between initializers the way
// the original's do_aini_single does. A StringInitz entry spreads its
// string's character codes across as many consecutive cells as the
// string is long, rather than contributing a single value.
func (w *chunkWriter) writeAINI() {
	for _, v := range w.lib.Vars {
		if v.Storage != StorageMap || !v.IsArray() || v.Value == nil {
			continue
		}
		count := 0
		for val := v.Value; val != nil; val = val.Next {
			if val.StringInitz {
				if usage, ok := val.Expr.Root.(*IndexedStringUsage); ok {
					count = val.Index + usage.String.Length
				}
			} else if val.Expr.Value != nil && *val.Expr.Value != 0 {
				count = val.Index + 1
			}
		}
		if count == 0 {
			continue
		}
		var payload objectPayload
		payload.int32(int32(v.Index))
		written := 0
		for val := v.Value; val != nil; val = val.Next {
			nonzero := val.StringInitz || (val.Expr.Value != nil && *val.Expr.Value != 0)
			if written < val.Index && nonzero {
				for k := val.Index - written; k > 0; k-- {
					payload.int32(0)
				}
				written = val.Index
			}
			if val.StringInitz {
				if usage, ok := val.Expr.Root.(*IndexedStringUsage); ok {
					for _, ch := range []byte(usage.String.Value) {
						payload.int32(int32(ch))
					}
					written += usage.String.Length
				}
			} else if val.Expr.Value != nil && *val.Expr.Value != 0 {
				payload.int32(int32(*val.Expr.Value))
				written++
			}
		}
		w.writeChunk(tagAINI, payload.bytes())
	}
}

// writeLOAD emits the name of every imported library that is not
// compile-time-only, even one contributing zero MIMP/AIMP entries — the
// original compiler filters LOAD only on the compile-time bit, never on
// whether any of a library's vars ended up used.
func (w *chunkWriter) writeLOAD() {
	var names objectPayload
	for _, lib := range w.lib.Imports {
		if lib.CompileTime {
			continue
		}
		names.cstring(lib.Name.Value)
	}
	if names.len() == 0 {
		return
	}
	w.writeChunk(tagLOAD, names.bytes())
}

// writeMIMP emits one entry per imported scalar variable actually used,
// across every non-compile-time-only imported library.
func (w *chunkWriter) writeMIMP() {
	var payload objectPayload
	for _, lib := range w.lib.Imports {
		if lib.CompileTime {
			continue
		}
		for _, v := range lib.Vars {
			if v.Storage != StorageMap || v.IsArray() || !v.Used {
				continue
			}
			payload.int32(int32(v.Index))
			payload.cstring(v.Name.Value)
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagMIMP, payload.bytes())
}

// writeAIMP mirrors writeMIMP for array variables, additionally recording
// each array's element count. It skips the first entry of
// Library.Libraries the way the original's aimp_array does (index 0 is
// always the compiling library itself, never an import).
func (w *chunkWriter) writeAIMP() {
	var payload objectPayload
	count := 0
	var body objectPayload
	for _, lib := range w.lib.Imports {
		if lib.CompileTime {
			continue
		}
		for _, v := range lib.Vars {
			if v.Storage != StorageMap || !v.IsArray() || !v.Used {
				continue
			}
			body.int32(int32(v.Index))
			body.int32(int32(v.Size))
			body.cstring(v.Name.Value)
			count++
		}
	}
	if count == 0 {
		return
	}
	payload.int32(int32(count))
	payload.raw(body.bytes())
	w.writeChunk(tagAIMP, payload.bytes())
}

func (w *chunkWriter) writeSARY() {
	var payload objectPayload
	for _, s := range w.lib.Scripts {
		for _, v := range s.Vars {
			if !v.IsArray() {
				continue
			}
			payload.int16(int16(s.AssignedNumber))
			payload.int16(int16(v.Index))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagSARY, payload.bytes())
}

func (w *chunkWriter) writeFARY() {
	var payload objectPayload
	for _, f := range w.lib.Funcs {
		if f.Impl == nil {
			continue
		}
		for _, v := range f.Impl.Vars {
			if !v.IsArray() {
				continue
			}
			payload.int16(int16(f.Impl.Index))
			payload.int16(int16(v.Index))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagFARY, payload.bytes())
}

// writeMEXP emits the list of this library's own exported (importable)
// map variable names — a count, an offset table, and the concatenated
// NUL-terminated names, in the §4.1.1 bucket order (arrays, zero-init
// scalars, non-zero-init scalars) — only reached when Library.Importable
// is set.
func (w *chunkWriter) writeMEXP() {
	exported := exportedMapVarOrder(w.lib)
	if len(exported) == 0 {
		return
	}
	var payload objectPayload
	payload.int32(int32(len(exported)))
	offsets := make([]int32, 0, len(exported))
	var names objectPayload
	for _, v := range exported {
		offsets = append(offsets, int32(4+4*len(exported)+names.len()))
		names.cstring(v.Name.Value)
	}
	for _, off := range offsets {
		payload.int32(off)
	}
	payload.raw(names.bytes())
	w.writeChunk(tagMEXP, payload.bytes())
}

func (w *chunkWriter) writeMSTR() {
	var payload objectPayload
	for _, v := range exportedMapVarOrder(w.lib) {
		if !v.IsArray() && v.InitialHasStr {
			payload.int32(int32(v.Index))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagMSTR, payload.bytes())
}

func (w *chunkWriter) writeASTR() {
	var payload objectPayload
	for _, v := range exportedMapVarOrder(w.lib) {
		if v.IsArray() && v.InitialHasStr {
			payload.int32(int32(v.Index))
		}
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagASTR, payload.bytes())
}

// writeATAG emits, for every exported array or structure variable that
// carries at least one string-tagged element, a version byte, the
// variable's index, and one tag byte (TAG_INTEGER=0, TAG_STRING=1) per
// slot up to one past the highest tagged index (§4.3.2). Plain arrays
// derive their tags from the initializer value chain's StringInitz bit;
// structure-typed vars derive them from their declared member shape, the
// same way the original aggregate-export walk does.
func (w *chunkWriter) writeATAG() {
	var payload objectPayload
	for _, v := range exportedMapVarOrder(w.lib) {
		tags := stringTagsFor(v)
		if len(tags) == 0 {
			continue
		}
		payload.byte1(0) // version
		payload.int32(int32(v.Index))
		payload.raw(tags)
	}
	if payload.len() == 0 {
		return
	}
	w.writeChunk(tagATAG, payload.bytes())
}

func stringTagsFor(v *Var) []byte {
	if v.Structure != nil {
		tags := make([]byte, len(v.Structure.Members))
		for i, m := range v.Structure.Members {
			if m.Dim == nil {
				tags[i] = 1
			}
		}
		return tags
	}
	if !v.IsArray() {
		return nil
	}
	maxIdx := -1
	for val := v.Value; val != nil; val = val.Next {
		if val.StringInitz && val.Index > maxIdx {
			maxIdx = val.Index
		}
	}
	if maxIdx < 0 {
		return nil
	}
	tags := make([]byte, maxIdx+1)
	for val := v.Value; val != nil; val = val.Next {
		if val.StringInitz {
			tags[val.Index] = 1
		}
	}
	return tags
}

// objectPayload is a small little-endian byte builder used to assemble a
// chunk's payload before its length is known.
type objectPayload struct {
	data []byte
}

func (p *objectPayload) byte1(b byte) { p.data = append(p.data, b) }

func (p *objectPayload) int16(v int16) {
	p.data = append(p.data, byte(v), byte(v>>8))
}

func (p *objectPayload) int32(v int32) {
	p.data = append(p.data, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (p *objectPayload) cstring(s string) {
	p.data = append(p.data, []byte(s)...)
	p.data = append(p.data, 0)
}

func (p *objectPayload) raw(b []byte) { p.data = append(p.data, b...) }

func (p *objectPayload) len() int { return len(p.data) }

func (p *objectPayload) bytes() []byte { return p.data }
