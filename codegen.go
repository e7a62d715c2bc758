package main

// Generate runs the full code-generation pipeline over lib and returns
// the finished object file bytes: index allocation, then instruction
// emission for every script and function body, then chunk assembly.
// It is the single public entry point, shaped like the teacher's
// CompileFlap — but unlike CompileFlap it never recovers a panic,
// because every stage below it reports failure through an ordinary
// returned error (§9's "replace non-local jumps with a dedicated result
// type").
func Generate(lib *Library) ([]byte, error) {
	markStringUsage(lib)

	if err := allocMapVars(lib); err != nil {
		return nil, err
	}
	if err := allocFuncs(lib, lib.Format); err != nil {
		return nil, err
	}

	buf := newObjectBuffer(lib.Format.Compressed())
	em := newEmitter(buf, lib.Format.Compressed())

	buf.appendBytes([]byte(lib.Format.Magic()))
	buf.appendZeroInt32() // patched by chunkWriter.Write once the directory offset is known

	for _, f := range lib.Funcs {
		allocFuncLocals(f)
		if f.Impl == nil || f.Impl.Body == nil {
			continue
		}
		f.Impl.NestedCalls = collectNestedCalls(f.Impl.Body)
		assignNestedCallIDs(f.Impl.NestedCalls)
		f.Impl.ObjPos = buf.tell()
		bc := &bodyCompiler{em: em, buf: buf}
		if err := bc.compileStatement(f.Impl.Body); err != nil {
			return nil, err
		}
		em.buf.imm.flush()
	}

	for _, s := range lib.Scripts {
		allocScriptLocals(s)
		nested := collectNestedCalls(s.Body)
		assignNestedCallIDs(nested)
		s.Offset = buf.tell()
		bc := &bodyCompiler{em: em, buf: buf}
		if s.Body != nil {
			if err := bc.compileStatement(s.Body); err != nil {
				return nil, err
			}
		}
		em.buf.imm.flush()
	}

	w := newChunkWriter(buf, lib)
	return w.Write()
}
