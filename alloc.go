package main

// The index allocator assigns the numeric slots the emitted bytecode
// addresses variables, functions, and call sites by (§4.1). Map variables
// bucket by declared storage/shape into one of seven groups (scalars,
// string-bearing scalars, arrays, and so on), functions get a dense id in
// declaration order, local variables follow the block's nested scoping
// with slot reuse across sibling blocks, and call sites within one
// function body get a dense per-function id. Everything here mirrors the
// original compiler's index.c one for one; only the non-local-jump style
// changes, from abort-via-panic to explicit error returns (§9).

const (
	mapVarBucketCount     = 7
	mapVarBucketLimit     = 128
	funcIndexLimitLittleE = 256
)

// mapVarBucket enumerates the seven index buckets of §4.1.1, in the exact
// order the original allocator (visit_tree) hands out slots: non-hidden
// arrays/aggregates first, then non-hidden scalars split by whether their
// initializer is the constant zero, then the same scalar split again for
// hidden vars (non-zero before zero), then hidden arrays/aggregates, and
// finally every used variable imported from a dynamic library.
type mapVarBucket int

const (
	bucketArray mapVarBucket = iota
	bucketScalarZero
	bucketScalarNonZero
	bucketScalarNonZeroHidden
	bucketScalarZeroHidden
	bucketArrayHidden
	bucketImported
)

// isZeroInit reports whether v's declared initializer is absent or folds
// to the constant 0 — the split §4.1.1 uses to put frequently-touched,
// non-default scalars ahead of ones the engine can leave at their
// zero-filled default.
func isZeroInit(v *Var) bool {
	if v.Value == nil {
		return true
	}
	if v.Value.Expr == nil || v.Value.Expr.Value == nil {
		return false
	}
	return *v.Value.Expr.Value == 0
}

// classifyMapVar assigns a non-hidden, non-imported map var to one of the
// first six §4.1.1 buckets. Imported vars (bucket 7) are handled
// separately in allocMapVars, since they are drawn from other libraries
// rather than from lib.Vars.
func classifyMapVar(v *Var) mapVarBucket {
	switch {
	case v.IsArray() && !v.Hidden:
		return bucketArray
	case v.IsArray() && v.Hidden:
		return bucketArrayHidden
	case !v.Hidden && isZeroInit(v):
		return bucketScalarZero
	case !v.Hidden && !isZeroInit(v):
		return bucketScalarNonZero
	case v.Hidden && !isZeroInit(v):
		return bucketScalarNonZeroHidden
	default:
		return bucketScalarZeroHidden
	}
}

// allocMapVars assigns Index to every map-storage variable lib's own code
// can address — its own declared map vars, bucketed and ordered per
// §4.1.1, followed by every used map var imported from a non-compile-time
// library — out of a single monotonic counter. The ordering matters: MEXP
// and the other chunks that enumerate map vars by bucket (§4.3.2) assume
// this exact sequence.
func allocMapVars(lib *Library) error {
	buckets := make([][]*Var, mapVarBucketCount)
	for _, v := range lib.Vars {
		if v.Storage != StorageMap {
			continue
		}
		buckets[classifyMapVar(v)] = append(buckets[classifyMapVar(v)], v)
	}
	for _, imp := range lib.Imports {
		if imp.CompileTime {
			continue
		}
		for _, v := range imp.Vars {
			if v.Storage == StorageMap && v.Used {
				buckets[bucketImported] = append(buckets[bucketImported], v)
			}
		}
	}

	counter := 0
	for _, vars := range buckets {
		for _, v := range vars {
			v.Index = counter
			counter++
		}
	}
	if counter > mapVarBucketLimit {
		return &LimitError{Resource: "map variable", Limit: mapVarBucketLimit, Got: counter}
	}
	return nil
}

// exportedMapVarOrder returns lib's own non-hidden map vars (arrays,
// zero-init scalars, non-zero-init scalars) in the §4.1.1 bucket order
// MEXP must preserve — the first three buckets only, since hidden and
// imported vars are never exported (§4.3.2's MEXP row).
func exportedMapVarOrder(lib *Library) []*Var {
	buckets := make([][]*Var, 3)
	for _, v := range lib.Vars {
		if v.Storage != StorageMap || v.Hidden {
			continue
		}
		switch classifyMapVar(v) {
		case bucketArray:
			buckets[0] = append(buckets[0], v)
		case bucketScalarZero:
			buckets[1] = append(buckets[1], v)
		case bucketScalarNonZero:
			buckets[2] = append(buckets[2], v)
		}
	}
	var out []*Var
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

// allocFuncs assigns each Func a dense Impl.Index in declaration order.
// LittleE object files address functions with a single byte, so that
// format cannot represent more than 256 functions.
// importedUsedFuncs returns every function imported from a non-compile-
// time-only library whose Impl.Usage bit was set by the body walk, in the
// order its owning library appears in lib.Imports and then declaration
// order within that library — the §4.1.2 "imported functions with usage
// set" bucket.
func importedUsedFuncs(lib *Library) []*Func {
	var out []*Func
	for _, imp := range lib.Imports {
		if imp.CompileTime {
			continue
		}
		for _, f := range imp.Funcs {
			if f.Impl != nil && f.Impl.Usage {
				out = append(out, f)
			}
		}
	}
	return out
}

// visibleLocalFuncs returns lib's own non-hidden functions, in declaration
// order — the §4.1.2 "non-hidden local functions" bucket. Hidden local
// functions (compiler-synthesized helpers never reached through a call
// opcode) are excluded; they keep Impl.Size and the rest of their codegen
// metadata but receive no dense call index.
func visibleLocalFuncs(lib *Library) []*Func {
	var out []*Func
	for _, f := range lib.Funcs {
		if !f.Hidden {
			out = append(out, f)
		}
	}
	return out
}

// allocFuncs assigns each Func a dense Impl.Index: imported, used
// functions first in [0, M), then this library's own non-hidden functions
// in [M, M+L) (§4.1.2). Hidden local functions keep a fresh Impl but their
// Index is left at the -1 sentinel, since nothing in this back end emits a
// call to one.
func allocFuncs(lib *Library, format Format) error {
	for _, f := range lib.Funcs {
		if f.Impl == nil {
			f.Impl = &FuncImpl{}
		}
		f.Impl.Index = -1
	}

	imported := importedUsedFuncs(lib)
	local := visibleLocalFuncs(lib)
	total := len(imported) + len(local)
	if format == FormatLittleE && total > funcIndexLimitLittleE {
		return &LimitError{Resource: "function (compact format)", Limit: funcIndexLimitLittleE, Got: total}
	}

	idx := 0
	for _, f := range imported {
		f.Impl.Index = idx
		idx++
	}
	for _, f := range local {
		f.Impl.Index = idx
		idx++
	}
	return nil
}

// localAllocator assigns slots to local variables within one script or
// function body, following nested-block stack discipline: entering a
// block pushes a mark, declaring a local variable bumps the high-water
// count and pushes a slot, leaving a block pops back to the block's mark
// so sibling blocks reuse the same slot range (visit_block /
// alloc_scriptvar / dealloc_lastscriptvar).
type localAllocator struct {
	next int // next slot to hand out
	peak int // high-water mark, becomes the script/function's Size
	base int // starting slot, non-zero for a nested function's own locals
}

func newLocalAllocator(base int) *localAllocator {
	return &localAllocator{next: base, peak: base, base: base}
}

// mark returns a restore point for the allocator's current slot cursor.
func (a *localAllocator) mark() int {
	return a.next
}

// restore pops back to a previously taken mark, releasing every slot
// allocated since, so the next sibling block starts from the same slot
// range (dealloc_lastscriptvar).
func (a *localAllocator) restore(mark int) {
	a.next = mark
}

// alloc hands out the next slot and bumps the high-water mark
// (alloc_scriptvar).
func (a *localAllocator) alloc() int {
	slot := a.next
	a.next++
	if a.next > a.peak {
		a.peak = a.next
	}
	return slot
}

// allocScriptLocals assigns Index to every Param and locally-declared Var
// reachable in s's body, and sets s.Size to the high-water slot count —
// the original compiler's visit_script plus its nested visit_block walk.
func allocScriptLocals(s *Script) {
	a := newLocalAllocator(0)
	for p := s.Params; p != nil; p = p.Next {
		p.Index = a.alloc()
	}
	allocBlockLocals(s.Body, a)
	for _, nf := range s.NestedFuncs {
		allocNestedFunc(nf, a)
	}
	s.Size = a.peak
}

// allocFuncLocals is the function-body counterpart of allocScriptLocals.
func allocFuncLocals(f *Func) {
	if f.Impl == nil {
		return
	}
	a := newLocalAllocator(0)
	for p := f.Params; p != nil; p = p.Next {
		p.Index = a.alloc()
	}
	allocBlockLocals(f.Impl.Body, a)
	for _, nf := range f.Impl.NestedFuncs {
		allocNestedFunc(nf, a)
	}
	f.Impl.Size = a.peak
}

// allocBlockLocals walks a statement body assigning local slots with
// nested-scope stack discipline: a mark is taken on block entry and
// restored on block exit so that two sibling blocks (an if's then-branch
// and else-branch, for instance) can reuse the same slots without
// inflating the function's peak local count.
func allocBlockLocals(n Node, a *localAllocator) {
	if n == nil {
		return
	}
	switch s := n.(type) {
	case *Block:
		mark := a.mark()
		for _, item := range s.Stmts {
			allocBlockItemLocals(item, a)
		}
		a.restore(mark)
	case *If:
		allocBlockLocals(s.Body, a)
		allocBlockLocals(s.ElseBody, a)
	case *While:
		allocBlockLocals(s.Body, a)
	case *For:
		mark := a.mark()
		for _, init := range s.Init {
			if v, ok := init.(*Var); ok {
				v.Index = a.alloc()
			}
		}
		allocBlockLocals(s.Body, a)
		a.restore(mark)
	case *Switch:
		allocBlockLocals(s.Body, a)
	}
}

func allocBlockItemLocals(n Node, a *localAllocator) {
	switch v := n.(type) {
	case *Var:
		if v.Storage == StorageLocal {
			v.Index = a.alloc()
		}
	case *Func:
		// Nested functions get their own locals allocated separately,
		// offset past the enclosing function's own slot range; handled by
		// allocNestedFunc from the caller once the enclosing body walk is
		// complete, not inline here.
	default:
		allocBlockLocals(n, a)
	}
}

// allocNestedFunc allocates a nested (inner) function's own locals
// starting past the enclosing function's current peak, then restores the
// enclosing allocator's cursor: nested functions get disjoint slot ranges
// from their enclosing scope and from each other, but do not themselves
// inflate the enclosing function's peak beyond where its own locals leave
// off (visit_nested_userfunc's IndexOffset bookkeeping).
func allocNestedFunc(f *Func, enclosing *localAllocator) {
	if f.Impl == nil {
		f.Impl = &FuncImpl{}
	}
	f.Impl.IndexOffset = enclosing.peak
	inner := newLocalAllocator(enclosing.peak)
	for p := f.Params; p != nil; p = p.Next {
		p.Index = inner.alloc()
	}
	allocBlockLocals(f.Impl.Body, inner)
	for _, nf := range f.Impl.NestedFuncs {
		allocNestedFunc(nf, inner)
	}
	f.Impl.Size = inner.peak - enclosing.peak
}

// assignNestedCallIDs gives every Call inside a function or script body a
// dense, per-body NestedCall.ID in the order the calls are first visited,
// used by the emitter to address the temporary holding a builtin's return
// value (assign_nestedcalls_id).
func assignNestedCallIDs(calls []*Call) {
	for i, c := range calls {
		if c.Nested == nil {
			c.Nested = &NestedCall{}
		}
		c.Nested.ID = i
	}
}

// collectNestedCalls walks body and returns every Call node found, in
// visitation order, ready for assignNestedCallIDs.
func collectNestedCalls(body Node) []*Call {
	var calls []*Call
	var walk func(n Node)
	walk = func(n Node) {
		switch s := n.(type) {
		case *Block:
			for _, item := range s.Stmts {
				walk(item)
			}
		case *If:
			walk(s.Body)
			walk(s.ElseBody)
		case *While:
			walk(s.Body)
		case *For:
			for _, init := range s.Init {
				walk(init)
			}
			walk(s.Body)
		case *Switch:
			walk(s.Body)
		case *ExprStmt:
			collectCallsInExpr(s.Expr, &calls)
		case *Return:
			if s.Value != nil {
				collectCallsInExpr(s.Value.ExprPart.Root, &calls)
				walk(s.Value.Block)
			}
		case *Var:
			for val := s.Value; val != nil; val = val.Next {
				collectCallsInExpr(val.Expr.Root, &calls)
			}
		}
	}
	walk(body)
	return calls
}

func collectCallsInExpr(n ExprNode, out *[]*Call) {
	if n == nil {
		return
	}
	switch x := n.(type) {
	case *Call:
		*out = append(*out, x)
		for _, a := range x.Args {
			collectCallsInExpr(a, out)
		}
	case *Unary:
		collectCallsInExpr(x.Operand, out)
	case *Binary:
		collectCallsInExpr(x.LSide, out)
		collectCallsInExpr(x.RSide, out)
	case *Access:
		collectCallsInExpr(x.LSide, out)
		collectCallsInExpr(x.RSide, out)
	case *Paren:
		collectCallsInExpr(x.Inside, out)
	case *Subscript:
		collectCallsInExpr(x.LSide, out)
		if x.Index != nil {
			collectCallsInExpr(x.Index.Root, out)
		}
	case *Assign:
		collectCallsInExpr(x.LSide, out)
		collectCallsInExpr(x.RSide, out)
	case *Conditional:
		collectCallsInExpr(x.Left, out)
		if x.Middle != nil {
			collectCallsInExpr(x.Middle, out)
		}
		collectCallsInExpr(x.Right, out)
	}
}
