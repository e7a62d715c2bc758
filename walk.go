package main

// The string-usage walk: a single pass over every script and function
// body that marks IndexedString.Used for every pooled string literal
// actually reachable from code, so the chunk writer's STRL/STRE only
// emits strings the compiled program can observe (§4.1.4). The dispatch
// order mirrors the original compiler's visit_expr/visit_stmt/
// visit_block_item/visit_call/visit_paltrans/visit_strcpy functions in
// index.c, including the unusual statement order inside If (body walked
// before cond, then elseBody) that the original preserves from its
// single-pass codegen walk.

// markStringUsage walks every script and every top-level function body in
// lib, marking each IndexedString actually referenced.
func markStringUsage(lib *Library) {
	for _, s := range lib.Scripts {
		if s.Number != nil {
			walkExpr(s.Number)
		}
		walkStatement(s.Body)
	}
	for _, f := range lib.Funcs {
		if f.Impl != nil && f.Impl.Body != nil {
			walkStatement(f.Impl.Body)
		}
	}
}

func walkStatement(n Node) {
	if n == nil {
		return
	}
	switch s := n.(type) {
	case *Block:
		walkBlock(s)
	case *If:
		walkStatement(s.Body)
		walkExpr(s.Cond)
		walkStatement(s.ElseBody)
	case *While:
		walkExpr(s.Cond)
		walkStatement(s.Body)
	case *For:
		for _, init := range s.Init {
			walkBlockItem(init)
		}
		walkExpr(s.Cond)
		for _, post := range s.Post {
			walkExpr(post)
		}
		walkStatement(s.Body)
	case *Switch:
		walkExpr(s.Cond)
		walkStatement(s.Body)
	case *Return:
		walkPackedExpr(s.Value)
	case *ExprStmt:
		walkExprNode(s.Expr)
	case *CaseLabel:
		walkExpr(s.Number)
	case *CaseDefault, *GotoLabel, *Import:
		// No expression content to descend into.
	}
}

func walkBlock(b *Block) {
	if b == nil {
		return
	}
	for _, item := range b.Stmts {
		walkBlockItem(item)
	}
}

// walkBlockItem dispatches the wider set of things a block can directly
// contain besides statements: nested variable declarations (whose
// initializers may reference strings) and nested function declarations
// (visited for their own bodies, same as top-level functions).
func walkBlockItem(n Node) {
	switch v := n.(type) {
	case *Var:
		walkVarInitializer(v)
	case *Func:
		if v.Impl != nil && v.Impl.Body != nil {
			walkStatement(v.Impl.Body)
		}
	case *Paltrans:
		walkPaltrans(v)
	default:
		walkStatement(n)
	}
}

func walkVarInitializer(v *Var) {
	for val := v.Value; val != nil; val = val.Next {
		walkExpr(val.Expr)
	}
}

func walkPackedExpr(p *PackedExpr) {
	if p == nil {
		return
	}
	walkExpr(p.ExprPart)
	walkBlock(p.Block)
}

func walkExpr(e *Expr) {
	if e == nil {
		return
	}
	walkExprNode(e.Root)
}

func walkExprNode(n ExprNode) {
	if n == nil {
		return
	}
	switch x := n.(type) {
	case *Unary:
		walkExprNode(x.Operand)
	case *Binary:
		walkExprNode(x.LSide)
		walkExprNode(x.RSide)
	case *Call:
		walkCall(x)
	case *Access:
		walkExprNode(x.LSide)
		walkExprNode(x.RSide)
	case *Paren:
		walkExprNode(x.Inside)
	case *Subscript:
		walkExprNode(x.LSide)
		walkExpr(x.Index)
	case *Assign:
		walkExprNode(x.LSide)
		walkExprNode(x.RSide)
	case *Constant:
		walkExpr(x.ValueNode)
	case *NameUsage:
		walkNameUsageTarget(x.Object)
	case *Param:
		walkExpr(x.DefaultValue)
	case *Conditional:
		walkExprNode(x.Left)
		if x.Middle != nil {
			walkExprNode(x.Middle)
		}
		walkExprNode(x.Right)
	case *StrcpyCall:
		walkStrcpy(x)
	case *IndexedStringUsage:
		x.String.Used = true
	case *FormatItem:
		for item := x; item != nil; item = item.Next {
			walkExprNode(item.Value)
		}
	default:
		if v, ok := n.(interface{ walked() }); ok {
			v.walked()
		}
	}
}

// walkNameUsageTarget descends into the referenced declaration only when
// it is a parameter with a default value — matching visit_expr's
// NODE_PARAM case. Vars and Funcs referenced by name are not re-walked
// here; their own initializers/bodies are walked once, from their
// declaration site, not from every usage site.
func walkNameUsageTarget(obj Node) {
	if p, ok := obj.(*Param); ok {
		walkExpr(p.DefaultValue)
	}
}

// walkCall descends into the call's operand and arguments and, crucially,
// marks the call's target function as used. This runs as part of the
// allocator's AST walk (§4.1.3/§4.1.4), ahead of index allocation, so
// allocFuncs can already tell which imported functions the library's own
// code actually calls (§4.1.2's "imported functions with usage set"
// bucket) before a single instruction has been emitted.
func walkCall(c *Call) {
	walkExprNode(c.Operand)
	if c.Func != nil {
		if c.Func.Impl == nil {
			c.Func.Impl = &FuncImpl{}
		}
		c.Func.Impl.Usage = true
	}
	for _, a := range c.Args {
		walkExprNode(a)
	}
}

func walkStrcpy(s *StrcpyCall) {
	walkExpr(s.Array)
	walkExpr(s.ArrayOffset)
	walkExpr(s.ArrayLength)
	walkExpr(s.String)
	walkExpr(s.Offset)
}

func walkPaltrans(p *Paltrans) {
	if p == nil {
		return
	}
	walkExpr(p.Number)
	for _, r := range p.Ranges {
		walkExpr(r.Begin)
		walkExpr(r.End)
		if r.RGB {
			walkExpr(r.Value.Red1)
			walkExpr(r.Value.Green1)
			walkExpr(r.Value.Blue1)
			walkExpr(r.Value.Red2)
			walkExpr(r.Value.Green2)
			walkExpr(r.Value.Blue2)
		} else {
			walkExpr(r.Value.EntBegin)
			walkExpr(r.Value.EntEnd)
		}
	}
}
