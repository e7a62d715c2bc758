package main

import "testing"

func strExpr(s *IndexedString) *Expr {
	return &Expr{Root: &IndexedStringUsage{String: s}}
}

func TestMarkStringUsageMarksReachableString(t *testing.T) {
	s := &IndexedString{Value: "hello", Length: 5}
	lib := &Library{
		Strings: []*IndexedString{s},
		Scripts: []*Script{{
			Body: &Block{Stmts: []Node{
				&ExprStmt{Expr: &IndexedStringUsage{String: s}},
			}},
		}},
	}
	markStringUsage(lib)
	if !s.Used {
		t.Error("string referenced directly from a script body should be marked used")
	}
}

func TestMarkStringUsageLeavesUnreachableStringUnused(t *testing.T) {
	reachable := &IndexedString{Value: "a", Length: 1}
	unreachable := &IndexedString{Value: "b", Length: 1}
	lib := &Library{
		Strings: []*IndexedString{reachable, unreachable},
		Scripts: []*Script{{
			Body: &Block{Stmts: []Node{
				&ExprStmt{Expr: &IndexedStringUsage{String: reachable}},
			}},
		}},
	}
	markStringUsage(lib)
	if unreachable.Used {
		t.Error("string never referenced anywhere should stay unused")
	}
}

func TestMarkStringUsageThroughCallArguments(t *testing.T) {
	s := &IndexedString{Value: "msg", Length: 3}
	f := &Func{Impl: &FuncImpl{}}
	lib := &Library{
		Strings: []*IndexedString{s},
		Scripts: []*Script{{
			Body: &Block{Stmts: []Node{
				&ExprStmt{Expr: &Call{
					Func: f,
					Args: []ExprNode{&IndexedStringUsage{String: s}},
				}},
			}},
		}},
	}
	markStringUsage(lib)
	if !s.Used {
		t.Error("string reachable only through a call argument should be marked used")
	}
}

func TestMarkStringUsageThroughNestedFunctionBody(t *testing.T) {
	s := &IndexedString{Value: "x", Length: 1}
	f := &Func{Impl: &FuncImpl{Body: &Block{Stmts: []Node{
		&ExprStmt{Expr: &IndexedStringUsage{String: s}},
	}}}}
	lib := &Library{
		Strings: []*IndexedString{s},
		Funcs:   []*Func{f},
	}
	markStringUsage(lib)
	if !s.Used {
		t.Error("string referenced from a top-level function body should be marked used")
	}
}

func TestWalkIfVisitsBodyCondThenElse(t *testing.T) {
	var order []string
	body := &ExprStmt{Expr: &stubExpr{tag: "body", record: &order}}
	cond := &Expr{Root: &stubExpr{tag: "cond", record: &order}}
	elseBody := &ExprStmt{Expr: &stubExpr{tag: "else", record: &order}}

	walkStatement(&If{Cond: cond, Body: body, ElseBody: elseBody})

	want := []string{"body", "cond", "else"}
	if len(order) != len(want) {
		t.Fatalf("visit order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("visit order = %v, want %v", order, want)
			break
		}
	}
}

// stubExpr is a minimal ExprNode used only to observe walk order.
type stubExpr struct {
	tag    string
	record *[]string
}

func (s *stubExpr) node()     {}
func (s *stubExpr) exprNode() {}
func (s *stubExpr) walked()   { *s.record = append(*s.record, s.tag) }
