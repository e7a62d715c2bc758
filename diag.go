package main

import "fmt"

// Diagnostics the code generator can return (§7). Every internal
// function propagates these as ordinary errors; nothing below Generate
// panics by design, so Generate itself never needs to recover anything —
// it is shaped like the teacher's CompileFlap purely so a caller already
// familiar with that entry point recognizes this one.

// LimitError reports a resource limit the engine's addressing scheme
// cannot exceed (too many map variables in one bucket, too many
// functions for LittleE's one-byte function index, and similar).
type LimitError struct {
	Resource string
	Limit    int
	Got      int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("codegen: %s limit exceeded: %d declared, limit is %d", e.Resource, e.Got, e.Limit)
}

// IOError wraps a failure writing the finished object file, keeping the
// path alongside the underlying error for diagnostics.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("codegen: writing %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// InternalError reports a violated invariant in the code generator
// itself — codegen metadata missing where an earlier pass should have
// set it, an opcode table lookup finding nothing, and the like. Its
// presence anywhere in a returned error means a bug in this package, not
// bad input.
type InternalError struct {
	Context string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("codegen: internal invariant violated: %s", e.Context)
}
