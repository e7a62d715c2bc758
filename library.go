package main

// Core data model for a compilation unit (a "library" in ACS terms) and
// the declarations it holds. The parser and semantic analyzer build these
// structures; the code generator borrows them read-only except for the
// fields it is responsible for assigning (Index, Size, Offset, Used, and
// similar allocator/emitter outputs).

// Format selects the on-disk object layout the chunk writer produces.
type Format int

const (
	FormatBigE Format = iota
	FormatLittleE
)

func (f Format) String() string {
	if f == FormatLittleE {
		return "LittleE"
	}
	return "BigE"
}

// Compressed reports whether this format uses the packed ACSe encoding.
func (f Format) Compressed() bool {
	return f == FormatLittleE
}

// Magic returns the 4-byte ASCII magic for this format.
func (f Format) Magic() string {
	if f == FormatLittleE {
		return "ACSe"
	}
	return "ACSE"
}

// Storage classifies where a Var lives at runtime.
type Storage int

const (
	StorageMap Storage = iota
	StorageLocal
	StorageWorld
	StorageGlobal
)

// ScriptType mirrors the engine's script trigger types (open, enter, death,
// and so on). The exact catalog is not relevant to code generation beyond
// being stored and echoed back into SPTR/SFLG.
type ScriptType int

// ScriptFlag bits, OR-ed into Script.Flags.
type ScriptFlag int

const (
	ScriptFlagNet      ScriptFlag = 1 << 0
	ScriptFlagClientside ScriptFlag = 1 << 1
)

// Library is the compilation unit: one object file is produced per Library.
type Library struct {
	Name        Name
	Vars        []*Var
	Funcs       []*Func
	Scripts     []*Script
	Strings     []*IndexedString
	Dynamic     []*Library // imported libraries reachable at runtime
	Libraries   []*Library // all libraries, including the main one, index 0
	Imports     []*Library // libraries named in an `import` statement, in source order
	Format      Format
	EncryptStr  bool
	Importable  bool
	CompileTime bool // this library itself is a compile-time-only import
}

// Name is a dotted identifier; FullLength mirrors t_full_name_length from
// the original compiler (namespace-qualified names are NUL-joined on
// export, one extra byte per namespace separator).
type Name struct {
	Value string
}

func (n Name) FullLength() int {
	return len(n.Value)
}

// Type describes a declared type only to the extent the back end cares:
// whether it is a primitive scalar (int/str/bool/fixed) or an aggregate
// (structure) type, which changes which index-allocation bucket a Var
// lands in.
type Type struct {
	Primitive bool
}

// Dim is one dimension of a (possibly multi-dimensional) array.
type Dim struct {
	Size        int
	ElementSize int
	Next        *Dim
}

// Value is one element of a Var's initializer chain.
type Value struct {
	Index        int // position within the array initializer
	Expr         *Expr
	Next         *Value
	StringInitz  bool // this element is a string literal spread across N cells
}

// Var is a declared variable: a scalar, an array, or a structure instance.
type Var struct {
	Name           Name
	Storage        Storage
	Dim            *Dim
	Structure      *Structure
	Value          *Value
	Size           int // total element count (arrays/structures)
	Index          int // slot assigned by the allocator
	Hidden         bool
	Used           bool
	InitialHasStr  bool
	Type           Type
}

func (v *Var) IsArray() bool {
	return v.Dim != nil || v.Structure != nil
}

// Structure describes an aggregate var's member layout, to the extent the
// chunk writer needs it (ATAG walks members to find string-tagged slots).
type Structure struct {
	Members []*StructureMember
}

type StructureMember struct {
	Dim *Dim
}

// Param is one formal parameter of a Func or Script.
type Param struct {
	Name         Name
	Size         int // usually 1; kept distinct for future aggregate params
	Index        int // slot assigned by the allocator
	Used         bool
	DefaultValue *Expr
	Next         *Param
}

// FuncImpl holds everything about a function's body that only the code
// generator computes or consumes.
type FuncImpl struct {
	Usage        bool // set true the first time the function is called
	Index        int  // dense id assigned by the allocator
	Size         int  // local-variable high-water mark
	ObjPos       int  // byte offset of the function body, set by the emitter
	IndexOffset  int  // for a nested function, the slot its locals start at
	Body         *Block
	NestedFuncs  []*Func
	NestedCalls  []*Call
	Vars         []*Var // LOCAL arrays declared directly in this function
}

// ReturnSpec distinguishes a void return from a value-returning function.
type ReturnSpec int

const (
	SpecVoid ReturnSpec = iota
	SpecValue
)

// Func is a user-defined or imported function.
type Func struct {
	Name       Name
	Params     *Param
	MinParam   int
	MaxParam   int
	ReturnSpec ReturnSpec
	Hidden     bool
	Impl       *FuncImpl
}

func (f *Func) TotalParamSize() int {
	size := 0
	for p := f.Params; p != nil; p = p.Next {
		size += p.Size
	}
	if f.MinParam < f.MaxParam {
		size++
	}
	return size
}

// Script is an entry point callable by the engine.
type Script struct {
	AssignedNumber int
	Number         *Expr // for named scripts, an indexed-string-usage expr
	NamedScript    bool
	Type           ScriptType
	Offset         int // byte offset of the script body, set by the emitter
	NumParam       int
	Size           int // local-variable high-water mark
	Flags          ScriptFlag
	Params         *Param
	Body           *Block
	Vars           []*Var // LOCAL arrays declared directly in this script
	NestedFuncs    []*Func
}

// IndexedString is an entry in the library's deduplicated string pool.
type IndexedString struct {
	Value       string
	Length      int
	Index       int // final slot, assigned during string linking
	Used        bool
	Imported    bool
	InConstant  bool
}
