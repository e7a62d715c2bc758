package main

import (
	"flag"
	"fmt"
	"os"
)

// VerboseMode gates diagnostic output, in the same style as the teacher's
// own package-level flag (xyproto/flapc's main.go): no logging library,
// just fmt.Fprintf against os.Stderr behind a bool.
var VerboseMode bool

func verbosef(format string, args ...interface{}) {
	if VerboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// This CLI is not part of the code generator's formal scope (§1); it
// exists only so the pipeline in codegen.go has an entry point to wire
// end to end, the way the teacher's own main.go/cli.go do for its
// compiler. It accepts an already-built Library from a front end this
// repository does not implement; wiring a real lexer/parser is outside
// the distilled spec's scope.
func main() {
	var (
		out        string
		littleE    bool
		encrypt    bool
		importable bool
	)
	flag.StringVar(&out, "o", "out.o", "output object file path")
	flag.BoolVar(&littleE, "compress", false, "emit the compressed ACSe format instead of ACSE")
	flag.BoolVar(&encrypt, "encrypt-strings", false, "encrypt the string pool with STRE")
	flag.BoolVar(&importable, "importable", false, "emit MEXP/MSTR/ASTR/ATAG export chunks")
	flag.BoolVar(&VerboseMode, "v", false, "verbose diagnostics")
	flag.Parse()

	lib := &Library{
		Format:     formatFromFlag(littleE),
		EncryptStr: encrypt,
		Importable: importable,
	}

	verbosef("codegen: generating %s (format=%s encrypt=%v importable=%v)\n", out, lib.Format, encrypt, importable)

	data, err := Generate(lib)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codegen: %v\n", err)
		os.Exit(1)
	}

	if err := writeObjectFile(out, data); err != nil {
		fmt.Fprintf(os.Stderr, "codegen: %v\n", err)
		os.Exit(1)
	}
	verbosef("codegen: wrote %d bytes to %s\n", len(data), out)
}

func formatFromFlag(littleE bool) Format {
	if littleE {
		return FormatLittleE
	}
	return FormatBigE
}
