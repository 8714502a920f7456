// Package vm implements the pocket virtual machine.
//
// This package contains:
//   - Tagged value representation and heap object layouts
//   - Growable buffers and the open-addressed hash map
//   - The non-recursive mark-and-sweep garbage collector
//   - Bytecode definitions and the fiber based interpreter
//   - Operator dispatch, builtin classes and core functions
//   - The host embedding API (slots, handles, module and class registration)
//
// The compiler lives in a separate package and registers itself with
// RegisterCompiler. Import it for its side effect when embedding:
//
//	import _ "github.com/ThakeeNathees/pocketlang-sub001/compiler"
package vm
