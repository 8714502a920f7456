package vm

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

const maxDumpFrames = 20

var errorColor = color.RGB(220, 100, 100)

// colored returns s wrapped in the error color when the configuration asks
// for ANSI escapes.
func (vm *VM) colored(s string) string {
	if !vm.config.UseANSIEscape {
		return s
	}
	c := *errorColor
	c.EnableColor()
	return c.Sprint(s)
}

// stderr writes text through the configured stderr callback.
func (vm *VM) stderr(text string) {
	if vm.config.StderrFn != nil {
		vm.config.StderrFn(vm, text)
	}
}

// traceOf returns the stack trace of f, innermost frame first.
func traceOf(f *Fiber) []TraceEntry {
	trace := make([]TraceEntry, 0, f.frameCount)
	for i := f.frameCount - 1; i >= 0; i-- {
		frame := &f.frames[i]
		fn := frame.closure.Fn
		entry := TraceEntry{Function: fn.Name, Line: frameLine(frame)}
		if fn.Owner != nil && fn.Owner.Path != nil {
			entry.File = fn.Owner.Path.Data
		}
		trace = append(trace, entry)
	}
	return trace
}

// reportError records the pending error of f as the last error of the VM
// and hands it to the error callback, or prints it when there is none.
func (vm *VM) reportError(f *Fiber) {
	err := &RuntimeError{Message: f.errorString()}
	if !f.closure.Fn.IsNative() {
		err.Trace = traceOf(f)
	}
	vm.lastError = err
	vmLog.Debugf("runtime error: %s", err.Message)

	if vm.config.ErrorFn != nil {
		vm.config.ErrorFn(vm, ErrorRuntime, "", -1, err.Message)
		for _, t := range err.Trace {
			vm.config.ErrorFn(vm, ErrorStackTrace, t.File, t.Line, t.Function)
		}
		return
	}
	if vm.config.StderrFn == nil {
		return
	}

	var b strings.Builder
	b.WriteString(vm.colored("Error: "))
	b.WriteString(err.Message)
	b.WriteString("\n")

	writeFrame := func(t TraceEntry) {
		if t.File == "" {
			fmt.Fprintf(&b, "  [at:%2d] %s()\n", t.Line, t.Function)
		} else {
			fmt.Fprintf(&b, "  %s() [%s:%d]\n", t.Function, t.File, t.Line)
		}
	}
	if len(err.Trace) > maxDumpFrames {
		half := maxDumpFrames / 2
		for _, t := range err.Trace[:half] {
			writeFrame(t)
		}
		fmt.Fprintf(&b, "  ...  skipping %d stack frames\n", len(err.Trace)-maxDumpFrames)
		for _, t := range err.Trace[len(err.Trace)-half:] {
			writeFrame(t)
		}
	} else {
		for _, t := range err.Trace {
			writeFrame(t)
		}
	}
	vm.stderr(b.String())
}

// ReportCompileError hands a compile error to the error callback. Without
// a callback the error is printed with an excerpt of the source around the
// offending token.
func (vm *VM) ReportCompileError(e *CompileError) {
	if vm.config.ErrorFn != nil {
		vm.config.ErrorFn(vm, ErrorCompile, e.File, e.Line, e.Message)
		return
	}
	if vm.config.StderrFn == nil {
		return
	}
	vm.stderr(vm.formatCompileError(e))
}

func (vm *VM) formatCompileError(e *CompileError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d", e.File, e.Line)
	b.WriteString(vm.colored(" error: "))
	b.WriteString(e.Message)
	b.WriteString("\n")

	if e.Source == "" {
		return b.String()
	}

	lines := strings.SplitAfter(e.Source, "\n")
	start := max(e.Line-2, 1)
	for n := start; n < start+5 && n <= len(lines); n++ {
		line := strings.TrimRight(lines[n-1], "\r\n")
		if n != e.Line {
			fmt.Fprintf(&b, "%5d | %s\n", n, line)
			continue
		}

		lineStart := strings.LastIndexByte(e.Source[:min(e.Offset, len(e.Source))], '\n') + 1
		col := min(max(e.Offset-lineStart, 0), len(line))
		end := min(col+max(e.Length, 0), len(line))

		fmt.Fprintf(&b, "%5d | %s", n, line[:col])
		b.WriteString(vm.colored(line[col:end]))
		b.WriteString(line[end:])
		b.WriteString("\n")

		b.WriteString("      | ")
		for _, c := range line[:col] {
			if c == '\t' {
				b.WriteByte('\t')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(vm.colored(strings.Repeat("~", max(e.Length, 1))))
		b.WriteString("\n")
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble returns a listing of the bytecode of fn with the source line,
// offset, opcode and a description of each operand.
func Disassemble(fn *Function) string {
	var b strings.Builder
	where := "<?>"
	if fn.Owner != nil {
		if fn.Owner.Path != nil {
			where = fn.Owner.Path.Data
		} else {
			where = fn.Owner.DisplayName()
		}
	}
	fmt.Fprintf(&b, "Instruction Dump of function %s %s\n", fn.Name, where)
	if fn.IsNative() {
		b.WriteString("  <native>\n")
		return b.String()
	}

	code := fn.Code
	module := fn.Owner
	r := NewBytecodeReader(code.Opcodes.Data)
	prevLine := -1

	for r.HasMore() {
		offset := r.Position()
		op := r.ReadOpcode()

		line := 0
		if offset < code.Lines.Len() {
			line = int(code.Lines.Data[offset])
		}
		if line != prevLine {
			fmt.Fprintf(&b, "  %4d:", line)
			prevLine = line
		} else {
			b.WriteString("       ")
		}
		fmt.Fprintf(&b, "  %4d  %-16s", offset, op.Name())

		switch op {
		case OpPushConstant:
			index := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d %s", index, constantRepr(module, index))

		case OpPushList:
			fmt.Fprintf(&b, "%5d", r.ReadUint16())

		case OpPushLocal0, OpPushLocal1, OpPushLocal2, OpPushLocal3, OpPushLocal4,
			OpPushLocal5, OpPushLocal6, OpPushLocal7, OpPushLocal8:
			writeLocal(&b, fn, int(op-OpPushLocal0), false)

		case OpStoreLocal0, OpStoreLocal1, OpStoreLocal2, OpStoreLocal3, OpStoreLocal4,
			OpStoreLocal5, OpStoreLocal6, OpStoreLocal7, OpStoreLocal8:
			writeLocal(&b, fn, int(op-OpStoreLocal0), false)

		case OpPushLocalN, OpStoreLocalN:
			writeLocal(&b, fn, int(r.ReadOperand()), true)

		case OpPushGlobal, OpStoreGlobal:
			index := int(r.ReadOperand())
			name := "?"
			if module != nil && index < module.GlobalNames.Len() {
				name = module.GlobalName(index)
			}
			fmt.Fprintf(&b, "%5d '%s'", index, name)

		case OpPushBuiltinFn:
			index := int(r.ReadOperand())
			fmt.Fprintf(&b, "%5d [Fn:%s]", index, builtinFnDefName(index))

		case OpPushBuiltinTy:
			index := int(r.ReadOperand())
			fmt.Fprintf(&b, "%5d [Class:%s]", index, VarType(index))

		case OpPushUpvalue, OpStoreUpvalue:
			fmt.Fprintf(&b, "%5d", r.ReadOperand())

		case OpPushClosure:
			index := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d %s", index, constantRepr(module, index))
			if f, ok := constantAt(module, index).obj.(*Function); ok {
				for range f.UpvalueCount {
					immediate := r.ReadOperand()
					slot := r.ReadOperand()
					if immediate != 0 {
						fmt.Fprintf(&b, " (local:%d)", slot)
					} else {
						fmt.Fprintf(&b, " (upvalue:%d)", slot)
					}
				}
			}

		case OpCreateClass:
			index := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d %s", index, constantRepr(module, index))

		case OpImport, OpGetAttrib, OpGetAttribKeep, OpSetAttrib:
			index := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d '%s'", index, stringConstant(module, index))

		case OpSuperCall, OpMethodCall:
			argc := r.ReadOperand()
			index := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d (argc) %d '%s'", argc, index, stringConstant(module, index))

		case OpCall, OpTailCall:
			fmt.Fprintf(&b, "%5d (argc)", r.ReadOperand())

		case OpIter, OpJump, OpJumpIf, OpJumpIfNot, OpOr, OpAnd:
			jump := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d (ip:%d)", jump, r.Position()+jump)

		case OpLoop:
			jump := int(r.ReadUint16())
			fmt.Fprintf(&b, "%5d (ip:%d)", -jump, r.Position()-jump)

		default:
			for range op.OperandBytes() {
				fmt.Fprintf(&b, "%5d", r.ReadOperand())
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeLocal(b *strings.Builder, fn *Function, index int, withOperand bool) {
	if withOperand {
		fmt.Fprintf(b, "%5d", index)
	} else {
		b.WriteString("     ")
	}
	if index < fn.Arity {
		fmt.Fprintf(b, " (param:%d)", index)
	}
}

func constantAt(m *Module, index int) Value {
	if m == nil || index >= m.Constants.Len() {
		return Null
	}
	return m.Constants.Data[index]
}

func constantRepr(m *Module, index int) string {
	v := constantAt(m, index)
	switch o := v.obj.(type) {
	case *Function:
		return "[Fn:" + o.Name + "]"
	case *Class:
		return "[Class:" + o.Name.Data + "]"
	}
	return ToRepr(v)
}

func stringConstant(m *Module, index int) string {
	if s := constantAt(m, index).AsString(); s != nil {
		return s.Data
	}
	return "?"
}

func builtinFnDefName(index int) string {
	if index < len(builtinFnDefs) {
		return builtinFnDefs[index].name
	}
	return "?"
}
