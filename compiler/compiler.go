package compiler

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
	"github.com/tliron/commonlog"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

var log = commonlog.GetLogger("pocket.compiler")

const (
	// maxVariables bounds the locals of a function and the globals of a
	// module; their opcodes take a single byte index.
	maxVariables = 256

	// maxConstants bounds the constant pool; constant operands are shorts.
	maxConstants = 1 << 16

	maxUpvalues     = 256
	maxForwardNames = 256
	maxBreakPatches = 256
	maxCallArgs     = 32

	depthGlobal = -1
)

func init() {
	vm.RegisterCompiler(Compile)
}

// Diagnostic is an error found while compiling a module.
type Diagnostic struct {
	Pos     Position
	Length  int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Pos.Line, d.Pos.Column, d.Message)
}

type funcType int

const (
	funcMain funcType = iota
	funcTopLevel
	funcLocal // a def inside a function body
	funcLiteral
	funcMethod
	funcConstructor
)

type localVar struct {
	name      string
	depth     int
	isUpvalue bool
	line      int
}

// upvalueInfo says where a captured variable lives in the enclosing
// function: a local slot when isImmediate, an upvalue of its own otherwise.
type upvalueInfo struct {
	isImmediate bool
	index       int
}

// funcState is the compile state of one function.
type funcState struct {
	typ funcType

	// depth is the scope the function was declared in; depthGlobal for the
	// module body, top level functions and methods.
	depth int

	locals    []localVar
	upvalues  []upvalueInfo
	stackSize int

	fn    *vm.Function
	outer *funcState
}

type loopState struct {
	start   int // offset the loop jumps back to
	patches []int
	depth   int
	outer   *loopState
}

// forwardName is a global used inside a function before its definition.
// The PUSH_GLOBAL operand at instruction is patched once the module is
// compiled.
type forwardName struct {
	instruction int
	fn          *vm.Function
	tok         Token
}

// Compiler compiles one source text into a module.
type Compiler struct {
	vm     *vm.VM
	module *vm.Module
	opts   vm.CompileOptions
	path   string
	source string

	lexer                   *Lexer
	previous, current, next Token

	forwards []forwardName

	// optionalCallParen is set before compiling a call whose only argument
	// is a function literal written without parentheses.
	optionalCallParen bool

	parsingClass  bool
	needMoreLines bool // REPL mode: the source ended in a statement

	hasErrors      bool
	hasSyntaxError bool
	diagnostics    []Diagnostic
	firstErr       *vm.CompileError
	quiet          bool // collect diagnostics without reporting them

	loop       *loopState
	fn         *funcState
	scopeDepth int

	// newLocal is set when the last expression statement defined a local,
	// whose value stays on the stack as its slot.
	newLocal bool

	// lValue is set while parsing an expression that may be assigned to.
	lValue bool

	// canDefine is cleared inside expressions, where an assignment to an
	// unknown name cannot define a variable.
	canDefine bool

	// isLastCall is set when the last parsed expression was a call. Return
	// statements use it to emit tail calls.
	isLastCall bool

	listJoin int
}

func newCompiler(v *vm.VM, m *vm.Module, source string, opts *vm.CompileOptions) *Compiler {
	c := &Compiler{
		vm:         v,
		module:     m,
		source:     source,
		scopeDepth: depthGlobal,
		canDefine:  true,
		listJoin:   v.BuiltinFnIndex("list_join"),
	}
	if opts != nil {
		c.opts = *opts
	}
	if c.listJoin < 0 {
		panic(&vm.FatalError{Message: "builtin list_join is not registered"})
	}

	switch {
	case m.Path != nil:
		c.path = m.Path.Data
	case c.opts.ReplMode:
		c.path = "@REPL"
	default:
		c.path = "@??"
	}

	c.lexer = NewLexer(source)
	c.lexer.onError = c.lexError
	c.previous = Token{Type: TokenError}
	c.current = Token{Type: TokenError}
	c.next = Token{Type: TokenError}
	return c
}

// MarkRoots marks the module being compiled. Token values are Go strings
// and numbers, so the module holds every heap object of the compilation.
func (c *Compiler) MarkRoots(v *vm.VM) {
	v.MarkObject(c.module)
}

// Compile compiles source into m. The module's main body is replaced;
// its globals and constants are kept and extended, which lets the REPL
// compile line after line into one module. On error every constant and
// global added by the compilation is dropped.
func Compile(v *vm.VM, m *vm.Module, source string, opts *vm.CompileOptions) (vm.Result, *vm.CompileError) {
	source = strings.TrimPrefix(source, "\xEF\xBB\xBF")
	c := newCompiler(v, m, source, opts)
	result := c.compile()
	if result == vm.ResultCompileError {
		return result, c.firstErr
	}
	return result, nil
}

// Check compiles source into a scratch module and returns every error
// found. Nothing is reported through the VM's callbacks.
func Check(v *vm.VM, name, source string) []Diagnostic {
	handle := v.NewModule(name)
	defer v.ReleaseHandle(handle)

	source = strings.TrimPrefix(source, "\xEF\xBB\xBF")
	c := newCompiler(v, handle.Value().AsModule(), source, nil)
	c.quiet = true
	c.compile()
	return c.diagnostics
}

func (c *Compiler) compile() vm.Result {
	v, m := c.vm, c.module

	v.PushCompilerRoot(c)
	defer v.PopCompilerRoot()

	if m.Body == nil {
		m.AddMain(v)
	}

	// A module compiled before (REPL, ModuleAddSource) gets a fresh body.
	body := m.Body.Fn
	body.Code.Opcodes.Clear(v)
	body.Code.Lines.Clear(v)

	constants := m.Constants.Len()
	globals := m.Globals.Len()

	c.pushFunc(&funcState{}, body, funcMain)

	c.lexToken()
	c.lexToken()
	c.skipNewLines()

	for !c.match(TokenEOF) && !c.hasSyntaxError {
		c.compileTopLevelStatement()
		c.skipNewLines()
	}

	c.emitFunctionEnd()

	if !c.hasSyntaxError {
		c.resolveForwards()
	}

	if c.hasErrors {
		m.Constants.Truncate(constants)
		m.TruncateGlobals(globals)
		if c.opts.ReplMode && c.needMoreLines {
			return vm.ResultUnexpectedEOF
		}
		log.Debugf("compiling %s failed with %d error(s)", c.path, len(c.diagnostics))
		return vm.ResultCompileError
	}
	return vm.ResultSuccess
}

func (c *Compiler) resolveForwards() {
	for _, fwd := range c.forwards {
		index := c.module.GlobalIndex(fwd.tok.Literal)
		if index == -1 {
			// An undefined name is an error even in the REPL.
			c.needMoreLines = false
			c.reportError(fwd.tok, fmt.Sprintf("Name '%s' is not defined.", fwd.tok.Literal))
			continue
		}
		fwd.fn.Code.Opcodes.Data[fwd.instruction] = byte(index)
	}
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (c *Compiler) reportError(tok Token, msg string) {
	c.hasErrors = true

	// An incomplete REPL statement is not an error yet.
	if c.needMoreLines {
		return
	}

	c.diagnostics = append(c.diagnostics, Diagnostic{Pos: tok.Pos, Length: len(tok.Literal), Message: msg})

	err := &vm.CompileError{
		File:    c.path,
		Line:    tok.Pos.Line,
		Message: msg,
		Source:  c.source,
		Offset:  tok.Pos.Offset,
		Length:  len(tok.Literal),
	}
	if c.firstErr == nil {
		c.firstErr = err
	}
	if !c.quiet {
		c.vm.ReportCompileError(err)
	}
}

// syntaxError reports an error that stops the compilation. Only the first
// one is reported.
func (c *Compiler) syntaxError(tok Token, format string, args ...any) {
	if c.hasSyntaxError {
		return
	}
	c.hasSyntaxError = true
	c.reportError(tok, fmt.Sprintf(format, args...))
}

// semanticError reports an error and goes on compiling to find more.
func (c *Compiler) semanticError(tok Token, format string, args ...any) {
	if c.hasSyntaxError {
		return
	}
	c.reportError(tok, fmt.Sprintf(format, args...))
}

func (c *Compiler) lexError(e LexError) {
	tok := Token{Type: TokenError, Pos: e.Pos}
	if e.Length > 0 && e.Pos.Offset+e.Length <= len(c.source) {
		tok.Literal = c.source[e.Pos.Offset : e.Pos.Offset+e.Length]
	}
	if e.Syntax {
		c.syntaxError(tok, "%s", e.Message)
	} else {
		c.semanticError(tok, "%s", e.Message)
	}
}

func (c *Compiler) checkConstant(index int) {
	if _, err := safecast.Conv[uint16](index); err != nil {
		c.semanticError(c.previous, "A module should contain at most %d unique constants.", maxConstants)
	}
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) lexToken() {
	c.previous = c.current
	c.current = c.next
	if c.current.Type == TokenEOF {
		return
	}
	c.next = c.lexer.NextToken()
}

func (c *Compiler) peek() TokenType {
	return c.current.Type
}

// match consumes the current token if it is expected.
func (c *Compiler) match(expected TokenType) bool {
	if c.peek() != expected {
		return false
	}
	c.lexToken()
	return !c.hasSyntaxError
}

// consume consumes the current token, reporting errMsg unless it is
// expected.
func (c *Compiler) consume(expected TokenType, errMsg string) {
	c.lexToken()
	if c.hasSyntaxError {
		return
	}
	if c.previous.Type != expected {
		c.syntaxError(c.previous, "%s", errMsg)
	}
}

// matchLine consumes one or more newlines.
func (c *Compiler) matchLine() bool {
	consumed := false
	if c.peek() == TokenLine {
		for c.peek() == TokenLine {
			c.lexToken()
			if c.hasSyntaxError {
				return false
			}
		}
		consumed = true
	}

	// In the REPL an error at the end of the input asks for more lines.
	if c.opts.ReplMode && !c.hasErrors && c.peek() == TokenEOF {
		c.needMoreLines = true
	}
	return consumed
}

func (c *Compiler) skipNewLines() {
	c.matchLine()
}

// matchEndStatement matches ';', newlines, EOF, or peeks 'end', 'else' and
// 'elif' which close a statement on the same line:
//
//	if cond then stmt1 else stmt2 end
func (c *Compiler) matchEndStatement() bool {
	if c.match(TokenSemicolon) {
		c.skipNewLines()
		return true
	}
	if c.matchLine() || c.peek() == TokenEOF {
		return true
	}
	switch c.peek() {
	case TokenEnd, TokenElse, TokenElif:
		return true
	}
	return false
}

func (c *Compiler) consumeEndStatement() {
	if !c.matchEndStatement() {
		c.syntaxError(c.current, "Expected statement end with '\\n' or ';'.")
	}
}

// matchBlockEnd allows a ';' after a block statement closed with 'end'.
func (c *Compiler) matchBlockEnd() {
	if c.match(TokenSemicolon) {
		c.skipNewLines()
	}
}

// consumeStartBlock matches the optional 'do' or 'then' and newlines that
// open a block.
func (c *Compiler) consumeStartBlock(delimiter TokenType) {
	consumed := c.match(delimiter)
	if c.matchLine() {
		consumed = true
	}
	if consumed {
		return
	}
	if delimiter == TokenDo {
		c.syntaxError(c.previous, "Expected enter block with newline or 'do'.")
	} else {
		c.syntaxError(c.previous, "Expected enter block with newline or 'then'.")
	}
}

func (c *Compiler) matchAssignment() bool {
	switch c.peek() {
	case TokenEq, TokenPlusEq, TokenMinusEq, TokenStarEq, TokenSlashEq,
		TokenModEq, TokenPowEq, TokenAndEq, TokenOrEq, TokenXorEq,
		TokenShiftRightEq, TokenShiftLeftEq:
		return c.match(c.peek())
	}
	return false
}

// ---------------------------------------------------------------------------
// Name resolution
// ---------------------------------------------------------------------------

type nameType int

const (
	nameNotDefined nameType = iota
	nameLocal               // locals and parameters
	nameUpvalue             // a local of an enclosing function
	nameGlobal
	nameBuiltinFn
	nameBuiltinTy
)

// findLocal returns the innermost local called name, or -1.
func findLocal(f *funcState, name string) int {
	for i := len(f.locals) - 1; i >= 0; i-- {
		if f.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(f *funcState, index int, isImmediate bool) int {
	for i, info := range f.upvalues {
		if info.index == index && info.isImmediate == isImmediate {
			return i
		}
	}
	if len(f.upvalues) == maxUpvalues {
		c.semanticError(c.previous, "A function cannot capture more than %d upvalues.", maxUpvalues)
		return -1
	}
	f.upvalues = append(f.upvalues, upvalueInfo{isImmediate: isImmediate, index: index})
	f.fn.UpvalueCount = len(f.upvalues)
	return len(f.upvalues) - 1
}

// findUpvalue resolves name in the functions enclosing f, capturing it in
// every function of the chain.
func (c *Compiler) findUpvalue(f *funcState, name string) int {
	// Top level functions and methods only see globals.
	if f.depth <= depthGlobal {
		return -1
	}

	if index := findLocal(f.outer, name); index != -1 {
		f.outer.locals[index].isUpvalue = true
		return c.addUpvalue(f, index, true)
	}
	if index := c.findUpvalue(f.outer, name); index != -1 {
		return c.addUpvalue(f, index, false)
	}
	return -1
}

func (c *Compiler) searchName(name string) (nameType, int) {
	if index := findLocal(c.fn, name); index != -1 {
		return nameLocal, index
	}
	if index := c.findUpvalue(c.fn, name); index != -1 {
		return nameUpvalue, index
	}
	if index := c.module.GlobalIndex(name); index != -1 {
		return nameGlobal, index
	}
	if index := c.vm.BuiltinFnIndex(name); index != -1 {
		return nameBuiltinFn, index
	}
	if index := c.vm.BuiltinClassIndex(name); index != -1 && index < int(vm.TypeInstance) {
		return nameBuiltinTy, index
	}
	return nameNotDefined, -1
}

// addVariable defines name in the current scope and returns its index.
// An existing global of the same name is reused.
func (c *Compiler) addVariable(name string, line int) int {
	if c.scopeDepth == depthGlobal {
		if index := c.module.GlobalIndex(name); index != -1 {
			return index
		}
		if c.module.Globals.Len() >= maxVariables {
			c.semanticError(c.previous, "A module should contain at most %d globals.", maxVariables)
			return -1
		}
		return c.module.SetGlobal(c.vm, name, vm.Null)
	}

	if len(c.fn.locals) >= maxVariables {
		c.semanticError(c.previous, "A module should contain at most %d locals.", maxVariables)
		return -1
	}
	c.fn.locals = append(c.fn.locals, localVar{name: name, depth: c.scopeDepth, line: line})
	return len(c.fn.locals) - 1
}

func (c *Compiler) addForward(instruction int, fn *vm.Function, tok Token) {
	if len(c.forwards) == maxForwardNames {
		c.semanticError(tok, "A module should contain at most %d implicit forward function declarations.", maxForwardNames)
		return
	}
	c.forwards = append(c.forwards, forwardName{instruction: instruction, fn: fn, tok: tok})
}

func (c *Compiler) addConstant(v vm.Value) int {
	index := c.module.AddConstant(c.vm, v)
	c.checkConstant(index)
	return index
}

func (c *Compiler) addString(s string) int {
	_, index := c.module.AddStringIndex(c.vm, s)
	c.checkConstant(index)
	return index
}

// ---------------------------------------------------------------------------
// Scopes and functions
// ---------------------------------------------------------------------------

func (c *Compiler) enterBlock() {
	c.scopeDepth++
}

// changeStack adjusts the tracked stack size, recording the maximum as the
// function's stack size.
func (c *Compiler) changeStack(n int) {
	c.fn.stackSize += n
	if c.fn.stackSize > c.fn.fn.Code.StackSize {
		c.fn.fn.Code.StackSize = c.fn.stackSize
	}
}

// popLocals emits the pops of every local at depth or deeper and returns
// their count. The locals stay defined: break and continue pop them in the
// middle of a scope that goes on after them.
func (c *Compiler) popLocals(depth int) int {
	local := len(c.fn.locals) - 1
	for local >= 0 && c.fn.locals[local].depth >= depth {
		if c.fn.locals[local].isUpvalue {
			c.emitByte(byte(vm.OpCloseUpvalue))
		} else {
			c.emitByte(byte(vm.OpPop))
		}
		local--
	}
	return len(c.fn.locals) - 1 - local
}

func (c *Compiler) exitBlock() {
	popped := c.popLocals(c.scopeDepth)
	c.fn.locals = c.fn.locals[:len(c.fn.locals)-popped]
	c.fn.stackSize -= popped
	c.scopeDepth--
}

func (c *Compiler) pushFunc(f *funcState, fn *vm.Function, typ funcType) {
	f.typ = typ
	f.outer = c.fn
	f.fn = fn
	f.depth = c.scopeDepth
	c.fn = f
}

func (c *Compiler) popFunc() {
	c.fn = c.fn.outer
}

// ---------------------------------------------------------------------------
// Emitting bytecode
// ---------------------------------------------------------------------------

// emitByte writes b with the line of the previous token and returns its
// offset.
func (c *Compiler) emitByte(b byte) int {
	code := c.fn.fn.Code
	code.Opcodes.Write(c.vm, b)
	code.Lines.Write(c.vm, uint32(c.previous.Pos.Line))
	return code.Opcodes.Len() - 1
}

// emitShort writes arg big-endian and returns the offset of its first byte.
func (c *Compiler) emitShort(arg int) int {
	c.emitByte(byte(arg >> 8))
	return c.emitByte(byte(arg)) - 1
}

// emitOpcode writes op and applies its stack effect. Calls change the stack
// by their argument count, which the caller applies.
func (c *Compiler) emitOpcode(op vm.Opcode) {
	c.emitByte(byte(op))
	c.changeStack(op.StackEffect())
}

func (c *Compiler) emitLoopJump() {
	c.emitOpcode(vm.OpLoop)
	offset := c.fn.fn.Code.Opcodes.Len() - c.loop.start + 2
	if _, err := safecast.Conv[uint16](offset); err != nil {
		c.semanticError(c.previous, "Too large address offset to jump to.")
	}
	c.emitShort(offset)
}

// emitFunctionEnd writes the implicit return. The return slot at the base
// of the frame still holds null, so RETURN pops it without a stack effect
// of its own.
func (c *Compiler) emitFunctionEnd() {
	c.emitByte(byte(vm.OpReturn))
	c.emitOpcode(vm.OpEnd)
}

func (c *Compiler) patchJump(addrIndex int) {
	code := &c.fn.fn.Code.Opcodes
	offset := code.Len() - (addrIndex + 2)
	if _, err := safecast.Conv[uint16](offset); err != nil {
		c.semanticError(c.previous, "Too large address offset to jump to.")
		return
	}
	code.Data[addrIndex] = byte(offset >> 8)
	code.Data[addrIndex+1] = byte(offset)
}

func (c *Compiler) patchListSize(sizeIndex, size int) {
	code := &c.fn.fn.Code.Opcodes
	size = min(size, 0xffff)
	code.Data[sizeIndex] = byte(size >> 8)
	code.Data[sizeIndex+1] = byte(size)
}

func (c *Compiler) emitPushValue(typ nameType, index int) {
	switch typ {
	case nameLocal:
		if index < 9 {
			c.emitOpcode(vm.OpPushLocal0 + vm.Opcode(index))
		} else {
			c.emitOpcode(vm.OpPushLocalN)
			c.emitByte(byte(index))
		}
	case nameUpvalue:
		c.emitOpcode(vm.OpPushUpvalue)
		c.emitByte(byte(index))
	case nameGlobal:
		c.emitOpcode(vm.OpPushGlobal)
		c.emitByte(byte(index))
	case nameBuiltinFn:
		c.emitOpcode(vm.OpPushBuiltinFn)
		c.emitByte(byte(index))
	case nameBuiltinTy:
		c.emitOpcode(vm.OpPushBuiltinTy)
		c.emitByte(byte(index))
	default:
		if !c.hasErrors {
			panic(&vm.FatalError{Message: "pushing an undefined name"})
		}
	}
}

func (c *Compiler) emitStoreValue(typ nameType, index int) {
	switch typ {
	case nameLocal:
		if index < 9 && index >= 0 {
			c.emitOpcode(vm.OpStoreLocal0 + vm.Opcode(index))
		} else {
			c.emitOpcode(vm.OpStoreLocalN)
			c.emitByte(byte(index))
		}
	case nameUpvalue:
		c.emitOpcode(vm.OpStoreUpvalue)
		c.emitByte(byte(index))
	case nameGlobal:
		c.emitOpcode(vm.OpStoreGlobal)
		c.emitByte(byte(index))
	default:
		if !c.hasErrors {
			panic(&vm.FatalError{Message: "storing to a name that cannot be assigned"})
		}
	}
}

// emitAssignedOp emits the inplace operator of a compound assignment.
func (c *Compiler) emitAssignedOp(assignment TokenType) {
	op, ok := assignOps[assignment]
	if !ok {
		panic(&vm.FatalError{Message: fmt.Sprintf("%s is not a compound assignment", assignment)})
	}
	c.emitOpcode(op)
	c.emitByte(1)
}

var assignOps = map[TokenType]vm.Opcode{
	TokenPlusEq:       vm.OpAdd,
	TokenMinusEq:      vm.OpSubtract,
	TokenStarEq:       vm.OpMultiply,
	TokenSlashEq:      vm.OpDivide,
	TokenModEq:        vm.OpMod,
	TokenPowEq:        vm.OpExponent,
	TokenAndEq:        vm.OpBitAnd,
	TokenOrEq:         vm.OpBitOr,
	TokenXorEq:        vm.OpBitXor,
	TokenShiftRightEq: vm.OpBitRshift,
	TokenShiftLeftEq:  vm.OpBitLshift,
}
