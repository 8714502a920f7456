package compiler

import (
	"strings"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

type blockType int

const (
	blockFunc blockType = iota
	blockLoop
	blockIf
	blockElse
)

// ---------------------------------------------------------------------------
// Classes and functions
// ---------------------------------------------------------------------------

func (c *Compiler) compileClass() {
	c.consume(TokenName, "Expected a class name.")
	if c.hasSyntaxError {
		return
	}
	nameTok := c.previous

	// The class object is created at compile time; CREATE_CLASS sets its
	// super class when the module runs.
	cls, clsIndex := c.vm.NewClassObject(nameTok.Literal, c.module)
	c.checkConstant(clsIndex)

	c.parsingClass = true
	defer func() { c.parsingClass = false }()

	if c.match(TokenIs) {
		c.consume(TokenName, "Expected a class name to inherit.")
		if !c.hasSyntaxError {
			c.exprName()
		}
	} else {
		c.emitPushValue(nameBuiltinTy, int(vm.TypeObject))
	}

	c.emitOpcode(vm.OpCreateClass)
	c.emitShort(clsIndex)

	c.skipNewLines()
	if c.match(TokenString) {
		cls.Docstring = c.previous.Str
	}
	c.skipNewLines()

	for !c.hasSyntaxError && !c.match(TokenEnd) {
		if c.match(TokenEOF) {
			c.syntaxError(c.previous, "Unexpected EOF while parsing class.")
			return
		}

		c.consume(TokenDef, "Expected method definition.")
		if c.hasSyntaxError {
			return
		}
		c.compileFunction(funcMethod)
		c.skipNewLines()
	}

	index := c.addVariable(nameTok.Literal, nameTok.Pos.Line)
	c.emitStoreValue(nameGlobal, index)
	c.emitOpcode(vm.OpPop)
}

type operatorMethod struct {
	tok  TokenType
	name string
}

// Binary operator methods; each takes one parameter.
var operatorMethods = []operatorMethod{
	{TokenPlusEq, "+="},
	{TokenMinusEq, "-="},
	{TokenStar, "*"},
	{TokenStarEq, "*="},
	{TokenSlash, "/"},
	{TokenSlashEq, "/="},
	{TokenPercent, "%"},
	{TokenModEq, "%="},
	{TokenStarStar, "**"},
	{TokenPowEq, "**="},
	{TokenAmp, "&"},
	{TokenAndEq, "&="},
	{TokenPipe, "|"},
	{TokenOrEq, "|="},
	{TokenCaret, "^"},
	{TokenXorEq, "^="},
	{TokenShiftLeft, "<<"},
	{TokenShiftLeftEq, "<<="},
	{TokenShiftRight, ">>"},
	{TokenShiftRightEq, ">>="},
	{TokenEqEq, "=="},
	{TokenGt, ">"},
	{TokenLt, "<"},
	{TokenDotDot, ".."},
	{TokenIn, "in"},
}

// matchOperatorMethod matches the symbol of an operator method definition
// and returns its method name and parameter count.
//
//	def +(other) ... end
//	def -self() ... end
//	def [](key) ... end
//	def []=(key, value) ... end
func (c *Compiler) matchOperatorMethod() (string, int, bool) {
	switch {
	case c.match(TokenPlus):
		if c.match(TokenSelf) {
			return "+self", 0, true
		}
		return "+", 1, true

	case c.match(TokenMinus):
		if c.match(TokenSelf) {
			return "-self", 0, true
		}
		return "-", 1, true

	case c.match(TokenTilde):
		if c.match(TokenSelf) {
			return "~self", 0, true
		}
		c.syntaxError(c.previous, "Expected keyword self for unary operator definition.")
		return "", 0, false

	case c.match(TokenNot):
		if c.match(TokenSelf) {
			return "!self", 0, true
		}
		c.syntaxError(c.previous, "Expected keyword self for unary operator definition.")
		return "", 0, false

	case c.match(TokenLBracket):
		if c.match(TokenRBracket) {
			if c.match(TokenEq) {
				return "[]=", 2, true
			}
			return "[]", 1, true
		}
		c.syntaxError(c.previous, "Invalid operator method symbol.")
		return "", 0, false
	}

	for _, op := range operatorMethods {
		if c.match(op.tok) {
			return op.name, 1, true
		}
	}
	return "", 0, false
}

// compileFunction compiles a function after its def or fn keyword and
// leaves what the function type needs on the stack: nothing for top level
// functions, the closure for literals and methods (bound by BIND_METHOD).
func (c *Compiler) compileFunction(typ funcType) {
	name := "(?)"
	operatorArgc := -1

	switch {
	case typ == funcLiteral:
		name = vm.LiteralFnName
	case c.match(TokenName):
		name = c.previous.Literal
	case typ == funcMethod:
		n, argc, ok := c.matchOperatorMethod()
		if !ok {
			c.syntaxError(c.current, "Expected a function name.")
			return
		}
		name, operatorArgc = n, argc
	default:
		c.syntaxError(c.current, "Expected a function name.")
		return
	}
	if c.hasSyntaxError {
		return
	}
	nameTok := c.previous

	fn, fnIndex := c.vm.NewFunctionObject(name, c.module, "")
	fn.IsMethod = typ == funcMethod
	c.checkConstant(fnIndex)

	globalIndex := -1
	localIndex, newLocal := -1, false
	switch typ {
	case funcTopLevel:
		globalIndex = c.addVariable(name, nameTok.Pos.Line)
	case funcLocal:
		// Defined before the body so the function can call itself.
		if localIndex = findLocal(c.fn, name); localIndex == -1 {
			localIndex = c.addVariable(name, nameTok.Pos.Line)
			newLocal = true
		}
	}

	if typ == funcMethod && name == vm.CtorName {
		typ = funcConstructor
	}

	f := &funcState{}
	c.pushFunc(f, fn, typ)
	c.enterBlock()

	argc := 0
	if c.match(TokenLParen) && !c.match(TokenRParen) {
		for {
			c.skipNewLines()
			c.consume(TokenName, "Expected a parameter name.")
			if c.hasSyntaxError {
				break
			}
			param := c.previous
			if findLocal(c.fn, param.Literal) != -1 {
				c.semanticError(param, "Multiple definition of a parameter.")
			}
			c.addVariable(param.Literal, param.Pos.Line)
			argc++
			c.skipNewLines()
			if !c.match(TokenComma) {
				break
			}
		}
		c.consume(TokenRParen, "Expected ')' after parameter list.")
	}

	if operatorArgc >= 0 && argc != operatorArgc {
		c.semanticError(nameTok, "Expected exactly %d parameters.", operatorArgc)
	}

	fn.Arity = argc
	c.changeStack(argc)

	c.skipNewLines()
	if c.match(TokenString) {
		fn.Docstring = c.previous.Str
	}

	c.compileBlockBody(blockFunc)

	if typ == funcConstructor {
		c.emitOpcode(vm.OpPushSelf)
		c.emitOpcode(vm.OpReturn)
	}

	c.consume(TokenEnd, "Expected 'end' after function definition end.")
	c.exitBlock()
	c.emitFunctionEnd()
	c.popFunc()

	c.emitOpcode(vm.OpPushClosure)
	c.emitShort(fnIndex)
	for _, up := range f.upvalues {
		if up.isImmediate {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(up.index))
	}

	switch typ {
	case funcTopLevel:
		c.emitStoreValue(nameGlobal, globalIndex)
		c.emitOpcode(vm.OpPop)
	case funcLocal:
		// A new local keeps the closure on the stack as its slot.
		if !newLocal {
			c.emitStoreValue(nameLocal, localIndex)
			c.emitOpcode(vm.OpPop)
		}
	case funcMethod, funcConstructor:
		c.emitOpcode(vm.OpBindMethod)
	}
}

// compileBlockBody compiles statements up to the 'end' (or 'else' and
// 'elif' of an if block) without consuming it.
func (c *Compiler) compileBlockBody(typ blockType) {
	c.enterBlock()

	switch typ {
	case blockIf:
		c.consumeStartBlock(TokenThen)
	case blockLoop:
		c.consumeStartBlock(TokenDo)
	}
	c.skipNewLines()

	for !c.hasSyntaxError {
		next := c.peek()
		if next == TokenEnd || next == TokenEOF {
			break
		}
		if typ == blockIf && (next == TokenElse || next == TokenElif) {
			break
		}
		c.compileStatement()
		c.skipNewLines()
	}

	c.exitBlock()
}

// ---------------------------------------------------------------------------
// Imports
// ---------------------------------------------------------------------------

// compileImportPath compiles a module path and emits its IMPORT. A leading
// '.' is relative to the importing script and every '^' goes one directory
// up:
//
//	import foo.bar   -> "foo/bar"
//	import .foo      -> "./foo"
//	import ^^foo     -> "../../foo"
//
// It returns the last name of the path.
func (c *Compiler) compileImportPath() (Token, bool) {
	var path strings.Builder
	if c.match(TokenDot) {
		path.WriteString("./")
	} else {
		for c.match(TokenCaret) {
			path.WriteString("../")
		}
	}

	var last Token
	for first := true; ; first = false {
		c.consume(TokenName, "Expected a module name")
		if c.hasSyntaxError {
			return Token{}, false
		}
		if !first {
			path.WriteByte('/')
		}
		last = c.previous
		path.WriteString(last.Literal)
		if !c.match(TokenDot) {
			break
		}
	}

	index := c.addString(path.String())
	c.emitOpcode(vm.OpImport)
	c.emitShort(index)
	return last, true
}

// compileRegularImport compiles
//
//	import foo, bar.baz as qux
func (c *Compiler) compileRegularImport() {
	for {
		name, ok := c.compileImportPath()
		if !ok {
			return
		}
		if c.match(TokenAs) {
			c.consume(TokenName, "Expected a name after 'as'.")
			if c.hasSyntaxError {
				return
			}
			name = c.previous
		}

		index := c.addVariable(name.Literal, name.Pos.Line)
		c.emitStoreValue(nameGlobal, index)
		c.emitOpcode(vm.OpPop)

		if !c.match(TokenComma) {
			break
		}
		c.skipNewLines()
	}
	c.consumeEndStatement()
}

// compileFromImport compiles
//
//	from foo import bar, baz as qux
func (c *Compiler) compileFromImport() {
	if _, ok := c.compileImportPath(); !ok {
		return
	}
	c.consume(TokenImport, "Expected keyword 'import'.")

	for !c.hasSyntaxError {
		c.skipNewLines()
		c.consume(TokenName, "Expected symbol to import.")
		if c.hasSyntaxError {
			return
		}
		name := c.previous
		attrib := c.addString(name.Literal)

		if c.match(TokenAs) {
			c.consume(TokenName, "Expected a name after 'as'.")
			if c.hasSyntaxError {
				return
			}
			name = c.previous
		}

		// The module stays on the stack for the next symbol.
		c.emitOpcode(vm.OpGetAttribKeep)
		c.emitShort(attrib)

		index := c.addVariable(name.Literal, name.Pos.Line)
		c.emitStoreValue(nameGlobal, index)
		c.emitOpcode(vm.OpPop)

		if !c.match(TokenComma) {
			break
		}
	}

	c.emitOpcode(vm.OpPop)
	c.consumeEndStatement()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileIf compiles an if statement after its 'if', or the rest of an
// if statement after an 'elif', which owns the trailing 'end'.
func (c *Compiler) compileIf(elif bool) {
	c.skipNewLines()
	c.compileExpression()

	c.emitOpcode(vm.OpJumpIfNot)
	ifPatch := c.emitShort(0xffff)

	c.compileBlockBody(blockIf)

	switch {
	case c.match(TokenElif):
		c.emitOpcode(vm.OpJump)
		exitPatch := c.emitShort(0xffff)
		c.patchJump(ifPatch)

		c.enterBlock()
		c.compileIf(true)
		c.exitBlock()

		c.patchJump(exitPatch)

	case c.match(TokenElse):
		c.emitOpcode(vm.OpJump)
		exitPatch := c.emitShort(0xffff)
		c.patchJump(ifPatch)

		c.compileBlockBody(blockElse)
		c.patchJump(exitPatch)

	default:
		c.patchJump(ifPatch)
	}

	if !elif {
		c.skipNewLines()
		c.consume(TokenEnd, "Expected 'end' after statement end.")
	}
}

func (c *Compiler) compileWhile() {
	loop := &loopState{
		start: c.fn.fn.Code.Opcodes.Len(),
		depth: c.scopeDepth,
		outer: c.loop,
	}
	c.loop = loop

	c.compileExpression()
	c.emitOpcode(vm.OpJumpIfNot)
	exitPatch := c.emitShort(0xffff)

	c.compileBlockBody(blockLoop)
	c.emitLoopJump()
	c.patchJump(exitPatch)

	for _, patch := range loop.patches {
		c.patchJump(patch)
	}
	c.loop = loop.outer

	c.skipNewLines()
	c.consume(TokenEnd, "Expected 'end' after statement end.")
}

// compileFor compiles
//
//	for x in seq do ... end
//
// The sequence, the iterator and the iteration variable are locals of a
// block around the loop.
func (c *Compiler) compileFor() {
	c.enterBlock()
	defer c.exitBlock()

	c.consume(TokenName, "Expected an iterator name.")
	iter := c.previous
	c.consume(TokenIn, "Expected 'in' after iterator name.")
	if c.hasSyntaxError {
		return
	}

	// The sequence is evaluated into its own slot.
	c.addVariable("@Sequence", iter.Pos.Line)
	canDefine := c.canDefine
	c.canDefine = false
	c.compileExpression()
	c.canDefine = canDefine

	c.addVariable("@iterator", iter.Pos.Line)
	c.emitOpcode(vm.OpPush0)

	c.addVariable(iter.Literal, iter.Pos.Line)
	c.emitOpcode(vm.OpPushNull)

	c.emitOpcode(vm.OpIterTest)

	loop := &loopState{
		start: c.fn.fn.Code.Opcodes.Len(),
		depth: c.scopeDepth,
		outer: c.loop,
	}
	c.loop = loop

	c.emitOpcode(vm.OpIter)
	forPatch := c.emitShort(0xffff)

	c.compileBlockBody(blockLoop)

	c.emitLoopJump()
	c.patchJump(forPatch)

	for _, patch := range loop.patches {
		c.patchJump(patch)
	}
	c.loop = loop.outer

	c.skipNewLines()
	c.consume(TokenEnd, "Expected 'end' after statement end.")
}

func (c *Compiler) compileBreak() {
	if c.loop == nil {
		c.syntaxError(c.previous, "Cannot use 'break' outside a loop.")
		return
	}
	tok := c.previous
	c.consumeEndStatement()

	// Pop the loop body's locals; the jump lands after the loop.
	c.popLocals(c.loop.depth + 1)

	c.emitOpcode(vm.OpJump)
	patch := c.emitShort(0xffff)

	if len(c.loop.patches) == maxBreakPatches {
		c.semanticError(tok, "Too many break statements (%d).", maxBreakPatches)
		return
	}
	c.loop.patches = append(c.loop.patches, patch)
}

func (c *Compiler) compileContinue() {
	if c.loop == nil {
		c.syntaxError(c.previous, "Cannot use 'continue' outside a loop.")
		return
	}
	c.consumeEndStatement()
	c.popLocals(c.loop.depth + 1)
	c.emitLoopJump()
}

func (c *Compiler) compileReturn() {
	if c.scopeDepth == depthGlobal {
		c.syntaxError(c.previous, "Invalid 'return' outside a function.")
		return
	}

	if c.matchEndStatement() {
		if c.fn.typ == funcConstructor {
			c.emitOpcode(vm.OpPushSelf)
		} else {
			c.emitOpcode(vm.OpPushNull)
		}
		c.emitOpcode(vm.OpReturn)
		return
	}

	if c.fn.typ == funcConstructor {
		c.syntaxError(c.previous, "Cannot 'return' a value from constructor.")
		return
	}

	canDefine := c.canDefine
	c.canDefine = false
	c.compileExpression()
	c.canDefine = canDefine

	// return f(x) reuses the frame of the returning function. Debug builds
	// keep every frame for the backtrace.
	if c.isLastCall && !c.opts.Debug {
		code := &c.fn.fn.Code.Opcodes
		if n := code.Len(); n >= 2 && vm.Opcode(code.Data[n-2]) == vm.OpCall {
			code.Data[n-2] = byte(vm.OpTailCall)
		}
	}

	c.consumeEndStatement()
	c.emitOpcode(vm.OpReturn)
}

func (c *Compiler) compileStatement() {
	isExpression := false
	isTemporary := false

	switch {
	case c.match(TokenBreak):
		c.compileBreak()

	case c.match(TokenContinue):
		c.compileContinue()

	case c.match(TokenReturn):
		c.compileReturn()

	case c.match(TokenIf):
		c.compileIf(false)
		c.matchBlockEnd()

	case c.match(TokenWhile):
		c.compileWhile()
		c.matchBlockEnd()

	case c.match(TokenFor):
		c.compileFor()
		c.matchBlockEnd()

	case c.scopeDepth != depthGlobal && c.match(TokenDef):
		c.compileFunction(funcLocal)
		c.matchBlockEnd()

	default:
		c.newLocal = false
		c.compileExpression()
		c.consumeEndStatement()

		isExpression = true
		isTemporary = !c.newLocal
		c.newLocal = false
	}

	// The REPL prints the value of an expression statement of the module
	// body.
	if c.opts.ReplMode && isExpression && c.fn.fn == c.module.Body.Fn {
		c.emitOpcode(vm.OpReplPrint)
	}
	if isTemporary {
		c.emitOpcode(vm.OpPop)
	}
}

func (c *Compiler) compileTopLevelStatement() {
	switch {
	case c.match(TokenClass):
		c.compileClass()
		c.matchBlockEnd()

	case c.match(TokenDef):
		c.compileFunction(funcTopLevel)
		c.matchBlockEnd()

	case c.match(TokenImport):
		c.compileRegularImport()

	case c.match(TokenFrom):
		c.compileFromImport()

	default:
		c.compileStatement()
	}
}
