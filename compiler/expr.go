package compiler

import (
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ---------------------------------------------------------------------------
// Precedence climbing
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone         precedence = iota
	precLowest                  //
	precLogicalOr               // or
	precLogicalAnd              // and
	precEquality                // == !=
	precTest                    // in is
	precComparison              // < > <= >=
	precBitwiseOr               // |
	precBitwiseXor              // ^
	precBitwiseAnd              // &
	precBitwiseShift            // << >>
	precRange                   // ..
	precTerm                    // + -
	precFactor                  // * / %
	precUnary                   // - ! ~ not
	precExponent                // **
	precCall                    // ()
	precSubscript               // []
	precAttrib                  // .name
	precPrimary
)

type grammarFn func(c *Compiler)

type grammarRule struct {
	prefix grammarFn
	infix  grammarFn
	prec   precedence
}

// rules is filled in init: the grammar functions refer back to it.
var rules [tokenCount]grammarRule

func init() {
	rules = [tokenCount]grammarRule{
		TokenDot:          {nil, (*Compiler).exprAttrib, precAttrib},
		TokenDotDot:       {nil, (*Compiler).exprBinaryOp, precRange},
		TokenLParen:       {(*Compiler).exprGrouping, (*Compiler).exprCall, precCall},
		TokenLBracket:     {(*Compiler).exprList, (*Compiler).exprSubscript, precSubscript},
		TokenLBrace:       {(*Compiler).exprMap, nil, precNone},
		TokenPercent:      {nil, (*Compiler).exprBinaryOp, precFactor},
		TokenTilde:        {(*Compiler).exprUnaryOp, nil, precNone},
		TokenAmp:          {nil, (*Compiler).exprBinaryOp, precBitwiseAnd},
		TokenPipe:         {nil, (*Compiler).exprBinaryOp, precBitwiseOr},
		TokenCaret:        {nil, (*Compiler).exprBinaryOp, precBitwiseXor},
		TokenPlus:         {(*Compiler).exprUnaryOp, (*Compiler).exprBinaryOp, precTerm},
		TokenMinus:        {(*Compiler).exprUnaryOp, (*Compiler).exprBinaryOp, precTerm},
		TokenStar:         {nil, (*Compiler).exprBinaryOp, precFactor},
		TokenSlash:        {nil, (*Compiler).exprBinaryOp, precFactor},
		TokenStarStar:     {nil, (*Compiler).exprBinaryOp, precExponent},
		TokenGt:           {nil, (*Compiler).exprBinaryOp, precComparison},
		TokenLt:           {nil, (*Compiler).exprBinaryOp, precComparison},
		TokenEqEq:         {nil, (*Compiler).exprBinaryOp, precEquality},
		TokenNotEq:        {nil, (*Compiler).exprBinaryOp, precEquality},
		TokenGtEq:         {nil, (*Compiler).exprBinaryOp, precComparison},
		TokenLtEq:         {nil, (*Compiler).exprBinaryOp, precComparison},
		TokenShiftRight:   {nil, (*Compiler).exprBinaryOp, precBitwiseShift},
		TokenShiftLeft:    {nil, (*Compiler).exprBinaryOp, precBitwiseShift},
		TokenFn:           {(*Compiler).exprFunction, nil, precNone},
		TokenNull:         {(*Compiler).exprValue, nil, precNone},
		TokenIn:           {nil, (*Compiler).exprBinaryOp, precTest},
		TokenIs:           {nil, (*Compiler).exprBinaryOp, precTest},
		TokenAnd:          {nil, (*Compiler).exprAnd, precLogicalAnd},
		TokenOr:           {nil, (*Compiler).exprOr, precLogicalOr},
		TokenNot:          {(*Compiler).exprUnaryOp, nil, precNone},
		TokenTrue:         {(*Compiler).exprValue, nil, precNone},
		TokenFalse:        {(*Compiler).exprValue, nil, precNone},
		TokenSelf:         {(*Compiler).exprSelf, nil, precNone},
		TokenSuper:        {(*Compiler).exprSuper, nil, precNone},
		TokenName:         {(*Compiler).exprName, nil, precNone},
		TokenNumber:       {(*Compiler).exprLiteral, nil, precNone},
		TokenString:       {(*Compiler).exprLiteral, nil, precNone},
		TokenStringInterp: {(*Compiler).exprInterpolation, nil, precNone},
	}
}

type binaryOp struct {
	op      vm.Opcode
	inplace bool // takes the inplace flag operand
}

var binaryOps = map[TokenType]binaryOp{
	TokenDotDot:     {vm.OpRange, false},
	TokenPercent:    {vm.OpMod, true},
	TokenPlus:       {vm.OpAdd, true},
	TokenMinus:      {vm.OpSubtract, true},
	TokenStar:       {vm.OpMultiply, true},
	TokenSlash:      {vm.OpDivide, true},
	TokenStarStar:   {vm.OpExponent, true},
	TokenAmp:        {vm.OpBitAnd, true},
	TokenPipe:       {vm.OpBitOr, true},
	TokenCaret:      {vm.OpBitXor, true},
	TokenShiftRight: {vm.OpBitRshift, true},
	TokenShiftLeft:  {vm.OpBitLshift, true},
	TokenGt:         {vm.OpGt, false},
	TokenLt:         {vm.OpLt, false},
	TokenEqEq:       {vm.OpEqEq, false},
	TokenNotEq:      {vm.OpNotEq, false},
	TokenGtEq:       {vm.OpGtEq, false},
	TokenLtEq:       {vm.OpLtEq, false},
	TokenIn:         {vm.OpIn, false},
	TokenIs:         {vm.OpIs, false},
}

var unaryOps = map[TokenType]vm.Opcode{
	TokenTilde: vm.OpBitNot,
	TokenPlus:  vm.OpPositive,
	TokenMinus: vm.OpNegative,
	TokenNot:   vm.OpNot,
}

func (c *Compiler) compileExpression() {
	c.parsePrecedence(precLowest)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.lexToken()
	if c.hasSyntaxError {
		return
	}

	prefix := rules[c.previous.Type].prefix
	if prefix == nil {
		c.syntaxError(c.previous, "Expected an expression.")
		return
	}

	lValue, canDefine := c.lValue, c.canDefine

	// Only a bare name can define a variable.
	if c.previous.Type != TokenName {
		c.canDefine = false
	}

	c.lValue = prec <= precLowest
	prefix(c)

	// An infix expression is never a definition.
	c.canDefine = false
	c.isLastCall = false

	for rules[c.current.Type].prec >= prec {
		c.lexToken()
		if c.hasSyntaxError {
			return
		}
		op := c.previous.Type
		rules[op].infix(c)
		c.isLastCall = op == TokenLParen
	}

	c.lValue, c.canDefine = lValue, canDefine
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// compileCall compiles the arguments of a call and emits op. method is
// the name constant of METHOD_CALL and SUPER_CALL.
func (c *Compiler) compileCall(op vm.Opcode, method int) {
	argc := 0
	if c.optionalCallParen {
		c.optionalCallParen = false
		c.compileExpression()
		argc = 1
	} else if !c.match(TokenRParen) {
		for {
			c.skipNewLines()
			c.compileExpression()
			c.skipNewLines()
			argc++
			if !c.match(TokenComma) {
				break
			}
		}
		c.consume(TokenRParen, "Expected ')' after parameter list.")
	}

	if argc > maxCallArgs {
		c.semanticError(c.previous, "A function call can have at most %d arguments.", maxCallArgs)
	}

	c.emitOpcode(op)
	c.emitByte(byte(argc))
	if op == vm.OpMethodCall || op == vm.OpSuperCall {
		c.emitShort(method)
	}

	// The arguments are popped and the callable is replaced by the result.
	c.changeStack(-argc)
}

// compileOptionalParenCall compiles a call without parentheses whose only
// argument is a function literal:
//
//	list.each fn(x) print(x) end
func (c *Compiler) compileOptionalParenCall(method int) bool {
	if c.peek() != TokenFn {
		return false
	}
	c.optionalCallParen = true
	if method >= 0 {
		c.compileCall(vm.OpMethodCall, method)
	} else {
		c.compileCall(vm.OpCall, -1)
	}
	return true
}

// ---------------------------------------------------------------------------
// Prefix expressions
// ---------------------------------------------------------------------------

func (c *Compiler) exprLiteral() {
	var index int
	if tok := c.previous; tok.Type == TokenNumber {
		index = c.addConstant(vm.NumberValue(tok.Number))
	} else {
		index = c.addString(tok.Str)
	}
	c.emitOpcode(vm.OpPushConstant)
	c.emitShort(index)
}

// exprInterpolation compiles "Hello $name!" as list_join(["Hello ", name, "!"]).
func (c *Compiler) exprInterpolation() {
	c.emitOpcode(vm.OpPushBuiltinFn)
	c.emitByte(byte(c.listJoin))

	c.emitOpcode(vm.OpPushList)
	sizeIndex := c.emitShort(0)

	size := 0
	for {
		c.exprLiteral()
		c.emitOpcode(vm.OpListAppend)
		size++

		c.skipNewLines()
		c.compileExpression()
		c.emitOpcode(vm.OpListAppend)
		size++
		c.skipNewLines()

		if !c.match(TokenStringInterp) {
			break
		}
	}

	c.consume(TokenString, "Non terminated interpolated string.")
	if c.previous.Type == TokenString && c.previous.Str != "" {
		c.exprLiteral()
		c.emitOpcode(vm.OpListAppend)
		size++
	}
	c.patchListSize(sizeIndex, size)

	c.emitOpcode(vm.OpCall)
	c.emitByte(1)
	c.changeStack(-1)
}

func (c *Compiler) exprFunction() {
	canDefine := c.canDefine
	c.canDefine = true
	c.compileFunction(funcLiteral)
	c.canDefine = canDefine
}

func (c *Compiler) exprName() {
	tok := c.previous
	name := tok.Literal
	typ, index := c.searchName(name)

	if !c.lValue || !c.matchAssignment() {
		if typ == nameNotDefined {
			// Inside a function the name may be a global defined later.
			if c.scopeDepth == depthGlobal {
				c.semanticError(tok, "Name '%s' is not defined.", name)
			} else {
				c.emitOpcode(vm.OpPushGlobal)
				instruction := c.emitByte(0xff)
				c.addForward(instruction, c.fn.fn, tok)
			}
		} else {
			c.emitPushValue(typ, index)
		}
		c.compileOptionalParenCall(-1)
		return
	}

	assignment := c.previous.Type
	c.skipNewLines()

	newLocal := false
	if assignment == TokenEq {
		// Assigning to an undefined name or a builtin defines a variable in
		// the current scope.
		if typ == nameNotDefined || typ == nameBuiltinFn || typ == nameBuiltinTy {
			if c.scopeDepth == depthGlobal {
				typ = nameGlobal
			} else {
				typ = nameLocal
				newLocal = true
			}
			index = c.addVariable(name, tok.Pos.Line)
			if !c.canDefine {
				c.semanticError(tok, "Variable definition isn't allowed here.")
			}
		}

		canDefine := c.canDefine
		c.canDefine = false
		c.compileExpression()
		c.canDefine = canDefine
	} else {
		if typ == nameNotDefined {
			c.semanticError(tok, "Name '%s' is not defined.", name)
		}
		c.emitPushValue(typ, index)
		c.compileExpression()
		c.emitAssignedOp(assignment)
	}

	if newLocal {
		// The value already sits in the local's slot.
		c.newLocal = true
		if !c.hasErrors && c.fn.stackSize-1 != index {
			panic(&vm.FatalError{Message: "new local is not at the stack top"})
		}
		return
	}
	c.emitStoreValue(typ, index)
}

// exprOr compiles a or b. OR jumps over b when a is truthy, leaving a on
// the stack; otherwise it pops a and b is evaluated. and is alike.
func (c *Compiler) exprOr() {
	c.emitOpcode(vm.OpOr)
	patch := c.emitShort(0xffff)
	c.skipNewLines()
	c.parsePrecedence(precLogicalOr)
	c.patchJump(patch)
}

func (c *Compiler) exprAnd() {
	c.emitOpcode(vm.OpAnd)
	patch := c.emitShort(0xffff)
	c.skipNewLines()
	c.parsePrecedence(precLogicalAnd)
	c.patchJump(patch)
}

func (c *Compiler) exprBinaryOp() {
	tok := c.previous.Type
	c.skipNewLines()
	c.parsePrecedence(rules[tok].prec + 1)

	op, ok := binaryOps[tok]
	if !ok {
		panic(&vm.FatalError{Message: tok.String() + " is not a binary operator"})
	}
	c.emitOpcode(op.op)
	if op.inplace {
		c.emitByte(0)
	}
}

func (c *Compiler) exprUnaryOp() {
	tok := c.previous.Type
	c.skipNewLines()
	c.parsePrecedence(precUnary + 1)
	c.emitOpcode(unaryOps[tok])
}

func (c *Compiler) exprGrouping() {
	c.skipNewLines()
	c.compileExpression()
	c.skipNewLines()
	c.consume(TokenRParen, "Expected ')' after expression.")
}

func (c *Compiler) exprList() {
	c.emitOpcode(vm.OpPushList)
	sizeIndex := c.emitShort(0)

	size := 0
	for {
		c.skipNewLines()
		if c.peek() == TokenRBracket {
			break
		}
		c.compileExpression()
		c.emitOpcode(vm.OpListAppend)
		size++
		c.skipNewLines()
		if !c.match(TokenComma) {
			break
		}
	}

	c.skipNewLines()
	c.consume(TokenRBracket, "Expected ']' after list elements.")
	c.patchListSize(sizeIndex, size)
}

func (c *Compiler) exprMap() {
	c.emitOpcode(vm.OpPushMap)

	for {
		c.skipNewLines()
		if c.peek() == TokenRBrace {
			break
		}
		c.compileExpression()
		c.consume(TokenColon, "Expected ':' after map's key.")
		c.compileExpression()
		c.emitOpcode(vm.OpMapInsert)
		c.skipNewLines()
		if !c.match(TokenComma) {
			break
		}
	}

	c.skipNewLines()
	c.consume(TokenRBrace, "Expected '}' after map elements.")
}

func (c *Compiler) exprValue() {
	switch c.previous.Type {
	case TokenNull:
		c.emitOpcode(vm.OpPushNull)
	case TokenTrue:
		c.emitOpcode(vm.OpPushTrue)
	case TokenFalse:
		c.emitOpcode(vm.OpPushFalse)
	}
}

func (c *Compiler) exprSelf() {
	if c.fn.typ == funcMethod || c.fn.typ == funcConstructor {
		c.emitOpcode(vm.OpPushSelf)
		return
	}
	if c.parsingClass {
		c.semanticError(c.previous, "Cannot use 'self' inside a closure.")
	} else {
		c.semanticError(c.previous, "Invalid use of 'self'.")
	}
}

// exprSuper compiles super.name(...) and super(...), which calls the
// method of the same name in the super class.
func (c *Compiler) exprSuper() {
	if c.fn.typ != funcMethod && c.fn.typ != funcConstructor {
		c.semanticError(c.previous, "Invalid use of 'super'.")
		return
	}

	name := c.fn.fn.Name
	if !c.match(TokenLParen) {
		c.consume(TokenDot, "Invalid use of 'super'.")
		c.consume(TokenName, "Expected a method name after 'super'.")
		name = c.previous.Literal
		c.consume(TokenLParen, "Expected symbol '('.")
	}
	if c.hasSyntaxError {
		return
	}

	c.emitOpcode(vm.OpPushSelf)
	c.compileCall(vm.OpSuperCall, c.addString(name))
}

// ---------------------------------------------------------------------------
// Infix expressions
// ---------------------------------------------------------------------------

func (c *Compiler) exprCall() {
	c.compileCall(vm.OpCall, -1)
}

func (c *Compiler) exprAttrib() {
	c.consume(TokenName, "Expected an attribute name after '.'.")
	index := c.addString(c.previous.Literal)

	if c.match(TokenLParen) {
		c.compileCall(vm.OpMethodCall, index)
		return
	}
	if c.compileOptionalParenCall(index) {
		return
	}

	if !c.lValue || !c.matchAssignment() {
		c.emitOpcode(vm.OpGetAttrib)
		c.emitShort(index)
		return
	}

	assignment := c.previous.Type
	c.skipNewLines()
	if assignment != TokenEq {
		c.emitOpcode(vm.OpGetAttribKeep)
		c.emitShort(index)
		c.compileExpression()
		c.emitAssignedOp(assignment)
	} else {
		c.compileExpression()
	}
	c.emitOpcode(vm.OpSetAttrib)
	c.emitShort(index)
}

func (c *Compiler) exprSubscript() {
	c.compileExpression()
	c.consume(TokenRBracket, "Expected ']' after subscription ends.")

	if !c.lValue || !c.matchAssignment() {
		c.emitOpcode(vm.OpGetSubscript)
		return
	}

	assignment := c.previous.Type
	c.skipNewLines()
	if assignment != TokenEq {
		c.emitOpcode(vm.OpGetSubscriptKeep)
		c.compileExpression()
		c.emitAssignedOp(assignment)
	} else {
		c.compileExpression()
	}
	c.emitOpcode(vm.OpSetSubscript)
}
