package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Multi byte operands are
// big-endian.
type Opcode byte

// Constants and literals
const (
	OpPushConstant Opcode = iota // push constant (16-bit index)
	OpPushNull                   // push null
	OpPush0                      // push number 0
	OpPushTrue                   // push true
	OpPushFalse                  // push false
	OpSwap                       // swap the top two values
	OpDup                        // duplicate the top value
	OpPushList                   // push a new list (16-bit size hint)
	OpPushMap                    // push a new map
	OpPushSelf                   // push self of the current frame
	OpListAppend                 // pop value, append to the list below
	OpMapInsert                  // pop key and value, insert into the map below
)

// Locals, globals and upvalues
const (
	OpPushLocal0 Opcode = iota + OpMapInsert + 1 // push local 0..8
	OpPushLocal1
	OpPushLocal2
	OpPushLocal3
	OpPushLocal4
	OpPushLocal5
	OpPushLocal6
	OpPushLocal7
	OpPushLocal8
	OpPushLocalN // push local (8-bit index)

	OpStoreLocal0 // store top into local 0..8, no pop
	OpStoreLocal1
	OpStoreLocal2
	OpStoreLocal3
	OpStoreLocal4
	OpStoreLocal5
	OpStoreLocal6
	OpStoreLocal7
	OpStoreLocal8
	OpStoreLocalN // store top into local (8-bit index)

	OpPushGlobal    // push module global (8-bit index)
	OpStoreGlobal   // store top into module global (8-bit index)
	OpPushBuiltinFn // push builtin function (8-bit index)
	OpPushBuiltinTy // push builtin class (8-bit index)
	OpPushUpvalue   // push upvalue (8-bit index)
	OpStoreUpvalue  // store top into upvalue (8-bit index)
)

// Functions, classes and modules
const (
	OpPushClosure  Opcode = iota + OpStoreUpvalue + 1 // push closure of function constant (16-bit index), then (is_immediate, index) byte pairs
	OpCreateClass                                     // pop base class, push class constant (16-bit index)
	OpBindMethod                                      // pop closure, add it to the class below
	OpCloseUpvalue                                    // close the upvalue of the top local and pop it
	OpPop                                             // discard the top value
	OpImport                                          // push module named by string constant (16-bit index)
)

// Calls
const (
	OpSuperCall  Opcode = iota + OpImport + 1 // call super method (8-bit argc, 16-bit name)
	OpMethodCall                              // call method (8-bit argc, 16-bit name)
	OpCall                                    // call callable below the arguments (8-bit argc)
	OpTailCall                                // call reusing the current frame (8-bit argc)
)

// Iteration and control flow
const (
	OpIterTest  Opcode = iota + OpTailCall + 1 // check that the sequence is iterable
	OpIter                                     // advance the iterator or jump out (16-bit offset)
	OpJump                                     // jump forward (16-bit offset)
	OpLoop                                     // jump backward (16-bit offset)
	OpJumpIf                                   // pop, jump if truthy (16-bit offset)
	OpJumpIfNot                                // pop, jump if falsy (16-bit offset)
	OpOr                                       // jump if top is truthy, else pop (16-bit offset)
	OpAnd                                      // jump if top is falsy, else pop (16-bit offset)
	OpReturn                                   // pop the return value and leave the frame
)

// Attributes and subscripts
const (
	OpGetAttrib       Opcode = iota + OpReturn + 1 // replace top with its attribute (16-bit name)
	OpGetAttribKeep                                // push attribute of top (16-bit name)
	OpSetAttrib                                    // pop value and object, set attribute, push value (16-bit name)
	OpGetSubscript                                 // pop key and object, push element
	OpGetSubscriptKeep                             // push element, keeping key and object
	OpSetSubscript                                 // pop value, key and object, push value
)

// Operators
const (
	OpPositive Opcode = iota + OpSetSubscript + 1
	OpNegative
	OpNot
	OpBitNot

	OpAdd // binary operators take an 8-bit inplace flag
	OpSubtract
	OpMultiply
	OpDivide
	OpExponent
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitLshift
	OpBitRshift

	OpEqEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq

	OpRange
	OpIn
	OpIs

	OpReplPrint // print the repr of the top value, no pop
	OpEnd       // end marker of a function, never executed
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack; calls are computed by the compiler
}

// opcodeTable is indexed by opcode.
var opcodeTable = [...]OpcodeInfo{
	OpPushConstant: {"PUSH_CONSTANT", 2, 1},
	OpPushNull:     {"PUSH_NULL", 0, 1},
	OpPush0:        {"PUSH_0", 0, 1},
	OpPushTrue:     {"PUSH_TRUE", 0, 1},
	OpPushFalse:    {"PUSH_FALSE", 0, 1},
	OpSwap:         {"SWAP", 0, 0},
	OpDup:          {"DUP", 0, 1},
	OpPushList:     {"PUSH_LIST", 2, 1},
	OpPushMap:      {"PUSH_MAP", 0, 1},
	OpPushSelf:     {"PUSH_SELF", 0, 1},
	OpListAppend:   {"LIST_APPEND", 0, -1},
	OpMapInsert:    {"MAP_INSERT", 0, -2},

	OpPushLocal0:  {"PUSH_LOCAL_0", 0, 1},
	OpPushLocal1:  {"PUSH_LOCAL_1", 0, 1},
	OpPushLocal2:  {"PUSH_LOCAL_2", 0, 1},
	OpPushLocal3:  {"PUSH_LOCAL_3", 0, 1},
	OpPushLocal4:  {"PUSH_LOCAL_4", 0, 1},
	OpPushLocal5:  {"PUSH_LOCAL_5", 0, 1},
	OpPushLocal6:  {"PUSH_LOCAL_6", 0, 1},
	OpPushLocal7:  {"PUSH_LOCAL_7", 0, 1},
	OpPushLocal8:  {"PUSH_LOCAL_8", 0, 1},
	OpPushLocalN:  {"PUSH_LOCAL_N", 1, 1},
	OpStoreLocal0: {"STORE_LOCAL_0", 0, 0},
	OpStoreLocal1: {"STORE_LOCAL_1", 0, 0},
	OpStoreLocal2: {"STORE_LOCAL_2", 0, 0},
	OpStoreLocal3: {"STORE_LOCAL_3", 0, 0},
	OpStoreLocal4: {"STORE_LOCAL_4", 0, 0},
	OpStoreLocal5: {"STORE_LOCAL_5", 0, 0},
	OpStoreLocal6: {"STORE_LOCAL_6", 0, 0},
	OpStoreLocal7: {"STORE_LOCAL_7", 0, 0},
	OpStoreLocal8: {"STORE_LOCAL_8", 0, 0},
	OpStoreLocalN: {"STORE_LOCAL_N", 1, 0},

	OpPushGlobal:    {"PUSH_GLOBAL", 1, 1},
	OpStoreGlobal:   {"STORE_GLOBAL", 1, 0},
	OpPushBuiltinFn: {"PUSH_BUILTIN_FN", 1, 1},
	OpPushBuiltinTy: {"PUSH_BUILTIN_TY", 1, 1},
	OpPushUpvalue:   {"PUSH_UPVALUE", 1, 1},
	OpStoreUpvalue:  {"STORE_UPVALUE", 1, 0},

	OpPushClosure:  {"PUSH_CLOSURE", 2, 1},
	OpCreateClass:  {"CREATE_CLASS", 2, 0},
	OpBindMethod:   {"BIND_METHOD", 0, -1},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 0, -1},
	OpPop:          {"POP", 0, -1},
	OpImport:       {"IMPORT", 2, 1},

	OpSuperCall:  {"SUPER_CALL", 3, 0},
	OpMethodCall: {"METHOD_CALL", 3, 0},
	OpCall:       {"CALL", 1, 0},
	OpTailCall:   {"TAIL_CALL", 1, 0},

	OpIterTest:  {"ITER_TEST", 0, 0},
	OpIter:      {"ITER", 2, 0},
	OpJump:      {"JUMP", 2, 0},
	OpLoop:      {"LOOP", 2, 0},
	OpJumpIf:    {"JUMP_IF", 2, -1},
	OpJumpIfNot: {"JUMP_IF_NOT", 2, -1},
	OpOr:        {"OR", 2, -1},
	OpAnd:       {"AND", 2, -1},
	OpReturn:    {"RETURN", 0, -1},

	OpGetAttrib:        {"GET_ATTRIB", 2, 0},
	OpGetAttribKeep:    {"GET_ATTRIB_KEEP", 2, 1},
	OpSetAttrib:        {"SET_ATTRIB", 2, -1},
	OpGetSubscript:     {"GET_SUBSCRIPT", 0, -1},
	OpGetSubscriptKeep: {"GET_SUBSCRIPT_KEEP", 0, 1},
	OpSetSubscript:     {"SET_SUBSCRIPT", 0, -2},

	OpPositive: {"POSITIVE", 0, 0},
	OpNegative: {"NEGATIVE", 0, 0},
	OpNot:      {"NOT", 0, 0},
	OpBitNot:   {"BIT_NOT", 0, 0},

	OpAdd:       {"ADD", 1, -1},
	OpSubtract:  {"SUBTRACT", 1, -1},
	OpMultiply:  {"MULTIPLY", 1, -1},
	OpDivide:    {"DIVIDE", 1, -1},
	OpExponent:  {"EXPONENT", 1, -1},
	OpMod:       {"MOD", 1, -1},
	OpBitAnd:    {"BIT_AND", 1, -1},
	OpBitOr:     {"BIT_OR", 1, -1},
	OpBitXor:    {"BIT_XOR", 1, -1},
	OpBitLshift: {"BIT_LSHIFT", 1, -1},
	OpBitRshift: {"BIT_RSHIFT", 1, -1},

	OpEqEq:  {"EQEQ", 0, -1},
	OpNotEq: {"NOTEQ", 0, -1},
	OpLt:    {"LT", 0, -1},
	OpLtEq:  {"LTEQ", 0, -1},
	OpGt:    {"GT", 0, -1},
	OpGtEq:  {"GTEQ", 0, -1},

	OpRange: {"RANGE", 0, -1},
	OpIn:    {"IN", 0, -1},
	OpIs:    {"IS", 0, -1},

	OpReplPrint: {"REPL_PRINT", 0, 0},
	OpEnd:       {"END", 0, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if int(op) < len(opcodeTable) && opcodeTable[op].Name != "" {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// StackEffect returns the net stack change of an opcode.
func (op Opcode) StackEffect() int {
	return op.Info().StackEffect
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeReader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly and image validation.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadOperand())
}

// ReadOperand reads a single byte operand.
func (r *BytecodeReader) ReadOperand() byte {
	if r.pos >= len(r.bytes) {
		fatalf("bytecode underflow at %d", r.pos)
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a big-endian 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		fatalf("bytecode underflow at %d", r.pos)
	}
	v := binary.BigEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}
