package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

const (
	// maxInterpDepth is how deep ${...} interpolations may nest.
	maxInterpDepth = 8

	// Longest binary and hex literals, prefix included.
	maxBinLiteral = 66
	maxHexLiteral = 18
)

// LexError is an error found while lexing. Syntax errors stop the lexer;
// other errors are reported and lexing goes on.
type LexError struct {
	Pos     Position
	Length  int
	Message string
	Syntax  bool
}

func (e LexError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Lexer tokenizes pocket source code.
type Lexer struct {
	input string
	pos   int // offset of the next character
	line  int // current line (1-based)

	lineStart int // offset of the current line start
	start     int // offset of the token being lexed
	startPos  Position

	// Interpolation state. siOpenBrace counts the '{' opened at each depth
	// so a '}' closing the interpolation can be told apart from one closing
	// a map literal inside it.
	siDepth     int
	siOpenBrace [maxInterpDepth]int
	siQuote     [maxInterpDepth]byte

	// siNameEnd is where a $name interpolation ends, or -1.
	siNameEnd   int
	siNameQuote byte

	failed  bool
	errors  []LexError
	onError func(LexError)
}

// NewLexer creates a new lexer for the given input. A leading UTF-8 byte
// order mark is skipped.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1, siNameEnd: -1}
	if strings.HasPrefix(input, "\xEF\xBB\xBF") {
		l.pos = 3
		l.lineStart = 3
	}
	return l
}

// Errors returns the errors found so far.
func (l *Lexer) Errors() []LexError {
	return l.errors
}

// Failed reports whether a syntax error stopped the lexer.
func (l *Lexer) Failed() bool {
	return l.failed
}

// Tokenize lexes the whole input. The returned tokens end with EOF, or
// with an ERROR token after a syntax error.
func Tokenize(input string) ([]Token, []LexError) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || l.failed {
			return tokens, l.errors
		}
	}
}

func (l *Lexer) peekChar() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekNextChar() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *Lexer) eatChar() byte {
	c := l.peekChar()
	if l.pos < len(l.input) {
		l.pos++
	}
	if c == '\n' {
		l.line++
		l.lineStart = l.pos
	}
	return c
}

func (l *Lexer) matchChar(c byte) bool {
	if l.peekChar() != c {
		return false
	}
	l.eatChar()
	return true
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.pos - l.lineStart + 1}
}

func (l *Lexer) makeToken(typ TokenType) Token {
	return Token{Type: typ, Literal: l.input[l.start:l.pos], Pos: l.startPos}
}

func (l *Lexer) errToken() Token {
	return l.makeToken(TokenError)
}

func (l *Lexer) report(tok Token, syntax bool, format string, args ...any) {
	if syntax {
		if l.failed {
			return
		}
		l.failed = true
	}
	e := LexError{Pos: tok.Pos, Length: len(tok.Literal), Message: fmt.Sprintf(format, args...), Syntax: syntax}
	l.errors = append(l.errors, e)
	if l.onError != nil {
		l.onError(e)
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	for l.peekChar() != 0 {
		l.start = l.pos
		l.startPos = l.position()

		// The character after the name of a $name interpolation resumes
		// the string.
		if l.siNameEnd != -1 && l.pos == l.siNameEnd {
			l.siNameEnd = -1
			return l.readString(l.siNameQuote)
		}

		c := l.eatChar()
		switch c {
		case '{':
			if l.siDepth > 0 {
				l.siOpenBrace[l.siDepth-1]++
			}
			return l.makeToken(TokenLBrace)

		case '}':
			if l.siDepth > 0 {
				if l.siOpenBrace[l.siDepth-1] == 0 {
					quote := l.siQuote[l.siDepth-1]
					l.siDepth--
					return l.readString(quote)
				}
				l.siOpenBrace[l.siDepth-1]--
			}
			return l.makeToken(TokenRBrace)

		case ',':
			return l.makeToken(TokenComma)
		case ':':
			return l.makeToken(TokenColon)
		case ';':
			return l.makeToken(TokenSemicolon)
		case '(':
			return l.makeToken(TokenLParen)
		case ')':
			return l.makeToken(TokenRParen)
		case '[':
			return l.makeToken(TokenLBracket)
		case ']':
			return l.makeToken(TokenRBracket)
		case '~':
			return l.makeToken(TokenTilde)
		case '\n':
			return l.makeToken(TokenLine)

		case '#':
			for l.peekChar() != 0 && l.peekChar() != '\n' {
				l.eatChar()
			}

		case ' ', '\t', '\r':
			for c := l.peekChar(); c == ' ' || c == '\t' || c == '\r'; c = l.peekChar() {
				l.eatChar()
			}

		case '%':
			return l.twoCharToken('=', TokenPercent, TokenModEq)
		case '&':
			return l.twoCharToken('=', TokenAmp, TokenAndEq)
		case '|':
			return l.twoCharToken('=', TokenPipe, TokenOrEq)
		case '^':
			return l.twoCharToken('=', TokenCaret, TokenXorEq)
		case '=':
			return l.twoCharToken('=', TokenEq, TokenEqEq)
		case '!':
			return l.twoCharToken('=', TokenNot, TokenNotEq)
		case '+':
			return l.twoCharToken('=', TokenPlus, TokenPlusEq)
		case '/':
			return l.twoCharToken('=', TokenSlash, TokenSlashEq)

		case '.':
			if l.matchChar('.') {
				return l.makeToken(TokenDotDot)
			}
			if isDigit(l.peekChar()) {
				return l.readNumber()
			}
			return l.makeToken(TokenDot)

		case '>':
			if l.matchChar('>') {
				return l.twoCharToken('=', TokenShiftRight, TokenShiftRightEq)
			}
			return l.twoCharToken('=', TokenGt, TokenGtEq)

		case '<':
			if l.matchChar('<') {
				return l.twoCharToken('=', TokenShiftLeft, TokenShiftLeftEq)
			}
			return l.twoCharToken('=', TokenLt, TokenLtEq)

		case '-':
			if l.matchChar('=') {
				return l.makeToken(TokenMinusEq)
			}
			if l.matchChar('>') {
				return l.makeToken(TokenArrow)
			}
			return l.makeToken(TokenMinus)

		case '*':
			if l.matchChar('*') {
				return l.twoCharToken('=', TokenStarStar, TokenPowEq)
			}
			return l.twoCharToken('=', TokenStar, TokenStarEq)

		case '"', '\'':
			return l.readString(c)

		default:
			switch {
			case isDigit(c):
				return l.readNumber()
			case isNameStart(c):
				return l.readName()
			}
			tok := l.errToken()
			if c >= 32 && c <= 126 {
				l.report(tok, true, "Invalid character '%c'", c)
			} else {
				l.report(tok, true, "Invalid byte 0x%x", c)
			}
			return tok
		}
	}

	l.start = l.pos
	l.startPos = l.position()
	return l.makeToken(TokenEOF)
}

func (l *Lexer) twoCharToken(c byte, one, two TokenType) Token {
	if l.matchChar(c) {
		return l.makeToken(two)
	}
	return l.makeToken(one)
}

func (l *Lexer) readName() Token {
	for c := l.peekChar(); isNameStart(c) || isDigit(c); c = l.peekChar() {
		l.eatChar()
	}
	if typ, ok := keywords[l.input[l.start:l.pos]]; ok {
		return l.makeToken(typ)
	}
	return l.makeToken(TokenName)
}

// readNumber lexes a decimal, 0x hex or 0b binary literal whose first
// character has been consumed.
func (l *Lexer) readNumber() Token {
	first := l.input[l.start]
	var value float64

	switch {
	case first == '0' && (l.peekChar() == 'b' || l.peekChar() == 'B'):
		l.eatChar()
		if !isBinDigit(l.peekChar()) {
			tok := l.errToken()
			l.report(tok, true, "Invalid binary literal.")
			return tok
		}
		var bin uint64
		for isBinDigit(l.peekChar()) {
			c := l.eatChar()
			if l.pos-l.start > maxBinLiteral {
				l.report(l.errToken(), false, "Binary literal is too long.")
				break
			}
			bin = bin<<1 | uint64(c-'0')
		}
		value = float64(bin)

	case first == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X'):
		l.eatChar()
		if !isHexDigit(l.peekChar()) {
			tok := l.errToken()
			l.report(tok, true, "Invalid hex literal.")
			return tok
		}
		var hex uint64
		for isHexDigit(l.peekChar()) {
			c := l.eatChar()
			if l.pos-l.start > maxHexLiteral {
				l.report(l.errToken(), false, "Hex literal is too long.")
				break
			}
			hex = hex<<4 | uint64(hexValue(c))
		}
		value = float64(hex)

	default:
		for isDigit(l.peekChar()) {
			l.eatChar()
		}
		if first != '.' && l.peekChar() == '.' && isDigit(l.peekNextChar()) {
			l.eatChar()
			for isDigit(l.peekChar()) {
				l.eatChar()
			}
		}

		// Scientific notation: MeN == M * 10 ** N.
		if l.matchChar('e') || l.matchChar('E') {
			if l.peekChar() == '+' || l.peekChar() == '-' {
				l.eatChar()
			}
			if !isDigit(l.peekChar()) {
				tok := l.errToken()
				l.report(tok, true, "Invalid number literal.")
				return tok
			}
			for isDigit(l.peekChar()) {
				l.eatChar()
			}
		}

		text := l.input[l.start:l.pos]
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				l.report(l.errToken(), false, "Number literal is too large (%s).", text)
			} else {
				l.report(l.errToken(), false, "Invalid number literal.")
			}
			n = 0
		}
		value = n
	}

	tok := l.makeToken(TokenNumber)
	tok.Number = value
	return tok
}

// readString lexes a string up to the closing quote or the next
// interpolation, whichever comes first.
func (l *Lexer) readString(quote byte) Token {
	var b strings.Builder
	typ := TokenString

	for {
		c := l.eatChar()
		if c == quote {
			break
		}

		if c == 0 {
			tok := l.errToken()
			l.report(tok, true, "Non terminated string.")
			return tok
		}

		if c == '$' {
			if l.siDepth >= maxInterpDepth {
				l.report(l.errToken(), false,
					"Maximum interpolation level reached (can only interpolate upto depth %d).", maxInterpDepth)
				break
			}
			typ = TokenStringInterp

			next := l.peekChar()
			if next == '{' {
				l.eatChar()
				l.siDepth++
				l.siQuote[l.siDepth-1] = quote
				l.siOpenBrace[l.siDepth-1] = 0
				break
			}
			if !isNameStart(next) {
				tok := l.errToken()
				l.report(tok, true, "Expected '{' or identifier after '$'.")
				return tok
			}
			end := l.pos
			for end < len(l.input) && (isNameStart(l.input[end]) || isDigit(l.input[end])) {
				end++
			}
			l.siNameEnd = end
			l.siNameQuote = quote
			break
		}

		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		switch e := l.eatChar(); e {
		case '"', '\'', '\\', '$':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		case '\n':
			// Line continuation.
		case 'x':
			if v, ok := l.readHexEscape(2, "Invalid hex escape."); ok {
				b.WriteByte(byte(v))
			}
		case 'u':
			if v, ok := l.readHexEscape(4, "Invalid unicode escape."); ok {
				b.WriteRune(rune(v))
			}
		case '\r':
			if l.matchChar('\n') {
				break
			}
			l.report(l.errToken(), false, "Invalid escape character.")
		default:
			l.report(l.errToken(), false, "Invalid escape character.")
		}
	}

	tok := l.makeToken(typ)
	tok.Str = b.String()
	return tok
}

func (l *Lexer) readHexEscape(digits int, msg string) (uint32, bool) {
	var v uint32
	for range digits {
		c := l.eatChar()
		if !isHexDigit(c) {
			l.report(l.errToken(), false, "%s", msg)
			return 0, false
		}
		v = v<<4 | uint32(hexValue(c))
	}
	if digits == 4 && !utf8.ValidRune(rune(v)) {
		l.report(l.errToken(), false, "%s", msg)
		return 0, false
	}
	return v, true
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isBinDigit(c byte) bool {
	return c == '0' || c == '1'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	}
	return c - '0'
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
