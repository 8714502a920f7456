package compiler

import (
	"strings"
	"testing"
)

func tokenTypes(tokens []Token) []TokenType {
	types := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.Type
	}
	return types
}

func TestLexerBasicTokens(t *testing.T) {
	input := `( ) [ ] { } ^ . .. ; : , ~ ->`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenLBrace, "{"},
		{TokenRBrace, "}"},
		{TokenCaret, "^"},
		{TokenDot, "."},
		{TokenDotDot, ".."},
		{TokenSemicolon, ";"},
		{TokenColon, ":"},
		{TokenComma, ","},
		{TokenTilde, "~"},
		{TokenArrow, "->"},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerOperators(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{"+", TokenPlus},
		{"+=", TokenPlusEq},
		{"-", TokenMinus},
		{"-=", TokenMinusEq},
		{"*", TokenStar},
		{"*=", TokenStarEq},
		{"**", TokenStarStar},
		{"**=", TokenPowEq},
		{"/", TokenSlash},
		{"/=", TokenSlashEq},
		{"%", TokenPercent},
		{"%=", TokenModEq},
		{"&", TokenAmp},
		{"&=", TokenAndEq},
		{"|", TokenPipe},
		{"|=", TokenOrEq},
		{"^=", TokenXorEq},
		{"=", TokenEq},
		{"==", TokenEqEq},
		{"!", TokenNot},
		{"!=", TokenNotEq},
		{">", TokenGt},
		{">=", TokenGtEq},
		{">>", TokenShiftRight},
		{">>=", TokenShiftRightEq},
		{"<", TokenLt},
		{"<=", TokenLtEq},
		{"<<", TokenShiftLeft},
		{"<<=", TokenShiftLeftEq},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.want {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.want)
		}
		if tok.Literal != tc.input {
			t.Errorf("Lexer(%q): literal = %q", tc.input, tok.Literal)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"42", 42},
		{"0", 0},
		{"3.14", 3.14},
		{".5", 0.5},
		{"1e3", 1000},
		{"2.5E-1", 0.25},
		{"1e+2", 100},
		{"0xff", 255},
		{"0XFF", 255},
		{"0b1010", 10},
		{"0B11", 3},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenNumber {
			t.Errorf("Lexer(%q): type = %v, want NUMBER", tc.input, tok.Type)
			continue
		}
		if tok.Number != tc.want {
			t.Errorf("Lexer(%q): value = %v, want %v", tc.input, tok.Number, tc.want)
		}
	}
}

func TestLexerRangeAfterNumber(t *testing.T) {
	tokens, errs := Tokenize("1..10")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []TokenType{TokenNumber, TokenDotDot, TokenNumber, TokenEOF}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'single'`, "single"},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"d"`, `quote"d`},
		{`'it\'s'`, "it's"},
		{`"back\\slash"`, `back\slash`},
		{`"\$5"`, "$5"},
		{`"\x41"`, "A"},
		{`"é"`, "é"},
		{"\"line\\\ncontinued\"", "linecontinued"},
		{`""`, ""},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%s): type = %v, want STRING", tc.input, tok.Type)
			continue
		}
		if tok.Str != tc.want {
			t.Errorf("Lexer(%s): value = %q, want %q", tc.input, tok.Str, tc.want)
		}
	}
}

func TestLexerInterpolation(t *testing.T) {
	tokens, errs := Tokenize(`"a ${b + 1} c $d e"`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	expected := []struct {
		typ TokenType
		str string
	}{
		{TokenStringInterp, "a "},
		{TokenName, ""},
		{TokenPlus, ""},
		{TokenNumber, ""},
		{TokenStringInterp, " c "},
		{TokenName, ""},
		{TokenString, " e"},
		{TokenEOF, ""},
	}
	if len(tokens) != len(expected) {
		t.Fatalf("got %d tokens %v, want %d", len(tokens), tokens, len(expected))
	}
	for i, exp := range expected {
		if tokens[i].Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tokens[i].Type, exp.typ)
		}
		if tokens[i].Str != exp.str {
			t.Errorf("token[%d] str = %q, want %q", i, tokens[i].Str, exp.str)
		}
	}
}

func TestLexerNestedInterpolation(t *testing.T) {
	tokens, errs := Tokenize(`"x${ {1: "in${y}"} }z"`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []TokenType{
		TokenStringInterp, TokenLBrace, TokenNumber, TokenColon,
		TokenStringInterp, TokenName, TokenString,
		TokenRBrace, TokenString, TokenEOF,
	}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if last := tokens[len(tokens)-2]; last.Str != "z" {
		t.Errorf("last segment = %q, want %q", last.Str, "z")
	}
}

func TestLexerKeywords(t *testing.T) {
	for _, kw := range Keywords() {
		tok := NewLexer(kw).NextToken()
		if tok.Type == TokenName || tok.Type == TokenError {
			t.Errorf("Lexer(%q): type = %v, want a keyword", kw, tok.Type)
		}
		if tok.Type.String() != kw {
			t.Errorf("Lexer(%q): type name = %q", kw, tok.Type.String())
		}
	}

	for _, name := range []string{"foo", "_private", "end_", "classes", "x1"} {
		if tok := NewLexer(name).NextToken(); tok.Type != TokenName {
			t.Errorf("Lexer(%q): type = %v, want NAME", name, tok.Type)
		}
	}
}

func TestLexerCommentsAndLines(t *testing.T) {
	tokens, _ := Tokenize("a # comment\n\tb")
	want := []TokenType{TokenName, TokenLine, TokenName, TokenEOF}
	got := tokenTypes(tokens)
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	b := tokens[2]
	if b.Pos.Line != 2 || b.Pos.Column != 2 {
		t.Errorf("b position = %d:%d, want 2:2", b.Pos.Line, b.Pos.Column)
	}
}

func TestLexerSkipsByteOrderMark(t *testing.T) {
	tok := NewLexer("\xEF\xBB\xBFname").NextToken()
	if tok.Type != TokenName || tok.Literal != "name" {
		t.Errorf("token = %v, want NAME(name)", tok)
	}
	if tok.Pos.Column != 1 {
		t.Errorf("column = %d, want 1", tok.Pos.Column)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		input  string
		msg    string
		syntax bool
	}{
		{`"open`, "Non terminated string.", true},
		{"@", "Invalid character '@'", true},
		{"0x", "Invalid hex literal.", true},
		{"0b2", "Invalid binary literal.", true},
		{"1e", "Invalid number literal.", true},
		{`"\q"`, "Invalid escape character.", false},
		{`"\xZZ"`, "Invalid hex escape.", false},
		{`"$ "`, "Expected '{' or identifier after '$'.", true},
		{"1e999", "Number literal is too large (1e999).", false},
		{"0b" + strings.Repeat("1", 70), "Binary literal is too long.", false},
		{"0x" + strings.Repeat("f", 20), "Hex literal is too long.", false},
	}

	for _, tc := range tests {
		_, errs := Tokenize(tc.input)
		if len(errs) == 0 {
			t.Errorf("Tokenize(%q): no error, want %q", tc.input, tc.msg)
			continue
		}
		if errs[0].Message != tc.msg {
			t.Errorf("Tokenize(%q): error = %q, want %q", tc.input, errs[0].Message, tc.msg)
		}
		if errs[0].Syntax != tc.syntax {
			t.Errorf("Tokenize(%q): syntax = %v, want %v", tc.input, errs[0].Syntax, tc.syntax)
		}
	}
}

func TestLexerStopsAfterSyntaxError(t *testing.T) {
	l := NewLexer("a @ b")
	l.NextToken()
	if tok := l.NextToken(); tok.Type != TokenError {
		t.Fatalf("token = %v, want ERROR", tok)
	}
	if !l.Failed() {
		t.Error("Failed() = false after invalid character")
	}
}
