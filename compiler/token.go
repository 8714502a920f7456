package compiler

import (
	"fmt"
	"maps"
	"slices"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenError TokenType = iota
	TokenEOF
	TokenLine // newline, a statement terminator

	// Symbols
	TokenDot       // .
	TokenDotDot    // ..
	TokenComma     // ,
	TokenColon     // :
	TokenSemicolon // ;
	TokenHash      // #
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenPercent   // %

	TokenTilde // ~
	TokenAmp   // &
	TokenPipe  // |
	TokenCaret // ^
	TokenArrow // ->

	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenStarStar // **
	TokenEq       // =
	TokenGt       // >
	TokenLt       // <

	TokenEqEq  // ==
	TokenNotEq // !=
	TokenGtEq  // >=
	TokenLtEq  // <=

	TokenPlusEq  // +=
	TokenMinusEq // -=
	TokenStarEq  // *=
	TokenSlashEq // /=
	TokenModEq   // %=
	TokenPowEq   // **=

	TokenAndEq // &=
	TokenOrEq  // |=
	TokenXorEq // ^=

	TokenShiftRight // >>
	TokenShiftLeft  // <<

	TokenShiftRightEq // >>=
	TokenShiftLeftEq  // <<=

	// Keywords
	TokenClass
	TokenFrom
	TokenImport
	TokenAs
	TokenDef
	TokenNative
	TokenFn
	TokenEnd

	TokenNull
	TokenIn
	TokenIs
	TokenAnd
	TokenOr
	TokenNot // not, !
	TokenTrue
	TokenFalse
	TokenSelf
	TokenSuper

	TokenDo
	TokenThen
	TokenWhile
	TokenFor
	TokenIf
	TokenElif
	TokenElse
	TokenBreak
	TokenContinue
	TokenReturn

	// Literals
	TokenName
	TokenNumber
	TokenString

	// TokenStringInterp is a string segment followed by an interpolated
	// expression. "a ${b} c $d e" lexes as
	//
	//	STRING_INTERP "a "  NAME b  STRING_INTERP " c "  NAME d  STRING " e"
	TokenStringInterp

	tokenCount
)

var tokenNames = [tokenCount]string{
	TokenError:        "ERROR",
	TokenEOF:          "EOF",
	TokenLine:         "LINE",
	TokenDot:          ".",
	TokenDotDot:       "..",
	TokenComma:        ",",
	TokenColon:        ":",
	TokenSemicolon:    ";",
	TokenHash:         "#",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBracket:     "[",
	TokenRBracket:     "]",
	TokenLBrace:       "{",
	TokenRBrace:       "}",
	TokenPercent:      "%",
	TokenTilde:        "~",
	TokenAmp:          "&",
	TokenPipe:         "|",
	TokenCaret:        "^",
	TokenArrow:        "->",
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenStarStar:     "**",
	TokenEq:           "=",
	TokenGt:           ">",
	TokenLt:           "<",
	TokenEqEq:         "==",
	TokenNotEq:        "!=",
	TokenGtEq:         ">=",
	TokenLtEq:         "<=",
	TokenPlusEq:       "+=",
	TokenMinusEq:      "-=",
	TokenStarEq:       "*=",
	TokenSlashEq:      "/=",
	TokenModEq:        "%=",
	TokenPowEq:        "**=",
	TokenAndEq:        "&=",
	TokenOrEq:         "|=",
	TokenXorEq:        "^=",
	TokenShiftRight:   ">>",
	TokenShiftLeft:    "<<",
	TokenShiftRightEq: ">>=",
	TokenShiftLeftEq:  "<<=",
	TokenClass:        "class",
	TokenFrom:         "from",
	TokenImport:       "import",
	TokenAs:           "as",
	TokenDef:          "def",
	TokenNative:       "native",
	TokenFn:           "fn",
	TokenEnd:          "end",
	TokenNull:         "null",
	TokenIn:           "in",
	TokenIs:           "is",
	TokenAnd:          "and",
	TokenOr:           "or",
	TokenNot:          "not",
	TokenTrue:         "true",
	TokenFalse:        "false",
	TokenSelf:         "self",
	TokenSuper:        "super",
	TokenDo:           "do",
	TokenThen:         "then",
	TokenWhile:        "while",
	TokenFor:          "for",
	TokenIf:           "if",
	TokenElif:         "elif",
	TokenElse:         "else",
	TokenBreak:        "break",
	TokenContinue:     "continue",
	TokenReturn:       "return",
	TokenName:         "NAME",
	TokenNumber:       "NUMBER",
	TokenString:       "STRING",
	TokenStringInterp: "STRING_INTERP",
}

func (t TokenType) String() string {
	if t >= 0 && t < tokenCount {
		return tokenNames[t]
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position

	// Number is the value of a TokenNumber. Str is the unescaped value of a
	// TokenString or TokenStringInterp segment.
	Number float64
	Str    string
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	case TokenLine:
		return "LINE"
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords mapped to their token types.
var keywords = map[string]TokenType{
	"class":    TokenClass,
	"from":     TokenFrom,
	"import":   TokenImport,
	"as":       TokenAs,
	"def":      TokenDef,
	"native":   TokenNative,
	"fn":       TokenFn,
	"end":      TokenEnd,
	"null":     TokenNull,
	"in":       TokenIn,
	"is":       TokenIs,
	"and":      TokenAnd,
	"or":       TokenOr,
	"not":      TokenNot,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"self":     TokenSelf,
	"super":    TokenSuper,
	"do":       TokenDo,
	"then":     TokenThen,
	"while":    TokenWhile,
	"for":      TokenFor,
	"if":       TokenIf,
	"elif":     TokenElif,
	"else":     TokenElse,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"return":   TokenReturn,
}

// Keywords returns every reserved word of the language, sorted.
func Keywords() []string {
	return slices.Sorted(maps.Keys(keywords))
}

// IsKeyword reports whether name is a reserved word.
func IsKeyword(name string) bool {
	_, ok := keywords[name]
	return ok
}
