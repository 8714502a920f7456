package server

import (
	"strings"

	"github.com/ThakeeNathees/pocketlang-sub001/compiler"
)

type symbolKind int

const (
	symbolVariable symbolKind = iota
	symbolFunction
	symbolClass
	symbolMethod
	symbolImport
)

// symbol is a name defined by a document: a top-level def, class, import or
// assignment, or a method of a class.
type symbol struct {
	Name      string
	Kind      symbolKind
	Pos       compiler.Position
	Signature string
	Doc       string
	Container string // owning class of a method
}

// scanSymbols collects the definitions of source from its tokens. It works
// on documents that do not compile, up to the first lexer error.
func scanSymbols(source string) []symbol {
	tokens, _ := compiler.Tokenize(source)

	var (
		syms    []symbol
		seen    = make(map[string]bool)
		blocks  []compiler.TokenType // opening keyword of every open block
		classes []string             // names of the open class blocks
	)

	at := func(i int) compiler.Token {
		if i < len(tokens) {
			return tokens[i]
		}
		return compiler.Token{Type: compiler.TokenEOF}
	}
	stmtStart := func(i int) bool {
		if i == 0 {
			return true
		}
		switch tokens[i-1].Type {
		case compiler.TokenLine, compiler.TokenSemicolon:
			return true
		}
		return false
	}
	addGlobal := func(s symbol) {
		if seen[s.Name] {
			return
		}
		seen[s.Name] = true
		syms = append(syms, s)
	}
	topLevel := func() bool { return len(blocks) == 0 }
	inClass := func() bool {
		return len(blocks) > 0 && blocks[len(blocks)-1] == compiler.TokenClass
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Type {
		case compiler.TokenDef:
			name := at(i + 1)
			if name.Type == compiler.TokenName {
				sig, doc := functionHeader(tokens, i+1)
				switch {
				case topLevel():
					addGlobal(symbol{Name: name.Literal, Kind: symbolFunction, Pos: name.Pos, Signature: sig, Doc: doc})
				case inClass():
					syms = append(syms, symbol{
						Name: name.Literal, Kind: symbolMethod, Pos: name.Pos,
						Signature: sig, Doc: doc, Container: classes[len(classes)-1],
					})
				}
			}
			blocks = append(blocks, tok.Type)

		case compiler.TokenClass:
			name := at(i + 1)
			if name.Type == compiler.TokenName {
				sig, doc := classHeader(tokens, i+1)
				if topLevel() {
					addGlobal(symbol{Name: name.Literal, Kind: symbolClass, Pos: name.Pos, Signature: sig, Doc: doc})
				}
				classes = append(classes, name.Literal)
			} else {
				classes = append(classes, "")
			}
			blocks = append(blocks, tok.Type)

		case compiler.TokenFn, compiler.TokenIf, compiler.TokenWhile, compiler.TokenFor:
			blocks = append(blocks, tok.Type)

		case compiler.TokenEnd:
			if len(blocks) == 0 {
				continue
			}
			if blocks[len(blocks)-1] == compiler.TokenClass {
				classes = classes[:len(classes)-1]
			}
			blocks = blocks[:len(blocks)-1]

		case compiler.TokenImport:
			if !topLevel() {
				continue
			}
			for _, name := range importedNames(tokens, i+1) {
				addGlobal(symbol{Name: name.Literal, Kind: symbolImport, Pos: name.Pos})
			}

		case compiler.TokenName:
			if topLevel() && stmtStart(i) && at(i+1).Type == compiler.TokenEq {
				addGlobal(symbol{Name: tok.Literal, Kind: symbolVariable, Pos: tok.Pos})
			}
		}
	}
	return syms
}

// functionHeader returns the signature and docstring of the def whose name
// is tokens[i].
func functionHeader(tokens []compiler.Token, i int) (string, string) {
	var b strings.Builder
	b.WriteString(tokens[i].Literal)
	i++
	if i < len(tokens) && tokens[i].Type == compiler.TokenLParen {
		b.WriteByte('(')
		for i++; i < len(tokens); i++ {
			t := tokens[i]
			if t.Type == compiler.TokenRParen {
				i++
				break
			}
			switch t.Type {
			case compiler.TokenName:
				b.WriteString(t.Literal)
			case compiler.TokenComma:
				b.WriteString(", ")
			case compiler.TokenEOF, compiler.TokenError:
				return b.String(), ""
			}
		}
		b.WriteByte(')')
	}
	return b.String(), docAfter(tokens, i)
}

// classHeader returns the header and docstring of the class whose name is
// tokens[i].
func classHeader(tokens []compiler.Token, i int) (string, string) {
	sig := "class " + tokens[i].Literal
	i++
	if i+1 < len(tokens) && tokens[i].Type == compiler.TokenIs && tokens[i+1].Type == compiler.TokenName {
		sig += " is " + tokens[i+1].Literal
		i += 2
	}
	return sig, docAfter(tokens, i)
}

// docAfter returns the string literal that opens the body starting at
// tokens[i], skipping new lines.
func docAfter(tokens []compiler.Token, i int) string {
	for i < len(tokens) && tokens[i].Type == compiler.TokenLine {
		i++
	}
	if i < len(tokens) && tokens[i].Type == compiler.TokenString {
		return tokens[i].Str
	}
	return ""
}

// importedNames returns the tokens of the names an import statement
// starting at tokens[i] binds: the last component of every path, or the
// alias after 'as'.
func importedNames(tokens []compiler.Token, i int) []compiler.Token {
	var names []compiler.Token
	var last *compiler.Token
	for ; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Type {
		case compiler.TokenName:
			last = &tokens[i]
		case compiler.TokenComma:
			if last != nil {
				names = append(names, *last)
			}
			last = nil
		case compiler.TokenAs, compiler.TokenDot, compiler.TokenCaret:
		default:
			if last != nil {
				names = append(names, *last)
			}
			return names
		}
	}
	return names
}

// nameOccurrences returns the position of every use of name in source.
func nameOccurrences(source, name string) []compiler.Position {
	tokens, _ := compiler.Tokenize(source)
	var out []compiler.Position
	for _, t := range tokens {
		if t.Type == compiler.TokenName && t.Literal == name {
			out = append(out, t.Pos)
		}
	}
	return out
}
