package server

import "testing"

func TestScanSymbols(t *testing.T) {
	text := `import lang, path as p
from math import floor, PI as pi

class Shape
  "A drawable shape."
  def area()
    return 0
  end
end

class Square is Shape
  def _init(side)
    self.side = side
  end
end

def describe(s, name)
  "Describes s."
  if s is Square then
    inner = 1
  elif s is Shape then
    inner = 2
  else
    inner = 3
  end
  while false do end
  return fn(x) return x end
end

total = 0
total = 1
`
	syms := scanSymbols(text)

	want := []struct {
		name      string
		kind      symbolKind
		container string
	}{
		{"lang", symbolImport, ""},
		{"p", symbolImport, ""},
		{"floor", symbolImport, ""},
		{"pi", symbolImport, ""},
		{"Shape", symbolClass, ""},
		{"area", symbolMethod, "Shape"},
		{"Square", symbolClass, ""},
		{"_init", symbolMethod, "Square"},
		{"describe", symbolFunction, ""},
		{"total", symbolVariable, ""},
	}
	if len(syms) != len(want) {
		t.Fatalf("got %d symbols, want %d: %+v", len(syms), len(want), syms)
	}
	for i, w := range want {
		s := syms[i]
		if s.Name != w.name || s.Kind != w.kind || s.Container != w.container {
			t.Errorf("symbol %d = %s/%d/%q, want %s/%d/%q", i, s.Name, s.Kind, s.Container, w.name, w.kind, w.container)
		}
	}

	byName := make(map[string]symbol)
	for _, s := range syms {
		byName[s.Name] = s
	}
	if s := byName["Shape"]; s.Doc != "A drawable shape." || s.Signature != "class Shape" {
		t.Errorf("Shape = %+v", s)
	}
	if s := byName["Square"]; s.Signature != "class Square is Shape" || s.Doc != "" {
		t.Errorf("Square = %+v", s)
	}
	if s := byName["describe"]; s.Signature != "describe(s, name)" || s.Doc != "Describes s." {
		t.Errorf("describe = %+v", s)
	}
	if s := byName["describe"]; s.Pos.Line != 17 || s.Pos.Column != 5 {
		t.Errorf("describe position = %d:%d, want 17:5", s.Pos.Line, s.Pos.Column)
	}
	if s := byName["total"]; s.Pos.Line != 30 {
		t.Errorf("total defined on line %d, want the first assignment on 30", s.Pos.Line)
	}
}

func TestScanSymbolsIncompleteDocument(t *testing.T) {
	syms := scanSymbols("def first()\n  return 1\nend\ndef second(a,\n")
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2: %+v", len(syms), syms)
	}
	if syms[1].Name != "second" || syms[1].Signature != "second(a, " {
		t.Errorf("second = %+v", syms[1])
	}
}

func TestNameOccurrences(t *testing.T) {
	text := "x = 1\ny = x + \"x\"\nprint(x)\n"
	got := nameOccurrences(text, "x")
	if len(got) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(got))
	}
	if got[1].Line != 2 || got[1].Column != 5 {
		t.Errorf("second occurrence at %d:%d, want 2:5", got[1].Line, got[1].Column)
	}
}
