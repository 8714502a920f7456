package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "x = pri", protocol.Position{Line: 0, Character: 7}, "pri"},
		{"at start", "Lis", protocol.Position{Line: 0, Character: 3}, "Lis"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first line\nsecond line\nmath", protocol.Position{Line: 2, Character: 4}, "math"},
		{"after dot", "math.fl", protocol.Position{Line: 0, Character: 7}, "fl"},
		{"right after dot", "math.", protocol.Position{Line: 0, Character: 5}, ""},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column past end", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
		{"crlf", "foo\r\nbar_2", protocol.Position{Line: 0, Character: 3}, "foo"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractPrefix(tc.text, tc.pos); got != tc.want {
				t.Errorf("extractPrefix = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractQualifier(t *testing.T) {
	tests := []struct {
		text string
		col  uint32
		want string
	}{
		{"math.fl", 7, "math"},
		{"math.", 5, "math"},
		{"x = io.std", 10, "io"},
		{"floor", 5, ""},
		{"(a).b", 5, ""},
		{".b", 2, ""},
	}
	for _, tc := range tests {
		got := extractQualifier(tc.text, protocol.Position{Line: 0, Character: tc.col})
		if got != tc.want {
			t.Errorf("extractQualifier(%q, %d) = %q, want %q", tc.text, tc.col, got, tc.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "line one\nfoo_bar baz", protocol.Position{Line: 1, Character: 2}, "foo_bar"},
		{"with digits", "x2 = y", protocol.Position{Line: 0, Character: 1}, "x2"},
		{"qualified", "math.floor(x)", protocol.Position{Line: 0, Character: 7}, "floor"},
		{"on operator", "a + b", protocol.Position{Line: 0, Character: 3}, ""},
		{"beyond document", "single", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractWord(tc.text, tc.pos); got != tc.want {
				t.Errorf("extractWord = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil || !*p {
		t.Fatal("boolPtr(true) should point to true")
	}
	if p = boolPtr(false); *p {
		t.Errorf("boolPtr(false) = %v, want false", *p)
	}
}

func TestDocumentPath(t *testing.T) {
	if got := documentPath("file:///home/user/main.pk"); got != "/home/user/main.pk" {
		t.Errorf("documentPath = %q", got)
	}
	if got := documentPath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("documentPath = %q", got)
	}
}

// ---------------------------------------------------------------------------
// VM-backed logic
// ---------------------------------------------------------------------------

func completeLabels(t *testing.T, text, qualifier, prefix string) map[string]protocol.CompletionItem {
	t.Helper()
	lsp := newTestLSP()
	result, err := testWorker.Do(func(v *vm.VM) any {
		return lsp.complete(v, text, qualifier, prefix)
	})
	if err != nil {
		t.Fatalf("complete returned error: %v", err)
	}
	items := make(map[string]protocol.CompletionItem)
	for _, item := range result.([]protocol.CompletionItem) {
		items[item.Label] = item
	}
	return items
}

func TestLSP_CompleteBuiltins(t *testing.T) {
	items := completeLabels(t, "", "", "pr")
	item, ok := items["print"]
	if !ok {
		t.Fatal("completion for 'pr' should include print")
	}
	if item.Kind == nil || *item.Kind != protocol.CompletionItemKindFunction {
		t.Error("print completion should have Kind=Function")
	}
	if item.Detail == nil || !strings.HasPrefix(*item.Detail, "print(") {
		t.Errorf("print detail = %v, want its signature", item.Detail)
	}
	for label := range items {
		if !strings.HasPrefix(strings.ToLower(label), "pr") {
			t.Errorf("completion %q does not match the prefix", label)
		}
	}
}

func TestLSP_CompleteKeywordsAndClasses(t *testing.T) {
	items := completeLabels(t, "", "", "Li")
	if item, ok := items["List"]; !ok || *item.Kind != protocol.CompletionItemKindClass {
		t.Error("completion for 'Li' should include the List class")
	}

	items = completeLabels(t, "", "", "whi")
	if item, ok := items["while"]; !ok || *item.Kind != protocol.CompletionItemKindKeyword {
		t.Error("completion for 'whi' should include the while keyword")
	}
}

func TestLSP_CompleteDocumentGlobals(t *testing.T) {
	text := "counter = 0\ndef compute(a, b)\n  \"Adds.\"\n  return a + b\nend\nclass Color\nend\n"
	items := completeLabels(t, text, "", "co")

	for _, want := range []string{"counter", "compute", "Color"} {
		if _, ok := items[want]; !ok {
			t.Errorf("completion for 'co' should include %s", want)
		}
	}
	if item := items["compute"]; item.Detail == nil || *item.Detail != "compute(a, b)" {
		t.Errorf("compute detail = %v, want compute(a, b)", item.Detail)
	}
}

func TestLSP_CompleteModuleMembers(t *testing.T) {
	items := completeLabels(t, "import math\n", "math", "fl")
	item, ok := items["floor"]
	if !ok {
		t.Fatal("completion for 'math.fl' should include floor")
	}
	if _, ok := items["print"]; ok {
		t.Error("module member completion should not include builtins")
	}
	if item.Documentation == nil {
		t.Error("floor completion should carry documentation")
	}

	items = completeLabels(t, "", "math", "")
	if _, ok := items["PI"]; !ok {
		t.Error("completion for 'math.' should include PI")
	}
}

func TestLSP_CompleteMethods(t *testing.T) {
	items := completeLabels(t, "", "xs", "app")
	if item, ok := items["append"]; !ok || *item.Kind != protocol.CompletionItemKindMethod {
		t.Error("completion after a value should include the append method")
	}
}

func TestLSP_CompleteLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 150; i++ {
		b.WriteString("v")
		b.WriteString(strings.Repeat("x", i%5+1))
		b.WriteString(string(rune('a' + i%26)))
		b.WriteString(string(rune('a' + i/26)))
		b.WriteString(" = 1\n")
	}
	lsp := newTestLSP()
	result, err := testWorker.Do(func(v *vm.VM) any {
		return lsp.complete(v, b.String(), "", "v")
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(result.([]protocol.CompletionItem)); n != maxCompletionItems {
		t.Errorf("got %d items, want %d", n, maxCompletionItems)
	}
}

func hover(t *testing.T, text, qualifier, word string) *protocol.Hover {
	t.Helper()
	lsp := newTestLSP()
	result, err := testWorker.Do(func(v *vm.VM) any {
		return lsp.hover(v, text, qualifier, word)
	})
	if err != nil {
		t.Fatalf("hover returned error: %v", err)
	}
	h, _ := result.(*protocol.Hover)
	return h
}

func TestLSP_HoverBuiltinFunction(t *testing.T) {
	value := hoverText(t, hover(t, "", "", "print"))
	if !strings.Contains(value, "print(...) -> Null") {
		t.Errorf("hover = %q, want the print signature", value)
	}
	if !strings.Contains(value, "```pocket") {
		t.Errorf("hover = %q, want a code block", value)
	}
}

func TestLSP_HoverBuiltinClass(t *testing.T) {
	value := hoverText(t, hover(t, "", "", "List"))
	if !strings.HasPrefix(value, "**List**") {
		t.Errorf("hover = %q, want it to start with the class name", value)
	}
	if !strings.Contains(value, "`append`") {
		t.Errorf("hover = %q, want the method list", value)
	}
}

func TestLSP_HoverModule(t *testing.T) {
	value := hoverText(t, hover(t, "", "", "math"))
	if !strings.Contains(value, "module math") || !strings.Contains(value, "`floor`") {
		t.Errorf("hover = %q, want the module members", value)
	}

	value = hoverText(t, hover(t, "", "math", "floor"))
	if !strings.Contains(value, "math.floor(value:Number) -> Number") {
		t.Errorf("hover = %q, want the floor signature", value)
	}
	if hover(t, "", "math", "nosuchfn") != nil {
		t.Error("hover for an unknown module member should be nil")
	}
}

func TestLSP_HoverMethod(t *testing.T) {
	value := hoverText(t, hover(t, "", "xs", "append"))
	if !strings.Contains(value, "List.append(value:Var) -> List") {
		t.Errorf("hover = %q, want the append signature", value)
	}
}

func TestLSP_HoverDocumentSymbol(t *testing.T) {
	text := "def area(w, h)\n  \"Returns the area.\"\n  return w * h\nend\n"
	value := hoverText(t, hover(t, text, "", "area"))
	if !strings.Contains(value, "area(w, h)") || !strings.Contains(value, "Returns the area.") {
		t.Errorf("hover = %q, want the signature and docstring", value)
	}
}

func TestLSP_HoverUnknownWord(t *testing.T) {
	if h := hover(t, "x = 1\n", "", "XYZNOSUCHTHING99"); h != nil {
		t.Errorf("hover for unknown word = %v, want nil", h)
	}
	if h := hover(t, "x = 1\n", "", "x"); h != nil {
		t.Errorf("hover for a plain variable = %v, want nil", h)
	}
}

func TestLSP_Diagnostics(t *testing.T) {
	lsp := newTestLSP()

	diags, err := lsp.diagnose("file:///tmp/ok.pk", "x = 1\nprint(x)\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 0 {
		t.Errorf("valid document has %d diagnostics: %v", len(diags), diags)
	}

	diags, err = lsp.diagnose("file:///tmp/bad.pk", "x = 1\ny = )\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) == 0 {
		t.Fatal("invalid document has no diagnostics")
	}
	d := diags[0]
	if d.Range.Start.Line != 1 {
		t.Errorf("diagnostic line = %d, want 1", d.Range.Start.Line)
	}
	if d.Range.End.Character <= d.Range.Start.Character {
		t.Errorf("diagnostic range %v is empty", d.Range)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("diagnostic severity should be Error")
	}
	if d.Message == "" {
		t.Error("diagnostic has no message")
	}
}

func TestLSP_DocumentStore(t *testing.T) {
	lsp := newTestLSP()
	uri := protocol.DocumentUri("file:///tmp/test.pk")

	lsp.setDocument(uri, "x = 1\n")
	if text, ok := lsp.document(uri); !ok || text != "x = 1\n" {
		t.Errorf("document = %q, %v", text, ok)
	}

	lsp.setDocument(uri, "x = 2\n")
	if text, _ := lsp.document(uri); text != "x = 2\n" {
		t.Errorf("document after update = %q", text)
	}

	if _, ok := lsp.document("file:///tmp/other.pk"); ok {
		t.Error("unknown document reported as open")
	}
}

func TestLSP_DefinitionAndReferences(t *testing.T) {
	lsp := newTestLSP()
	uri := protocol.DocumentUri("file:///tmp/defs.pk")
	lsp.setDocument(uri, "def twice(n)\n  return n * 2\nend\nprint(twice(twice(1)))\n")

	result, err := lsp.textDocumentDefinition(nil, &protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 3, Character: 8},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	locs, ok := result.([]protocol.Location)
	if !ok || len(locs) != 1 {
		t.Fatalf("definition = %v, want one location", result)
	}
	want := protocol.Range{
		Start: protocol.Position{Line: 0, Character: 4},
		End:   protocol.Position{Line: 0, Character: 9},
	}
	if locs[0].Range != want {
		t.Errorf("definition range = %v, want %v", locs[0].Range, want)
	}

	refs, err := lsp.textDocumentReferences(nil, &protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 0, Character: 5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 3 {
		t.Errorf("got %d references, want 3", len(refs))
	}
}

func TestLSP_DocumentSymbols(t *testing.T) {
	text := "import math\nclass Point\n  def _init(x, y)\n    self.x = x\n  end\n  def norm()\n    return 0\n  end\nend\nORIGIN = Point(0, 0)\n"
	syms := documentSymbols(text)

	if len(syms) != 3 {
		t.Fatalf("got %d top level symbols, want 3: %+v", len(syms), syms)
	}
	if syms[0].Name != "math" || syms[0].Kind != protocol.SymbolKindModule {
		t.Errorf("symbol 0 = %s (%d), want module math", syms[0].Name, syms[0].Kind)
	}
	point := syms[1]
	if point.Name != "Point" || point.Kind != protocol.SymbolKindClass {
		t.Errorf("symbol 1 = %s (%d), want class Point", point.Name, point.Kind)
	}
	if len(point.Children) != 2 || point.Children[1].Name != "norm" {
		t.Errorf("Point children = %+v, want _init and norm", point.Children)
	}
	if syms[2].Name != "ORIGIN" || syms[2].Kind != protocol.SymbolKindVariable {
		t.Errorf("symbol 2 = %s (%d), want variable ORIGIN", syms[2].Name, syms[2].Kind)
	}
}
