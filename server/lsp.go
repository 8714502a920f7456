// Package server implements a language server for pocket scripts.
package server

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/ThakeeNathees/pocketlang-sub001/compiler"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "pocket-lsp"

const maxCompletionItems = 100

var log = commonlog.GetLogger("pocket.server")

// LspServer bridges LSP editor features to a pocket VM via VMWorker.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server wrapping the given VM. The VM should have
// the modules registered that scripts are expected to import.
func NewLSP(v *vm.VM, version string) *LspServer {
	s := &LspServer{
		worker:  NewVMWorker(v),
		docs:    make(map[string]string),
		version: version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion:     s.textDocumentCompletion,
		TextDocumentHover:          s.textDocumentHover,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentReferences:     s.textDocumentReferences,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// Close stops the VM worker.
func (s *LspServer) Close() {
	s.worker.Stop()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true
	capabilities.DocumentSymbolProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDocument(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDocument(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDocument(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	pos := params.Position
	prefix := extractPrefix(text, pos)
	qualifier := extractQualifier(text, pos)
	if prefix == "" && qualifier == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(v *vm.VM) any {
		return s.complete(v, text, qualifier, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	qualifier := extractQualifier(text, protocol.Position{
		Line:      params.Position.Line,
		Character: protocol.UInteger(wordStart(text, params.Position)),
	})

	result, err := s.worker.Do(func(v *vm.VM) any {
		return s.hover(v, text, qualifier, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	hover, _ := result.(*protocol.Hover)
	return hover, nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	for _, sym := range scanSymbols(text) {
		if sym.Name == word && sym.Kind != symbolMethod {
			return []protocol.Location{{URI: uri, Range: nameRange(sym.Pos, word)}}, nil
		}
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	var locations []protocol.Location
	for _, pos := range nameOccurrences(text, word) {
		locations = append(locations, protocol.Location{URI: uri, Range: nameRange(pos, word)})
	}
	return locations, nil
}

func (s *LspServer) textDocumentDocumentSymbol(ctx *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return documentSymbols(text), nil
}

// --- VM-backed logic (called on worker goroutine) ---

func (s *LspServer) complete(v *vm.VM, text, qualifier, prefix string) []protocol.CompletionItem {
	lowerPrefix := strings.ToLower(prefix)
	seen := make(map[string]bool)
	var items []protocol.CompletionItem

	add := func(label string, kind protocol.CompletionItemKind, detail, doc string) {
		if seen[label] || !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		seen[label] = true
		item := protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			InsertText: &label,
		}
		if detail != "" {
			item.Detail = &detail
		}
		if doc != "" {
			item.Documentation = protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: doc}
		}
		items = append(items, item)
	}

	if qualifier != "" {
		if m := v.RegisteredModules()[qualifier]; m != nil {
			for i := 0; i < m.Globals.Len(); i++ {
				name := m.GlobalName(i)
				if strings.HasPrefix(name, "_") {
					continue
				}
				kind, sig, doc := describeValue(m.Globals.At(i))
				add(name, kind, sig, doc)
			}
		} else {
			for _, cls := range v.BuiltinClasses() {
				for _, method := range cls.Methods.Data {
					sig, doc := splitDoc(method.Fn.Docstring)
					add(method.Fn.Name, protocol.CompletionItemKindMethod, sig, doc)
				}
			}
		}
		return sortAndLimit(items)
	}

	for _, sym := range scanSymbols(text) {
		if sym.Kind == symbolMethod {
			continue
		}
		add(sym.Name, completionKind(sym.Kind), sym.Signature, sym.Doc)
	}
	for _, name := range v.BuiltinFnNames() {
		sig, body := splitDoc(builtinDoc(v, name))
		add(name, protocol.CompletionItemKindFunction, sig, body)
	}
	for _, cls := range v.BuiltinClasses() {
		add(cls.Name.Data, protocol.CompletionItemKindClass, "class", cls.Docstring)
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword", "")
	}
	for name := range v.RegisteredModules() {
		if !strings.ContainsAny(name, "/\\@") {
			add(name, protocol.CompletionItemKindModule, "module", "")
		}
	}

	return sortAndLimit(items)
}

func (s *LspServer) hover(v *vm.VM, text, qualifier, word string) *protocol.Hover {
	if qualifier != "" {
		if m := v.RegisteredModules()[qualifier]; m != nil {
			if value, ok := m.Global(word); ok {
				if _, sig, doc := describeValue(value); sig != "" {
					return markdownHover(codeBlock(sig) + doc)
				}
			}
			return nil
		}
		var b strings.Builder
		for _, cls := range v.BuiltinClasses() {
			if method := cls.LookupMethod(word); method != nil && method.Fn.Docstring != "" {
				sig, doc := splitDoc(method.Fn.Docstring)
				fmt.Fprintf(&b, "%s%s\n\n", codeBlock(sig), doc)
				break
			}
		}
		if b.Len() > 0 {
			return markdownHover(strings.TrimSpace(b.String()))
		}
	}

	for _, sym := range scanSymbols(text) {
		if sym.Name != word || sym.Kind == symbolMethod {
			continue
		}
		if sym.Kind == symbolVariable || sym.Kind == symbolImport {
			break
		}
		return markdownHover(codeBlock(sym.Signature) + sym.Doc)
	}

	if doc, ok := v.BuiltinFnDoc(word); ok {
		sig, body := splitDoc(doc)
		return markdownHover(codeBlock(sig) + body)
	}

	if i := v.BuiltinClassIndex(word); i >= 0 {
		cls := v.BuiltinClasses()[i]
		var b strings.Builder
		fmt.Fprintf(&b, "**%s**", cls.Name.Data)
		if cls.SuperClass != nil {
			fmt.Fprintf(&b, " is %s", cls.SuperClass.Name.Data)
		}
		b.WriteString("\n\n")
		if cls.Ctor != nil && cls.Ctor.Fn.Docstring != "" {
			sig, doc := splitDoc(cls.Ctor.Fn.Docstring)
			fmt.Fprintf(&b, "%s%s\n\n", codeBlock(sig), doc)
		}
		if n := cls.Methods.Len(); n > 0 {
			names := make([]string, 0, n)
			for _, m := range cls.Methods.Data {
				names = append(names, m.Fn.Name)
			}
			sort.Strings(names)
			fmt.Fprintf(&b, "Methods: `%s`", strings.Join(names, "` `"))
		}
		return markdownHover(strings.TrimSpace(b.String()))
	}

	if m := v.RegisteredModules()[word]; m != nil {
		names := make([]string, 0, m.Globals.Len())
		for i := 0; i < m.Globals.Len(); i++ {
			if name := m.GlobalName(i); !strings.HasPrefix(name, "_") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return markdownHover(fmt.Sprintf("**module %s**\n\n`%s`", word, strings.Join(names, "` `")))
	}

	return nil
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics, err := s.diagnose(uri, text)
	if err != nil {
		log.Errorf("checking %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose compiles text in a scratch module and converts every error to
// an LSP diagnostic.
func (s *LspServer) diagnose(uri protocol.DocumentUri, text string) ([]protocol.Diagnostic, error) {
	result, err := s.worker.Do(func(v *vm.VM) any {
		return compiler.Check(v, documentPath(uri), text)
	})
	if err != nil {
		return nil, err
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	diagnostics := []protocol.Diagnostic{}
	for _, d := range result.([]compiler.Diagnostic) {
		length := d.Length
		if length < 1 {
			length = 1
		}
		start := toPosition(d.Pos)
		end := start
		end.Character += protocol.UInteger(length)
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: end},
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diagnostics, nil
}

// --- Document symbols ---

func documentSymbols(text string) []protocol.DocumentSymbol {
	var out []protocol.DocumentSymbol
	classes := make(map[string]int)

	for _, sym := range scanSymbols(text) {
		ds := protocol.DocumentSymbol{
			Name:           sym.Name,
			Kind:           symbolKindOf(sym.Kind),
			Range:          nameRange(sym.Pos, sym.Name),
			SelectionRange: nameRange(sym.Pos, sym.Name),
		}
		if sym.Signature != "" {
			detail := sym.Signature
			ds.Detail = &detail
		}

		if sym.Kind == symbolMethod {
			if i, ok := classes[sym.Container]; ok {
				out[i].Children = append(out[i].Children, ds)
				continue
			}
		}
		if sym.Kind == symbolClass {
			classes[sym.Name] = len(out)
		}
		out = append(out, ds)
	}
	return out
}

func symbolKindOf(k symbolKind) protocol.SymbolKind {
	switch k {
	case symbolFunction:
		return protocol.SymbolKindFunction
	case symbolClass:
		return protocol.SymbolKindClass
	case symbolMethod:
		return protocol.SymbolKindMethod
	case symbolImport:
		return protocol.SymbolKindModule
	}
	return protocol.SymbolKindVariable
}

func completionKind(k symbolKind) protocol.CompletionItemKind {
	switch k {
	case symbolFunction:
		return protocol.CompletionItemKindFunction
	case symbolClass:
		return protocol.CompletionItemKindClass
	case symbolMethod:
		return protocol.CompletionItemKindMethod
	case symbolImport:
		return protocol.CompletionItemKindModule
	}
	return protocol.CompletionItemKindVariable
}

// describeValue returns the completion kind, signature and documentation
// of a module global.
func describeValue(value vm.Value) (protocol.CompletionItemKind, string, string) {
	if c := value.AsClosure(); c != nil {
		sig, doc := splitDoc(c.Fn.Docstring)
		if sig == "" {
			sig = c.Fn.Name + "(...)"
		}
		return protocol.CompletionItemKindFunction, sig, doc
	}
	if cls := value.AsClass(); cls != nil {
		return protocol.CompletionItemKindClass, "class " + cls.Name.Data, cls.Docstring
	}
	return protocol.CompletionItemKindConstant, "", ""
}

func builtinDoc(v *vm.VM, name string) string {
	doc, _ := v.BuiltinFnDoc(name)
	return doc
}

// splitDoc splits a native docstring into its signature line and text.
func splitDoc(doc string) (string, string) {
	sig, text, ok := strings.Cut(doc, "\n\n")
	if !ok {
		return "", doc
	}
	return sig, text
}

func sortAndLimit(items []protocol.CompletionItem) []protocol.CompletionItem {
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	if len(items) > maxCompletionItems {
		items = items[:maxCompletionItems]
	}
	return items
}

func markdownHover(value string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

func codeBlock(code string) string {
	if code == "" {
		return ""
	}
	return "```pocket\n" + code + "\n```\n\n"
}

// --- Positions ---

// toPosition converts a 1-based compiler position to a 0-based LSP one.
func toPosition(p compiler.Position) protocol.Position {
	line, col := p.Line-1, p.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
}

func nameRange(p compiler.Position, name string) protocol.Range {
	start := toPosition(p)
	end := start
	end.Character += protocol.UInteger(len(name))
	return protocol.Range{Start: start, End: end}
}

// documentPath returns the file system path of a file URI, or the URI
// itself for other schemes.
func documentPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return string(uri)
	}
	return u.Path
}

// --- Text extraction helpers ---

func isNameChar(ch byte) bool {
	return ch == '_' || ch < 0x80 && (unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)))
}

func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := strings.TrimSuffix(lines[pos.Line], "\r")
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}
	return line, col, true
}

// extractPrefix returns the name fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isNameChar(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractQualifier returns the name before the '.' that precedes the name
// fragment at the cursor: "math" for "math.fl|".
func extractQualifier(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isNameChar(line[start-1]) {
		start--
	}
	if start == 0 || line[start-1] != '.' {
		return ""
	}
	end := start - 1
	begin := end
	for begin > 0 && isNameChar(line[begin-1]) {
		begin--
	}
	return line[begin:end]
}

// wordStart returns the column where the name under the cursor begins.
func wordStart(text string, pos protocol.Position) int {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return 0
	}
	for col > 0 && isNameChar(line[col-1]) {
		col--
	}
	return col
}

// extractWord returns the full name under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return ""
	}

	start := col
	for start > 0 && isNameChar(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isNameChar(line[end]) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
