package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/runa-lang/runa/compiler"
	"github.com/runa-lang/runa/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "runa-lsp"

var lspLog = commonlog.GetLogger("runa.lsp")

// document is an open editor buffer and the result of analysing it.
type document struct {
	text     string
	prog     *compiler.Program  // last program that parsed
	analyzer *compiler.Analyzer // analyzer for prog
	diags    []Diagnostic
}

// LspServer provides diagnostics, completion, hover, definition and
// references for Runa buffers. Analysis never runs programs, so no VM is
// involved.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("Runa LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

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
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	doc := s.update(string(uri), params.TextDocument.Text)
	s.publishDiagnostics(ctx, uri, doc.diags)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(string(uri), whole.Text)
			s.publishDiagnostics(ctx, uri, doc.diags)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, nil)
	return nil
}

// update re-analyses a buffer. A buffer that no longer parses keeps the
// previous program so completion and navigation keep working while typing.
func (s *LspServer) update(uri, text string) *document {
	prog, analyzer, diags := Diagnose(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &document{text: text, prog: prog, analyzer: analyzer, diags: diags}
	if prog == nil {
		if old, ok := s.docs[uri]; ok {
			doc.prog, doc.analyzer = old.prog, old.analyzer
		}
	}
	s.docs[uri] = doc
	return doc
}

func (s *LspServer) document(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	return doc, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(doc, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	doc, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	locations := s.definition(uri, doc, word)
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	doc, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.references(uri, doc, word, params.Context.IncludeDeclaration), nil
}

// --- Analysis-backed logic ---

// declaration is a name introduced by a statement.
type declaration struct {
	name   string
	kind   protocol.CompletionItemKind
	detail string
	pos    compiler.Position
}

// declarations lists every name declared in prog, in source order.
func declarations(prog *compiler.Program, analyzer *compiler.Analyzer) []declaration {
	if prog == nil {
		return nil
	}
	var locals map[string]compiler.RunaType
	if analyzer != nil {
		locals = analyzer.Locals()
	}

	var out []declaration
	var walk func(stmts []compiler.Stmt, top bool)
	walkBlock := func(b *compiler.Block) {
		if b != nil {
			walk(b.Statements, false)
		}
	}
	walk = func(stmts []compiler.Stmt, top bool) {
		for _, stmt := range stmts {
			pos := stmt.Span().Start
			switch st := stmt.(type) {
			case *compiler.Let:
				detail := ""
				if t, ok := locals[st.Name]; ok && top {
					detail = t.String()
				} else if st.Declared != nil {
					detail = st.Declared.String()
				}
				out = append(out, declaration{st.Name, protocol.CompletionItemKindVariable, detail, pos})
			case *compiler.Process:
				out = append(out, declaration{st.Name, protocol.CompletionItemKindFunction, processSignature(st, analyzer), pos})
				walkBlock(st.Body)
			case *compiler.TypeDef:
				fields := make([]string, len(st.Fields))
				for i, f := range st.Fields {
					fields[i] = f.Name + " as " + f.Type.String()
				}
				out = append(out, declaration{st.Name, protocol.CompletionItemKindClass, "Type with " + strings.Join(fields, ", "), pos})
			case *compiler.EnumDef:
				out = append(out, declaration{st.Name, protocol.CompletionItemKindEnum, "Enum of " + strings.Join(st.Variants, ", "), pos})
				for _, v := range st.Variants {
					out = append(out, declaration{v, protocol.CompletionItemKindEnumMember, "variant of " + st.Name, pos})
				}
			case *compiler.Block:
				walk(st.Statements, false)
			case *compiler.If:
				walkBlock(st.Then)
				if st.Else != nil {
					walk([]compiler.Stmt{st.Else}, false)
				}
			case *compiler.While:
				walkBlock(st.Body)
			case *compiler.For:
				out = append(out, declaration{st.Var, protocol.CompletionItemKindVariable, "loop variable", pos})
				walkBlock(st.Body)
			case *compiler.Match:
				for _, c := range st.Cases {
					walkBlock(c.Body)
				}
				walkBlock(st.Otherwise)
			}
		}
	}
	walk(prog.Statements, true)
	return out
}

func processSignature(p *compiler.Process, analyzer *compiler.Analyzer) string {
	if analyzer != nil {
		if t, ok := analyzer.LookupGlobal(bytecode.GlobalKey(p.Name)); ok {
			return t.String()
		}
	}
	params := make([]string, len(p.Params))
	for i, param := range p.Params {
		params[i] = param.Name
	}
	return fmt.Sprintf("Process(%s)", strings.Join(params, ", "))
}

// sameName reports whether word refers to a declaration named name. Process
// names compare canonically, everything else exactly.
func sameName(d declaration, word string) bool {
	if d.kind == protocol.CompletionItemKindFunction {
		return d.name == compiler.CanonicalName(word)
	}
	return d.name == word
}

func (s *LspServer) complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	seen := map[string]bool{}

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		seen[label] = true
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	for _, d := range declarations(doc.prog, doc.analyzer) {
		add(d.name, d.kind, d.detail)
	}
	for _, b := range bytecode.Builtins {
		add(b.Name, protocol.CompletionItemKindFunction, builtinSignature(b))
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func builtinSignature(b bytecode.Builtin) string {
	return fmt.Sprintf("Process(%s) returns %s", strings.Join(b.Params, ", "), b.Returns)
}

func (s *LspServer) hover(doc *document, word string) *protocol.Hover {
	var text string
	for _, d := range declarations(doc.prog, doc.analyzer) {
		if sameName(d, word) {
			text = fmt.Sprintf("**%s**", d.name)
			if d.detail != "" {
				text += "\n\n`" + d.detail + "`"
			}
			break
		}
	}
	if text == "" {
		lower := strings.ToLower(word)
		for _, b := range bytecode.Builtins {
			if b.Name == lower || strings.HasPrefix(b.Name, lower+" ") || strings.HasSuffix(b.Name, " "+lower) {
				text = fmt.Sprintf("**%s** (builtin)\n\n`%s`", b.Name, builtinSignature(b))
				break
			}
		}
	}
	if text == "" && compiler.LookupIdent(word) != compiler.TokenIdentifier {
		text = fmt.Sprintf("**%s** (keyword)", word)
	}
	if text == "" {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: text,
		},
	}
}

func (s *LspServer) definition(uri protocol.DocumentUri, doc *document, word string) []protocol.Location {
	var locations []protocol.Location
	for _, d := range declarations(doc.prog, doc.analyzer) {
		if sameName(d, word) {
			locations = append(locations, protocol.Location{URI: uri, Range: pointRange(d.pos.Line, d.pos.Column, 0)})
		}
	}
	return locations
}

// references finds every identifier token spelling word. Declarations whose
// name is not an identifier token (processes, types and enums are declared
// by string) are added when includeDecl is set.
func (s *LspServer) references(uri protocol.DocumentUri, doc *document, word string, includeDecl bool) []protocol.Location {
	canonical := compiler.CanonicalName(word)
	isProcess := false
	var decls []declaration
	for _, d := range declarations(doc.prog, doc.analyzer) {
		if sameName(d, word) {
			decls = append(decls, d)
			if d.kind == protocol.CompletionItemKindFunction {
				isProcess = true
			}
		}
	}

	var locations []protocol.Location
	seen := map[[2]int]bool{}
	addAt := func(line, col, length int) {
		key := [2]int{line, col}
		if seen[key] {
			return
		}
		seen[key] = true
		locations = append(locations, protocol.Location{URI: uri, Range: pointRange(line, col, length)})
	}

	if includeDecl {
		for _, d := range decls {
			addAt(d.pos.Line, d.pos.Column, 0)
		}
	}

	lexer := compiler.NewLexer(doc.text)
	for {
		tok := lexer.NextToken()
		if tok.Type == compiler.TokenEOF || tok.Type == compiler.TokenError {
			break
		}
		if tok.Type != compiler.TokenIdentifier {
			continue
		}
		if tok.Literal == word || (isProcess && compiler.CanonicalName(tok.Literal) == canonical) {
			addAt(tok.Pos.Line, tok.Pos.Column, len(tok.Literal))
		}
	}

	sort.Slice(locations, func(i, j int) bool {
		a, b := locations[i].Range.Start, locations[j].Range.Start
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Character < b.Character
	})
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diags []Diagnostic) {
	if ctx == nil {
		return
	}
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toProtocolDiagnostics(diags),
	})
}

func toProtocolDiagnostics(diags []Diagnostic) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		source := lspName + "/" + d.Stage
		out = append(out, protocol.Diagnostic{
			Range:    pointRange(d.Line, d.Column, 0),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

// pointRange converts a 1-based line and column to an LSP range of length
// characters. Unknown positions (zero) map to the document start.
func pointRange(line, col, length int) protocol.Range {
	l, c := 0, 0
	if line > 0 {
		l = line - 1
	}
	if col > 0 {
		c = col - 1
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(l), Character: protocol.UInteger(c)},
		End:   protocol.Position{Line: protocol.UInteger(l), Character: protocol.UInteger(c + length)},
	}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
