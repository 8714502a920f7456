package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// ---------------------------------------------------------------------------
// Docstring parser (shared with doctest.go)
// ---------------------------------------------------------------------------

type docSectionType int

const (
	docProse docSectionType = iota
	docTest                 // ```test blocks with >>> assertions
	docCode                 // any other fenced block
)

type docSection struct {
	Type    docSectionType
	Content string
}

// parseDocString splits a docstring into prose and fenced sections.
func parseDocString(doc string) []docSection {
	var sections []docSection
	var current strings.Builder
	currentType := docProse
	inFence := false

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content != "" {
			sections = append(sections, docSection{Type: currentType, Content: content})
		}
		current.Reset()
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, "```"):
			flush()
			currentType = docCode
			if trimmed == "```test" {
				currentType = docTest
			}
			inFence = true
			continue
		case inFence && trimmed == "```":
			flush()
			currentType = docProse
			inFence = false
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	return sections
}

// splitSignature separates the "signature\n\ntext" form of native
// docstrings. Script docstrings have no signature.
func splitSignature(doc string) (string, string) {
	sig, text, ok := strings.Cut(doc, "\n\n")
	if !ok || strings.ContainsAny(sig, "\n") || !strings.Contains(sig, "(") {
		return "", doc
	}
	return sig, text
}

// ---------------------------------------------------------------------------
// Documentation model
// ---------------------------------------------------------------------------

type fnDoc struct {
	Name      string
	Signature string
	Sections  []docSection
}

type classDoc struct {
	Name       string
	SuperClass string
	Sections   []docSection
	Methods    []fnDoc
}

type moduleDoc struct {
	Name      string
	Functions []fnDoc
	Classes   []classDoc
	Variables []string
}

func newFnDoc(fn *vm.Function) fnDoc {
	sig, text := splitSignature(fn.Docstring)
	if sig == "" {
		sig = fn.Name + "(" + arityParams(fn.Arity) + ")"
	}
	return fnDoc{Name: fn.Name, Signature: sig, Sections: parseDocString(text)}
}

func arityParams(arity int) string {
	if arity < 0 {
		return "..."
	}
	params := make([]string, arity)
	for i := range params {
		params[i] = fmt.Sprintf("a%d", i+1)
	}
	return strings.Join(params, ", ")
}

func newClassDoc(cls *vm.Class) classDoc {
	d := classDoc{Name: cls.Name.Data, Sections: parseDocString(cls.Docstring)}
	if cls.SuperClass != nil {
		d.SuperClass = cls.SuperClass.Name.Data
	}
	ctorBound := false
	for _, m := range cls.Methods.Data {
		ctorBound = ctorBound || m == cls.Ctor
		d.Methods = append(d.Methods, newFnDoc(m.Fn))
	}
	// Builtin classes keep their constructor outside of the method table.
	if cls.Ctor != nil && !ctorBound && cls.Ctor.Fn.Docstring != "" {
		ctor := newFnDoc(cls.Ctor.Fn)
		ctor.Name = vm.CtorName
		d.Methods = append(d.Methods, ctor)
	}
	sort.Slice(d.Methods, func(i, j int) bool { return d.Methods[i].Name < d.Methods[j].Name })
	return d
}

// newModuleDoc documents the public globals of m. Names starting with an
// underscore are private.
func newModuleDoc(name string, m *vm.Module) moduleDoc {
	d := moduleDoc{Name: name}
	for i := 0; i < m.Globals.Len(); i++ {
		gname := m.GlobalName(i)
		if strings.HasPrefix(gname, "_") {
			continue
		}
		v := m.Globals.At(i)
		switch {
		case v.AsClosure() != nil:
			fn := newFnDoc(v.AsClosure().Fn)
			fn.Name = gname
			d.Functions = append(d.Functions, fn)
		case v.AsClass() != nil:
			d.Classes = append(d.Classes, newClassDoc(v.AsClass()))
		default:
			d.Variables = append(d.Variables, gname)
		}
	}
	sort.Slice(d.Functions, func(i, j int) bool { return d.Functions[i].Name < d.Functions[j].Name })
	sort.Slice(d.Classes, func(i, j int) bool { return d.Classes[i].Name < d.Classes[j].Name })
	sort.Strings(d.Variables)
	return d
}

// builtinDoc documents the builtin functions and classes.
func builtinDoc(v *vm.VM) moduleDoc {
	d := moduleDoc{Name: "builtins"}
	for _, name := range v.BuiltinFnNames() {
		doc, _ := v.BuiltinFnDoc(name)
		sig, text := splitSignature(doc)
		if sig == "" {
			sig = name + "(...)"
		}
		d.Functions = append(d.Functions, fnDoc{Name: name, Signature: sig, Sections: parseDocString(text)})
	}
	for _, cls := range v.BuiltinClasses() {
		d.Classes = append(d.Classes, newClassDoc(cls))
	}
	sort.Slice(d.Functions, func(i, j int) bool { return d.Functions[i].Name < d.Functions[j].Name })
	return d
}

// ---------------------------------------------------------------------------
// Markdown rendering
// ---------------------------------------------------------------------------

var markdownTemplate = template.Must(template.New("module").Funcs(template.FuncMap{
	"sections": renderSections,
}).Parse(`# {{if eq .Name "builtins"}}Builtins{{else}}Module {{.Name}}{{end}}
{{if .Variables}}
## Variables
{{range .Variables}}
- ` + "`{{.}}`" + `{{end}}
{{end}}{{if .Functions}}
## Functions
{{range .Functions}}
### ` + "`{{.Signature}}`" + `
{{sections .Sections}}{{end}}{{end}}{{if .Classes}}
## Classes
{{range .Classes}}
### {{.Name}}{{if .SuperClass}} is {{.SuperClass}}{{end}}
{{sections .Sections}}{{range .Methods}}
#### ` + "`{{.Signature}}`" + `
{{sections .Sections}}{{end}}{{end}}{{end}}`))

func renderSections(sections []docSection) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString("\n")
		switch s.Type {
		case docProse:
			b.WriteString(s.Content)
			b.WriteString("\n")
		default:
			b.WriteString("```pocket\n")
			b.WriteString(s.Content)
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}

func writeMarkdown(w io.Writer, docs []moduleDoc) error {
	for i, d := range docs {
		if i > 0 {
			io.WriteString(w, "\n")
		}
		if err := markdownTemplate.Execute(w, d); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Command
// ---------------------------------------------------------------------------

var docCmd = &cobra.Command{
	Use:   "doc [module|file]...",
	Short: "Generate Markdown documentation from docstrings",
	Long: `doc documents the named native modules and scripts. Without arguments it
documents the builtin functions and classes.`,
	RunE: runDoc,
}

func init() {
	docCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
}

func runDoc(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	h, err := newHost(opts, ".", nil)
	if err != nil {
		return err
	}
	defer h.close()

	docs, err := h.collectDocs(args)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		return writeMarkdown(opts.stdout, docs)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := writeMarkdown(f, docs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// collectDocs documents every target: a registered module name or the
// path of a script, which is compiled and run to define its globals.
func (h *host) collectDocs(targets []string) ([]moduleDoc, error) {
	if len(targets) == 0 {
		return []moduleDoc{builtinDoc(h.vm)}, nil
	}

	modules := h.vm.RegisteredModules()
	var docs []moduleDoc
	for _, target := range targets {
		if m, ok := modules[target]; ok {
			docs = append(docs, newModuleDoc(target, m))
			continue
		}
		module, err := h.loadModule(target)
		if err != nil {
			return nil, err
		}
		if result := h.vm.RunModule(module); result != vm.ResultSuccess {
			h.vm.ReleaseHandle(module)
			return nil, &exitError{code: exitRuntimeError}
		}
		name := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
		docs = append(docs, newModuleDoc(name, module.Value().AsModule()))
		h.vm.ReleaseHandle(module)
	}
	return docs, nil
}
