package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// doctestAssertion is one line of a test block. Lines without >>> are
// setup and only have to run.
type doctestAssertion struct {
	Line     string
	Expr     string
	Expected string
}

type doctestResult struct {
	Assertion doctestAssertion
	Passed    bool
	Actual    string
	Want      string
	Error     string
}

// doctestGroup holds the results of the test blocks of one docstring.
type doctestGroup struct {
	File    string
	Owner   string // function, class or Class.method
	Results []doctestResult
}

var doctestCmd = &cobra.Command{
	Use:   "doctest <file>...",
	Short: "Run the test blocks of docstrings",
	Long: "doctest runs every ```test block in the docstrings of the functions,\n" +
		"classes and methods of each script. A line \"expr >>> expected\" passes\n" +
		"when both sides are equal; other lines run as setup.",
	Args: cobra.MinimumNArgs(1),
	RunE: runDoctest,
}

func runDoctest(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	out := opts.stdout
	color.NoColor = !useColor(opts.color, out)
	verbose := opts.verbosity > 0

	start := time.Now()
	var groups []doctestGroup
	for _, path := range args {
		g, err := doctestFile(opts, path)
		if err != nil {
			return err
		}
		groups = append(groups, g...)
	}

	printDoctestResults(out, groups, verbose)
	passed, failed, total := tallyDoctestResults(groups)

	switch {
	case total == 0:
		fmt.Fprintln(out, "No docstring tests found.")
	case failed > 0:
		fmt.Fprintf(out, "Results: %s, %s, %d total (%s)\n",
			color.GreenString("%d passed", passed), color.RedString("%d failed", failed),
			total, time.Since(start).Round(time.Millisecond))
		return &exitError{code: exitUsage}
	default:
		fmt.Fprintf(out, "Results: %s, %d total (%s)\n",
			color.GreenString("%d passed", passed), total, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// doctestFile runs the script at path, then every test block of its
// docstrings in the script's module. The script's own output is discarded.
func doctestFile(opts hostOptions, path string) ([]doctestGroup, error) {
	opts.stdout = io.Discard
	opts.errorFn = func(*vm.VM, vm.ErrorKind, string, int, string) {}
	h, err := newHost(opts, filepath.Dir(path), []string{path})
	if err != nil {
		return nil, err
	}
	defer h.close()

	module, err := h.loadModule(path)
	if err != nil {
		if h.vm.LastError() != nil {
			return nil, fmt.Errorf("%s: %w", path, h.vm.LastError())
		}
		return nil, err
	}
	defer h.vm.ReleaseHandle(module)
	if result := h.vm.RunModule(module); result != vm.ResultSuccess {
		return nil, fmt.Errorf("%s: %w", path, h.vm.LastError())
	}

	var groups []doctestGroup
	for _, d := range docstringsOf(module.Value().AsModule()) {
		var results []doctestResult
		for _, sec := range parseDocString(d.doc) {
			if sec.Type != docTest {
				continue
			}
			for _, a := range parseDoctestAssertions(sec.Content) {
				results = append(results, h.runDoctestAssertion(module, a))
			}
		}
		if len(results) > 0 {
			groups = append(groups, doctestGroup{File: path, Owner: d.owner, Results: results})
		}
	}
	return groups, nil
}

type ownedDoc struct {
	owner string
	doc   string
}

// docstringsOf returns the docstrings of the functions, classes and methods
// bound to the globals of m, in definition order.
func docstringsOf(m *vm.Module) []ownedDoc {
	var docs []ownedDoc
	for i := 0; i < m.Globals.Len(); i++ {
		name := m.GlobalName(i)
		v := m.Globals.At(i)
		if c := v.AsClosure(); c != nil {
			docs = append(docs, ownedDoc{name, c.Fn.Docstring})
			continue
		}
		cls := v.AsClass()
		if cls == nil || cls.Owner != m {
			continue
		}
		docs = append(docs, ownedDoc{name, cls.Docstring})
		for _, method := range cls.Methods.Data {
			docs = append(docs, ownedDoc{name + "." + method.Fn.Name, method.Fn.Docstring})
		}
	}
	return docs
}

// parseDoctestAssertions splits a test block into setup lines and
// "expr >>> expected" assertions. Malformed assertions are skipped.
func parseDoctestAssertions(content string) []doctestAssertion {
	var assertions []doctestAssertion
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		expr, expected, ok := strings.Cut(trimmed, ">>>")
		if !ok {
			assertions = append(assertions, doctestAssertion{Line: trimmed, Expr: trimmed})
			continue
		}
		expr, expected = strings.TrimSpace(expr), strings.TrimSpace(expected)
		if expr == "" || expected == "" {
			log.Warningf("skipping malformed assertion: %s", trimmed)
			continue
		}
		assertions = append(assertions, doctestAssertion{Line: trimmed, Expr: expr, Expected: expected})
	}
	return assertions
}

// Globals the assertions store their two sides into.
const (
	doctestActual   = "_doctest_actual"
	doctestExpected = "_doctest_expected"
)

// runDoctestAssertion compiles a into module and runs it. Definitions of
// setup lines stay visible to the following lines.
func (h *host) runDoctestAssertion(module *vm.Handle, a doctestAssertion) doctestResult {
	source := a.Expr
	if a.Expected != "" {
		source = doctestActual + " = " + a.Expr + "\n" + doctestExpected + " = " + a.Expected
	}
	if err := h.evalIn(module, source); err != nil {
		return doctestResult{Assertion: a, Error: err.Error()}
	}
	if a.Expected == "" {
		return doctestResult{Assertion: a, Passed: true}
	}

	m := module.Value().AsModule()
	actual, _ := m.Global(doctestActual)
	expected, _ := m.Global(doctestExpected)
	return doctestResult{
		Assertion: a,
		Passed:    vm.IsEqual(actual, expected),
		Actual:    vm.ToRepr(actual),
		Want:      vm.ToRepr(expected),
	}
}

func (h *host) evalIn(module *vm.Handle, source string) error {
	result := h.vm.CompileModule(module, source, &vm.CompileOptions{Debug: h.opts.debug})
	if result == vm.ResultSuccess {
		result = h.vm.RunModule(module)
	}
	if result == vm.ResultSuccess {
		return nil
	}
	if err := h.vm.LastError(); err != nil {
		return err
	}
	return fmt.Errorf("%s", result)
}

func printDoctestResults(w io.Writer, groups []doctestGroup, verbose bool) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	lastFile := ""
	for _, g := range groups {
		if g.File != lastFile {
			fmt.Fprintln(w, bold.Sprint(g.File))
			lastFile = g.File
		}
		fmt.Fprintf(w, "  %s\n", g.Owner)

		for _, r := range g.Results {
			if r.Assertion.Expected == "" {
				if r.Passed {
					if verbose {
						fmt.Fprintf(w, "    %s\n", dim.Sprintf("%s (setup)", r.Assertion.Expr))
					}
					continue
				}
				fmt.Fprintf(w, "    %s\n", red.Sprintf("✗ %s (setup)", r.Assertion.Expr))
				fmt.Fprintf(w, "      %s\n", red.Sprintf("Error: %s", r.Error))
				continue
			}

			if r.Passed {
				fmt.Fprintf(w, "    %s %s\n", green.Sprint("✓"), r.Assertion.Line)
				continue
			}
			fmt.Fprintf(w, "    %s %s\n", red.Sprint("✗"), r.Assertion.Line)
			if r.Error != "" {
				fmt.Fprintf(w, "      %s\n", red.Sprintf("Error: %s", r.Error))
			} else {
				fmt.Fprintf(w, "      Expected: %s\n", r.Want)
				fmt.Fprintf(w, "      Got:      %s\n", r.Actual)
			}
		}
	}
	if len(groups) > 0 {
		fmt.Fprintln(w)
	}
}

// tallyDoctestResults counts assertions and failed setup lines.
func tallyDoctestResults(groups []doctestGroup) (passed, failed, total int) {
	for _, g := range groups {
		for _, r := range g.Results {
			if r.Assertion.Expected == "" && r.Passed {
				continue
			}
			total++
			if r.Passed {
				passed++
			} else {
				failed++
			}
		}
	}
	return passed, failed, total
}
