package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ThakeeNathees/pocketlang-sub001/compiler"
	"github.com/ThakeeNathees/pocketlang-sub001/lib"
	"github.com/ThakeeNathees/pocketlang-sub001/vm"
)

// scriptExt is the extension of pocket scripts.
const scriptExt = ".pk"

var checkCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Report compile errors without running anything",
	Long: `check compiles every given script, and every .pk file under every given
directory, and prints the errors found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntP("jobs", "j", runtime.NumCPU(), "number of files checked in parallel")
}

type checkResult struct {
	path        string
	diagnostics []compiler.Diagnostic
}

func runCheck(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	color.NoColor = !useColor(opts.color, opts.stdout)
	jobs, _ := cmd.Flags().GetInt("jobs")

	files, err := listScripts(args)
	if err != nil {
		return err
	}

	results, err := checkFiles(files, jobs)
	if err != nil {
		return err
	}
	if n := printDiagnostics(opts.stdout, results); n > 0 {
		return &exitError{code: exitCompileError}
	}
	return nil
}

// listScripts expands directories in paths into the sorted scripts under them.
func listScripts(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, scriptExt) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// checkFiles compiles files in parallel, each on its own VM.
func checkFiles(files []string, jobs int) ([]checkResult, error) {
	results := make([]checkResult, len(files))

	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, path := range files {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			results[i] = checkResult{path: path, diagnostics: checkSource(path, string(data))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func checkSource(path, source string) []compiler.Diagnostic {
	cfg := vm.NewConfiguration()
	lib.Configure(cfg)
	v := vm.NewVM(cfg)
	defer v.Free()
	return compiler.Check(v, path, source)
}

// printDiagnostics writes results as "path:line:col: error: message" and
// returns the number of errors.
func printDiagnostics(w io.Writer, results []checkResult) int {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed, color.Bold)

	n := 0
	for _, r := range results {
		for _, d := range r.diagnostics {
			where := fmt.Sprintf("%s:%d:%d:", r.path, d.Pos.Line, d.Pos.Column)
			fmt.Fprintf(w, "%s %s %s\n", bold.Sprint(where), red.Sprint("error:"), d.Message)
			n++
		}
	}
	return n
}
