package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// runREPL starts the interactive prompt. exit() ends the process.
func runREPL(opts hostOptions) error {
	opts.exit = os.Exit
	h, err := newHost(opts, ".", []string{""})
	if err != nil {
		return err
	}
	defer h.close()

	dim := color.New(color.Faint)
	fmt.Fprintf(opts.stdout, "%s\n%s\n", versionString(),
		dim.Sprint("Type help() for the builtin functions, exit() or Ctrl+D to quit."))

	// Errors in the REPL are reported and the prompt continues.
	h.vm.RunREPL()
	return nil
}
