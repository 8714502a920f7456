// Command pocket runs pocket scripts, starts the REPL and hosts the
// language server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Exit codes, following sysexits.h for compile and runtime failures.
const (
	exitOK           = 0
	exitUsage        = 1
	exitCompileError = 65
	exitRuntimeError = 70
)

var rootCmd = &cobra.Command{
	Use:   "pocket [file] [args...]",
	Short: "pocket scripting language",
	Long: `pocket runs a script when given a file and starts an interactive
REPL otherwise. Use the subcommands to check, disassemble or compile scripts.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "log verbosity, repeat for more")
	rootCmd.PersistentFlags().Bool("debug", false, "disable tail calls and enable lang.debug_break()")
	rootCmd.PersistentFlags().String("config", "", "path to a pocket.toml to use instead of searching for one")

	rootCmd.Flags().StringP("command", "c", "", "execute the given source instead of a file")
	// Everything after the script path belongs to the script.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(disasCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(docCmd)
	rootCmd.AddCommand(doctestCmd)
	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printError(ee.err)
		}
		return ee.code
	}
	printError(err)
	return exitUsage
}

// exitError carries the process exit code of a failed command. A nil err
// means the failure was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func printError(err error) {
	fmt.Fprintf(color.Error, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
}
