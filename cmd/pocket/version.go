package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information, overridable at build time via -ldflags.
var (
	version   = "0.1.0"
	gitCommit = ""
	buildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pocket version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		opts := optionsFromFlags(cmd)
		color.NoColor = !useColor(opts.color, opts.stdout)
		fmt.Fprintln(opts.stdout, versionString())
	},
}

func versionString() string {
	s := color.New(color.FgYellow, color.Bold).Sprint("pocket") + " " + color.New(color.FgGreen, color.Bold).Sprint(version)
	if gitCommit != "" {
		s += " (" + gitCommit
		if buildDate != "" {
			s += ", " + buildDate
		}
		s += ")"
	}
	return s
}
