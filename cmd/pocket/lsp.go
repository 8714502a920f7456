package main

import (
	"github.com/spf13/cobra"

	"github.com/ThakeeNathees/pocketlang-sub001/server"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the pocket language server over stdio",
	Args:  cobra.NoArgs,
	RunE:  runLSP,
}

func runLSP(cmd *cobra.Command, _ []string) error {
	opts := optionsFromFlags(cmd)
	// stdout carries the protocol.
	opts.stdout = opts.stderr
	opts.color = "off"

	h, err := newHost(opts, ".", nil)
	if err != nil {
		return err
	}
	defer h.close()

	s := server.NewLSP(h.vm, version)
	defer s.Close()
	return s.Run()
}
