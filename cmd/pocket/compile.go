package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <file>",
	Short: "Compile a script into a module image",
	Long: `compile writes the compiled module of a script to a .pkc image that
run and disas accept in place of the script.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringP("output", "o", "", "image path (default: the script path with a .pkc extension)")
}

func runCompile(cmd *cobra.Command, args []string) error {
	opts := optionsFromFlags(cmd)
	path := args[0]
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + imageExt
	}

	h, err := newHost(opts, filepath.Dir(path), args)
	if err != nil {
		return err
	}
	defer h.close()

	module, err := h.loadModule(path)
	if err != nil {
		return err
	}
	defer h.vm.ReleaseHandle(module)

	image, err := h.vm.EncodeModuleImage(module)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := os.WriteFile(out, image, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s", out)
	return nil
}
