// Package cmd provides the CLI commands for inkwell.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/pkg/version"
)

// NewRootCmd creates the root command for the inkwell CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inkwell",
		Short: "Retrieval-backed serialized fiction engine",
		Long: `Inkwell keeps a novel project's memory — rules, outline, characters,
facts, foreshadowing, and prior chapters — in a hybrid retrieval index,
and drives an agent pipeline that writes each chapter against it.

Run 'inkwell serve' to start the HTTP API.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("inkwell version {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
