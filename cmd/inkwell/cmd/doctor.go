package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/preflight"
)

// newDoctorCmd creates the doctor command.
func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the local environment before serving",
		Long: `Run preflight checks against the current configuration: storage
paths must be writable with enough free space, and provider settings
are inspected for silent downgrades to the built-in mocks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(".")
			if err != nil {
				return err
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
			)
			results := checker.Run(cmd.Context(), cfg)
			checker.PrintResults(results)

			if checker.HasCriticalFailures(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")

	return cmd
}
