package app

import (
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/relcore/src/app"
)

func initWorkload() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "workload",
		Short: "Runs random transactions against the lock hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), &app.WorkloadEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				Out:        cmd.OutOrStdout(),
			})
		},
	})
}
