package app

import (
	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/relcore/src/app"
)

func initJoin() {
	var leftCol, rightCol string

	cmd := &cobra.Command{
		Use:   "join <left> <right>",
		Short: "Sort-merge joins two relations from the data directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rightCol == "" {
				rightCol = leftCol
			}
			return app.Run(cmd.Context(), &app.JoinEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
				DataDir:    rootCmd.Options.DataDir,
				Left:       args[0],
				Right:      args[1],
				LeftCol:    leftCol,
				RightCol:   rightCol,
				Out:        cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVarP(&leftCol, "left-col", "l", "id", "Join column of the left relation")
	cmd.Flags().StringVarP(&rightCol, "right-col", "r", "", "Join column of the right relation (defaults to --left-col)")

	rootCmd.AddCommand(cmd)
}
