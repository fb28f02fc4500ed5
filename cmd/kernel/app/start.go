package app

import (
	"github.com/spf13/cobra"

	kernelapp "github.com/Blackdeer1524/GraphKernel/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Starts the graph kernel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := &kernelapp.KernelEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			}
			return kernelapp.Run(cmd.Context(), e)
		},
	})
}
