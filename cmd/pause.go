package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <KEY>",
	Short: "Pause a download",
	Long:  `Pause a download by its key or a key prefix. Use --all to pause all downloads.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		all, _ := cmd.Flags().GetBool("all")
		keys, err := targets(args, all)
		if err != nil {
			printError(os.Stderr, "Error: %v", err)
			os.Exit(1)
		}

		svc := core.NewRemoteService()
		for _, key := range keys {
			if err := svc.Pause(key); err != nil {
				printError(os.Stderr, "Error pausing %s: %v", shortKey(key), err)
				os.Exit(1)
			}
			printSuccess(os.Stdout, "Paused download %s", shortKey(key))
		}
		notifyIfStopped(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Bool("all", false, "Pause all downloads")
}
