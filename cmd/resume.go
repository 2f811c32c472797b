package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <KEY>",
	Short: "Resume a paused download",
	Long:  `Resume a paused download by its key or a key prefix. Use --all to resume all downloads.`,
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
			if err := svc.Resume(key); err != nil {
				printError(os.Stderr, "Error resuming %s: %v", shortKey(key), err)
				os.Exit(1)
			}
			printSuccess(os.Stdout, "Resumed download %s", shortKey(key))
		}
		notifyIfStopped(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().Bool("all", false, "Resume all downloads")
}
