package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/state"
)

var rmCmd = &cobra.Command{
	Use:     "rm <KEY>",
	Aliases: []string{"kill"},
	Short:   "Remove a download",
	Long:    `Remove a download by its key. Use --clean to remove all finished downloads.`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		clean, _ := cmd.Flags().GetBool("clean")
		deleteFiles, _ := cmd.Flags().GetBool("delete-files")

		var keys []string
		if clean {
			rows, err := state.ListDownloads()
			if err != nil {
				printError(os.Stderr, "Error listing downloads: %v", err)
				os.Exit(1)
			}
			keys = finishedKeys(rows)
		} else {
			var err error
			if keys, err = targets(args, false); err != nil {
				printError(os.Stderr, "Error: provide a download key or use --clean")
				os.Exit(1)
			}
		}

		svc := core.NewRemoteService()
		for _, key := range keys {
			if err := svc.Remove(key, deleteFiles && !clean); err != nil {
				printError(os.Stderr, "Error removing %s: %v", shortKey(key), err)
				os.Exit(1)
			}
		}
		if clean {
			printSuccess(os.Stdout, "Removing %d finished downloads.", len(keys))
		} else {
			printSuccess(os.Stdout, "Removed download %s", shortKey(keys[0]))
		}
		notifyIfStopped(os.Stdout)
	},
}

// finishedKeys picks the downloads whose content is complete. Their files
// stay on disk.
func finishedKeys(rows []state.DownloadEntry) []string {
	var keys []string
	for _, r := range rows {
		if download.State(r.State).Done() {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().Bool("clean", false, "Remove all finished downloads, keeping their files")
	rmCmd.Flags().BoolP("delete-files", "d", false, "Delete downloaded files too")
}
