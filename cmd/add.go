package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/clipboard"
	"github.com/riptide-dl/riptide/internal/core"
)

var addCmd = &cobra.Command{
	Use:     "add [source]...",
	Aliases: []string{"get"},
	Short:   "Add downloads to the queue",
	Long:    `Add magnets, .torrent URLs or files, or direct links to the queue of the running Riptide instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		batchFile, _ := cmd.Flags().GetString("batch")
		sources, err := collectSources(args, batchFile)
		if err != nil {
			printError(os.Stderr, "Error reading batch file: %v", err)
			os.Exit(1)
		}
		if fromClipboard, _ := cmd.Flags().GetBool("clipboard"); fromClipboard {
			locator := clipboard.ReadLocator()
			if locator == "" {
				printError(os.Stderr, "Error: no link or magnet on the clipboard")
				os.Exit(1)
			}
			sources = append(sources, locator)
		}
		if len(sources) == 0 {
			_ = cmd.Help()
			return
		}

		count := addSources(core.NewRemoteService(), sources, os.Stderr)
		if count == 0 {
			os.Exit(1)
		}
		printSuccess(os.Stdout, "Successfully added %d downloads.", count)
		notifyIfStopped(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("batch", "b", "", "File containing sources to download (one per line)")
	addCmd.Flags().BoolP("clipboard", "c", false, "Also add the link or magnet on the clipboard")
}
