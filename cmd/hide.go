package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
)

var hideCmd = &cobra.Command{
	Use:   "hide <KEY>",
	Short: "Hide a download from the queue",
	Long:  `Hide a download. It keeps running but gives up its queue position until unhidden.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setHidden(args[0], true)
	},
}

var unhideCmd = &cobra.Command{
	Use:   "unhide <KEY>",
	Short: "Show a hidden download again",
	Long:  `Unhide a download. It rejoins the queue at the back.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setHidden(args[0], false)
	},
}

func setHidden(partial string, hidden bool) {
	initializeGlobalState()

	key, err := resolveDownloadKey(partial)
	if err != nil {
		printError(os.Stderr, "Error: %v", err)
		os.Exit(1)
	}
	if err := core.NewRemoteService().Hide(key, hidden); err != nil {
		printError(os.Stderr, "Error: %v", err)
		os.Exit(1)
	}
	if hidden {
		printSuccess(os.Stdout, "Hid download %s", shortKey(key))
	} else {
		printSuccess(os.Stdout, "Unhid download %s", shortKey(key))
	}
	notifyIfStopped(os.Stdout)
}

func init() {
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(unhideCmd)
}
