package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
)

var mvCmd = &cobra.Command{
	Use:     "mv <KEY> <POSITION>",
	Aliases: []string{"move"},
	Short:   "Move a download within the queue",
	Long:    `Move a download to a queue position; 0 is the front. Positions past the end move it to the back.`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		pos, err := parsePosition(args[1])
		if err != nil {
			printError(os.Stderr, "Error: %v", err)
			os.Exit(1)
		}
		key, err := resolveDownloadKey(args[0])
		if err != nil {
			printError(os.Stderr, "Error: %v", err)
			os.Exit(1)
		}
		if err := core.NewRemoteService().Move(key, pos); err != nil {
			printError(os.Stderr, "Error moving %s: %v", shortKey(key), err)
			os.Exit(1)
		}
		printSuccess(os.Stdout, "Moved download %s to position %d", shortKey(key), pos)
		notifyIfStopped(os.Stdout)
	},
}

func parsePosition(s string) (int, error) {
	pos, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	if pos < 0 {
		return 0, fmt.Errorf("position must not be negative")
	}
	return pos, nil
}

func init() {
	rootCmd.AddCommand(mvCmd)
}
