package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Riptide %s (built %s)\n", Version, BuildTime)

		if check, _ := cmd.Flags().GetBool("check"); !check {
			return
		}
		info, err := version.CheckForUpdate(context.Background(), Version, "riptide/"+Version)
		switch {
		case errors.Is(err, version.ErrDevBuild):
			printWarning(os.Stdout, "Development build; skipping update check.")
		case err != nil:
			printError(os.Stderr, "Error: %v", err)
			os.Exit(1)
		case info.UpdateAvailable:
			printWarning(os.Stdout, "Riptide %s is available: %s", info.LatestVersion, info.ReleaseURL)
		default:
			printSuccess(os.Stdout, "Riptide is up to date.")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("check", false, "Check GitHub for a newer release")
}
