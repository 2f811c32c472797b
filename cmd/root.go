package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/core"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/events"
	"github.com/riptide-dl/riptide/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// rootCmd runs the queue in the foreground.
var rootCmd = &cobra.Command{
	Use:     "riptide [source]...",
	Short:   "A download queue for torrents and direct links",
	Long:    `Riptide keeps one ordered download queue across a BitTorrent engine and a direct HTTP downloader.`,
	Version: Version,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runQueue(cmd, args); err != nil {
			printError(os.Stderr, "Error: %v", err)
			os.Exit(1)
		}
	},
}

func runQueue(cmd *cobra.Command, args []string) error {
	settings := initializeGlobalState()

	verbose, _ := cmd.Flags().GetBool("verbose")
	utils.ConfigureConsole(os.Stderr, verbose)

	isMaster, err := AcquireLock()
	if err != nil {
		return err
	}
	if !isMaster {
		fmt.Fprintln(os.Stderr, "Error: Riptide is already running.")
		fmt.Fprintln(os.Stderr, "Use 'riptide add <source>' to add a download to the running queue.")
		os.Exit(1)
	}
	defer func() {
		if err := ReleaseLock(); err != nil {
			utils.Debug("Error releasing lock: %v", err)
		}
	}()

	store := config.NewStore(settings)
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		if err := store.Set(config.KeyDownloadDir, utils.EnsureAbsPath(out)); err != nil {
			return err
		}
	}
	if noResume, _ := cmd.Flags().GetBool("no-resume"); noResume {
		if err := store.Set(config.KeyAutoResume, false); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service := core.NewLocalService(store)
	if err := service.Start(ctx); err != nil {
		_ = service.Shutdown()
		return err
	}
	StartHeadlessConsumer(service, os.Stdout)

	batchFile, _ := cmd.Flags().GetString("batch")
	sources, err := collectSources(args, batchFile)
	if err != nil {
		printError(os.Stderr, "Error reading batch file: %v", err)
	}
	addSources(service, sources, os.Stderr)

	if exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done"); exitWhenDone {
		go waitUntilDone(ctx, service, stop)
	}

	<-ctx.Done()
	fmt.Println("Shutting down...")
	return service.Shutdown()
}

// waitUntilDone calls stop once every visible download has finished.
func waitUntilDone(ctx context.Context, svc core.QueueService, stop func()) {
	// Wait a bit for initial downloads to be queued
	select {
	case <-ctx.Done():
		return
	case <-time.After(3 * time.Second):
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if rows, err := svc.List(); err == nil && allDone(rows) {
			stop()
			return
		}
	}
}

// StartHeadlessConsumer prints queue changes to w until the service stops.
func StartHeadlessConsumer(svc *core.LocalService, w io.Writer) {
	stream, err := svc.StreamEvents()
	if err != nil {
		utils.Debug("Failed to start event stream: %v", err)
		return
	}
	go func() {
		last := make(map[string]string)
		for ev := range stream {
			if line := describeEvent(ev, last); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()
}

// describeEvent renders ev, or returns "" for updates that do not change the
// state last seen for the download.
func describeEvent(ev core.Event, last map[string]string) string {
	key := shortKey(ev.Key)
	switch ev.Type {
	case events.DownloadNew:
		last[ev.Key] = ev.State
		return pendingStyle.Render("Queued: " + key)
	case events.DownloadRemove:
		delete(last, ev.Key)
		return dimStyle.Render("Removed: " + key)
	case events.DownloadHidden:
		return dimStyle.Render("Hidden: " + key)
	case events.DownloadUnhidden:
		return dimStyle.Render("Unhidden: " + key)
	case events.DownloadUpdate:
		if last[ev.Key] == ev.State {
			return ""
		}
		last[ev.Key] = ev.State
		st := download.State(ev.State)
		switch {
		case st == download.StateError:
			return errorStyle.Render("Error: " + key)
		case st.Done():
			return successStyle.Render("Completed: " + key)
		case st == download.StatePaused:
			return warningStyle.Render("Paused: " + key)
		case st == download.StateDownloading:
			return activeStyle.Render("Downloading: " + key)
		}
	}
	return ""
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringP("batch", "b", "", "File containing sources to download (one per line)")
	rootCmd.Flags().StringP("output", "o", "", "Default output directory")
	rootCmd.Flags().Bool("no-resume", false, "Do not auto-resume unfinished direct downloads on startup")
	rootCmd.Flags().Bool("exit-when-done", false, "Exit when all downloads complete")
	rootCmd.Flags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.SetVersionTemplate("Riptide version {{.Version}}\n")
}
