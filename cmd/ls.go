package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/core"
	"github.com/riptide-dl/riptide/internal/download"
	"github.com/riptide-dl/riptide/internal/engine/state"
)

const nameWidth = 40

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"l"},
	Short:   "List downloads",
	Long:    `List the queue as the running instance last reported it.`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")

		rows, err := core.NewRemoteService().List()
		if err != nil {
			printError(os.Stderr, "Error listing downloads: %v", err)
			os.Exit(1)
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(filterRows(rows, all)); err != nil {
				printError(os.Stderr, "Error: %v", err)
				os.Exit(1)
			}
			return
		}
		renderList(os.Stdout, rows, all)
		if !queueRunning() {
			fmt.Println(dimStyle.Render("Riptide is not running; showing the last saved queue."))
		}
	},
}

func filterRows(rows []state.DownloadEntry, all bool) []state.DownloadEntry {
	if all {
		return rows
	}
	out := make([]state.DownloadEntry, 0, len(rows))
	for _, r := range rows {
		if !r.Hidden {
			out = append(out, r)
		}
	}
	return out
}

var columns = []struct {
	title string
	width int
}{
	{"POS", 4},
	{"KEY", 17},
	{"NAME", nameWidth + 1},
	{"STATE", 18},
	{"PROGRESS", 9},
	{"SIZE", 10},
	{"SPEED", 12},
}

func cell(i int, text string) string {
	return lipgloss.NewStyle().Width(columns[i].width).Render(text)
}

// renderList writes the queue as a table. Hidden downloads are listed only
// with all, after the visible ones.
func renderList(w io.Writer, rows []state.DownloadEntry, all bool) {
	rows = filterRows(rows, all)
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No downloads."))
		return
	}

	var header strings.Builder
	for i, c := range columns {
		header.WriteString(cell(i, c.title))
	}
	fmt.Fprintln(w, headerStyle.Render(strings.TrimRight(header.String(), " ")))

	for _, r := range rows {
		pos := strconv.Itoa(r.Position)
		if r.Hidden {
			pos = "-"
		}
		size := "?"
		if r.TotalSize > 0 {
			size = humanize.Bytes(uint64(r.TotalSize))
		}
		speed := ""
		if r.DownloadSpeed > 0 {
			speed = humanize.Bytes(uint64(r.DownloadSpeed)) + "/s"
		}
		st := download.State(r.State)
		label := r.State
		if st == download.StateError && r.Error != "" {
			label = "error: " + r.Error
		}

		line := cell(0, pos) +
			cell(1, shortKey(r.Key)) +
			cell(2, truncate(displayName(r), nameWidth)) +
			stateStyle(st).Render(cell(3, truncate(label, columns[3].width-1))) +
			cell(4, fmt.Sprintf("%.1f%%", r.Progress*100)) +
			cell(5, size) +
			speed
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func displayName(r state.DownloadEntry) string {
	if r.Name != "" {
		return r.Name
	}
	if r.Source != "" {
		return r.Source
	}
	return r.Key
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

// allDone reports whether there is at least one visible download and all of
// them have finished.
func allDone(rows []state.DownloadEntry) bool {
	visible := filterRows(rows, false)
	if len(visible) == 0 {
		return false
	}
	for _, r := range visible {
		if !download.State(r.State).Done() {
			return false
		}
	}
	return true
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("all", "a", false, "Include hidden downloads")
	lsCmd.Flags().Bool("json", false, "Print JSON")
}
