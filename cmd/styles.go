package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/riptide-dl/riptide/internal/download"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// stateStyle colors a state column.
func stateStyle(st download.State) lipgloss.Style {
	switch {
	case st == download.StateError:
		return errorStyle
	case st.Done():
		return successStyle
	case st == download.StatePaused:
		return warningStyle
	case st == download.StateQueued || st == download.StateInitializing:
		return pendingStyle
	case st.Active():
		return activeStyle
	}
	return dimStyle
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf(format, args...)))
}

func printWarning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warningStyle.Render(fmt.Sprintf(format, args...)))
}
