// Package cli provides styled terminal output using lipgloss.
package cli

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3EB489")). // mint
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#95E1D3"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// FormatTitle renders a section title.
func FormatTitle(title string) string {
	return titleStyle.Render("🌿 " + title)
}

// FormatSuccess renders a success message with its icon.
func FormatSuccess(message string) string {
	return successStyle.Render("✓ " + message)
}

// FormatWarning renders a warning message with its icon.
func FormatWarning(message string) string {
	return warningStyle.Render("⚠ " + message)
}

// FormatError renders an error message with its icon.
func FormatError(message string) string {
	return errorStyle.Render("✗ " + message)
}

// StyleInfo renders informational text.
func StyleInfo(text string) string {
	return infoStyle.Render(text)
}

// StyleSubtle renders de-emphasized text.
func StyleSubtle(text string) string {
	return subtleStyle.Render(text)
}
