// Package review is the operator TUI for approving or denying pending scope
// requests against a running courier.
package review

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color used by the review screen in one place.
type Theme struct {
	Approved lipgloss.Style
	Denied   lipgloss.Style
	Pending  lipgloss.Style
	Failed   lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		Approved: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Denied:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")),
		Pending:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}
