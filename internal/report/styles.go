package report

import "github.com/charmbracelet/lipgloss"

var (
	colorPurple = lipgloss.Color("#7D56F4")
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4141")
	colorYellow = lipgloss.Color("#FFB000")
	colorGray   = lipgloss.Color("#626262")
	colorWhite  = lipgloss.Color("#FFFFFF")

	styleTitle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			MarginBottom(1)

	styleLabel = lipgloss.NewStyle().Foreground(colorGray)

	styleDetail = lipgloss.NewStyle().
			Foreground(colorGray).
			PaddingLeft(4)

	styleBadgeOK = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorGreen).
			Padding(0, 1)

	styleBadgeMismatch = lipgloss.NewStyle().
				Foreground(colorWhite).
				Background(colorYellow).
				Padding(0, 1)

	styleBadgeError = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(colorRed).
			Padding(0, 1).
			Bold(true)

	styleSummaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPurple).
			Padding(0, 1)
)

func badge(s Status) string {
	switch s {
	case StatusOK:
		return styleBadgeOK.Render(string(s))
	case StatusMismatch:
		return styleBadgeMismatch.Render(string(s))
	default:
		return styleBadgeError.Render(string(s))
	}
}
