package style

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary = lipgloss.Color("#0E9F6E")
	Green   = lipgloss.Color("#10B981")
	Red     = lipgloss.Color("#EF4444")
	Yellow  = lipgloss.Color("#F59E0B")
	Cyan    = lipgloss.Color("#06B6D4")
	Dim     = lipgloss.Color("#6B7280")
	White   = lipgloss.Color("#F9FAFB")

	Bold    = lipgloss.NewStyle().Bold(true).Foreground(White)
	DimText = lipgloss.NewStyle().Foreground(Dim)
	Commit  = lipgloss.NewStyle().Foreground(Cyan)

	Healthy   = lipgloss.NewStyle().Foreground(Green).Bold(true)
	Unhealthy = lipgloss.NewStyle().Foreground(Red).Bold(true)
	Warning   = lipgloss.NewStyle().Foreground(Yellow)

	DotHealthy   = Healthy.Render("●")
	DotUnhealthy = Unhealthy.Render("●")
	DotWarning   = Warning.Render("●")
	DotDim       = DimText.Render("●")

	Banner = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	// Step indicators
	StepPending = DimText
	StepRunning = lipgloss.NewStyle().Foreground(Yellow).Bold(true)
	StepDone    = lipgloss.NewStyle().Foreground(Green)
	StepFailed  = lipgloss.NewStyle().Foreground(Red).Bold(true)

	TableHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		PaddingRight(2)

	ErrorBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Red).
		Foreground(Red).
		Padding(0, 1).
		MarginTop(1)

	SuccessBox = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Green).
		Foreground(Green).
		Padding(0, 1).
		MarginTop(1)

	// Key-value
	Key = lipgloss.NewStyle().Foreground(Dim).Width(14)
	Val = lipgloss.NewStyle().Foreground(White)

	// Log levels
	LevelError   = lipgloss.NewStyle().Foreground(Red)
	LevelWarning = lipgloss.NewStyle().Foreground(Yellow)
	LevelInfo    = lipgloss.NewStyle().Foreground(White)
	LevelDebug   = DimText
)

func ServiceDot(status string) string {
	switch status {
	case "up":
		return DotHealthy
	case "down":
		return DotUnhealthy
	default:
		return DotDim
	}
}

// Status renders a build or step status in its color.
func Status(status string) string {
	switch status {
	case "Success", "Completed":
		return StepDone.Render(status)
	case "Failed", "Invalid":
		return StepFailed.Render(status)
	case "Running":
		return StepRunning.Render(status)
	default:
		return StepPending.Render(status)
	}
}

func Level(level string) lipgloss.Style {
	switch level {
	case "Error":
		return LevelError
	case "Warning":
		return LevelWarning
	case "Debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}
