package board

import "github.com/charmbracelet/lipgloss"

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan — headings
	colorSuccess = lipgloss.Color("#00E676") // Green — PASS
	colorDanger  = lipgloss.Color("#FF5252") // Red — FAIL
	colorWarn    = lipgloss.Color("#FFD700") // Gold — PEND/NLFAIL
	colorMuted   = lipgloss.Color("#636363") // Gray — de-emphasized
	colorWhite   = lipgloss.Color("#EEEEEE") // Off-white — primary text
	colorSurface = lipgloss.Color("#1E1E2E") // Dark surface — selection bg
)

var (
	styleTitle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	styleHeaderNote = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleStatusPass = lipgloss.NewStyle().
			Foreground(colorSuccess)

	styleStatusFail = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	styleStatusWarn = lipgloss.NewStyle().
			Foreground(colorWarn)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorMuted)
)
