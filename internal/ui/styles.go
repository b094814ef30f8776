// Package ui renders loopbot's terminal output: the live dashboard and the
// width-aware tables the CLI prints.
package ui

import (
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim  lipgloss.Color
	Accent, Purple, Cyan, Green, Yellow lipgloss.Color
	Orange, Red, Comment                lipgloss.Color
}

// Dark Theme - Oasis Lagoon
var darkColors = palette{
	Bg:      lipgloss.Color("#101825"),
	Surface: lipgloss.Color("#22385C"),
	Border:  lipgloss.Color("#264870"),
	Text:    lipgloss.Color("#D9E6FA"),
	TextDim: lipgloss.Color("#8FB0D0"),
	Accent:  lipgloss.Color("#58B8FD"),
	Purple:  lipgloss.Color("#C695FF"),
	Cyan:    lipgloss.Color("#68C0B6"),
	Green:   lipgloss.Color("#53D390"),
	Yellow:  lipgloss.Color("#F0E68C"),
	Orange:  lipgloss.Color("#F8B471"),
	Red:     lipgloss.Color("#FF7979"),
	Comment: lipgloss.Color("#4D88A7"),
}

// Light Theme - Oasis Dawn
var lightColors = palette{
	Bg:      lipgloss.Color("#EEF4FF"),
	Surface: lipgloss.Color("#D0E8FE"),
	Border:  lipgloss.Color("#B2DCFE"),
	Text:    lipgloss.Color("#10426d"),
	TextDim: lipgloss.Color("#1f3f71"),
	Accent:  lipgloss.Color("#1670AD"),
	Purple:  lipgloss.Color("#46259f"),
	Cyan:    lipgloss.Color("#064658"),
	Green:   lipgloss.Color("#1b491d"),
	Yellow:  lipgloss.Color("#6b2e00"),
	Orange:  lipgloss.Color("#533c00"),
	Red:     lipgloss.Color("#663021"),
	Comment: lipgloss.Color("#0D4266"),
}

var colors palette

// themeMu protects the palette and styles during InitTheme.
var themeMu sync.RWMutex

// InitTheme selects the palette: "dark", "light", or "auto" to follow the
// terminal background.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == "auto" {
		theme = "dark"
		if !lipgloss.HasDarkBackground() {
			theme = "light"
		}
	}
	if theme == "light" {
		currentTheme = ThemeLight
		colors = lightColors
	} else {
		currentTheme = ThemeDark
		colors = darkColors
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

// ConfigureOutput matches lipgloss's color profile to w, honoring NO_COLOR
// and CLICOLOR_FORCE.
func ConfigureOutput(w io.Writer) {
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

func init() {
	InitTheme("dark")
}

var (
	TitleStyle   lipgloss.Style
	HeaderStyle  lipgloss.Style
	DimStyle     lipgloss.Style
	ErrorStyle   lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	AccentStyle  lipgloss.Style

	PlanStyle  lipgloss.Style
	BuildStyle lipgloss.Style

	SpinnerStyle  lipgloss.Style
	SelectedStyle lipgloss.Style
	PanelStyle    lipgloss.Style
	HelpKeyStyle  lipgloss.Style
	HelpDescStyle lipgloss.Style
)

func initStyles() {
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Accent)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(colors.Text)
	DimStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	ErrorStyle = lipgloss.NewStyle().Foreground(colors.Red)
	SuccessStyle = lipgloss.NewStyle().Foreground(colors.Green)
	WarningStyle = lipgloss.NewStyle().Foreground(colors.Yellow)
	AccentStyle = lipgloss.NewStyle().Foreground(colors.Accent)

	PlanStyle = lipgloss.NewStyle().Foreground(colors.Purple)
	BuildStyle = lipgloss.NewStyle().Foreground(colors.Cyan)

	SpinnerStyle = lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)
	SelectedStyle = lipgloss.NewStyle().Foreground(colors.Bg).Background(colors.Accent).Bold(true)
	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colors.Border).
		Padding(0, 1)
	HelpKeyStyle = lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)
	HelpDescStyle = lipgloss.NewStyle().Foreground(colors.Comment)
}
