package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-automation/internal/keys"
	"github.com/nhle/mail-automation/internal/theme"
)

// Model is the help overlay view.
type Model struct {
	keys       *keys.KeyMap
	help       help.Model
	configPath string
	width      int
	height     int
}

// New creates a new help view model. configPath is shown so the user
// knows where app registrations are kept.
func New(keys *keys.KeyMap, configPath string, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:       keys,
		help:       h,
		configPath: configPath,
		width:      width,
		height:     height,
	}
}

// View renders the help overlay.
func (m Model) View() string {
	title := theme.TitleStyle.Render("Keyboard Shortcuts")

	m.help.Width = m.width - 4
	m.help.ShowAll = true
	helpText := m.help.View(m.keys)

	footer := theme.DimmedStyle.Render(
		"Sign-in opens your browser and waits for the redirect on localhost.\n" +
			"Configuration: " + m.configPath,
	)

	content := lipgloss.JoinVertical(lipgloss.Left, title, helpText, "", footer)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
