package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-automation/internal/connect"
	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/oauth"
	"github.com/nhle/mail-automation/internal/theme"
	"github.com/nhle/mail-automation/internal/ui"
)

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Mail Automation", m.connectionSummary())
	statusBar := m.layout.RenderStatusBar(m.statusMessage(), m.keyHints())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewSetup:
		return m.setupView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return m.renderDashboard()
	}
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(theme.TitleStyle.Render("Integrations"))
	b.WriteString("\n")

	statuses := m.connector.Statuses()
	if len(statuses) == 0 {
		b.WriteString(theme.HelpStyle.Render("No providers configured. Press s to register an app."))
		b.WriteString("\n")
	}
	for i, st := range statuses {
		b.WriteString(m.renderProvider(i, st))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(theme.TitleStyle.Render("Recent Activity"))
	b.WriteString("\n")
	if len(m.activity) == 0 {
		b.WriteString(theme.HelpStyle.Render("Nothing yet."))
	}
	for _, a := range m.activity {
		b.WriteString(theme.ListItemStyle.Render(
			theme.DimmedStyle.Render(a.CreatedAt.Local().Format("Jan 02 15:04")) + "  " + a.Message,
		))
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (m Model) renderProvider(idx int, st connect.Status) string {
	status := displayStatus(st.State)

	icon := "○"
	switch st.State {
	case oauth.StateAuthenticating:
		icon = m.spinner.View()
	case oauth.StateAuthenticated:
		icon = "●"
	case oauth.StateFailed:
		icon = "✗"
	}

	line := fmt.Sprintf("%s %s %s",
		icon,
		theme.ProviderLabelStyle(string(st.Provider)).Render(st.Provider.Label()),
		theme.StatusStyle(string(status)).Render(string(status)),
	)

	switch st.State {
	case oauth.StateAuthenticated:
		detail := "Connected as " + st.Profile.Name()
		if st.Profile.Email != "" {
			detail += " <" + st.Profile.Email + ">"
		}
		line += "  " + detail
	case oauth.StateAuthenticating:
		line += "  " + theme.DimmedStyle.Render("waiting for the browser (x to cancel)")
	case oauth.StateFailed:
		if st.Error != nil {
			line += "  " + theme.ErrorStyle.Render(failureReason(st.Error))
		}
	}

	if idx == m.selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// connectionSummary counts connected and signing-in providers.
func (m Model) connectionSummary() ui.Summary {
	statuses := m.connector.Statuses()
	sum := ui.Summary{Total: len(statuses)}
	for _, st := range statuses {
		switch st.State {
		case oauth.StateAuthenticated:
			sum.Connected++
		case oauth.StateAuthenticating:
			sum.Connecting++
		}
	}
	return sum
}

// statusMessage returns the last result message on the dashboard.
func (m Model) statusMessage() string {
	if m.currentView != ViewDashboard {
		return ""
	}
	return m.message
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewSetup:
		return "enter next | esc cancel"
	case ViewHelp:
		return "? close help | esc back"
	}
	return "q quit | ? help | enter connect | d disconnect | x cancel | s setup"
}

// displayStatus maps a client state onto the stored integration status.
func displayStatus(s oauth.State) model.IntegrationStatus {
	switch s {
	case oauth.StateAuthenticating:
		return model.StatusConnecting
	case oauth.StateAuthenticated:
		return model.StatusConnected
	case oauth.StateFailed:
		return model.StatusFailed
	default:
		return model.StatusDisconnected
	}
}
