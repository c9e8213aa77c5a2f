package setup

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-automation/internal/credential"
	"github.com/nhle/mail-automation/internal/integration/graph"
	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/theme"
)

// SavedMsg signals the app registrations were written to the config file.
type SavedMsg struct {
	Config *model.AppConfig
}

// CancelledMsg signals the user left the form without saving.
type CancelledMsg struct{}

// saveResultMsg is sent after the config and keyring writes finish.
type saveResultMsg struct {
	cfg *model.AppConfig
	err error
}

// formValues lives on the heap so the huh bindings survive Model copies.
type formValues struct {
	graphClientID string
	tenantID      string
	pkce          bool
	zoomClientID  string
	zoomSecret    string
}

// Model is the Bubble Tea model for the app registration form.
type Model struct {
	cfg       *model.AppConfig
	path      string
	setSecret func(key, value string) error

	form   *huh.Form
	values *formValues
	err    error

	width, height int
}

// New creates a setup view that saves to the config file at path.
func New(cfg *model.AppConfig, path string, width, height int) Model {
	return Model{
		cfg:       cfg,
		path:      path,
		setSecret: credential.Set,
		width:     width,
		height:    height,
	}
}

// WithSecretStore replaces the keyring writer used for the Zoom secret.
func (m Model) WithSecretStore(set func(key, value string) error) Model {
	m.setSecret = set
	return m
}

// SetConfig replaces the configuration the form starts from.
func (m *Model) SetConfig(cfg *model.AppConfig) {
	m.cfg = cfg
}

// Start builds a fresh form from the current configuration.
func (m *Model) Start() tea.Cmd {
	m.err = nil
	m.values = &formValues{
		graphClientID: m.cfg.Graph.ClientID,
		tenantID:      m.cfg.Graph.TenantID,
		pkce:          m.cfg.Graph.PKCE,
		zoomClientID:  m.cfg.Zoom.ClientID,
	}
	m.form = m.buildForm()
	return m.form.Init()
}

func (m Model) buildForm() *huh.Form {
	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Title("Microsoft application (client) ID").
				Description("From the Azure app registration; redirect URI " + m.graphRedirect()).
				Placeholder("00000000-0000-0000-0000-000000000000").
				Value(&m.values.graphClientID).
				Validate(validateRequired("Client ID")),
			huh.NewInput().
				Title("Tenant").
				Description("\"common\" accepts work and personal accounts").
				Placeholder("common").
				Value(&m.values.tenantID),
			huh.NewConfirm().
				Title("Use PKCE").
				Description("Send a code challenge with the sign-in request").
				Affirmative("Yes").
				Negative("No").
				Value(&m.values.pkce),
		),
	}

	if m.cfg.Features.ZoomIntegration {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Zoom client ID").
				Description("Optional; leave empty to skip Zoom").
				Value(&m.values.zoomClientID),
			huh.NewInput().
				Title("Zoom client secret").
				Description("Stored in the system keyring; leave empty to keep the current one").
				EchoMode(huh.EchoModePassword).
				Value(&m.values.zoomSecret),
		))
	}

	return huh.NewForm(groups...).WithWidth(m.formWidth())
}

// Update handles messages while the form is shown.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case saveResultMsg:
		if msg.err != nil {
			cmd := m.Start()
			m.err = msg.err
			return m, cmd
		}
		cfg := msg.cfg
		return m, func() tea.Msg { return SavedMsg{Config: cfg} }
	}

	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.save()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelledMsg{} }
	}

	return m, cmd
}

// save writes the form values to the config file and the Zoom secret to
// the keyring.
func (m Model) save() tea.Cmd {
	values := *m.values
	next := *m.cfg
	path := m.path
	setSecret := m.setSecret

	return func() tea.Msg {
		next.Graph.ClientID = strings.TrimSpace(values.graphClientID)
		next.Graph.TenantID = strings.TrimSpace(values.tenantID)
		if next.Graph.TenantID == "" {
			next.Graph.TenantID = graph.DefaultTenant
		}
		next.Graph.PKCE = values.pkce
		next.Zoom.ClientID = strings.TrimSpace(values.zoomClientID)

		if secret := strings.TrimSpace(values.zoomSecret); secret != "" {
			if err := setSecret(credential.KeyZoomClientSecret, secret); err != nil {
				return saveResultMsg{err: fmt.Errorf("saving Zoom secret: %w", err)}
			}
		}

		if err := model.SaveConfig(path, &next); err != nil {
			return saveResultMsg{err: err}
		}
		return saveResultMsg{cfg: &next}
	}
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(theme.TitleStyle.Render("App Registration"))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(theme.ErrorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n\n")
	}
	b.WriteString(m.form.View())

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(b.String())
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) graphRedirect() string {
	if m.cfg.Graph.RedirectURI != "" {
		return m.cfg.Graph.RedirectURI
	}
	return graph.DefaultRedirectURI
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
