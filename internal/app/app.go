package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/mail-automation/internal/connect"
	"github.com/nhle/mail-automation/internal/integration"
	"github.com/nhle/mail-automation/internal/keys"
	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/oauth"
	"github.com/nhle/mail-automation/internal/store"
	"github.com/nhle/mail-automation/internal/ui"
	helpview "github.com/nhle/mail-automation/internal/ui/help"
	"github.com/nhle/mail-automation/internal/ui/setup"
)

// activityLimit is the number of feed entries shown on the dashboard.
const activityLimit = 8

// activityLoadedMsg carries the recent activity feed to the UI.
type activityLoadedMsg struct {
	items []model.Activity
	err   error
}

// needsSetupMsg is sent on start when no mailbox app is registered.
type needsSetupMsg struct{}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewDashboard ViewState = iota
	ViewSetup
	ViewHelp
)

// Registrar builds provider clients from cfg and registers them with the
// connector. It runs again after the setup form saves.
type Registrar func(cfg *model.AppConfig) error

// Options are the dependencies of the root model.
type Options struct {
	Config     *model.AppConfig
	ConfigPath string
	Store      store.Store
	Connector  *connect.Connector
	Register   Registrar
	Logger     zerolog.Logger
}

// Model is the root Bubble Tea model that manages view routing, layout,
// and the provider dashboard.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	cfg       *model.AppConfig
	store     store.Store
	connector *connect.Connector
	register  Registrar
	log       zerolog.Logger

	spinner   spinner.Model
	helpView  helpview.Model
	setupView setup.Model

	selected int
	activity []model.Activity
	message  string
	ready    bool
}

// New creates the root application model.
func New(opts Options) Model {
	k := keys.DefaultKeyMap()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		currentView: ViewDashboard,
		keys:        k,
		cfg:         opts.Config,
		store:       opts.Store,
		connector:   opts.Connector,
		register:    opts.Register,
		log:         opts.Logger,
		spinner:     sp,
		helpView:    helpview.New(k, opts.ConfigPath, 80, 24),
		setupView:   setup.New(opts.Config, opts.ConfigPath, 80, 24),
	}
}

// Init resumes restored sessions, loads the activity feed, and opens the
// setup form when the mailbox app is not registered yet.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.connector.ResumeAll(),
		m.loadActivity(),
	}
	if m.cfg.Graph.ClientID == "" {
		cmds = append(cmds, func() tea.Msg { return needsSetupMsg{} })
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.helpView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		m.setupView.SetSize(m.layout.ContentWidth(), m.layout.ContentHeight())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case needsSetupMsg:
		m.message = "Register the Microsoft app to get started."
		return m, m.openSetup()

	case connect.ResultMsg:
		if !errors.Is(msg.Err, connect.ErrAborted) {
			m.message = resultMessage(msg)
		}
		return m, m.loadActivity()

	case connect.DisconnectedMsg:
		if msg.Err != nil {
			m.message = msg.Err.Error()
		} else {
			m.message = "Disconnected from " + msg.Provider.Label()
		}
		return m, m.loadActivity()

	case activityLoadedMsg:
		if msg.err != nil {
			m.log.Warn().Err(msg.err).Msg("loading activity")
			return m, nil
		}
		m.activity = msg.items
		return m, nil

	case setup.SavedMsg:
		m.cfg = msg.Config
		m.setupView.SetConfig(msg.Config)
		m.currentView = ViewDashboard
		m.message = "App registration saved."
		if m.register != nil {
			if err := m.register(msg.Config); err != nil {
				m.message = fmt.Sprintf("Saved, but the providers could not be set up: %v", err)
			}
		}
		m.clampSelection()
		return m, nil

	case setup.CancelledMsg:
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		switch m.currentView {
		case ViewSetup:
			return m.updateSetup(msg)
		case ViewHelp:
			if key.Matches(msg, m.keys.Help, m.keys.Back, m.keys.Quit) {
				m.currentView = m.previousView
			}
			return m, nil
		default:
			return m.handleDashboardKeys(msg)
		}
	}

	if m.currentView == ViewSetup {
		return m.updateSetup(msg)
	}
	return m, nil
}

// handleDashboardKeys processes key events on the provider dashboard.
func (m Model) handleDashboardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	providers := m.connector.Providers()

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, m.quit()

	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil

	case key.Matches(msg, m.keys.Setup):
		return m, m.openSetup()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadActivity()

	case key.Matches(msg, m.keys.Down):
		if len(providers) > 0 {
			m.selected = (m.selected + 1) % len(providers)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(providers) > 0 {
			m.selected--
			if m.selected < 0 {
				m.selected = len(providers) - 1
			}
		}
		return m, nil

	case key.Matches(msg, m.keys.ConnectGraph):
		return m.connectProvider(integration.ProviderGraph)

	case key.Matches(msg, m.keys.ConnectZoom):
		return m.connectProvider(integration.ProviderZoom)
	}

	pt, ok := m.selectedProvider()
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Connect):
		return m.connectProvider(pt)

	case key.Matches(msg, m.keys.Disconnect):
		return m, m.connector.DisconnectCmd(pt)

	case key.Matches(msg, m.keys.Cancel):
		m.connector.Cancel(pt)
		return m, nil
	}

	return m, nil
}

// connectProvider starts sign-in for pt unless it is already connected or
// connecting.
func (m Model) connectProvider(pt integration.ProviderType) (tea.Model, tea.Cmd) {
	st, ok := m.connector.Status(pt)
	if !ok {
		m.message = pt.Label() + " is not configured. Press s to set it up."
		return m, nil
	}

	switch st.State {
	case oauth.StateAuthenticating:
		return m, nil
	case oauth.StateAuthenticated:
		m.message = fmt.Sprintf("Already connected as %s", st.Profile.Name())
		return m, nil
	}

	m.message = "Opening your browser to sign in to " + pt.Label() + "..."
	return m, m.connector.Connect(pt)
}

func (m Model) updateSetup(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.setupView, cmd = m.setupView.Update(msg)
	return m, cmd
}

func (m *Model) openSetup() tea.Cmd {
	if m.currentView != ViewSetup {
		m.previousView = m.currentView
	}
	m.currentView = ViewSetup
	return m.setupView.Start()
}

// quit cancels in-flight sign-ins so their loopback ports are released.
func (m Model) quit() tea.Cmd {
	for _, pt := range m.connector.Providers() {
		m.connector.Cancel(pt)
	}
	return tea.Quit
}

func (m Model) selectedProvider() (integration.ProviderType, bool) {
	providers := m.connector.Providers()
	if m.selected < 0 || m.selected >= len(providers) {
		return "", false
	}
	return providers[m.selected], true
}

func (m *Model) clampSelection() {
	if n := len(m.connector.Providers()); m.selected >= n {
		m.selected = max(n-1, 0)
	}
}

// loadActivity returns a command that reads the recent activity feed.
func (m Model) loadActivity() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		if s == nil {
			return activityLoadedMsg{}
		}
		items, err := s.GetRecentActivity(context.Background(), activityLimit)
		return activityLoadedMsg{items: items, err: err}
	}
}

// resultMessage describes a finished connection attempt for the status bar.
func resultMessage(msg connect.ResultMsg) string {
	label := msg.Provider.Label()
	switch {
	case errors.Is(msg.Err, oauth.ErrAuthenticationInProgress):
		return "Sign-in to " + label + " is already in progress."
	case msg.Err != nil:
		return fmt.Sprintf("Could not connect to %s: %s", label, failureReason(msg.Err))
	default:
		return fmt.Sprintf("Connected as %s", msg.Profile.Name())
	}
}

// failureReason turns a connection error into a short user-facing reason.
func failureReason(err error) string {
	var authErr *oauth.AuthorizationError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case oauth.ReasonTimeout:
			return "the browser sign-in timed out"
		case oauth.ReasonCancelled:
			return "sign-in was cancelled"
		case oauth.ReasonBrowser:
			return "the browser could not be opened"
		case oauth.ReasonListener:
			return "the local callback port is in use"
		case oauth.ReasonState:
			return "the sign-in response did not match the request"
		case oauth.ReasonMissingCode:
			return "the provider returned no authorization code"
		default:
			return authErr.Reason
		}
	}
	return err.Error()
}
