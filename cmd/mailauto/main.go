package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/99designs/keyring"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/mail-automation/internal/app"
	"github.com/nhle/mail-automation/internal/connect"
	"github.com/nhle/mail-automation/internal/credential"
	"github.com/nhle/mail-automation/internal/integration"
	"github.com/nhle/mail-automation/internal/integration/graph"
	"github.com/nhle/mail-automation/internal/integration/zoom"
	"github.com/nhle/mail-automation/internal/logging"
	"github.com/nhle/mail-automation/internal/model"
	"github.com/nhle/mail-automation/internal/oauth"
	"github.com/nhle/mail-automation/internal/store"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mailauto: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, logFile, err := logging.OpenFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ring, err := credential.Open()
	if err != nil {
		logger.Warn().Err(err).Msg("keyring unavailable; tokens and secrets are not stored")
	}

	conn := connect.New(st, logger)
	providers := newProviderSet(conn, ring, logger)
	register := providers.register
	if err := register(cfg); err != nil {
		logger.Warn().Err(err).Msg("registering providers")
	}

	program := tea.NewProgram(app.New(app.Options{
		Config:     cfg,
		ConfigPath: configPath,
		Store:      st,
		Connector:  conn,
		Register:   register,
		Logger:     logger,
	}), tea.WithAltScreen())

	_, err = program.Run()
	return err
}

// providerSet keeps the OAuth clients registered with the connector so a
// configuration reload reuses the ones whose settings did not change.
type providerSet struct {
	conn    *connect.Connector
	ring    keyring.Keyring
	log     zerolog.Logger
	clients map[integration.ProviderType]*oauth.Client
}

func newProviderSet(conn *connect.Connector, ring keyring.Keyring, logger zerolog.Logger) *providerSet {
	return &providerSet{
		conn:    conn,
		ring:    ring,
		log:     logger,
		clients: make(map[integration.ProviderType]*oauth.Client),
	}
}

// register builds an OAuth client and façade for every provider the
// configuration enables and registers them with the connector.
func (p *providerSet) register(cfg *model.AppConfig) error {
	zoomSecret := resolveZoomSecret(cfg, p.ring, p.log)

	check := *cfg
	check.Zoom.ClientSecret = zoomSecret
	for _, problem := range check.Validate() {
		p.log.Warn().Str("setting", problem).Msg("configuration incomplete")
	}

	opts := clientOptions(cfg, p.ring, p.log)

	if cfg.Graph.ClientID != "" {
		pc := graph.OAuthConfig(graph.Settings{
			ClientID:    cfg.Graph.ClientID,
			TenantID:    cfg.Graph.TenantID,
			RedirectURI: cfg.Graph.RedirectURI,
			Scopes:      cfg.Graph.Scopes,
			PKCE:        cfg.Graph.PKCE,
		})
		client, err := p.client(integration.ProviderGraph, pc, opts)
		if err != nil {
			return fmt.Errorf("setting up Microsoft Graph: %w", err)
		}
		p.conn.Register(integration.ProviderGraph, client, graph.NewClient(client))
	}

	if cfg.ZoomEnabled() && zoomSecret != "" {
		pc := zoom.OAuthConfig(zoom.Settings{
			ClientID:     cfg.Zoom.ClientID,
			ClientSecret: zoomSecret,
			RedirectURI:  cfg.Zoom.RedirectURI,
			Scopes:       cfg.Zoom.Scopes,
		})
		client, err := p.client(integration.ProviderZoom, pc, opts)
		if err != nil {
			return fmt.Errorf("setting up Zoom: %w", err)
		}
		p.conn.Register(integration.ProviderZoom, client, zoom.NewClient(client))
	}

	return nil
}

// client returns the existing client for pt when it was built from pc.
// Otherwise the old client's session is dropped and a new one is built
// and restored from the token store.
func (p *providerSet) client(
	pt integration.ProviderType,
	pc oauth.ProviderConfig,
	opts []oauth.Option,
) (*oauth.Client, error) {
	if old, ok := p.clients[pt]; ok {
		if old.Matches(pc) {
			return old, nil
		}
		old.Disconnect()
	}

	client, err := oauth.NewClient(pc, opts...)
	if err != nil {
		return nil, err
	}
	restore(client, p.log)
	p.clients[pt] = client

	return client, nil
}

func clientOptions(cfg *model.AppConfig, ring keyring.Keyring, logger zerolog.Logger) []oauth.Option {
	opts := []oauth.Option{
		oauth.WithLogger(logger),
		oauth.WithTimeout(time.Duration(cfg.Auth.TimeoutSec) * time.Second),
		oauth.WithRefreshBuffer(time.Duration(cfg.Auth.RefreshBufferSec) * time.Second),
	}
	if cfg.Auth.PersistTokens && ring != nil {
		opts = append(opts, oauth.WithTokenStore(credential.NewTokenStore(ring)))
	}
	return opts
}

// resolveZoomSecret prefers the configured secret and falls back to the
// keyring.
func resolveZoomSecret(cfg *model.AppConfig, ring keyring.Keyring, logger zerolog.Logger) string {
	if cfg.Zoom.ClientSecret != "" || ring == nil || !cfg.ZoomEnabled() {
		return cfg.Zoom.ClientSecret
	}

	secret, err := credential.Lookup(ring, credential.KeyZoomClientSecret)
	if err != nil {
		if !credential.IsNotFound(err) {
			logger.Warn().Err(err).Msg("reading Zoom client secret")
		}
		return ""
	}
	return secret
}

func restore(client *oauth.Client, logger zerolog.Logger) {
	if err := client.Restore(context.Background()); err != nil {
		logger.Warn().Err(err).Str("provider", client.Name()).Msg("restoring session")
	}
}
