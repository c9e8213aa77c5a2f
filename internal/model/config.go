package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. MAILAUTO_GRAPH_CLIENT_ID.
const envPrefix = "MAILAUTO_"

// GraphConfig holds the Microsoft Graph app registration.
type GraphConfig struct {
	// ClientID is the Azure application (client) id.
	ClientID string `mapstructure:"client_id" yaml:"client_id" env:"CLIENT_ID"`

	// TenantID selects the authority; "common" accepts any account.
	TenantID string `mapstructure:"tenant_id" yaml:"tenant_id" env:"TENANT_ID"`

	RedirectURI string   `mapstructure:"redirect_uri" yaml:"redirect_uri"`
	Scopes      []string `mapstructure:"scopes" yaml:"scopes"`

	// PKCE adds a code challenge to the consent request.
	PKCE bool `mapstructure:"pkce" yaml:"pkce"`
}

// ZoomConfig holds the Zoom OAuth app credentials. The client secret may
// also live in the system keyring.
type ZoomConfig struct {
	ClientID     string   `mapstructure:"client_id" yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURI  string   `mapstructure:"redirect_uri" yaml:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

// AuthConfig tunes the OAuth token lifecycle.
type AuthConfig struct {
	// TimeoutSec bounds the wait for the browser redirect.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// RefreshBufferSec is how long before expiry a token is refreshed.
	RefreshBufferSec int `mapstructure:"refresh_buffer_sec" yaml:"refresh_buffer_sec"`

	// PersistTokens keeps sessions in the system keyring across restarts.
	PersistTokens bool `mapstructure:"persist_tokens" yaml:"persist_tokens"`
}

// DatabaseConfig locates the local SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the file logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" env:"LEVEL"`
	File  string `mapstructure:"file" yaml:"file"`
}

// FeaturesConfig holds feature flags.
type FeaturesConfig struct {
	ZoomIntegration bool `mapstructure:"zoom_integration" yaml:"zoom_integration"`
	RSVPTracking    bool `mapstructure:"rsvp_tracking" yaml:"rsvp_tracking"`
	AttachmentRules bool `mapstructure:"attachment_rules" yaml:"attachment_rules"`
	Webhooks        bool `mapstructure:"webhooks" yaml:"webhooks"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Graph    GraphConfig    `mapstructure:"graph" yaml:"graph" envPrefix:"GRAPH_"`
	Zoom     ZoomConfig     `mapstructure:"zoom" yaml:"zoom" envPrefix:"ZOOM_"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" envPrefix:"LOG_"`
	Features FeaturesConfig `mapstructure:"features" yaml:"features"`

	// shadowed holds the file values of settings overridden from the
	// environment, keyed by index into envFields.
	shadowed map[int]string
}

// envFields lists the settings that can be overridden from the
// environment. SaveConfig writes their file values back, never the
// environment's.
var envFields = []func(*AppConfig) *string{
	func(c *AppConfig) *string { return &c.Graph.ClientID },
	func(c *AppConfig) *string { return &c.Graph.TenantID },
	func(c *AppConfig) *string { return &c.Zoom.ClientID },
	func(c *AppConfig) *string { return &c.Zoom.ClientSecret },
	func(c *AppConfig) *string { return &c.Log.Level },
}

// ConfigDir returns ~/.config/mailauto.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailauto")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailauto/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		Graph: GraphConfig{
			TenantID:    "common",
			RedirectURI: "http://localhost:8080/callback",
		},
		Zoom: ZoomConfig{
			RedirectURI: "http://localhost:8081/zoom/callback",
		},
		Auth: AuthConfig{
			TimeoutSec:       60,
			RefreshBufferSec: 300,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dir, "mailauto.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(dir, "mailauto.log"),
		},
		Features: FeaturesConfig{
			ZoomIntegration: true,
			RSVPTracking:    true,
			AttachmentRules: true,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and applies MAILAUTO_* environment overrides. If the file does not
// exist, defaults are used.
func LoadConfig(path string) (*AppConfig, error) {
	return loadConfig(path, nil)
}

// loadConfig reads path and overlays environ (the process environment
// when nil).
func loadConfig(path string, environ map[string]string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("graph.tenant_id", def.Graph.TenantID)
	v.SetDefault("graph.redirect_uri", def.Graph.RedirectURI)
	v.SetDefault("zoom.redirect_uri", def.Zoom.RedirectURI)
	v.SetDefault("auth.timeout_sec", def.Auth.TimeoutSec)
	v.SetDefault("auth.refresh_buffer_sec", def.Auth.RefreshBufferSec)
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("features.zoom_integration", def.Features.ZoomIntegration)
	v.SetDefault("features.rsvp_tracking", def.Features.RSVPTracking)
	v.SetDefault("features.attachment_rules", def.Features.AttachmentRules)

	cfg := def
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.applyEnv(environ); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment settings on c, remembering the values
// they replace.
func (c *AppConfig) applyEnv(environ map[string]string) error {
	var overlay AppConfig
	opts := env.Options{Prefix: envPrefix, Environment: environ}
	if err := env.ParseWithOptions(&overlay, opts); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	for i, field := range envFields {
		value := *field(&overlay)
		if value == "" {
			continue
		}
		if c.shadowed == nil {
			c.shadowed = make(map[int]string)
		}
		if _, ok := c.shadowed[i]; !ok {
			c.shadowed[i] = *field(c)
		}
		*field(c) = value
	}

	return nil
}

// Validate reports configuration that prevents a provider from
// connecting.
func (c *AppConfig) Validate() []string {
	var problems []string
	if c.Graph.ClientID == "" {
		problems = append(problems, "graph.client_id is not set")
	}
	if c.Features.ZoomIntegration && c.Zoom.ClientID != "" && c.Zoom.ClientSecret == "" {
		problems = append(problems, "zoom.client_secret is not set")
	}
	if c.Auth.TimeoutSec <= 0 {
		problems = append(problems, "auth.timeout_sec must be positive")
	}
	if c.Auth.RefreshBufferSec < 0 {
		problems = append(problems, "auth.refresh_buffer_sec must not be negative")
	}
	return problems
}

// ZoomEnabled reports whether the meeting provider should be offered.
func (c *AppConfig) ZoomEnabled() bool {
	return c.Features.ZoomIntegration && c.Zoom.ClientID != ""
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Values that came from the
// environment are not persisted.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	out := *cfg
	for i, fileValue := range cfg.shadowed {
		*envFields[i](&out) = fileValue
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("graph", out.Graph)
	v.Set("zoom", out.Zoom)
	v.Set("auth", out.Auth)
	v.Set("database", out.Database)
	v.Set("log", out.Log)
	v.Set("features", out.Features)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
