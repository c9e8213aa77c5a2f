package model

import "time"

// IntegrationStatus is the connection state of a provider as shown on the
// dashboard.
type IntegrationStatus string

const (
	StatusDisconnected IntegrationStatus = "disconnected"
	StatusConnecting   IntegrationStatus = "connecting"
	StatusConnected    IntegrationStatus = "connected"
	StatusFailed       IntegrationStatus = "failed"
)

// Integration records the last known state of one provider connection.
// Tokens are never stored here.
type Integration struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`

	// Provider is the provider type ("graph", "zoom"). It is unique.
	Provider string `json:"provider"`

	Status IntegrationStatus `json:"status"`

	// DisplayName and Email describe the connected account.
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`

	// LastError is the most recent connection failure, if any.
	LastError string `json:"last_error"`

	// ConnectedAt is when the provider last connected successfully.
	ConnectedAt *time.Time `json:"connected_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Activity is one entry of the dashboard activity feed.
type Activity struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
