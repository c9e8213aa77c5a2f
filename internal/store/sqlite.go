package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mail-automation/internal/model"
)

// defaultActivityLimit caps GetRecentActivity when no limit is given.
const defaultActivityLimit = 20

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Each connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertIntegration inserts or replaces the record for in.Provider. A new
// record gets a UUID; an existing one keeps its ID.
func (s *SQLiteStore) UpsertIntegration(
	ctx context.Context,
	in model.Integration,
) error {
	if in.Provider == "" {
		return errors.New("upserting integration: provider is required")
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Status == "" {
		in.Status = model.StatusDisconnected
	}

	var connectedAt any
	if in.ConnectedAt != nil {
		connectedAt = in.ConnectedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations (
			id, provider, status, display_name, email, connected_at, updated_at, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			status       = excluded.status,
			display_name = excluded.display_name,
			email        = excluded.email,
			connected_at = excluded.connected_at,
			updated_at   = excluded.updated_at,
			last_error   = excluded.last_error`,
		in.ID, in.Provider, string(in.Status), in.DisplayName, in.Email,
		connectedAt, time.Now().UTC(), in.LastError,
	)
	if err != nil {
		return fmt.Errorf("upserting integration %s: %w", in.Provider, err)
	}

	return nil
}

// GetIntegration retrieves the record for provider, or ErrNotFound.
func (s *SQLiteStore) GetIntegration(
	ctx context.Context,
	provider string,
) (*model.Integration, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM integrations WHERE provider = ?", provider,
	)

	in, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting integration %s: %w", provider, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting integration %s: %w", provider, err)
	}

	return &in, nil
}

// GetIntegrations retrieves every integration record ordered by provider.
func (s *SQLiteStore) GetIntegrations(
	ctx context.Context,
) ([]model.Integration, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM integrations ORDER BY provider")
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var out []model.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}

	return out, rows.Err()
}

// AddActivity appends an entry to the activity feed.
func (s *SQLiteStore) AddActivity(ctx context.Context, a model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (id, provider, message, created_at)
		VALUES (?, ?, ?, ?)`,
		a.ID, a.Provider, a.Message, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding activity: %w", err)
	}

	return nil
}

// GetRecentActivity returns up to limit entries, newest first.
func (s *SQLiteStore) GetRecentActivity(
	ctx context.Context,
	limit int,
) ([]model.Activity, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, provider, message, created_at FROM activity
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.Provider, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

// scanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanIntegration scans an integration row in table column order.
func scanIntegration(row scanner) (model.Integration, error) {
	var (
		in          model.Integration
		status      string
		connectedAt sql.NullTime
	)

	err := row.Scan(
		&in.ID, &in.Provider, &status, &in.DisplayName, &in.Email,
		&connectedAt, &in.UpdatedAt, &in.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Integration{}, err
	}
	if err != nil {
		return model.Integration{}, fmt.Errorf("scanning integration row: %w", err)
	}

	in.Status = model.IntegrationStatus(status)
	if connectedAt.Valid {
		t := connectedAt.Time
		in.ConnectedAt = &t
	}

	return in, nil
}
