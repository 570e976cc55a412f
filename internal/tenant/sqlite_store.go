package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node alternative to Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open SQLite database that has been migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get loads the tenant and its tools. It returns ErrNotFound for unknown ids.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Config, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+toolColumns+` FROM tenant_tools WHERE tenant_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("loading tools for tenant %s: %w", id, err)
	}
	defer rows.Close()

	if cfg.Tools, err = scanTools(rows); err != nil {
		return nil, fmt.Errorf("loading tools for tenant %s: %w", id, err)
	}
	return cfg, nil
}

// Create inserts cfg and its tools in one transaction. An empty ID is filled
// with a new UUID.
func (s *SQLiteStore) Create(ctx context.Context, cfg *Config) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES (?, ?, ?, ?, ?)`,
		cfg.ID, cfg.UpstreamURL, cfg.Recipient, cfg.ServerName, cfg.Description)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}

	for i, t := range cfg.Tools {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tenant_tools (tenant_id, position, `+toolColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cfg.ID, i, t.Name, t.Description, t.Price.String(), t.Enabled, nullableSchema(t.InputSchema))
		if err != nil {
			return fmt.Errorf("inserting tool %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tenant: %w", err)
	}
	return nil
}
