package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alecgard/paygate/internal/x402"
)

// Store reads and writes tenant configs in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tenantColumns = `id, upstream_url, recipient, server_name, description`

const toolColumns = `name, description, price, enabled, input_schema`

// Get loads the tenant and its tools. It returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*Config, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+toolColumns+` FROM tenant_tools WHERE tenant_id = $1 ORDER BY position`, id)
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
func (s *Store) Create(ctx context.Context, cfg *Config) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (`+tenantColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		cfg.ID, cfg.UpstreamURL, cfg.Recipient, cfg.ServerName, cfg.Description)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}

	for i, t := range cfg.Tools {
		_, err = tx.Exec(ctx,
			`INSERT INTO tenant_tools (tenant_id, position, `+toolColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			cfg.ID, i, t.Name, t.Description, t.Price.String(), t.Enabled, nullableSchema(t.InputSchema))
		if err != nil {
			return fmt.Errorf("inserting tool %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tenant: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// toolRows is satisfied by both pgx.Rows and *sql.Rows.
type toolRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanConfig(row rowScanner) (*Config, error) {
	var cfg Config
	if err := row.Scan(&cfg.ID, &cfg.UpstreamURL, &cfg.Recipient, &cfg.ServerName, &cfg.Description); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func scanTools(rows toolRows) ([]Tool, error) {
	var tools []Tool
	for rows.Next() {
		var (
			t      Tool
			price  string
			schema []byte
		)
		if err := rows.Scan(&t.Name, &t.Description, &price, &t.Enabled, &schema); err != nil {
			return nil, err
		}
		p, err := x402.ParsePrice(price)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		t.Price = p
		if len(schema) > 0 {
			t.InputSchema = json.RawMessage(schema)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func nullableSchema(s json.RawMessage) any {
	if len(s) == 0 {
		return nil
	}
	return string(s)
}
