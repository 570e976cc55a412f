package metering

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// SQLiteStore persists usage events in SQLite. Timestamps are stored as Unix
// milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open, migrated SQLite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func sqlitePlaceholder(int) string { return "?" }

func unixMilli(t time.Time) any { return t.UnixMilli() }

// BatchInsert writes events in a single multi-row INSERT.
func (s *SQLiteStore) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*eventCols)
	rows := make([]string, 0, len(events))
	for i, ev := range events {
		rows = append(rows, placeholders(i*eventCols, eventCols, sqlitePlaceholder))
		args = append(args, ev.TenantID, ev.Tool, ev.Timestamp.UnixMilli(), ev.Outcome,
			ev.Paid, ev.Network, amountOrZero(ev.Amount), ev.LatencyMs)
	}

	query := `INSERT INTO usage_events
		(tenant_id, tool, timestamp, outcome, paid, network, amount, latency_ms)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting usage events: %w", err)
	}
	return nil
}

// GetSummary aggregates the events matching q. Amounts are summed in Go
// because SQLite would coerce the text amounts to floating point.
func (s *SQLiteStore) GetSummary(ctx context.Context, q UsageQuery) (*UsageSummary, error) {
	where, args := buildWhereClause(q, sqlitePlaceholder, unixMilli)

	var summary UsageSummary
	err := s.db.QueryRowContext(ctx, summaryQuery+where, args...).Scan(
		&summary.TotalCalls,
		&summary.PaidCalls,
		&summary.ErrorCount,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT network, amount FROM usage_events`+andPaid(where), args...)
	if err != nil {
		return nil, fmt.Errorf("querying settled amounts: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]*big.Int)
	for rows.Next() {
		var network, amount string
		if err := rows.Scan(&network, &amount); err != nil {
			return nil, fmt.Errorf("scanning settled amount: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid stored amount %q", amount)
		}
		if totals[network] == nil {
			totals[network] = new(big.Int)
		}
		totals[network].Add(totals[network], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settled amounts: %w", err)
	}

	summary.AmountByNetwork = make(map[string]string, len(totals))
	for n, v := range totals {
		summary.AmountByNetwork[n] = v.String()
	}
	return &summary, nil
}
