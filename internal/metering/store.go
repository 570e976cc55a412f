package metering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides Postgres persistence for usage events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const eventCols = 8

// BatchInsert writes events in a single multi-row INSERT. It is a no-op for
// an empty slice.
func (s *Store) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*eventCols)
	rows := make([]string, 0, len(events))
	for i, ev := range events {
		rows = append(rows, placeholders(i*eventCols, eventCols, pgPlaceholder))
		args = append(args, ev.TenantID, ev.Tool, ev.Timestamp, ev.Outcome,
			ev.Paid, ev.Network, amountOrZero(ev.Amount), ev.LatencyMs)
	}

	query := `INSERT INTO usage_events
		(tenant_id, tool, timestamp, outcome, paid, network, amount, latency_ms)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting usage events: %w", err)
	}
	return nil
}

// GetSummary aggregates the events matching q.
func (s *Store) GetSummary(ctx context.Context, q UsageQuery) (*UsageSummary, error) {
	where, args := buildWhereClause(q, pgPlaceholder, func(t time.Time) any { return t })

	var summary UsageSummary
	err := s.pool.QueryRow(ctx, summaryQuery+where, args...).Scan(
		&summary.TotalCalls,
		&summary.PaidCalls,
		&summary.ErrorCount,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT network, SUM(amount::numeric)::text FROM usage_events`+
			andPaid(where)+` GROUP BY network ORDER BY network`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying settled amounts: %w", err)
	}
	defer rows.Close()

	summary.AmountByNetwork = make(map[string]string)
	for rows.Next() {
		var network, amount string
		if err := rows.Scan(&network, &amount); err != nil {
			return nil, fmt.Errorf("scanning settled amount: %w", err)
		}
		summary.AmountByNetwork[network] = amount
	}
	return &summary, rows.Err()
}

const summaryQuery = `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN paid THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome <> 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0)
	FROM usage_events`

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// buildWhereClause returns a clause starting with " WHERE", or "", and its
// positional arguments. ph renders the n-th placeholder and ts converts
// timestamps to the column's storage type.
func buildWhereClause(q UsageQuery, ph func(n int) string, ts func(time.Time) any) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, cond+" "+ph(len(args)))
	}

	if q.TenantID != "" {
		add("tenant_id =", q.TenantID)
	}
	if q.Tool != "" {
		add("tool =", q.Tool)
	}
	if !q.From.IsZero() {
		add("timestamp >=", ts(q.From))
	}
	if !q.To.IsZero() {
		add("timestamp <=", ts(q.To))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func andPaid(where string) string {
	if where == "" {
		return " WHERE paid"
	}
	return where + " AND paid"
}

func placeholders(offset, n int, ph func(int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = ph(offset + i + 1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func amountOrZero(a string) string {
	if a == "" {
		return "0"
	}
	return a
}
