package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hmlr/titlewatch/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const table = "dispatch_journal"

// Entry kinds.
const (
	KindSMS      = "sms"
	KindCaseSync = "case_sync"
)

// OutcomeSent is the outcome stored for a confirmed SMS. HasDelivered and
// MarkResolved rely on it.
const OutcomeSent = "sent"

// ErrEntryNotFound is returned when no journal entry has the given ID.
var ErrEntryNotFound = errors.New("journal entry not found")

// Store is the Outcome Journal: one row per dispatch or case sync attempt.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Entry is one journaled outcome.
type Entry struct {
	ID            uuid.UUID
	Kind          string
	TransitionKey string
	Recipient     string
	Template      string
	Body          string
	Outcome       string
	Reason        string
	ProviderID    *string // provider message sid, when known
	Detail        *string // error text or raw provider reply
	CreatedAt     time.Time
	ResolvedAt    *time.Time // set when an operator resend succeeded
}

// RecordParams contains the parameters for recording an outcome.
type RecordParams struct {
	Kind          string
	TransitionKey string
	Recipient     string
	Template      string
	Body          string
	Outcome       string
	Reason        string
	ProviderID    string
	Detail        string
}

// ListParams filters List. An empty Outcome lists every outcome.
type ListParams struct {
	Outcome string
	Limit   int32
}

const entryColumns = `id, kind, transition_key, recipient, template, body, outcome, reason, provider_id, detail, created_at, resolved_at`

// Migrate creates the journal table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply journal schema: %w", err)
	}
	return nil
}

// Record inserts a new journal entry.
func (s *Store) Record(ctx context.Context, params RecordParams) (entry *Entry, err error) {
	defer s.observe("insert", &err)()

	if params.Kind == "" || params.TransitionKey == "" || params.Outcome == "" {
		return nil, fmt.Errorf("kind, transition key and outcome are required")
	}

	const q = `
INSERT INTO dispatch_journal (id, kind, transition_key, recipient, template, body, outcome, reason, provider_id, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + entryColumns

	row := s.pool.QueryRow(ctx, q,
		uuid.New(),
		params.Kind,
		params.TransitionKey,
		params.Recipient,
		params.Template,
		params.Body,
		params.Outcome,
		params.Reason,
		nullableText(params.ProviderID),
		nullableText(params.Detail),
	)
	entry, err = scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("failed to record journal entry: %w", err)
	}
	return entry, nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (entry *Entry, err error) {
	defer s.observe("select", &err)()

	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM dispatch_journal WHERE id = $1`, id)
	entry, err = scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return entry, nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, params ListParams) (entries []*Entry, err error) {
	defer s.observe("select", &err)()

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	const q = `
SELECT ` + entryColumns + `
FROM dispatch_journal
WHERE ($1::text = '' OR outcome = $1::text)
ORDER BY created_at DESC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, params.Outcome, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, nil
}

// HasDelivered reports whether a message for the transition key was
// already confirmed sent, either first time or by a resend.
func (s *Store) HasDelivered(ctx context.Context, kind, transitionKey string) (delivered bool, err error) {
	defer s.observe("select", &err)()

	const q = `
SELECT EXISTS (
    SELECT 1 FROM dispatch_journal
    WHERE kind = $1 AND transition_key = $2 AND outcome = $3
)`
	if err := s.pool.QueryRow(ctx, q, kind, transitionKey, OutcomeSent).Scan(&delivered); err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}
	return delivered, nil
}

// MarkResolved records a successful resend of a failed or unknown entry.
func (s *Store) MarkResolved(ctx context.Context, id uuid.UUID, providerID string) (entry *Entry, err error) {
	defer s.observe("update", &err)()

	const q = `
UPDATE dispatch_journal
SET outcome = $2, provider_id = COALESCE($3, provider_id), resolved_at = now()
WHERE id = $1
RETURNING ` + entryColumns

	entry, err = scanEntry(s.pool.QueryRow(ctx, q, id, OutcomeSent, nullableText(providerID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journal entry: %w", err)
	}
	return entry, nil
}

func (s *Store) observe(operation string, err *error) func() {
	return metrics.Timer(time.Now(), func(duration float64) {
		s.metrics.RecordDBQuery(operation, table, duration, *err)
	})
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e          Entry
		providerID pgtype.Text
		detail     pgtype.Text
		resolvedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.TransitionKey,
		&e.Recipient,
		&e.Template,
		&e.Body,
		&e.Outcome,
		&e.Reason,
		&providerID,
		&detail,
		&e.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ProviderID = stringPtrFromPgtext(providerID)
	e.Detail = stringPtrFromPgtext(detail)
	e.ResolvedAt = timePtrFromPgTimestamptz(resolvedAt)
	return &e, nil
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
