package dictionary

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the dictionary_entries table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The (scope, wrong_text) primary key is the serialization point for the
// atomic insert-or-increment upsert: concurrent inserts of the same key
// resolve through ON CONFLICT instead of surfacing a constraint violation.
const Schema = `
CREATE TABLE IF NOT EXISTS dictionary_entries (
    scope        TEXT        NOT NULL DEFAULT '',
    wrong_text   TEXT        NOT NULL,
    correct_text TEXT        NOT NULL,
    category     TEXT        NOT NULL DEFAULT 'general',
    frequency    BIGINT      NOT NULL DEFAULT 1 CHECK (frequency >= 1),
    active       BOOLEAN     NOT NULL DEFAULT TRUE,
    description  TEXT        NOT NULL DEFAULT '',
    priority     INT         NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (scope, wrong_text)
);
CREATE INDEX IF NOT EXISTS idx_dictionary_entries_scope_frequency
    ON dictionary_entries (scope, frequency DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database. Idempotent and safe
// to call on every application start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("dictionary: migrate: %w", err)
	}
	return nil
}

// Upsert implements [Store.Upsert] as a single INSERT ... ON CONFLICT
// statement. The frequency arithmetic happens inside the database row lock,
// so N concurrent upserts of the same key always net N increments.
func (s *PostgresStore) Upsert(ctx context.Context, scope, wrongText, correctText string, cat Category) (Entry, error) {
	if wrongText == "" || correctText == "" {
		return Entry{}, ErrInvalidEntry
	}
	if cat != CategoryUnspecified && !cat.IsValid() {
		cat = CategoryGeneral
	}

	// CategoryUnspecified arrives as '' and resolves in SQL: general on
	// insert, the stored category on conflict.
	const query = `
		INSERT INTO dictionary_entries (scope, wrong_text, correct_text, category)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'general'))
		ON CONFLICT (scope, wrong_text) DO UPDATE SET
			frequency    = dictionary_entries.frequency + 1,
			correct_text = EXCLUDED.correct_text,
			category     = COALESCE(NULLIF($4, ''), dictionary_entries.category),
			active       = TRUE,
			updated_at   = now()
		RETURNING scope, wrong_text, correct_text, category, frequency, active,
		          description, priority, updated_at`

	e, err := scanEntry(s.db.QueryRow(ctx, query, scope, wrongText, correctText, string(cat)))
	if err != nil {
		return Entry{}, fmt.Errorf("dictionary: upsert %q: %w", wrongText, err)
	}
	return e, nil
}

// GetCandidates implements [Store.GetCandidates]. Tenant shadowing is done in
// SQL: DISTINCT ON (wrong_text) ordered by scope descending picks the tenant
// row over the global row (scope "") for the same key.
func (s *PostgresStore) GetCandidates(ctx context.Context, tenantID string) ([]Entry, error) {
	const query = `
		SELECT DISTINCT ON (wrong_text)
		       scope, wrong_text, correct_text, category, frequency, active,
		       description, priority, updated_at
		FROM   dictionary_entries
		WHERE  scope IN ('', $1) AND active
		ORDER  BY wrong_text, scope DESC`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("dictionary: get candidates: %w", err)
	}
	return collectEntries(rows)
}

// TopTerms implements [Store.TopTerms]. A non-positive limit becomes
// LIMIT NULL, which Postgres treats as no limit.
func (s *PostgresStore) TopTerms(ctx context.Context, tenantID string, limit int) ([]Entry, error) {
	const query = `
		SELECT scope, wrong_text, correct_text, category, frequency, active,
		       description, priority, updated_at
		FROM (
			SELECT DISTINCT ON (wrong_text)
			       scope, wrong_text, correct_text, category, frequency, active,
			       description, priority, updated_at
			FROM   dictionary_entries
			WHERE  scope IN ('', $1) AND active
			ORDER  BY wrong_text, scope DESC
		) merged
		ORDER BY frequency DESC, updated_at DESC
		LIMIT $2`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, tenantID, lim)
	if err != nil {
		return nil, fmt.Errorf("dictionary: top terms: %w", err)
	}
	return collectEntries(rows)
}

// Deactivate implements [Store.Deactivate].
func (s *PostgresStore) Deactivate(ctx context.Context, scope, wrongText string) error {
	const query = `
		UPDATE dictionary_entries
		SET    active = FALSE, updated_at = now()
		WHERE  scope = $1 AND wrong_text = $2`

	if _, err := s.db.Exec(ctx, query, scope, wrongText); err != nil {
		return fmt.Errorf("dictionary: deactivate %q: %w", wrongText, err)
	}
	return nil
}

// ImportSeed implements [Store.ImportSeed]. Existing rows keep their frequency;
// only content and curation metadata are refreshed.
func (s *PostgresStore) ImportSeed(ctx context.Context, scope string, row SeedRow) (bool, error) {
	if row.Original == "" || row.Replacement == "" {
		return false, ErrInvalidEntry
	}

	const query = `
		INSERT INTO dictionary_entries
		       (scope, wrong_text, correct_text, category, description, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope, wrong_text) DO UPDATE SET
			correct_text = EXCLUDED.correct_text,
			category     = EXCLUDED.category,
			description  = EXCLUDED.description,
			priority     = EXCLUDED.priority,
			updated_at   = now()
		RETURNING (xmax = 0)`

	var inserted bool
	err := s.db.QueryRow(ctx, query,
		scope, row.Original, row.Replacement,
		string(NormalizeCategory(row.Category)), row.Description, row.Priority,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("dictionary: import seed %q: %w", row.Original, err)
	}
	return inserted, nil
}

// scanEntry scans a single row in the canonical column order.
func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e   Entry
		cat string
	)
	if err := row.Scan(
		&e.Scope, &e.WrongText, &e.CorrectText, &cat, &e.Frequency, &e.Active,
		&e.Description, &e.Priority, &e.UpdatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.Category = NormalizeCategory(cat)
	return e, nil
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("dictionary: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
