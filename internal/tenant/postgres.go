package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the tenant_settings table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tenant_settings (
    tenant_id          TEXT        PRIMARY KEY,
    prompt_override    TEXT        NOT NULL DEFAULT '',
    language           TEXT        NOT NULL DEFAULT 'ko',
    correction_enabled BOOLEAN     NOT NULL DEFAULT TRUE,
    quality_mode       TEXT        NOT NULL DEFAULT 'standard',
    auto_learn         BOOLEAN     NOT NULL DEFAULT TRUE,
    min_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    prompt_template    TEXT        NOT NULL DEFAULT '',
    context_words      TEXT[]      NOT NULL DEFAULT '{}',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
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

// NewPostgresStore creates a new [PostgresStore]. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("tenant: migrate: %w", err)
	}
	return nil
}

// Get implements [Store.Get]. A missing row is not an error: the defaults
// are inserted (racing writers resolve via ON CONFLICT DO NOTHING) and
// returned with a warning log.
func (s *PostgresStore) Get(ctx context.Context, tenantID string) (Settings, error) {
	const query = `
		SELECT tenant_id, prompt_override, language, correction_enabled,
		       quality_mode, auto_learn, min_confidence, prompt_template, context_words
		FROM   tenant_settings
		WHERE  tenant_id = $1`

	settings, err := scanSettings(s.db.QueryRow(ctx, query, tenantID))
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, fmt.Errorf("tenant: get settings %q: %w", tenantID, err)
	}

	// Lazy creation on first access.
	logDefaulted(tenantID)
	def := Defaults(tenantID)
	const insert = `
		INSERT INTO tenant_settings (tenant_id)
		VALUES ($1)
		ON CONFLICT (tenant_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, insert, tenantID); err != nil {
		return Settings{}, fmt.Errorf("tenant: create default settings %q: %w", tenantID, err)
	}
	return def, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, set Settings) error {
	if set.TenantID == "" {
		return fmt.Errorf("tenant: update: tenant id must not be empty")
	}

	const query = `
		INSERT INTO tenant_settings
		       (tenant_id, prompt_override, language, correction_enabled,
		        quality_mode, auto_learn, min_confidence, prompt_template,
		        context_words, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			prompt_override    = EXCLUDED.prompt_override,
			language           = EXCLUDED.language,
			correction_enabled = EXCLUDED.correction_enabled,
			quality_mode       = EXCLUDED.quality_mode,
			auto_learn         = EXCLUDED.auto_learn,
			min_confidence     = EXCLUDED.min_confidence,
			prompt_template    = EXCLUDED.prompt_template,
			context_words      = EXCLUDED.context_words,
			updated_at         = now()`

	_, err := s.db.Exec(ctx, query,
		set.TenantID, set.PromptOverride, set.Language, set.CorrectionEnabled,
		set.QualityMode, set.AutoLearn, set.MinConfidence, set.PromptTemplate,
		set.ContextWords,
	)
	if err != nil {
		return fmt.Errorf("tenant: update settings %q: %w", set.TenantID, err)
	}
	return nil
}

func scanSettings(row pgx.Row) (Settings, error) {
	var s Settings
	if err := row.Scan(
		&s.TenantID, &s.PromptOverride, &s.Language, &s.CorrectionEnabled,
		&s.QualityMode, &s.AutoLearn, &s.MinConfidence, &s.PromptTemplate,
		&s.ContextWords,
	); err != nil {
		return Settings{}, err
	}
	return s, nil
}
