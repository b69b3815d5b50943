package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/verbatimhq/verbatim/pkg/types"
)

// Schema is the SQL DDL for the correction_records table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS correction_records (
    id             BIGSERIAL   PRIMARY KEY,
    tenant_id      TEXT        NOT NULL,
    video_id       TEXT        NOT NULL,
    segment_index  INT         NOT NULL,
    start_seconds  DOUBLE PRECISION NOT NULL,
    end_seconds    DOUBLE PRECISION NOT NULL,
    original_text  TEXT        NOT NULL,
    corrected_text TEXT        NOT NULL,
    source         TEXT        NOT NULL,
    confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
    applied        BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_correction_records_video
    ON correction_records (video_id, segment_index);
CREATE INDEX IF NOT EXISTS idx_correction_records_tenant
    ON correction_records (tenant_id);
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
// connection or pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

const insertQuery = `
	INSERT INTO correction_records
	       (tenant_id, video_id, segment_index, start_seconds, end_seconds,
	        original_text, corrected_text, source, confidence, applied)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Append implements [Store.Append].
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.Exec(ctx, insertQuery,
		rec.TenantID, rec.VideoID, rec.SegmentIndex, rec.Start, rec.End,
		rec.OriginalText, rec.CorrectedText, string(rec.Source), rec.Confidence,
		rec.AppliedToDictionary,
	)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// AppendAll implements [Store.AppendAll]. Records are written one statement
// each in the given order; the caller sorts by segment index beforehand.
func (s *PostgresStore) AppendAll(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ListByVideo implements [Store.ListByVideo].
func (s *PostgresStore) ListByVideo(ctx context.Context, videoID string) ([]Record, error) {
	const query = `
		SELECT tenant_id, video_id, segment_index, start_seconds, end_seconds,
		       original_text, corrected_text, source, confidence, applied, created_at
		FROM   correction_records
		WHERE  video_id = $1
		ORDER  BY segment_index, created_at`

	rows, err := s.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by video: %w", err)
	}
	return collectRecords(rows)
}

// MarkApplied implements [Store.MarkApplied].
func (s *PostgresStore) MarkApplied(ctx context.Context, videoID string, segmentIndex int) error {
	const query = `
		UPDATE correction_records
		SET    applied = TRUE
		WHERE  id = (
			SELECT id FROM correction_records
			WHERE  video_id = $1 AND segment_index = $2 AND source = 'user'
			ORDER  BY created_at DESC
			LIMIT  1
		)`

	if _, err := s.db.Exec(ctx, query, videoID, segmentIndex); err != nil {
		return fmt.Errorf("ledger: mark applied: %w", err)
	}
	return nil
}

// TenantStats implements [Store.TenantStats].
func (s *PostgresStore) TenantStats(ctx context.Context, tenantID string) (Stats, error) {
	var stats Stats

	const countQuery = `
		SELECT source, count(*)
		FROM   correction_records
		WHERE  tenant_id = $1
		GROUP  BY source`

	rows, err := s.db.Query(ctx, countQuery, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: tenant stats: %w", err)
	}
	type sourceCount struct {
		source string
		n      int64
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sourceCount, error) {
		var sc sourceCount
		err := row.Scan(&sc.source, &sc.n)
		return sc, err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: scan source counts: %w", err)
	}
	for _, sc := range counts {
		switch types.Source(sc.source) {
		case types.SourceDictionary:
			stats.Counts.Dictionary = sc.n
		case types.SourceAI:
			stats.Counts.AI = sc.n
		case types.SourceUser:
			stats.Counts.User = sc.n
		}
	}

	const confQuery = `
		SELECT least(floor(confidence * 10), 9)::int, count(*)
		FROM   correction_records
		WHERE  tenant_id = $1 AND source = 'ai'
		GROUP  BY 1`

	confRows, err := s.db.Query(ctx, confQuery, tenantID)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: confidence distribution: %w", err)
	}
	type bucketCount struct {
		bucket int
		n      int64
	}
	buckets, err := pgx.CollectRows(confRows, func(row pgx.CollectableRow) (bucketCount, error) {
		var bc bucketCount
		err := row.Scan(&bc.bucket, &bc.n)
		return bc, err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: scan confidence buckets: %w", err)
	}
	for _, bc := range buckets {
		if bc.bucket >= 0 && bc.bucket < len(stats.ConfidenceBuckets) {
			stats.ConfidenceBuckets[bc.bucket] = bc.n
		}
	}

	return stats, nil
}

// DeleteByVideo implements [Store.DeleteByVideo].
func (s *PostgresStore) DeleteByVideo(ctx context.Context, videoID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM correction_records WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("ledger: delete by video: %w", err)
	}
	return nil
}

// DeleteByTenant implements [Store.DeleteByTenant].
func (s *PostgresStore) DeleteByTenant(ctx context.Context, tenantID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM correction_records WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("ledger: delete by tenant: %w", err)
	}
	return nil
}

// collectRecords scans pgx rows into a slice of Record values.
func collectRecords(rows pgx.Rows) ([]Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			rec Record
			src string
		)
		if err := row.Scan(
			&rec.TenantID, &rec.VideoID, &rec.SegmentIndex, &rec.Start, &rec.End,
			&rec.OriginalText, &rec.CorrectedText, &src, &rec.Confidence,
			&rec.AppliedToDictionary, &rec.CreatedAt,
		); err != nil {
			return Record{}, err
		}
		rec.Source = types.Source(src)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: scan rows: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
