package dictionary

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// entryRow builds a raw column row in the canonical scan order.
func entryRow(scope, wrong, correct, cat string, freq int64) []any {
	return []any{scope, wrong, correct, cat, freq, true, "", 0, time.Now()}
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

// The upsert must be a single INSERT ... ON CONFLICT statement with the
// increment inside the database, never a read-modify-write sequence.
func TestPostgresStore_UpsertIsSingleAtomicStatement(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	var statements int
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			statements++
			capturedSQL = sql
			return &mockRow{scanFunc: func(dest ...any) error {
				return (&mockRows{data: [][]any{entryRow("church-1", "성경에", "말씀에", "bible", 1)}, idx: 1}).Scan(dest...)
			}}
		},
	}

	store := NewPostgresStore(db)
	e, err := store.Upsert(context.Background(), "church-1", "성경에", "말씀에", CategoryBible)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if statements != 1 {
		t.Errorf("upsert issued %d statements, want exactly 1", statements)
	}
	if !strings.Contains(capturedSQL, "ON CONFLICT") {
		t.Errorf("SQL should contain ON CONFLICT, got: %s", capturedSQL)
	}
	if !strings.Contains(capturedSQL, "frequency + 1") {
		t.Errorf("SQL should increment frequency in-database, got: %s", capturedSQL)
	}
	if e.Frequency != 1 {
		t.Errorf("Frequency = %d, want 1", e.Frequency)
	}
}

// An unspecified category travels as '' and the statement resolves it
// in-database: general on insert, the stored category on conflict. Concrete
// categories still overwrite.
func TestPostgresStore_UpsertCategoryResolvedInSQL(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	var capturedArgs []any
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			capturedSQL = sql
			capturedArgs = args
			return &mockRow{scanFunc: func(dest ...any) error {
				return (&mockRows{data: [][]any{entryRow("church-1", "아브라힘", "아브라함", "person", 2)}, idx: 1}).Scan(dest...)
			}}
		},
	}

	store := NewPostgresStore(db)
	e, err := store.Upsert(context.Background(), "church-1", "아브라힘", "아브라함", CategoryUnspecified)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if got := capturedArgs[3]; got != "" {
		t.Errorf("category arg = %v, want empty sentinel", got)
	}
	if !strings.Contains(capturedSQL, "COALESCE(NULLIF($4, ''), 'general')") {
		t.Errorf("insert should default an unspecified category to general, got: %s", capturedSQL)
	}
	if !strings.Contains(capturedSQL, "COALESCE(NULLIF($4, ''), dictionary_entries.category)") {
		t.Errorf("conflict should keep the stored category, got: %s", capturedSQL)
	}
	if e.Category != CategoryPerson {
		t.Errorf("Category = %q, want person as stored", e.Category)
	}
}

func TestPostgresStore_UpsertRejectsEmptyText(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&mockDB{})
	if _, err := store.Upsert(context.Background(), "t", "", "x", CategoryGeneral); err != ErrInvalidEntry {
		t.Errorf("err = %v, want ErrInvalidEntry", err)
	}
}

// ---------------------------------------------------------------------------
// GetCandidates / TopTerms
// ---------------------------------------------------------------------------

func TestPostgresStore_GetCandidatesShadowsInSQL(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			capturedSQL = sql
			return &mockRows{data: [][]any{
				entryRow("church-1", "아브라힘", "아브라함", "person", 3),
			}}, nil
		},
	}

	store := NewPostgresStore(db)
	got, err := store.GetCandidates(context.Background(), "church-1")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}

	// Tenant-over-global shadowing is delegated to DISTINCT ON ordered by scope.
	if !strings.Contains(capturedSQL, "DISTINCT ON (wrong_text)") {
		t.Errorf("SQL should deduplicate by wrong_text, got: %s", capturedSQL)
	}
	if !strings.Contains(capturedSQL, "scope DESC") {
		t.Errorf("SQL should prefer tenant scope over global, got: %s", capturedSQL)
	}
	if len(got) != 1 || got[0].Category != CategoryPerson {
		t.Errorf("candidates = %+v, want one person entry", got)
	}
}

func TestPostgresStore_CandidatesNeverNil(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&mockDB{})
	got, err := store.GetCandidates(context.Background(), "church-1")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if got == nil {
		t.Error("GetCandidates returned nil, want empty slice")
	}
}

func TestPostgresStore_TopTermsOrdersByFrequency(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			capturedSQL = sql
			return &mockRows{}, nil
		},
	}

	store := NewPostgresStore(db)
	if _, err := store.TopTerms(context.Background(), "church-1", 50); err != nil {
		t.Fatalf("TopTerms: %v", err)
	}
	if !strings.Contains(capturedSQL, "ORDER BY frequency DESC, updated_at DESC") {
		t.Errorf("SQL should order by frequency then recency, got: %s", capturedSQL)
	}
}

// A non-positive limit must never reach the database as a negative LIMIT
// argument; it becomes NULL, which Postgres treats as no limit.
func TestPostgresStore_TopTermsNonPositiveLimitIsNull(t *testing.T) {
	t.Parallel()

	var capturedArgs []any
	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			capturedArgs = args
			return &mockRows{}, nil
		},
	}

	store := NewPostgresStore(db)
	for _, limit := range []int{0, -1} {
		if _, err := store.TopTerms(context.Background(), "church-1", limit); err != nil {
			t.Fatalf("TopTerms(%d): %v", limit, err)
		}
		if capturedArgs[1] != nil {
			t.Errorf("TopTerms(%d) limit arg = %v, want nil", limit, capturedArgs[1])
		}
	}

	if _, err := store.TopTerms(context.Background(), "church-1", 50); err != nil {
		t.Fatalf("TopTerms(50): %v", err)
	}
	if capturedArgs[1] != 50 {
		t.Errorf("positive limit arg = %v, want 50", capturedArgs[1])
	}
}

// Unknown categories read back from storage normalise to general rather than
// leaking free text into the closed set.
func TestPostgresStore_ScanNormalisesUnknownCategory(t *testing.T) {
	t.Parallel()

	db := &mockDB{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{data: [][]any{
				entryRow("", "테스트", "테스트!", "legacy_label", 1),
			}}, nil
		},
	}

	store := NewPostgresStore(db)
	got, err := store.GetCandidates(context.Background(), "church-1")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if got[0].Category != CategoryGeneral {
		t.Errorf("Category = %q, want general", got[0].Category)
	}
}

// ---------------------------------------------------------------------------
// ImportSeed
// ---------------------------------------------------------------------------

func TestPostgresStore_ImportSeedKeepsFrequency(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	db := &mockDB{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			capturedSQL = sql
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}
		},
	}

	store := NewPostgresStore(db)
	inserted, err := store.ImportSeed(context.Background(), GlobalScope, SeedRow{
		Category:    "person",
		Original:    "아브라힘",
		Replacement: "아브라함",
		Priority:    10,
	})
	if err != nil {
		t.Fatalf("ImportSeed: %v", err)
	}
	if !inserted {
		t.Error("inserted = false, want true")
	}
	if strings.Contains(capturedSQL, "frequency + 1") {
		t.Errorf("seed import must not inflate frequency, got: %s", capturedSQL)
	}
}
