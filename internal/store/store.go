package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/logline/internal/span"
	"github.com/roach88/logline/internal/spanlog"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (spans table, span_id index)
// 1 - Added (type, seq) index for type-filtered scans
const currentSchemaVersion = 1

// scanPageSize is the number of rows fetched per query during Scan.
const scanPageSize = 200

// Store is a span log kept in a SQLite database.
type Store struct {
	path string
	db   *sql.DB
	opts spanlog.Options
}

// Open creates or opens a SQLite span log at the given path, creating parent
// directories as needed. Applies required pragmas and migrations.
//
// This function is idempotent - safe to call multiple times on the same path.
func Open(path string, opts ...spanlog.Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create span store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Pragmas are per connection, so the pool holds exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{path: path, db: db, opts: spanlog.NewOptions(opts...)}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts s as the next record and commits. With synchronous=FULL the
// record is on disk when Append returns.
func (s *Store) Append(ctx context.Context, sp span.Span) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append span %s: %w", sp.ID(), err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO spans (span_id, type, record) VALUES (?, ?, ?)`,
		sp.ID(), sp.Type(), string(sp.ToJSON()),
	)
	if err != nil {
		return fmt.Errorf("append span %s: %w", sp.ID(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit span %s: %w", sp.ID(), err)
	}
	return nil
}

// Scan returns every record in append order. See ScanType.
func (s *Store) Scan(ctx context.Context) iter.Seq2[span.Span, error] {
	return s.scan(ctx, "")
}

// ScanType returns the records of one span type in append order, using the
// (type, seq) index. Records that fail to decode are skipped and reported.
func (s *Store) ScanType(ctx context.Context, spanType string) iter.Seq2[span.Span, error] {
	return s.scan(ctx, spanType)
}

// scan reads the table a page at a time. Each page is fully read and its rows
// closed before yielding, so the caller may Append while iterating on the
// single pooled connection.
func (s *Store) scan(ctx context.Context, spanType string) iter.Seq2[span.Span, error] {
	return func(yield func(span.Span, error) bool) {
		var after int64
		for {
			page, err := s.readPage(ctx, spanType, after)
			if err != nil {
				yield(span.Span{}, err)
				return
			}

			for _, r := range page {
				after = r.seq
				sp, err := span.FromJSON([]byte(r.record), span.Strict())
				if err != nil {
					s.opts.Report(spanlog.Skipped{Position: r.seq, Err: err})
					continue
				}
				if !yield(sp, nil) {
					return
				}
			}

			if len(page) < scanPageSize {
				return
			}
		}
	}
}

type row struct {
	seq    int64
	record string
}

func (s *Store) readPage(ctx context.Context, spanType string, after int64) ([]row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if spanType == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, record FROM spans
			WHERE seq > ?
			ORDER BY seq ASC
			LIMIT ?
		`, after, scanPageSize)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, record FROM spans
			WHERE type = ? AND seq > ?
			ORDER BY seq ASC
			LIMIT ?
		`, spanType, after, scanPageSize)
	}
	if err != nil {
		return nil, fmt.Errorf("read spans: %w", err)
	}
	defer rows.Close()

	page := make([]row, 0, scanPageSize)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.record); err != nil {
			return nil, fmt.Errorf("read spans: %w", err)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read spans: %w", err)
	}
	return page, nil
}

// Count returns the number of stored records, including ones that would be
// skipped by Scan.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spans: %w", err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_spans_type_seq
		ON spans(type, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
