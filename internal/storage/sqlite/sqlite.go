package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/codepad/internal/storage"

	_ "modernc.org/sqlite"
)

const snippetColumns = `id, title, language, source, html, css, js, stdin, created_at, updated_at`

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// each :memory: connection is its own database
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSnippet(ctx context.Context, sn *storage.Snippet) error {
	if sn.ID == "" {
		return errors.New("snippet id is required")
	}
	now := time.Now().UTC()
	sn.CreatedAt = now
	sn.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snippets (`+snippetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sn.ID, sn.Title, sn.Language, sn.Source,
		sn.Parts.HTML, sn.Parts.CSS, sn.Parts.JS, sn.Stdin,
		sn.CreatedAt.Format(time.RFC3339Nano), sn.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting snippet: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnippet(ctx context.Context, id string) (*storage.Snippet, error) {
	// exact match first, then prefix
	row := s.db.QueryRowContext(ctx, `SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id)
	sn, err := scanSnippet(row)
	if err == nil {
		return sn, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying snippet: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snippetColumns+` FROM snippets WHERE id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return nil, fmt.Errorf("querying snippet: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Snippet
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous snippet prefix %q", id)
	}
}

func (s *SQLiteStore) ListSnippets(ctx context.Context, opts storage.SnippetListOptions) ([]storage.Snippet, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + snippetColumns + ` FROM snippets`
	var args []any

	if opts.Language != "" {
		query += ` WHERE language = ?`
		args = append(args, opts.Language)
	}

	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snippets: %w", err)
	}
	defer rows.Close()

	var snippets []storage.Snippet
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		snippets = append(snippets, *sn)
	}
	return snippets, rows.Err()
}

func (s *SQLiteStore) UpdateSnippet(ctx context.Context, sn *storage.Snippet) error {
	sn.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE snippets SET title = ?, source = ?, html = ?, css = ?, js = ?, stdin = ?, updated_at = ?
		WHERE id = ?`,
		sn.Title, sn.Source, sn.Parts.HTML, sn.Parts.CSS, sn.Parts.JS, sn.Stdin,
		sn.UpdatedAt.Format(time.RFC3339Nano), sn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating snippet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, sn.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteSnippet(ctx context.Context, id string) error {
	sn, err := s.GetSnippet(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, sn.ID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner works with both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnippet(s scanner) (*storage.Snippet, error) {
	var sn storage.Snippet
	var createdAt, updatedAt string
	err := s.Scan(&sn.ID, &sn.Title, &sn.Language, &sn.Source,
		&sn.Parts.HTML, &sn.Parts.CSS, &sn.Parts.JS, &sn.Stdin,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sn.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sn.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &sn, nil
}
