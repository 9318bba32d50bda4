package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"atelier/internal/capability"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
    id              TEXT PRIMARY KEY,
    prompt          TEXT NOT NULL,
    path            TEXT NOT NULL,
    width           INTEGER NOT NULL,
    height          INTEGER NOT NULL,
    steps           INTEGER NOT NULL,
    seed            INTEGER NOT NULL,
    model_id        TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at);
`

// Store manages artifact persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	dir  string
	path string
}

// Open initializes or connects to the artifact database inside dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifacts directory: %w", err)
	}

	dbPath := filepath.Join(dir, "artifacts.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, dir: dir, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dir returns the directory artifact files live in.
func (s *Store) Dir() string {
	return s.dir
}

// Insert records a new artifact row.
func (s *Store) Insert(ctx context.Context, artifact capability.Artifact) error {
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (id, prompt, path, width, height, steps, seed, model_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID,
		artifact.Prompt,
		artifact.Path,
		artifact.Width,
		artifact.Height,
		artifact.Steps,
		artifact.Seed,
		artifact.ModelID,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// List returns all artifacts, newest first.
func (s *Store) List(ctx context.Context) ([]capability.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt, path, width, height, steps, seed, model_id, created_at
         FROM artifacts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []capability.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// Get fetches one artifact by id.
func (s *Store) Get(ctx context.Context, id string) (*capability.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, path, width, height, steps, seed, model_id, created_at
         FROM artifacts WHERE id = ?`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Delete removes the artifact row and its file, reporting whether the row
// existed. A missing file is not an error; the row is authoritative.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	artifact, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if artifact == nil {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if artifact.Path != "" {
		if rmErr := os.Remove(artifact.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return affected > 0, fmt.Errorf("remove artifact file: %w", rmErr)
		}
	}
	return affected > 0, nil
}

// Count returns the number of stored artifacts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (capability.Artifact, error) {
	var artifact capability.Artifact
	var createdAt string
	if err := row.Scan(
		&artifact.ID,
		&artifact.Prompt,
		&artifact.Path,
		&artifact.Width,
		&artifact.Height,
		&artifact.Steps,
		&artifact.Seed,
		&artifact.ModelID,
		&createdAt,
	); err != nil {
		return capability.Artifact{}, err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		artifact.CreatedAt = parsed
	}
	return artifact, nil
}
