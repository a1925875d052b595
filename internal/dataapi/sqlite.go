package dataapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/notebox/internal/apperr"
	"github.com/starford/notebox/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	image       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at);
`

// SQLite is a local stand-in for the hosted Data API.
type SQLite struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("dataapi: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dataapi: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dataapi: apply schema: %w", err)
	}
	return &SQLite{conn: conn, now: time.Now}, nil
}

// withPragmas appends WAL and busy-timeout parameters, keeping any query
// the dsn already carries.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// List returns all notes in creation order.
func (s *SQLite) List(ctx context.Context) ([]models.Note, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, description, image FROM notes ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("dataapi: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.Name, &n.Description, &n.Image); err != nil {
			return nil, fmt.Errorf("dataapi: scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Create inserts a note under a fresh id. Names are unique because they
// double as blob keys.
func (s *SQLite) Create(ctx context.Context, in models.NoteInput) (models.Note, error) {
	n := models.Note{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Image:       in.Image,
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO notes (id, name, description, image, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.Description, n.Image, s.now().UTC())
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return models.Note{}, fmt.Errorf("dataapi: note %q already exists: %w", in.Name, apperr.ErrInvalidInput)
		}
		return models.Note{}, fmt.Errorf("dataapi: create note: %w", err)
	}
	return n, nil
}

// Delete removes the note with the given id.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("dataapi: delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("dataapi: delete note: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("dataapi: delete note %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
