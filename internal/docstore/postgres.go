package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements Store on top of PostgreSQL using jsonb documents.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// EnsureSchema creates the backing tables when they do not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	path       text PRIMARY KEY,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS log_entries (
	path       text NOT NULL,
	id         text NOT NULL,
	entry      jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (path, id)
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return classify(fmt.Errorf("docstore: ensure schema: %w", err))
	}
	return nil
}

// Get decodes the document at path into dest.
func (s *PGStore) Get(ctx context.Context, path string, dest any) error {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM documents WHERE path = $1`, path).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return classify(fmt.Errorf("docstore: get %s: %w", path, err))
	}
	return json.Unmarshal(raw, dest)
}

// Set writes the document at path, merging top-level fields when merge is true.
func (s *PGStore) Set(ctx context.Context, path string, doc any, merge bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: set %s: marshal: %w", path, err)
	}
	query := `INSERT INTO documents (path, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`
	if merge {
		query = `INSERT INTO documents (path, doc, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (path) DO UPDATE SET doc = documents.doc || EXCLUDED.doc, updated_at = now()`
	}
	if _, err := s.pool.Exec(ctx, query, path, raw); err != nil {
		return classify(fmt.Errorf("docstore: set %s: %w", path, err))
	}
	return nil
}

// Update merges fields into an existing document.
func (s *PGStore) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: update %s: marshal: %w", path, err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET doc = doc || $2, updated_at = now() WHERE path = $1`, path, raw)
	if err != nil {
		return classify(fmt.Errorf("docstore: update %s: %w", path, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document at path.
func (s *PGStore) Delete(ctx context.Context, path string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return classify(fmt.Errorf("docstore: delete %s: %w", path, err))
	}
	return nil
}

// Push appends an entry to the log at path.
func (s *PGStore) Push(ctx context.Context, path string, entry any) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("docstore: push %s: marshal: %w", path, err)
	}
	id := newEntryID()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO log_entries (path, id, entry) VALUES ($1, $2, $3)`, path, id, raw); err != nil {
		return "", classify(fmt.Errorf("docstore: push %s: %w", path, err))
	}
	return id, nil
}

// List returns all documents under prefix.
func (s *PGStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path, doc FROM documents WHERE path LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, classify(fmt.Errorf("docstore: list %s: %w", prefix, err))
	}
	defer rows.Close()
	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, classify(fmt.Errorf("docstore: list %s: scan: %w", prefix, err))
		}
		out[path] = json.RawMessage(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("docstore: list %s: %w", prefix, err))
	}
	return out, nil
}

func newEntryID() string {
	return fmt.Sprintf("%d-%s", time.Now().UTC().UnixMilli(), uuid.NewString()[:8])
}

// classify folds transport-level failures into ErrUnavailable while leaving
// server-reported errors (constraint violations and the like) untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	// Anything the server did not report itself is a connectivity problem.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
