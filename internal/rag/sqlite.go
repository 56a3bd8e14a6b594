package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const documentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	source      TEXT NOT NULL,
	tags_json   TEXT NOT NULL,
	vector_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// SQLiteIndex persists the advisory corpus so ingested documents
// survive restarts. Vectors are stored as JSON arrays and scored in
// memory; brute force is plenty at this corpus size.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the database and runs migrations.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(documentSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Upsert implements Index.
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		tags, err := json.Marshal(d.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags for %s: %w", d.ID, err)
		}
		vector, err := json.Marshal(d.Vector)
		if err != nil {
			return fmt.Errorf("marshal vector for %s: %w", d.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, source, tags_json, vector_json, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   content = excluded.content, source = excluded.source,
			   tags_json = excluded.tags_json, vector_json = excluded.vector_json`,
			d.ID, d.Content, d.Source, string(tags), string(vector),
			d.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("upsert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Search implements Index.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float64, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, tags_json, vector_json, created_at FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var d Document
		var tags, vec, created string
		if err := rows.Scan(&d.ID, &d.Content, &d.Source, &tags, &vec, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", d.ID, err)
		}
		if err := json.Unmarshal([]byte(vec), &d.Vector); err != nil {
			return nil, fmt.Errorf("unmarshal vector for %s: %w", d.ID, err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

		if len(d.Vector) != len(vector) {
			continue
		}
		matches = append(matches, Match{Doc: d, Score: cosineSimilarity(vector, d.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return topMatches(matches, topK), nil
}

// Count implements Index.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Close implements Index.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

var _ Index = (*SQLiteIndex)(nil)
