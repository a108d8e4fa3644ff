package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists drafts and pending blobs in a local SQLite file. Durable
// across process restarts; no concurrent-writer coordination (one active
// editing session per device).
type Store struct {
	DB *sql.DB
	SQ sq.StatementBuilderType
}

// Open opens (creating if needed) the draft database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("make db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Pragmas
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db, SQ: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_videos (
			step_id TEXT PRIMARY KEY,
			sop_id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			revision INTEGER NOT NULL DEFAULT 1,
			uploaded INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_uploaded ON pending_videos (uploaded)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

// timeLayout is fixed-width (RFC3339Nano trims trailing zeros, which breaks
// the string ordering List relies on).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Save upserts the full serialized document and stamps it with the current
// time. Idempotent per document id; last write wins.
func (s *Store) Save(ctx context.Context, doc Document) error {
	doc.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", doc.ID, err)
	}
	q := s.SQ.Insert("drafts").Columns("id", "payload", "updated_at").
		Values(doc.ID, string(payload), doc.UpdatedAt.Format(timeLayout)).
		Suffix("ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at")
	sqlStr, args, _ := q.ToSql()
	if _, err := s.DB.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("save draft %s: %w", doc.ID, err)
	}
	return nil
}

// Load returns the draft by id; ok is false when absent. A corrupt payload
// is an error the caller degrades from (empty document), not a crash.
func (s *Store) Load(ctx context.Context, id string) (Document, bool, error) {
	q := s.SQ.Select("payload", "updated_at").From("drafts").Where(sq.Eq{"id": id})
	sqlStr, args, _ := q.ToSql()
	var payload, updated string
	err := s.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&payload, &updated)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("load draft %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return Document{}, false, fmt.Errorf("corrupt draft %s: %w", id, err)
	}
	if ts, err := time.Parse(timeLayout, updated); err == nil {
		doc.UpdatedAt = ts
	}
	return doc, true, nil
}

// List returns all drafts ordered by last-modified descending.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	q := s.SQ.Select("payload", "updated_at").From("drafts").OrderBy("updated_at DESC")
	sqlStr, args, _ := q.ToSql()
	rows, err := s.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var payload, updated string
		if err := rows.Scan(&payload, &updated); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, fmt.Errorf("corrupt draft payload: %w", err)
		}
		if ts, err := time.Parse(timeLayout, updated); err == nil {
			doc.UpdatedAt = ts
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) Remove(ctx context.Context, id string) error {
	q := s.SQ.Delete("drafts").Where(sq.Eq{"id": id})
	sqlStr, args, _ := q.ToSql()
	_, err := s.DB.ExecContext(ctx, sqlStr, args...)
	return err
}

// PutBlob stores (or replaces) the pending video for a step. Replacing bumps
// the revision and clears the uploaded flag so an in-flight upload of the
// old bytes cannot complete against the new ones.
func (s *Store) PutBlob(ctx context.Context, stepID, sopID, contentType string, data []byte) error {
	q := s.SQ.Insert("pending_videos").
		Columns("step_id", "sop_id", "content_type", "data").
		Values(stepID, sopID, contentType, data).
		Suffix(`ON CONFLICT(step_id) DO UPDATE SET
			sop_id = excluded.sop_id,
			content_type = excluded.content_type,
			data = excluded.data,
			revision = pending_videos.revision + 1,
			uploaded = 0`)
	sqlStr, args, _ := q.ToSql()
	if _, err := s.DB.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put blob for step %s: %w", stepID, err)
	}
	return nil
}

func (s *Store) GetBlob(ctx context.Context, stepID string) (PendingUpload, bool, error) {
	q := s.SQ.Select("step_id", "sop_id", "content_type", "data", "revision", "uploaded").
		From("pending_videos").Where(sq.Eq{"step_id": stepID})
	sqlStr, args, _ := q.ToSql()
	var p PendingUpload
	var uploaded int
	err := s.DB.QueryRowContext(ctx, sqlStr, args...).
		Scan(&p.StepID, &p.SopID, &p.ContentType, &p.Data, &p.Revision, &uploaded)
	if err == sql.ErrNoRows {
		return PendingUpload{}, false, nil
	}
	if err != nil {
		return PendingUpload{}, false, fmt.Errorf("get blob for step %s: %w", stepID, err)
	}
	p.Uploaded = uploaded != 0
	return p, true, nil
}

// MarkUploaded flags the blob as durably stored remotely, but only if the
// blob has not been replaced since the upload started. Returns false when
// the revision is stale and the result must be discarded.
func (s *Store) MarkUploaded(ctx context.Context, stepID string, revision int64) (bool, error) {
	q := s.SQ.Update("pending_videos").Set("uploaded", 1).
		Where(sq.Eq{"step_id": stepID, "revision": revision})
	sqlStr, args, _ := q.ToSql()
	res, err := s.DB.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("mark uploaded for step %s: %w", stepID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPending returns all blobs not yet marked uploaded.
func (s *Store) ListPending(ctx context.Context) ([]PendingUpload, error) {
	q := s.SQ.Select("step_id", "sop_id", "content_type", "data", "revision", "uploaded").
		From("pending_videos").Where(sq.Eq{"uploaded": 0})
	sqlStr, args, _ := q.ToSql()
	rows, err := s.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending blobs: %w", err)
	}
	defer rows.Close()
	var out []PendingUpload
	for rows.Next() {
		var p PendingUpload
		var uploaded int
		if err := rows.Scan(&p.StepID, &p.SopID, &p.ContentType, &p.Data, &p.Revision, &uploaded); err != nil {
			return nil, err
		}
		p.Uploaded = uploaded != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// RekeyBlob follows a step id promotion so a pending blob stays attached
// to its step.
func (s *Store) RekeyBlob(ctx context.Context, oldStepID, newStepID string) error {
	q := s.SQ.Update("pending_videos").Set("step_id", newStepID).
		Where(sq.Eq{"step_id": oldStepID})
	sqlStr, args, _ := q.ToSql()
	_, err := s.DB.ExecContext(ctx, sqlStr, args...)
	return err
}

// DeleteBlob releases the bytes once remote durability is confirmed.
func (s *Store) DeleteBlob(ctx context.Context, stepID string) error {
	q := s.SQ.Delete("pending_videos").Where(sq.Eq{"step_id": stepID})
	sqlStr, args, _ := q.ToSql()
	_, err := s.DB.ExecContext(ctx, sqlStr, args...)
	return err
}
