// Package filestore implements the session-scoped durable record store used
// as agent working memory. Each running session owns one Store; files created
// by tools during the run live for the lifetime of that session and are
// addressed by name, unique within the session.
//
// The store is backed by SQLite (modernc.org/sqlite, no cgo). Uniqueness of
// (session_id, file_name) is enforced by the database itself at the
// transaction boundary, so a race between two concurrent Create calls for the
// same name yields exactly one success and one ErrAlreadyExists, never two
// successes. Secondary indexes on session_id and created_at back the listing
// contract; any substituted backing store must support at least this indexing
// shape.
package filestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/logging"
	_ "modernc.org/sqlite"
)

// MaxNameLength is the maximum accepted file name length in bytes.
const MaxNameLength = 255

// DefaultMimeType is assumed when a caller does not specify one.
const DefaultMimeType = "text/plain"

// File is a stored record including its content.
type File struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"file_name"`
	Content   string    `json:"content"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
}

// Summary is the metadata-only view of a stored file returned by List.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
}

// Options configure a Store.
type Options struct {
	// Path is the SQLite DSN or file path. When empty the store uses a named
	// in-memory database scoped to the session, which disappears with the
	// process (store lifetime = session lifetime).
	Path string

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Store is the session-scoped file store. The backing database handle is
// opened lazily exactly once on first use (single-flight via sync.Once) and
// torn down deterministically by Close.
type Store struct {
	sessionID string
	dsn       string
	logger    logging.Logger

	openOnce sync.Once
	db       *sql.DB
	openErr  error
}

// New constructs a Store for the given session. The database is not opened
// until the first operation.
func New(sessionID string, optFns ...func(o *Options)) *Store {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	dsn := opts.Path
	if dsn == "" {
		dsn = fmt.Sprintf("file:toolmesh-%s?mode=memory&cache=shared", sessionID)
	}

	return &Store{sessionID: sessionID, dsn: dsn, logger: opts.Logger}
}

// SessionID returns the session this store is scoped to.
func (s *Store) SessionID() string { return s.sessionID }

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	content    TEXT NOT NULL,
	mime_type  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	UNIQUE(session_id, file_name)
);
CREATE INDEX IF NOT EXISTS idx_files_session ON files(session_id);
CREATE INDEX IF NOT EXISTS idx_files_created ON files(created_at);
`

func (s *Store) ensureOpen(ctx context.Context) (*sql.DB, error) {
	s.openOnce.Do(func() {
		db, err := sql.Open("sqlite", s.dsn)
		if err != nil {
			s.openErr = fmt.Errorf("open file store: %w", err)
			return
		}
		// A single connection keeps the shared in-memory database alive and
		// serializes record transactions.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			s.openErr = fmt.Errorf("ping file store: %w", err)
			return
		}
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			s.openErr = fmt.Errorf("migrate file store: %w", err)
			return
		}
		s.db = db
		s.logger.Debug("filestore.opened", "session_id", s.sessionID)
	})
	return s.db, s.openErr
}

// Close tears down the backing database handle. Safe to call multiple times
// and before first use.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: name contains a path separator", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}
	return nil
}

// isUniqueViolation recognizes the SQLite unique constraint error so the
// create race resolves to the documented ErrAlreadyExists instead of a
// generic fault.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create stores a new file. It fails with ErrInvalidName for empty names,
// names containing a path separator, or names longer than MaxNameLength, and
// with ErrAlreadyExists when the (session, name) pair is already present.
// Size is the UTF-8 byte length of the content.
func (s *Store) Create(ctx context.Context, name, content, mimeType string) (*File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	now := time.Now().UTC()
	f := &File{
		ID:        NewSessionID(),
		SessionID: s.sessionID,
		Name:      name,
		Content:   content,
		MimeType:  mimeType,
		CreatedAt: now,
		UpdatedAt: now,
		Size:      int64(len(content)),
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO files (id, session_id, file_name, content, mime_type, created_at, updated_at, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.SessionID, f.Name, f.Content, f.MimeType, now.UnixNano(), now.UnixNano(), f.Size,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("create file %q: %w", name, err)
	}

	s.logger.Debug("filestore.created", "session_id", s.sessionID, "file", name, "size", f.Size)

	return f, nil
}

// Update replaces or appends to an existing file's content and fails with
// ErrNotFound when the file is absent. The whole read-modify-write runs in a
// single transaction so concurrent updates never interleave partially.
func (s *Store) Update(ctx context.Context, name, content string, appendContent bool) (*File, error) {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT content FROM files WHERE session_id = ? AND file_name = ?`,
		s.sessionID, name,
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read file %q: %w", name, err)
	}

	next := content
	if appendContent {
		next = existing + content
	}
	now := time.Now().UTC()
	size := int64(len(next))

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET content = ?, updated_at = ?, size = ? WHERE session_id = ? AND file_name = ?`,
		next, now.UnixNano(), size, s.sessionID, name,
	); err != nil {
		return nil, fmt.Errorf("update file %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}

	s.logger.Debug("filestore.updated", "session_id", s.sessionID, "file", name, "append", appendContent, "size", size)

	return s.Read(ctx, name)
}

// Delete removes the named file or fails with ErrNotFound.
func (s *Store) Delete(ctx context.Context, name string) error {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`DELETE FROM files WHERE session_id = ? AND file_name = ?`,
		s.sessionID, name,
	)
	if err != nil {
		return fmt.Errorf("delete file %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.logger.Debug("filestore.deleted", "session_id", s.sessionID, "file", name)

	return nil
}

// Read returns the named file or (nil, nil) when it does not exist. Absence
// is not an error here; callers that require presence should check for nil.
func (s *Store) Read(ctx context.Context, name string) (*File, error) {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	var (
		f                    File
		createdAt, updatedAt int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, session_id, file_name, content, mime_type, created_at, updated_at, size
		 FROM files WHERE session_id = ? AND file_name = ?`,
		s.sessionID, name,
	).Scan(&f.ID, &f.SessionID, &f.Name, &f.Content, &f.MimeType, &createdAt, &updatedAt, &f.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file %q: %w", name, err)
	}

	f.CreatedAt = time.Unix(0, createdAt).UTC()
	f.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &f, nil
}

// List returns metadata-only summaries of the session's files ordered by
// creation time, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	db, err := s.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, file_name, mime_type, created_at, updated_at, size
		 FROM files WHERE session_id = ? ORDER BY created_at DESC, id DESC`,
		s.sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum                  Summary
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.MimeType, &createdAt, &updatedAt, &sum.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		sum.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}

	return out, nil
}
