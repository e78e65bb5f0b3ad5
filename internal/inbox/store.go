// Package inbox receives assembled payloads over HTTP and keeps them on disk,
// indexed in a sqlite database.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no entry has the requested ID.
	ErrNotFound = errors.New("inbox entry not found")
	// ErrInvalidSubmission is returned for bodies that fail validation.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// timeLayout keeps created_at sortable as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is a stored submission.
type Entry struct {
	ID            string    `json:"id" yaml:"id"`
	FileExtension string    `json:"file_extension" yaml:"file_extension"`
	Path          string    `json:"path" yaml:"path"`
	Size          int64     `json:"size" yaml:"size"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Text          string    `json:"text,omitempty" yaml:"text,omitempty"`
}

// FileName returns the base name of the stored file.
func (e Entry) FileName() string {
	return filepath.Base(e.Path)
}

// Message is the acknowledgement returned to the submitter.
func (e Entry) Message() string {
	return fmt.Sprintf("saved %d bytes as %s", e.Size, e.FileName())
}

// Store writes payload files under dir and indexes them in sqlite.
type Store struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewStore opens or creates the index at dbPath and the payload directory dir.
func NewStore(dbPath, dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range []string{filepath.Dir(dbPath), dir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{
		db:      db,
		dir:     dir,
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) newID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS submissions (
		id             TEXT PRIMARY KEY,
		file_extension TEXT NOT NULL,
		path           TEXT NOT NULL,
		size           INTEGER NOT NULL,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);
	`)
	return err
}

// Receive validates sub, writes its text to disk and records it.
func (s *Store) Receive(ctx context.Context, sub Submission) (*Entry, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := s.newID(now)
	ext := sub.Ext()
	path := filepath.Join(s.dir, id+"."+ext)

	if err := os.WriteFile(path, []byte(sub.Text), 0o644); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	entry := &Entry{
		ID:            id,
		FileExtension: ext,
		Path:          path,
		Size:          int64(len(sub.Text)),
		CreatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, file_extension, path, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.FileExtension, entry.Path, entry.Size, now.Format(timeLayout))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	s.logger.Info("submission received", "id", id, "file", entry.FileName(), "size", entry.Size)
	return entry, nil
}

// List returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, file_extension, path, size, created_at FROM submissions ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Get returns one entry with its text.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_extension, path, size, created_at FROM submissions WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", e.FileName(), err)
	}
	e.Text = string(data)
	return e, nil
}

// Close closes the index.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var created string
	if err := row.Scan(&e.ID, &e.FileExtension, &e.Path, &e.Size, &created); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	e.CreatedAt = t
	return &e, nil
}
