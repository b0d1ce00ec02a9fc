// Package ledger keeps a local sqlite record of every publication so runs
// can be listed and their parse status refreshed later.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jackzampolin/ragscan/internal/ledger/migrations"
)

// ErrNotFound is returned when no publication has the requested id.
var ErrNotFound = errors.New("publication not found")

const defaultListLimit = 50

// Publication is one process-and-publish outcome.
type Publication struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Source         string    `json:"source"`
	Provider       string    `json:"provider,omitempty"`
	TotalPages     int       `json:"total_pages"`
	ProcessedPages int       `json:"processed_pages"`
	Confidence     float64   `json:"confidence"`
	DatasetID      string    `json:"dataset_id,omitempty"`
	DatasetName    string    `json:"dataset_name,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	Filename       string    `json:"filename,omitempty"`
	ContentLength  int       `json:"content_length"`
	ParseState     string    `json:"parse_state,omitempty"`
	ParseProgress  float64   `json:"parse_progress"`
	ChunkCount     int       `json:"chunk_count"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StatusUpdate is a refreshed parse observation.
type StatusUpdate struct {
	State      string
	Progress   float64
	ChunkCount int
}

// ListOptions filters List.
type ListOptions struct {
	Limit     int
	DatasetID string
}

// Ledger is a sqlite-backed publication log.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the ledger database at path and applies migrations.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	l := &Ledger{db: db, path: path, now: time.Now}
	if err := l.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (l *Ledger) migrate(fsys embed.FS) error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := l.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := l.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := l.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Version returns the highest applied migration.
func (l *Ledger) Version(ctx context.Context) (int, error) {
	var v int
	err := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// Record inserts p, assigning an ID and timestamps when unset.
func (l *Ledger) Record(ctx context.Context, p *Publication) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := l.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	warnings, err := json.Marshal(nonNil(p.Warnings))
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO publications (
			id, run_id, source, provider, total_pages, processed_pages, confidence,
			dataset_id, dataset_name, document_id, filename, content_length,
			parse_state, parse_progress, chunk_count, success, error, warnings,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RunID, p.Source, p.Provider, p.TotalPages, p.ProcessedPages, p.Confidence,
		p.DatasetID, p.DatasetName, p.DocumentID, p.Filename, p.ContentLength,
		p.ParseState, p.ParseProgress, p.ChunkCount, p.Success, p.Error, string(warnings),
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting publication: %w", err)
	}
	return nil
}

// UpdateStatus stores a refreshed parse status for publication id.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, st StatusUpdate) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE publications
		SET parse_state = ?, parse_progress = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?`,
		st.State, st.Progress, st.ChunkCount, l.now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("updating publication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectColumns = `
	id, run_id, source, provider, total_pages, processed_pages, confidence,
	dataset_id, dataset_name, document_id, filename, content_length,
	parse_state, parse_progress, chunk_count, success, error, warnings,
	created_at, updated_at`

// Get returns the publication with id.
func (l *Ledger) Get(ctx context.Context, id string) (*Publication, error) {
	row := l.db.QueryRowContext(ctx, "SELECT"+selectColumns+" FROM publications WHERE id = ?", id)
	p, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

// FindByDocument returns the latest publication for a stored document.
func (l *Ledger) FindByDocument(ctx context.Context, documentID string) (*Publication, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT"+selectColumns+" FROM publications WHERE document_id = ? ORDER BY created_at DESC LIMIT 1",
		documentID)
	p, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return p, err
}

// List returns publications, newest first.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]Publication, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := "SELECT" + selectColumns + " FROM publications"
	var args []any
	if opts.DatasetID != "" {
		query += " WHERE dataset_id = ?"
		args = append(args, opts.DatasetID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying publications: %w", err)
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPublication(s scanner) (*Publication, error) {
	var p Publication
	var warnings string
	var created, updated int64
	err := s.Scan(
		&p.ID, &p.RunID, &p.Source, &p.Provider, &p.TotalPages, &p.ProcessedPages, &p.Confidence,
		&p.DatasetID, &p.DatasetName, &p.DocumentID, &p.Filename, &p.ContentLength,
		&p.ParseState, &p.ParseProgress, &p.ChunkCount, &p.Success, &p.Error, &warnings,
		&created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning publication: %w", err)
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &p.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshalling warnings: %w", err)
		}
	}
	if len(p.Warnings) == 0 {
		p.Warnings = nil
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
