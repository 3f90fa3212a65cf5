// Package store persists audio blobs and the consolidated metadata document
// in a single local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
	_ "modernc.org/sqlite"

	"github.com/satindergrewal/loopbook/internal/model"
)

// metadataKey is the row holding the one metadata document.
const metadataKey = "appData"

const schema = `
CREATE TABLE IF NOT EXISTS audio_files (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	size INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// ErrStorageFault is matched by every error caused by the underlying database:
// unavailable file, full disk, failed transaction.
var ErrStorageFault = errors.New("storage fault")

// Fault wraps a database error with the operation that hit it.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string { return fmt.Sprintf("store %s: %v", f.Op, f.Err) }

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) Is(target error) bool { return target == ErrStorageFault }

func fault(op string, err error) error {
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Err: xerrors.New(err)}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the process-wide blob and metadata store. The database is opened
// on first use and the handle reused for the life of the Store.
type Store struct {
	path string
	log  *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// New creates a Store backed by the SQLite file at path. Nothing is opened yet.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, log: logger.With(slog.String("component", "store"))}
}

// open returns the shared handle, creating the file and schema exactly once.
// Concurrent first calls wait on the same open. A failed open is retried on
// the next call.
func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fault("open", fmt.Errorf("create data directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fault("open", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fault("open", fmt.Errorf("create schema: %w", err))
	}

	s.log.Debug("database opened", slog.String("path", s.path))
	s.db = db
	return db, nil
}

// Close releases the database handle if it was ever opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// PutAudio stores or overwrites the blob for id.
func (s *Store) PutAudio(ctx context.Context, id string, data []byte) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return putAudio(ctx, db, id, data)
}

// GetAudio returns the blob for id. A missing blob is reported with ok=false,
// not as an error.
func (s *Store) GetAudio(ctx context.Context, id string) (data []byte, ok bool, err error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, false, err
	}
	err = db.QueryRowContext(ctx, "SELECT data FROM audio_files WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fault("get audio", err)
	}
	return data, true, nil
}

// AudioSize returns the stored blob's length in bytes without loading it.
func (s *Store) AudioSize(ctx context.Context, id string) (int64, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, false, err
	}
	var size int64
	err = db.QueryRowContext(ctx, "SELECT size FROM audio_files WHERE id = ?", id).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fault("audio size", err)
	}
	return size, true, nil
}

// AudioIDs lists the ids of every stored blob, sorted.
func (s *Store) AudioIDs(ctx context.Context) ([]string, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id FROM audio_files ORDER BY id")
	if err != nil {
		return nil, fault("list audio", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fault("list audio", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("list audio", err)
	}
	return ids, nil
}

// DeleteAudio removes the blob for id. Deleting a missing blob succeeds.
func (s *Store) DeleteAudio(ctx context.Context, id string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return deleteAudio(ctx, db, id)
}

// SaveMetadata replaces the stored document wholesale.
func (s *Store) SaveMetadata(ctx context.Context, doc model.Document) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	return saveMetadata(ctx, db, doc)
}

// LoadMetadata returns the stored document, or ok=false when none was ever saved.
func (s *Store) LoadMetadata(ctx context.Context) (*model.Document, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, false, err
	}

	var raw string
	err = db.QueryRowContext(ctx, "SELECT document FROM metadata WHERE key = ?", metadataKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fault("load metadata", err)
	}

	var doc model.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fault("load metadata", fmt.Errorf("decode document: %w", err))
	}
	doc = doc.Clone() // normalizes nil collections
	return &doc, true, nil
}

// Tx groups the writes of one logical mutation.
type Tx struct {
	tx *sql.Tx
}

// PutAudio stores or overwrites a blob inside the transaction.
func (t *Tx) PutAudio(ctx context.Context, id string, data []byte) error {
	return putAudio(ctx, t.tx, id, data)
}

// DeleteAudio removes a blob inside the transaction.
func (t *Tx) DeleteAudio(ctx context.Context, id string) error {
	return deleteAudio(ctx, t.tx, id)
}

// SaveMetadata replaces the document inside the transaction.
func (t *Tx) SaveMetadata(ctx context.Context, doc model.Document) error {
	return saveMetadata(ctx, t.tx, doc)
}

// Update runs fn in a single transaction. Everything fn wrote is committed
// together, or nothing is when fn or the commit fails.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fault("begin", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fault("commit", err)
	}
	return nil
}

func putAudio(ctx context.Context, q queryer, id string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO audio_files (id, data, size, updated_at) VALUES (?, ?, ?, ?)`,
		id, data, len(data), time.Now().Unix())
	if err != nil {
		return fault("put audio", err)
	}
	return nil
}

func deleteAudio(ctx context.Context, q queryer, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM audio_files WHERE id = ?", id); err != nil {
		return fault("delete audio", err)
	}
	return nil
}

func saveMetadata(ctx context.Context, q queryer, doc model.Document) error {
	raw, err := json.Marshal(doc.Clone())
	if err != nil {
		return fault("save metadata", fmt.Errorf("encode document: %w", err))
	}
	_, err = q.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, document, updated_at) VALUES (?, ?, ?)`,
		metadataKey, string(raw), time.Now().Unix())
	if err != nil {
		return fault("save metadata", err)
	}
	return nil
}
