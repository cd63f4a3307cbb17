// Package cache is the persistent fingerprint store: one SQLite database
// per collection namespace, keyed by (path, content signature). A stale
// signature is treated as a miss, never served.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"photodelta/logging"
	"photodelta/types"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion guards the on-disk layout. A mismatch rebuilds the store
// from empty; results are identical to an unprimed run, only slower.
const SchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fingerprints (
	path       TEXT PRIMARY KEY,
	signature  TEXT NOT NULL,
	phash      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_phash ON fingerprints(phash);`

// ComputeFunc produces a fingerprint when the cache has no valid entry.
type ComputeFunc func(types.ImageRecord) (types.Fingerprint, error)

// Store is a per-namespace fingerprint cache. Reads may proceed
// concurrently; writes are serialized and transactional so a killed
// process never leaves a readable-but-partial entry.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (or creates) the cache namespace under dir. An unreadable or
// schema-mismatched database is discarded and rebuilt from empty.
func Open(dir, namespace string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory %s: %v", dir, err)
	}
	path := filepath.Join(dir, namespace+".sqlite")

	db, err := open(path)
	if err != nil {
		logging.Warnf("cache %s unusable (%v), rebuilding from empty", path, err)
		removeDatabase(path)
		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("cannot rebuild cache %s: %v", path, err)
		}
	}

	return &Store{db: db, path: path}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps concurrent readers cheap; writes commit atomically.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, err
	}

	var stored string
	err = db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec("INSERT INTO meta(key, value) VALUES('schema_version', ?)",
			fmt.Sprintf("%d", SchemaVersion)); err != nil {
			db.Close()
			return nil, err
		}
	case err != nil:
		db.Close()
		return nil, err
	case stored != fmt.Sprintf("%d", SchemaVersion):
		db.Close()
		return nil, fmt.Errorf("schema version %s, want %d", stored, SchemaVersion)
	}

	return db, nil
}

func removeDatabase(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		os.Remove(p)
	}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCompute returns the cached fingerprint for the record's current
// content signature, computing and storing it on a miss. The second return
// value reports whether the cache was hit.
func (s *Store) GetOrCompute(rec types.ImageRecord, compute ComputeFunc) (types.Fingerprint, bool, error) {
	var hash string
	err := s.db.QueryRow(
		"SELECT phash FROM fingerprints WHERE path = ? AND signature = ?",
		rec.Path, rec.Signature,
	).Scan(&hash)
	if err == nil {
		return types.Fingerprint{ImageID: rec.ID, PerceptualHash: hash}, true, nil
	}
	if err != sql.ErrNoRows {
		// A broken read is a miss; the image is still processable.
		logging.Warnf("cache read for %s: %v", rec.Path, err)
	}

	fp, err := compute(rec)
	if err != nil {
		return types.Fingerprint{}, false, err
	}

	// A failed write costs a recompute next run, never the run itself.
	if err := s.put(rec, fp); err != nil {
		logging.Warnf("%v", err)
	}
	return fp, false, nil
}

// put stores one fingerprint, replacing any entry for the same path with an
// older signature.
func (s *Store) put(rec types.ImageRecord, fp types.Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache write for %s: %v", rec.Path, err)
	}
	_, err = tx.Exec(`
		INSERT INTO fingerprints(path, signature, phash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			signature  = excluded.signature,
			phash      = excluded.phash,
			updated_at = excluded.updated_at`,
		rec.Path, rec.Signature, fp.PerceptualHash, time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cache write for %s: %v", rec.Path, err)
	}
	return tx.Commit()
}

// Prune deletes entries whose path no longer exists in the scanned set.
func (s *Store) Prune(live map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT path FROM fingerprints")
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return err
		}
		if _, ok := live[p]; !ok {
			stale = append(stale, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(stale) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, p := range stale {
		if _, err := tx.Exec("DELETE FROM fingerprints WHERE path = ?", p); err != nil {
			tx.Rollback()
			return err
		}
	}
	logging.Debugf("pruned %d stale cache entries from %s", len(stale), s.path)
	return tx.Commit()
}

// Len reports the number of stored fingerprints.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM fingerprints").Scan(&n)
	return n, err
}
