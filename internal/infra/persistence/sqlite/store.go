// Package sqlite provides a SQLite-backed persistent store that mirrors the
// in-memory semantics, snapshotting state to disk after every successful
// transaction. Snapshot writes are versioned so that several process
// instances can share one database file without overwriting each other's
// commits.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sheltercore/internal/infra/persistence/memory"
	"sheltercore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// ErrStaleSnapshot reports that another instance committed a newer snapshot
// between this instance's hydration and its write. The unit of work is rolled
// back and the instance re-hydrates, so callers can retry against current state.
var ErrStaleSnapshot = errors.New("state snapshot superseded by another writer")

// Store persists the in-memory state to a single SQLite table as JSON blobs.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	path    string
	version int64
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "sheltercore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	// tables written before the version column existed; the duplicate-column
	// error on current schemas is expected
	_, _ = db.Exec(`ALTER TABLE state ADD COLUMN version INTEGER NOT NULL DEFAULT 0`)
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"animals", "adopters", "applications"}

func (s *Store) load() error {
	snapshot, version, loaded, err := readSnapshot(s.db)
	if err != nil {
		return err
	}
	if loaded {
		s.ImportState(snapshot)
	}
	s.version = version
	return nil
}

func readSnapshot(db *sql.DB) (memory.Snapshot, int64, bool, error) {
	rows, err := db.Query(`SELECT bucket, payload, version FROM state`)
	if err != nil {
		return memory.Snapshot{}, 0, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	var version int64
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		var v int64
		if err := rows.Scan(&bucket, &payload, &v); err != nil {
			return memory.Snapshot{}, 0, false, fmt.Errorf("scan state: %w", err)
		}
		loaded = true
		if v > version {
			version = v
		}
		switch bucket {
		case "animals":
			if err := json.Unmarshal(payload, &snapshot.Animals); err != nil {
				return memory.Snapshot{}, 0, false, fmt.Errorf("decode animals: %w", err)
			}
		case "adopters":
			if err := json.Unmarshal(payload, &snapshot.Adopters); err != nil {
				return memory.Snapshot{}, 0, false, fmt.Errorf("decode adopters: %w", err)
			}
		case "applications":
			if err := json.Unmarshal(payload, &snapshot.Applications); err != nil {
				return memory.Snapshot{}, 0, false, fmt.Errorf("decode applications: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, 0, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, version, loaded, nil
}

// persist writes the committed state as version s.version+1 guarded by the
// hydrated version. Caller holds s.mu.
func (s *Store) persist() (retErr error) {
	snapshot := s.ExportState()
	next := s.version + 1
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "animals":
			data, err = json.Marshal(snapshot.Animals)
		case "adopters":
			data, err = json.Marshal(snapshot.Adopters)
		case "applications":
			data, err = json.Marshal(snapshot.Applications)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		res, err := tx.Exec(`UPDATE state SET payload=?, version=? WHERE bucket=? AND version=?`, data, next, bucket, s.version)
		if err != nil {
			retErr = fmt.Errorf("update %s: %w", bucket, err)
			return retErr
		}
		affected, err := res.RowsAffected()
		if err != nil {
			retErr = fmt.Errorf("update %s: %w", bucket, err)
			return retErr
		}
		if affected == 0 {
			// no row at the hydrated version: either the bucket was never
			// written, or another instance moved it past us
			if _, err := tx.Exec(`INSERT INTO state(bucket,payload,version) VALUES(?,?,?)`, bucket, data, next); err != nil {
				retErr = domain.UnavailableError{Err: ErrStaleSnapshot}
				return retErr
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.version = next
	return nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots state to SQLite. When the snapshot write fails, the in-memory
// commit is discarded as well so the whole unit can be retried.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		s.discardCommit(before)
		return res, pErr
	}
	return res, nil
}

// discardCommit replaces the committed in-memory state after a failed
// snapshot write. The durable snapshot wins when readable since it may hold
// another instance's newer commit; otherwise the pre-transaction clone is
// restored. Caller holds s.mu.
func (s *Store) discardCommit(before memory.Snapshot) {
	snapshot, version, loaded, err := readSnapshot(s.db)
	if err != nil || !loaded {
		s.ImportState(before)
		return
	}
	s.ImportState(snapshot)
	s.version = version
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
