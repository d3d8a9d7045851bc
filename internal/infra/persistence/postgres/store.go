// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics. State is snapshotted into a single table inside a
// database transaction after every successful unit of work. Snapshot writes
// are versioned so that several process instances can share one database
// without overwriting each other's commits.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sheltercore/internal/infra/persistence/memory"
	"sheltercore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/sheltercore?sslmode=disable"
)

// ErrStaleSnapshot reports that another instance committed a newer snapshot
// between this instance's hydration and its write. The unit of work is rolled
// back and the instance re-hydrates, so callers can retry against current state.
var ErrStaleSnapshot = errors.New("state snapshot superseded by another writer")

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation
// for transactions.
type Store struct {
	*memory.Store
	db      *sql.DB
	mu      sync.Mutex
	version int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the snapshot table exists, and hydrates the
// in-memory store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, version, _, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, version: version}, nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots to Postgres. When the snapshot write fails, the in-memory commit
// is discarded as well so the whole unit can be retried.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		s.discardCommit(ctx, before)
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		version BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	// tables written before the version column existed
	if _, err := db.ExecContext(ctx, `ALTER TABLE state ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("ensure version column: %w", err)
	}
	return nil
}

var postgresBuckets = []string{"animals", "adopters", "applications"}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, int64, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload, version FROM state`)
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
		if len(payload) == 0 {
			continue
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
func (s *Store) persist(ctx context.Context) error {
	snapshot := s.ExportState()
	next := s.version + 1
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
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
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE state SET payload=$1, version=$2 WHERE bucket=$3 AND version=$4`, data, next, bucket, s.version)
		if err != nil {
			return fmt.Errorf("update %s: %w", bucket, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update %s: %w", bucket, err)
		}
		if affected == 0 {
			// no row at the hydrated version: either the bucket was never
			// written, or another instance moved it past us
			if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload,version) VALUES($1,$2,$3)`, bucket, data, next); err != nil {
				return domain.UnavailableError{Err: ErrStaleSnapshot}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.version = next
	return nil
}

// discardCommit replaces the committed in-memory state after a failed
// snapshot write. The durable snapshot wins when readable since it may hold
// another instance's newer commit; otherwise the pre-transaction clone is
// restored. Caller holds s.mu.
func (s *Store) discardCommit(ctx context.Context, before memory.Snapshot) {
	snapshot, version, loaded, err := loadSnapshot(ctx, s.db)
	if err != nil || !loaded {
		s.ImportState(before)
		return
	}
	s.ImportState(snapshot)
	s.version = version
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
