package postgres_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"sheltercore/internal/infra/persistence/postgres"
	"sheltercore/pkg/domain"
)

// stubConn emulates the versioned snapshot table for store tests: it records
// executed statements and keeps bucket payloads and versions in memory.
type stubConn struct {
	mu       sync.Mutex
	execs    []string
	buckets  map[string][]byte
	versions map[string]int64
	failPing bool
	failExec bool
}

func newStubDB(t *testing.T) (*sql.DB, *stubConn) {
	t.Helper()
	conn := &stubConn{buckets: make(map[string][]byte), versions: make(map[string]int64)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	return db, conn
}

type stubDriver struct {
	conn *stubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *stubConn) Ping(_ context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	return stubTx{}, nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
	if c.failExec {
		return nil, fmt.Errorf("exec fail")
	}
	normalized := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(normalized, "UPDATE STATE"):
		if len(args) != 4 {
			return nil, fmt.Errorf("unexpected args for %s", query)
		}
		payload, _ := args[0].Value.([]byte)
		version, _ := args[1].Value.(int64)
		bucket, _ := args[2].Value.(string)
		expected, _ := args[3].Value.(int64)
		current, ok := c.versions[bucket]
		if !ok || current != expected {
			return driver.RowsAffected(0), nil
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		c.buckets[bucket] = cp
		c.versions[bucket] = version
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(normalized, "INSERT INTO STATE"):
		if len(args) != 3 {
			return nil, fmt.Errorf("unexpected args for %s", query)
		}
		bucket, _ := args[0].Value.(string)
		payload, _ := args[1].Value.([]byte)
		version, _ := args[2].Value.(int64)
		if _, exists := c.buckets[bucket]; exists {
			return nil, fmt.Errorf("duplicate key value violates unique constraint on %s", bucket)
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		c.buckets[bucket] = cp
		c.versions[bucket] = version
		return driver.RowsAffected(1), nil
	default:
		return driver.RowsAffected(1), nil
	}
}

func (c *stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(strings.ToUpper(query), "FROM STATE") {
		return nil, fmt.Errorf("unexpected query %s", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([][]driver.Value, 0, len(c.buckets))
	for bucket, payload := range c.buckets {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		rows = append(rows, []driver.Value{bucket, cp, c.versions[bucket]})
	}
	return &stubRows{cols: []string{"bucket", "payload", "version"}, rows: rows}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func TestNewStoreEnsuresTable(t *testing.T) {
	db, conn := newStubDB(t)
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := postgres.NewStore("", domain.NewRulesEngine()); err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var sawDDL bool
	for _, stmt := range conn.execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.execs)
	}
}

func TestRunInTransactionSnapshotsBuckets(t *testing.T) {
	db, conn := newStubDB(t)
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var animal domain.Animal
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	conn.mu.Lock()
	payload := string(conn.buckets["animals"])
	conn.mu.Unlock()
	if !strings.Contains(payload, "Rex") {
		t.Fatalf("animals bucket missing committed state: %s", payload)
	}

	// a fresh store over the same connection hydrates from the snapshot
	reloaded, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if _, ok := reloaded.GetAnimal(animal.ID); !ok {
		t.Fatalf("animal not hydrated from snapshot")
	}
}

func TestStaleInstanceCannotOverwriteNewerState(t *testing.T) {
	db, conn := newStubDB(t)
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	first, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open first instance: %v", err)
	}
	second, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open second instance: %v", err)
	}

	var animal domain.Animal
	_, err = first.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		animal, err = tx.CreateAnimal(domain.Animal{Name: "Rex", Available: true})
		return err
	})
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// second hydrated before first's commit; its guarded write must lose
	_, err = second.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateAnimal(domain.Animal{Name: "Clobber"})
		return err
	})
	var unavailable domain.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError from stale instance, got %v", err)
	}
	if !errors.Is(err, postgres.ErrStaleSnapshot) {
		t.Fatalf("expected stale snapshot cause, got %v", err)
	}

	// second re-hydrated from the durable snapshot and sees first's commit
	if _, ok := second.GetAnimal(animal.ID); !ok {
		t.Fatalf("first's commit missing after re-hydration")
	}
	if animals := second.ListAnimals(); len(animals) != 1 {
		t.Fatalf("stale write leaked into refreshed state: %d animals", len(animals))
	}

	conn.mu.Lock()
	payload := string(conn.buckets["animals"])
	conn.mu.Unlock()
	if !strings.Contains(payload, "Rex") || strings.Contains(payload, "Clobber") {
		t.Fatalf("durable snapshot corrupted by stale writer: %s", payload)
	}
}

func TestPersistFailureRollsBackMemory(t *testing.T) {
	db, conn := newStubDB(t)
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	conn.mu.Lock()
	conn.failExec = true
	conn.mu.Unlock()

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateAnimal(domain.Animal{Name: "Rex"})
		return err
	})
	if err == nil {
		t.Fatalf("expected persist failure to surface")
	}
	if animals := store.ListAnimals(); len(animals) != 0 {
		t.Fatalf("unpersisted mutation leaked into memory: %d animals", len(animals))
	}
}

func TestNewStoreSurfacesOpenError(t *testing.T) {
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return nil, fmt.Errorf("dial fail")
	})
	defer restore()

	if _, err := postgres.NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected open error to propagate")
	}
}
