package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"factgraph/internal/logging"
	"factgraph/pkg/fact"
)

// SQLiteStore is a durable Store backed by a single sqlite database file.
// Facts are append-only rows; an in-memory successor index mirrors
// predecessor edges so Successors lookups do not round-trip to disk on the
// hot evaluator path, reloaded from the edges table at Open time.
//
// The same implementation serves two of spec.md §2's three storage-engine
// kinds: OpenSQLiteStore drives the cgo-backed mattn/go-sqlite3 driver (the
// conventional embedded engine), and OpenPureGoSQLiteStore drives the
// cgo-free modernc.org/sqlite driver — the shape a server-side deployment
// reaches for when it needs a static, cross-compiled binary rather than a
// C toolchain. Both speak the same schema and Store contract.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	succIdx map[string]map[string][]fact.Reference

	version     int64
	subscribers map[int]SaveFunc
	nextSubID   int
}

// OpenSQLiteStore opens (creating if necessary) the sqlite database at path
// using the cgo-backed mattn/go-sqlite3 driver.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	return openSQLiteStore(path, "sqlite3")
}

// OpenPureGoSQLiteStore opens (creating if necessary) the sqlite database at
// path using the pure-Go, cgo-free modernc.org/sqlite driver — suited to a
// server deployment that needs a statically-linked, cross-compiled binary.
func OpenPureGoSQLiteStore(path string) (*SQLiteStore, error) {
	return openSQLiteStore(path, "sqlite")
}

func openSQLiteStore(path, driverName string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLiteStore")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("factgraph: creating store directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("factgraph: opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryStore).Warn("sqlite journal_mode=WAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Get(logging.CategoryStore).Warn("sqlite synchronous=NORMAL failed: %v", err)
	}

	s := &SQLiteStore{db: db, succIdx: make(map[string]map[string][]fact.Reference), subscribers: make(map[int]SaveFunc)}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS facts (
	type TEXT NOT NULL,
	hash TEXT NOT NULL,
	fields_json TEXT NOT NULL,
	predecessors_json TEXT NOT NULL,
	save_version INTEGER NOT NULL,
	PRIMARY KEY (type, hash)
);
CREATE TABLE IF NOT EXISTS fact_edges (
	predecessor_type TEXT NOT NULL,
	predecessor_hash TEXT NOT NULL,
	successor_type TEXT NOT NULL,
	successor_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	ordinal INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fact_edges_pred ON fact_edges(predecessor_type, predecessor_hash, role);
CREATE TABLE IF NOT EXISTS store_meta (key TEXT PRIMARY KEY, value INTEGER NOT NULL);
`)
	return err
}

func (s *SQLiteStore) loadIndex() error {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = 'version'`).Scan(&version); err != nil && err != sql.ErrNoRows {
		return err
	}
	s.version = version.Int64

	rows, err := s.db.Query(`SELECT predecessor_type, predecessor_hash, successor_type, successor_hash, role FROM fact_edges ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var predType, predHash, succType, succHash, role string
		if err := rows.Scan(&predType, &predHash, &succType, &succHash, &role); err != nil {
			return err
		}
		s.indexEdge(predType, predHash, role, fact.Reference{Type: succType, Hash: succHash})
	}
	return rows.Err()
}

func (s *SQLiteStore) indexEdge(predType, predHash, role string, succ fact.Reference) {
	key := factKey(predType, predHash)
	if s.succIdx[key] == nil {
		s.succIdx[key] = make(map[string][]fact.Reference)
	}
	s.succIdx[key][role] = append(s.succIdx[key][role], succ)
}

func (s *SQLiteStore) Save(ctx context.Context, facts []fact.Fact) ([]fact.Reference, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "Save/BeginTx", Err: err}
	}
	defer tx.Rollback()

	var added []fact.Reference
	var batchFacts []fact.Fact
	ordinal := 0
	newVersion := s.version + 1

	for _, f := range facts {
		ref, err := fact.Hash(f, fact.DefaultHasher)
		if err != nil {
			return nil, err
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM facts WHERE type = ? AND hash = ?`, ref.Type, ref.Hash).Scan(&exists); err == nil {
			continue // already persisted, duplicate save is a no-op
		} else if err != sql.ErrNoRows {
			return nil, err
		}

		fieldsJSON, err := json.Marshal(f.Fields)
		if err != nil {
			return nil, fmt.Errorf("factgraph: marshaling fields for %s: %w", ref, err)
		}
		predsJSON, err := json.Marshal(f.Predecessors)
		if err != nil {
			return nil, fmt.Errorf("factgraph: marshaling predecessors for %s: %w", ref, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (type, hash, fields_json, predecessors_json, save_version) VALUES (?, ?, ?, ?, ?)`,
			ref.Type, ref.Hash, string(fieldsJSON), string(predsJSON), newVersion,
		); err != nil {
			return nil, err
		}

		for role, edge := range f.Predecessors {
			for _, predRef := range edge.Refs {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO fact_edges (predecessor_type, predecessor_hash, successor_type, successor_hash, role, ordinal) VALUES (?, ?, ?, ?, ?, ?)`,
					predRef.Type, predRef.Hash, ref.Type, ref.Hash, role, ordinal,
				); err != nil {
					return nil, err
				}
				ordinal++
				s.indexEdge(predRef.Type, predRef.Hash, role, ref)
			}
		}

		added = append(added, ref)
		batchFacts = append(batchFacts, f)
	}

	if len(added) == 0 {
		logging.Get(logging.CategoryStore).Debug("Save: batch of %d facts, all duplicates", len(facts))
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES ('version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, newVersion); err != nil {
		return nil, &StoreError{Op: "Save/updateVersion", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Op: "Save/Commit", Err: err}
	}
	s.version = newVersion

	batch := Batch{Version: s.version, Facts: batchFacts, Refs: added}
	subs := make([]SaveFunc, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	logging.Get(logging.CategoryStore).Info("Save: %d new facts at version %d", len(added), batch.Version)
	for _, fn := range subs {
		fn(batch)
	}
	return added, nil
}

func (s *SQLiteStore) Get(ctx context.Context, ref fact.Reference) (fact.Fact, bool, error) {
	var fieldsJSON, predsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT fields_json, predecessors_json FROM facts WHERE type = ? AND hash = ?`, ref.Type, ref.Hash).Scan(&fieldsJSON, &predsJSON)
	if err == sql.ErrNoRows {
		return fact.Fact{}, false, nil
	}
	if err != nil {
		return fact.Fact{}, false, &StoreError{Op: "Get", Err: err}
	}

	f := fact.Fact{Type: ref.Type}
	if err := json.Unmarshal([]byte(fieldsJSON), &f.Fields); err != nil {
		return fact.Fact{}, false, err
	}
	if err := json.Unmarshal([]byte(predsJSON), &f.Predecessors); err != nil {
		return fact.Fact{}, false, err
	}
	return f, true, nil
}

func (s *SQLiteStore) WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	var out []fact.Reference
	for _, ref := range refs {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM facts WHERE type = ? AND hash = ?`, ref.Type, ref.Hash).Scan(&exists)
		if err == nil {
			out = append(out, ref)
		} else if err != sql.ErrNoRows {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) Successors(ctx context.Context, of fact.Reference, role, ofType string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRole := s.succIdx[factKey(of.Type, of.Hash)]
	if byRole == nil {
		return nil, nil
	}
	var out []fact.Reference
	for _, ref := range byRole[role] {
		if ofType == "" || ref.Type == ofType {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *SQLiteStore) Predecessors(ctx context.Context, of fact.Reference, role string) ([]fact.Reference, error) {
	f, ok, err := s.Get(ctx, of)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("factgraph: predecessor lookup on unknown fact %s", of)
	}
	edge, ok := f.Predecessors[role]
	if !ok {
		return nil, nil
	}
	return edge.Refs, nil
}

func (s *SQLiteStore) AllOfType(ctx context.Context, factType string) ([]fact.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM facts WHERE type = ? ORDER BY save_version`, factType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fact.Reference
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		out = append(out, fact.Reference{Type: factType, Hash: hash})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SubscribeToSaves(fn SaveFunc) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *SQLiteStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
