package main

import (
	"fmt"

	"factgraph/pkg/store"
)

// openStore opens the store backend named by the --db/--backend flags: a
// path to a sqlite file opened through the mattn/go-sqlite3 (cgo) or
// modernc.org/sqlite (pure-Go) driver, or "" for an in-memory store scoped
// to this process (useful for query and watch, which otherwise have
// nothing to read).
func openStore(dbPath, backend string) (store.Store, func() error, error) {
	if dbPath == "" {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	var s *store.SQLiteStore
	var err error
	switch backend {
	case "", "cgo":
		s, err = store.OpenSQLiteStore(dbPath)
	case "pure-go":
		s, err = store.OpenPureGoSQLiteStore(dbPath)
	default:
		return nil, nil, fmt.Errorf("unknown --backend %q (want cgo or pure-go)", backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite store %q: %w", dbPath, err)
	}
	return s, s.Close, nil
}
