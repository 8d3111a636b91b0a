// Command factgraph drives the core end to end: save, query, and watch
// subcommands over a chosen store back-end, so the library's narrow
// interfaces (store.Store, eval.Evaluator, router.Router, observer.Observer)
// have a living caller.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"factgraph/internal/logging"
)

var dbPath string
var dbBackend string

func main() {
	root := &cobra.Command{
		Use:   "factgraph",
		Short: "A content-addressed fact graph with reactive queries",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to a sqlite database file (default: in-memory, process-local)")
	root.PersistentFlags().StringVar(&dbBackend, "backend", "cgo", "sqlite driver to use with --db: cgo (mattn/go-sqlite3) or pure-go (modernc.org/sqlite)")

	root.AddCommand(newSaveCmd(), newQueryCmd(), newWatchCmd(), newInspectCmd())

	if wd, err := os.Getwd(); err == nil {
		if err := logging.Initialize(wd); err != nil {
			fmt.Fprintf(os.Stderr, "factgraph: logging: %v\n", err)
		}
	}

	if err := root.Execute(); err != nil {
		logging.Get(logging.CategoryCLI).Error("%v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
