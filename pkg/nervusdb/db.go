// Package nervusdb is the embeddable entry point: it owns the storage
// engine plus its Badger-backed property/interner collaborators, and
// exposes prepare/execute over them so embedders (and cmd/nervusdb) never
// wire the layers by hand.
package nervusdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nervusdb/nervusdb/pkg/config"
	"github.com/nervusdb/nervusdb/pkg/query"
	"github.com/nervusdb/nervusdb/pkg/storage"
)

// DB is one open NervusDB database: a graph engine over a .ndb page file
// and .wal log, with properties and label/rel-type interning in two Badger
// stores alongside.
type DB struct {
	cfg      *config.Config
	engine   *storage.GraphEngine
	props    *storage.BadgerPropertyStore
	interner *storage.BadgerInterner

	closeMu sync.Mutex
	closed  bool
}

// Open opens (or creates) a database under cfg.DataDir, laid out as
// graph.ndb, graph.wal, props/ and interner/ (the two Badger directories).
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("nervusdb: create data dir: %w", err)
	}

	props, err := storage.OpenBadgerPropertyStore(filepath.Join(cfg.DataDir, "props"))
	if err != nil {
		return nil, err
	}
	interner, err := storage.OpenBadgerInterner(filepath.Join(cfg.DataDir, "interner"))
	if err != nil {
		props.Close()
		return nil, err
	}

	engine, err := storage.Open(storage.EngineOptions{
		PagerPath: filepath.Join(cfg.DataDir, "graph.ndb"),
		WALPath:   filepath.Join(cfg.DataDir, "graph.wal"),
		Props:     props,
		Interner:  interner,
	})
	if err != nil {
		interner.Close()
		props.Close()
		return nil, err
	}

	return &DB{cfg: cfg, engine: engine, props: props, interner: interner}, nil
}

// Engine exposes the underlying graph engine for embedders that need
// direct snapshot/transaction control.
func (db *DB) Engine() *storage.GraphEngine { return db.engine }

// Close shuts down the engine and the Badger collaborators.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.engine.Close(); err != nil {
		return err
	}
	if err := db.interner.Close(); err != nil {
		return err
	}
	return db.props.Close()
}

// Result is the materialized outcome of one Execute call.
type Result struct {
	Columns  []string
	Rows     []*query.Row
	Affected uint32
	Explain  string
}

// Execute prepares and runs one Cypher statement end to end: reads stream
// from a fresh snapshot, writes run in a fresh transaction that is
// committed iff execution succeeds.
func (db *DB) Execute(cypher string, params *query.Params) (*Result, error) {
	prep, err := query.Prepare(cypher)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = &query.Params{Limits: db.limits()}
	}

	if explain, ok := prep.ExplainString(); ok {
		return &Result{Explain: explain}, nil
	}

	snap := db.engine.BeginRead()

	if !prep.IsWrite() {
		it, err := prep.ExecuteStreaming(snap, params)
		if err != nil {
			return nil, err
		}
		return collectResult(nil, 0, it)
	}

	txn := db.engine.BeginWrite()
	wctx := query.NewWriteContext(db.engine, txn)
	rows, affected, err := prep.ExecuteMixed(snap, wctx, params)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return collectResult(rows, affected, nil)
}

func (db *DB) limits() query.ResourceLimits {
	return query.ResourceLimits{
		MaxIntermediateRows:  int64(db.cfg.Limits.MaxRows),
		MaxCollectionItems:   int64(db.cfg.Limits.MaxExpansions),
		SoftTimeoutMS:        int64(db.cfg.Limits.TimeoutMS),
		MaxApplyRowsPerOuter: int64(db.cfg.Limits.MaxRows),
	}
}

func collectResult(rows []*query.Row, affected uint32, it query.PlanIterator) (*Result, error) {
	res := &Result{Rows: rows, Affected: affected}
	if it != nil {
		for {
			row, err := it.Next()
			if err != nil {
				return nil, err
			}
			if row == nil {
				break
			}
			res.Rows = append(res.Rows, row)
		}
	}
	if len(res.Rows) > 0 {
		res.Columns = res.Rows[0].Names()
	}
	return res, nil
}
