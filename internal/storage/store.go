package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/runnerr0/seedvault/internal/failure"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Options tunes an Index.
type Options struct {
	// GapTolerance is the largest gap between two segments of one NSLC that
	// still counts as continuous coverage.
	GapTolerance time.Duration
	// Now overrides the clock used for import timestamps.
	Now func() time.Time
}

// Index is the archive index: which intervals of which NSLCs are on disk,
// the computed arrivals, and the chunk journal. All writes to a given NSLC
// go through a per-NSLC lock so read-merge-write sequences never interleave.
type Index struct {
	db    *sql.DB
	path  string
	opts  Options
	locks *lockTable

	// Prepared statements
	querySegments *sql.Stmt
	getArrival    *sql.Stmt
	getChunk      *sql.Stmt
}

// Open opens (creating if needed) the SQLite index at path, runs migrations
// and prepares statements.
func Open(path string, opts Options) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, indexErr(err, "create database directory")
		}
	}

	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=10000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, indexErr(err, "open database")
	}
	// Single writer; transactions queue on the pool rather than on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db).Run(context.Background()); err != nil {
		db.Close()
		return nil, indexErr(err, "run migrations")
	}

	ix, err := NewIndex(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	ix.path = path
	return ix, nil
}

// NewIndex wraps an already-opened and migrated database. The caller keeps
// ownership of db unless the Index was created by Open.
func NewIndex(db *sql.DB, opts Options) (*Index, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ix := &Index{db: db, opts: opts, locks: newLockTable()}
	if err := ix.prepareStatements(); err != nil {
		return nil, indexErr(err, "prepare statements")
	}
	return ix, nil
}

func (ix *Index) prepareStatements() error {
	var err error

	ix.querySegments, err = ix.db.Prepare(`
		SELECT network, station, location, channel, starttime, endtime, importtime
		FROM archive_data
		WHERE network = ? AND station = ? AND location = ? AND channel = ?
		  AND starttime < ? AND endtime > ?
		ORDER BY starttime
	`)
	if err != nil {
		return err
	}

	ix.getArrival, err = ix.db.Prepare(`
		SELECT ` + arrivalColumns + `
		FROM arrival_data
		WHERE resource_id = ? AND s_netcode = ? AND s_stacode = ? AND model = ?
	`)
	if err != nil {
		return err
	}

	ix.getChunk, err = ix.db.Prepare(`
		SELECT ` + chunkColumns + ` FROM chunk_state WHERE id = ?
	`)
	if err != nil {
		return err
	}

	return nil
}

// GapTolerance returns the merge tolerance the index applies on insert.
func (ix *Index) GapTolerance() time.Duration {
	return ix.opts.GapTolerance
}

// Path returns the database file path, or "" for an index built with
// NewIndex.
func (ix *Index) Path() string {
	return ix.path
}

// DB exposes the underlying handle for maintenance and tests.
func (ix *Index) DB() *sql.DB {
	return ix.db
}

// Close releases prepared statements, and the database if Open created it.
func (ix *Index) Close() error {
	for _, stmt := range []*sql.Stmt{ix.querySegments, ix.getArrival, ix.getChunk} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if ix.path != "" {
		return ix.db.Close()
	}
	return nil
}

func (ix *Index) now() time.Time {
	return ix.opts.Now().UTC()
}

func indexErr(err error, format string, args ...interface{}) error {
	return failure.Wrapf(err, failure.Index, format, args...)
}

// Held is a set of NSLC locks acquired through Lock. Writes for those NSLCs
// go through Update.
type Held struct {
	ix     *Index
	keys   map[string]bool
	unlock func()
}

// Lock acquires the write locks of ids in sorted order and returns the held
// set. Callers must call Unlock.
func (ix *Index) Lock(ids []NSLC) *Held {
	keys := make(map[string]bool, len(ids))
	for _, id := range ids {
		keys[id.String()] = true
	}
	return &Held{ix: ix, keys: keys, unlock: ix.locks.lock(keys)}
}

// Unlock releases the held locks. It is safe to call more than once.
func (h *Held) Unlock() {
	if h.unlock != nil {
		h.unlock()
		h.unlock = nil
	}
}

// Update runs fn inside one transaction. The transaction commits only if fn
// returns nil; any error rolls everything back.
func (h *Held) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := h.ix.db.BeginTx(ctx, nil)
	if err != nil {
		return indexErr(err, "begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Tx{ix: h.ix, tx: tx, ctx: ctx, held: h.keys}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return indexErr(err, "commit")
	}
	return nil
}

// Update locks ids, runs fn in one transaction, and unlocks.
func (ix *Index) Update(ctx context.Context, ids []NSLC, fn func(*Tx) error) error {
	h := ix.Lock(ids)
	defer h.Unlock()
	return h.Update(ctx, fn)
}

// Tx is a write transaction scoped to a set of locked NSLCs.
type Tx struct {
	ix   *Index
	tx   *sql.Tx
	ctx  context.Context
	held map[string]bool
}

func (t *Tx) checkHeld(id NSLC) error {
	if !t.held[id.String()] {
		return errors.AssertionFailedf("write to %s without holding its lock", id)
	}
	return nil
}

// lockTable hands out one mutex per key. Entries are dropped when no
// goroutine holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

func (t *lockTable) lock(keys map[string]bool) func() {
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	acquired := make([]*keyLock, 0, len(sorted))
	for _, k := range sorted {
		t.mu.Lock()
		l, ok := t.locks[k]
		if !ok {
			l = &keyLock{}
			t.locks[k] = l
		}
		l.refs++
		t.mu.Unlock()

		l.mu.Lock()
		acquired = append(acquired, l)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()
			t.mu.Lock()
			acquired[i].refs--
			if acquired[i].refs == 0 {
				delete(t.locks, sorted[i])
			}
			t.mu.Unlock()
		}
	}
}
