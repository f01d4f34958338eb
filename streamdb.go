// Package streamdb is an embedded, single-file document store. Callers
// write opaque byte streams identified by a stable 128-bit id, and may
// bind human-readable path strings to each document. The store persists
// to a single growing file, survives abrupt termination without
// corruption, and supports many concurrent readers with a serialized
// writer.
package streamdb

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/pathindex"
	"github.com/ALH477/StreamDb/internal/vlink"
)

// ErrReadOnly is returned for any write attempted against a database
// opened with Options.ReadOnly.
var ErrReadOnly = errors.New("streamdb: database opened read-only")

// readOnlyMedium is the generic enforcement point for Options.ReadOnly:
// whatever medium Open was given, wrapping it here means a read-only
// database can never reach a WriteAt or Extend, regardless of what kind
// of medium it's backed by.
type readOnlyMedium struct {
	pagestore.Medium
}

func (m readOnlyMedium) WriteAt(b []byte, off int64) (int, error) {
	return 0, ErrReadOnly
}

func (m readOnlyMedium) Extend(n int64) error {
	return ErrReadOnly
}

// Close delegates to the wrapped medium's Close, if it has one, so
// wrapping a *FileMedium in readOnlyMedium doesn't hide it from Close.
func (m readOnlyMedium) Close() error {
	if closer, ok := m.Medium.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// DB is an open StreamDb database. The zero value is not usable; build
// one with Open.
type DB struct {
	medium pagestore.Medium
	store  *pagestore.Store
	header *vlink.Manager
	alloc  *alloc.Allocator

	docs  *docengine.Engine
	paths *pathindex.Trie

	// pathLock is the outermost lock in the hierarchy: held across
	// any bind/unbind and path-index persistence. The allocator and page
	// store hold their own, narrower locks beneath it.
	pathLock sync.Mutex

	closed bool
}

// Open initializes or reopens a database backed by medium. A brand-new
// (zero-length) medium is bootstrapped in the fixed order that avoids a
// circular dependency among the three self-hosted roots: free-list
// first, then the indirection table, then the path trie.
func Open(medium pagestore.Medium, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	pagestore.SetQuickMode(opts.QuickMode)

	if opts.ReadOnly {
		medium = readOnlyMedium{Medium: medium}
	}

	length, err := medium.Length()
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: medium length")
	}

	store := pagestore.New(medium, opts.CacheSize)

	if length == 0 {
		return createNew(medium, store, opts)
	}
	return openExisting(medium, store, opts)
}

// OpenFile opens or creates the database stored in the file at path,
// wrapping it in a FileMedium that honors Options.ReadOnly and
// Options.Timeout for the advisory file lock, then delegates to Open.
// Closing the returned DB also closes the underlying file and releases
// the lock.
func OpenFile(path string, opts Options) (*DB, error) {
	fm, err := OpenFileMedium(path, opts.ReadOnly, opts.Timeout)
	if err != nil {
		return nil, err
	}
	db, err := Open(fm, opts)
	if err != nil {
		_ = fm.Close()
		return nil, err
	}
	return db, nil
}

func createNew(medium pagestore.Medium, store *pagestore.Store, opts Options) (*DB, error) {
	if err := medium.Extend(pagestore.Size); err != nil {
		return nil, errors.Wrap(err, "streamdb: allocate header page")
	}

	header := vlink.Create(store)
	if err := header.PersistInitial(); err != nil {
		return nil, errors.Wrap(err, "streamdb: write initial header")
	}

	allocator := alloc.New(store, header, opts.FreeListHotListLimit)

	table := docengine.Create(store, allocator, header)
	docs := docengine.New(store, allocator, header, table)

	paths, err := pathindex.Open(store, allocator, header)
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: initialize path index")
	}
	allocator.SetReachability(reachabilitySource(docs, paths))

	log.Debug("streamdb: created new database")
	return &DB{medium: medium, store: store, header: header, alloc: allocator, docs: docs, paths: paths}, nil
}

func openExisting(medium pagestore.Medium, store *pagestore.Store, opts Options) (*DB, error) {
	header, err := vlink.Open(store)
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: open header")
	}

	// Bootstrap order per the self-hosting dependency: free-list first
	// (the indirection table and path trie may need to allocate pages
	// while loading), then the indirection table, then the path trie.
	allocator := alloc.New(store, header, opts.FreeListHotListLimit)

	table, err := docengine.Open(store, allocator, header)
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: load indirection table")
	}
	docs := docengine.New(store, allocator, header, table)

	paths, err := pathindex.Open(store, allocator, header)
	if err != nil {
		return nil, errors.Wrap(err, "streamdb: load path index")
	}
	allocator.SetReachability(reachabilitySource(docs, paths))
	if _, err := allocator.ReclaimOrphans(); err != nil {
		return nil, errors.Wrap(err, "streamdb: reclaim orphaned pages")
	}

	log.Debug("streamdb: opened existing database")
	return &DB{medium: medium, store: store, header: header, alloc: allocator, docs: docs, paths: paths}, nil
}

// reachabilitySource combines the document engine's and path index's own
// views of which pages they still reference into the single bulk callback
// the allocator's scan-based recovery queries when a free-list page
// itself fails CRC verification and can no longer be trusted.
func reachabilitySource(docs *docengine.Engine, paths *pathindex.Trie) alloc.ReachabilitySource {
	return func() (map[pagestore.ID]bool, error) {
		reachable, err := docs.ReachablePages()
		if err != nil {
			return nil, errors.Wrap(err, "streamdb: collect document-engine reachable pages")
		}
		pathPages, err := paths.ReachablePages()
		if err != nil {
			return nil, errors.Wrap(err, "streamdb: collect path-index reachable pages")
		}
		for id := range pathPages {
			reachable[id] = true
		}
		return reachable, nil
	}
}

// Close flushes any pending writes and, if the medium Open was given
// implements io.Closer (as OpenFile's FileMedium does), closes it too,
// releasing its advisory lock.
func (db *DB) Close() error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.store.Flush(); err != nil {
		return err
	}
	if closer, ok := db.medium.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// SetQuickMode toggles process-wide CRC verification on reads. See
// Options.QuickMode.
func SetQuickMode(on bool) { pagestore.SetQuickMode(on) }
