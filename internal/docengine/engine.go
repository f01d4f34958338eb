package docengine

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// Engine is the document-id-level read/write/delete surface: it owns the
// indirection table and drives page-chain writes through the allocator,
// but knows nothing about paths. versionMu guards version independently
// of any lock a caller may already hold, so Engine stays safe to call
// even if a future caller forgets the façade's path lock.
type Engine struct {
	store     *pagestore.Store
	alloc     *alloc.Allocator
	header    *vlink.Manager
	table     *IndirectionTable
	versionMu sync.Mutex
	version   int32
}

func (e *Engine) nextVersion() int32 {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	e.version++
	return e.version
}

// New builds an Engine over an already-reconstructed indirection table.
func New(store *pagestore.Store, allocator *alloc.Allocator, header *vlink.Manager, table *IndirectionTable) *Engine {
	return &Engine{store: store, alloc: allocator, header: header, table: table}
}

// Write stores data under a freshly generated document id and returns it.
func (e *Engine) Write(data []byte) (idgen.ID, error) {
	id := idgen.New()
	if err := e.Overwrite(id, data); err != nil {
		return idgen.Zero, err
	}
	return id, nil
}

// Overwrite replaces the content addressed by id, creating the document
// if it does not already exist. The old chain, once it falls out of
// three-version retention, is freed automatically.
func (e *Engine) Overwrite(id idgen.ID, data []byte) error {
	version := e.nextVersion()

	head, _, err := writeChain(e.store, e.alloc, data, version)
	if err != nil {
		return errors.Wrap(err, "docengine: write chain")
	}
	if err := e.store.Flush(); err != nil {
		return errors.Wrap(err, "docengine: flush content chain")
	}

	freed, hasFreed, err := e.table.Install(id, head, version)
	if err != nil {
		return errors.Wrap(err, "docengine: install indirection entry")
	}
	if hasFreed {
		if err := freeChain(e.store, e.alloc, freed); err != nil {
			return errors.Wrap(err, "docengine: free superseded chain")
		}
		log.WithFields(log.Fields{"doc": id.String(), "head": freed}).Debug("docengine: freed chain past retention")
	}
	return nil
}

// Read returns the current content stored under id.
func (e *Engine) Read(id idgen.ID) ([]byte, error) {
	head, ok := e.table.Lookup(id)
	if !ok {
		return nil, errors.Wrapf(xerrors.ErrNotFound, "document %s", id)
	}
	return readChain(e.store, head, true)
}

// Exists reports whether id currently names a live document.
func (e *Engine) Exists(id idgen.ID) bool {
	return e.table.Contains(id)
}

// VerifyAll CRC-checks the indirection table's own pages and every live
// document's content chain. It is the non-hot-path consistency walk
// driven by the façade's Check operation, not part of ordinary reads.
func (e *Engine) VerifyAll() error {
	if err := e.table.Verify(); err != nil {
		return err
	}
	for _, id := range e.table.LiveIDs() {
		head, ok := e.table.Lookup(id)
		if !ok {
			continue
		}
		if _, err := readChain(e.store, head, true); err != nil {
			return errors.Wrapf(err, "docengine: document %s failed verification", id)
		}
	}
	return nil
}

// LiveCount returns how many documents are currently live.
func (e *Engine) LiveCount() int {
	return e.table.Count()
}

// ReachablePages returns every page id currently referenced through the
// indirection table: the table's own structural pages plus every live
// document's content chain. It is the document-engine half of the
// reachability source the allocator's scan-based recovery queries when a
// free-list page itself fails CRC verification.
func (e *Engine) ReachablePages() (map[pagestore.ID]bool, error) {
	reachable := make(map[pagestore.ID]bool)
	for _, id := range e.table.Pages() {
		reachable[id] = true
	}
	for _, docID := range e.table.LiveIDs() {
		head, ok := e.table.Lookup(docID)
		if !ok {
			continue
		}
		ids, err := chainPageIDs(e.store, head)
		if err != nil {
			return nil, errors.Wrapf(err, "docengine: walk chain for document %s during reachability scan", docID)
		}
		for _, id := range ids {
			reachable[id] = true
		}
	}
	return reachable, nil
}

// Delete tombstones id's indirection slot and frees its content chain
// once retention releases it. The tombstone itself consumes two
// reserved versions: IndirectionTable.Remove rotates the slot through
// NoPage twice so the chain passes through the same two-rotation delay
// an ordinary overwrite's superseded chain gets.
func (e *Engine) Delete(id idgen.ID) error {
	if !e.table.Contains(id) {
		return errors.Wrapf(xerrors.ErrNotFound, "document %s", id)
	}
	v1 := e.nextVersion()
	v2 := e.nextVersion()

	heads, err := e.table.Remove(id, v1, v2)
	if err != nil {
		return errors.Wrap(err, "docengine: remove indirection entry")
	}
	for _, head := range heads {
		if err := freeChain(e.store, e.alloc, head); err != nil {
			return errors.Wrap(err, "docengine: free deleted chain")
		}
	}
	return nil
}
