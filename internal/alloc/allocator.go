// Package alloc implements the free-page allocator: a small in-memory
// LIFO hot-list backed by a persistent chain of free-list pages, reached
// through the database header's free-list-root versioned link.
package alloc

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// DefaultHotListLimit is the number of freed pages the allocator holds in
// memory before draining into the persistent free-list chain.
const DefaultHotListLimit = 64

// ReachabilitySource reports every page id currently referenced by
// structures the allocator itself doesn't own — the indirection table,
// every live document's content chain, and the path index. Scan-based
// recovery queries it once per recovery (not once per page) and treats
// everything it doesn't name, other than the header page, as free.
type ReachabilitySource func() (map[pagestore.ID]bool, error)

// Allocator hands out and reclaims page ids. It is the sole writer of the
// free-list-root versioned link.
type Allocator struct {
	mu           sync.Mutex
	store        *pagestore.Store
	header       *vlink.Manager
	hotList      []pagestore.ID
	hotListLimit int
	nextVersion  int32
	reachable    ReachabilitySource
}

// New constructs an Allocator over store, rotating the free-list root
// through header. hotListLimit <= 0 selects DefaultHotListLimit.
func New(store *pagestore.Store, header *vlink.Manager, hotListLimit int) *Allocator {
	if hotListLimit <= 0 {
		hotListLimit = DefaultHotListLimit
	}
	return &Allocator{
		store:        store,
		header:       header,
		hotListLimit: hotListLimit,
		nextVersion:  header.FreeListLink().Current.Version + 1,
	}
}

// SetReachability registers the callback scan-based recovery uses to
// tell live pages apart from free ones once a free-list page itself
// fails CRC verification and can no longer be trusted. The façade wires
// this in after the document engine and path index exist; until then, a
// corrupt free-list page is a fatal error rather than a recoverable one.
func (a *Allocator) SetReachability(fn ReachabilitySource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reachable = fn
}

// Allocate returns a reusable page id: from the hot-list (LIFO) first,
// then from the persistent free-list chain, then by extending the medium.
func (a *Allocator) Allocate() (pagestore.ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.hotList); n > 0 {
		id := a.hotList[n-1]
		a.hotList = a.hotList[:n-1]
		return id, nil
	}

	id, ok, err := a.popFromChainLocked()
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}

	id, err = a.store.Extend()
	if err != nil {
		return 0, errors.Wrap(err, "alloc: extend medium")
	}
	return id, nil
}

// Free reclaims id, pushing it onto the hot-list and draining into the
// persistent free-list chain once the hot-list exceeds its limit.
func (a *Allocator) Free(id pagestore.ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLocked(id)
}

func (a *Allocator) freeLocked(id pagestore.ID) error {
	if id == pagestore.NoPage {
		return nil
	}
	a.store.Invalidate(id)
	a.hotList = append(a.hotList, id)
	if len(a.hotList) > a.hotListLimit {
		return a.drainLocked()
	}
	return nil
}

// drainLocked pushes every hot-list entry into the persistent free-list
// chain. Pages that the chain itself sheds (an emptied node, or a stale
// root evicted by three-version retention) are folded back into the same
// work queue so a single drain converges.
func (a *Allocator) drainLocked() error {
	for len(a.hotList) > 0 {
		id := a.hotList[len(a.hotList)-1]
		a.hotList = a.hotList[:len(a.hotList)-1]
		if err := a.pushToChainLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// readFreeListNodeLocked reads and parses the free-list page at id. The
// caller decides what a corrupt-page error means for it — popFromChainLocked
// and pushToChainLocked both route through scan-based recovery when it does.
func (a *Allocator) readFreeListNodeLocked(id pagestore.ID) (*freeListPage, error) {
	p, err := a.store.Read(id, true)
	if err != nil {
		return nil, err
	}
	return freeListPageFromPage(p)
}

// pushToChainLocked appends id to the current free-list page, allocating
// (via a raw medium extend, never through Allocate) and linking a new node
// when the current one is full or the chain is empty.
func (a *Allocator) pushToChainLocked(id pagestore.ID) error {
	headID, isCurrent := a.header.ResolveFreeList()
	if !isCurrent {
		// The current free-list head failed verification.
		if rerr := a.recoverLocked(); rerr != nil {
			return rerr
		}
		return a.pushToChainLocked(id)
	}

	var node *freeListPage
	if headID == pagestore.NoPage {
		newID, err := a.store.Extend()
		if err != nil {
			return errors.Wrap(err, "alloc: extend for new free-list page")
		}
		node = newFreeListPage(newID, pagestore.NoPage)
		if err := a.linkNewHeadLocked(node); err != nil {
			return err
		}
	} else {
		var err error
		node, err = a.readFreeListNodeLocked(headID)
		if err != nil {
			if errors.Is(err, xerrors.ErrCorruptPage) {
				if rerr := a.recoverLocked(); rerr != nil {
					return rerr
				}
				return a.pushToChainLocked(id)
			}
			return errors.Wrapf(err, "alloc: read free-list head %d", headID)
		}
	}

	if node.full() {
		newID, err := a.store.Extend()
		if err != nil {
			return errors.Wrap(err, "alloc: extend for new free-list page")
		}
		node = newFreeListPage(newID, node.id)
		if err := a.linkNewHeadLocked(node); err != nil {
			return err
		}
	}

	node.push(id)
	return a.store.Write(node.toPage())
}

// linkNewHeadLocked writes node and rotates the free-list root to point
// at it, folding any page the rotation frees back into the hot-list.
func (a *Allocator) linkNewHeadLocked(node *freeListPage) error {
	if err := a.store.Write(node.toPage()); err != nil {
		return err
	}
	version := a.nextVersion
	a.nextVersion++
	freed, hasFreed, err := a.header.RotateFreeList(node.id, version)
	if err != nil {
		return errors.Wrap(err, "alloc: rotate free-list root")
	}
	if hasFreed {
		log.WithField("page", freed).Debug("alloc: three-version retention released a free-list page")
		a.hotList = append(a.hotList, freed)
	}
	return nil
}

// popFromChainLocked pops one id from the persistent free-list chain. It
// returns ok=false if the chain is currently empty.
func (a *Allocator) popFromChainLocked() (pagestore.ID, bool, error) {
	headID, isCurrent := a.header.ResolveFreeList()
	if !isCurrent {
		// The current free-list head failed verification.
		if rerr := a.recoverLocked(); rerr != nil {
			return 0, false, rerr
		}
		return a.popFromChainLocked()
	}
	if headID == pagestore.NoPage {
		return 0, false, nil
	}

	node, err := a.readFreeListNodeLocked(headID)
	if err != nil {
		if errors.Is(err, xerrors.ErrCorruptPage) {
			if rerr := a.recoverLocked(); rerr != nil {
				return 0, false, rerr
			}
			return a.popFromChainLocked()
		}
		return 0, false, errors.Wrapf(err, "alloc: read free-list head %d", headID)
	}
	if node.empty() {
		// A head node should never be left empty; recover by unlinking it.
		if err := a.unlinkEmptyHeadLocked(node); err != nil {
			return 0, false, err
		}
		return a.popFromChainLocked()
	}

	id := node.pop()
	if node.empty() {
		if err := a.unlinkEmptyHeadLocked(node); err != nil {
			return 0, false, err
		}
	} else if err := a.store.Write(node.toPage()); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// unlinkEmptyHeadLocked rewrites the free-list root to node.next and frees
// node.id itself: an emptied free-list page is reclaimed rather than left
// dangling, with the root rewritten to point past it.
func (a *Allocator) unlinkEmptyHeadLocked(node *freeListPage) error {
	version := a.nextVersion
	a.nextVersion++
	freed, hasFreed, err := a.header.RotateFreeList(node.next, version)
	if err != nil {
		return errors.Wrap(err, "alloc: rotate free-list root on unlink")
	}
	a.hotList = append(a.hotList, node.id)
	if hasFreed {
		a.hotList = append(a.hotList, freed)
	}
	return nil
}

// recoverLocked rebuilds the free-list chain from scratch after a
// free-list page fails CRC verification: the chain is no longer trusted,
// so free ids are derived instead as the complement of whatever the
// registered reachability source still references. The old, possibly
// corrupt chain is abandoned in place (its root is rotated to NoPage, and
// any of its own pages that aren't reachable elsewhere end up back in the
// rebuilt free set, same as any other orphan).
func (a *Allocator) recoverLocked() error {
	if a.reachable == nil {
		return errors.Wrap(xerrors.ErrCorruptChain, "alloc: free-list page failed verification and no reachability source is registered for recovery")
	}
	log.Warn("alloc: free-list page failed CRC verification, rebuilding from a full scan")

	reachable, err := a.reachable()
	if err != nil {
		return errors.Wrap(err, "alloc: compute reachable pages during recovery")
	}

	total, err := a.store.Length()
	if err != nil {
		return errors.Wrap(err, "alloc: medium length during recovery")
	}

	var free []pagestore.ID
	for id := pagestore.ID(1); id < total; id++ {
		if !reachable[id] {
			free = append(free, id)
		}
	}

	a.hotList = nil
	version := a.nextVersion
	a.nextVersion++
	if _, _, err := a.header.RotateFreeList(pagestore.NoPage, version); err != nil {
		return errors.Wrap(err, "alloc: clear free-list root before rebuild")
	}

	for _, id := range free {
		if err := a.pushToChainLocked(id); err != nil {
			return errors.Wrap(err, "alloc: rebuild free-list chain")
		}
	}
	log.WithField("recovered", len(free)).Warn("alloc: free-list rebuilt from scan")
	return nil
}

// trackedFreePagesLocked walks the persistent free-list chain and returns
// every page id it already accounts for: both its own structural pages and
// the free page ids recorded inside them. ReclaimOrphans treats anything
// outside this set, and outside the registered ReachabilitySource, as an
// orphan left behind by a write that flushed a new chain but crashed
// before the rotation that would have referenced it.
func (a *Allocator) trackedFreePagesLocked() (map[pagestore.ID]bool, error) {
	tracked := map[pagestore.ID]bool{}
	headID, _ := a.header.ResolveFreeList()
	seen := map[pagestore.ID]bool{}
	for headID != pagestore.NoPage {
		if seen[headID] {
			return nil, errors.Wrapf(xerrors.ErrCorruptChain, "free-list chain loops at page %d", headID)
		}
		seen[headID] = true
		tracked[headID] = true
		node, err := a.readFreeListNodeLocked(headID)
		if err != nil {
			return nil, err
		}
		for _, id := range node.entries[:node.used] {
			tracked[id] = true
		}
		headID = node.next
	}
	return tracked, nil
}

// ReclaimOrphans scans every page the medium currently holds and folds any
// that are neither part of the free-list chain nor reachable per the
// registered ReachabilitySource back into the free-list. It is startup
// recovery's answer to a write that durably flushed a new content chain
// and then crashed before the root rotation that would have pointed to
// it: reopening leaves the old root intact (so the old document is still
// readable) but the new chain's pages dangling, unreferenced by anything.
// This walk is what returns them to circulation instead of leaking them.
//
// It is a no-op, not an error, if no ReachabilitySource has been
// registered yet.
func (a *Allocator) ReclaimOrphans() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reachable == nil {
		return 0, nil
	}

	reachable, err := a.reachable()
	if err != nil {
		return 0, errors.Wrap(err, "alloc: compute reachable pages for orphan reclaim")
	}
	tracked, err := a.trackedFreePagesLocked()
	if err != nil {
		return 0, errors.Wrap(err, "alloc: walk free-list chain for orphan reclaim")
	}
	for id := range tracked {
		reachable[id] = true
	}
	for _, id := range a.hotList {
		reachable[id] = true
	}

	total, err := a.store.Length()
	if err != nil {
		return 0, errors.Wrap(err, "alloc: medium length for orphan reclaim")
	}

	var orphans []pagestore.ID
	for id := pagestore.ID(1); id < total; id++ {
		if !reachable[id] {
			orphans = append(orphans, id)
		}
	}
	for _, id := range orphans {
		if err := a.freeLocked(id); err != nil {
			return 0, errors.Wrap(err, "alloc: reclaim orphan page")
		}
	}
	if len(orphans) > 0 {
		log.WithField("count", len(orphans)).Warn("alloc: startup recovery reclaimed orphaned pages")
	}
	return len(orphans), nil
}

// HotListLen reports how many page ids currently sit in the in-memory
// hot-list, not yet drained to the persistent chain.
func (a *Allocator) HotListLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.hotList)
}

// ChainPageCount walks the persistent free-list chain and returns the
// number of structural free-list pages it is made of (as opposed to
// Count, which returns the number of free page ids they collectively
// hold).
func (a *Allocator) ChainPageCount() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	headID, _ := a.header.ResolveFreeList()
	seen := map[pagestore.ID]bool{}
	n := 0
	for headID != pagestore.NoPage {
		if seen[headID] {
			return 0, errors.Wrapf(xerrors.ErrCorruptChain, "free-list chain loops at page %d", headID)
		}
		seen[headID] = true
		n++
		p, err := a.store.Read(headID, true)
		if err != nil {
			return 0, errors.Wrapf(err, "alloc: read free-list page %d", headID)
		}
		node, err := freeListPageFromPage(p)
		if err != nil {
			return 0, err
		}
		headID = node.next
	}
	return n, nil
}

// Count returns the number of page ids currently tracked as free: the
// hot-list plus every entry reachable along the persistent free-list
// chain.
//
// This is O(chain length), intended for diagnostics and tests rather
// than the hot path.
func (a *Allocator) Count() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := len(a.hotList)
	headID, _ := a.header.ResolveFreeList()
	seen := map[pagestore.ID]bool{}
	for headID != pagestore.NoPage {
		if seen[headID] {
			return 0, errors.Wrapf(xerrors.ErrCorruptChain, "free-list chain loops at page %d", headID)
		}
		seen[headID] = true
		p, err := a.store.Read(headID, true)
		if err != nil {
			return 0, errors.Wrapf(err, "alloc: read free-list page %d", headID)
		}
		node, err := freeListPageFromPage(p)
		if err != nil {
			return 0, err
		}
		total += int(node.used)
		headID = node.next
	}
	return total, nil
}
