package vlink

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

// Manager owns page 0 — the database header — and the three root
// versioned links that live on it. It serializes header mutation so that
// the physical page-0 write/flush pair used to install and rotate a root
// never interleaves with another root's rotation.
type Manager struct {
	mu    sync.Mutex
	store *pagestore.Store
	roots Roots
}

// Create initializes a brand-new Manager with all-empty roots. The caller
// is responsible for the initial header write (see the bootstrap order in
// streamdb.Open's createNew).
func Create(store *pagestore.Store) *Manager {
	return &Manager{store: store, roots: Roots{Indirection: Zero(), PathIndex: Zero(), FreeList: Zero()}}
}

// Open reads and parses page 0, returning ErrBadMagic if it doesn't look
// like a StreamDb header. Any root left with a non-empty pending slot —
// the signature of a crash between rotate's install-flush and
// rotate-flush steps — is replayed (completed or discarded) before Open
// returns, so a caller never observes a half-finished rotation.
func Open(store *pagestore.Store) (*Manager, error) {
	p, err := store.Read(0, true)
	if err != nil {
		return nil, errors.Wrap(err, "vlink: read header page")
	}
	roots, err := ParseHeader(p)
	if err != nil {
		return nil, err
	}
	m := &Manager{store: store, roots: roots}
	if m.replayPendingRotations() {
		if err := m.PersistInitial(); err != nil {
			return nil, errors.Wrap(err, "vlink: persist replayed rotation")
		}
	}
	return m, nil
}

// replayPendingRotations examines every root's pending slot. A pending
// page that verifies is the highest-version durable write this header
// knows about and wins: the rotation that installed it is completed here
// (pending -> current -> prior) exactly as Manager.rotate's second flush
// would have done. A pending page that fails CRC verification is a torn
// write — it never finished landing — and is discarded, leaving current
// and prior untouched. Reports whether any root's in-memory state
// changed and needs re-persisting.
func (m *Manager) replayPendingRotations() bool {
	changed := false
	for _, link := range []*Link{&m.roots.Indirection, &m.roots.PathIndex, &m.roots.FreeList} {
		if link.Pending.Page == pagestore.NoPage {
			continue
		}
		if !m.verify(link.Pending.Page) {
			link.Pending = Slot{Page: pagestore.NoPage, Version: 0}
			changed = true
			continue
		}
		link.Rotate()
		changed = true
	}
	return changed
}

// PersistInitial writes the current (typically all-zero) header for the
// very first time, without any rotation semantics.
func (m *Manager) PersistInitial() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

func (m *Manager) persistLocked() error {
	p := MarshalHeader(m.roots)
	if err := m.store.Write(p); err != nil {
		return errors.Wrap(err, "vlink: write header")
	}
	if err := m.store.Flush(); err != nil {
		return errors.Wrap(err, "vlink: flush header")
	}
	return nil
}

// Indirection returns a snapshot of the index-root link.
func (m *Manager) Indirection() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roots.Indirection
}

// PathIndexLink returns a snapshot of the path-lookup-root link.
func (m *Manager) PathIndexLink() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roots.PathIndex
}

// FreeListLink returns a snapshot of the free-list-root link.
func (m *Manager) FreeListLink() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roots.FreeList
}

// verify reports whether page id currently passes CRC verification, used
// by Resolve to decide between current and prior.
func (m *Manager) verify(id pagestore.ID) bool {
	if id == pagestore.NoPage {
		return false
	}
	_, err := m.store.Read(id, true)
	return err == nil
}

// ResolveIndirection returns the page id readers should follow for the
// indirection table, falling back to the prior slot on a torn current.
func (m *Manager) ResolveIndirection() (pagestore.ID, bool) {
	m.mu.Lock()
	link := m.roots.Indirection
	m.mu.Unlock()
	return link.Resolve(m.verify)
}

// ResolvePathIndex mirrors ResolveIndirection for the path trie root.
func (m *Manager) ResolvePathIndex() (pagestore.ID, bool) {
	m.mu.Lock()
	link := m.roots.PathIndex
	m.mu.Unlock()
	return link.Resolve(m.verify)
}

// ResolveFreeList mirrors ResolveIndirection for the free-list root.
func (m *Manager) ResolveFreeList() (pagestore.ID, bool) {
	m.mu.Lock()
	link := m.roots.FreeList
	m.mu.Unlock()
	return link.Resolve(m.verify)
}

// rotate is the shared install-flush-rotate-flush sequence, parameterized
// over which root it targets.
func (m *Manager) rotate(pick func(*Roots) *Link, newPage pagestore.ID, newVersion int32) (pagestore.ID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link := pick(&m.roots)
	link.Install(newPage, newVersion)
	if err := m.persistLocked(); err != nil {
		return pagestore.NoPage, false, errors.Wrap(err, "vlink: persist pending")
	}

	rotation := link.Rotate()
	if err := m.persistLocked(); err != nil {
		return pagestore.NoPage, false, errors.Wrap(err, "vlink: persist rotation")
	}
	return rotation.Freed, rotation.HasFreed, nil
}

// RotateIndirection installs newPage as the indirection table's new head
// and rotates, returning the page that fell out of retention, if any.
func (m *Manager) RotateIndirection(newPage pagestore.ID, newVersion int32) (pagestore.ID, bool, error) {
	return m.rotate(func(r *Roots) *Link { return &r.Indirection }, newPage, newVersion)
}

// RotatePathIndex mirrors RotateIndirection for the path trie root.
func (m *Manager) RotatePathIndex(newPage pagestore.ID, newVersion int32) (pagestore.ID, bool, error) {
	return m.rotate(func(r *Roots) *Link { return &r.PathIndex }, newPage, newVersion)
}

// RotateFreeList mirrors RotateIndirection for the free-list root.
func (m *Manager) RotateFreeList(newPage pagestore.ID, newVersion int32) (pagestore.ID, bool, error) {
	return m.rotate(func(r *Roots) *Link { return &r.FreeList }, newPage, newVersion)
}
