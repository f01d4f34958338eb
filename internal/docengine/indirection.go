package docengine

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
)

// slotSize is 16 bytes of document id plus a 24-byte versioned link.
const slotSize = 16 + vlink.Size

// slotsPerPage is how many (id, link) slots fit in one page's payload.
const slotsPerPage = pagestore.MaxData / slotSize

type slotLocation struct {
	page  pagestore.ID
	index int
}

// IndirectionTable is a self-hosted document: it maps document ids to
// the versioned link that names their current page-chain head. The
// table's own pages are a plain, append-only chain (the header's
// index-root names its stable first page); each entry within those pages
// carries its own three-slot vlink.Link, which is what actually rotates
// on every write to that document, not the table root.
type IndirectionTable struct {
	mu      sync.RWMutex
	store   *pagestore.Store
	alloc   *alloc.Allocator
	header  *vlink.Manager
	pages   []pagestore.ID
	byID    map[idgen.ID]slotLocation
	free    []slotLocation
}

// Create initializes an empty table; the first slot page is allocated
// lazily on the first Install call so that an empty database doesn't pay
// for a page it may never need.
func Create(store *pagestore.Store, allocator *alloc.Allocator, header *vlink.Manager) *IndirectionTable {
	return &IndirectionTable{
		store:  store,
		alloc:  allocator,
		header: header,
		byID:   make(map[idgen.ID]slotLocation),
	}
}

// Open reconstructs the table by walking every page in the chain rooted
// at the header's index-root.
func Open(store *pagestore.Store, allocator *alloc.Allocator, header *vlink.Manager) (*IndirectionTable, error) {
	t := Create(store, allocator, header)

	headID, _ := header.ResolveIndirection()
	id := headID
	for id != pagestore.NoPage {
		p, err := store.Read(id, true)
		if err != nil {
			return nil, errors.Wrapf(err, "docengine: read indirection page %d", id)
		}
		t.pages = append(t.pages, id)
		slots, err := unmarshalSlots(p)
		if err != nil {
			return nil, err
		}
		for i, s := range slots {
			loc := slotLocation{page: id, index: i}
			if s.docID.IsZero() {
				t.free = append(t.free, loc)
				continue
			}
			t.byID[s.docID] = loc
		}
		id = p.Next
	}
	return t, nil
}

type slotRecord struct {
	docID idgen.ID
	link  vlink.Link
}

func unmarshalSlots(p *pagestore.Page) ([]slotRecord, error) {
	out := make([]slotRecord, slotsPerPage)
	for i := 0; i < slotsPerPage; i++ {
		off := i * slotSize
		var docID idgen.ID
		copy(docID[:], p.Data[off:off+16])
		out[i] = slotRecord{docID: docID, link: vlink.Unmarshal(p.Data[off+16 : off+slotSize])}
	}
	return out, nil
}

func marshalSlot(p *pagestore.Page, index int, rec slotRecord) {
	off := index * slotSize
	copy(p.Data[off:off+16], rec.docID[:])
	copy(p.Data[off+16:off+slotSize], rec.link.Marshal())
}

// Lookup resolves a document id to the page chain head its current slot
// points to. ok is false if the id is unknown or its slot has no current
// page (deleted).
func (t *IndirectionTable) Lookup(id idgen.ID) (pagestore.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, found := t.byID[id]
	if !found {
		return pagestore.NoPage, false
	}
	rec, err := t.readSlot(loc)
	if err != nil {
		return pagestore.NoPage, false
	}
	head, ok := rec.link.Resolve(t.verify)
	if !ok || head == pagestore.NoPage {
		return pagestore.NoPage, false
	}
	return head, true
}

func (t *IndirectionTable) verify(id pagestore.ID) bool {
	if id == pagestore.NoPage {
		return false
	}
	_, err := t.store.Read(id, true)
	return err == nil
}

func (t *IndirectionTable) readSlot(loc slotLocation) (slotRecord, error) {
	p, err := t.store.Read(loc.page, true)
	if err != nil {
		return slotRecord{}, err
	}
	slots, err := unmarshalSlots(p)
	if err != nil {
		return slotRecord{}, err
	}
	return slots[loc.index], nil
}

// Install rotates id's slot to point at newHead with the given version,
// allocating a slot (and, if necessary, a whole new table page) the first
// time id is seen. It returns the page that fell out of three-version
// retention, if any — the caller must free that entire old chain.
func (t *IndirectionTable) Install(id idgen.ID, newHead pagestore.ID, version int32) (pagestore.ID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	loc, isNew, err := t.locateOrAllocateLocked(id)
	if err != nil {
		return pagestore.NoPage, false, err
	}
	return t.rotateSlotLocked(loc, isNew, newHead, version)
}

// Remove tombstones id's slot and marks it free for reuse. A tombstoned
// slot never rotates again on its own, so the chain it was pointing at
// would otherwise never fall out of retention; Remove instead rotates
// the slot through NoPage twice, back to back, giving that chain the
// same two-rotation delay an ordinary overwrite's superseded chain gets
// before Install/Rotate would normally free it. The first rotation moves
// the live chain from current into prior — still valid for any reader
// already mid-walk against the id looked up before this call — and only
// the second rotation evicts it, via the ordinary Rotation.Freed path.
// version1 and version2 must be two distinct, increasing version numbers
// the caller has already reserved. Remove returns every page chain head
// the two rotations released.
func (t *IndirectionTable) Remove(id idgen.ID, version1, version2 int32) ([]pagestore.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	loc, found := t.byID[id]
	if !found {
		return nil, nil
	}

	var toFree []pagestore.ID
	freed1, hasFreed1, err := t.rotateSlotLocked(loc, false, pagestore.NoPage, version1)
	if err != nil {
		return nil, err
	}
	if hasFreed1 {
		toFree = append(toFree, freed1)
	}

	freed2, hasFreed2, err := t.rotateSlotLocked(loc, false, pagestore.NoPage, version2)
	if err != nil {
		return nil, err
	}
	if hasFreed2 {
		toFree = append(toFree, freed2)
	}

	delete(t.byID, id)
	t.free = append(t.free, loc)
	// Zero the document id in the slot so a restart's Open() treats it as
	// free rather than re-adopting a tombstoned entry.
	if err := t.clearSlotIDLocked(loc); err != nil {
		return nil, err
	}

	return toFree, nil
}

func (t *IndirectionTable) clearSlotIDLocked(loc slotLocation) error {
	p, err := t.store.Read(loc.page, true)
	if err != nil {
		return err
	}
	off := loc.index * slotSize
	var zero [16]byte
	copy(p.Data[off:off+16], zero[:])
	return t.store.Write(p)
}

func (t *IndirectionTable) rotateSlotLocked(loc slotLocation, isNew bool, newHead pagestore.ID, version int32) (pagestore.ID, bool, error) {
	rec, err := t.readSlot(loc)
	if err != nil {
		return pagestore.NoPage, false, err
	}
	if isNew {
		rec.link = vlink.Zero()
	}

	rec.link.Install(newHead, version)
	if err := t.writeSlotLocked(loc, rec); err != nil {
		return pagestore.NoPage, false, err
	}

	rotation := rec.link.Rotate()
	if err := t.writeSlotLocked(loc, rec); err != nil {
		return pagestore.NoPage, false, err
	}

	return rotation.Freed, rotation.HasFreed, nil
}

func (t *IndirectionTable) writeSlotLocked(loc slotLocation, rec slotRecord) error {
	p, err := t.store.Read(loc.page, true)
	if err != nil {
		return err
	}
	marshalSlot(p, loc.index, rec)
	if err := t.store.Write(p); err != nil {
		return err
	}
	return t.store.Flush()
}

func (t *IndirectionTable) locateOrAllocateLocked(id idgen.ID) (slotLocation, bool, error) {
	if loc, ok := t.byID[id]; ok {
		return loc, false, nil
	}
	if n := len(t.free); n > 0 {
		loc := t.free[n-1]
		t.free = t.free[:n-1]
		t.byID[id] = loc
		if err := t.writeSlotIDLocked(loc, id); err != nil {
			return slotLocation{}, false, err
		}
		return loc, true, nil
	}

	pageID, err := t.alloc.Allocate()
	if err != nil {
		return slotLocation{}, false, err
	}
	p := pagestore.NewPage(pageID)
	p.DataLen = pagestore.MaxData
	p.Flags = pagestore.FlagFull

	if len(t.pages) == 0 {
		if err := t.store.Write(p); err != nil {
			return slotLocation{}, false, err
		}
		if err := t.store.Flush(); err != nil {
			return slotLocation{}, false, err
		}
		if _, _, err := t.header.RotateIndirection(pageID, 1); err != nil {
			return slotLocation{}, false, err
		}
	} else {
		tail := t.pages[len(t.pages)-1]
		tailPage, err := t.store.Read(tail, true)
		if err != nil {
			return slotLocation{}, false, err
		}
		tailPage.Next = pageID
		p.Prev = tail
		if err := t.store.Write(tailPage); err != nil {
			return slotLocation{}, false, err
		}
		if err := t.store.Write(p); err != nil {
			return slotLocation{}, false, err
		}
		if err := t.store.Flush(); err != nil {
			return slotLocation{}, false, err
		}
	}

	t.pages = append(t.pages, pageID)
	for i := 1; i < slotsPerPage; i++ {
		t.free = append(t.free, slotLocation{page: pageID, index: i})
	}
	loc := slotLocation{page: pageID, index: 0}
	t.byID[id] = loc
	if err := t.writeSlotIDLocked(loc, id); err != nil {
		return slotLocation{}, false, err
	}
	return loc, true, nil
}

func (t *IndirectionTable) writeSlotIDLocked(loc slotLocation, id idgen.ID) error {
	p, err := t.store.Read(loc.page, true)
	if err != nil {
		return err
	}
	off := loc.index * slotSize
	copy(p.Data[off:off+16], id[:])
	return t.store.Write(p)
}

// Contains reports whether id currently has a live (non-tombstoned) slot.
func (t *IndirectionTable) Contains(id idgen.ID) bool {
	_, ok := t.Lookup(id)
	return ok
}

// Verify CRC-checks every page in the table's own chain. It is a
// non-hot-path consistency walk, not part of normal lookup.
func (t *IndirectionTable) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.pages {
		if _, err := t.store.Read(id, true); err != nil {
			return errors.Wrapf(err, "docengine: indirection page %d failed verification", id)
		}
	}
	return nil
}

// Count returns the number of document ids currently live (bound or
// unbound, but not tombstoned) in the table.
func (t *IndirectionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Pages returns the table's own structural page chain.
func (t *IndirectionTable) Pages() []pagestore.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]pagestore.ID, len(t.pages))
	copy(out, t.pages)
	return out
}

// LiveIDs returns every document id the table currently tracks.
func (t *IndirectionTable) LiveIDs() []idgen.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]idgen.ID, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	return out
}
