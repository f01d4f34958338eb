package alloc

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// capacity is how many freed page ids one free-list page can hold. The
// generic page format reserves the first 4 bytes of the data payload
// for the used-entries count and reuses the page's own Next pointer as
// "next free-list page", so no second on-disk format is needed.
const capacity = (pagestore.MaxData - 4) / 4

// freeListPage is the in-memory view of a page being used as a free-list
// node: a LIFO stack of up to `capacity` freed page ids.
type freeListPage struct {
	id      pagestore.ID
	next    pagestore.ID
	used    int32
	entries [capacity]pagestore.ID
}

func newFreeListPage(id, next pagestore.ID) *freeListPage {
	return &freeListPage{id: id, next: next}
}

func (f *freeListPage) full() bool  { return int(f.used) >= capacity }
func (f *freeListPage) empty() bool { return f.used == 0 }

// push appends an id to the LIFO stack. Caller must check full() first.
func (f *freeListPage) push(id pagestore.ID) {
	f.entries[f.used] = id
	f.used++
}

// pop removes and returns the most recently pushed id.
func (f *freeListPage) pop() pagestore.ID {
	f.used--
	return f.entries[f.used]
}

func (f *freeListPage) toPage() *pagestore.Page {
	p := pagestore.NewPage(f.id)
	p.Next = f.next
	p.Flags = pagestore.FlagFree
	binary.LittleEndian.PutUint32(p.Data[0:4], uint32(f.used))
	for i := int32(0); i < f.used; i++ {
		binary.LittleEndian.PutUint32(p.Data[4+i*4:8+i*4], uint32(f.entries[i]))
	}
	p.DataLen = 4 + f.used*4
	return p
}

func freeListPageFromPage(p *pagestore.Page) (*freeListPage, error) {
	if p.DataLen < 4 {
		return nil, errors.Wrapf(xerrors.ErrCorruptChain, "free-list page %d: truncated header", p.ID)
	}
	used := int32(binary.LittleEndian.Uint32(p.Data[0:4]))
	if used < 0 || int(used) > capacity {
		return nil, errors.Wrapf(xerrors.ErrCorruptChain, "free-list page %d: used=%d out of range", p.ID, used)
	}
	f := &freeListPage{id: p.ID, next: p.Next, used: used}
	for i := int32(0); i < used; i++ {
		f.entries[i] = pagestore.ID(int32(binary.LittleEndian.Uint32(p.Data[4+i*4 : 8+i*4])))
	}
	return f, nil
}
