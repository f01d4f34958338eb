// Package vlink implements the versioned link: the three-slot
// (prior/current/pending) rotation primitive that every root reference in
// the database — the three header roots and, per-slot, every
// indirection-table entry — rotates through.
package vlink

import (
	"encoding/binary"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

var le = binary.LittleEndian

// Slot pairs a page id with the version it was installed at.
type Slot struct {
	Page    pagestore.ID
	Version int32
}

// Link is the on-disk three-slot structure. Size is fixed: 3 * (4 + 4) = 24
// bytes.
type Link struct {
	Prior   Slot
	Current Slot
	Pending Slot
}

// Size is the marshaled size of a Link in bytes.
const Size = 24

// Zero returns a link with every slot pointing at pagestore.NoPage.
func Zero() Link {
	none := Slot{Page: pagestore.NoPage, Version: 0}
	return Link{Prior: none, Current: none, Pending: none}
}

// Rotation is the result of a successful rotate: the page id that fell out
// of the three-slot retention window and is now safe to free, plus whether
// there was one at all.
type Rotation struct {
	Freed    pagestore.ID
	HasFreed bool
}

// Install fills the pending slot with (page, version). Call Rotate after
// the pending write has been durably flushed.
func (l *Link) Install(page pagestore.ID, version int32) {
	l.Pending = Slot{Page: page, Version: version}
}

// Rotate advances pending -> current -> prior and reports the page id that
// drops out of retention (the prior slot's value before this rotation),
// which has now spent one whole rotation in Prior and may be freed.
//
// This is the three-version retention mechanism: counting the rotation
// that made a page current, it is freed on the *third* successful
// rotation — the second moves it from Current into Prior, where it stays
// for one whole rotation, and the third evicts it here.
func (l *Link) Rotate() Rotation {
	out := Rotation{Freed: l.Prior.Page, HasFreed: l.Prior.Page != pagestore.NoPage}
	l.Prior = l.Current
	l.Current = l.Pending
	l.Pending = Slot{Page: pagestore.NoPage, Version: 0}
	return out
}

// Resolve returns the page id readers should follow: current if its
// caller-supplied verification succeeds, otherwise prior. verify is a
// callback so this package stays free of pagestore.Store dependencies
// beyond the ID type.
//
// A Current slot holding NoPage is a deliberate, durable statement that
// there is no page — it never falls back to Prior. Falling back only
// ever covers torn writes, where Current names a real page id that
// fails verification (a rotation whose install did not finish landing).
func (l *Link) Resolve(verify func(pagestore.ID) bool) (pagestore.ID, bool) {
	if l.Current.Page == pagestore.NoPage {
		return pagestore.NoPage, true
	}
	if verify(l.Current.Page) {
		return l.Current.Page, true
	}
	if l.Prior.Page != pagestore.NoPage && verify(l.Prior.Page) {
		return l.Prior.Page, false
	}
	return pagestore.NoPage, false
}

// Marshal serializes the link into a Size-byte buffer in little-endian
// layout: prior.page, prior.version, current.page, current.version,
// pending.page, pending.version.
func (l Link) Marshal() []byte {
	buf := make([]byte, Size)
	putSlot(buf[0:8], l.Prior)
	putSlot(buf[8:16], l.Current)
	putSlot(buf[16:24], l.Pending)
	return buf
}

// Unmarshal parses a Size-byte buffer produced by Marshal.
func Unmarshal(buf []byte) Link {
	return Link{
		Prior:   getSlot(buf[0:8]),
		Current: getSlot(buf[8:16]),
		Pending: getSlot(buf[16:24]),
	}
}

func putSlot(buf []byte, s Slot) {
	le.PutUint32(buf[0:4], uint32(s.Page))
	le.PutUint32(buf[4:8], uint32(s.Version))
}

func getSlot(buf []byte) Slot {
	return Slot{
		Page:    pagestore.ID(int32(le.Uint32(buf[0:4]))),
		Version: int32(le.Uint32(buf[4:8])),
	}
}
