package vlink

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// Magic is the database file's magic number: bytes
// 55 AA FE ED FA CE DA 7A read as a little-endian uint64.
const Magic uint64 = 0x7ADACEFAEDFEAA55

// Roots names the three versioned-link slots carried on page 0, in the
// order they appear on disk.
type Roots struct {
	Indirection Link // index-root: document id -> first-page-id table
	PathIndex   Link // path-lookup-root: the path trie
	FreeList    Link // free-list-root: the allocator's free-list chain
}

// headerPayload is magic(8) + three Links(24 each) = 80 bytes; the rest of
// page 0 is zero.
const headerPayload = 8 + 3*Size

// MarshalHeader writes magic and the three roots into a pagestore.Page
// (always page 0).
func MarshalHeader(roots Roots) *pagestore.Page {
	p := pagestore.NewPage(0)
	binary.LittleEndian.PutUint64(p.Data[0:8], Magic)
	copy(p.Data[8:8+Size], roots.Indirection.Marshal())
	copy(p.Data[8+Size:8+2*Size], roots.PathIndex.Marshal())
	copy(p.Data[8+2*Size:8+3*Size], roots.FreeList.Marshal())
	p.DataLen = headerPayload
	p.Flags = pagestore.FlagFull
	return p
}

// ParseHeader validates the magic number and extracts the three roots from
// page 0's data region.
func ParseHeader(p *pagestore.Page) (Roots, error) {
	if int(p.DataLen) < headerPayload {
		return Roots{}, errors.Wrap(xerrors.ErrBadMagic, "header page truncated")
	}
	magic := binary.LittleEndian.Uint64(p.Data[0:8])
	if magic != Magic {
		return Roots{}, errors.Wrapf(xerrors.ErrBadMagic, "got %016x want %016x", magic, Magic)
	}
	return Roots{
		Indirection: Unmarshal(p.Data[8 : 8+Size]),
		PathIndex:   Unmarshal(p.Data[8+Size : 8+2*Size]),
		FreeList:    Unmarshal(p.Data[8+2*Size : 8+3*Size]),
	}, nil
}
