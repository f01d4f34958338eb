// Package docengine implements write/read/delete of arbitrary-length byte
// streams atop page chains, the indirection table that maps document ids
// to their current chain head, and the version history that backs
// three-version retention for document overwrites.
package docengine

import (
	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// MaxDocumentSize bounds a single document's content at 256 MiB.
const MaxDocumentSize = 256 * 1024 * 1024

// maxChainPages bounds chain walks so a corrupted next-pointer cycle
// cannot loop forever; it is generous relative to MaxDocumentSize.
const maxChainPages = MaxDocumentSize/pagestore.MaxData + 2

// writeChain splits data into MaxData-sized fragments, allocates one page
// per fragment, links them via Prev/Next, and writes every page through
// the store (not flushed — the caller flushes once after all pages and
// before the root rotation, so a crash mid-chain-write leaves no rotated
// root pointing at an unflushed page). Every page in the
// chain is stamped with version.
func writeChain(store *pagestore.Store, allocator *alloc.Allocator, data []byte, version int32) (pagestore.ID, []pagestore.ID, error) {
	if len(data) > MaxDocumentSize {
		return pagestore.NoPage, nil, errors.Wrapf(xerrors.ErrTooLarge, "%d bytes exceeds %d", len(data), MaxDocumentSize)
	}

	if len(data) == 0 {
		id, err := allocator.Allocate()
		if err != nil {
			return pagestore.NoPage, nil, err
		}
		p := pagestore.NewPage(id)
		p.Version = version
		p.Flags = pagestore.Set(pagestore.FlagData, pagestore.FlagFull)
		if err := store.Write(p); err != nil {
			return pagestore.NoPage, nil, err
		}
		return id, []pagestore.ID{id}, nil
	}

	var ids []pagestore.ID
	var pages []*pagestore.Page
	for off := 0; off < len(data); off += pagestore.MaxData {
		end := off + pagestore.MaxData
		if end > len(data) {
			end = len(data)
		}
		id, err := allocator.Allocate()
		if err != nil {
			return pagestore.NoPage, nil, err
		}
		p := pagestore.NewPage(id)
		p.Version = version
		p.DataLen = int32(end - off)
		copy(p.Data[:], data[off:end])
		ids = append(ids, id)
		pages = append(pages, p)
	}

	for i, p := range pages {
		flags := pagestore.FlagData
		switch {
		case len(pages) == 1:
			flags = pagestore.Set(flags, pagestore.FlagFull)
		case i == 0:
			flags = pagestore.Set(flags, pagestore.FlagFirst)
			p.Next = ids[i+1]
		case i == len(pages)-1:
			flags = pagestore.Set(flags, pagestore.FlagLast)
			p.Prev = ids[i-1]
		default:
			flags = pagestore.Set(flags, pagestore.FlagMiddle)
			p.Prev = ids[i-1]
			p.Next = ids[i+1]
		}
		p.Flags = flags
		if err := store.Write(p); err != nil {
			return pagestore.NoPage, nil, err
		}
	}

	return ids[0], ids, nil
}

// readChain walks the page chain starting at head, concatenating each
// page's data_length bytes, and verifies that the version is
// non-decreasing across the chain. verify controls CRC checking.
func readChain(store *pagestore.Store, head pagestore.ID, verify bool) ([]byte, error) {
	var out []byte
	id := head
	lastVersion := int32(-1)
	count := 0
	for id != pagestore.NoPage {
		if count > maxChainPages {
			return nil, errors.Wrapf(xerrors.ErrCorruptChain, "chain from page %d exceeds %d pages", head, maxChainPages)
		}
		p, err := store.Read(id, verify)
		if err != nil {
			return nil, errors.Wrapf(err, "docengine: read chain page %d", id)
		}
		if p.Version < lastVersion {
			return nil, errors.Wrapf(xerrors.ErrCorruptChain, "page %d: version %d decreased from %d", id, p.Version, lastVersion)
		}
		lastVersion = p.Version
		out = append(out, p.Data[:p.DataLen]...)
		id = p.Next
		count++
	}
	return out, nil
}

// chainPageIDs walks the chain collecting every page id, used when an old
// chain must be entirely freed (delete, or the losing side of an
// overwrite once it falls out of retention).
func chainPageIDs(store *pagestore.Store, head pagestore.ID) ([]pagestore.ID, error) {
	var ids []pagestore.ID
	id := head
	count := 0
	for id != pagestore.NoPage {
		if count > maxChainPages {
			return nil, errors.Wrapf(xerrors.ErrCorruptChain, "chain from page %d exceeds %d pages", head, maxChainPages)
		}
		// Structural walk only: never fail on a bad CRC mid-chain here —
		// freeing a chain should not itself be defeated by corruption in
		// a page we're about to discard anyway.
		p, err := store.Read(id, false)
		if err != nil {
			return nil, errors.Wrapf(err, "docengine: walk chain page %d", id)
		}
		ids = append(ids, id)
		id = p.Next
		count++
	}
	return ids, nil
}

// freeChain frees every page reachable from head.
func freeChain(store *pagestore.Store, allocator *alloc.Allocator, head pagestore.ID) error {
	if head == pagestore.NoPage {
		return nil
	}
	ids, err := chainPageIDs(store, head)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := allocator.Free(id); err != nil {
			return err
		}
	}
	return nil
}

// WriteChain, ReadChain and FreeChain expose the page-chain primitive to
// other self-hosted documents — the path trie persists itself through
// these same functions rather than inventing a second byte-stream format.

// WriteChain is the exported form of writeChain.
func WriteChain(store *pagestore.Store, allocator *alloc.Allocator, data []byte, version int32) (pagestore.ID, error) {
	head, _, err := writeChain(store, allocator, data, version)
	return head, err
}

// ReadChain is the exported form of readChain.
func ReadChain(store *pagestore.Store, head pagestore.ID, verify bool) ([]byte, error) {
	return readChain(store, head, verify)
}

// FreeChain is the exported form of freeChain.
func FreeChain(store *pagestore.Store, allocator *alloc.Allocator, head pagestore.ID) error {
	return freeChain(store, allocator, head)
}

// ChainPageIDs is the exported form of chainPageIDs, letting other
// self-hosted documents (the path trie) report their own structural
// pages to the allocator's scan-based recovery.
func ChainPageIDs(store *pagestore.Store, head pagestore.ID) ([]pagestore.ID, error) {
	return chainPageIDs(store, head)
}
