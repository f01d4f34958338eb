package pathindex

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

var le = binary.LittleEndian

func readChain(store *pagestore.Store, head pagestore.ID) ([]byte, error) {
	return docengine.ReadChain(store, head, true)
}

// marshalNodes serializes the tree reachable from the root in
// depth-first, sorted-child order: one record per reachable node,
// children referencing later records by their position in this stream.
func marshalNodes(nodes []*node) []byte {
	order, indexOf := dfsOrder(nodes)

	var buf bytes.Buffer
	for _, n := range order {
		var parent int32 = -1
		if n.parent >= 0 {
			parent = indexOf[n.parent]
		}
		writeInt32(&buf, parent)
		buf.WriteByte(n.char)
		if n.hasDoc {
			buf.WriteByte(1)
			buf.Write(n.docID[:])
		} else {
			buf.WriteByte(0)
			buf.Write(make([]byte, 16))
		}
		writeUint16(&buf, uint16(len(n.children)))
		for _, cr := range n.children {
			buf.WriteByte(cr.char)
			writeInt32(&buf, indexOf[cr.index])
		}
	}
	return buf.Bytes()
}

// dfsOrder walks nodes from the root in depth-first, sorted-child order
// and returns that order plus a map from live slice index to stream
// position. Unreachable (pruned) entries are skipped.
func dfsOrder(nodes []*node) ([]*node, map[int32]int32) {
	order := make([]*node, 0, len(nodes))
	indexOf := make(map[int32]int32, len(nodes))

	var walk func(idx int32)
	walk = func(idx int32) {
		indexOf[idx] = int32(len(order))
		order = append(order, nodes[idx])
		for _, cr := range nodes[idx].children {
			walk(cr.index)
		}
	}
	walk(rootIndex)
	return order, indexOf
}

func unmarshalNodes(data []byte) ([]*node, error) {
	r := bytes.NewReader(data)
	var out []*node
	for r.Len() > 0 {
		if r.Len() < 4+1+1+16+2 {
			return nil, errors.Wrap(xerrors.ErrCorruptChain, "pathindex: truncated node record")
		}
		parent, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		charBuf := make([]byte, 1)
		if _, err := r.Read(charBuf); err != nil {
			return nil, err
		}
		hasDocBuf := make([]byte, 1)
		if _, err := r.Read(hasDocBuf); err != nil {
			return nil, err
		}
		var docID idgen.ID
		if _, err := r.Read(docID[:]); err != nil {
			return nil, err
		}
		numChildren, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		n := &node{parent: parent, char: charBuf[0], hasDoc: hasDocBuf[0] == 1, docID: docID}
		for i := uint16(0); i < numChildren; i++ {
			cb := make([]byte, 1)
			if _, err := r.Read(cb); err != nil {
				return nil, err
			}
			idx, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, childRef{char: cb[0], index: idx})
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.Wrap(xerrors.ErrCorruptChain, "pathindex: empty node stream")
	}
	return out, nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	le.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	le.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readInt32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(le.Uint32(b[:])), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return le.Uint16(b[:]), nil
}

// persistLocked re-serializes the whole trie and rotates the path-index
// root to the new chain, freeing whatever chain falls out of the
// retention window.
func (t *Trie) persistLocked() error {
	t.version++
	data := marshalNodes(t.nodes)

	head, err := docengine.WriteChain(t.store, t.alloc, data, t.version)
	if err != nil {
		return errors.Wrap(err, "pathindex: write trie chain")
	}
	if err := t.store.Flush(); err != nil {
		return errors.Wrap(err, "pathindex: flush trie chain")
	}

	freed, hasFreed, err := t.header.RotatePathIndex(head, t.version)
	if err != nil {
		return errors.Wrap(err, "pathindex: rotate path-index root")
	}
	if hasFreed {
		if err := docengine.FreeChain(t.store, t.alloc, freed); err != nil {
			return errors.Wrap(err, "pathindex: free superseded trie chain")
		}
	}
	return nil
}
