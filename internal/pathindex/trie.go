// Package pathindex implements the path trie: a character trie mapping
// human-readable path strings to document ids, persisted as a
// self-hosted document through the docengine page-chain primitive. The
// specification describes the trie stored with paths reversed so that
// external prefix search becomes an internal suffix walk; this
// implementation instead stores paths forward and performs ordinary
// prefix search directly, a substitution the source material explicitly
// permits as long as bind/lookup/search stay within the same complexity
// bounds.
package pathindex

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
)

type childRef struct {
	char  byte
	index int32
}

type node struct {
	parent   int32
	char     byte
	hasDoc   bool
	docID    idgen.ID
	children []childRef
}

func (n *node) findChild(c byte) (int32, bool) {
	for _, cr := range n.children {
		if cr.char == c {
			return cr.index, true
		}
	}
	return -1, false
}

func (n *node) addChild(c byte, index int32) {
	n.children = append(n.children, childRef{char: c, index: index})
	sort.Slice(n.children, func(i, j int) bool { return n.children[i].char < n.children[j].char })
}

func (n *node) removeChild(c byte) {
	out := n.children[:0]
	for _, cr := range n.children {
		if cr.char != c {
			out = append(out, cr)
		}
	}
	n.children = out
}

// Trie is the mutable, in-memory path index. Every mutating call
// re-serializes the whole structure and rotates the path-index root, per
// the persistence model described for this self-hosted document.
type Trie struct {
	mu      sync.Mutex
	store   *pagestore.Store
	alloc   *alloc.Allocator
	header  *vlink.Manager
	nodes   []*node
	paths   map[idgen.ID]map[string]bool
	version int32
}

const rootIndex = int32(0)

// Create initializes an empty trie (a single root node) without yet
// persisting it; the first Bind call triggers the first write.
func Create(store *pagestore.Store, allocator *alloc.Allocator, header *vlink.Manager) *Trie {
	return &Trie{
		store:  store,
		alloc:  allocator,
		header: header,
		nodes:  []*node{{parent: -1}},
		paths:  make(map[idgen.ID]map[string]bool),
	}
}

// Open reconstructs the trie from the page chain rooted at the header's
// path-index root, or returns an empty trie if none was ever persisted.
func Open(store *pagestore.Store, allocator *alloc.Allocator, header *vlink.Manager) (*Trie, error) {
	t := Create(store, allocator, header)

	head, _ := header.ResolvePathIndex()
	if head == pagestore.NoPage {
		return t, nil
	}
	data, err := readChain(store, head)
	if err != nil {
		return nil, errors.Wrap(err, "pathindex: read persisted trie")
	}
	if len(data) == 0 {
		return t, nil
	}
	nodes, err := unmarshalNodes(data)
	if err != nil {
		return nil, err
	}
	t.nodes = nodes
	t.rebuildPathsLocked()
	return t, nil
}

func (t *Trie) rebuildPathsLocked() {
	t.paths = make(map[idgen.ID]map[string]bool)
	var walk func(idx int32, prefix []byte)
	walk = func(idx int32, prefix []byte) {
		n := t.nodes[idx]
		if n.hasDoc {
			t.addPathLocked(n.docID, string(prefix))
		}
		for _, cr := range n.children {
			walk(cr.index, append(prefix, cr.char))
		}
	}
	walk(rootIndex, nil)
}

func (t *Trie) addPathLocked(id idgen.ID, path string) {
	set, ok := t.paths[id]
	if !ok {
		set = make(map[string]bool)
		t.paths[id] = set
	}
	set[path] = true
}

func (t *Trie) removePathLocked(id idgen.ID, path string) {
	set, ok := t.paths[id]
	if !ok {
		return
	}
	delete(set, path)
	if len(set) == 0 {
		delete(t.paths, id)
	}
}

// Bind associates path with id, replacing whatever id (if any) the path
// previously resolved to. Re-binding the same path to the same id leaves
// the mapping unchanged, but still re-persists the trie and rotates the
// path-index root.
func (t *Trie) Bind(path string, id idgen.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := rootIndex
	for i := 0; i < len(path); i++ {
		c := path[i]
		if child, ok := t.nodes[idx].findChild(c); ok {
			idx = child
			continue
		}
		newIdx := int32(len(t.nodes))
		t.nodes = append(t.nodes, &node{parent: idx, char: c})
		t.nodes[idx].addChild(c, newIdx)
		idx = newIdx
	}

	n := t.nodes[idx]
	if n.hasDoc && n.docID != id {
		t.removePathLocked(n.docID, path)
	}
	n.hasDoc = true
	n.docID = id
	t.addPathLocked(id, path)

	return t.persistLocked()
}

// Unbind removes path from the trie. Unknown paths are a silent no-op.
func (t *Trie) Unbind(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.walkLocked(path)
	if !ok || !t.nodes[idx].hasDoc {
		return nil
	}

	n := t.nodes[idx]
	t.removePathLocked(n.docID, path)
	n.hasDoc = false
	n.docID = idgen.Zero

	t.pruneUpwardLocked(idx)

	return t.persistLocked()
}

// pruneUpwardLocked removes idx (and ancestors, transitively) from their
// parent's children once they carry no document id and no children.
func (t *Trie) pruneUpwardLocked(idx int32) {
	for idx != rootIndex {
		n := t.nodes[idx]
		if n.hasDoc || len(n.children) > 0 {
			return
		}
		parent := t.nodes[n.parent]
		parent.removeChild(n.char)
		idx = n.parent
	}
}

func (t *Trie) walkLocked(path string) (int32, bool) {
	idx := rootIndex
	for i := 0; i < len(path); i++ {
		child, ok := t.nodes[idx].findChild(path[i])
		if !ok {
			return 0, false
		}
		idx = child
	}
	return idx, true
}

// Verify CRC-checks the trie's own persisted page chain. It is a
// non-hot-path consistency walk, not part of ordinary lookups.
func (t *Trie) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	head, _ := t.header.ResolvePathIndex()
	if head == pagestore.NoPage {
		return nil
	}
	_, err := readChain(t.store, head)
	return err
}

// ReachablePages returns every page id currently making up the trie's own
// persisted chain. It is the path-index half of the reachability source
// the allocator's scan-based recovery queries when a free-list page
// itself fails CRC verification.
func (t *Trie) ReachablePages() (map[pagestore.ID]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	head, _ := t.header.ResolvePathIndex()
	if head == pagestore.NoPage {
		return nil, nil
	}
	ids, err := docengine.ChainPageIDs(t.store, head)
	if err != nil {
		return nil, errors.Wrap(err, "pathindex: walk chain during reachability scan")
	}
	reachable := make(map[pagestore.ID]bool, len(ids))
	for _, id := range ids {
		reachable[id] = true
	}
	return reachable, nil
}

// Lookup resolves path to its bound document id, if any.
func (t *Trie) Lookup(path string) (idgen.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.walkLocked(path)
	if !ok || !t.nodes[idx].hasDoc {
		return idgen.Zero, false
	}
	return t.nodes[idx].docID, true
}
