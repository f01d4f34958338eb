package pathindex

import (
	"sort"

	"github.com/ALH477/StreamDb/internal/idgen"
)

// Search enumerates every bound path whose external form begins with
// prefix, in no specified order beyond what sorted child traversal
// happens to produce.
func (t *Trie) Search(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.walkLocked(prefix)
	if !ok {
		return nil
	}

	var out []string
	var walk func(i int32, suffix []byte)
	walk = func(i int32, suffix []byte) {
		n := t.nodes[i]
		if n.hasDoc {
			out = append(out, prefix+string(suffix))
		}
		for _, cr := range n.children {
			walk(cr.index, append(suffix, cr.char))
		}
	}
	walk(idx, nil)
	return out
}

// ListFor returns every path currently bound to id, sorted for
// deterministic iteration.
func (t *Trie) ListFor(id idgen.ID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.paths[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
