package streamdb

import "context"

// PathIterator lazily yields the paths produced by Search or ListPaths.
// Each Next call checks ctx for cancellation before returning, per the
// supplemented iterator-cancellation behavior; it does not contradict
// the no-cooperative-cancellation rule for single-shot writes, since
// this is a read-only, already-materialized list.
type PathIterator struct {
	paths []string
	pos   int
}

func newPathIterator(paths []string) *PathIterator {
	return &PathIterator{paths: paths}
}

// Next returns the next path, or ok=false once exhausted. A canceled or
// expired ctx returns its error instead.
func (it *PathIterator) Next(ctx context.Context) (path string, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if it.pos >= len(it.paths) {
		return "", false, nil
	}
	path = it.paths[it.pos]
	it.pos++
	return path, true, nil
}

// Remaining reports how many paths are left without consuming them.
func (it *PathIterator) Remaining() int {
	return len(it.paths) - it.pos
}
