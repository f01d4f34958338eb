package vlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/memtest"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func TestRotateFreesThirdGenerationBack(t *testing.T) {
	l := Zero()

	// First install: nothing to free yet (prior was NoPage).
	l.Install(10, 1)
	r1 := l.Rotate()
	assert.False(t, r1.HasFreed)
	assert.EqualValues(t, 10, l.Current.Page)

	// Second install: rotating again should NOT free page 10 yet — it
	// moves from current into prior.
	l.Install(20, 2)
	r2 := l.Rotate()
	assert.False(t, r2.HasFreed)
	assert.EqualValues(t, 10, l.Prior.Page)
	assert.EqualValues(t, 20, l.Current.Page)

	// Third install: now page 10 (two generations stale) is freed.
	l.Install(30, 3)
	r3 := l.Rotate()
	require.True(t, r3.HasFreed)
	assert.EqualValues(t, 10, r3.Freed)
	assert.EqualValues(t, 20, l.Prior.Page)
	assert.EqualValues(t, 30, l.Current.Page)
}

func TestResolveFallsBackToPrior(t *testing.T) {
	l := Zero()
	l.Install(1, 1)
	l.Rotate()
	l.Install(2, 2)
	l.Rotate() // prior=1 current=2

	bad := map[pagestore.ID]bool{1: false, 2: true}
	id, isCurrent := l.Resolve(func(p pagestore.ID) bool { return !bad[p] })
	assert.EqualValues(t, 1, id)
	assert.False(t, isCurrent)
}

func TestHeaderMarshalRoundTrip(t *testing.T) {
	roots := Roots{
		Indirection: Zero(),
		PathIndex:   Zero(),
		FreeList:    Zero(),
	}
	roots.Indirection.Install(4, 1)
	roots.Indirection.Rotate()

	p := MarshalHeader(roots)
	got, err := ParseHeader(p)
	require.NoError(t, err)
	assert.Equal(t, roots.Indirection, got.Indirection)
}

func TestParseHeaderBadMagic(t *testing.T) {
	p := pagestore.NewPage(0)
	p.DataLen = headerPayload
	_, err := ParseHeader(p)
	require.Error(t, err)
}

// TestOpenReplaysCompletedPendingRotation simulates a crash between
// rotate's install-flush and rotate-flush writes: the pending slot names
// a page that was itself durably written, but the header never got the
// second flush that would have rotated it into current. Open must detect
// that and finish the rotation rather than silently keeping the stale
// current.
func TestOpenReplaysCompletedPendingRotation(t *testing.T) {
	mem := &memtest.Medium{}
	store := pagestore.New(mem, 16)

	require.NoError(t, store.Write(pagestore.NewPage(5)))
	require.NoError(t, store.Write(pagestore.NewPage(6)))
	require.NoError(t, store.Flush())

	link := Zero()
	link.Current = Slot{Page: 5, Version: 1}
	link.Pending = Slot{Page: 6, Version: 2}
	roots := Roots{Indirection: link, PathIndex: Zero(), FreeList: Zero()}
	require.NoError(t, store.Write(MarshalHeader(roots)))
	require.NoError(t, store.Flush())

	m, err := Open(store)
	require.NoError(t, err)

	id, isCurrent := m.ResolveIndirection()
	assert.EqualValues(t, 6, id)
	assert.True(t, isCurrent)

	// The replay must itself be persisted, not just held in memory.
	m2, err := Open(store)
	require.NoError(t, err)
	id2, _ := m2.ResolveIndirection()
	assert.EqualValues(t, 6, id2)
}

// TestOpenDiscardsTornPendingRotation covers the other half of replay: a
// pending slot naming a page that never actually landed (or fails CRC)
// must be discarded, leaving current exactly as it was.
func TestOpenDiscardsTornPendingRotation(t *testing.T) {
	mem := &memtest.Medium{}
	store := pagestore.New(mem, 16)

	require.NoError(t, store.Write(pagestore.NewPage(5)))
	require.NoError(t, store.Flush())

	link := Zero()
	link.Current = Slot{Page: 5, Version: 1}
	link.Pending = Slot{Page: 99, Version: 2} // never written

	roots := Roots{Indirection: link, PathIndex: Zero(), FreeList: Zero()}
	require.NoError(t, store.Write(MarshalHeader(roots)))
	require.NoError(t, store.Flush())

	m, err := Open(store)
	require.NoError(t, err)

	id, isCurrent := m.ResolveIndirection()
	assert.EqualValues(t, 5, id)
	assert.True(t, isCurrent)
}
