package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
)

type memMedium struct{ buf []byte }

func (m *memMedium) ReadAt(b []byte, off int64) (int, error) {
	return copy(b, m.buf[off:off+int64(len(b))]), nil
}
func (m *memMedium) WriteAt(b []byte, off int64) (int, error) {
	end := off + int64(len(b))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[off:end], b), nil
}
func (m *memMedium) Flush() error          { return nil }
func (m *memMedium) Length() (int64, error) { return int64(len(m.buf)), nil }
func (m *memMedium) Extend(n int64) error {
	if n <= int64(len(m.buf)) {
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func newFixture(t *testing.T) (*pagestore.Store, *vlink.Manager, *Allocator) {
	store, header, a, _ := newFixtureWithMedium(t)
	return store, header, a
}

func newFixtureWithMedium(t *testing.T) (*pagestore.Store, *vlink.Manager, *Allocator, *memMedium) {
	t.Helper()
	m := &memMedium{}
	require.NoError(t, m.Extend(pagestore.Size)) // page 0, the header
	store := pagestore.New(m, 16)
	header := vlink.Create(store)
	require.NoError(t, header.PersistInitial())
	a := New(store, header, 4)
	return store, header, a, m
}

func TestAllocateExtendsWhenEmpty(t *testing.T) {
	_, _, a := newFixture(t)
	id, err := a.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id) // page 0 is the header
}

func TestFreeThenAllocateIsLIFO(t *testing.T) {
	_, _, a := newFixture(t)
	require.NoError(t, a.Free(5))
	require.NoError(t, a.Free(6))

	id, err := a.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 6, id, "most recently freed page should be reused first")

	id, err = a.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 5, id)
}

func TestFreeDrainsIntoPersistentChainPastLimit(t *testing.T) {
	_, header, a := newFixture(t)
	for i := pagestore.ID(10); i < 10+5; i++ {
		require.NoError(t, a.Free(i))
	}
	// hotListLimit is 4; the 5th free should have triggered a drain.
	link := header.FreeListLink()
	assert.NotEqual(t, pagestore.NoPage, link.Current.Page)

	count, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCountMatchesAllocateConsumption(t *testing.T) {
	_, _, a := newFixture(t)
	for i := pagestore.ID(20); i < 30; i++ {
		require.NoError(t, a.Free(i))
	}
	before, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 10, before)

	_, err = a.Allocate()
	require.NoError(t, err)

	after, err := a.Count()
	require.NoError(t, err)
	assert.Equal(t, 9, after)
}

func TestAllocateWithoutReachabilitySourcePropagatesCorruption(t *testing.T) {
	store, header, a, m := newFixtureWithMedium(t)
	// Five frees with hotListLimit 4 drain everything into the chain, so
	// Allocate has to read the (corrupted) chain head.
	for i := pagestore.ID(20); i < 25; i++ {
		require.NoError(t, a.Free(i))
	}

	headID, _ := header.ResolveFreeList()
	corruptPage(t, store, m, headID)

	_, err := a.Allocate()
	require.Error(t, err, "a corrupt free-list page with no registered reachability source must fail, not silently misbehave")
}

func TestAllocateRecoversFromCorruptFreeListPage(t *testing.T) {
	store, header, a, m := newFixtureWithMedium(t)
	// Five frees with hotListLimit 4 drain everything into the chain, so
	// Allocate has to read the (corrupted) chain head.
	for i := pagestore.ID(20); i < 25; i++ {
		require.NoError(t, a.Free(i))
	}

	// Pages 30-32 are "live" according to the reachability source and must
	// never be handed out by recovery; everything else the medium has
	// grown to is fair game.
	live := map[pagestore.ID]bool{30: true, 31: true, 32: true}
	require.NoError(t, store.Write(pagestore.NewPage(30)))
	require.NoError(t, store.Write(pagestore.NewPage(31)))
	require.NoError(t, store.Write(pagestore.NewPage(32)))
	require.NoError(t, store.Flush())
	a.SetReachability(func() (map[pagestore.ID]bool, error) { return live, nil })

	headID, _ := header.ResolveFreeList()
	corruptPage(t, store, m, headID)

	id, err := a.Allocate()
	require.NoError(t, err)
	assert.False(t, live[id], "recovery must never hand out a page the reachability source still claims")
	assert.NotEqual(t, pagestore.NoPage, id)
}

// corruptPage flips a data byte directly on the backing medium and
// invalidates the cache, so the next Store.Read recomputes the CRC
// against the flipped byte and fails verification.
func corruptPage(t *testing.T, store *pagestore.Store, m *memMedium, id pagestore.ID) {
	t.Helper()
	store.Invalidate(id)

	off := int64(id) * pagestore.Size
	raw := make([]byte, pagestore.Size)
	_, err := m.ReadAt(raw, off)
	require.NoError(t, err)
	raw[50] ^= 0xFF
	_, err = m.WriteAt(raw, off)
	require.NoError(t, err)

	store.Invalidate(id)
}
