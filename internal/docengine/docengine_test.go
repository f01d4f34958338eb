package docengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/memtest"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/vlink"
)

func newFixture(t *testing.T) *Engine {
	t.Helper()
	m := &memtest.Medium{}
	require.NoError(t, m.Extend(pagestore.Size))
	store := pagestore.New(m, 32)
	header := vlink.Create(store)
	require.NoError(t, header.PersistInitial())
	a := alloc.New(store, header, 8)
	table := Create(store, a, header)
	return New(store, a, header, table)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := newFixture(t)
	id, err := e.Write([]byte("hello document"))
	require.NoError(t, err)

	got, err := e.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello document"), got)
}

func TestWriteSpanningMultiplePages(t *testing.T) {
	e := newFixture(t)
	data := make([]byte, pagestore.MaxData*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	id, err := e.Write(data)
	require.NoError(t, err)

	got, err := e.Read(id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestOverwriteReplacesContentAndFreesOldChain(t *testing.T) {
	e := newFixture(t)
	id, err := e.Write([]byte("A"))
	require.NoError(t, err)

	require.NoError(t, e.Overwrite(id, []byte("B")))
	got, err := e.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), got)

	require.NoError(t, e.Overwrite(id, []byte("C")))
	got, err = e.Read(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("C"), got)

	count, err := e.alloc.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the page written for payload A should have been freed by the third write")
}

func TestDeleteMakesDocumentUnreadable(t *testing.T) {
	e := newFixture(t)
	id, err := e.Write([]byte("gone soon"))
	require.NoError(t, err)

	require.NoError(t, e.Delete(id))
	assert.False(t, e.Exists(id))
	_, err = e.Read(id)
	assert.Error(t, err)
}

func TestDeleteUnknownIDErrors(t *testing.T) {
	e := newFixture(t)
	err := e.Delete(idgen.New())
	assert.Error(t, err)
}

func TestDeleteFreesContentChain(t *testing.T) {
	e := newFixture(t)
	id, err := e.Write([]byte("deleted payload"))
	require.NoError(t, err)

	require.NoError(t, e.Delete(id))

	count, err := e.alloc.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "the deleted document's chain should be freed, same as an overwritten chain")
}

func TestDeleteRotatesSlotRatherThanFreeingSynchronously(t *testing.T) {
	// Delete used to resolve the slot's live chain and free it directly;
	// now it rotates the slot through NoPage twice, the same path
	// Install/Rotate take for an ordinary superseded chain. A page that
	// went through two rotations ends up back on the free list, so
	// writing a brand-new document afterward should reuse it rather
	// than grow the medium.
	e := newFixture(t)
	id, err := e.Write([]byte("short-lived"))
	require.NoError(t, err)
	lenAfterFirstWrite, err := e.store.Length()
	require.NoError(t, err)

	require.NoError(t, e.Delete(id))

	_, err = e.Write([]byte("reuses the freed page"))
	require.NoError(t, err)

	lenAfterSecondWrite, err := e.store.Length()
	require.NoError(t, err)
	assert.Equal(t, lenAfterFirstWrite, lenAfterSecondWrite, "the second write should have reused the deleted chain's freed page instead of extending the medium")
}
