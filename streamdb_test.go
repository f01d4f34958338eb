package streamdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/memtest"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&memtest.Medium{}, Options{CacheSize: 64, FreeListHotListLimit: 4})
	require.NoError(t, err)
	return db
}

func TestWriteDocumentThenGet(t *testing.T) {
	db := newTestDB(t)
	_, err := db.WriteDocument("/a/b.txt", []byte("hello"))
	require.NoError(t, err)

	data, ok, err := db.Get("/a/b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestGetMissingPathIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	data, ok, err := db.Get("/nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestRewriteSamePathTracksLatestPayload(t *testing.T) {
	db := newTestDB(t)
	for _, payload := range []string{"A", "B", "C"} {
		_, err := db.WriteDocument("/a/b.txt", []byte(payload))
		require.NoError(t, err)

		data, ok, err := db.Get("/a/b.txt")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte(payload), data)
	}

	stats, err := db.Statistics()
	require.NoError(t, err)
	assert.Greater(t, stats.FreePages, 0, "the chain for payload A should have been freed by now")
}

func TestDeleteByPathIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	_, err := db.WriteDocument("/x", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, db.DeleteByPath("/x"))
	require.NoError(t, db.DeleteByPath("/x")) // idempotent, no error

	_, ok, err := db.Get("/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteByIDIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	id, err := db.WriteDocument("/x", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, db.DeleteByID(id))
	require.NoError(t, db.DeleteByID(id)) // idempotent, no error

	_, ok, err := db.Get("/x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteByIDOnUnknownIDIsSilent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.DeleteByID(idgen.New()))
}

func TestBindAndUnbindAdditionalPath(t *testing.T) {
	db := newTestDB(t)
	id, err := db.WriteDocument("/primary", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, db.BindToPath(id, "/secondary"))
	data, ok, err := db.Get("/secondary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, db.UnbindPath("/secondary"))
	_, ok, err = db.Get("/secondary")
	require.NoError(t, err)
	assert.False(t, ok)

	// The primary path and underlying document still exist.
	data, ok, err = db.Get("/primary")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestSearchYieldsPrefixMatches(t *testing.T) {
	db := newTestDB(t)
	_, err := db.WriteDocument("/logs/a.log", []byte("1"))
	require.NoError(t, err)
	_, err = db.WriteDocument("/logs/b.log", []byte("2"))
	require.NoError(t, err)
	_, err = db.WriteDocument("/other/c.log", []byte("3"))
	require.NoError(t, err)

	it := db.Search("/logs/")
	var got []string
	for {
		p, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, p)
	}
	assert.ElementsMatch(t, []string{"/logs/a.log", "/logs/b.log"}, got)
}

func TestSearchIteratorRespectsCancellation(t *testing.T) {
	db := newTestDB(t)
	_, err := db.WriteDocument("/p", []byte("1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := db.Search("/")
	_, _, err = it.Next(ctx)
	assert.Error(t, err)
}

func TestCheckReportsHealthyDatabase(t *testing.T) {
	db := newTestDB(t)
	_, err := db.WriteDocument("/a", []byte("payload"))
	require.NoError(t, err)

	report := db.Check()
	assert.True(t, report.OK, "%v", report.Issues)
}

func TestStatsDetailFreePagesWithinTotal(t *testing.T) {
	db := newTestDB(t)
	id, err := db.WriteDocument("/doc", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, db.OverwriteByID(id, []byte("v2")))

	detail, err := db.StatsDetail()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, detail.TotalPages, detail.FreePages)
}

func TestOpenRejectsCorruptedMagicBytes(t *testing.T) {
	m := &memtest.Medium{}
	db, err := Open(m, Options{})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	m.Buf[0] ^= 0xFF

	_, err = Open(m, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrBadMagic))
}

// crashBeforeRotationMedium simulates a process crash partway through a
// write: once armed, any write targeting an offset below boundary (an
// already-existing page, such as an indirection-table slot) is lost, while
// writes at or above it (always freshly extended pages, such as a new
// content chain) still land. This reproduces a crash between a new
// chain's flush and the flush of the rotation that would reference it
// without needing to know how many pages either step touches.
type crashBeforeRotationMedium struct {
	*memtest.Medium
	boundary int64
}

var errSimulatedCrash = errors.New("streamdb_test: simulated crash, write lost")

func (m *crashBeforeRotationMedium) WriteAt(b []byte, off int64) (int, error) {
	if off < m.boundary {
		return 0, errSimulatedCrash
	}
	return m.Medium.WriteAt(b, off)
}

func TestReopenAfterCrashBeforeRotationReclaimsOrphanedPages(t *testing.T) {
	inner := &memtest.Medium{}
	db, err := Open(inner, Options{CacheSize: 64, FreeListHotListLimit: 4})
	require.NoError(t, err)

	id, err := db.WriteDocument("/doc", []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	crashing := &crashBeforeRotationMedium{Medium: inner, boundary: int64(len(inner.Buf))}
	db2, err := Open(crashing, Options{CacheSize: 64, FreeListHotListLimit: 4})
	require.NoError(t, err)

	statsBefore, err := db2.Statistics()
	require.NoError(t, err)

	err = db2.OverwriteByID(id, []byte("version two, long enough to land on a freshly extended chain"))
	require.Error(t, err, "the rotation write should have been lost to the simulated crash")

	reopened, err := Open(inner, Options{CacheSize: 64, FreeListHotListLimit: 4})
	require.NoError(t, err)

	data, ok, err := reopened.Get("/doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data, "the old chain must still be readable; the rotation that would replace it never landed")

	statsAfter, err := reopened.Statistics()
	require.NoError(t, err)
	assert.Greater(t, statsAfter.FreePages, statsBefore.FreePages, "startup recovery should have reclaimed the new chain's now-orphaned pages")
}

func TestOpenFileReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.bin")

	db, err := OpenFile(path, Options{})
	require.NoError(t, err)
	_, err = db.WriteDocument("/a", []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := OpenFile(path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	data, ok, err := ro.Get("/a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)

	_, err = ro.WriteDocument("/b", []byte("nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadOnly))
}

func TestOpenFileTimeoutGivesUpOnContendedLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.bin")

	writer, err := OpenFile(path, Options{})
	require.NoError(t, err)
	defer writer.Close()

	_, err = OpenFile(path, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriteByOther))
}

func TestReopenPreservesData(t *testing.T) {
	m := &memtest.Medium{}
	db, err := Open(m, Options{})
	require.NoError(t, err)
	_, err = db.WriteDocument("/persisted", []byte("still here"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(m, Options{})
	require.NoError(t, err)
	data, ok, err := reopened.Get("/persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("still here"), data)
}
