package pagestore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/xerrors"
)

// memMedium is an in-memory Medium used only by tests in this package.
type memMedium struct {
	buf []byte
}

func (m *memMedium) ReadAt(b []byte, off int64) (int, error) {
	if off+int64(len(b)) > int64(len(m.buf)) {
		return 0, xerrors.ErrShortRead
	}
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

func (m *memMedium) Flush() error { return nil }

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

func TestStoreWriteThenReadObservesImmediately(t *testing.T) {
	m := &memMedium{}
	require.NoError(t, m.Extend(Size*2))
	s := New(m, 4)

	p := NewPage(1)
	p.DataLen = 3
	copy(p.Data[:], []byte("abc"))
	require.NoError(t, s.Write(p))

	got, err := s.Read(1, true)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Data[:got.DataLen]))

	require.NoError(t, s.Flush())
}

func TestStoreReadOutOfRange(t *testing.T) {
	m := &memMedium{}
	require.NoError(t, m.Extend(Size))
	s := New(m, 4)

	_, err := s.Read(5, true)
	require.Error(t, err)
}

func TestStoreQuickModeSkipsVerification(t *testing.T) {
	m := &memMedium{}
	require.NoError(t, m.Extend(Size))
	s := New(m, 4)

	p := NewPage(0)
	p.DataLen = 1
	p.Data[0] = 'x'
	require.NoError(t, s.Write(p))
	s.Invalidate(0)

	raw := make([]byte, Size)
	_, err := m.ReadAt(raw, 0)
	require.NoError(t, err)
	raw[50] ^= 0xFF
	_, err = m.WriteAt(raw, 0)
	require.NoError(t, err)

	SetQuickMode(true)
	defer SetQuickMode(false)

	_, err = s.Read(0, true)
	assert.NoError(t, err)
}

// cappedMedium refuses to grow past a fixed ceiling, simulating a medium
// that has run out of room (a full disk, a fixed-size device).
type cappedMedium struct {
	memMedium
	capacity int64
}

func (m *cappedMedium) Extend(n int64) error {
	if n > m.capacity {
		return xerrors.ErrOutOfSpace
	}
	return m.memMedium.Extend(n)
}

func TestStoreExtendWrapsOutOfSpace(t *testing.T) {
	m := &cappedMedium{capacity: Size}
	s := New(m, 4)

	_, err := s.Extend()
	require.NoError(t, err)

	_, err = s.Extend()
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrOutOfSpace))
}

func TestStoreExtend(t *testing.T) {
	m := &memMedium{}
	s := New(m, 4)

	id, err := s.Extend()
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	id, err = s.Extend()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
}
