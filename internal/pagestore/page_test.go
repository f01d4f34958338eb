package pagestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageMarshalRoundTrip(t *testing.T) {
	p := NewPage(7)
	p.Version = 3
	p.Prev = 6
	p.Next = 8
	p.Flags = Set(0, FlagData|FlagFull)
	msg := []byte("hello streamdb")
	copy(p.Data[:], msg)
	p.DataLen = int32(len(msg))

	buf := p.Marshal()
	require.Len(t, buf, Size)

	var got Page
	got.ID = 7
	require.NoError(t, got.Unmarshal(buf, true))

	assert.Equal(t, p.Version, got.Version)
	assert.Equal(t, p.Prev, got.Prev)
	assert.Equal(t, p.Next, got.Next)
	assert.Equal(t, p.Flags, got.Flags)
	assert.Equal(t, p.DataLen, got.DataLen)
	assert.Equal(t, msg, got.Data[:got.DataLen])
	assert.True(t, got.Has(FlagData))
	assert.True(t, got.Has(FlagFull))
	assert.False(t, got.Has(FlagFirst))
}

func TestPageUnmarshalDetectsCorruption(t *testing.T) {
	p := NewPage(1)
	p.DataLen = 4
	copy(p.Data[:], []byte("abcd"))
	buf := p.Marshal()

	// Flip a bit inside the CRC-covered region.
	buf[100] ^= 0xFF

	var got Page
	got.ID = 1
	err := got.Unmarshal(buf, true)
	require.Error(t, err)

	// With verification disabled, corruption is not detected.
	var got2 Page
	got2.ID = 1
	require.NoError(t, got2.Unmarshal(buf, false))
}

func TestPageDataLenBounds(t *testing.T) {
	p := NewPage(0)
	p.DataLen = MaxData
	buf := p.Marshal()
	var got Page
	got.ID = 0
	require.NoError(t, got.Unmarshal(buf, true))
	assert.EqualValues(t, MaxData, got.DataLen)
}
