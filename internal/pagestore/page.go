// Package pagestore implements the fixed-size page format and the
// page-addressable store that sits directly on top of the backing medium.
package pagestore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/xerrors"
)

// Size is the fixed on-disk record size. Every page id p occupies the byte
// range [p*Size, (p+1)*Size) of the backing medium.
const Size = 4096

// headerSize is CRC(4) + Version(4) + Prev(4) + Next(4) + Flags(1) + DataLen(4).
const headerSize = 21

// reservedSize pads the header out so that header+reserved+payload == Size.
const reservedSize = 14

// MaxData is the largest number of payload bytes a single page can hold.
const MaxData = Size - headerSize - reservedSize // 4061

// ID identifies a page by its offset into the medium divided by Size.
// Ids are non-negative; -1 is the sentinel for "no page".
type ID int32

// NoPage is the sentinel previous/next id meaning "none".
const NoPage ID = -1

// Flag is a bitset carried in Page.Flags. Bits are assigned the way
// sidb's page.go assigns PageFlag bits, generalized to StreamDb's needs.
type Flag uint8

const (
	FlagData Flag = 1 << iota
	FlagFree
	FlagFull
	FlagFirst
	FlagMiddle
	FlagLast
)

// Page is the in-memory representation of one 4096-byte record.
type Page struct {
	ID       ID
	CRC      uint32
	Version  int32
	Prev     ID
	Next     ID
	Flags    Flag
	DataLen  int32
	Data     [MaxData]byte
}

// NewPage returns a zeroed page for id, with Prev/Next set to NoPage.
func NewPage(id ID) *Page {
	return &Page{ID: id, Prev: NoPage, Next: NoPage}
}

// Marshal serializes the page into a Size-byte buffer, recomputing the CRC.
func (p *Page) Marshal() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Version))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Prev))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(p.Next))
	buf[16] = byte(p.Flags)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(p.DataLen))
	// bytes [21:35) are reserved and stay zero.
	n := int(p.DataLen)
	if n > MaxData {
		n = MaxData
	}
	copy(buf[headerSize+reservedSize:], p.Data[:n])

	crc := crc32.ChecksumIEEE(buf[4:Size])
	binary.LittleEndian.PutUint32(buf[0:4], crc)
	p.CRC = crc
	return buf
}

// Unmarshal parses a Size-byte buffer into the page. If verify is true the
// CRC is checked and ErrCorruptPage is returned on mismatch.
func (p *Page) Unmarshal(buf []byte, verify bool) error {
	if len(buf) != Size {
		return errors.Errorf("pagestore: short buffer: want %d got %d", Size, len(buf))
	}
	storedCRC := binary.LittleEndian.Uint32(buf[0:4])
	if verify {
		computed := crc32.ChecksumIEEE(buf[4:Size])
		if computed != storedCRC {
			return errors.Wrapf(xerrors.ErrCorruptPage, "page %d: crc mismatch (stored=%08x computed=%08x)", p.ID, storedCRC, computed)
		}
	}
	p.CRC = storedCRC
	p.Version = int32(binary.LittleEndian.Uint32(buf[4:8]))
	p.Prev = ID(int32(binary.LittleEndian.Uint32(buf[8:12])))
	p.Next = ID(int32(binary.LittleEndian.Uint32(buf[12:16])))
	p.Flags = Flag(buf[16])
	p.DataLen = int32(binary.LittleEndian.Uint32(buf[17:21]))
	if p.DataLen < 0 || int(p.DataLen) > MaxData {
		return errors.Wrapf(xerrors.ErrCorruptPage, "page %d: data length %d out of range", p.ID, p.DataLen)
	}
	copy(p.Data[:], buf[headerSize+reservedSize:])
	return nil
}

// Has reports whether all bits in f are set.
func (p *Page) Has(f Flag) bool { return p.Flags&f == f }

// Set returns the flags with f set.
func Set(flags, f Flag) Flag { return flags | f }

// Clear returns the flags with f cleared.
func Clear(flags, f Flag) Flag { return flags &^ f }
