// Package xerrors holds the sentinel error taxonomy shared by every layer
// of the engine. Layers wrap these with
// github.com/pkg/errors to attach call-site context; callers compare with
// errors.Is / errors.Cause against the sentinels here.
package xerrors

import "github.com/pkg/errors"

var (
	// ErrCorruptPage is returned when a page's CRC does not match its
	// stored checksum.
	ErrCorruptPage = errors.New("streamdb: corrupt page")

	// ErrShortRead is returned when the medium returns fewer bytes than
	// requested for a page-aligned read.
	ErrShortRead = errors.New("streamdb: short read")

	// ErrOutOfRange is returned when a page id falls beyond the medium's
	// current length.
	ErrOutOfRange = errors.New("streamdb: page id out of range")

	// ErrCorruptChain is returned when walking a page chain finds a
	// prev/next/version inconsistency.
	ErrCorruptChain = errors.New("streamdb: corrupt chain")

	// ErrTornRotation names the case of a versioned link whose current
	// slot fails verification. That case is recovered by prior-slot
	// fallback, and no engine code path returns this error.
	ErrTornRotation = errors.New("streamdb: torn rotation")

	// ErrOutOfSpace is returned when the medium refuses to extend.
	ErrOutOfSpace = errors.New("streamdb: out of space")

	// ErrTooLarge is returned when a document exceeds the 256 MiB limit.
	ErrTooLarge = errors.New("streamdb: document too large")

	// ErrUnknownID is returned when an operation references a document id
	// that has no indirection-table entry.
	ErrUnknownID = errors.New("streamdb: unknown document id")

	// ErrBadMagic is returned at open time when the header magic does not
	// match.
	ErrBadMagic = errors.New("streamdb: bad magic")

	// ErrNotFound is returned when a document id has no live
	// indirection-table entry on read or delete by id. Path lookups
	// report a miss with a boolean instead of this error.
	ErrNotFound = errors.New("streamdb: not found")
)
