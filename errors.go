package streamdb

import "github.com/ALH477/StreamDb/internal/xerrors"

// Sentinel errors returned by the public API. Wrapped errors from lower
// layers satisfy errors.Is against these via github.com/pkg/errors.
var (
	ErrCorruptPage  = xerrors.ErrCorruptPage
	ErrShortRead    = xerrors.ErrShortRead
	ErrOutOfRange   = xerrors.ErrOutOfRange
	ErrCorruptChain = xerrors.ErrCorruptChain
	ErrTornRotation = xerrors.ErrTornRotation
	ErrOutOfSpace   = xerrors.ErrOutOfSpace
	ErrTooLarge     = xerrors.ErrTooLarge
	ErrUnknownID    = xerrors.ErrUnknownID
	ErrBadMagic     = xerrors.ErrBadMagic
	ErrNotFound     = xerrors.ErrNotFound
)
