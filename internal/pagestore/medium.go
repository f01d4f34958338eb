package pagestore

// Medium is the random-access byte collaborator the engine is built on.
// It is the only way the engine touches storage; offsets are
// always page-aligned (a multiple of Size) for reads and writes issued by
// this package, though implementations are not required to assume that.
type Medium interface {
	// ReadAt reads len(b) bytes starting at off. It returns the number of
	// bytes actually read and an error if fewer than len(b) bytes were
	// available.
	ReadAt(b []byte, off int64) (n int, err error)

	// WriteAt writes b at off.
	WriteAt(b []byte, off int64) (n int, err error)

	// Flush forces any buffered writes to durable storage.
	Flush() error

	// Length returns the current size of the medium in bytes.
	Length() (int64, error)

	// Extend grows the medium to at least n bytes, zero-filling the new
	// region. It returns an error if the medium refuses; Store.Extend
	// reports any such error wrapped together with ErrOutOfSpace.
	Extend(n int64) error
}
