package streamdb

import "time"

// Options configures Open. The zero value is usable: it selects the
// defaults below.
type Options struct {
	// ReadOnly rejects any write against the opened database. With
	// OpenFile it also takes a shared rather than exclusive advisory
	// file lock.
	ReadOnly bool

	// Timeout bounds how long OpenFile waits for the advisory file
	// lock. Zero waits indefinitely. Unused by Open, which takes an
	// already-constructed medium with no lock of its own to wait on.
	Timeout time.Duration

	// CacheSize is the number of pages the page store's LRU cache holds
	// in memory. <= 0 selects DefaultCacheSize.
	CacheSize int

	// FreeListHotListLimit is the number of freed pages the allocator
	// keeps in memory before draining into the persistent free-list
	// chain. <= 0 selects alloc.DefaultHotListLimit.
	FreeListHotListLimit int

	// QuickMode, when true, skips CRC verification on reads. It trades
	// the corruption-detection invariant for throughput and is meant for
	// bulk-load or already-trusted-medium scenarios.
	QuickMode bool
}

// DefaultCacheSize is used when Options.CacheSize is <= 0.
const DefaultCacheSize = 4096

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	return o
}
