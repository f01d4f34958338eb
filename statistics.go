package streamdb

import (
	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

// Statistics is the result of the statistics operation: total pages the
// medium currently holds, and how many of those are free.
type Statistics struct {
	TotalPages int
	FreePages  int
}

// Statistics reports page-level occupancy.
func (db *DB) Statistics() (Statistics, error) {
	total, err := db.store.Length()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "streamdb: medium length")
	}
	free, err := db.alloc.Count()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "streamdb: count free pages")
	}
	return Statistics{TotalPages: int(total), FreePages: free}, nil
}

// StatsDetail is the supplemented observability surface: everything in
// Statistics plus a breakdown of where free and in-flight pages
// currently sit. It is additive to the plain statistics result, not a
// replacement for it.
type StatsDetail struct {
	Statistics

	// CachedPages is how many pages are resident in the page store's LRU.
	CachedPages int

	// HotListPages is how many freed pages sit in the allocator's
	// in-memory LIFO list, not yet drained to the persistent chain.
	HotListPages int

	// FreeListChainPages is the number of structural free-list pages
	// themselves (distinct from FreePages, the slots they hold).
	FreeListChainPages int

	// QuarantinedRoots is how many of the three header-level roots
	// currently have a page sitting in their prior slot — released on
	// the very next rotation of that root, but not free yet.
	QuarantinedRoots int
}

// StatsDetail reports the supplemented per-component breakdown.
func (db *DB) StatsDetail() (StatsDetail, error) {
	base, err := db.Statistics()
	if err != nil {
		return StatsDetail{}, err
	}

	chainPages, err := db.alloc.ChainPageCount()
	if err != nil {
		return StatsDetail{}, errors.Wrap(err, "streamdb: count free-list chain pages")
	}

	quarantined := 0
	for _, hasPrior := range []bool{
		db.header.Indirection().Prior.Page != pagestore.NoPage,
		db.header.PathIndexLink().Prior.Page != pagestore.NoPage,
		db.header.FreeListLink().Prior.Page != pagestore.NoPage,
	} {
		if hasPrior {
			quarantined++
		}
	}

	return StatsDetail{
		Statistics:         base,
		CachedPages:        db.store.CacheLen(),
		HotListPages:       db.alloc.HotListLen(),
		FreeListChainPages: chainPages,
		QuarantinedRoots:   quarantined,
	}, nil
}
