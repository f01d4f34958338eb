package pagestore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ALH477/StreamDb/internal/xerrors"
)

// quickMode is the process-wide CRC-verification-skip switch: a single
// atomically-read flag owned conceptually by the façade, not threaded
// through every call. SetQuickMode/QuickMode are the only access points.
var quickMode atomic.Bool

// SetQuickMode enables or disables CRC verification on reads for the
// whole process. Writes always recompute and store a CRC regardless of
// this setting.
func SetQuickMode(on bool) { quickMode.Store(on) }

// QuickMode reports the current process-wide quick-mode setting.
func QuickMode() bool { return quickMode.Load() }

// Store translates page ids to fixed-size records on a Medium, through a
// bounded LRU cache. It owns CRC verification and header parsing; it does
// not know about page chains, documents, or paths.
type Store struct {
	mu     sync.RWMutex
	medium Medium
	cache  *cache
}

// New wraps medium with a page store backed by an LRU cache of the given
// size (in pages).
func New(medium Medium, cacheSize int) *Store {
	return &Store{medium: medium, cache: newCache(cacheSize)}
}

// Read loads page id, parsing its header and verifying the CRC when verify
// is true and quick mode is off. Quick mode disables verification for
// every caller; no caller can force a check while it is on.
func (s *Store) Read(id ID, verify bool) (*Page, error) {
	if id < 0 {
		return nil, errors.Wrapf(xerrors.ErrOutOfRange, "page %d", id)
	}

	s.mu.RLock()
	if p, ok := s.cache.get(id); ok {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	length, err := s.medium.Length()
	if err != nil {
		return nil, errors.Wrap(err, "pagestore: medium length")
	}
	off := int64(id) * Size
	if off+Size > length {
		return nil, errors.Wrapf(xerrors.ErrOutOfRange, "page %d beyond medium length %d", id, length)
	}

	buf := make([]byte, Size)
	n, err := s.medium.ReadAt(buf, off)
	if err != nil {
		return nil, errors.Wrapf(err, "pagestore: read page %d", id)
	}
	if n != Size {
		return nil, errors.Wrapf(xerrors.ErrShortRead, "page %d: read %d of %d bytes", id, n, Size)
	}

	effectiveVerify := verify && !QuickMode()
	p := &Page{ID: id}
	if err := p.Unmarshal(buf, effectiveVerify); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.put(p)
	s.mu.Unlock()
	return p, nil
}

// Write recomputes the page's CRC and writes it to the medium, updating
// the cache first so that a subsequent Read (even before Flush) observes
// the new value.
func (s *Store) Write(p *Page) error {
	buf := p.Marshal()

	s.mu.Lock()
	s.cache.put(p)
	s.mu.Unlock()

	off := int64(p.ID) * Size
	n, err := s.medium.WriteAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "pagestore: write page %d", p.ID)
	}
	if n != Size {
		return errors.Wrapf(xerrors.ErrShortRead, "page %d: wrote %d of %d bytes", p.ID, n, Size)
	}
	return nil
}

// Flush forces all pending writes to durable storage.
func (s *Store) Flush() error {
	if err := s.medium.Flush(); err != nil {
		return errors.Wrap(err, "pagestore: flush")
	}
	return nil
}

// Length returns the number of whole pages currently backed by the medium.
func (s *Store) Length() (ID, error) {
	n, err := s.medium.Length()
	if err != nil {
		return 0, errors.Wrap(err, "pagestore: medium length")
	}
	return ID(n / Size), nil
}

// Extend grows the medium by one page and returns the new page's id.
func (s *Store) Extend() (ID, error) {
	length, err := s.Length()
	if err != nil {
		return 0, err
	}
	if err := s.medium.Extend(int64(length+1) * Size); err != nil {
		return 0, fmt.Errorf("pagestore: extend medium to page %d: %w: %w", length, xerrors.ErrOutOfSpace, err)
	}
	log.WithField("page", length).Debug("pagestore: extended medium by one page")
	return length, nil
}

// Invalidate drops id from the cache without touching the medium. Used
// when a page is freed and its old contents must not be served stale.
func (s *Store) Invalidate(id ID) {
	s.mu.Lock()
	s.cache.remove(id)
	s.mu.Unlock()
}

// CacheLen reports the number of pages currently resident in the cache.
func (s *Store) CacheLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.len()
}
