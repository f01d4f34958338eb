package streamdb

import (
	"github.com/pkg/errors"

	"github.com/ALH477/StreamDb/internal/idgen"
	"github.com/ALH477/StreamDb/internal/xerrors"
)

// DocumentID is the public alias for the 128-bit identifier documents
// are addressed by.
type DocumentID = idgen.ID

// WriteDocument stores data under path. If path is already bound, the
// document it names gets data as its new content (a new chain) and keeps
// its id; otherwise data is stored under a freshly generated id and path
// is bound to it.
func (db *DB) WriteDocument(path string, data []byte) (DocumentID, error) {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()

	if id, ok := db.paths.Lookup(path); ok {
		if err := db.docs.Overwrite(id, data); err != nil {
			return idgen.Zero, errors.Wrap(err, "streamdb: overwrite document")
		}
		return id, nil
	}

	id, err := db.docs.Write(data)
	if err != nil {
		return idgen.Zero, errors.Wrap(err, "streamdb: write document")
	}
	if err := db.paths.Bind(path, id); err != nil {
		return idgen.Zero, errors.Wrap(err, "streamdb: bind path")
	}
	return id, nil
}

// Get resolves path to a document and returns its current content. The
// second return value is false if path is not bound to anything.
func (db *DB) Get(path string) ([]byte, bool, error) {
	id, ok := db.paths.Lookup(path)
	if !ok {
		return nil, false, nil
	}
	data, err := db.docs.Read(id)
	if err != nil {
		return nil, true, errors.Wrap(err, "streamdb: read document")
	}
	return data, true, nil
}

// GetByID returns the content of id directly, bypassing path lookup.
func (db *DB) GetByID(id DocumentID) ([]byte, error) {
	return db.docs.Read(id)
}

// GetIDByPath resolves path to a document id.
func (db *DB) GetIDByPath(path string) (DocumentID, bool) {
	return db.paths.Lookup(path)
}

// OverwriteByID replaces the content of an existing document, identified
// directly by id rather than by path.
func (db *DB) OverwriteByID(id DocumentID, data []byte) error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()
	return db.docs.Overwrite(id, data)
}

// DeleteByPath deletes the document bound to path, unbinding every path
// pointing at it. Deleting an unbound path is a silent no-op.
func (db *DB) DeleteByPath(path string) error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()

	id, ok := db.paths.Lookup(path)
	if !ok {
		return nil
	}
	return db.deleteIDLocked(id)
}

// DeleteByID deletes a document and unbinds every path pointing at it.
func (db *DB) DeleteByID(id DocumentID) error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()
	return db.deleteIDLocked(id)
}

func (db *DB) deleteIDLocked(id DocumentID) error {
	for _, p := range db.paths.ListFor(id) {
		if err := db.paths.Unbind(p); err != nil {
			return errors.Wrap(err, "streamdb: unbind path during delete")
		}
	}
	if err := db.docs.Delete(id); err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "streamdb: delete document")
	}
	return nil
}

// BindToPath binds an additional path to an existing document id,
// replacing whatever that path previously resolved to.
func (db *DB) BindToPath(id DocumentID, path string) error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()

	if !db.docs.Exists(id) {
		return errors.Wrapf(ErrUnknownID, "document %s", id)
	}
	return db.paths.Bind(path, id)
}

// UnbindPath removes path's binding without touching the document it
// named. Unbinding an absent path is silent.
func (db *DB) UnbindPath(path string) error {
	db.pathLock.Lock()
	defer db.pathLock.Unlock()
	return db.paths.Unbind(path)
}

// Search enumerates every bound path beginning with prefix.
func (db *DB) Search(prefix string) *PathIterator {
	return newPathIterator(db.paths.Search(prefix))
}

// ListPaths enumerates every path currently bound to id.
func (db *DB) ListPaths(id DocumentID) (*PathIterator, error) {
	if !db.docs.Exists(id) {
		return nil, errors.Wrapf(ErrUnknownID, "document %s", id)
	}
	return newPathIterator(db.paths.ListFor(id)), nil
}

// Flush forces any buffered writes to durable storage.
func (db *DB) Flush() error {
	return db.store.Flush()
}
