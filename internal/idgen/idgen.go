// Package idgen generates the 128-bit stable unique ids documents are
// identified by. Generation is clock-free: ids are random, never derived
// from wall-clock time, so two ids minted in the same instant on
// different machines still never collide in practice.
package idgen

import "github.com/google/uuid"

// ID is a 128-bit document identifier.
type ID [16]byte

// Zero is the all-zero id, used as a "no id" sentinel internally; it is
// never handed out by New.
var Zero ID

// New mints a fresh random (version 4) id.
func New() ID {
	u := uuid.New()
	var id ID
	copy(id[:], u[:])
	return id
}

// String renders the id in canonical UUID form for logging.
func (id ID) String() string {
	u, _ := uuid.FromBytes(id[:])
	return u.String()
}

// Parse decodes a canonical UUID string back into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	var id ID
	copy(id[:], u[:])
	return id, nil
}

// IsZero reports whether id is the all-zero sentinel.
func (id ID) IsZero() bool { return id == Zero }
