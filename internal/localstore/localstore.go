package localstore

import (
	"errors"
	"fmt"
	"sync"

	"Strata/internal/object"
	"Strata/internal/storage"
	"Strata/internal/types"
)

var (
	// ErrNotFound is returned when the object is not stored locally.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadyRemoved is returned for addresses covered by a tombstone.
	ErrAlreadyRemoved = errors.New("object already removed")
)

var (
	objectPrefix    = []byte("o:")
	graveyardPrefix = []byte("g:")
)

// Store keeps objects of the local node in Pebble. Payloads above
// object.CompressThreshold are stored zstd-compressed. Addresses removed
// by a tombstone move to a graveyard and can no longer be stored.
type Store struct {
	db *storage.Storage
	mu sync.Mutex // mu serializes writes that check the graveyard
}

// New creates a store over db.
func New(db *storage.Storage) *Store {
	return &Store{db: db}
}

// Put validates and stores obj. Storing a tombstone also removes its
// targets and buries their addresses.
func (s *Store) Put(obj *object.Object) error {
	if err := obj.Validate(); err != nil {
		return err
	}

	addr := obj.Address()

	var targets []object.Address
	if obj.Header.Type == object.TypeTombstone {
		var err error
		if targets, err = object.TombstoneTargets(obj); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buried, err := s.db.Has(key(graveyardPrefix, addr))
	if err != nil {
		return fmt.Errorf("check graveyard:\n%w", err)
	}
	if buried {
		return fmt.Errorf("%w: %s", ErrAlreadyRemoved, addr)
	}

	muts := []storage.Mutation{{Key: key(objectPrefix, addr), Value: object.Marshal(obj, true)}}

	for _, t := range targets {
		muts = append(muts,
			storage.Mutation{Key: key(objectPrefix, t)},
			storage.Mutation{Key: key(graveyardPrefix, t), Value: addr.Key()},
		)
	}

	if err := s.db.Apply(muts); err != nil {
		return fmt.Errorf("store object %s:\n%w", addr, err)
	}

	return nil
}

// Get returns the full object.
func (s *Store) Get(addr object.Address) (*object.Object, error) {
	raw, err := s.raw(addr)
	if err != nil {
		return nil, err
	}

	return object.Unmarshal(raw)
}

// Head returns the object header without decoding the payload.
func (s *Store) Head(addr object.Address) (h *object.Header, err error) {
	raw, err := s.raw(addr)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: malformed record %s", object.ErrInvalidObject, addr)
		}
	}()

	t := types.GetRootAsObject(raw, 0).Header(nil)
	if t == nil {
		return nil, fmt.Errorf("%w: record %s has no header", object.ErrInvalidObject, addr)
	}

	return object.HeaderFromTable(t)
}

// Exists reports whether the object is stored locally.
func (s *Store) Exists(addr object.Address) (bool, error) {
	return s.db.Has(key(objectPrefix, addr))
}

// IsRemoved reports whether addr is covered by a tombstone.
func (s *Store) IsRemoved(addr object.Address) (bool, error) {
	return s.db.Has(key(graveyardPrefix, addr))
}

// Delete drops the local copy of addr. The address is not buried, so the
// object can be stored again later.
func (s *Store) Delete(addr object.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(key(objectPrefix, addr))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	return s.db.Delete(key(objectPrefix, addr))
}

// raw reads the stored record, checking the graveyard on a miss.
func (s *Store) raw(addr object.Address) ([]byte, error) {
	raw, err := s.db.Get(key(objectPrefix, addr))
	if err != nil {
		return nil, fmt.Errorf("read object %s:\n%w", addr, err)
	}
	if raw != nil {
		return raw, nil
	}

	buried, err := s.db.Has(key(graveyardPrefix, addr))
	if err != nil {
		return nil, fmt.Errorf("check graveyard:\n%w", err)
	}
	if buried {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRemoved, addr)
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

func key(prefix []byte, addr object.Address) []byte {
	k := make([]byte, 0, len(prefix)+2*object.IDSize)
	k = append(k, prefix...)
	k = append(k, addr.Container[:]...)
	k = append(k, addr.Object[:]...)

	return k
}
