package localstore

import (
	"fmt"

	"Strata/internal/object"
	"Strata/internal/storage"
	"Strata/internal/types"
)

// Filter narrows Select results. Zero values match everything.
type Filter struct {
	Container *object.ContainerID // Container restricts results to one container
	Type      *object.Type        // Type restricts results to one object type
	After     *object.Address     // After resumes listing strictly after this address
	Limit     int                 // Limit caps the result size, 0 means no limit
}

// Select lists stored addresses in key order. Buried addresses are never
// returned since their records are gone.
func (s *Store) Select(f Filter) ([]object.Address, error) {
	prefix := objectPrefix
	if f.Container != nil {
		prefix = append(append([]byte{}, objectPrefix...), f.Container[:]...)
	}

	var after []byte
	if f.After != nil {
		after = key(objectPrefix, *f.After)
	}

	var out []object.Address

	err := s.db.IterateAfter(prefix, after, func(k, v []byte) error {
		if f.Limit > 0 && len(out) >= f.Limit {
			return storage.ErrStop
		}

		addr, err := object.AddressFromKey(k[len(objectPrefix):])
		if err != nil {
			return err
		}

		if f.Type != nil {
			t, err := recordType(v)
			if err != nil {
				return fmt.Errorf("decode %s:\n%w", addr, err)
			}
			if t != *f.Type {
				return nil
			}
		}

		out = append(out, addr)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select objects:\n%w", err)
	}

	return out, nil
}

// Count returns the number of stored objects.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.IteratePrefix(objectPrefix, func(_, _ []byte) error {
		n++
		return nil
	})

	return n, err
}

func recordType(raw []byte) (t object.Type, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed record", object.ErrInvalidObject)
		}
	}()

	h := types.GetRootAsObject(raw, 0).Header(nil)
	if h == nil {
		return 0, fmt.Errorf("%w: missing header", object.ErrInvalidObject)
	}

	return object.Type(h.ObjectType()), nil
}
