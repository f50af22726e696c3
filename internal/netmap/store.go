package netmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"Strata/internal/storage"
)

var (
	// ErrNotFound is returned when no network map exists for an epoch.
	ErrNotFound = errors.New("netmap not found")

	// ErrStaleEpoch is returned when a map does not advance the epoch.
	ErrStaleEpoch = errors.New("netmap epoch is not newer than current")
)

var (
	epochPrefix = []byte("nm:")
	currentKey  = []byte("nm-current")
)

// Source provides network maps by relative or absolute epoch.
type Source interface {
	// GetNetMap returns the map diff epochs before the current one.
	GetNetMap(diff uint64) (*NetMap, error)

	// GetNetMapByEpoch returns the map of the given epoch.
	GetNetMapByEpoch(epoch uint64) (*NetMap, error)
}

// Store keeps the network map history in Pebble.
// Old epochs stay addressable; recently used ones are cached.
type Store struct {
	db      *storage.Storage
	mu      sync.RWMutex
	current *NetMap                           // current is the newest map, nil before the first Put
	cache   *ttlcache.Cache[uint64, *NetMap] // cache holds decoded historical maps
	subs    []func(*NetMap)                  // subs are notified after each Put
}

// NewStore opens the history kept in db and loads the current map.
func NewStore(db *storage.Storage, cacheTTL time.Duration) (*Store, error) {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	cache := ttlcache.New[uint64, *NetMap](
		ttlcache.WithTTL[uint64, *NetMap](cacheTTL),
		ttlcache.WithCapacity[uint64, *NetMap](64),
	)
	go cache.Start()

	s := &Store{db: db, cache: cache}

	raw, err := db.Get(currentKey)
	if err != nil {
		cache.Stop()
		return nil, fmt.Errorf("read current epoch:\n%w", err)
	}

	if raw != nil {
		nm, err := s.load(binary.BigEndian.Uint64(raw))
		if err != nil {
			cache.Stop()
			return nil, fmt.Errorf("load current netmap:\n%w", err)
		}
		s.current = nm
	}

	return s, nil
}

// Close stops the cache janitor.
func (s *Store) Close() {
	s.cache.Stop()
}

// Epoch returns the current epoch, 0 before the first map.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return 0
	}

	return s.current.Epoch
}

// Current returns the newest map or ErrNotFound.
func (s *Store) Current() (*NetMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, ErrNotFound
	}

	return s.current, nil
}

// OnNewEpoch registers fn to be called after every accepted map.
func (s *Store) OnNewEpoch(fn func(*NetMap)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, fn)
}

// Put records nm as the new current map. The epoch must increase.
func (s *Store) Put(nm *NetMap) error {
	s.mu.Lock()

	if s.current != nil && nm.Epoch <= s.current.Epoch {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d <= %d", ErrStaleEpoch, nm.Epoch, s.current.Epoch)
	}

	var epoch [8]byte
	binary.BigEndian.PutUint64(epoch[:], nm.Epoch)

	err := s.db.Apply([]storage.Mutation{
		{Key: epochKey(nm.Epoch), Value: nm.Marshal()},
		{Key: currentKey, Value: epoch[:]},
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist netmap %d:\n%w", nm.Epoch, err)
	}

	s.current = nm
	subs := append([]func(*NetMap){}, s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(nm)
	}

	return nil
}

// GetNetMap returns the map diff epochs before the current one.
func (s *Store) GetNetMap(diff uint64) (*NetMap, error) {
	cur := s.Epoch()
	if cur == 0 {
		return nil, ErrNotFound
	}

	if diff > cur {
		return nil, fmt.Errorf("%w: diff %d exceeds epoch %d", ErrNotFound, diff, cur)
	}

	return s.GetNetMapByEpoch(cur - diff)
}

// GetNetMapByEpoch returns the map of the given epoch.
func (s *Store) GetNetMapByEpoch(epoch uint64) (*NetMap, error) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if cur != nil && cur.Epoch == epoch {
		return cur, nil
	}

	if item := s.cache.Get(epoch); item != nil {
		return item.Value(), nil
	}

	nm, err := s.load(epoch)
	if err != nil {
		return nil, err
	}

	s.cache.Set(epoch, nm, ttlcache.DefaultTTL)

	return nm, nil
}

// load reads and decodes one epoch from the database.
func (s *Store) load(epoch uint64) (*NetMap, error) {
	raw, err := s.db.Get(epochKey(epoch))
	if err != nil {
		return nil, fmt.Errorf("read netmap %d:\n%w", epoch, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: epoch %d", ErrNotFound, epoch)
	}

	return Unmarshal(raw)
}

// Epochs lists the stored epochs in ascending order.
func (s *Store) Epochs() ([]uint64, error) {
	var out []uint64

	err := s.db.IteratePrefix(epochPrefix, func(key, _ []byte) error {
		out = append(out, binary.BigEndian.Uint64(key[len(epochPrefix):]))
		return nil
	})

	return out, err
}

func epochKey(epoch uint64) []byte {
	k := make([]byte, len(epochPrefix)+8)
	copy(k, epochPrefix)
	binary.BigEndian.PutUint64(k[len(epochPrefix):], epoch)

	return k
}
