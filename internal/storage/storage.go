package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the default block cache size in bytes.
	defaultCacheSize = 32 << 20
)

// ErrStop can be returned by an iteration callback to end the scan early.
// The iteration functions swallow it and return nil.
var ErrStop = errors.New("stop iteration")

// Mutation is a single write inside an atomic batch.
// A nil Value deletes the key.
type Mutation struct {
	Key   []byte // Key is the key to write
	Value []byte // Value is the new value, nil for delete
}

// Options tunes the underlying Pebble instance.
type Options struct {
	CacheSize    int64         // CacheSize is the block cache size in bytes
	SyncInterval time.Duration // SyncInterval is the period between WAL syncs
}

func (o Options) withDefaults() Options {
	if o.CacheSize <= 0 {
		o.CacheSize = defaultCacheSize
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = defaultSyncInterval
	}

	return o
}

// Storage is a key-value store backed by Pebble.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	interval time.Duration // interval is the WAL sync period
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// New opens a Storage at path with default options.
func New(path string) (*Storage, error) {
	return Open(path, Options{})
}

// Open opens a Storage at path and starts the WAL sync loop.
func Open(path string, o Options) (*Storage, error) {
	o = o.withDefaults()

	cache := pebble.NewCache(o.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{
		db:       db,
		interval: o.SyncInterval,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Get returns a copy of the value stored under key.
// A missing key yields (nil, nil).
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)

	return out, nil
}

// Has reports whether key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes a key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// Apply commits every mutation atomically.
func (s *Storage) Apply(muts []Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, m := range muts {
		var err error
		if m.Value == nil {
			err = batch.Delete(m.Key, nil)
		} else {
			err = batch.Set(m.Key, m.Value, nil)
		}
		if err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

// IteratePrefix calls fn for each pair whose key starts with prefix, in key order.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.scan(prefix, prefixUpperBound(prefix), nil, fn)
}

// IterateAfter is IteratePrefix restricted to keys strictly greater than after.
// A nil after starts at the beginning of the prefix.
func (s *Storage) IterateAfter(prefix, after []byte, fn func(key, value []byte) error) error {
	return s.scan(prefix, prefixUpperBound(prefix), after, fn)
}

// scan walks [lower, upper) skipping keys <= after.
func (s *Storage) scan(lower, upper, after []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	var ok bool
	if after != nil {
		ok = iter.SeekGE(after)
		if ok && string(iter.Key()) == string(after) {
			ok = iter.Next()
		}
	} else {
		ok = iter.First()
	}

	for ; ok; ok = iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Returns nil when the prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync loop, flushes the WAL and closes the database.
func (s *Storage) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
