package container

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"Strata/internal/object"
	"Strata/internal/storage"
)

var containerPrefix = []byte("c:")

// Store persists containers in Pebble.
type Store struct {
	db *storage.Storage
}

// NewStore creates a store over db.
func NewStore(db *storage.Storage) *Store {
	return &Store{db: db}
}

// Put saves c and returns its ID. Saving an existing container is a no-op.
func (s *Store) Put(c *Container) (object.ContainerID, error) {
	if c.Policy == nil {
		return object.ContainerID{}, fmt.Errorf("%w: missing policy", ErrInvalid)
	}
	if err := c.Policy.Validate(); err != nil {
		return object.ContainerID{}, fmt.Errorf("%w:\n%w", ErrInvalid, err)
	}

	data := c.Marshal()
	id := c.ID()

	if err := s.db.Set(containerKey(id), data); err != nil {
		return id, fmt.Errorf("persist container %s:\n%w", id, err)
	}

	return id, nil
}

// PutRaw saves an encoded container received from a peer and returns its ID.
func (s *Store) PutRaw(data []byte) (object.ContainerID, error) {
	c, err := Unmarshal(data)
	if err != nil {
		return object.ContainerID{}, err
	}

	return s.Put(c)
}

// Get returns the container with the given ID.
func (s *Store) Get(id object.ContainerID) (*Container, error) {
	data, err := s.db.Get(containerKey(id))
	if err != nil {
		return nil, fmt.Errorf("read container %s:\n%w", id, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return Unmarshal(data)
}

// List returns the IDs of every stored container.
func (s *Store) List() ([]object.ContainerID, error) {
	var out []object.ContainerID

	err := s.db.IteratePrefix(containerPrefix, func(key, _ []byte) error {
		id, err := object.ContainerIDFromBytes(key[len(containerPrefix):])
		if err != nil {
			return err
		}
		out = append(out, id)
		return nil
	})

	return out, err
}

func containerKey(id object.ContainerID) []byte {
	return append(append([]byte{}, containerPrefix...), id[:]...)
}

// Cache memoizes lookups of an underlying Source for a fixed TTL.
// Misses are not cached so that newly announced containers become
// visible immediately.
type Cache struct {
	src   Source
	cache *ttlcache.Cache[object.ContainerID, *Container]
}

// NewCache wraps src with a TTL cache.
func NewCache(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	cache := ttlcache.New[object.ContainerID, *Container](
		ttlcache.WithTTL[object.ContainerID, *Container](ttl),
		ttlcache.WithDisableTouchOnHit[object.ContainerID, *Container](),
	)
	go cache.Start()

	return &Cache{src: src, cache: cache}
}

// Get returns the container from cache or the underlying source.
func (c *Cache) Get(id object.ContainerID) (*Container, error) {
	if item := c.cache.Get(id); item != nil {
		return item.Value(), nil
	}

	cnr, err := c.src.Get(id)
	if err != nil {
		return nil, err
	}

	c.cache.Set(id, cnr, ttlcache.DefaultTTL)

	return cnr, nil
}

// Invalidate drops a cached entry.
func (c *Cache) Invalidate(id object.ContainerID) {
	c.cache.Delete(id)
}

// Close stops the cache janitor.
func (c *Cache) Close() {
	c.cache.Stop()
}
