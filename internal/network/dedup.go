package network

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/zeebo/blake3"
)

// defaultDedupTTL is how long a broadcast hash is remembered.
const defaultDedupTTL = 30 * time.Second

// Dedup remembers recently seen broadcast payloads by blake3 hash.
type Dedup struct {
	seen *ttlcache.Cache[[32]byte, struct{}]
}

// NewDedup creates a tracker. A zero ttl uses the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	seen := ttlcache.New[[32]byte, struct{}](
		ttlcache.WithTTL[[32]byte, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[[32]byte, struct{}](),
	)
	go seen.Start()

	return &Dedup{seen: seen}
}

// Check reports whether data is new and records it.
func (d *Dedup) Check(data []byte) bool {
	_, found := d.seen.GetOrSet(blake3.Sum256(data), struct{}{})
	return !found
}

// Close stops the expiration loop.
func (d *Dedup) Close() {
	d.seen.Stop()
}
