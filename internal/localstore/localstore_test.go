package localstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/object"
	"Strata/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

var (
	cnrA  = object.ContainerID{0xaa}
	cnrB  = object.ContainerID{0xbb}
	owner = [32]byte{1}
)

func TestPutGetHead(t *testing.T) {
	s := newTestStore(t)

	obj := object.New(cnrA, owner, []byte("hello"), 1, object.Attribute{Key: "name", Value: "greeting"})
	require.NoError(t, s.Put(obj))

	got, err := s.Get(obj.Address())
	require.NoError(t, err)
	assert.Equal(t, obj.Payload, got.Payload)
	assert.Equal(t, obj.Header, got.Header)

	h, err := s.Head(obj.Address())
	require.NoError(t, err)
	assert.Equal(t, obj.Header, *h)

	ok, err := s.Exists(obj.Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutCompressesLargePayloads(t *testing.T) {
	s := newTestStore(t)

	payload := bytes.Repeat([]byte("abcdefgh"), 4096)
	obj := object.New(cnrA, owner, payload, 1)
	require.NoError(t, s.Put(obj))

	raw, err := s.db.Get(key(objectPrefix, obj.Address()))
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload)/2)

	got, err := s.Get(obj.Address())
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}

func TestPutRejectsTamperedObject(t *testing.T) {
	s := newTestStore(t)

	obj := object.New(cnrA, owner, []byte("data"), 1)
	obj.Payload = []byte("evil")

	assert.ErrorIs(t, s.Put(obj), object.ErrInvalidObject)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(object.Address{Container: cnrA, Object: object.ID{1}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Head(object.Address{Container: cnrA, Object: object.ID{1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTombstoneBuriesTargets(t *testing.T) {
	s := newTestStore(t)

	obj := object.New(cnrA, owner, []byte("doomed"), 1)
	require.NoError(t, s.Put(obj))

	ts := object.NewTombstone(cnrA, owner, 2, obj.Header.ID)
	require.NoError(t, s.Put(ts))

	_, err := s.Get(obj.Address())
	assert.ErrorIs(t, err, ErrAlreadyRemoved)

	removed, err := s.IsRemoved(obj.Address())
	require.NoError(t, err)
	assert.True(t, removed)

	// the object cannot come back through replication
	assert.ErrorIs(t, s.Put(obj), ErrAlreadyRemoved)

	// the tombstone itself is a regular stored object
	addrs, err := s.Select(Filter{})
	require.NoError(t, err)
	assert.Equal(t, []object.Address{ts.Address()}, addrs)
}

func TestDeleteDropsLocalCopyOnly(t *testing.T) {
	s := newTestStore(t)

	obj := object.New(cnrA, owner, []byte("x"), 1)
	require.NoError(t, s.Put(obj))
	require.NoError(t, s.Delete(obj.Address()))

	_, err := s.Get(obj.Address())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(obj.Address()), ErrNotFound)

	require.NoError(t, s.Put(obj))
}

func TestSelectFilters(t *testing.T) {
	s := newTestStore(t)

	var inA []object.Address
	for i := 0; i < 5; i++ {
		obj := object.New(cnrA, owner, []byte{byte(i)}, 1)
		require.NoError(t, s.Put(obj))
		inA = append(inA, obj.Address())
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(object.New(cnrB, owner, []byte{byte(i)}, 1)))
	}
	ts := object.NewTombstone(cnrB, owner, 1)
	require.NoError(t, s.Put(ts))

	all, err := s.Select(Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 9)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	c := cnrA
	onlyA, err := s.Select(Filter{Container: &c})
	require.NoError(t, err)
	assert.ElementsMatch(t, inA, onlyA)

	tt := object.TypeTombstone
	tombs, err := s.Select(Filter{Type: &tt})
	require.NoError(t, err)
	assert.Equal(t, []object.Address{ts.Address()}, tombs)

	page1, err := s.Select(Filter{Limit: 4})
	require.NoError(t, err)
	require.Len(t, page1, 4)
	assert.Equal(t, all[:4], page1)

	page2, err := s.Select(Filter{Limit: 4, After: &page1[3]})
	require.NoError(t, err)
	assert.Equal(t, all[4:8], page2)

	page3, err := s.Select(Filter{Limit: 4, After: &page2[3]})
	require.NoError(t, err)
	assert.Equal(t, all[8:], page3)
}
