package netmap

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/storage"
)

func newTestStore(t *testing.T, path string) (*Store, *storage.Storage) {
	t.Helper()

	db, err := storage.New(path)
	require.NoError(t, err)

	s, err := NewStore(db, time.Minute)
	require.NoError(t, err)

	return s, db
}

func TestStoreHistory(t *testing.T) {
	s, db := newTestStore(t, filepath.Join(t.TempDir(), "db"))
	defer db.Close()
	defer s.Close()

	_, err := s.GetNetMap(0)
	require.ErrorIs(t, err, ErrNotFound)

	var notified []uint64
	s.OnNewEpoch(func(nm *NetMap) { notified = append(notified, nm.Epoch) })

	for epoch := uint64(1); epoch <= 3; epoch++ {
		nm := testNetMap(int(epoch)+1, nil)
		nm.Epoch = epoch
		require.NoError(t, s.Put(nm))
	}

	assert.Equal(t, []uint64{1, 2, 3}, notified)
	assert.Equal(t, uint64(3), s.Epoch())

	cur, err := s.GetNetMap(0)
	require.NoError(t, err)
	assert.Len(t, cur.Nodes, 4)

	prev, err := s.GetNetMap(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), prev.Epoch)
	assert.Len(t, prev.Nodes, 3)

	first, err := s.GetNetMapByEpoch(1)
	require.NoError(t, err)
	assert.Equal(t, cur.Nodes[0].PublicKey, first.Nodes[0].PublicKey)

	_, err = s.GetNetMap(5)
	assert.ErrorIs(t, err, ErrNotFound)

	epochs, err := s.Epochs()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, epochs)
}

func TestStoreRejectsStaleEpoch(t *testing.T) {
	s, db := newTestStore(t, filepath.Join(t.TempDir(), "db"))
	defer db.Close()
	defer s.Close()

	nm := testNetMap(2, nil)
	nm.Epoch = 5
	require.NoError(t, s.Put(nm))

	old := testNetMap(2, nil)
	old.Epoch = 5
	err := s.Put(old)
	assert.True(t, errors.Is(err, ErrStaleEpoch))
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, db := newTestStore(t, path)
	nm := testNetMap(3, func(int) string { return "DE" })
	nm.Epoch = 7
	require.NoError(t, s.Put(nm))
	s.Close()
	require.NoError(t, db.Close())

	s, db = newTestStore(t, path)
	defer db.Close()
	defer s.Close()

	assert.Equal(t, uint64(7), s.Epoch())

	cur, err := s.Current()
	require.NoError(t, err)
	require.Len(t, cur.Nodes, 3)
	c, ok := cur.Nodes[0].Attribute("Country")
	assert.True(t, ok)
	assert.Equal(t, "DE", c)
	assert.Equal(t, nm.Nodes[2].Addresses, cur.Nodes[2].Addresses)
}
