package client

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/api"
	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/objectsvc"
	"Strata/internal/placement"
	"Strata/internal/storage"
)

// announcer stores maps without spreading them.
type announcer struct{ *netmap.Store }

func (a announcer) Announce(nm *netmap.NetMap) error { return a.Put(nm) }

type creator struct{ *container.Store }

func (c creator) Create(cnr *container.Container) (object.ContainerID, error) { return c.Put(cnr) }

type status struct {
	key string
	nm  *netmap.Store
}

func (s status) Status() api.Status {
	return api.Status{PublicKey: s.key, Epoch: s.nm.Epoch()}
}

// singleNode starts the API of a one node cluster and returns a client for it.
func singleNode(t *testing.T) *Client {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	maps, err := netmap.NewStore(db, 0)
	require.NoError(t, err)
	t.Cleanup(maps.Close)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	require.NoError(t, maps.Put(&netmap.NetMap{Epoch: 1, Nodes: []netmap.NodeInfo{{
		PublicKey: pub,
		Addresses: []string{"127.0.0.1:1"},
	}}}))

	local := localstore.New(db)
	containers := container.NewStore(db)

	svc := objectsvc.New(objectsvc.Config{}, objectsvc.Deps{
		LocalKey:   pub,
		Containers: containers,
		Placement:  placement.NewNetMapBuilder(maps),
		Local:      local,
		Epoch:      maps.Epoch,
	})

	srv := httptest.NewServer(api.New(":0", api.Deps{
		Objects:    svc,
		NetMaps:    announcer{maps},
		Containers: creator{containers},
		Local:      local,
		Status:     status{key: hex.EncodeToString(pub), nm: maps},
	}).Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(pub), c.NodeKey())

	return c
}

func TestClientObjectLifecycle(t *testing.T) {
	c := singleNode(t)
	owner := [32]byte{5}
	c.SetOwner(owner)

	require.NoError(t, c.Health())

	cid, err := c.CreateContainer("docs", "REP 1")
	require.NoError(t, err)

	cnr, err := c.Container(cid)
	require.NoError(t, err)
	assert.Equal(t, "docs", cnr.Name)
	assert.Equal(t, hex.EncodeToString(owner[:]), cnr.Owner)

	payload := bytes.Repeat([]byte("strata "), 500)
	addr, res, err := c.PutObject(cid, payload, api.Attribute{Key: "name", Value: "readme"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.NodeKey()}, res.Nodes)

	got, err := c.GetObject(addr)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	hdr, err := c.Head(addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), hdr.PayloadSize)
	assert.Equal(t, uint64(1), hdr.CreatedEpoch)

	ok, err := c.HasLocal(addr)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.DeleteObject(addr)
	require.NoError(t, err)

	_, err = c.GetObject(addr)
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestClientNotFound(t *testing.T) {
	c := singleNode(t)

	cid, err := c.CreateContainer("empty", "REP 1")
	require.NoError(t, err)

	_, err = c.GetObject(object.Address{Container: cid, Object: object.ID{1}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Container(object.ContainerID{9})
	assert.ErrorIs(t, err, ErrNotFound)

	var se *StatusError
	_, err = c.CreateContainer("bad", "REP")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.NotEmpty(t, se.Message)
}

func TestClientNetMap(t *testing.T) {
	c := singleNode(t)

	nm, err := c.NetMap()
	require.NoError(t, err)
	require.Len(t, nm.Nodes, 1)
	assert.Equal(t, uint64(1), nm.Epoch)

	nm.Epoch = 2
	nm.Nodes[0].Attributes = []api.Attribute{{Key: "Country", Value: "FR"}}
	require.NoError(t, c.AnnounceNetMap(*nm))

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Epoch)

	err = c.AnnounceNetMap(*nm)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 409, se.Code)
}

func TestClientLocalPagination(t *testing.T) {
	c := singleNode(t)

	cid, err := c.CreateContainer("many", "REP 1")
	require.NoError(t, err)

	var want []object.Address
	for i := range 5 {
		addr, _, err := c.PutObject(cid, []byte{byte(i)})
		require.NoError(t, err)
		want = append(want, addr)
	}

	got, err := c.LocalObjects(cid)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)

	require.NoError(t, c.DropLocal(want[0]))
	assert.ErrorIs(t, c.DropLocal(want[0]), ErrNotFound)

	_, err = c.GetObject(want[0])
	assert.ErrorIs(t, err, ErrNotFound)
}
