package objectsvc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/attest"
	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/placement"
	"Strata/internal/storage"
	"Strata/internal/transport"
)

var owner = [32]byte{5}

type memContainers map[object.ContainerID]*container.Container

func (m memContainers) Get(id object.ContainerID) (*container.Container, error) {
	c, ok := m[id]
	if !ok {
		return nil, container.ErrNotFound
	}
	return c, nil
}

type fixedBuilder struct {
	vectors [][]netmap.NodeInfo
}

func (b fixedBuilder) BuildPlacement(object.Address, *netmap.PlacementPolicy) ([][]netmap.NodeInfo, error) {
	out := make([][]netmap.NodeInfo, len(b.vectors))
	for i, v := range b.vectors {
		out[i] = append([]netmap.NodeInfo(nil), v...)
	}
	return out, nil
}

// cluster simulates remote nodes with in-memory stores and BLS keys.
type cluster struct {
	mu      sync.Mutex
	objects map[string]map[object.Address]*object.Object
	removed map[string]map[object.Address]bool
	keys    map[string]*attest.KeyPair
	failing map[string]bool
}

func newCluster() *cluster {
	return &cluster{
		objects: make(map[string]map[object.Address]*object.Object),
		removed: make(map[string]map[object.Address]bool),
		keys:    make(map[string]*attest.KeyPair),
		failing: make(map[string]bool),
	}
}

func (c *cluster) node(t *testing.T, name string) netmap.NodeInfo {
	t.Helper()

	key, err := attest.GenerateKey()
	require.NoError(t, err)

	addr := name + ":7000"
	c.keys[addr] = key
	c.objects[addr] = make(map[object.Address]*object.Object)
	c.removed[addr] = make(map[object.Address]bool)

	return netmap.NodeInfo{PublicKey: []byte("key-" + name), Addresses: []string{addr}, BLSKey: key.PublicKey()}
}

func (c *cluster) holds(n netmap.NodeInfo, addr object.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objects[n.Address()][addr] != nil
}

func (c *cluster) buried(n netmap.NodeInfo, addr object.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed[n.Address()][addr]
}

func (c *cluster) PutObject(_ context.Context, n netmap.NodeInfo, obj *object.Object) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failing[n.Address()] {
		return nil, errors.New("connection reset")
	}
	c.objects[n.Address()][obj.Address()] = obj

	if obj.Header.Type == object.TypeTombstone {
		targets, err := object.TombstoneTargets(obj)
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			delete(c.objects[n.Address()], target)
			c.removed[n.Address()][target] = true
		}
	}

	return c.keys[n.Address()].Attest(obj.Address(), obj.Header.PayloadHash), nil
}

func (c *cluster) GetObject(_ context.Context, n netmap.NodeInfo, addr object.Address) (*object.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failing[n.Address()] {
		return nil, errors.New("connection reset")
	}
	if c.removed[n.Address()][addr] {
		return nil, transport.ErrRemoved
	}
	obj := c.objects[n.Address()][addr]
	if obj == nil {
		return nil, transport.ErrNotFound
	}
	return obj, nil
}

func (c *cluster) GetObjectHeader(ctx context.Context, n netmap.NodeInfo, addr object.Address) (*object.Header, error) {
	obj, err := c.GetObject(ctx, n, addr)
	if err != nil {
		return nil, err
	}
	return &obj.Header, nil
}

type env struct {
	svc     *Service
	local   *localstore.Store
	cluster *cluster
	nodes   []netmap.NodeInfo // nodes are A (local), B, C, D
	cnr     object.ContainerID
}

func newEnv(t *testing.T, policyText string) *env {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	policy, err := netmap.ParsePolicy(policyText)
	require.NoError(t, err)
	cnr := container.New(owner, "objects", policy, 1)

	cl := newCluster()
	nodes := []netmap.NodeInfo{cl.node(t, "A"), cl.node(t, "B"), cl.node(t, "C"), cl.node(t, "D")}
	local := localstore.New(db)

	svc := New(Config{}, Deps{
		LocalKey:   nodes[0].PublicKey,
		AttestKey:  cl.keys[nodes[0].Address()],
		Containers: memContainers{cnr.ID(): cnr},
		Placement:  fixedBuilder{vectors: [][]netmap.NodeInfo{nodes}},
		Local:      local,
		Remote:     cl,
		Epoch:      func() uint64 { return 3 },
	})

	return &env{svc: svc, local: local, cluster: cl, nodes: nodes, cnr: cnr.ID()}
}

func TestPutPlacesRequiredCopies(t *testing.T) {
	e := newEnv(t, "REP 2")
	obj := object.New(e.cnr, owner, []byte("hello"), 1)

	res, err := e.svc.Put(context.Background(), obj)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)

	_, err = e.local.Get(obj.Address())
	require.NoError(t, err)
	assert.True(t, e.cluster.holds(e.nodes[1], obj.Address()))
	assert.False(t, e.cluster.holds(e.nodes[2], obj.Address()))

	require.Len(t, res.Signers, 2)
	require.NoError(t, attest.VerifyAggregate(res.Attestation, res.Signers, obj.Address(), obj.Header.PayloadHash))
}

func TestPutReplacesFailedNodes(t *testing.T) {
	e := newEnv(t, "REP 2")
	e.cluster.failing[e.nodes[1].Address()] = true
	obj := object.New(e.cnr, owner, []byte("hello"), 1)

	res, err := e.svc.Put(context.Background(), obj)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)
	assert.True(t, e.cluster.holds(e.nodes[2], obj.Address()))
}

func TestPutIncompletePlacement(t *testing.T) {
	e := newEnv(t, "REP 3")
	e.cluster.failing[e.nodes[1].Address()] = true
	e.cluster.failing[e.nodes[2].Address()] = true
	obj := object.New(e.cnr, owner, []byte("hello"), 1)

	_, err := e.svc.Put(context.Background(), obj)
	assert.ErrorIs(t, err, ErrIncompletePlacement)
}

func TestPutUnknownContainer(t *testing.T) {
	e := newEnv(t, "REP 1")
	obj := object.New(object.ContainerID{0xff}, owner, []byte("hello"), 1)

	_, err := e.svc.Put(context.Background(), obj)
	assert.ErrorIs(t, err, container.ErrNotFound)
}

func TestGetLocalThenRemote(t *testing.T) {
	e := newEnv(t, "REP 2")

	local := object.New(e.cnr, owner, []byte("local"), 1)
	require.NoError(t, e.local.Put(local))

	remote := object.New(e.cnr, owner, []byte("remote"), 1)
	_, err := e.cluster.PutObject(context.Background(), e.nodes[3], remote)
	require.NoError(t, err)

	got, err := e.svc.Get(context.Background(), local.Address())
	require.NoError(t, err)
	assert.Equal(t, local.Payload, got.Payload)

	got, err = e.svc.Get(context.Background(), remote.Address())
	require.NoError(t, err)
	assert.Equal(t, remote.Payload, got.Payload)

	hdr, err := e.svc.Head(context.Background(), remote.Address())
	require.NoError(t, err)
	assert.Equal(t, remote.Header.ID, hdr.ID)
}

func TestGetNotFound(t *testing.T) {
	e := newEnv(t, "REP 2")
	obj := object.New(e.cnr, owner, []byte("nowhere"), 1)

	_, err := e.svc.Get(context.Background(), obj.Address())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRemovedRemotely(t *testing.T) {
	e := newEnv(t, "REP 2")
	obj := object.New(e.cnr, owner, []byte("gone"), 1)
	e.cluster.removed[e.nodes[2].Address()][obj.Address()] = true

	_, err := e.svc.Head(context.Background(), obj.Address())
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestDelete(t *testing.T) {
	e := newEnv(t, "REP 2")
	obj := object.New(e.cnr, owner, []byte("doomed"), 1)

	_, err := e.svc.Put(context.Background(), obj)
	require.NoError(t, err)

	res, err := e.svc.Delete(context.Background(), obj.Address(), owner)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)

	_, err = e.svc.Get(context.Background(), obj.Address())
	assert.ErrorIs(t, err, ErrRemoved)

	ts, err := e.local.Get(res.Address)
	require.NoError(t, err)
	assert.Equal(t, object.TypeTombstone, ts.Header.Type)
	assert.Equal(t, uint64(3), ts.Header.CreatedEpoch)

	targets, err := object.TombstoneTargets(ts)
	require.NoError(t, err)
	assert.Equal(t, []object.Address{obj.Address()}, targets)
}

func TestDeleteReachesTargetHolders(t *testing.T) {
	e := newEnv(t, "REP 1")
	nm := &netmap.NetMap{Epoch: 1, Nodes: e.nodes}
	e.svc.deps.Placement = placement.NewNetMapBuilder(staticNetMap{nm: nm})

	obj := object.New(e.cnr, owner, []byte("scattered"), 1)
	put, err := e.svc.Put(context.Background(), obj)
	require.NoError(t, err)
	require.Len(t, put.Nodes, 1)
	holder := put.Nodes[0]

	_, err = e.svc.Delete(context.Background(), obj.Address(), owner)
	require.NoError(t, err)

	if holder.Is(e.nodes[0].PublicKey) {
		_, err = e.local.Get(obj.Address())
		assert.ErrorIs(t, err, localstore.ErrAlreadyRemoved)
	} else {
		assert.False(t, e.cluster.holds(holder, obj.Address()))
		assert.True(t, e.cluster.buried(holder, obj.Address()))
	}

	_, err = e.svc.Get(context.Background(), obj.Address())
	assert.ErrorIs(t, err, ErrRemoved)
}

func TestGetFallsBackToPastEpoch(t *testing.T) {
	e := newEnv(t, "REP 1")
	obj := object.New(e.cnr, owner, []byte("moved"), 1)
	_, err := e.cluster.PutObject(context.Background(), e.nodes[3], obj)
	require.NoError(t, err)

	e.svc.deps.Placement = fixedBuilder{vectors: [][]netmap.NodeInfo{{e.nodes[1], e.nodes[2]}}}

	_, err = e.svc.Get(context.Background(), obj.Address())
	require.ErrorIs(t, err, ErrNotFound)

	var asked []uint64
	e.svc.deps.History = func(epoch uint64) placement.Builder {
		asked = append(asked, epoch)
		return fixedBuilder{vectors: [][]netmap.NodeInfo{{e.nodes[1], e.nodes[3]}}}
	}

	got, err := e.svc.Get(context.Background(), obj.Address())
	require.NoError(t, err)
	assert.Equal(t, []byte("moved"), got.Payload)
	assert.Equal(t, []uint64{2}, asked)

	hdr, err := e.svc.Head(context.Background(), obj.Address())
	require.NoError(t, err)
	assert.Equal(t, obj.Address().Object, hdr.ID)
}

func TestPastEpochs(t *testing.T) {
	svc := New(Config{HistoryDepth: 3}, Deps{
		Epoch:   func() uint64 { return 3 },
		History: func(uint64) placement.Builder { return fixedBuilder{} },
	})
	assert.Equal(t, []uint64{2, 1}, svc.pastEpochs())

	svc.deps.History = nil
	assert.Empty(t, svc.pastEpochs())
}

func TestPutWithPlacementBuilder(t *testing.T) {
	e := newEnv(t, "REP 2")

	nm := &netmap.NetMap{Epoch: 1, Nodes: e.nodes}
	e.svc.deps.Placement = placement.NewNetMapBuilder(staticNetMap{nm: nm})

	obj := object.New(e.cnr, owner, []byte("hrw"), 1)
	res, err := e.svc.Put(context.Background(), obj)
	require.NoError(t, err)
	assert.Len(t, res.Nodes, 2)
}

type staticNetMap struct {
	nm *netmap.NetMap
}

func (s staticNetMap) GetNetMap(uint64) (*netmap.NetMap, error)        { return s.nm, nil }
func (s staticNetMap) GetNetMapByEpoch(uint64) (*netmap.NetMap, error) { return s.nm, nil }
