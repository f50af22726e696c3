package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/objectsvc"
	"Strata/internal/storage"
)

// fakeObjects keeps objects in memory and reports a single node placement.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[object.Address]*object.Object
	removed map[object.Address]bool
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects: make(map[object.Address]*object.Object),
		removed: make(map[object.Address]bool),
	}
}

func (f *fakeObjects) Put(_ context.Context, obj *object.Object) (*objectsvc.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.putErr != nil {
		return nil, f.putErr
	}
	f.objects[obj.Address()] = obj

	return &objectsvc.PutResult{
		Address: obj.Address(),
		Nodes:   []netmap.NodeInfo{{PublicKey: []byte{0xab, 0xcd}}},
	}, nil
}

func (f *fakeObjects) Get(_ context.Context, addr object.Address) (*object.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removed[addr] {
		return nil, objectsvc.ErrRemoved
	}
	obj, ok := f.objects[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objectsvc.ErrNotFound, addr)
	}

	return obj, nil
}

func (f *fakeObjects) Head(ctx context.Context, addr object.Address) (*object.Header, error) {
	obj, err := f.Get(ctx, addr)
	if err != nil {
		return nil, err
	}

	return &obj.Header, nil
}

func (f *fakeObjects) Delete(_ context.Context, addr object.Address, owner [32]byte) (*objectsvc.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed[addr] = true
	ts := object.NewTombstone(addr.Container, owner, 1, addr.Object)

	return &objectsvc.PutResult{Address: ts.Address()}, nil
}

type fakeNetMaps struct {
	mu      sync.Mutex
	current *netmap.NetMap
}

func (f *fakeNetMaps) Current() (*netmap.NetMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return nil, netmap.ErrNotFound
	}

	return f.current, nil
}

func (f *fakeNetMaps) Announce(nm *netmap.NetMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && nm.Epoch <= f.current.Epoch {
		return netmap.ErrStaleEpoch
	}
	f.current = nm

	return nil
}

type fakeContainers struct {
	mu   sync.Mutex
	byID map[object.ContainerID]*container.Container
}

func (f *fakeContainers) Create(c *container.Container) (object.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := c.ID()
	f.byID[id] = c

	return id, nil
}

func (f *fakeContainers) Get(id object.ContainerID) (*container.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.byID[id]
	if !ok {
		return nil, container.ErrNotFound
	}

	return c, nil
}

type fixedStatus Status

func (s fixedStatus) Status() Status { return Status(s) }

type testEnv struct {
	srv        *httptest.Server
	objects    *fakeObjects
	netmaps    *fakeNetMaps
	containers *fakeContainers
	local      *localstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		objects:    newFakeObjects(),
		netmaps:    &fakeNetMaps{},
		containers: &fakeContainers{byID: make(map[object.ContainerID]*container.Container)},
		local:      localstore.New(db),
	}

	s := New(":0", Deps{
		Objects:    env.objects,
		NetMaps:    env.netmaps,
		Containers: env.containers,
		Local:      env.local,
		Status:     fixedStatus{PublicKey: "ab", Epoch: 3, Peers: 2},
	})

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))

	return v
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return bytes.NewReader(b)
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])

	resp = env.do(t, "GET", "/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[Status](t, resp)
	assert.Equal(t, uint64(3), st.Epoch)
	assert.Equal(t, 2, st.Peers)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "strata_")
}

func TestNetMapAnnounce(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/netmap", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	key := hex.EncodeToString(bytes.Repeat([]byte{7}, 32))
	nm := NetMap{Epoch: 5, Nodes: []Node{{
		PublicKey:  key,
		Addresses:  []string{"127.0.0.1:7000"},
		Attributes: []Attribute{{Key: "Country", Value: "DE"}},
	}}}

	resp = env.do(t, "POST", "/netmap", jsonBody(t, nm))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, "GET", "/netmap", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, nm, decode[NetMap](t, resp))

	resp = env.do(t, "POST", "/netmap", jsonBody(t, nm))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestNetMapAnnounceRejectsBadNodes(t *testing.T) {
	env := newTestEnv(t)

	cases := []NetMap{
		{Epoch: 1, Nodes: []Node{{PublicKey: "zz", Addresses: []string{"a:1"}}}},
		{Epoch: 1, Nodes: []Node{{PublicKey: hex.EncodeToString(make([]byte, 32))}}},
	}

	for _, nm := range cases {
		resp := env.do(t, "POST", "/netmap", jsonBody(t, nm))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestContainerLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/containers", jsonBody(t, CreateContainer{
		Name:   "photos",
		Policy: "REP 2",
	}))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[Container](t, resp)
	assert.Equal(t, "photos", created.Name)
	assert.Equal(t, uint64(3), created.CreatedEpoch)

	resp = env.do(t, "GET", "/containers/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created, decode[Container](t, resp))

	resp = env.do(t, "GET", "/containers/"+object.ContainerID{9}.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, "GET", "/containers/nothex", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateContainerRejectsBadPolicy(t *testing.T) {
	env := newTestEnv(t)

	for _, policy := range []string{"", "REP 0", "REP 1 IN MISSING"} {
		resp := env.do(t, "POST", "/containers", jsonBody(t, CreateContainer{Policy: policy}))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, policy)
	}
}

func TestObjectRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	cid := object.ContainerID{1}

	resp := env.do(t, "POST", "/objects/"+cid.String()+"?attr=name=cat.jpg", bytes.NewReader([]byte("meow")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[PutResult](t, resp)
	assert.Equal(t, []string{"abcd"}, res.Nodes)

	resp = env.do(t, "GET", "/objects/"+res.Address, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "regular", resp.Header.Get("X-Object-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Object-Epoch"))
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "meow", string(payload))

	resp = env.do(t, "GET", "/objects/"+res.Address+"/header", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[Header](t, resp)
	assert.Equal(t, uint64(4), h.PayloadSize)
	assert.Equal(t, []Attribute{{Key: "name", Value: "cat.jpg"}}, h.Attributes)

	resp = env.do(t, "DELETE", "/objects/"+res.Address, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "GET", "/objects/"+res.Address, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestObjectErrors(t *testing.T) {
	env := newTestEnv(t)
	missing := object.Address{Container: object.ContainerID{1}, Object: object.ID{2}}

	resp := env.do(t, "GET", "/objects/"+missing.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, "POST", "/objects/"+missing.Container.String()+"?attr=novalue", bytes.NewReader(nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "POST", "/objects/"+missing.Container.String()+"?owner=12", bytes.NewReader(nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.objects.putErr = fmt.Errorf("put:\n%w", objectsvc.ErrIncompletePlacement)
	resp = env.do(t, "POST", "/objects/"+missing.Container.String(), bytes.NewReader([]byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLocalObjects(t *testing.T) {
	env := newTestEnv(t)
	cid := object.ContainerID{4}

	var addrs []object.Address
	for i := range 3 {
		obj := object.New(cid, [32]byte{}, []byte{byte(i)}, 1)
		require.NoError(t, env.local.Put(obj))
		addrs = append(addrs, obj.Address())
	}

	resp := env.do(t, "GET", "/local/objects?limit=2&container="+cid.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[LocalObjects](t, resp)
	require.Len(t, page.Addresses, 2)
	require.NotEmpty(t, page.Next)

	resp = env.do(t, "GET", "/local/objects?after="+page.Next, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rest := decode[LocalObjects](t, resp)
	assert.Len(t, rest.Addresses, 1)
	assert.Empty(t, rest.Next)

	resp = env.do(t, "DELETE", "/local/objects/"+addrs[0].String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, "DELETE", "/local/objects/"+addrs[0].String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, "GET", "/local/objects?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
