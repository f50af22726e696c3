package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Strata/internal/localstore"
	"Strata/internal/netmap"
	"Strata/internal/object"
)

type memStorage struct {
	objects map[object.Address]*object.Object
}

func (m *memStorage) Get(addr object.Address) (*object.Object, error) {
	obj, ok := m.objects[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", localstore.ErrNotFound, addr)
	}
	return obj, nil
}

type recordingSender struct {
	mu       sync.Mutex
	received map[string][]object.Address // received maps node address to pushed objects
	failing  map[string]bool
	block    bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{received: make(map[string][]object.Address), failing: make(map[string]bool)}
}

func (s *recordingSender) PutObject(ctx context.Context, node netmap.NodeInfo, obj *object.Object) ([]byte, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing[node.Address()] {
		return nil, errors.New("connection refused")
	}
	s.received[node.Address()] = append(s.received[node.Address()], obj.Address())

	return nil, nil
}

func (s *recordingSender) pushedTo(addr string) []object.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[addr]
}

func testNodes(prefix string, n int) []netmap.NodeInfo {
	nodes := make([]netmap.NodeInfo, n)
	for i := range nodes {
		nodes[i] = netmap.NodeInfo{
			PublicKey: []byte(fmt.Sprintf("%s-key-%d", prefix, i)),
			Addresses: []string{fmt.Sprintf("%s:%d", prefix, i)},
		}
	}
	return nodes
}

func newTestObject(payload string) *object.Object {
	return object.New(object.ContainerID{7}, [32]byte{1}, []byte(payload), 1)
}

// startReplicator runs a replicator and returns a channel of its results.
func startReplicator(t *testing.T, cfg Config, local LocalStorage, remote RemoteSender) (*Replicator, <-chan Result) {
	t.Helper()

	results := make(chan Result, 16)
	cfg.OnResult = func(r Result) { results <- r }

	r := New(cfg, local, remote)
	r.Start()
	t.Cleanup(r.Stop)

	return r, results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()

	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no replication result")
		return Result{}
	}
}

func TestReplicatePushesToFirstNodes(t *testing.T) {
	objA := newTestObject("a")
	objB := newTestObject("b")
	local := &memStorage{objects: map[object.Address]*object.Object{
		objA.Address(): objA,
		objB.Address(): objB,
	}}
	sender := newRecordingSender()
	r, results := startReplicator(t, Config{}, local, sender)

	cases := []struct {
		obj      *object.Object
		nodes    []netmap.NodeInfo
		quantity int
	}{
		{obj: objA, nodes: testNodes("a", 3), quantity: 2},
		{obj: objB, nodes: testNodes("b", 3), quantity: 5},
	}

	for _, tc := range cases {
		require.True(t, r.Submit(Task{Address: tc.obj.Address(), Quantity: tc.quantity, Nodes: tc.nodes}))
	}

	for range cases {
		res := waitResult(t, results)
		assert.NoError(t, res.Err)
		assert.NotEqual(t, uuid.Nil, res.Task.ID)
	}

	for _, tc := range cases {
		want := min(tc.quantity, len(tc.nodes))
		for i, n := range tc.nodes {
			got := sender.pushedTo(n.Address())
			if i < want {
				assert.Equal(t, []object.Address{tc.obj.Address()}, got, "node %d", i)
			} else {
				assert.Empty(t, got, "node %d", i)
			}
		}
	}
}

func TestReplicateMissingObjectDropped(t *testing.T) {
	present := newTestObject("present")
	missing := newTestObject("missing")
	local := &memStorage{objects: map[object.Address]*object.Object{present.Address(): present}}
	sender := newRecordingSender()
	r, results := startReplicator(t, Config{}, local, sender)

	nodes := testNodes("n", 2)
	r.Submit(Task{Address: missing.Address(), Quantity: 1, Nodes: nodes})
	r.Submit(Task{Address: present.Address(), Quantity: 1, Nodes: nodes})

	dropped := waitResult(t, results)
	assert.ErrorIs(t, dropped.Err, localstore.ErrNotFound)
	assert.Empty(t, dropped.Placed)

	served := waitResult(t, results)
	assert.NoError(t, served.Err)
	assert.Len(t, served.Placed, 1)
	assert.Equal(t, []object.Address{present.Address()}, sender.pushedTo(nodes[0].Address()))
}

func TestReplicateFailedAttemptConsumesQuantity(t *testing.T) {
	obj := newTestObject("x")
	local := &memStorage{objects: map[object.Address]*object.Object{obj.Address(): obj}}
	nodes := testNodes("n", 3)

	sender := newRecordingSender()
	sender.failing[nodes[0].Address()] = true
	r, results := startReplicator(t, Config{}, local, sender)

	r.Submit(Task{Address: obj.Address(), Quantity: 2, Nodes: nodes})

	res := waitResult(t, results)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, nodes[1].Address(), res.Placed[0].Address())
	assert.Empty(t, sender.pushedTo(nodes[2].Address()))
}

func TestReplicatePutTimeout(t *testing.T) {
	obj := newTestObject("slow")
	local := &memStorage{objects: map[object.Address]*object.Object{obj.Address(): obj}}

	sender := newRecordingSender()
	sender.block = true
	r, results := startReplicator(t, Config{PutTimeout: 50 * time.Millisecond}, local, sender)

	start := time.Now()
	r.Submit(Task{Address: obj.Address(), Quantity: 2, Nodes: testNodes("n", 2)})

	res := waitResult(t, results)
	assert.Empty(t, res.Placed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSubmitDropsWhenFull(t *testing.T) {
	r := New(Config{QueueSize: 1}, &memStorage{}, newRecordingSender())

	assert.True(t, r.Submit(Task{}))
	assert.False(t, r.Submit(Task{}))
}

func TestReplicateRateLimited(t *testing.T) {
	obj := newTestObject("limited")
	local := &memStorage{objects: map[object.Address]*object.Object{obj.Address(): obj}}
	r, results := startReplicator(t, Config{RateLimit: 20, Burst: 1}, local, newRecordingSender())

	start := time.Now()
	r.Submit(Task{Address: obj.Address(), Quantity: 3, Nodes: testNodes("n", 3)})

	res := waitResult(t, results)
	assert.Len(t, res.Placed, 3)
	// three pushes at 20/s with a burst of one need at least two intervals
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
