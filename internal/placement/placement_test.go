package placement

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"Strata/internal/netmap"
	"Strata/internal/object"
)

func testNode(i int) netmap.NodeInfo {
	key := blake3.Sum256([]byte("node-" + strconv.Itoa(i)))
	return netmap.NodeInfo{PublicKey: key[:], Addresses: []string{"n" + strconv.Itoa(i)}}
}

// fixedBuilder returns copies of preset vectors.
type fixedBuilder struct {
	vectors [][]netmap.NodeInfo
}

func (b *fixedBuilder) BuildPlacement(object.Address, *netmap.PlacementPolicy) ([][]netmap.NodeInfo, error) {
	out := make([][]netmap.NodeInfo, len(b.vectors))
	for i := range b.vectors {
		out[i] = append([]netmap.NodeInfo(nil), b.vectors[i]...)
	}
	return out, nil
}

// testVectors builds len(sizes) vectors of consecutive nodes.
func testVectors(sizes ...int) [][]netmap.NodeInfo {
	var out [][]netmap.NodeInfo
	next := 0
	for _, n := range sizes {
		var vec []netmap.NodeInfo
		for i := 0; i < n; i++ {
			vec = append(vec, testNode(next))
			next++
		}
		out = append(out, vec)
	}
	return out
}

func policyOf(counts ...uint32) *netmap.PlacementPolicy {
	p := &netmap.PlacementPolicy{}
	for _, c := range counts {
		p.Replicas = append(p.Replicas, netmap.Replica{Count: c})
	}
	return p
}

func testAddress(obj bool) object.Address {
	a := object.Address{Container: object.ContainerID{1}}
	if obj {
		a.Object = object.ID{2}
	}
	return a
}

func TestTraverserPutTracksReplicas(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(4, 3)}
	tr, err := NewTraverser(b, testAddress(true), policyOf(2, 1))
	require.NoError(t, err)

	first := tr.Next()
	require.Len(t, first, 2)
	assert.Equal(t, b.vectors[0][:2], first)
	assert.False(t, tr.Success())

	tr.SubmitSuccess()
	tr.SubmitSuccess()

	second := tr.Next()
	require.Len(t, second, 1)
	assert.Equal(t, b.vectors[1][0], second[0])

	tr.SubmitSuccess()
	assert.True(t, tr.Success())
	assert.Empty(t, tr.Next())
}

func TestTraverserRetriesWithinVector(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(5)}
	tr, err := NewTraverser(b, testAddress(true), policyOf(2))
	require.NoError(t, err)

	require.Len(t, tr.Next(), 2)
	tr.SubmitSuccess()

	// one more success needed: next batch has one node
	batch := tr.Next()
	require.Len(t, batch, 1)
	assert.Equal(t, b.vectors[0][2], batch[0])
}

func TestTraverserUnderFulfilment(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(3)}
	tr, err := NewTraverser(b, testAddress(true), policyOf(2))
	require.NoError(t, err)

	require.Len(t, tr.Next(), 2)

	// one node left, two still required
	assert.Empty(t, tr.Next())
	assert.False(t, tr.Success())
}

func TestTraverserExhaustionIsIdempotent(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(4)}
	tr, err := NewTraverser(b, testAddress(true), policyOf(2))
	require.NoError(t, err)

	require.Len(t, tr.Next(), 2)
	require.Len(t, tr.Next(), 2)

	for i := 0; i < 5; i++ {
		assert.Empty(t, tr.Next())
	}
	assert.False(t, tr.Success())
}

func TestTraverserSearchWithoutTracking(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(3, 2)}
	tr, err := NewTraverser(b, testAddress(false), policyOf(2, 1), WithoutSuccessTracking())
	require.NoError(t, err)

	assert.Equal(t, b.vectors[0], tr.Next())
	assert.Equal(t, b.vectors[1], tr.Next())
	assert.Empty(t, tr.Next())
	assert.True(t, tr.Success())
}

func TestTraverserReadSuccessAfterOne(t *testing.T) {
	vectors := testVectors(3, 3)
	vectors[1][0] = vectors[0][1] // shared node appears once after flattening
	b := &fixedBuilder{vectors: vectors}

	tr, err := NewTraverser(b, testAddress(true), policyOf(2, 2), SuccessAfter(1))
	require.NoError(t, err)

	var visited []netmap.NodeInfo
	for {
		batch := tr.Next()
		if len(batch) == 0 {
			break
		}
		require.Len(t, batch, 1)
		visited = append(visited, batch[0])

		if len(visited) == 3 {
			tr.SubmitSuccess()
		}
	}

	assert.Len(t, visited, 3)
	assert.True(t, tr.Success())
	assert.Empty(t, tr.Next())
}

func TestTraverserFlattenDeduplicates(t *testing.T) {
	vectors := testVectors(2, 2)
	vectors[1][1] = vectors[0][0]
	b := &fixedBuilder{vectors: vectors}

	tr, err := NewTraverser(b, testAddress(true), policyOf(1, 1), SuccessAfter(3))
	require.NoError(t, err)

	assert.Len(t, tr.Next(), 3)
}

func TestTraverserInterleavedSuccesses(t *testing.T) {
	b := &fixedBuilder{vectors: testVectors(3, 2)}
	tr, err := NewTraverser(b, testAddress(true), policyOf(2, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range tr.Next() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SubmitSuccess()
		}()
	}
	wg.Wait()

	require.Len(t, tr.Next(), 1)
	tr.SubmitSuccess()
	tr.SubmitSuccess() // extra submissions never drive the count below zero

	assert.True(t, tr.Success())
}

func TestBuildPlacementProperties(t *testing.T) {
	nm := &netmap.NetMap{Epoch: 1}
	for i := 0; i < 8; i++ {
		nm.Nodes = append(nm.Nodes, testNode(i))
	}

	p, err := netmap.ParsePolicy("REP 3")
	require.NoError(t, err)

	addr := testAddress(true)

	a, err := BuildPlacement(addr, p, nm)
	require.NoError(t, err)
	b, err := BuildPlacement(addr, p, nm)
	require.NoError(t, err)

	require.Len(t, a, 1)
	assert.GreaterOrEqual(t, len(a[0]), 3)
	assert.Equal(t, a, b)

	seen := make(map[string]bool)
	for _, n := range a[0] {
		require.False(t, seen[n.ID()])
		seen[n.ID()] = true
	}

	// container walk and object placement select the same node set
	cnr, err := BuildPlacement(testAddress(false), p, nm)
	require.NoError(t, err)
	assert.ElementsMatch(t, cnr[0], a[0])
}

func TestBuildPlacementPolicyError(t *testing.T) {
	nm := &netmap.NetMap{Epoch: 1, Nodes: []netmap.NodeInfo{testNode(0)}}

	_, err := BuildPlacement(testAddress(true), nil, nm)
	var pe *netmap.PolicyError
	assert.ErrorAs(t, err, &pe)
}

// staticSource serves a single map.
type staticSource struct{ nm *netmap.NetMap }

func (s staticSource) GetNetMap(uint64) (*netmap.NetMap, error)        { return s.nm, nil }
func (s staticSource) GetNetMapByEpoch(uint64) (*netmap.NetMap, error) { return s.nm, nil }

// epochSource keeps maps by epoch; the highest one is current.
type epochSource map[uint64]*netmap.NetMap

func (s epochSource) GetNetMap(diff uint64) (*netmap.NetMap, error) {
	var cur uint64
	for e := range s {
		cur = max(cur, e)
	}
	return s.GetNetMapByEpoch(cur - diff)
}

func (s epochSource) GetNetMapByEpoch(epoch uint64) (*netmap.NetMap, error) {
	nm, ok := s[epoch]
	if !ok {
		return nil, netmap.ErrNotFound
	}
	return nm, nil
}

func TestNetMapBuilderAtEpoch(t *testing.T) {
	old := &netmap.NetMap{Epoch: 1, Nodes: []netmap.NodeInfo{testNode(0), testNode(1)}}
	cur := &netmap.NetMap{Epoch: 2, Nodes: []netmap.NodeInfo{testNode(2), testNode(3)}}
	src := epochSource{1: old, 2: cur}
	p := policyOf(2)

	vectors, err := NewNetMapBuilder(src).BuildPlacement(testAddress(true), p)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.ElementsMatch(t, []string{"n2", "n3"}, []string{vectors[0][0].Address(), vectors[0][1].Address()})

	vectors, err = NewNetMapBuilder(src, AtEpoch(1)).BuildPlacement(testAddress(true), p)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.ElementsMatch(t, []string{"n0", "n1"}, []string{vectors[0][0].Address(), vectors[0][1].Address()})

	_, err = NewNetMapBuilder(src, AtEpoch(7)).BuildPlacement(testAddress(true), p)
	assert.ErrorIs(t, err, netmap.ErrNotFound)
}
