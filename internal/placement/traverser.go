package placement

import (
	"sync"

	"Strata/internal/netmap"
	"Strata/internal/object"
)

// untracked marks a vector whose successes are not counted.
const untracked = -1

// Traverser hands out placement nodes in batches and tracks how many
// successful operations each vector still needs.
type Traverser struct {
	mu      sync.Mutex
	vectors [][]netmap.NodeInfo // vectors are the nodes not yet handed out
	rem     []int               // rem is the remaining success count per vector, -1 when untracked
}

type traverserConfig struct {
	successAfter int
	tracking     bool
}

// TraverserOption configures a Traverser.
type TraverserOption func(*traverserConfig)

// SuccessAfter flattens all vectors into one and requires n successes in
// total. Zero keeps the per-replica counts.
func SuccessAfter(n int) TraverserOption {
	return func(c *traverserConfig) { c.successAfter = n }
}

// WithoutSuccessTracking hands out every node of each vector at once and
// never counts successes.
func WithoutSuccessTracking() TraverserOption {
	return func(c *traverserConfig) { c.tracking = false }
}

// NewTraverser builds placement for addr with b and prepares traversal.
func NewTraverser(b Builder, addr object.Address, policy *netmap.PlacementPolicy, opts ...TraverserOption) (*Traverser, error) {
	cfg := traverserConfig{tracking: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	vectors, err := b.BuildPlacement(addr, policy)
	if err != nil {
		return nil, err
	}

	t := &Traverser{}

	switch {
	case cfg.successAfter > 0:
		t.vectors = [][]netmap.NodeInfo{flatten(vectors)}
		t.rem = []int{cfg.successAfter}
		if !cfg.tracking {
			t.rem[0] = untracked
		}
	default:
		t.vectors = vectors
		t.rem = make([]int, len(vectors))
		for i := range vectors {
			switch {
			case !cfg.tracking:
				t.rem[i] = untracked
			case i < len(policy.Replicas):
				t.rem[i] = int(policy.Replicas[i].Count)
			default:
				t.rem[i] = 1
			}
		}
	}

	return t, nil
}

// Next returns the next batch of nodes to contact. A tracked vector yields
// exactly its remaining count, an untracked one all of its nodes. An empty
// result means traversal is over, either because everything was handed
// out or because the current vector cannot satisfy its remaining count.
func (t *Traverser) Next() []netmap.NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.skipEmptyVectors()

	if len(t.vectors) == 0 || len(t.vectors[0]) < t.rem[0] {
		return nil
	}

	count := t.rem[0]
	if count < 0 {
		count = len(t.vectors[0])
	}

	nodes := make([]netmap.NodeInfo, count)
	copy(nodes, t.vectors[0][:count])
	t.vectors[0] = t.vectors[0][count:]

	return nodes
}

// skipEmptyVectors drops leading vectors that are satisfied, or drained
// and untracked.
func (t *Traverser) skipEmptyVectors() {
	for len(t.vectors) > 0 {
		if t.rem[0] != 0 && !(len(t.vectors[0]) == 0 && t.rem[0] < 0) {
			return
		}

		t.vectors = t.vectors[1:]
		t.rem = t.rem[1:]
	}
}

// SubmitSuccess records one successful operation on the current vector.
func (t *Traverser) SubmitSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rem) > 0 && t.rem[0] > 0 {
		t.rem[0]--
	}
}

// Success reports whether no tracked vector still needs successes.
func (t *Traverser) Success() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.rem {
		if r > 0 {
			return false
		}
	}

	return true
}

// flatten concatenates vectors, dropping repeated nodes.
func flatten(vectors [][]netmap.NodeInfo) []netmap.NodeInfo {
	seen := make(map[string]struct{})
	var out []netmap.NodeInfo

	for _, vec := range vectors {
		for _, n := range vec {
			if _, ok := seen[string(n.PublicKey)]; ok {
				continue
			}
			seen[string(n.PublicKey)] = struct{}{}
			out = append(out, n)
		}
	}

	return out
}
