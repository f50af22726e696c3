package netmap

import (
	"fmt"
	"strconv"
)

// bucket groups the nodes sharing one value of a selector attribute.
type bucket struct {
	key   string
	nodes []NodeInfo
}

// Selection is the node set chosen for one replica descriptor, kept in
// attribute buckets so that reordering preserves diversity.
type Selection struct {
	buckets []bucket
}

// Nodes returns the selection as one vector. Buckets are interleaved
// round-robin, so with DISTINCT selectors the first Count nodes come from
// different buckets. A node never appears twice.
func (s Selection) Nodes() []NodeInfo {
	seen := make(map[string]struct{})
	var out []NodeInfo

	for round := 0; ; round++ {
		progressed := false

		for _, b := range s.buckets {
			if round >= len(b.nodes) {
				continue
			}
			progressed = true

			n := b.nodes[round]
			if _, dup := seen[string(n.PublicKey)]; dup {
				continue
			}
			seen[string(n.PublicKey)] = struct{}{}
			out = append(out, n)
		}

		if !progressed {
			return out
		}
	}
}

// Reorder returns a copy whose buckets and bucket members are ranked by
// pivot instead of the seed used by Select.
func (s Selection) Reorder(pivot []byte) Selection {
	out := Selection{buckets: make([]bucket, len(s.buckets))}

	for i, b := range s.buckets {
		nodes := make([]NodeInfo, len(b.nodes))
		copy(nodes, b.nodes)
		rankNodes(nodes, pivot)

		out.buckets[i] = bucket{key: b.key, nodes: nodes}
	}

	if len(out.buckets) > 1 {
		rankBuckets(out.buckets, pivot)
	}

	return out
}

// Select evaluates policy p against nm, seeding rendezvous ordering with
// pivot (usually the container ID). It returns one Selection per replica.
// A PolicyError is returned when the policy is empty or invalid, or when a
// replica with a positive count matches no node. Selections smaller than
// requested are returned as they are.
func Select(nm *NetMap, p *PlacementPolicy, pivot []byte) ([]Selection, error) {
	if p == nil || len(p.Replicas) == 0 {
		return nil, &PolicyError{Replica: -1, Reason: "empty policy"}
	}

	if err := p.Validate(); err != nil {
		return nil, &PolicyError{Replica: -1, Reason: err.Error()}
	}

	if nm == nil || len(nm.Nodes) == 0 {
		return nil, &PolicyError{Replica: -1, Reason: "empty network map"}
	}

	c := &selectContext{
		netmap:  nm,
		pivot:   pivot,
		cbf:     p.backupFactor(),
		filters: make(map[string]*Filter, len(p.Filters)),
	}

	for i := range p.Filters {
		c.filters[p.Filters[i].Name] = &p.Filters[i]
	}

	bySelector := make(map[string][]bucket, len(p.Selectors))
	for _, s := range p.Selectors {
		bySelector[s.Name] = c.selectBuckets(s)
	}

	result := make([]Selection, len(p.Replicas))

	for i, r := range p.Replicas {
		var buckets []bucket

		switch {
		case len(p.Selectors) == 0:
			buckets = c.selectBuckets(Selector{Count: r.Count, Filter: "*"})
		case r.Selector != "":
			buckets = bySelector[r.Selector]
		default:
			for _, s := range p.Selectors {
				buckets = append(buckets, bySelector[s.Name]...)
			}
		}

		sel := Selection{buckets: buckets}
		if r.Count > 0 && len(sel.Nodes()) == 0 {
			name := r.Selector
			if name == "" {
				name = "*"
			}
			return nil, &PolicyError{Replica: i, Reason: fmt.Sprintf("no nodes match selector %s", name)}
		}

		result[i] = sel
	}

	return result, nil
}

// selectContext carries the evaluation state of one Select call.
type selectContext struct {
	netmap  *NetMap
	pivot   []byte
	cbf     int
	filters map[string]*Filter
}

// selectBuckets applies one selector.
func (c *selectContext) selectBuckets(s Selector) []bucket {
	matched := c.filterNodes(s.Filter)
	if len(matched) == 0 {
		return nil
	}

	if s.Attribute == "" {
		rankNodes(matched, c.pivot)
		return []bucket{{nodes: head(matched, c.cbf*int(s.Count))}}
	}

	var buckets []bucket
	index := make(map[string]int)

	for _, n := range matched {
		v, ok := n.Attribute(s.Attribute)
		if !ok {
			continue
		}

		i, ok := index[v]
		if !ok {
			i = len(buckets)
			index[v] = i
			buckets = append(buckets, bucket{key: v})
		}
		buckets[i].nodes = append(buckets[i].nodes, n)
	}

	for i := range buckets {
		rankNodes(buckets[i].nodes, c.pivot)
	}
	rankBuckets(buckets, c.pivot)

	if s.Clause == ClauseSame {
		pick := 0
		for i := range buckets {
			if len(buckets[i].nodes) >= int(s.Count) {
				pick = i
				break
			}
		}

		if len(buckets) == 0 {
			return nil
		}

		b := buckets[pick]
		b.nodes = head(b.nodes, c.cbf*int(s.Count))
		return []bucket{b}
	}

	buckets = head(buckets, int(s.Count))
	for i := range buckets {
		buckets[i].nodes = head(buckets[i].nodes, c.cbf)
	}

	return buckets
}

// filterNodes returns the nodes matching the named filter in netmap order.
func (c *selectContext) filterNodes(name string) []NodeInfo {
	var out []NodeInfo

	for _, n := range c.netmap.Nodes {
		if name == "" || name == "*" || c.match(c.filters[name], &n) {
			out = append(out, n)
		}
	}

	return out
}

// match evaluates f against node n.
func (c *selectContext) match(f *Filter, n *NodeInfo) bool {
	if f == nil {
		return false
	}

	switch f.Op {
	case OpUnspecified:
		ref, ok := c.filters[f.Name]
		if !ok || ref == f {
			return false
		}
		return c.match(ref, n)
	case OpAND:
		for i := range f.Filters {
			if !c.match(&f.Filters[i], n) {
				return false
			}
		}
		return len(f.Filters) > 0
	case OpOR:
		for i := range f.Filters {
			if c.match(&f.Filters[i], n) {
				return true
			}
		}
		return false
	}

	v, ok := n.Attribute(f.Key)

	switch f.Op {
	case OpEQ:
		return ok && v == f.Value
	case OpNE:
		return v != f.Value
	}

	if !ok {
		return false
	}

	have, err1 := strconv.ParseFloat(v, 64)
	want, err2 := strconv.ParseFloat(f.Value, 64)
	if err1 != nil || err2 != nil {
		return false
	}

	switch f.Op {
	case OpGT:
		return have > want
	case OpGE:
		return have >= want
	case OpLT:
		return have < want
	case OpLE:
		return have <= want
	default:
		return false
	}
}

func head[T any](s []T, n int) []T {
	if n >= 0 && len(s) > n {
		return s[:n]
	}
	return s
}
