package netmap

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Strata/internal/types"
)

// NetMap is the ordered set of storage nodes valid for one epoch.
type NetMap struct {
	Epoch uint64     // Epoch is the network epoch the map belongs to
	Nodes []NodeInfo // Nodes are the members in announcement order
}

// Node returns the member with the given public key.
func (m *NetMap) Node(key []byte) (NodeInfo, bool) {
	for _, n := range m.Nodes {
		if n.Is(key) {
			return n, true
		}
	}

	return NodeInfo{}, false
}

// Marshal encodes the map as a FlatBuffers NetMap table.
func (m *NetMap) Marshal() []byte {
	builder := flatbuffers.NewBuilder(256 * (len(m.Nodes) + 1))
	builder.Finish(BuildNetMap(builder, m))

	return builder.FinishedBytes()
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (nm *NetMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			nm, err = nil, fmt.Errorf("malformed netmap: %v", r)
		}
	}()

	t := types.GetRootAsNetMap(data, 0)
	nm = &NetMap{Epoch: t.Epoch()}

	var nt types.NodeInfo
	for i := 0; i < t.NodesLength(); i++ {
		if t.Nodes(&nt, i) {
			nm.Nodes = append(nm.Nodes, NodeFromTable(&nt))
		}
	}

	return nm, nil
}

// BuildNetMap writes a NetMap table into builder.
func BuildNetMap(builder *flatbuffers.Builder, m *NetMap) flatbuffers.UOffsetT {
	nodes := make([]flatbuffers.UOffsetT, len(m.Nodes))
	for i := range m.Nodes {
		nodes[i] = BuildNode(builder, &m.Nodes[i])
	}

	types.NetMapStartNodesVector(builder, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(nodes[i])
	}
	vec := builder.EndVector(len(nodes))

	types.NetMapStart(builder)
	types.NetMapAddEpoch(builder, m.Epoch)
	types.NetMapAddNodes(builder, vec)

	return types.NetMapEnd(builder)
}

// BuildNode writes a NodeInfo table into builder.
func BuildNode(builder *flatbuffers.Builder, n *NodeInfo) flatbuffers.UOffsetT {
	keyVec := builder.CreateByteVector(n.PublicKey)
	blsVec := builder.CreateByteVector(n.BLSKey)

	addrs := make([]flatbuffers.UOffsetT, len(n.Addresses))
	for i, a := range n.Addresses {
		addrs[i] = builder.CreateString(a)
	}

	types.NodeInfoStartAddressesVector(builder, len(addrs))
	for i := len(addrs) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(addrs[i])
	}
	addrVec := builder.EndVector(len(addrs))

	attrs := make([]flatbuffers.UOffsetT, len(n.Attributes))
	for i, a := range n.Attributes {
		k := builder.CreateString(a.Key)
		v := builder.CreateString(a.Value)

		types.AttributeStart(builder)
		types.AttributeAddKey(builder, k)
		types.AttributeAddValue(builder, v)
		attrs[i] = types.AttributeEnd(builder)
	}

	types.NodeInfoStartAttributesVector(builder, len(attrs))
	for i := len(attrs) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(attrs[i])
	}
	attrVec := builder.EndVector(len(attrs))

	types.NodeInfoStart(builder)
	types.NodeInfoAddPublicKey(builder, keyVec)
	types.NodeInfoAddAddresses(builder, addrVec)
	types.NodeInfoAddAttributes(builder, attrVec)
	types.NodeInfoAddBlsKey(builder, blsVec)

	return types.NodeInfoEnd(builder)
}

// NodeFromTable copies a decoded NodeInfo table.
func NodeFromTable(t *types.NodeInfo) NodeInfo {
	n := NodeInfo{
		PublicKey: cloneBytes(t.PublicKeyBytes()),
		BLSKey:    cloneBytes(t.BlsKeyBytes()),
	}

	for i := 0; i < t.AddressesLength(); i++ {
		n.Addresses = append(n.Addresses, string(t.Addresses(i)))
	}

	var at types.Attribute
	for i := 0; i < t.AttributesLength(); i++ {
		if t.Attributes(&at, i) {
			n.Attributes = append(n.Attributes, Attribute{
				Key:   string(at.Key()),
				Value: string(at.Value()),
			})
		}
	}

	return n
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
