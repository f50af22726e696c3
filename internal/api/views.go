package api

import (
	"encoding/hex"
	"fmt"

	"Strata/internal/container"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/objectsvc"
)

// Status is the node summary served by GET /status.
type Status struct {
	PublicKey    string `json:"publicKey"`
	Epoch        uint64 `json:"epoch"`
	Peers        int    `json:"peers"`
	LocalObjects int    `json:"localObjects"`
	WorkScope    int    `json:"workScope"`
}

// Attribute is a key/value pair of a node or an object.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Node is the JSON form of a netmap member.
type Node struct {
	PublicKey  string      `json:"publicKey"`
	Addresses  []string    `json:"addresses"`
	Attributes []Attribute `json:"attributes,omitempty"`
	BLSKey     string      `json:"blsKey,omitempty"`
}

// NetMap is the JSON form of a network map.
type NetMap struct {
	Epoch uint64 `json:"epoch"`
	Nodes []Node `json:"nodes"`
}

// CreateContainer is the body of POST /containers.
type CreateContainer struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Policy string `json:"policy"`
}

// Container is the JSON form of a container.
type Container struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Policy       string `json:"policy"`
	CreatedEpoch uint64 `json:"createdEpoch"`
}

// Header is the JSON form of an object header.
type Header struct {
	Container    string      `json:"container"`
	ID           string      `json:"id"`
	Owner        string      `json:"owner"`
	Type         string      `json:"type"`
	PayloadSize  uint64      `json:"payloadSize"`
	PayloadHash  string      `json:"payloadHash"`
	CreatedEpoch uint64      `json:"createdEpoch"`
	Attributes   []Attribute `json:"attributes,omitempty"`
}

// PutResult reports where an object was placed.
type PutResult struct {
	Address     string   `json:"address"`
	Nodes       []string `json:"nodes"`
	Signers     []string `json:"signers,omitempty"`
	Attestation string   `json:"attestation,omitempty"`
}

// LocalObjects is a page of GET /local/objects.
type LocalObjects struct {
	Addresses []string `json:"addresses"`
	Next      string   `json:"next,omitempty"` // Next is the cursor for the following page
}

// NodeView converts a netmap member.
func NodeView(n netmap.NodeInfo) Node {
	v := Node{
		PublicKey: hex.EncodeToString(n.PublicKey),
		Addresses: n.Addresses,
	}
	if len(n.BLSKey) > 0 {
		v.BLSKey = hex.EncodeToString(n.BLSKey)
	}
	for _, a := range n.Attributes {
		v.Attributes = append(v.Attributes, Attribute{Key: a.Key, Value: a.Value})
	}

	return v
}

// NetMapView converts a network map.
func NetMapView(nm *netmap.NetMap) NetMap {
	v := NetMap{Epoch: nm.Epoch, Nodes: make([]Node, len(nm.Nodes))}
	for i, n := range nm.Nodes {
		v.Nodes[i] = NodeView(n)
	}

	return v
}

// ToNetMap decodes the JSON form back into a network map.
func (v NetMap) ToNetMap() (*netmap.NetMap, error) {
	nm := &netmap.NetMap{Epoch: v.Epoch, Nodes: make([]netmap.NodeInfo, len(v.Nodes))}

	for i, n := range v.Nodes {
		key, err := hex.DecodeString(n.PublicKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("node %d: invalid public key %q", i, n.PublicKey)
		}
		if len(n.Addresses) == 0 {
			return nil, fmt.Errorf("node %d: no address", i)
		}

		info := netmap.NodeInfo{PublicKey: key, Addresses: n.Addresses}
		if n.BLSKey != "" {
			if info.BLSKey, err = hex.DecodeString(n.BLSKey); err != nil {
				return nil, fmt.Errorf("node %d: invalid bls key:\n%w", i, err)
			}
		}
		for _, a := range n.Attributes {
			info.Attributes = append(info.Attributes, netmap.Attribute{Key: a.Key, Value: a.Value})
		}

		nm.Nodes[i] = info
	}

	return nm, nil
}

// ContainerView converts a container.
func ContainerView(c *container.Container) Container {
	return Container{
		ID:           c.ID().String(),
		Owner:        hex.EncodeToString(c.Owner[:]),
		Name:         c.Name,
		Policy:       c.Policy.String(),
		CreatedEpoch: c.CreatedEpoch,
	}
}

// HeaderView converts an object header.
func HeaderView(h *object.Header) Header {
	v := Header{
		Container:    h.Container.String(),
		ID:           h.ID.String(),
		Owner:        hex.EncodeToString(h.Owner[:]),
		Type:         h.Type.String(),
		PayloadSize:  h.PayloadSize,
		PayloadHash:  hex.EncodeToString(h.PayloadHash[:]),
		CreatedEpoch: h.CreatedEpoch,
	}
	for _, a := range h.Attributes {
		v.Attributes = append(v.Attributes, Attribute{Key: a.Key, Value: a.Value})
	}

	return v
}

// PutResultView converts an object service result.
func PutResultView(r *objectsvc.PutResult) PutResult {
	v := PutResult{Address: r.Address.String(), Nodes: make([]string, len(r.Nodes))}
	for i, n := range r.Nodes {
		v.Nodes[i] = n.ID()
	}
	for _, s := range r.Signers {
		v.Signers = append(v.Signers, hex.EncodeToString(s))
	}
	if r.Attestation != nil {
		v.Attestation = hex.EncodeToString(r.Attestation)
	}

	return v
}

// parseOwner decodes a hex ed25519 public key. Empty means the zero owner.
func parseOwner(s string) ([32]byte, error) {
	var owner [32]byte
	if s == "" {
		return owner, nil
	}

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(owner) {
		return owner, fmt.Errorf("invalid owner %q", s)
	}
	copy(owner[:], b)

	return owner, nil
}
