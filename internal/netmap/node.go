package netmap

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
)

// CapacityAttribute is the node attribute weighting rendezvous selection.
const CapacityAttribute = "Capacity"

// Attribute is a node property used by placement filters and selectors.
type Attribute struct {
	Key   string // Key is the attribute name, e.g. "Country"
	Value string // Value is the attribute value
}

// NodeInfo describes a storage node as announced in a network map.
// A NodeInfo that is part of a NetMap must not be modified.
type NodeInfo struct {
	PublicKey  []byte      // PublicKey is the ed25519 identity key
	Addresses  []string    // Addresses are the QUIC endpoints of the node
	Attributes []Attribute // Attributes are the placement properties
	BLSKey     []byte      // BLSKey verifies replica attestations, may be empty
}

// ID returns the hex-encoded public key.
func (n *NodeInfo) ID() string {
	return hex.EncodeToString(n.PublicKey)
}

// Attribute returns the value of key and whether it is set.
func (n *NodeInfo) Attribute(key string) (string, bool) {
	for _, a := range n.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}

	return "", false
}

// Capacity returns the relative selection weight of the node.
// Missing, non-positive or non-finite values count as 1.
func (n *NodeInfo) Capacity() float64 {
	v, ok := n.Attribute(CapacityAttribute)
	if !ok {
		return 1
	}

	c, err := strconv.ParseFloat(v, 64)
	if err != nil || c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		return 1
	}

	return c
}

// Address returns the first advertised address or "".
func (n *NodeInfo) Address() string {
	if len(n.Addresses) == 0 {
		return ""
	}

	return n.Addresses[0]
}

// Is reports whether n has the given public key.
func (n *NodeInfo) Is(key []byte) bool {
	return bytes.Equal(n.PublicKey, key)
}
