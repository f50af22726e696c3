package placement

import (
	"fmt"

	"Strata/internal/netmap"
	"Strata/internal/object"
)

// Builder produces placement vectors for an address.
type Builder interface {
	BuildPlacement(addr object.Address, policy *netmap.PlacementPolicy) ([][]netmap.NodeInfo, error)
}

// BuildPlacement computes one node vector per replica descriptor.
// Nodes are selected and ordered by the container ID; when addr carries
// an object ID the vectors are reordered by it so objects of one
// container spread over the selected nodes.
func BuildPlacement(addr object.Address, policy *netmap.PlacementPolicy, nm *netmap.NetMap) ([][]netmap.NodeInfo, error) {
	sels, err := netmap.Select(nm, policy, addr.Container[:])
	if err != nil {
		return nil, err
	}

	vectors := make([][]netmap.NodeInfo, len(sels))
	for i, sel := range sels {
		if !addr.Object.IsZero() {
			sel = sel.Reorder(addr.Object[:])
		}
		vectors[i] = sel.Nodes()
	}

	return vectors, nil
}

// NetMapBuilder builds placement from a network map source.
type NetMapBuilder struct {
	src   netmap.Source
	epoch uint64 // epoch pins the map, 0 means current
}

// BuilderOption configures a NetMapBuilder.
type BuilderOption func(*NetMapBuilder)

// AtEpoch pins the builder to the map of a past epoch.
func AtEpoch(epoch uint64) BuilderOption {
	return func(b *NetMapBuilder) { b.epoch = epoch }
}

// NewNetMapBuilder creates a builder reading maps from src.
func NewNetMapBuilder(src netmap.Source, opts ...BuilderOption) *NetMapBuilder {
	b := &NetMapBuilder{src: src}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// BuildPlacement implements Builder.
func (b *NetMapBuilder) BuildPlacement(addr object.Address, policy *netmap.PlacementPolicy) ([][]netmap.NodeInfo, error) {
	var (
		nm  *netmap.NetMap
		err error
	)

	if b.epoch != 0 {
		nm, err = b.src.GetNetMapByEpoch(b.epoch)
	} else {
		nm, err = b.src.GetNetMap(0)
	}
	if err != nil {
		return nil, fmt.Errorf("get netmap:\n%w", err)
	}

	return BuildPlacement(addr, policy, nm)
}
