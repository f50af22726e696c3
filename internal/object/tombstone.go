package object

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Strata/internal/types"
)

// NewTombstone creates a tombstone object in cnr removing the given objects.
// Every target must belong to cnr.
func NewTombstone(cnr ContainerID, owner [32]byte, epoch uint64, targets ...ID) *Object {
	obj := &Object{
		Header: Header{
			Container:    cnr,
			Owner:        owner,
			Type:         TypeTombstone,
			CreatedEpoch: epoch,
		},
		Payload: encodeTombstone(cnr, targets),
	}

	obj.Seal()

	return obj
}

// TombstoneTargets decodes the addresses removed by a tombstone object.
func TombstoneTargets(obj *Object) (targets []Address, err error) {
	if obj.Header.Type != TypeTombstone {
		return nil, fmt.Errorf("%w: not a tombstone", ErrInvalidObject)
	}

	defer func() {
		if r := recover(); r != nil {
			targets, err = nil, fmt.Errorf("%w: malformed tombstone: %v", ErrInvalidObject, r)
		}
	}()

	ts := types.GetRootAsTombstone(obj.Payload, 0)

	var ref types.Address

	for i := 0; i < ts.AddressesLength(); i++ {
		if !ts.Addresses(&ref, i) {
			continue
		}

		addr, err := AddressFromTable(&ref)
		if err != nil {
			return nil, err
		}
		if addr.Container != obj.Header.Container {
			return nil, fmt.Errorf("%w: tombstone target outside container", ErrInvalidObject)
		}

		targets = append(targets, addr)
	}

	return targets, nil
}

func encodeTombstone(cnr ContainerID, targets []ID) []byte {
	builder := flatbuffers.NewBuilder(64 + len(targets)*80)

	refs := make([]flatbuffers.UOffsetT, len(targets))
	for i, id := range targets {
		refs[i] = BuildAddress(builder, Address{Container: cnr, Object: id})
	}

	types.TombstoneStartAddressesVector(builder, len(refs))
	for i := len(refs) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(refs[i])
	}
	vec := builder.EndVector(len(refs))

	types.TombstoneStart(builder)
	types.TombstoneAddAddresses(builder, vec)
	builder.Finish(types.TombstoneEnd(builder))

	return builder.FinishedBytes()
}
