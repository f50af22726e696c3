package object

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Strata/internal/types"
)

// Marshal encodes the object as a FlatBuffers Object table.
// When compress is set and the payload is large enough, the payload is
// stored zstd-compressed and flagged as such.
func Marshal(obj *Object, compress bool) []byte {
	builder := flatbuffers.NewBuilder(256 + len(obj.Payload))
	builder.Finish(BuildObject(builder, obj, compress))

	return builder.FinishedBytes()
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (obj *Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("%w: malformed object: %v", ErrInvalidObject, r)
		}
	}()

	return FromTable(types.GetRootAsObject(data, 0))
}

// MarshalHeader encodes a header alone.
func MarshalHeader(h *Header) []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(BuildHeader(builder, h))

	return builder.FinishedBytes()
}

// UnmarshalHeader decodes bytes produced by MarshalHeader.
func UnmarshalHeader(data []byte) (h *Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%w: malformed header: %v", ErrInvalidObject, r)
		}
	}()

	return HeaderFromTable(types.GetRootAsObjectHeader(data, 0))
}

// BuildObject writes an Object table into builder.
func BuildObject(builder *flatbuffers.Builder, obj *Object, compress bool) flatbuffers.UOffsetT {
	payload := obj.Payload
	compressed := false

	if compress && ShouldCompress(payload) {
		if c := Compress(payload); len(c) < len(payload) {
			payload, compressed = c, true
		}
	}

	payloadVec := builder.CreateByteVector(payload)
	headerOff := BuildHeader(builder, &obj.Header)

	types.ObjectStart(builder)
	types.ObjectAddHeader(builder, headerOff)
	types.ObjectAddPayload(builder, payloadVec)
	types.ObjectAddCompressed(builder, compressed)

	return types.ObjectEnd(builder)
}

// FromTable converts a decoded Object table, decompressing the payload if needed.
func FromTable(t *types.Object) (*Object, error) {
	ht := t.Header(nil)
	if ht == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidObject)
	}

	h, err := HeaderFromTable(ht)
	if err != nil {
		return nil, err
	}

	raw := t.PayloadBytes()
	payload := make([]byte, len(raw))
	copy(payload, raw)

	if t.Compressed() {
		payload, err = Decompress(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress payload:\n%w", err)
		}
	}

	return &Object{Header: *h, Payload: payload}, nil
}

// BuildHeader writes an ObjectHeader table into builder.
func BuildHeader(builder *flatbuffers.Builder, h *Header) flatbuffers.UOffsetT {
	cidVec := builder.CreateByteVector(h.Container[:])
	oidVec := builder.CreateByteVector(h.ID[:])
	ownerVec := builder.CreateByteVector(h.Owner[:])
	hashVec := builder.CreateByteVector(h.PayloadHash[:])

	attrs := make([]flatbuffers.UOffsetT, len(h.Attributes))
	for i, a := range h.Attributes {
		attrs[i] = BuildAttribute(builder, a.Key, a.Value)
	}

	types.ObjectHeaderStartAttributesVector(builder, len(attrs))
	for i := len(attrs) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(attrs[i])
	}
	attrVec := builder.EndVector(len(attrs))

	types.ObjectHeaderStart(builder)
	types.ObjectHeaderAddContainerId(builder, cidVec)
	types.ObjectHeaderAddObjectId(builder, oidVec)
	types.ObjectHeaderAddOwner(builder, ownerVec)
	types.ObjectHeaderAddObjectType(builder, types.ObjectType(h.Type))
	types.ObjectHeaderAddPayloadSize(builder, h.PayloadSize)
	types.ObjectHeaderAddPayloadHash(builder, hashVec)
	types.ObjectHeaderAddCreatedEpoch(builder, h.CreatedEpoch)
	types.ObjectHeaderAddAttributes(builder, attrVec)

	return types.ObjectHeaderEnd(builder)
}

// HeaderFromTable converts a decoded ObjectHeader table.
func HeaderFromTable(t *types.ObjectHeader) (*Header, error) {
	h := &Header{
		Type:         Type(t.ObjectType()),
		PayloadSize:  t.PayloadSize(),
		CreatedEpoch: t.CreatedEpoch(),
	}

	var err error
	if h.Container, err = ContainerIDFromBytes(t.ContainerIdBytes()); err != nil {
		return nil, err
	}
	if h.ID, err = IDFromBytes(t.ObjectIdBytes()); err != nil {
		return nil, err
	}
	if err := copyFixed(h.Owner[:], t.OwnerBytes(), "owner"); err != nil {
		return nil, err
	}
	if err := copyFixed(h.PayloadHash[:], t.PayloadHashBytes(), "payload hash"); err != nil {
		return nil, err
	}

	var attr types.Attribute
	for i := 0; i < t.AttributesLength(); i++ {
		if t.Attributes(&attr, i) {
			h.Attributes = append(h.Attributes, Attribute{
				Key:   string(attr.Key()),
				Value: string(attr.Value()),
			})
		}
	}

	return h, nil
}

// BuildAddress writes an Address table into builder.
func BuildAddress(builder *flatbuffers.Builder, a Address) flatbuffers.UOffsetT {
	cidVec := builder.CreateByteVector(a.Container[:])
	oidVec := builder.CreateByteVector(a.Object[:])

	types.AddressStart(builder)
	types.AddressAddContainerId(builder, cidVec)
	types.AddressAddObjectId(builder, oidVec)

	return types.AddressEnd(builder)
}

// AddressFromTable converts a decoded Address table.
func AddressFromTable(t *types.Address) (Address, error) {
	c, err := ContainerIDFromBytes(t.ContainerIdBytes())
	if err != nil {
		return Address{}, err
	}

	id, err := IDFromBytes(t.ObjectIdBytes())
	if err != nil {
		return Address{}, err
	}

	return Address{Container: c, Object: id}, nil
}

// BuildAttribute writes a key/value Attribute table into builder.
func BuildAttribute(builder *flatbuffers.Builder, key, value string) flatbuffers.UOffsetT {
	k := builder.CreateString(key)
	v := builder.CreateString(value)

	types.AttributeStart(builder)
	types.AttributeAddKey(builder, k)
	types.AttributeAddValue(builder, v)

	return types.AttributeEnd(builder)
}

func copyFixed(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: %s length %d", ErrInvalidObject, field, len(src))
	}
	copy(dst, src)

	return nil
}
