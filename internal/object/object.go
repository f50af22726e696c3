package object

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// Type distinguishes regular objects from tombstones.
type Type uint8

const (
	// TypeRegular is a data object.
	TypeRegular Type = 0

	// TypeTombstone marks other objects of the same container as removed.
	TypeTombstone Type = 1
)

// String returns the lowercase type name.
func (t Type) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

var (
	// ErrInvalidObject is returned when an object fails validation.
	ErrInvalidObject = errors.New("invalid object")
)

// Attribute is a user supplied key/value attached to an object header.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Header carries the object metadata. The object ID is derived from every
// other field, so a header cannot be altered without changing the ID.
type Header struct {
	Container    ContainerID // Container is the owning container
	ID           ID          // ID is the hash of the remaining fields
	Owner        [32]byte    // Owner is the ed25519 public key of the uploader
	Type         Type        // Type is regular or tombstone
	PayloadSize  uint64      // PayloadSize is the uncompressed payload length
	PayloadHash  [32]byte    // PayloadHash is BLAKE3 of the payload
	CreatedEpoch uint64      // CreatedEpoch is the netmap epoch at creation
	Attributes   []Attribute // Attributes are user metadata
}

// Address returns the header's object address.
func (h *Header) Address() Address {
	return Address{Container: h.Container, Object: h.ID}
}

// ComputeID hashes every header field except the ID itself.
func (h *Header) ComputeID() ID {
	hasher := blake3.New()

	var num [8]byte

	hasher.Write(h.Container[:])
	hasher.Write(h.Owner[:])
	hasher.Write([]byte{byte(h.Type)})

	binary.BigEndian.PutUint64(num[:], h.PayloadSize)
	hasher.Write(num[:])
	hasher.Write(h.PayloadHash[:])

	binary.BigEndian.PutUint64(num[:], h.CreatedEpoch)
	hasher.Write(num[:])

	for _, a := range h.Attributes {
		writeString(hasher, a.Key)
		writeString(hasher, a.Value)
	}

	var id ID
	copy(id[:], hasher.Sum(nil))

	return id
}

// writeString writes a length-prefixed string so that attribute
// boundaries are unambiguous.
func writeString(h *blake3.Hasher, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Object is a header plus its payload.
type Object struct {
	Header  Header // Header is the object metadata
	Payload []byte // Payload is the raw, uncompressed content
}

// New creates a regular object and seals its header.
func New(cnr ContainerID, owner [32]byte, payload []byte, epoch uint64, attrs ...Attribute) *Object {
	obj := &Object{
		Header: Header{
			Container:    cnr,
			Owner:        owner,
			Type:         TypeRegular,
			CreatedEpoch: epoch,
			Attributes:   attrs,
		},
		Payload: payload,
	}

	obj.Seal()

	return obj
}

// Seal fills the payload size and hash and recomputes the ID.
func (o *Object) Seal() {
	o.Header.PayloadSize = uint64(len(o.Payload))
	o.Header.PayloadHash = blake3.Sum256(o.Payload)
	o.Header.ID = o.Header.ComputeID()
}

// Address returns the object's address.
func (o *Object) Address() Address {
	return o.Header.Address()
}

// Validate checks the payload against the header and the header against its ID.
func (o *Object) Validate() error {
	if o.Header.Container.IsZero() {
		return fmt.Errorf("%w: missing container", ErrInvalidObject)
	}

	if uint64(len(o.Payload)) != o.Header.PayloadSize {
		return fmt.Errorf("%w: payload size %d, header says %d",
			ErrInvalidObject, len(o.Payload), o.Header.PayloadSize)
	}

	if blake3.Sum256(o.Payload) != o.Header.PayloadHash {
		return fmt.Errorf("%w: payload hash mismatch", ErrInvalidObject)
	}

	if o.Header.ComputeID() != o.Header.ID {
		return fmt.Errorf("%w: id mismatch", ErrInvalidObject)
	}

	return nil
}
