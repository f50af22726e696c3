package object

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// IDSize is the length of container and object identifiers.
const IDSize = 32

// ErrInvalidID is returned when an identifier cannot be decoded.
var ErrInvalidID = errors.New("invalid identifier")

// ContainerID identifies a container. It is the BLAKE3 hash of the
// encoded container.
type ContainerID [IDSize]byte

// ID identifies an object inside a container. It is the BLAKE3 hash of
// the object header.
type ID [IDSize]byte

// String returns the lowercase hex form.
func (c ContainerID) String() string { return hex.EncodeToString(c[:]) }

// IsZero reports whether the identifier is unset.
func (c ContainerID) IsZero() bool { return c == ContainerID{} }

// String returns the lowercase hex form.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id == ID{} }

// ParseContainerID decodes a 64 character hex string.
func ParseContainerID(s string) (ContainerID, error) {
	var c ContainerID
	if err := decodeHex(s, c[:]); err != nil {
		return c, err
	}

	return c, nil
}

// ParseID decodes a 64 character hex string.
func ParseID(s string) (ID, error) {
	var id ID
	if err := decodeHex(s, id[:]); err != nil {
		return id, err
	}

	return id, nil
}

// ContainerIDFromBytes copies b into a ContainerID.
func ContainerIDFromBytes(b []byte) (ContainerID, error) {
	var c ContainerID
	if len(b) != IDSize {
		return c, fmt.Errorf("%w: container id length %d", ErrInvalidID, len(b))
	}
	copy(c[:], b)

	return c, nil
}

// IDFromBytes copies b into an ID.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDSize {
		return id, fmt.Errorf("%w: object id length %d", ErrInvalidID, len(b))
	}
	copy(id[:], b)

	return id, nil
}

func decodeHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(dst) {
		return fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	copy(dst, b)

	return nil
}

// Address locates an object: the container it belongs to and its ID.
// A zero Object means the address refers to the whole container.
type Address struct {
	Container ContainerID // Container is the owning container
	Object    ID          // Object is the object identifier, zero for container walks
}

// String returns "<container>/<object>".
func (a Address) String() string {
	return a.Container.String() + "/" + a.Object.String()
}

// Key returns the 64 byte binary form used in storage keys.
func (a Address) Key() []byte {
	k := make([]byte, 0, 2*IDSize)
	k = append(k, a.Container[:]...)
	k = append(k, a.Object[:]...)

	return k
}

// AddressFromKey decodes the binary form produced by Key.
func AddressFromKey(k []byte) (Address, error) {
	var a Address
	if len(k) != 2*IDSize {
		return a, fmt.Errorf("%w: address key length %d", ErrInvalidID, len(k))
	}
	copy(a.Container[:], k[:IDSize])
	copy(a.Object[:], k[IDSize:])

	return a, nil
}

// ParseAddress decodes the "<container>/<object>" form.
func ParseAddress(s string) (Address, error) {
	cs, ids, ok := strings.Cut(s, "/")
	if !ok {
		return Address{}, fmt.Errorf("%w: address %q", ErrInvalidID, s)
	}

	c, err := ParseContainerID(cs)
	if err != nil {
		return Address{}, err
	}

	id, err := ParseID(ids)
	if err != nil {
		return Address{}, err
	}

	return Address{Container: c, Object: id}, nil
}
