package container

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/types"
)

var (
	// ErrNotFound is returned when a container is unknown.
	ErrNotFound = errors.New("container not found")

	// ErrInvalid is returned for malformed containers.
	ErrInvalid = errors.New("invalid container")
)

// Container groups objects under one placement policy.
type Container struct {
	Owner        [32]byte                // Owner is the creator's ed25519 public key
	Nonce        uuid.UUID               // Nonce makes otherwise equal containers distinct
	Name         string                  // Name is a human readable label
	Policy       *netmap.PlacementPolicy // Policy decides where objects are stored
	CreatedEpoch uint64                  // CreatedEpoch is the epoch of creation
}

// New creates a container with a random nonce.
func New(owner [32]byte, name string, policy *netmap.PlacementPolicy, epoch uint64) *Container {
	return &Container{
		Owner:        owner,
		Nonce:        uuid.New(),
		Name:         name,
		Policy:       policy,
		CreatedEpoch: epoch,
	}
}

// ID returns the BLAKE3 hash of the encoded container.
func (c *Container) ID() object.ContainerID {
	return object.ContainerID(blake3.Sum256(c.Marshal()))
}

// Marshal encodes the container as a FlatBuffers Container table.
// The policy is stored in its text form.
func (c *Container) Marshal() []byte {
	builder := flatbuffers.NewBuilder(256)

	ownerVec := builder.CreateByteVector(c.Owner[:])
	nonceVec := builder.CreateByteVector(c.Nonce[:])
	name := builder.CreateString(c.Name)

	policy := ""
	if c.Policy != nil {
		policy = c.Policy.String()
	}
	policyOff := builder.CreateString(policy)

	types.ContainerStart(builder)
	types.ContainerAddOwner(builder, ownerVec)
	types.ContainerAddNonce(builder, nonceVec)
	types.ContainerAddName(builder, name)
	types.ContainerAddPolicy(builder, policyOff)
	types.ContainerAddCreatedEpoch(builder, c.CreatedEpoch)
	builder.Finish(types.ContainerEnd(builder))

	return builder.FinishedBytes()
}

// Unmarshal decodes bytes produced by Marshal and parses the policy.
func Unmarshal(data []byte) (c *Container, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("%w: %v", ErrInvalid, r)
		}
	}()

	t := types.GetRootAsContainer(data, 0)
	c = &Container{
		Name:         string(t.Name()),
		CreatedEpoch: t.CreatedEpoch(),
	}

	if len(t.OwnerBytes()) != len(c.Owner) {
		return nil, fmt.Errorf("%w: owner length %d", ErrInvalid, len(t.OwnerBytes()))
	}
	copy(c.Owner[:], t.OwnerBytes())

	if c.Nonce, err = uuid.FromBytes(t.NonceBytes()); err != nil {
		return nil, fmt.Errorf("%w: nonce:\n%v", ErrInvalid, err)
	}

	if c.Policy, err = netmap.ParsePolicy(string(t.Policy())); err != nil {
		return nil, fmt.Errorf("%w: policy:\n%w", ErrInvalid, err)
	}

	return c, nil
}

// Source resolves containers by ID.
type Source interface {
	Get(id object.ContainerID) (*Container, error)
}
