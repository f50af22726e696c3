package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"Strata/internal/object"
)

const (
	// PublicKeySize is the size of a compressed BLS public key.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature.
	SignatureSize = 96
)

// dst is the domain separation tag for replica attestations.
var dst = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// ErrInvalidAttestation is returned when a signature does not verify.
var ErrInvalidAttestation = errors.New("invalid replica attestation")

// KeyPair signs replica attestations.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private scalar
	public *blst.P1Affine  // public is the G1 public key
}

// DeriveKey derives the node's BLS key from its ed25519 identity key,
// so both keys rotate together.
func DeriveKey(priv ed25519.PrivateKey) (*KeyPair, error) {
	h := blake3.New()
	h.Write([]byte("strata-attest-keygen"))
	h.Write(priv.Seed())

	var seed [32]byte
	h.Sum(seed[:0])

	return KeyFromSeed(seed[:])
}

// GenerateKey creates a key from a random seed.
func GenerateKey() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return KeyFromSeed(ikm[:])
}

// KeyFromSeed creates a key from at least 32 bytes of seed material.
func KeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes, got %d", len(seed))
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &KeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// Digest is the message a node signs to attest that it holds addr with
// the given payload hash.
func Digest(addr object.Address, payloadHash [32]byte) []byte {
	h := blake3.New()
	h.Write(addr.Container[:])
	h.Write(addr.Object[:])
	h.Write(payloadHash[:])

	return h.Sum(nil)
}

// Attest signs the digest of addr and payloadHash.
func (k *KeyPair) Attest(addr object.Address, payloadHash [32]byte) []byte {
	sig := new(blst.P2Affine).Sign(k.secret, Digest(addr, payloadHash), dst)
	return sig.Compress()
}

// Verify checks an attestation made with publicKey.
func Verify(publicKey, signature []byte, addr object.Address, payloadHash [32]byte) error {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return fmt.Errorf("%w: bad sizes", ErrInvalidAttestation)
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidAttestation)
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return fmt.Errorf("%w: bad key encoding", ErrInvalidAttestation)
	}

	if !sig.Verify(true, pk, true, Digest(addr, payloadHash), dst) {
		return ErrInvalidAttestation
	}

	return nil
}

// Aggregate combines attestations over the same digest into one signature.
func Aggregate(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))
	for i, raw := range signatures {
		if len(raw) != SignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		sigs[i] = new(blst.P2Affine).Uncompress(raw)
		if sigs[i] == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregate checks an aggregated attestation against every signer key.
func VerifyAggregate(signature []byte, publicKeys [][]byte, addr object.Address, payloadHash [32]byte) error {
	if len(signature) != SignatureSize || len(publicKeys) == 0 {
		return fmt.Errorf("%w: bad sizes", ErrInvalidAttestation)
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return fmt.Errorf("%w: bad signature encoding", ErrInvalidAttestation)
	}

	pks := make([]*blst.P1Affine, len(publicKeys))
	for i, raw := range publicKeys {
		if len(raw) != PublicKeySize {
			return fmt.Errorf("%w: bad key size at index %d", ErrInvalidAttestation, i)
		}

		pks[i] = new(blst.P1Affine).Uncompress(raw)
		if pks[i] == nil {
			return fmt.Errorf("%w: bad key at index %d", ErrInvalidAttestation, i)
		}
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return fmt.Errorf("%w: key aggregation failed", ErrInvalidAttestation)
	}

	if !sig.Verify(true, aggPk.ToAffine(), true, Digest(addr, payloadHash), dst) {
		return ErrInvalidAttestation
	}

	return nil
}
