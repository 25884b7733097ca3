// Package bls implements the off-circuit side of the signature collaborator:
// BLS signatures over BLS12-381 with public keys in G1 and signatures in G2,
// including aggregation of both. The on-circuit counterpart lives in
// circuits/blssig and consumes the same message point convention.
package bls

import (
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/lightfold/lightfold/types"
)

// DomainSeparationTag is the DST for hashing rotation messages to G2. The
// off-circuit prover and any external hash-to-curve gadget must agree on it.
const DomainSeparationTag = "LIGHTFOLD-V1-CS01-SHA256-BLS12381G2"

// SecretKey is a BLS12-381 scalar.
type SecretKey struct {
	s fr.Element
}

// PublicKey is a point in G1.
type PublicKey struct {
	p bls12381.G1Affine
}

// Signature is a point in G2.
type Signature struct {
	s bls12381.G2Affine
}

// GenerateKey returns a new random secret key.
func GenerateKey() (*SecretKey, error) {
	sk := &SecretKey{}
	if _, err := sk.s.SetRandom(); err != nil {
		return nil, fmt.Errorf("cannot sample secret key: %w", err)
	}
	return sk, nil
}

// GenerateKeyFromSeed derives a secret key from the given seed bytes. Used in
// tests to produce deterministic keys.
func GenerateKeyFromSeed(seed []byte) *SecretKey {
	sk := &SecretKey{}
	sk.s.SetBytes(seed)
	if sk.s.IsZero() {
		sk.s.SetOne()
	}
	return sk
}

// Public returns the public key pk = sk * g1.
func (sk *SecretKey) Public() *PublicKey {
	pk := &PublicKey{}
	_, _, g1, _ := bls12381.Generators()
	pk.p.ScalarMultiplication(&g1, sk.s.BigInt(new(big.Int)))
	return pk
}

// Sign produces sig = sk * HashToPoint(msg).
func (sk *SecretKey) Sign(msg []byte) (*Signature, error) {
	hm, err := HashToPoint(msg)
	if err != nil {
		return nil, err
	}
	sig := &Signature{}
	sig.s.ScalarMultiplication(&hm, sk.s.BigInt(new(big.Int)))
	return sig, nil
}

// HashToPoint maps a message to G2 using the module's domain separation tag.
// This is the off-circuit image of the hash-to-curve gadget contract.
func HashToPoint(msg []byte) (bls12381.G2Affine, error) {
	hm, err := bls12381.HashToG2(msg, []byte(DomainSeparationTag))
	if err != nil {
		return bls12381.G2Affine{}, fmt.Errorf("hash to curve failed: %w", err)
	}
	return hm, nil
}

// Bytes returns the 96-byte uncompressed encoding of the public key.
func (pk *PublicKey) Bytes() types.HexBytes {
	raw := pk.p.RawBytes()
	return raw[:]
}

// Point returns the underlying G1 point.
func (pk *PublicKey) Point() bls12381.G1Affine { return pk.p }

// PublicKeyFromBytes decodes a public key from its uncompressed encoding.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != types.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", types.PublicKeySize, len(b))
	}
	pk := &PublicKey{}
	if _, err := pk.p.SetBytes(b); err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return pk, nil
}

// Bytes returns the 192-byte uncompressed encoding of the signature.
func (s *Signature) Bytes() types.HexBytes {
	raw := s.s.RawBytes()
	return raw[:]
}

// Point returns the underlying G2 point.
func (s *Signature) Point() bls12381.G2Affine { return s.s }

// SignatureFromBytes decodes a signature from its uncompressed encoding.
func SignatureFromBytes(b []byte) (*Signature, error) {
	if len(b) != types.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", types.SignatureSize, len(b))
	}
	sig := &Signature{}
	if _, err := sig.s.SetBytes(b); err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	return sig, nil
}

// AggregateSignatures sums the signatures into one.
func AggregateSignatures(sigs ...*Signature) (*Signature, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&sigs[0].s)
	for _, sig := range sigs[1:] {
		acc.AddMixed(&sig.s)
	}
	out := &Signature{}
	out.s.FromJacobian(&acc)
	return out, nil
}

// AggregatePublicKeys sums the public keys into one.
func AggregatePublicKeys(pks ...*PublicKey) (*PublicKey, error) {
	if len(pks) == 0 {
		return nil, fmt.Errorf("no public keys to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&pks[0].p)
	for _, pk := range pks[1:] {
		acc.AddMixed(&pk.p)
	}
	out := &PublicKey{}
	out.p.FromJacobian(&acc)
	return out, nil
}

// Verify checks sig against pk and msg: e(-g1, sig) * e(pk, H(msg)) == 1.
// For an aggregate signature, pk must be the aggregate public key of the
// signers.
func Verify(pk *PublicKey, msg []byte, sig *Signature) (bool, error) {
	hm, err := HashToPoint(msg)
	if err != nil {
		return false, err
	}
	_, _, g1, _ := bls12381.Generators()
	var negG1 bls12381.G1Affine
	negG1.Neg(&g1)
	return bls12381.PairingCheck(
		[]bls12381.G1Affine{negG1, pk.p},
		[]bls12381.G2Affine{sig.s, hm},
	)
}
