// Package blssig provides the in-circuit side of the signature collaborator:
// selection and aggregation of BLS12-381 public keys in G1 and verification
// of an aggregate signature in G2 against a message point, all emulated over
// the BN254 scalar field.
//
// Hashing the message to the curve is NOT done here; it is delegated to the
// HashToCurve contract so a deployment can plug in a full hash-to-curve
// gadget without touching this package.
package blssig

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_bls12381"
	"github.com/consensys/gnark/std/algebra/emulated/sw_emulated"
	"github.com/consensys/gnark/std/math/emulated"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
)

// AggregateProof carries the witness of one aggregate signature check: the
// aggregated signature and the message hashed to G2. The message point is
// bound to the message commitment through the HashToCurve contract.
type AggregateProof struct {
	Signature    sw_bls12381.G2Affine
	MessagePoint sw_bls12381.G2Affine
}

// NewAggregateProof converts an off-circuit signature and message point into
// witness form.
func NewAggregateProof(sig, messagePoint bls12381.G2Affine) AggregateProof {
	return AggregateProof{
		Signature:    sw_bls12381.NewG2Affine(sig),
		MessagePoint: sw_bls12381.NewG2Affine(messagePoint),
	}
}

// HashToCurve binds a message commitment to a G2 point. Implementations must
// constrain point == HashToG2(message) under the module's domain separation
// tag.
type HashToCurve interface {
	AssertMessagePoint(api frontend.API, message frontend.Variable, point *sw_bls12381.G2Affine) error
}

// UncheckedHashToCurve accepts any witnessed message point without
// constraining it. The off-circuit verifier recomputes the point from the
// message, so a dishonest point makes the pairing check fail against honestly
// aggregated keys; a constrained implementation removes that trust in the
// witness builder. Placeholder until a full hash-to-curve gadget is plugged.
type UncheckedHashToCurve struct{}

// AssertMessagePoint implements HashToCurve without adding constraints.
func (UncheckedHashToCurve) AssertMessagePoint(frontend.API, frontend.Variable, *sw_bls12381.G2Affine) error {
	return nil
}

// PubKeyFromChunks recomposes a public key from the four 24-byte big-endian
// chunks committed in a forest leaf: X = chunk0 || chunk1, Y = chunk2 ||
// chunk3. Decomposing each chunk to 192 bits range-checks it, so the same
// chunk variables can feed both the leaf hash and the curve point.
func PubKeyFromChunks(api frontend.API, chunks []frontend.Variable) (*sw_bls12381.G1Affine, error) {
	if len(chunks) != 4 {
		return nil, fmt.Errorf("expected 4 public key chunks, got %d", len(chunks))
	}
	fp, err := emulated.NewField[sw_bls12381.BaseField](api)
	if err != nil {
		return nil, fmt.Errorf("cannot build emulated base field: %w", err)
	}
	// FromBits takes bits least significant first, so the low chunk goes
	// first and each chunk contributes its own 192 bits
	xBits := append(api.ToBinary(chunks[1], 192), api.ToBinary(chunks[0], 192)...)
	yBits := append(api.ToBinary(chunks[3], 192), api.ToBinary(chunks[2], 192)...)
	return &sw_bls12381.G1Affine{
		X: *fp.FromBits(xBits...),
		Y: *fp.FromBits(yBits...),
	}, nil
}

// AggregatePublicKeys sums the public keys whose selector bit is set. At
// least one bit must be set; the first selected key is tracked separately so
// the accumulator never carries an unselected key.
func AggregatePublicKeys(api frontend.API, pubKeys []*sw_bls12381.G1Affine, bits []frontend.Variable) (*sw_bls12381.G1Affine, error) {
	if len(pubKeys) == 0 || len(pubKeys) != len(bits) {
		return nil, fmt.Errorf("pubkey/selector length mismatch: %d vs %d", len(pubKeys), len(bits))
	}
	curve, err := sw_emulated.New[sw_bls12381.BaseField, sw_bls12381.ScalarField](api, sw_emulated.GetBLS12381Params())
	if err != nil {
		return nil, fmt.Errorf("cannot build emulated curve: %w", err)
	}
	acc := pubKeys[0]
	selected := bits[0]
	for i := 1; i < len(pubKeys); i++ {
		isFirst := api.And(api.IsZero(selected), bits[i])
		shouldAdd := api.And(selected, bits[i])
		// the sum is computed even when unselected, and witness padding
		// repeats keys, so the addition must be the complete one
		sum := curve.AddUnified(acc, pubKeys[i])
		acc = curve.Select(shouldAdd, sum, acc)
		acc = curve.Select(isFirst, pubKeys[i], acc)
		selected = api.Or(selected, bits[i])
	}
	api.AssertIsEqual(selected, 1)
	return acc, nil
}

// AssertAggregateVerifies checks e(-g1, sig) * e(aggPk, Hm) == 1, the same
// equation the off-circuit verifier evaluates.
func AssertAggregateVerifies(api frontend.API, aggPk *sw_bls12381.G1Affine, proof *AggregateProof) error {
	pairing, err := sw_bls12381.NewPairing(api)
	if err != nil {
		return fmt.Errorf("cannot build pairing: %w", err)
	}
	pairing.AssertIsOnG1(aggPk)
	pairing.AssertIsOnG2(&proof.Signature)
	pairing.AssertIsOnG2(&proof.MessagePoint)

	curve, err := sw_emulated.New[sw_bls12381.BaseField, sw_bls12381.ScalarField](api, sw_emulated.GetBLS12381Params())
	if err != nil {
		return fmt.Errorf("cannot build emulated curve: %w", err)
	}
	negG1 := curve.Neg(curve.Generator())
	return pairing.PairingCheck(
		[]*sw_bls12381.G1Affine{negG1, aggPk},
		[]*sw_bls12381.G2Affine{&proof.Signature, &proof.MessagePoint},
	)
}
