package rotation

import (
	"fmt"
	"math/big"
	"sort"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/vocdoni/arbo"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/circuits/blssig"
	"github.com/lightfold/lightfold/circuits/lmf"
	"github.com/lightfold/lightfold/crypto/bls"
	"github.com/lightfold/lightfold/forest"
	"github.com/lightfold/lightfold/types"
)

// Message returns the bytes a committee signs to authorize a rotation: the
// MiMC commitment to the new aggregate root and the next epoch. Its field
// element equals the in-circuit message commitment.
func Message(rootAfter types.HexBytes, epochNext uint64) ([]byte, error) {
	return forest.HashFunc.Hash(
		rootAfter,
		arbo.BigIntToBytes(32, new(big.Int).SetUint64(epochNext)),
	)
}

// AttesterWitness is the off-circuit input for one attester slot.
type AttesterWitness struct {
	Validator *types.Validator
	Proof     *forest.MembershipProof
	Signed    bool
}

// StepInput collects everything one rotation step proves.
type StepInput struct {
	RootBefore  types.HexBytes
	RootAfter   types.HexBytes
	EpochBefore uint64
	Threshold   uint64
	Attesters   []*AttesterWitness
	Delta       []*forest.Transition
	// Signature is the aggregate over Message(RootAfter, EpochBefore+1) by
	// the signed attesters; MessagePoint is that message hashed to G2.
	Signature    *bls.Signature
	MessagePoint bls12381.G2Affine
}

// Assignment builds the circuit witness for a step input: attesters sorted by
// forest slot and padded with unsigned duplicates, the delta padded with
// noops.
func Assignment(params circuits.Params, in *StepInput) (*Circuit, error) {
	if len(in.Attesters) == 0 {
		return nil, fmt.Errorf("a step needs at least one attester")
	}
	if len(in.Attesters) > params.MaxAttesters {
		return nil, fmt.Errorf("%d attesters exceed the circuit bound of %d",
			len(in.Attesters), params.MaxAttesters)
	}
	if len(in.Delta) > params.MaxDeltaOps {
		return nil, fmt.Errorf("%d delta ops exceed the circuit bound of %d",
			len(in.Delta), params.MaxDeltaOps)
	}
	if in.Signature == nil {
		return nil, fmt.Errorf("missing aggregate signature")
	}

	attesters := make([]*AttesterWitness, len(in.Attesters))
	copy(attesters, in.Attesters)
	sort.Slice(attesters, func(i, j int) bool {
		a, b := attesters[i].Proof, attesters[j].Proof
		if a.LevelIndex != b.LevelIndex {
			return a.LevelIndex < b.LevelIndex
		}
		return a.Position < b.Position
	})

	w := &Circuit{
		RootHashBefore:  arbo.BytesToBigInt(in.RootBefore),
		RootHashAfter:   arbo.BytesToBigInt(in.RootAfter),
		EpochBefore:     in.EpochBefore,
		QuorumThreshold: in.Threshold,
		Attesters:       make([]Attester, params.MaxAttesters),
		Delta:           make([]lmf.Transition, params.MaxDeltaOps),
		BLSProof:        blssig.NewAggregateProof(in.Signature.Point(), in.MessagePoint),
	}
	for i := range w.Attesters {
		src := attesters[0] // padding duplicates the first slot, unsigned
		signed := false
		if i < len(attesters) {
			src = attesters[i]
			signed = src.Signed
		}
		att, err := attesterWitness(params, src, signed)
		if err != nil {
			return nil, fmt.Errorf("attester %d: %w", i, err)
		}
		w.Attesters[i] = att
	}

	cfg := forestConfig(params)
	for i := range w.Delta {
		tr := forest.Noop(cfg, in.RootAfter)
		if i < len(in.Delta) {
			tr = in.Delta[i]
		}
		wt, err := lmf.TransitionFromForest(params, tr)
		if err != nil {
			return nil, fmt.Errorf("delta op %d: %w", i, err)
		}
		w.Delta[i] = wt
	}
	return w, nil
}

func attesterWitness(params circuits.Params, src *AttesterWitness, signed bool) (Attester, error) {
	mp, err := lmf.MembershipProofFromForest(params, src.Proof)
	if err != nil {
		return Attester{}, err
	}
	chunks, err := forest.PubKeyChunksOf(src.Validator.PubKey)
	if err != nil {
		return Attester{}, err
	}
	att := Attester{
		Weight:     src.Validator.Weight,
		Signed:     0,
		Membership: mp,
	}
	if signed {
		att.Signed = 1
	}
	for i, ch := range chunks {
		att.PkChunks[i] = ch
	}
	return att, nil
}

func forestConfig(params circuits.Params) forest.Config {
	return forest.Config{
		LeafCapacity: params.LeafCapacity,
		MaxLevels:    params.MaxLevels,
	}
}
