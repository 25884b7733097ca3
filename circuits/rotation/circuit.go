// Package rotation implements the committee rotation step circuit: the proof
// that a quorum of the committee committed to RootHashBefore signed off on
// the committee committed to RootHashAfter for the next epoch.
package rotation

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/emulated/sw_bls12381"
	"github.com/vocdoni/gnark-crypto-primitives/utils"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/circuits/blssig"
	"github.com/lightfold/lightfold/circuits/lmf"
	"github.com/lightfold/lightfold/forest"
)

var HashFn = utils.MiMCHasher

// Attester is one committee member carried by the step witness: its leaf
// preimage, its membership proof against RootHashBefore and whether it signed
// the rotation.
type Attester struct {
	PkChunks   [forest.PubKeyChunks]frontend.Variable
	Weight     frontend.Variable
	Signed     frontend.Variable
	Membership lmf.MembershipProof
}

// NewAttester returns an attester with slices sized for the given params, for
// use in circuit placeholders.
func NewAttester(params circuits.Params) Attester {
	return Attester{Membership: lmf.NewMembershipProof(params)}
}

type Circuit struct {
	// ---------------------------------------------------------------------------------------------
	// PUBLIC INPUTS

	RootHashBefore  frontend.Variable `gnark:",public"`
	RootHashAfter   frontend.Variable `gnark:",public"`
	EpochBefore     frontend.Variable `gnark:",public"`
	QuorumThreshold frontend.Variable `gnark:",public"`

	// ---------------------------------------------------------------------------------------------
	// SECRET INPUTS

	// Attesters hold the signers, ordered by forest slot, padded with
	// unsigned duplicates. Every entry must prove membership in
	// RootHashBefore; only signed entries count toward the quorum.
	Attesters []Attester
	// Delta is the chain of single-slot forest changes from RootHashBefore
	// to RootHashAfter, padded with noops.
	Delta []lmf.Transition
	// BLSProof is the aggregate signature over the message committing to
	// RootHashAfter and the next epoch.
	BLSProof blssig.AggregateProof

	params circuits.Params
	htc    blssig.HashToCurve
}

// NewCircuit returns a placeholder circuit sized for the given params, with
// the given hash-to-curve collaborator bound in.
func NewCircuit(params circuits.Params, htc blssig.HashToCurve) *Circuit {
	c := &Circuit{
		Attesters: make([]Attester, params.MaxAttesters),
		Delta:     make([]lmf.Transition, params.MaxDeltaOps),
		params:    params,
		htc:       htc,
	}
	for i := range c.Attesters {
		c.Attesters[i] = NewAttester(params)
	}
	for i := range c.Delta {
		c.Delta[i] = lmf.NewTransition(params)
	}
	return c
}

// Placeholder returns a circuit placeholder with the unconstrained
// hash-to-curve collaborator.
func Placeholder(params circuits.Params) *Circuit {
	return NewCircuit(params, blssig.UncheckedHashToCurve{})
}

// Define declares the circuit's constraints.
func (circuit Circuit) Define(api frontend.API) error {
	circuit.VerifyMemberships(api, HashFn)
	circuit.VerifyQuorum(api)
	circuit.VerifyTransitionChain(api, HashFn)
	circuit.VerifySignature(api, HashFn)
	return nil
}

// VerifyMemberships asserts that every attester is a member of the committee
// committed to RootHashBefore, that its leaf commits to its key chunks and
// weight, and that no forest slot appears twice among the signers.
func (circuit Circuit) VerifyMemberships(api frontend.API, hFn utils.Hasher) {
	seen := frontend.Variable(0)
	lastLoc := frontend.Variable(0)
	for i := range circuit.Attesters {
		att := &circuit.Attesters[i]
		api.AssertIsBoolean(att.Signed)
		att.Membership.Verify(api, hFn, circuit.params, circuit.RootHashBefore)
		att.Membership.VerifyLeafHash(api, hFn, att.PkChunks[:], att.Weight)

		// slot locator, unique per (level, position); signed entries must
		// be strictly increasing so no member signs twice
		loc := circuit.slotLocator(api, &att.Membership)
		cmp := api.Cmp(loc, lastLoc)
		mustIncrease := api.And(att.Signed, seen)
		api.AssertIsEqual(api.Mul(mustIncrease, api.Sub(cmp, 1)), 0)
		lastLoc = api.Select(att.Signed, loc, lastLoc)
		seen = api.Or(seen, att.Signed)
	}
}

// slotLocator packs the level index and in-level position of a membership
// proof into a single small variable.
func (circuit Circuit) slotLocator(api frontend.API, mp *lmf.MembershipProof) frontend.Variable {
	levelIdx := frontend.Variable(0)
	for l := range mp.LevelSelector {
		levelIdx = api.Add(levelIdx, api.Mul(mp.LevelSelector[l], l))
	}
	pos := frontend.Variable(0)
	for i := range mp.PathBits {
		pos = api.Add(pos, api.Mul(mp.PathBits[i], 1<<i))
	}
	return api.Add(api.Mul(levelIdx, 1<<circuit.params.MaxDepth()), pos)
}

// VerifyQuorum asserts that the signed weight reaches the public threshold.
func (circuit Circuit) VerifyQuorum(api frontend.API) {
	sum := frontend.Variable(0)
	for i := range circuit.Attesters {
		att := &circuit.Attesters[i]
		sum = api.Add(sum, api.Mul(att.Signed, att.Weight))
	}
	api.AssertIsLessOrEqual(circuit.QuorumThreshold, sum)
}

// VerifyTransitionChain verifies the chain of forest changes, order here is
// fundamental: each transition starts from the root the previous one
// produced, and the last one must land on RootHashAfter.
func (circuit Circuit) VerifyTransitionChain(api frontend.API, hFn utils.Hasher) {
	root := circuit.RootHashBefore
	for i := range circuit.Delta {
		root = circuit.Delta[i].Verify(api, hFn, circuit.params, root)
	}
	api.AssertIsEqual(root, circuit.RootHashAfter)
}

// VerifySignature recomposes the attester public keys, aggregates the signed
// ones and checks the aggregate signature over the rotation message, which
// commits to RootHashAfter and the incremented epoch.
func (circuit Circuit) VerifySignature(api frontend.API, hFn utils.Hasher) {
	msg, err := hFn(api, circuit.RootHashAfter, api.Add(circuit.EpochBefore, 1))
	if err != nil {
		circuits.FrontendError(api, "message commitment hash failed", err)
	}
	if err := circuit.htc.AssertMessagePoint(api, msg, &circuit.BLSProof.MessagePoint); err != nil {
		circuits.FrontendError(api, "message point binding failed", err)
	}

	pks := make([]*sw_bls12381.G1Affine, len(circuit.Attesters))
	bits := make([]frontend.Variable, len(circuit.Attesters))
	for i := range circuit.Attesters {
		pk, err := blssig.PubKeyFromChunks(api, circuit.Attesters[i].PkChunks[:])
		if err != nil {
			circuits.FrontendError(api, "public key recomposition failed", err)
		}
		pks[i] = pk
		bits[i] = circuit.Attesters[i].Signed
	}
	aggPk, err := blssig.AggregatePublicKeys(api, pks, bits)
	if err != nil {
		circuits.FrontendError(api, "public key aggregation failed", err)
	}
	if err := blssig.AssertAggregateVerifies(api, aggPk, &circuit.BLSProof); err != nil {
		circuits.FrontendError(api, "aggregate signature verification failed", err)
	}
}
