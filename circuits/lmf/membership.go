// Package lmf provides the in-circuit verification gadgets of the Leveled
// Merkle Forest: membership of a leaf in the aggregate root and single-slot
// leaf transitions. The gadgets re-derive every root from authentication
// paths; supplied roots are checked, never trusted.
//
// The off-circuit counterpart lives in the forest package; both sides hash
// with the same MiMC instance over the BN254 scalar field.
package lmf

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/utils"

	"github.com/lightfold/lightfold/circuits"
)

// MembershipProof authenticates one leaf against the aggregate forest root.
// The sibling array is sized for the deepest possible level; the one-hot
// LevelSelector determines how many path steps are active.
type MembershipProof struct {
	// LevelSelector is a one-hot vector over the forest levels marking the
	// level the leaf lives in.
	LevelSelector []frontend.Variable
	// PathBits are the bits of the leaf position inside its level, least
	// significant first. Bit j set means the path node is a right child at
	// depth j. Bits beyond the level depth must be zero.
	PathBits []frontend.Variable
	// Siblings is the in-level authentication path, leaf to root, padded
	// with zeros beyond the level depth.
	Siblings []frontend.Variable
	// LevelRoots are all level roots padded with the empty sentinel, with
	// the leaf's own level as committed.
	LevelRoots []frontend.Variable
	LeafHash   frontend.Variable
	Root       frontend.Variable
}

// NewMembershipProof returns a proof with slices sized for the given params,
// for use in circuit placeholders.
func NewMembershipProof(params circuits.Params) MembershipProof {
	return MembershipProof{
		LevelSelector: make([]frontend.Variable, params.MaxLevels),
		PathBits:      make([]frontend.Variable, params.MaxDepth()),
		Siblings:      make([]frontend.Variable, params.MaxDepth()),
		LevelRoots:    make([]frontend.Variable, params.MaxLevels),
	}
}

// Verify asserts that mp.Root matches the passed root and that mp.LeafHash,
// walked through the path at the selected level, reproduces it: the path
// yields the level root, which must equal the committed root of that level,
// and the aggregate of all level roots must equal mp.Root.
func (mp *MembershipProof) Verify(api frontend.API, hFn utils.Hasher, params circuits.Params, root frontend.Variable) {
	api.AssertIsEqual(root, mp.Root)
	assertOneHot(api, mp.LevelSelector)
	active := activeBits(api, params, mp.LevelSelector)
	assertPathBits(api, mp.PathBits, active)

	levelRoot := walkPath(api, hFn, mp.LeafHash, mp.Siblings, mp.PathBits, active)
	api.AssertIsEqual(levelRoot, dotProduct(api, mp.LevelSelector, mp.LevelRoots))

	agg, err := hFn(api, mp.LevelRoots...)
	if err != nil {
		circuits.FrontendError(api, "aggregate root hash failed", err)
	}
	api.AssertIsEqual(agg, mp.Root)
}

// VerifyLeafHash asserts that the leaf commits to the given public key chunks
// and weight, binding the membership proof to the key used by the signature
// check.
func (mp *MembershipProof) VerifyLeafHash(api frontend.API, hFn utils.Hasher, pkChunks []frontend.Variable, weight frontend.Variable) {
	inputs := append(append([]frontend.Variable{}, pkChunks...), weight)
	leaf, err := hFn(api, inputs...)
	if err != nil {
		circuits.FrontendError(api, "leaf hash failed", err)
	}
	api.AssertIsEqual(leaf, mp.LeafHash)
}

// assertOneHot constrains sel to be boolean with exactly one bit set.
func assertOneHot(api frontend.API, sel []frontend.Variable) {
	sum := frontend.Variable(0)
	for _, s := range sel {
		api.AssertIsBoolean(s)
		sum = api.Add(sum, s)
	}
	api.AssertIsEqual(sum, 1)
}

// activeBits returns, for each path step, whether it is inside the depth of
// the selected level. Step i is active for level l iff i < depth(l), a
// compile-time fact, so each bit is a plain sum of selector entries.
func activeBits(api frontend.API, params circuits.Params, sel []frontend.Variable) []frontend.Variable {
	active := make([]frontend.Variable, params.MaxDepth())
	for i := range active {
		a := frontend.Variable(0)
		for l := 0; l < params.MaxLevels; l++ {
			if i < params.LevelDepth(l) {
				a = api.Add(a, sel[l])
			}
		}
		active[i] = a
	}
	return active
}

// assertPathBits constrains every bit to be boolean and zero beyond the
// active depth, so a position has exactly one witness encoding.
func assertPathBits(api frontend.API, bits, active []frontend.Variable) {
	for i, b := range bits {
		api.AssertIsBoolean(b)
		api.AssertIsEqual(api.Mul(b, api.Sub(1, active[i])), 0)
	}
}

// walkPath hashes leaf up through the padded sibling path, applying only the
// active steps, and returns the level root.
func walkPath(api frontend.API, hFn utils.Hasher, leaf frontend.Variable, siblings, bits, active []frontend.Variable) frontend.Variable {
	node := leaf
	for i := range siblings {
		left := api.Select(bits[i], siblings[i], node)
		right := api.Select(bits[i], node, siblings[i])
		h, err := hFn(api, left, right)
		if err != nil {
			circuits.FrontendError(api, "path node hash failed", err)
		}
		node = api.Select(active[i], h, node)
	}
	return node
}

// dotProduct returns sum(a[i]*b[i]); with a one-hot it selects one entry.
func dotProduct(api frontend.API, a, b []frontend.Variable) frontend.Variable {
	out := frontend.Variable(0)
	for i := range a {
		out = api.Add(out, api.Mul(a[i], b[i]))
	}
	return out
}
