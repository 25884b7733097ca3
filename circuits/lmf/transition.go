package lmf

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/utils"

	"github.com/lightfold/lightfold/circuits"
)

// Transition proves one single-slot forest change. The operation is encoded
// in (Fnc0, Fnc1) the same way for witness and circuit:
//
//	(0,0) noop, (1,0) insert, (1,1) remove
//
// A noop re-asserts the root unchanged and skips the path checks; it pads the
// fixed-size transition array of the step circuit.
type Transition struct {
	Fnc0 frontend.Variable
	Fnc1 frontend.Variable

	LevelSelector []frontend.Variable
	PathBits      []frontend.Variable
	Siblings      []frontend.Variable
	OldLeafHash   frontend.Variable
	NewLeafHash   frontend.Variable

	// OldLevelRoots are the padded level roots before the change. The roots
	// after differ only at the selected level, which is recomputed from the
	// path rather than witnessed.
	OldLevelRoots []frontend.Variable
	OldRoot       frontend.Variable
	NewRoot       frontend.Variable
}

// NewTransition returns a transition with slices sized for the given params,
// for use in circuit placeholders.
func NewTransition(params circuits.Params) Transition {
	return Transition{
		LevelSelector: make([]frontend.Variable, params.MaxLevels),
		PathBits:      make([]frontend.Variable, params.MaxDepth()),
		Siblings:      make([]frontend.Variable, params.MaxDepth()),
		OldLevelRoots: make([]frontend.Variable, params.MaxLevels),
	}
}

// IsNoop returns 1 when the transition changes nothing.
func (tr *Transition) IsNoop(api frontend.API) frontend.Variable {
	return api.And(api.IsZero(tr.Fnc0), api.IsZero(tr.Fnc1))
}

// IsInsert returns 1 when the transition writes into an empty slot.
func (tr *Transition) IsInsert(api frontend.API) frontend.Variable {
	return api.And(tr.Fnc0, api.IsZero(tr.Fnc1))
}

// IsRemove returns 1 when the transition tombstones an occupied slot.
func (tr *Transition) IsRemove(api frontend.API) frontend.Variable {
	return api.And(tr.Fnc0, tr.Fnc1)
}

// Verify asserts that tr.OldRoot matches the passed root and that changing
// the selected slot from OldLeafHash to NewLeafHash along the common path
// turns tr.OldRoot into tr.NewRoot, with no other change. Returns tr.NewRoot
// so transitions chain: each one's output feeds the next one's input.
func (tr *Transition) Verify(api frontend.API, hFn utils.Hasher, params circuits.Params, oldRoot frontend.Variable) frontend.Variable {
	api.AssertIsEqual(oldRoot, tr.OldRoot)

	api.AssertIsBoolean(tr.Fnc0)
	api.AssertIsBoolean(tr.Fnc1)
	// (0,1) is not a valid operation
	api.AssertIsEqual(api.Mul(api.Sub(1, tr.Fnc0), tr.Fnc1), 0)
	isNoop := tr.IsNoop(api)

	assertOneHot(api, tr.LevelSelector)
	active := activeBits(api, params, tr.LevelSelector)
	assertPathBits(api, tr.PathBits, active)

	// an insert starts from the empty sentinel, a removal ends in it
	api.AssertIsEqual(api.Mul(tr.IsInsert(api), tr.OldLeafHash), 0)
	api.AssertIsEqual(api.Mul(tr.IsRemove(api), tr.NewLeafHash), 0)

	// before: the old leaf must reach the committed root of its level and
	// the old level roots must aggregate to the old root
	oldLevelRoot := walkPath(api, hFn, tr.OldLeafHash, tr.Siblings, tr.PathBits, active)
	committed := dotProduct(api, tr.LevelSelector, tr.OldLevelRoots)
	api.AssertIsEqual(committed, api.Select(isNoop, committed, oldLevelRoot))

	aggOld, err := hFn(api, tr.OldLevelRoots...)
	if err != nil {
		circuits.FrontendError(api, "old aggregate root hash failed", err)
	}
	api.AssertIsEqual(tr.OldRoot, api.Select(isNoop, tr.OldRoot, aggOld))

	// after: same path with the new leaf yields the new level root; only
	// the selected entry changes in the aggregation
	newLevelRoot := walkPath(api, hFn, tr.NewLeafHash, tr.Siblings, tr.PathBits, active)
	newRoots := make([]frontend.Variable, len(tr.OldLevelRoots))
	for i := range newRoots {
		newRoots[i] = api.Select(tr.LevelSelector[i], newLevelRoot, tr.OldLevelRoots[i])
	}
	aggNew, err := hFn(api, newRoots...)
	if err != nil {
		circuits.FrontendError(api, "new aggregate root hash failed", err)
	}
	api.AssertIsEqual(tr.NewRoot, api.Select(isNoop, tr.OldRoot, aggNew))

	return tr.NewRoot
}
