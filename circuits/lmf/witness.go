package lmf

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/arbo"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/forest"
	"github.com/lightfold/lightfold/types"
	"github.com/lightfold/lightfold/util"
)

// MembershipProofFromForest converts an off-circuit membership proof into
// gadget witness form: hashes become field elements, the level index becomes
// a one-hot vector and the slot position becomes path bits.
func MembershipProofFromForest(params circuits.Params, p *forest.MembershipProof) (MembershipProof, error) {
	if p.LevelIndex < 0 || p.LevelIndex >= params.MaxLevels {
		return MembershipProof{}, fmt.Errorf("level index %d out of range [0,%d)", p.LevelIndex, params.MaxLevels)
	}
	if len(p.Siblings) > params.MaxDepth() {
		return MembershipProof{}, fmt.Errorf("proof has %d siblings, circuit fits %d", len(p.Siblings), params.MaxDepth())
	}
	if len(p.LevelRoots) != params.MaxLevels {
		return MembershipProof{}, fmt.Errorf("proof has %d level roots, circuit expects %d", len(p.LevelRoots), params.MaxLevels)
	}
	return MembershipProof{
		LevelSelector: oneHot(p.LevelIndex, params.MaxLevels),
		PathBits:      positionBits(p.Position, params.MaxDepth()),
		Siblings:      padVariables(p.Siblings, params.MaxDepth()),
		LevelRoots:    padVariables(p.LevelRoots, params.MaxLevels),
		LeafHash:      toFieldElement(p.LeafHash),
		Root:          toFieldElement(p.Root),
	}, nil
}

// TransitionFromForest converts an off-circuit transition record into gadget
// witness form.
func TransitionFromForest(params circuits.Params, tr *forest.Transition) (Transition, error) {
	if tr.LevelIndex < 0 || tr.LevelIndex >= params.MaxLevels {
		return Transition{}, fmt.Errorf("level index %d out of range [0,%d)", tr.LevelIndex, params.MaxLevels)
	}
	if len(tr.Siblings) > params.MaxDepth() {
		return Transition{}, fmt.Errorf("transition has %d siblings, circuit fits %d", len(tr.Siblings), params.MaxDepth())
	}
	var fnc0, fnc1 int
	switch tr.Op {
	case forest.OpNoop:
	case forest.OpInsert:
		fnc0 = 1
	case forest.OpRemove:
		fnc0, fnc1 = 1, 1
	default:
		return Transition{}, fmt.Errorf("unknown transition op %v", tr.Op)
	}
	return Transition{
		Fnc0:          fnc0,
		Fnc1:          fnc1,
		LevelSelector: oneHot(tr.LevelIndex, params.MaxLevels),
		PathBits:      positionBits(tr.Position, params.MaxDepth()),
		Siblings:      padVariables(tr.Siblings, params.MaxDepth()),
		OldLeafHash:   toFieldElement(tr.OldLeaf),
		NewLeafHash:   toFieldElement(tr.NewLeaf),
		OldLevelRoots: padVariables(tr.OldLevelRoots, params.MaxLevels),
		OldRoot:       toFieldElement(tr.OldRoot),
		NewRoot:       toFieldElement(tr.NewRoot),
	}, nil
}

func oneHot(index, n int) []frontend.Variable {
	out := make([]frontend.Variable, n)
	for i := range out {
		if i == index {
			out[i] = 1
		} else {
			out[i] = 0
		}
	}
	return out
}

func positionBits(pos, n int) []frontend.Variable {
	out := make([]frontend.Variable, n)
	for i := range out {
		out[i] = (pos >> i) & 1
	}
	return out
}

// toFieldElement reduces stored hash bytes into the scalar field the circuit
// variables live in.
func toFieldElement(b types.HexBytes) *big.Int {
	return util.BigToFF(arbo.BytesToBigInt(b))
}

func padVariables(hashes []types.HexBytes, n int) []frontend.Variable {
	out := make([]frontend.Variable, n)
	for i := range out {
		if i < len(hashes) {
			out[i] = toFieldElement(hashes[i])
		} else {
			out[i] = big.NewInt(0)
		}
	}
	return out
}
