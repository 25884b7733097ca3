package forest

import "github.com/lightfold/lightfold/types"

// TransitionOp tags the kind of single-slot change a Transition records.
type TransitionOp int

const (
	// OpNoop leaves the slot untouched. Used to pad fixed-size witness
	// arrays when a rotation changes fewer slots than the circuit allows.
	OpNoop TransitionOp = iota
	// OpInsert writes a leaf commitment into an empty slot.
	OpInsert
	// OpRemove tombstones an occupied slot back to the empty sentinel.
	OpRemove
)

func (op TransitionOp) String() string {
	switch op {
	case OpNoop:
		return "noop"
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Transition records one single-slot forest change: the authentication path
// of the touched slot, the leaf values before and after, and the aggregate
// roots before and after. A rotation is a chain of transitions where each
// NewRoot equals the next OldRoot; the circuit re-derives both roots from the
// path instead of trusting them.
type Transition struct {
	Op         TransitionOp
	LevelIndex int
	Position   int
	Depth      int
	// Siblings is the in-level path of the touched slot, leaf to root. It
	// is shared by the before and after states since only the slot changed.
	Siblings []types.HexBytes
	OldLeaf  types.HexBytes
	NewLeaf  types.HexBytes
	// OldLevelRoots are the padded level roots before the change; the roots
	// after the change differ only at LevelIndex, which the verifier
	// recomputes from the path.
	OldLevelRoots []types.HexBytes
	OldRoot       types.HexBytes
	NewRoot       types.HexBytes
}

// Noop returns a padding transition that re-asserts root without changing
// anything. Its path fields are sized for the given config so it can fill a
// fixed-size circuit witness slot.
func Noop(cfg Config, root types.HexBytes) *Transition {
	// path and root fields of a noop are never checked, only sized
	siblings := make([]types.HexBytes, cfg.LevelDepth(0))
	for i := range siblings {
		siblings[i] = emptyLeaf()
	}
	roots := make([]types.HexBytes, cfg.MaxLevels)
	for i := range roots {
		roots[i] = emptyLeaf()
	}
	return &Transition{
		Op:            OpNoop,
		Depth:         cfg.LevelDepth(0),
		Siblings:      siblings,
		OldLeaf:       emptyLeaf(),
		NewLeaf:       emptyLeaf(),
		OldLevelRoots: roots,
		OldRoot:       root,
		NewRoot:       root,
	}
}
