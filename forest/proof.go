package forest

import (
	"encoding/json"

	"github.com/lightfold/lightfold/types"
)

// MembershipProof authenticates one member against the aggregate forest root.
// Siblings holds the in-level path from the leaf up to the level root, so its
// length equals the depth of the member's level, not of the whole forest.
// LevelRoots holds every level root padded with the empty sentinel up to the
// configured maximum, with the member's own level included as currently
// committed.
type MembershipProof struct {
	LevelIndex int              `json:"levelIndex"`
	Position   int              `json:"position"`
	Depth      int              `json:"depth"`
	Siblings   []types.HexBytes `json:"siblings"`
	LevelRoots []types.HexBytes `json:"levelRoots"`
	Root       types.HexBytes   `json:"root"`
	LeafHash   types.HexBytes   `json:"leafHash"`
}

// String returns a compact JSON representation, for logs.
func (p *MembershipProof) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
