package forest

import (
	"encoding/json"
	"fmt"

	"github.com/lightfold/lightfold/types"
)

// snapshot is the serialized form of a forest: the config plus the slot
// assignment of every allocated level. Hashes are not stored; a rebuild
// recomputes every node, so a corrupted snapshot cannot smuggle in a root
// that does not match its members.
type snapshot struct {
	Config Config              `json:"config"`
	Levels [][]*types.Validator `json:"levels"`
}

// MarshalJSON serializes the forest, tombstoned slots as null.
func (f *Forest) MarshalJSON() ([]byte, error) {
	s := snapshot{Config: f.cfg, Levels: make([][]*types.Validator, len(f.levels))}
	for i, lv := range f.levels {
		s.Levels[i] = lv.members
	}
	return json.Marshal(s)
}

// UnmarshalJSON rebuilds the forest from a snapshot, recomputing all hashes.
func (f *Forest) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cannot decode forest snapshot: %w", err)
	}
	nf, err := New(s.Config)
	if err != nil {
		return err
	}
	if len(s.Levels) > s.Config.MaxLevels {
		return fmt.Errorf("snapshot has %d levels, config allows %d",
			len(s.Levels), s.Config.MaxLevels)
	}
	for li, slots := range s.Levels {
		tree, err := newLevelTree(s.Config.LevelDepth(li))
		if err != nil {
			return err
		}
		if len(slots) != tree.numLeaves() {
			return fmt.Errorf("level %d has %d slots, expected %d",
				li, len(slots), tree.numLeaves())
		}
		lv := &level{tree: tree, members: make([]*types.Validator, len(slots))}
		for slot, m := range slots {
			if m == nil {
				continue
			}
			if _, ok := nf.index[string(m.PubKey)]; ok {
				return fmt.Errorf("%w: %s", ErrAlreadyMember, m.PubKey)
			}
			leafHash, err := LeafHash(m)
			if err != nil {
				return err
			}
			if err := tree.update(slot, leafHash); err != nil {
				return err
			}
			mc := *m
			lv.members[slot] = &mc
			lv.live++
			nf.index[string(m.PubKey)] = position{li, slot}
		}
		nf.levels = append(nf.levels, lv)
	}
	*f = *nf
	return nil
}
