package forest

// LevelStats describes one allocated level of the forest.
type LevelStats struct {
	// Depth is the tree depth of the level.
	Depth int `json:"depth"`
	// Capacity is the number of leaf slots of the level.
	Capacity int `json:"capacity"`
	// Live is the number of occupied slots.
	Live int `json:"live"`
	// Free is the number of empty slots, including those freed by removals.
	// The next insertion fills the lowest free slot of the lowest level.
	Free int `json:"free"`
	// ProofSiblings is the number of sibling hashes a membership proof for
	// this level carries. Proof size depends only on the member's level,
	// never on the size of the whole forest.
	ProofSiblings int `json:"proofSiblings"`
}

// Stats is an off-circuit summary of the forest shape, meant for sizing
// parameter choices against an expected committee.
type Stats struct {
	Levels []LevelStats `json:"levels"`
	// Members is the total number of live validators.
	Members int `json:"members"`
	// Capacity is the total number of slots across allocated levels.
	Capacity int `json:"capacity"`
	// MaxCapacity is the total number of slots once every level allowed by
	// the configuration is allocated.
	MaxCapacity int `json:"maxCapacity"`
	// Nodes is the total number of hashes held across the level trees, a
	// proxy for the in-memory state size.
	Nodes int `json:"nodes"`
}

// Stats returns the current shape of the forest.
func (f *Forest) Stats() Stats {
	s := Stats{Levels: make([]LevelStats, len(f.levels))}
	for i, lv := range f.levels {
		depth := f.cfg.LevelDepth(i)
		capacity := f.cfg.LeafCapacity << i
		s.Levels[i] = LevelStats{
			Depth:         depth,
			Capacity:      capacity,
			Live:          lv.live,
			Free:          capacity - lv.live,
			ProofSiblings: depth,
		}
		s.Members += lv.live
		s.Capacity += capacity
		// a full binary tree of depth d holds 2^(d+1)-1 nodes
		s.Nodes += 2*capacity - 1
	}
	for i := 0; i < f.cfg.MaxLevels; i++ {
		s.MaxCapacity += f.cfg.LeafCapacity << i
	}
	return s
}
