// Package circuits holds the parameters and helpers shared by every circuit
// of the module: the forest geometry the gadgets are compiled for and the
// witness sizing bounds of the rotation step.
package circuits

import (
	"fmt"
	"math/bits"
)

// Defaults used by the reference deployment. A circuit compiled for one set
// of params only accepts witnesses built for the same set.
const (
	DefaultLeafCapacity = 4
	DefaultMaxLevels    = 8
	DefaultMaxAttesters = 16
	DefaultMaxDeltaOps  = 4
)

// Params fixes the compile-time geometry of the circuits. LeafCapacity and
// MaxLevels mirror the forest config; MaxAttesters and MaxDeltaOps bound the
// fixed-size witness arrays of a rotation step.
type Params struct {
	// LeafCapacity is the slot count of forest level 0, a power of two.
	LeafCapacity int
	// MaxLevels is the maximum number of forest levels.
	MaxLevels int
	// MaxAttesters is the maximum number of committee members whose
	// membership and signature participation one step can carry.
	MaxAttesters int
	// MaxDeltaOps is the maximum number of single-slot forest changes one
	// rotation can apply.
	MaxDeltaOps int
}

// DefaultParams returns the geometry used across the module unless a
// deployment overrides it.
func DefaultParams() Params {
	return Params{
		LeafCapacity: DefaultLeafCapacity,
		MaxLevels:    DefaultMaxLevels,
		MaxAttesters: DefaultMaxAttesters,
		MaxDeltaOps:  DefaultMaxDeltaOps,
	}
}

// Validate checks the geometry is well formed.
func (p Params) Validate() error {
	if p.LeafCapacity < 2 || p.LeafCapacity&(p.LeafCapacity-1) != 0 {
		return fmt.Errorf("leaf capacity must be a power of two >= 2, got %d", p.LeafCapacity)
	}
	if p.MaxLevels < 1 {
		return fmt.Errorf("max levels must be >= 1, got %d", p.MaxLevels)
	}
	if p.MaxAttesters < 1 {
		return fmt.Errorf("max attesters must be >= 1, got %d", p.MaxAttesters)
	}
	if p.MaxDeltaOps < 1 {
		return fmt.Errorf("max delta ops must be >= 1, got %d", p.MaxDeltaOps)
	}
	return nil
}

// LevelDepth returns the tree depth of forest level i.
func (p Params) LevelDepth(i int) int {
	return bits.TrailingZeros(uint(p.LeafCapacity)) + i
}

// MaxDepth returns the depth of the deepest level; sibling arrays of the
// gadgets are sized with it.
func (p Params) MaxDepth() int {
	return p.LevelDepth(p.MaxLevels - 1)
}
