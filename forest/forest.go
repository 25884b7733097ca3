// Package forest implements the off-circuit Leveled Merkle Forest: an
// authenticated set of committee members sharded across bounded-depth Merkle
// levels. Membership proofs are as long as the depth of the level a member
// occupies, independent of how large the forest has grown, and a rotation
// only recomputes the levels it touches.
//
// The on-circuit counterpart of the verification logic lives in
// circuits/lmf; both sides share the hash convention defined in hash.go.
package forest

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lightfold/lightfold/types"
)

var (
	// ErrCapacityExhausted is returned when an insert would require more
	// levels than the configured hard maximum.
	ErrCapacityExhausted = errors.New("forest capacity exhausted")
	// ErrNotMember is returned when proving or removing a key that is not
	// currently in the forest.
	ErrNotMember = errors.New("validator is not a member of the forest")
	// ErrAlreadyMember is returned when inserting a key twice.
	ErrAlreadyMember = errors.New("validator is already a member of the forest")
)

// Config are the construction-time parameters of a forest. They are part of
// the hash commitment: two forests with different configs produce different
// aggregate roots for the same member set.
type Config struct {
	// LeafCapacity is the number of slots of level 0; must be a power of
	// two >= 2. Level i holds LeafCapacity << i slots.
	LeafCapacity int
	// MaxLevels is the hard maximum number of levels. Inserting past the
	// total capacity fails with ErrCapacityExhausted.
	MaxLevels int
}

// DefaultConfig returns the parameters used across the module unless a
// deployment overrides them: 4 slots at level 0, up to 8 levels (1020 slots).
func DefaultConfig() Config {
	return Config{LeafCapacity: 4, MaxLevels: 8}
}

func (c Config) validate() error {
	if c.LeafCapacity < 2 || c.LeafCapacity&(c.LeafCapacity-1) != 0 {
		return fmt.Errorf("leaf capacity must be a power of two >= 2, got %d", c.LeafCapacity)
	}
	if c.MaxLevels < 1 {
		return fmt.Errorf("max levels must be >= 1, got %d", c.MaxLevels)
	}
	return nil
}

// LevelDepth returns the tree depth of level i: log2(LeafCapacity << i).
func (c Config) LevelDepth(i int) int {
	return bits.TrailingZeros(uint(c.LeafCapacity)) + i
}

// MaxDepth returns the depth of the deepest possible level. The on-circuit
// gadget sizes its sibling arrays with this bound.
func (c Config) MaxDepth() int {
	return c.LevelDepth(c.MaxLevels - 1)
}

type position struct {
	level int
	slot  int
}

type level struct {
	tree    *levelTree
	members []*types.Validator // slot -> member, nil when empty or tombstoned
	live    int
}

// Forest is the authenticated committee-membership structure. It has exactly
// one writer (the party advancing the chain); concurrent read-only proving is
// safe between mutations.
type Forest struct {
	cfg    Config
	levels []*level
	index  map[string]position
}

// New creates an empty forest.
func New(cfg Config) (*Forest, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid forest config: %w", err)
	}
	return &Forest{
		cfg:   cfg,
		index: make(map[string]position),
	}, nil
}

// FromCommittee builds a forest holding every validator of the committee, in
// committee order.
func FromCommittee(cfg Config, committee *types.Committee) (*Forest, error) {
	if err := committee.Validate(); err != nil {
		return nil, fmt.Errorf("malformed committee: %w", err)
	}
	f, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for i := range committee.Validators {
		if _, err := f.Insert(&committee.Validators[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Config returns the construction parameters.
func (f *Forest) Config() Config { return f.cfg }

// Size returns the number of live members.
func (f *Forest) Size() int {
	n := 0
	for _, lv := range f.levels {
		n += lv.live
	}
	return n
}

// NumLevels returns the number of allocated levels.
func (f *Forest) NumLevels() int { return len(f.levels) }

// freeSlot returns the lowest-index free slot of the lowest level that has
// one, allocating a new level if every existing one is full. The fill order
// is deterministic; tombstoned slots are reused first.
func (f *Forest) freeSlot() (position, error) {
	for li, lv := range f.levels {
		for slot, m := range lv.members {
			if m == nil {
				return position{li, slot}, nil
			}
		}
	}
	if len(f.levels) >= f.cfg.MaxLevels {
		return position{}, ErrCapacityExhausted
	}
	tree, err := newLevelTree(f.cfg.LevelDepth(len(f.levels)))
	if err != nil {
		return position{}, err
	}
	f.levels = append(f.levels, &level{
		tree:    tree,
		members: make([]*types.Validator, tree.numLeaves()),
	})
	return position{len(f.levels) - 1, 0}, nil
}

// Insert adds a validator to the forest and returns the transition record of
// the change, suitable both for local auditing and as circuit witness.
func (f *Forest) Insert(v *types.Validator) (*Transition, error) {
	if _, ok := f.index[string(v.PubKey)]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMember, v.PubKey)
	}
	leafHash, err := LeafHash(v)
	if err != nil {
		return nil, err
	}
	pos, err := f.freeSlot()
	if err != nil {
		return nil, err
	}
	tr, err := f.applyLeafChange(pos, leafHash, OpInsert)
	if err != nil {
		return nil, err
	}
	vc := *v
	f.levels[pos.level].members[pos.slot] = &vc
	f.levels[pos.level].live++
	f.index[string(v.PubKey)] = pos
	return tr, nil
}

// Remove tombstones the slot of the validator with the given public key. The
// slot becomes reusable; members of other slots keep their proofs except for
// the recomputed roots.
func (f *Forest) Remove(pubKey types.HexBytes) (*Transition, error) {
	pos, ok := f.index[string(pubKey)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, pubKey)
	}
	tr, err := f.applyLeafChange(pos, emptyLeaf(), OpRemove)
	if err != nil {
		return nil, err
	}
	f.levels[pos.level].members[pos.slot] = nil
	f.levels[pos.level].live--
	delete(f.index, string(pubKey))
	return tr, nil
}

// applyLeafChange captures the before state, performs the single-slot change
// and captures the after state.
func (f *Forest) applyLeafChange(pos position, newLeaf []byte, op TransitionOp) (*Transition, error) {
	lv := f.levels[pos.level]
	oldRoot, err := f.Root()
	if err != nil {
		return nil, err
	}
	oldLevelRoots, err := f.paddedLevelRoots()
	if err != nil {
		return nil, err
	}
	siblings, err := lv.tree.prove(pos.slot)
	if err != nil {
		return nil, err
	}
	oldLeaf := lv.tree.leaf(pos.slot)
	if err := lv.tree.update(pos.slot, newLeaf); err != nil {
		return nil, err
	}
	newRoot, err := f.Root()
	if err != nil {
		return nil, err
	}
	return &Transition{
		Op:            op,
		LevelIndex:    pos.level,
		Position:      pos.slot,
		Depth:         lv.tree.depth,
		Siblings:      toHexBytes(siblings),
		OldLeaf:       oldLeaf,
		NewLeaf:       newLeaf,
		OldLevelRoots: toHexBytes(oldLevelRoots),
		OldRoot:       oldRoot,
		NewRoot:       newRoot,
	}, nil
}

// paddedLevelRoots returns the root of every level, padded up to MaxLevels
// entries with the all-empty root of each unallocated level.
func (f *Forest) paddedLevelRoots() ([][]byte, error) {
	roots := make([][]byte, f.cfg.MaxLevels)
	for i := range roots {
		if i < len(f.levels) {
			roots[i] = f.levels[i].tree.root()
			continue
		}
		r, err := emptyLevelRoot(f.cfg.LevelDepth(i))
		if err != nil {
			return nil, err
		}
		roots[i] = r
	}
	return roots, nil
}

// Root returns the aggregate forest root: the hash of all level roots in
// level order, a pure function of the (level root, level index) pairs.
func (f *Forest) Root() ([]byte, error) {
	roots, err := f.paddedLevelRoots()
	if err != nil {
		return nil, err
	}
	return aggregateRoot(roots)
}

// Member returns the validator stored under pubKey, or ErrNotMember.
func (f *Forest) Member(pubKey types.HexBytes) (*types.Validator, error) {
	pos, ok := f.index[string(pubKey)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, pubKey)
	}
	return f.levels[pos.level].members[pos.slot], nil
}

// Members returns all live validators in deterministic (level, slot) order.
func (f *Forest) Members() []*types.Validator {
	var out []*types.Validator
	for _, lv := range f.levels {
		for _, m := range lv.members {
			if m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}

// Prove generates the membership proof of a current member: its in-level
// authentication path plus the sibling level roots needed to recompute the
// aggregate root. Proof length depends only on the member's level.
func (f *Forest) Prove(pubKey types.HexBytes) (*MembershipProof, error) {
	pos, ok := f.index[string(pubKey)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, pubKey)
	}
	lv := f.levels[pos.level]
	siblings, err := lv.tree.prove(pos.slot)
	if err != nil {
		return nil, err
	}
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	leafHash, err := LeafHash(lv.members[pos.slot])
	if err != nil {
		return nil, err
	}
	levelRoots, err := f.paddedLevelRoots()
	if err != nil {
		return nil, err
	}
	return &MembershipProof{
		LevelIndex: pos.level,
		Position:   pos.slot,
		Depth:      lv.tree.depth,
		Siblings:   toHexBytes(siblings),
		LevelRoots: toHexBytes(levelRoots),
		Root:       root,
		LeafHash:   leafHash,
	}, nil
}

// ProveBatch generates membership proofs for several members in parallel.
// Proof generation is read-only, so the only constraint is that no mutation
// runs concurrently.
func (f *Forest) ProveBatch(pubKeys []types.HexBytes) ([]*MembershipProof, error) {
	proofs := make([]*MembershipProof, len(pubKeys))
	g := errgroup.Group{}
	g.SetLimit(runtime.NumCPU())
	for i, pk := range pubKeys {
		g.Go(func() error {
			p, err := f.Prove(pk)
			if err != nil {
				return err
			}
			proofs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}

// VerifyLocally checks a membership proof against an aggregate root. It
// mirrors, operation by operation, the on-circuit gadget: walk the path to
// the level root, substitute it into the supplied level roots, recompute the
// aggregate. Used to pre-filter invalid witnesses before expensive proving.
func VerifyLocally(cfg Config, proof *MembershipProof, root []byte) bool {
	if proof.LevelIndex < 0 || proof.LevelIndex >= cfg.MaxLevels ||
		len(proof.Siblings) != proof.Depth ||
		proof.Depth != cfg.LevelDepth(proof.LevelIndex) ||
		len(proof.LevelRoots) != cfg.MaxLevels {
		return false
	}
	node := []byte(proof.LeafHash)
	for i, sib := range proof.Siblings {
		var err error
		if (proof.Position>>i)&1 == 0 {
			node, err = hashNodes(node, sib)
		} else {
			node, err = hashNodes(sib, node)
		}
		if err != nil {
			return false
		}
	}
	roots := make([][]byte, cfg.MaxLevels)
	for i, r := range proof.LevelRoots {
		roots[i] = r
	}
	roots[proof.LevelIndex] = node
	agg, err := aggregateRoot(roots)
	if err != nil {
		return false
	}
	return bytes.Equal(agg, root)
}

func toHexBytes(bs [][]byte) []types.HexBytes {
	out := make([]types.HexBytes, len(bs))
	for i, b := range bs {
		out[i] = b
	}
	return out
}
