package forest

import (
	"encoding/json"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/lightfold/lightfold/crypto/bls"
	"github.com/lightfold/lightfold/types"
)

func testValidator(t testing.TB, seed byte, weight uint64) *types.Validator {
	t.Helper()
	sk := bls.GenerateKeyFromSeed([]byte{seed})
	return &types.Validator{PubKey: sk.Public().Bytes(), Weight: weight}
}

func testValidators(t testing.TB, n int) []*types.Validator {
	t.Helper()
	vs := make([]*types.Validator, n)
	for i := range vs {
		vs[i] = testValidator(t, byte(i+1), uint64(100*(i+1)))
	}
	return vs
}

func TestInsertAndProve(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 4})
	c.Assert(err, qt.IsNil)

	vs := testValidators(t, 7)
	for _, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	c.Assert(f.Size(), qt.Equals, 7)
	// 2 + 4 + 8 slots, 7 members fit in three levels
	c.Assert(f.NumLevels(), qt.Equals, 3)

	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	for _, v := range vs {
		proof, err := f.Prove(v.PubKey)
		c.Assert(err, qt.IsNil)
		c.Assert(len(proof.Siblings), qt.Equals, proof.Depth)
		c.Assert(proof.Depth, qt.Equals, f.Config().LevelDepth(proof.LevelIndex))
		c.Assert(VerifyLocally(f.Config(), proof, root), qt.IsTrue)
	}
}

func TestProofIndependentOfForestSize(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 6})
	c.Assert(err, qt.IsNil)

	vs := testValidators(t, 20)
	first := vs[0]
	_, err = f.Insert(first)
	c.Assert(err, qt.IsNil)
	proof, err := f.Prove(first.PubKey)
	c.Assert(err, qt.IsNil)
	depthBefore := proof.Depth

	// growing the forest must not lengthen the path of an early member
	for _, v := range vs[1:] {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	proof, err = f.Prove(first.PubKey)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Depth, qt.Equals, depthBefore)

	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(VerifyLocally(f.Config(), proof, root), qt.IsTrue)
}

func TestVerifyLocallyRejections(t *testing.T) {
	c := qt.New(t)
	f, err := New(DefaultConfig())
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 3)
	for _, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	proof, err := f.Prove(vs[1].PubKey)
	c.Assert(err, qt.IsNil)

	// tampered leaf
	bad := *proof
	tampered, err := LeafHash(testValidator(t, 99, 1))
	c.Assert(err, qt.IsNil)
	bad.LeafHash = tampered
	c.Assert(VerifyLocally(f.Config(), &bad, root), qt.IsFalse)

	// wrong root
	c.Assert(VerifyLocally(f.Config(), proof, make([]byte, 32)), qt.IsFalse)

	// truncated path
	bad = *proof
	bad.Siblings = bad.Siblings[:len(bad.Siblings)-1]
	c.Assert(VerifyLocally(f.Config(), &bad, root), qt.IsFalse)
}

func TestRemoveAndSlotReuse(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 4})
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 4)
	for _, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}

	tr, err := f.Remove(vs[0].PubKey)
	c.Assert(err, qt.IsNil)
	c.Assert(tr.Op, qt.Equals, OpRemove)
	c.Assert(f.Size(), qt.Equals, 3)
	_, err = f.Prove(vs[0].PubKey)
	c.Assert(err, qt.ErrorIs, ErrNotMember)
	_, err = f.Remove(vs[0].PubKey)
	c.Assert(err, qt.ErrorIs, ErrNotMember)

	// the tombstoned slot is the lowest free one, so it is reused first
	nv := testValidator(t, 50, 500)
	tr2, err := f.Insert(nv)
	c.Assert(err, qt.IsNil)
	c.Assert(tr2.LevelIndex, qt.Equals, tr.LevelIndex)
	c.Assert(tr2.Position, qt.Equals, tr.Position)

	// surviving members still verify against the new root
	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	for _, v := range append(vs[1:], nv) {
		proof, err := f.Prove(v.PubKey)
		c.Assert(err, qt.IsNil)
		c.Assert(VerifyLocally(f.Config(), proof, root), qt.IsTrue)
	}
}

func TestCapacityExhausted(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 2})
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 7)
	for _, v := range vs[:6] { // 2 + 4 slots
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	_, err = f.Insert(vs[6])
	c.Assert(err, qt.ErrorIs, ErrCapacityExhausted)

	// a removal frees a slot again
	_, err = f.Remove(vs[2].PubKey)
	c.Assert(err, qt.IsNil)
	_, err = f.Insert(vs[6])
	c.Assert(err, qt.IsNil)
}

func TestDuplicateInsert(t *testing.T) {
	c := qt.New(t)
	f, err := New(DefaultConfig())
	c.Assert(err, qt.IsNil)
	v := testValidator(t, 1, 100)
	_, err = f.Insert(v)
	c.Assert(err, qt.IsNil)
	_, err = f.Insert(v)
	c.Assert(err, qt.ErrorIs, ErrAlreadyMember)
}

func TestTransitionChain(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 4})
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 5)

	var transitions []*Transition
	for _, v := range vs {
		tr, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
		transitions = append(transitions, tr)
	}
	tr, err := f.Remove(vs[1].PubKey)
	c.Assert(err, qt.IsNil)
	transitions = append(transitions, tr)

	// each transition's new root must be the next one's old root
	for i := 1; i < len(transitions); i++ {
		c.Assert(transitions[i].OldRoot.String(), qt.Equals,
			transitions[i-1].NewRoot.String())
	}
	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(transitions[len(transitions)-1].NewRoot.String(), qt.Equals,
		types.HexBytes(root).String())
}

func TestLevelAllocationRootNeutral(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 3})
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 3)

	// the very first insert allocates level 0; its OldRoot must still be
	// the root of the empty forest
	emptyRoot, err := f.Root()
	c.Assert(err, qt.IsNil)
	tr0, err := f.Insert(vs[0])
	c.Assert(err, qt.IsNil)
	c.Assert(tr0.OldRoot.String(), qt.Equals, types.HexBytes(emptyRoot).String())

	// spilling into level 1 keeps the chain linked across the allocation
	tr1, err := f.Insert(vs[1])
	c.Assert(err, qt.IsNil)
	tr2, err := f.Insert(vs[2])
	c.Assert(err, qt.IsNil)
	c.Assert(tr2.LevelIndex, qt.Equals, 1)
	c.Assert(tr2.OldRoot.String(), qt.Equals, tr1.NewRoot.String())

	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(tr2.NewRoot.String(), qt.Equals, types.HexBytes(root).String())
}

func TestDeterministicRoot(t *testing.T) {
	c := qt.New(t)
	build := func() types.HexBytes {
		f, err := New(DefaultConfig())
		c.Assert(err, qt.IsNil)
		for _, v := range testValidators(t, 9) {
			_, err := f.Insert(v)
			c.Assert(err, qt.IsNil)
		}
		root, err := f.Root()
		c.Assert(err, qt.IsNil)
		return root
	}
	c.Assert(build().String(), qt.Equals, build().String())
}

func TestProveBatch(t *testing.T) {
	c := qt.New(t)
	f, err := New(DefaultConfig())
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 10)
	keys := make([]types.HexBytes, len(vs))
	for i, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
		keys[i] = v.PubKey
	}
	proofs, err := f.ProveBatch(keys)
	c.Assert(err, qt.IsNil)
	root, err := f.Root()
	c.Assert(err, qt.IsNil)
	for _, p := range proofs {
		c.Assert(VerifyLocally(f.Config(), p, root), qt.IsTrue)
	}
	_, err = f.ProveBatch([]types.HexBytes{testValidator(t, 200, 1).PubKey})
	c.Assert(err, qt.ErrorIs, ErrNotMember)
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := qt.New(t)
	f, err := New(Config{LeafCapacity: 2, MaxLevels: 4})
	c.Assert(err, qt.IsNil)
	vs := testValidators(t, 6)
	for _, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	_, err = f.Remove(vs[3].PubKey)
	c.Assert(err, qt.IsNil)
	wantRoot, err := f.Root()
	c.Assert(err, qt.IsNil)

	data, err := json.Marshal(f)
	c.Assert(err, qt.IsNil)
	restored := &Forest{}
	c.Assert(json.Unmarshal(data, restored), qt.IsNil)

	gotRoot, err := restored.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(fmt.Sprintf("%x", gotRoot), qt.Equals, fmt.Sprintf("%x", wantRoot))
	c.Assert(restored.Size(), qt.Equals, f.Size())

	// tombstone survives the round trip as a free slot
	_, err = restored.Prove(vs[3].PubKey)
	c.Assert(err, qt.ErrorIs, ErrNotMember)
	tr, err := restored.Insert(vs[3])
	c.Assert(err, qt.IsNil)
	c.Assert(tr.Op, qt.Equals, OpInsert)
}

func TestFromCommittee(t *testing.T) {
	c := qt.New(t)
	vs := testValidators(t, 4)
	committee := &types.Committee{Threshold: 250}
	for _, v := range vs {
		committee.Validators = append(committee.Validators, *v)
	}
	f, err := FromCommittee(DefaultConfig(), committee)
	c.Assert(err, qt.IsNil)
	c.Assert(f.Size(), qt.Equals, 4)
	for _, v := range vs {
		m, err := f.Member(v.PubKey)
		c.Assert(err, qt.IsNil)
		c.Assert(m.Weight, qt.Equals, v.Weight)
	}

	_, err = FromCommittee(DefaultConfig(), &types.Committee{})
	c.Assert(err, qt.IsNotNil)
}

func TestStats(t *testing.T) {
	c := qt.New(t)
	cfg := Config{LeafCapacity: 2, MaxLevels: 4}
	f, err := New(cfg)
	c.Assert(err, qt.IsNil)

	empty := f.Stats()
	c.Assert(empty.Levels, qt.HasLen, 0)
	c.Assert(empty.MaxCapacity, qt.Equals, 2+4+8+16)

	// five members allocate three levels: 2 + 2 + 1
	vs := testValidators(t, 5)
	for _, v := range vs {
		_, err := f.Insert(v)
		c.Assert(err, qt.IsNil)
	}
	s := f.Stats()
	c.Assert(s.Members, qt.Equals, 5)
	c.Assert(s.Levels, qt.HasLen, 3)
	c.Assert(s.Capacity, qt.Equals, 2+4+8)
	c.Assert(s.Levels[0], qt.Equals, LevelStats{Depth: 1, Capacity: 2, Live: 2, Free: 0, ProofSiblings: 1})
	c.Assert(s.Levels[2], qt.Equals, LevelStats{Depth: 3, Capacity: 8, Live: 1, Free: 7, ProofSiblings: 3})
	c.Assert(s.Nodes, qt.Equals, 3+7+15)

	// a removal frees a slot without shrinking the allocated shape
	_, err = f.Remove(vs[1].PubKey)
	c.Assert(err, qt.IsNil)
	s = f.Stats()
	c.Assert(s.Members, qt.Equals, 4)
	c.Assert(s.Levels[0].Free, qt.Equals, 1)
	c.Assert(s.Capacity, qt.Equals, 2+4+8)
}
