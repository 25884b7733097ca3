package rotation

import (
	"os"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/test"
	qt "github.com/frankban/quicktest"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/crypto/bls"
	"github.com/lightfold/lightfold/forest"
	"github.com/lightfold/lightfold/types"
)

var testParams = circuits.Params{
	LeafCapacity: 2,
	MaxLevels:    4,
	MaxAttesters: 4,
	MaxDeltaOps:  2,
}

type member struct {
	sk *bls.SecretKey
	v  *types.Validator
}

func newMember(seed byte, weight uint64) *member {
	sk := bls.GenerateKeyFromSeed([]byte{seed})
	return &member{sk: sk, v: &types.Validator{PubKey: sk.Public().Bytes(), Weight: weight}}
}

// testStep rotates {a, b, c} into {a, b, d} with a and b signing, holding
// 7500 of the 10000 voting power against the strong threshold.
func testStep(t *testing.T) *StepInput {
	t.Helper()
	c := qt.New(t)
	a := newMember(1, 4000)
	b := newMember(2, 3500)
	cm := newMember(3, 2500)
	d := newMember(4, 2500)

	f, err := forest.New(forestConfig(testParams))
	c.Assert(err, qt.IsNil)
	for _, m := range []*member{a, b, cm} {
		_, err := f.Insert(m.v)
		c.Assert(err, qt.IsNil)
	}
	rootBefore, err := f.Root()
	c.Assert(err, qt.IsNil)

	proofs, err := f.ProveBatch([]types.HexBytes{a.v.PubKey, b.v.PubKey})
	c.Assert(err, qt.IsNil)

	tr1, err := f.Remove(cm.v.PubKey)
	c.Assert(err, qt.IsNil)
	tr2, err := f.Insert(d.v)
	c.Assert(err, qt.IsNil)
	rootAfter, err := f.Root()
	c.Assert(err, qt.IsNil)

	const epochBefore = 7
	msg, err := Message(rootAfter, epochBefore+1)
	c.Assert(err, qt.IsNil)
	sigA, err := a.sk.Sign(msg)
	c.Assert(err, qt.IsNil)
	sigB, err := b.sk.Sign(msg)
	c.Assert(err, qt.IsNil)
	agg, err := bls.AggregateSignatures(sigA, sigB)
	c.Assert(err, qt.IsNil)
	hm, err := bls.HashToPoint(msg)
	c.Assert(err, qt.IsNil)

	return &StepInput{
		RootBefore:  rootBefore,
		RootAfter:   rootAfter,
		EpochBefore: epochBefore,
		Threshold:   types.StrongThreshold,
		Attesters: []*AttesterWitness{
			{Validator: a.v, Proof: proofs[0], Signed: true},
			{Validator: b.v, Proof: proofs[1], Signed: true},
		},
		Delta:        []*forest.Transition{tr1, tr2},
		Signature:    agg,
		MessagePoint: hm,
	}
}

func TestAssignment(t *testing.T) {
	c := qt.New(t)
	in := testStep(t)
	w, err := Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(w.Attesters, qt.HasLen, testParams.MaxAttesters)
	c.Assert(w.Delta, qt.HasLen, testParams.MaxDeltaOps)

	// padding entries must not sign
	for _, att := range w.Attesters[len(in.Attesters):] {
		c.Assert(att.Signed, qt.Equals, frontend.Variable(0))
	}
}

func TestAssignmentRejections(t *testing.T) {
	c := qt.New(t)
	in := testStep(t)

	overfull := *in
	for len(overfull.Attesters) <= testParams.MaxAttesters {
		overfull.Attesters = append(overfull.Attesters, in.Attesters[0])
	}
	_, err := Assignment(testParams, &overfull)
	c.Assert(err, qt.IsNotNil)

	unsigned := *in
	unsigned.Signature = nil
	_, err = Assignment(testParams, &unsigned)
	c.Assert(err, qt.IsNotNil)

	empty := *in
	empty.Attesters = nil
	_, err = Assignment(testParams, &empty)
	c.Assert(err, qt.IsNotNil)
}

func TestMessageCommitment(t *testing.T) {
	c := qt.New(t)
	root := make(types.HexBytes, 32)
	root[31] = 1
	m1, err := Message(root, 5)
	c.Assert(err, qt.IsNil)
	m2, err := Message(root, 5)
	c.Assert(err, qt.IsNil)
	c.Assert(string(m1), qt.Equals, string(m2))

	m3, err := Message(root, 6)
	c.Assert(err, qt.IsNil)
	c.Assert(string(m3), qt.Not(qt.Equals), string(m1))
}

func TestCircuitCompile(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	if _, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder,
		Placeholder(testParams),
	); err != nil {
		t.Fatal(err)
	}
}

func TestRotationStep(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	c := qt.New(t)
	in := testStep(t)
	w, err := Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNil)
}

func TestRotationStepRejections(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	c := qt.New(t)

	// quorum short by one: only the lightest signer remains
	in := testStep(t)
	in.Attesters[0].Signed = false
	w, err := Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNotNil)

	// same member signing twice must not double its weight
	in = testStep(t)
	in.Attesters = append(in.Attesters, in.Attesters[0])
	w, err = Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNotNil)

	// signature over a different message fails the pairing check
	in = testStep(t)
	hm, err := bls.HashToPoint([]byte("some other message"))
	c.Assert(err, qt.IsNil)
	in.MessagePoint = hm
	w, err = Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNotNil)

	// the quorum bound is inclusive: a threshold of exactly the signed
	// weight passes, one unit more does not
	in = testStep(t)
	in.Threshold = 7500
	w, err = Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNil)

	in = testStep(t)
	in.Threshold = 7501
	w, err = Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNotNil)
}

func TestRotationStepOutsiderSigner(t *testing.T) {
	if os.Getenv("RUN_CIRCUIT_TESTS") == "" || os.Getenv("RUN_CIRCUIT_TESTS") == "false" {
		t.Skip("skipping circuit tests...")
	}
	c := qt.New(t)
	a := newMember(1, 4000)
	b := newMember(2, 3500)
	cm := newMember(3, 2500)
	d := newMember(4, 2500)
	outsider := newMember(9, 9000)

	f, err := forest.New(forestConfig(testParams))
	c.Assert(err, qt.IsNil)
	for _, m := range []*member{a, b, cm} {
		_, err := f.Insert(m.v)
		c.Assert(err, qt.IsNil)
	}
	rootBefore, err := f.Root()
	c.Assert(err, qt.IsNil)
	proofs, err := f.ProveBatch([]types.HexBytes{a.v.PubKey, b.v.PubKey})
	c.Assert(err, qt.IsNil)

	tr1, err := f.Remove(cm.v.PubKey)
	c.Assert(err, qt.IsNil)
	tr2, err := f.Insert(d.v)
	c.Assert(err, qt.IsNil)
	rootAfter, err := f.Root()
	c.Assert(err, qt.IsNil)

	// the outsider co-signs the rotation honestly, so the aggregate
	// signature itself is valid for {a, outsider}
	const epochBefore = 7
	msg, err := Message(rootAfter, epochBefore+1)
	c.Assert(err, qt.IsNil)
	sigA, err := a.sk.Sign(msg)
	c.Assert(err, qt.IsNil)
	sigO, err := outsider.sk.Sign(msg)
	c.Assert(err, qt.IsNil)
	agg, err := bls.AggregateSignatures(sigA, sigO)
	c.Assert(err, qt.IsNil)
	hm, err := bls.HashToPoint(msg)
	c.Assert(err, qt.IsNil)

	// the best the outsider can present is another member's membership
	// proof, whose leaf cannot commit to its own key
	in := &StepInput{
		RootBefore:  rootBefore,
		RootAfter:   rootAfter,
		EpochBefore: epochBefore,
		Threshold:   types.StrongThreshold,
		Attesters: []*AttesterWitness{
			{Validator: a.v, Proof: proofs[0], Signed: true},
			{Validator: outsider.v, Proof: proofs[1], Signed: true},
		},
		Delta:        []*forest.Transition{tr1, tr2},
		Signature:    agg,
		MessagePoint: hm,
	}
	w, err := Assignment(testParams, in)
	c.Assert(err, qt.IsNil)
	c.Assert(test.IsSolved(Placeholder(testParams), w, ecc.BN254.ScalarField()), qt.IsNotNil)
}
