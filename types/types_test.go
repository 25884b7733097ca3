package types

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func testPubKey(seed byte) HexBytes {
	pk := make(HexBytes, PublicKeySize)
	for i := range pk {
		pk[i] = seed + byte(i)
	}
	return pk
}

func TestHexBytesJSON(t *testing.T) {
	c := qt.New(t)
	b := HexBytes{0xde, 0xad, 0xbe, 0xef}

	data, err := json.Marshal(b)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `"0xdeadbeef"`)

	var got HexBytes
	c.Assert(json.Unmarshal(data, &got), qt.IsNil)
	c.Assert(got, qt.DeepEquals, b)

	// the 0x prefix is optional on input
	c.Assert(json.Unmarshal([]byte(`"deadbeef"`), &got), qt.IsNil)
	c.Assert(got, qt.DeepEquals, b)

	// decoding into a reused buffer reslices to the decoded length, both
	// growing within capacity and shrinking
	buf := make(HexBytes, 1, 16)
	c.Assert(json.Unmarshal([]byte(`"0xdeadbeef"`), &buf), qt.IsNil)
	c.Assert(buf, qt.DeepEquals, b)
	c.Assert(json.Unmarshal([]byte(`"0xbeef"`), &buf), qt.IsNil)
	c.Assert(buf, qt.DeepEquals, HexBytes{0xbe, 0xef})
}

func TestValidatorSerialize(t *testing.T) {
	c := qt.New(t)
	v := &Validator{PubKey: testPubKey(1), Weight: 4200}

	elems := v.Serialize()
	c.Assert(elems, qt.HasLen, PubKeyChunks+1)
	c.Assert(elems[PubKeyChunks].Uint64(), qt.Equals, v.Weight)

	// concatenating the chunk bytes recovers the key
	recomposed := make([]byte, 0, PublicKeySize)
	for _, e := range elems[:PubKeyChunks] {
		chunk := make([]byte, PubKeyChunkSize)
		e.FillBytes(chunk)
		recomposed = append(recomposed, chunk...)
	}
	c.Assert(HexBytes(recomposed).String(), qt.Equals, v.PubKey.String())

	var _ Serializer[*big.Int] = v
}

func TestCommitteeValidate(t *testing.T) {
	c := qt.New(t)
	good := &Committee{
		Validators: []Validator{
			{PubKey: testPubKey(1), Weight: 5000},
			{PubKey: testPubKey(2), Weight: 5000},
		},
		Threshold: StrongThreshold,
	}
	c.Assert(good.Validate(), qt.IsNil)
	c.Assert(good.TotalWeight(), qt.Equals, uint64(TotalVotingPower))
	c.Assert(good.Find(testPubKey(2)), qt.Equals, 1)
	c.Assert(good.Find(testPubKey(9)), qt.Equals, -1)

	for name, bad := range map[string]*Committee{
		"empty":         {Threshold: 1},
		"zero weight":   {Validators: []Validator{{PubKey: testPubKey(1)}}, Threshold: 1},
		"duplicate key": {Validators: []Validator{{PubKey: testPubKey(1), Weight: 1}, {PubKey: testPubKey(1), Weight: 1}}, Threshold: 1},
		"short key":     {Validators: []Validator{{PubKey: HexBytes{1, 2}, Weight: 1}}, Threshold: 1},
		"unreachable":   {Validators: []Validator{{PubKey: testPubKey(1), Weight: 10}}, Threshold: 11},
	} {
		c.Assert(bad.Validate(), qt.IsNotNil, qt.Commentf("case %q", name))
	}
}

func TestSignerBitmap(t *testing.T) {
	c := qt.New(t)
	vals := []*Validator{
		{PubKey: testPubKey(1), Weight: 1},
		{PubKey: testPubKey(2), Weight: 2},
		{PubKey: testPubKey(3), Weight: 3},
	}

	bitmap := SignerBitmap{true, false, true}
	c.Assert(bitmap.Count(), qt.Equals, 2)

	selected, err := bitmap.Select(vals)
	c.Assert(err, qt.IsNil)
	c.Assert(selected, qt.HasLen, 2)
	c.Assert(selected[0].Weight, qt.Equals, uint64(1))
	c.Assert(selected[1].Weight, qt.Equals, uint64(3))

	// shorter bitmaps leave the tail unselected
	short, err := SignerBitmap{false, true}.Select(vals)
	c.Assert(err, qt.IsNil)
	c.Assert(short, qt.HasLen, 1)

	_, err = SignerBitmap{true, true, true, true}.Select(vals)
	c.Assert(err, qt.IsNotNil)
}

func TestFoldedStateMarshal(t *testing.T) {
	c := qt.New(t)
	root := make(HexBytes, 32)
	root[0], root[31] = 0xaa, 0x01
	state := &FoldedState{Root: root, Epoch: 12, Threshold: StrongThreshold}

	data, err := state.Marshal()
	c.Assert(err, qt.IsNil)

	var got FoldedState
	c.Assert(got.Unmarshal(data), qt.IsNil)
	c.Assert(got.Equal(state), qt.IsTrue)

	c.Assert(got.Unmarshal(data[:10]), qt.IsNotNil)
	_, err = (&FoldedState{Root: HexBytes{1}}).Marshal()
	c.Assert(err, qt.IsNotNil)
}
