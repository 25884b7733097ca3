package types

import (
	"bytes"
	"fmt"
	"math/big"
)

// Validator is a committee member: a BLS public key with a voting weight.
// Validators are immutable, their identity is the public key.
type Validator struct {
	PubKey HexBytes `json:"pubKey"`
	Weight uint64   `json:"weight"`
}

var _ Serializer[*big.Int] = (*Validator)(nil)

// Serialize returns the field element encoding of the validator, the
// preimage of its leaf commitment: PubKeyChunks big-endian key chunks
// followed by the weight. The public key must be PublicKeySize bytes.
func (v *Validator) Serialize() []*big.Int {
	elems := make([]*big.Int, 0, PubKeyChunks+1)
	for i := 0; i < PubKeyChunks; i++ {
		elems = append(elems, new(big.Int).SetBytes(
			v.PubKey[i*PubKeyChunkSize:(i+1)*PubKeyChunkSize]))
	}
	return append(elems, new(big.Int).SetUint64(v.Weight))
}

// Committee is the ordered validator set of one epoch, together with the
// aggregate voting weight required to rotate to the next epoch.
type Committee struct {
	Validators []Validator `json:"validators"`
	Threshold  uint64      `json:"threshold"`
}

// Validate checks the committee is well formed: at least one validator, no
// zero weights, no duplicated public keys and a reachable threshold.
func (c *Committee) Validate() error {
	if len(c.Validators) == 0 {
		return fmt.Errorf("committee has no validators")
	}
	if c.Threshold == 0 {
		return fmt.Errorf("threshold must be positive")
	}
	total := uint64(0)
	for i, v := range c.Validators {
		if len(v.PubKey) != PublicKeySize {
			return fmt.Errorf("validator %d: public key must be %d bytes, got %d",
				i, PublicKeySize, len(v.PubKey))
		}
		if v.Weight == 0 {
			return fmt.Errorf("validator %d: weight must be positive", i)
		}
		total += v.Weight
		for _, w := range c.Validators[i+1:] {
			if bytes.Equal(v.PubKey, w.PubKey) {
				return fmt.Errorf("duplicated public key %s", v.PubKey)
			}
		}
	}
	if total < c.Threshold {
		return fmt.Errorf("total weight %d below threshold %d", total, c.Threshold)
	}
	return nil
}

// TotalWeight returns the sum of all validator weights.
func (c *Committee) TotalWeight() uint64 {
	total := uint64(0)
	for _, v := range c.Validators {
		total += v.Weight
	}
	return total
}

// Find returns the index of the validator with the given public key, or -1.
func (c *Committee) Find(pubKey HexBytes) int {
	for i, v := range c.Validators {
		if bytes.Equal(v.PubKey, pubKey) {
			return i
		}
	}
	return -1
}

// SignerBitmap addresses a signer subset by validator position: entry i set
// means the validator at index i of the ordered set signed.
type SignerBitmap []bool

// Count returns the number of set entries.
func (b SignerBitmap) Count() int {
	n := 0
	for _, set := range b {
		if set {
			n++
		}
	}
	return n
}

// Select resolves the bitmap against an ordered validator set. The bitmap
// cannot address positions beyond the set.
func (b SignerBitmap) Select(validators []*Validator) ([]*Validator, error) {
	if len(b) > len(validators) {
		return nil, fmt.Errorf("bitmap addresses %d positions, set has %d",
			len(b), len(validators))
	}
	selected := make([]*Validator, 0, b.Count())
	for i, set := range b {
		if set {
			selected = append(selected, validators[i])
		}
	}
	return selected, nil
}
