package forest

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/vocdoni/arbo"

	"github.com/lightfold/lightfold/types"
)

// HashFunc is the hash used for every node of the forest. It is the MiMC
// instance over the BN254 scalar field whose in-circuit counterpart is the
// gnark std MiMC gadget; the two must stay bit-for-bit compatible, which is
// the single most delicate invariant of this module. The parity is exercised
// by the tests in circuits/lmf.
var HashFunc = arbo.HashMiMC_BN254{}

// PubKeyChunks is the number of field elements a public key is split into
// for hashing.
const PubKeyChunks = types.PubKeyChunks

// emptyLeaf is the sentinel hash of an empty (or tombstoned) slot, the
// canonical encoding of the zero field element.
func emptyLeaf() []byte {
	return make([]byte, HashFunc.Len())
}

var (
	emptyRootsMu sync.Mutex
	emptyRoots   = map[int][]byte{}
)

// emptyLevelRoot returns the root of an all-empty tree of the given depth.
// Unallocated levels contribute this value to the aggregate root, so
// allocating a level never moves the root by itself: the fresh tree's root
// equals the sentinel the aggregation was already using for it.
func emptyLevelRoot(depth int) ([]byte, error) {
	emptyRootsMu.Lock()
	defer emptyRootsMu.Unlock()
	if r, ok := emptyRoots[depth]; ok {
		return r, nil
	}
	node := emptyLeaf()
	for d := 0; d < depth; d++ {
		h, err := hashNodes(node, node)
		if err != nil {
			return nil, err
		}
		node = h
	}
	emptyRoots[depth] = node
	return node, nil
}

// PubKeyChunksOf splits an uncompressed 96-byte public key into PubKeyChunks
// big-endian integers. The same split is performed in-circuit to bind the
// membership leaf to the key the signature gadget aggregates.
func PubKeyChunksOf(pubKey types.HexBytes) ([]*big.Int, error) {
	if len(pubKey) != types.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d",
			types.PublicKeySize, len(pubKey))
	}
	chunks := make([]*big.Int, PubKeyChunks)
	for i := range chunks {
		chunks[i] = new(big.Int).SetBytes(
			pubKey[i*types.PubKeyChunkSize : (i+1)*types.PubKeyChunkSize])
	}
	return chunks, nil
}

// LeafHash computes the leaf commitment of a validator: MiMC over its
// serialized field elements, MiMC(pkChunk0, .., pkChunk3, weight).
func LeafHash(v *types.Validator) ([]byte, error) {
	if len(v.PubKey) != types.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d",
			types.PublicKeySize, len(v.PubKey))
	}
	elems := v.Serialize()
	inputs := make([][]byte, len(elems))
	for i, e := range elems {
		inputs[i] = arbo.BigIntToBytes(HashFunc.Len(), e)
	}
	return HashFunc.Hash(inputs...)
}

// aggregateRoot combines the level roots, ordered by level index, into the
// single forest commitment. The input must already be padded to the
// configured maximum number of levels.
func aggregateRoot(levelRoots [][]byte) ([]byte, error) {
	return HashFunc.Hash(levelRoots...)
}

// hashNodes computes an internal node from its two children.
func hashNodes(left, right []byte) ([]byte, error) {
	return HashFunc.Hash(left, right)
}
