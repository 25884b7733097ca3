package forest

import (
	"fmt"
)

// levelTree is a fixed-depth Merkle tree stored as an arena: nodes are
// addressed by index, never by pointer (node 0 is the root, children of node
// i are 2i+1 and 2i+2). All slots start as the empty-leaf sentinel.
type levelTree struct {
	depth int
	nodes [][]byte // len = 2^(depth+1) - 1
}

func newLevelTree(depth int) (*levelTree, error) {
	if depth < 1 {
		return nil, fmt.Errorf("tree depth must be >= 1, got %d", depth)
	}
	t := &levelTree{
		depth: depth,
		nodes: make([][]byte, (1<<(depth+1))-1),
	}
	// precompute the all-empty subtree hashes, bottom-up
	zero := make([][]byte, depth+1)
	zero[depth] = emptyLeaf()
	for d := depth - 1; d >= 0; d-- {
		h, err := hashNodes(zero[d+1], zero[d+1])
		if err != nil {
			return nil, err
		}
		zero[d] = h
	}
	// node at arena index i lives at depth floor(log2(i+1))
	for i := range t.nodes {
		d := 0
		for (1 << (d + 1)) <= i+1 {
			d++
		}
		t.nodes[i] = zero[d]
	}
	return t, nil
}

// numLeaves returns the leaf capacity of the tree.
func (t *levelTree) numLeaves() int {
	return 1 << t.depth
}

func (t *levelTree) leafIndex(pos int) int {
	return (1 << t.depth) - 1 + pos
}

// root returns the current root hash.
func (t *levelTree) root() []byte {
	return t.nodes[0]
}

// leaf returns the current hash of the leaf at pos.
func (t *levelTree) leaf(pos int) []byte {
	return t.nodes[t.leafIndex(pos)]
}

// update sets the leaf at pos and recomputes the path to the root.
func (t *levelTree) update(pos int, leafHash []byte) error {
	if pos < 0 || pos >= t.numLeaves() {
		return fmt.Errorf("leaf position %d out of range [0,%d)", pos, t.numLeaves())
	}
	i := t.leafIndex(pos)
	t.nodes[i] = leafHash
	for i > 0 {
		parent := (i - 1) / 2
		h, err := hashNodes(t.nodes[2*parent+1], t.nodes[2*parent+2])
		if err != nil {
			return err
		}
		t.nodes[parent] = h
		i = parent
	}
	return nil
}

// prove returns the authentication path of the leaf at pos, ordered from the
// leaf up to the root. The direction of each step is implied by the bits of
// pos: bit j set means the walked node is the right child at depth j.
func (t *levelTree) prove(pos int) ([][]byte, error) {
	if pos < 0 || pos >= t.numLeaves() {
		return nil, fmt.Errorf("leaf position %d out of range [0,%d)", pos, t.numLeaves())
	}
	siblings := make([][]byte, 0, t.depth)
	i := t.leafIndex(pos)
	for i > 0 {
		if i%2 == 1 { // left child, sibling is right
			siblings = append(siblings, t.nodes[i+1])
		} else {
			siblings = append(siblings, t.nodes[i-1])
		}
		i = (i - 1) / 2
	}
	return siblings, nil
}
