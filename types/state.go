package types

import (
	"encoding/binary"
	"fmt"
)

const foldedStateSize = 32 + 8 + 8

// FoldedState is the public state carried across folding steps: the
// commitment to the current committee (the aggregate forest root), the epoch
// that produced it and the quorum threshold in force.
type FoldedState struct {
	Root      HexBytes `json:"root"`
	Epoch     uint64   `json:"epoch"`
	Threshold uint64   `json:"threshold"`
}

// Marshal encodes the state as root (32 bytes) | epoch | threshold, both
// integers big-endian.
func (s *FoldedState) Marshal() ([]byte, error) {
	if len(s.Root) != 32 {
		return nil, fmt.Errorf("root must be 32 bytes, got %d", len(s.Root))
	}
	buf := make([]byte, foldedStateSize)
	copy(buf[:32], s.Root)
	binary.BigEndian.PutUint64(buf[32:40], s.Epoch)
	binary.BigEndian.PutUint64(buf[40:48], s.Threshold)
	return buf, nil
}

// Unmarshal decodes a state previously encoded with Marshal.
func (s *FoldedState) Unmarshal(data []byte) error {
	if len(data) != foldedStateSize {
		return fmt.Errorf("invalid folded state length %d, expected %d",
			len(data), foldedStateSize)
	}
	s.Root = make(HexBytes, 32)
	copy(s.Root, data[:32])
	s.Epoch = binary.BigEndian.Uint64(data[32:40])
	s.Threshold = binary.BigEndian.Uint64(data[40:48])
	return nil
}

// Equal reports whether both states carry the same root, epoch and threshold.
func (s *FoldedState) Equal(o *FoldedState) bool {
	return s.Root.BigInt().Cmp(o.Root.BigInt()) == 0 &&
		s.Epoch == o.Epoch && s.Threshold == o.Threshold
}
