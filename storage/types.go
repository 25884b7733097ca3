package storage

import "github.com/lightfold/lightfold/types"

// RotationRequest is a queued ask to rotate the committee: the membership
// changes plus the aggregate signature collected off-band from the current
// committee. The prover turns it into a circuit witness; nothing here is
// trusted until the step proves.
type RotationRequest struct {
	// Epoch is the epoch the rotation starts from; must match the current
	// folded state when the request is processed.
	Epoch uint64 `json:"epoch"`
	// Join are the validators entering the committee.
	Join []types.Validator `json:"join,omitempty"`
	// Leave are the public keys of the validators exiting.
	Leave []types.HexBytes `json:"leave,omitempty"`
	// Signers are the public keys of the current members that signed.
	Signers []types.HexBytes `json:"signers,omitempty"`
	// SignerBitmap is the compact alternative to Signers: entry i set means
	// the i-th current member, in forest order, signed. It is consulted
	// only when Signers is empty.
	SignerBitmap types.SignerBitmap `json:"signerBitmap,omitempty"`
	// Signature is the uncompressed aggregate BLS signature of the signers
	// over the rotation message.
	Signature types.HexBytes `json:"signature"`
}
