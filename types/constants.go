package types

const (
	// TotalVotingPower is the voting power distributed among a committee.
	TotalVotingPower = 10_000
	// StrongThreshold is the default quorum threshold: strictly more than
	// two thirds of TotalVotingPower.
	StrongThreshold = 6_667
	// PublicKeySize is the size in bytes of an uncompressed BLS12-381 G1
	// public key.
	PublicKeySize = 96
	// SignatureSize is the size in bytes of an uncompressed BLS12-381 G2
	// signature.
	SignatureSize = 192
	// PubKeyChunks is the number of field elements an uncompressed public
	// key is split into when it is hashed into a leaf commitment.
	PubKeyChunks = 4
	// PubKeyChunkSize is the byte length of each chunk. 24 bytes keep every
	// chunk well below the BN254 scalar field modulus.
	PubKeyChunkSize = PublicKeySize / PubKeyChunks
)
