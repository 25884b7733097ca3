package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// HexBytes is a []byte which encodes as hexadecimal in json, as opposed to the
// base64 default.
type HexBytes []byte

func HexBytesFromString(s string) (HexBytes, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// HexBytesFromBigInt converts a big.Int to a HexBytes.
func HexBytesFromBigInt(i *big.Int) HexBytes {
	return i.Bytes()
}

func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// BigInt converts the HexBytes to a big.Int (big-endian).
func (b HexBytes) BigInt() *big.Int {
	return new(big.Int).SetBytes(b)
}

func (b HexBytes) MarshalJSON() ([]byte, error) {
	enc := make([]byte, hex.EncodedLen(len(b))+4)
	enc[0] = '"'
	enc[1] = '0'
	enc[2] = 'x'
	hex.Encode(enc[3:], b)
	enc[len(enc)-1] = '"'
	return enc, nil
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON string: %q", data)
	}
	data = data[1 : len(data)-1]
	// strip optional "0x" prefix
	if len(data) >= 2 && data[0] == '0' && (data[1] == 'x' || data[1] == 'X') {
		data = data[2:]
	}
	decLen := hex.DecodedLen(len(data))
	if cap(*b) < decLen {
		*b = make([]byte, decLen)
	}
	*b = (*b)[:decLen]
	if _, err := hex.Decode(*b, data); err != nil {
		return err
	}
	return nil
}
