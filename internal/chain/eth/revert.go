package eth

import (
	"encoding/binary"
	"math/big"
)

// revertSelector is the 4-byte selector of Error(string), the standard
// Solidity revert encoding: keccak256("Error(string)")[0:4] = 0x08c379a0.
//
//nolint:gochecknoglobals // ABI constant
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// DecodeRevertReason extracts the human-readable reason from Error(string)
// revert data. Returns "" if the data is not a standard revert encoding.
func DecodeRevertReason(data []byte) string {
	// selector + offset word + length word is the minimum
	if len(data) < 4+32+32 {
		return ""
	}
	for i, b := range revertSelector {
		if data[i] != b {
			return ""
		}
	}

	payload := data[4:]

	offset := new(big.Int).SetBytes(payload[:32])
	if !offset.IsUint64() || offset.Uint64() != 32 {
		return ""
	}

	// compare by subtraction: 64+strLen wraps for huge length words
	strLen := binary.BigEndian.Uint64(payload[32+24 : 64])
	if strLen > uint64(len(payload))-64 {
		return ""
	}

	return string(payload[64 : 64+strLen])
}
