package aptos

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the byte length of an account address.
const AddressLength = 32

// NormalizeAddress converts short or mixed-case hex into the canonical
// 0x-prefixed, zero-padded, lowercase 32-byte form.
func NormalizeAddress(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	if len(s) > AddressLength*2 {
		return "", fmt.Errorf("address too long: %s", input)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	raw, err := hexutil.Decode("0x" + s)
	if err != nil {
		return "", fmt.Errorf("invalid address %s: %w", input, err)
	}
	return hexutil.Encode(common.LeftPadBytes(raw, AddressLength)), nil
}

// MustNormalizeAddress is NormalizeAddress for constants and tests.
func MustNormalizeAddress(input string) string {
	addr, err := NormalizeAddress(input)
	if err != nil {
		panic(err)
	}
	return addr
}
