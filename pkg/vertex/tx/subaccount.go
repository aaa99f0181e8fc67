package tx

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultSubaccountName is the tag used when a caller does not name a
// subaccount explicitly.
const DefaultSubaccountName = "default"

// Subaccount is the 32-byte sender identity the gateway expects: a 20-byte
// account address followed by a 12-byte subaccount tag, zero-padded.
type Subaccount [32]byte

// NewSubaccount builds a Subaccount from a hex account address and a
// subaccount name of at most 12 bytes. An empty name maps to "default".
func NewSubaccount(addressHex, name string) (Subaccount, error) {
	var sub Subaccount

	raw, err := hex.DecodeString(strings.TrimPrefix(addressHex, "0x"))
	if err != nil {
		return sub, fmt.Errorf("invalid sender address hex: %w", err)
	}
	if len(raw) != common.AddressLength {
		return sub, fmt.Errorf("sender address must be %d bytes, got %d", common.AddressLength, len(raw))
	}

	if name == "" {
		name = DefaultSubaccountName
	}
	if len(name) > 12 {
		return sub, fmt.Errorf("subaccount name must be at most 12 bytes, got %d", len(name))
	}

	copy(sub[:common.AddressLength], raw)
	copy(sub[common.AddressLength:], name)
	return sub, nil
}

// SubaccountFromHex decodes a Subaccount from hex. A 20-byte value is padded
// with the default tag; a 32-byte value is taken verbatim.
func SubaccountFromHex(s string) (Subaccount, error) {
	var sub Subaccount

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return sub, fmt.Errorf("invalid sender hex: %w", err)
	}

	switch len(raw) {
	case common.AddressLength:
		return NewSubaccount(s, "")
	case len(sub):
		copy(sub[:], raw)
		return sub, nil
	default:
		return sub, fmt.Errorf("sender must be 20 or 32 bytes, got %d", len(raw))
	}
}

// Address returns the 20-byte account address portion.
func (s Subaccount) Address() common.Address {
	var addr common.Address
	copy(addr[:], s[:common.AddressLength])
	return addr
}

// Name returns the subaccount tag with zero padding stripped.
func (s Subaccount) Name() string {
	return strings.TrimRight(string(s[common.AddressLength:]), "\x00")
}

// Hex returns the full 32-byte sender as hex without a 0x prefix, the form
// the gateway's JSON payloads use.
func (s Subaccount) Hex() string {
	return hex.EncodeToString(s[:])
}
