package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const IdentityLength = common.AddressLength

// Identity is the 20-byte address of a protocol participant.
type Identity [IdentityLength]byte

var (
	// BurnIdentity receives slashed stake when no reward pool is configured.
	BurnIdentity = MustParseIdentity("0x000000000000000000000000000000000000dEaD")

	// StakingAccount holds the escrowed stake of all compute nodes.
	StakingAccount = ModuleIdentity("staking")

	// SettlementAccount is the spender trainers approve to pay out run budgets.
	// It is also the only non-administrator identity allowed to slash.
	SettlementAccount = ModuleIdentity("settlement")
)

// ModuleIdentity derives the account of a built-in module from its name.
// Nobody holds a key for it.
func ModuleIdentity(name string) Identity {
	var id Identity
	copy(id[:], crypto.Keccak256([]byte("module/" + name))[12:])
	return id
}

func ParseIdentity(s string) (Identity, error) {
	if !common.IsHexAddress(s) {
		return Identity{}, fmt.Errorf("%w: not a hex address: %q", ErrInvalidArgument, s)
	}
	return Identity(common.HexToAddress(s)), nil
}

func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identity) Address() common.Address {
	return common.Address(id)
}

// String returns the EIP-55 checksummed hex form.
func (id Identity) String() string {
	return common.Address(id).Hex()
}

func (id Identity) Bytes() []byte {
	return id[:]
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

func (id Identity) Less(other Identity) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (id Identity) MarshalFlag() (string, error) {
	return id.String(), nil
}

// UnmarshalFlag implements flags.Unmarshaler.
func (id *Identity) UnmarshalFlag(value string) error {
	return id.UnmarshalText([]byte(value))
}

const HashLength = 32

// Hash identifies a transaction and chains the ledger log.
type Hash [HashLength]byte

func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash{}, fmt.Errorf("%w: decoding hash: %v", ErrInvalidArgument, err)
	}
	if len(raw) != HashLength {
		return Hash{}, fmt.Errorf("%w: hash must be %d bytes, got %d", ErrInvalidArgument, HashLength, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:4])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
