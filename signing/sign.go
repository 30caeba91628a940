// Package signing encodes ledger transactions with SCALE and signs them
// with secp256k1 keys. The sender of a transaction is recovered from its
// signature, so no public key travels with it.
package signing

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spacemeshos/go-scale"

	"github.com/computeledger/trainmgr/types"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
)

// Signer signs 32-byte digests on behalf of one identity.
// Key material never leaves it.
type Signer interface {
	Identity() types.Identity
	SignHash(hash types.Hash) ([]byte, error)
}

// KeySigner is a Signer over an in-memory secp256k1 key.
type KeySigner struct {
	key *ecdsa.PrivateKey
	id  types.Identity
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key: key,
		id:  types.Identity(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

func GenerateKey() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return NewKeySigner(key), nil
}

// KeySignerFromHex loads a key in the hex form produced by Hex.
func KeySignerFromHex(s string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", types.ErrInvalidArgument, err)
	}
	return NewKeySigner(key), nil
}

// KeySignerFromBytes loads a raw 32-byte key.
func KeySignerFromBytes(b []byte) (*KeySigner, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", types.ErrInvalidArgument, err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Identity() types.Identity {
	return s.id
}

func (s *KeySigner) SignHash(hash types.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrSigningFailed, err)
	}
	return sig, nil
}

func (s *KeySigner) Bytes() []byte {
	return crypto.FromECDSA(s.key)
}

func (s *KeySigner) Hex() string {
	return hex.EncodeToString(s.Bytes())
}

// Recover returns the identity that produced sig over hash.
func Recover(hash types.Hash, sig []byte) (types.Identity, error) {
	if len(sig) != crypto.SignatureLength {
		return types.Identity{}, fmt.Errorf("%w: signature has %d bytes", ErrSignatureInvalid, len(sig))
	}
	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w (%v)", ErrSignatureInvalid, err)
	}
	return types.Identity(crypto.PubkeyToAddress(*pub)), nil
}

type encodable[P any] interface {
	scale.Encodable
	*P
}

type decodable[P any] interface {
	scale.Decodable
	*P
}

// Encode serializes data with SCALE.
// *T must implement scale.Encodable which is constrained by Encodable.
func Encode[T any, Encodable encodable[T]](data T) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encodable(&data).EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to serialize data (%w)", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes SCALE data into a T, rejecting trailing bytes.
func Decode[T any, Decodable decodable[T]](data []byte) (*T, error) {
	var v T
	n, err := Decodable(&v).DecodeScale(scale.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize data (%v)", types.ErrInvalidArgument, err)
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", types.ErrInvalidArgument, len(data)-n)
	}
	return &v, nil
}

// Hash is the keccak256 digest of the SCALE encoding of data.
func Hash[T any, Encodable encodable[T]](data T) (types.Hash, error) {
	encoded, err := Encode[T, Encodable](data)
	if err != nil {
		return types.Hash{}, err
	}
	return types.Hash(crypto.Keccak256Hash(encoded)), nil
}
