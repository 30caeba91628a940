package signing

import (
	"fmt"
	"strconv"

	"github.com/computeledger/trainmgr/types"
)

// Method selects the contract operation a transaction invokes.
type Method uint8

const (
	MethodGrantRole Method = iota + 1
	MethodRevokeRole
	MethodWhitelist
	MethodUnwhitelist
	MethodMint
	MethodApprove
	MethodTransfer
	MethodDeposit
	MethodWithdraw
	MethodSlash
	MethodRegisterRun
	MethodJoinRun
	MethodStartRun
	MethodSubmitAttestation
	MethodEndRun
	MethodSettle
)

var methodNames = map[Method]string{
	MethodGrantRole:         "GrantRole",
	MethodRevokeRole:        "RevokeRole",
	MethodWhitelist:         "WhitelistComputeNode",
	MethodUnwhitelist:       "RemoveFromWhitelist",
	MethodMint:              "Mint",
	MethodApprove:           "Approve",
	MethodTransfer:          "Transfer",
	MethodDeposit:           "Deposit",
	MethodWithdraw:          "Withdraw",
	MethodSlash:             "Slash",
	MethodRegisterRun:       "RegisterTrainingRun",
	MethodJoinRun:           "JoinTrainingRun",
	MethodStartRun:          "StartTrainingRun",
	MethodSubmitAttestation: "SubmitAttestation",
	MethodEndRun:            "EndTrainingRun",
	MethodSettle:            "Settle",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "Method(" + strconv.Itoa(int(m)) + ")"
}

// ParseMethod is the inverse of Method.String.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown method %q", types.ErrInvalidArgument, name)
}

func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// Call is a contract invocation. Which fields are read depends on Method,
// unused fields must be left zero.
type Call struct {
	Method  Method
	Run     types.RunID
	Target  types.Identity
	Role    types.Role
	Amount  uint64
	Name    string
	IP      string
	Payload []byte
}

// Tx is what a sender signs.
type Tx struct {
	ChainID uint64
	From    types.Identity
	Nonce   uint64
	Call    Call
}

// Hash identifies the transaction and is the digest that gets signed.
func (tx *Tx) Hash() (types.Hash, error) {
	return Hash(*tx)
}

type SignedTx struct {
	Tx        Tx
	Signature []byte
}

// SignTx signs tx as signer, setting tx.From to the signer identity.
func SignTx(tx Tx, signer Signer) (*SignedTx, error) {
	tx.From = signer.Identity()
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignHash(hash)
	if err != nil {
		return nil, err
	}
	return &SignedTx{Tx: tx, Signature: sig}, nil
}

func (s *SignedTx) Hash() (types.Hash, error) {
	return s.Tx.Hash()
}

// Verify checks that the signature was produced by Tx.From and returns the
// transaction hash.
func (s *SignedTx) Verify() (types.Hash, error) {
	hash, err := s.Tx.Hash()
	if err != nil {
		return types.Hash{}, err
	}
	sender, err := Recover(hash, s.Signature)
	if err != nil {
		return types.Hash{}, err
	}
	if sender != s.Tx.From {
		return types.Hash{}, fmt.Errorf("%w: signed by %s, sent as %s", ErrSignatureInvalid, sender, s.Tx.From)
	}
	return hash, nil
}

func (s *SignedTx) Encode() ([]byte, error) {
	return Encode(*s)
}

func DecodeSignedTx(data []byte) (*SignedTx, error) {
	return Decode[SignedTx](data)
}
