package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidState         = errors.New("invalid state")
	ErrNotWhitelisted       = errors.New("compute node is not whitelisted")
	ErrNotAMember           = errors.New("compute node is not a member of the training run")
	ErrInsufficientApproval = errors.New("insufficient approval")
	ErrAlreadySettled       = errors.New("training run already settled")
	ErrNotFound             = errors.New("not found")

	ErrMalformedAttestation = errors.New("malformed attestation")
	ErrInsufficientStake    = errors.New("insufficient stake")
	ErrStakeLocked          = errors.New("stake is locked by an active training run")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidArgument      = errors.New("invalid argument")

	// ErrRunFinalized refines ErrInvalidState: errors.Is matches both.
	ErrRunFinalized = fmt.Errorf("%w: training run finalized", ErrInvalidState)

	// Ledger admission errors. These reject a submission before it is
	// ordered, so they never appear in receipts.
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTxAlreadyKnown   = errors.New("transaction already known")
	ErrWrongChain       = errors.New("transaction for another chain")
	ErrPending          = errors.New("transaction pending")
)

// Kind is the stable name of an error, carried in receipts and API responses.
type Kind string

const (
	KindUnauthorized         Kind = "Unauthorized"
	KindInvalidState         Kind = "InvalidState"
	KindRunFinalized         Kind = "RunFinalized"
	KindNotWhitelisted       Kind = "NotWhitelisted"
	KindNotAMember           Kind = "NotAMember"
	KindInsufficientApproval Kind = "InsufficientApproval"
	KindAlreadySettled       Kind = "AlreadySettled"
	KindNotFound             Kind = "NotFound"
	KindMalformedAttestation Kind = "MalformedAttestation"
	KindInsufficientStake    Kind = "InsufficientStake"
	KindStakeLocked          Kind = "StakeLocked"
	KindInsufficientBalance  Kind = "InsufficientBalance"
	KindInvalidArgument      Kind = "InvalidArgument"
	KindInvalidNonce         Kind = "InvalidNonce"
	KindInvalidSignature     Kind = "InvalidSignature"
	KindTxAlreadyKnown       Kind = "TxAlreadyKnown"
	KindWrongChain           Kind = "WrongChain"
	KindPending              Kind = "Pending"
	KindInternal             Kind = "Internal"
)

// kinds is ordered from the most specific error to the least specific,
// RunFinalized has to be matched before InvalidState.
var kinds = []struct {
	kind Kind
	err  error
}{
	{KindRunFinalized, ErrRunFinalized},
	{KindInvalidState, ErrInvalidState},
	{KindUnauthorized, ErrUnauthorized},
	{KindNotWhitelisted, ErrNotWhitelisted},
	{KindNotAMember, ErrNotAMember},
	{KindInsufficientApproval, ErrInsufficientApproval},
	{KindAlreadySettled, ErrAlreadySettled},
	{KindNotFound, ErrNotFound},
	{KindMalformedAttestation, ErrMalformedAttestation},
	{KindInsufficientStake, ErrInsufficientStake},
	{KindStakeLocked, ErrStakeLocked},
	{KindInsufficientBalance, ErrInsufficientBalance},
	{KindInvalidArgument, ErrInvalidArgument},
	{KindInvalidNonce, ErrInvalidNonce},
	{KindInvalidSignature, ErrInvalidSignature},
	{KindTxAlreadyKnown, ErrTxAlreadyKnown},
	{KindWrongChain, ErrWrongChain},
	{KindPending, ErrPending},
}

// KindOf returns the kind of err, "" for nil and KindInternal for errors
// outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ErrorFromKind rebuilds a typed error from its kind and message, so that
// errors.Is works on the client side of a receipt or an API response.
func ErrorFromKind(kind Kind, msg string) error {
	for _, k := range kinds {
		if k.kind != kind {
			continue
		}
		if msg == "" || msg == k.err.Error() {
			return k.err
		}
		return fmt.Errorf("%w: %s", k.err, strings.TrimPrefix(msg, k.err.Error()+": "))
	}
	if msg == "" {
		msg = string(kind)
	}
	return errors.New(msg)
}
