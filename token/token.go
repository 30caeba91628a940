// Package token keeps ERC20-like token accounts in the ledger state.
package token

import (
	"fmt"
	"math/bits"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/types"
)

//go:generate mockgen -package mocks -destination ./mocks/account_store.go . AccountStore

// AccountStore is the token interface the protocol modules depend on.
type AccountStore interface {
	BalanceOf(owner types.Identity) (uint64, error)
	Allowance(owner, spender types.Identity) (uint64, error)
	TotalSupply() (uint64, error)
	Mint(to types.Identity, amount uint64) error
	Approve(owner, spender types.Identity, amount uint64) error
	Transfer(from, to types.Identity, amount uint64) error
	// TransferFrom moves amount from `from` to `to`, spending the allowance
	// `from` granted to spender.
	TransferFrom(spender, from, to types.Identity, amount uint64) error
}

var (
	balancePrefix   = []byte("token/bal/")
	allowancePrefix = []byte("token/allow/")
	supplyKey       = []byte("token/supply")
)

// Ledger is the AccountStore kept in a kv.Store.
type Ledger struct {
	st kv.Store
}

func NewLedger(st kv.Store) *Ledger {
	return &Ledger{st: st}
}

func balanceKey(owner types.Identity) []byte {
	return kv.Key(balancePrefix, owner[:])
}

func allowanceKey(owner, spender types.Identity) []byte {
	return kv.Key(allowancePrefix, owner[:], spender[:])
}

func (l *Ledger) BalanceOf(owner types.Identity) (uint64, error) {
	return kv.GetUint64(l.st, balanceKey(owner))
}

func (l *Ledger) Allowance(owner, spender types.Identity) (uint64, error) {
	return kv.GetUint64(l.st, allowanceKey(owner, spender))
}

func (l *Ledger) TotalSupply() (uint64, error) {
	return kv.GetUint64(l.st, supplyKey)
}

func (l *Ledger) Mint(to types.Identity, amount uint64) error {
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	newSupply, carry := bits.Add64(supply, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: minting %d overflows total supply", types.ErrInvalidArgument, amount)
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	return kv.PutUint64(l.st, supplyKey, newSupply)
}

func (l *Ledger) Approve(owner, spender types.Identity, amount uint64) error {
	return kv.PutUint64(l.st, allowanceKey(owner, spender), amount)
}

func (l *Ledger) Transfer(from, to types.Identity, amount uint64) error {
	if err := l.debit(from, amount); err != nil {
		return err
	}
	return l.credit(to, amount)
}

func (l *Ledger) TransferFrom(spender, from, to types.Identity, amount uint64) error {
	allowed, err := l.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowed < amount {
		return fmt.Errorf("%w: %s allowed %s to spend %d, need %d",
			types.ErrInsufficientApproval, from, spender, allowed, amount)
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	return kv.PutUint64(l.st, allowanceKey(from, spender), allowed-amount)
}

func (l *Ledger) debit(owner types.Identity, amount uint64) error {
	bal, err := l.BalanceOf(owner)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", types.ErrInsufficientBalance, owner, bal, amount)
	}
	return kv.PutUint64(l.st, balanceKey(owner), bal-amount)
}

func (l *Ledger) credit(owner types.Identity, amount uint64) error {
	bal, err := l.BalanceOf(owner)
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(bal, amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance of %s overflows", types.ErrInvalidArgument, owner)
	}
	return kv.PutUint64(l.st, balanceKey(owner), sum)
}
