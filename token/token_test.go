package token_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/types"
)

var (
	alice   = types.MustParseIdentity("0x00000000000000000000000000000000000a11ce")
	bob     = types.MustParseIdentity("0x0000000000000000000000000000000000000b0b")
	spender = types.SettlementAccount
)

func newLedger(t *testing.T) *token.Ledger {
	t.Helper()
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	tx, err := db.OpenTransaction()
	require.NoError(t, err)
	t.Cleanup(func() {
		tx.Discard()
		require.NoError(t, db.Close())
	})
	return token.NewLedger(kv.NewTxStore(tx))
}

func TestMintAndTransfer(t *testing.T) {
	t.Parallel()
	l := newLedger(t)

	require.NoError(t, l.Mint(alice, 100))
	require.NoError(t, l.Transfer(alice, bob, 30))

	bal, err := l.BalanceOf(alice)
	require.NoError(t, err)
	require.EqualValues(t, 70, bal)
	bal, err = l.BalanceOf(bob)
	require.NoError(t, err)
	require.EqualValues(t, 30, bal)
	supply, err := l.TotalSupply()
	require.NoError(t, err)
	require.EqualValues(t, 100, supply)
}

func TestTransferInsufficientBalance(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, 10))

	require.ErrorIs(t, l.Transfer(alice, bob, 11), types.ErrInsufficientBalance)
	bal, err := l.BalanceOf(alice)
	require.NoError(t, err)
	require.EqualValues(t, 10, bal)
}

func TestTransferFrom(t *testing.T) {
	t.Parallel()

	t.Run("spends allowance", func(t *testing.T) {
		t.Parallel()
		l := newLedger(t)
		require.NoError(t, l.Mint(alice, 100))
		require.NoError(t, l.Approve(alice, spender, 60))

		require.NoError(t, l.TransferFrom(spender, alice, bob, 40))

		allowed, err := l.Allowance(alice, spender)
		require.NoError(t, err)
		require.EqualValues(t, 20, allowed)
		bal, err := l.BalanceOf(bob)
		require.NoError(t, err)
		require.EqualValues(t, 40, bal)
	})
	t.Run("insufficient approval", func(t *testing.T) {
		t.Parallel()
		l := newLedger(t)
		require.NoError(t, l.Mint(alice, 100))
		require.NoError(t, l.Approve(alice, spender, 10))

		err := l.TransferFrom(spender, alice, bob, 11)
		require.ErrorIs(t, err, types.ErrInsufficientApproval)

		bal, err := l.BalanceOf(alice)
		require.NoError(t, err)
		require.EqualValues(t, 100, bal)
	})
	t.Run("approved but not funded", func(t *testing.T) {
		t.Parallel()
		l := newLedger(t)
		require.NoError(t, l.Approve(alice, spender, 10))

		err := l.TransferFrom(spender, alice, bob, 5)
		require.ErrorIs(t, err, types.ErrInsufficientBalance)
	})
}

func TestMintOverflow(t *testing.T) {
	t.Parallel()
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, math.MaxUint64))
	require.ErrorIs(t, l.Mint(bob, 1), types.ErrInvalidArgument)
}
