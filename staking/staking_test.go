package staking_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/roles"
	"github.com/computeledger/trainmgr/staking"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/token/mocks"
	"github.com/computeledger/trainmgr/types"
)

var (
	admin = types.MustParseIdentity("0x00000000000000000000000000000000000000ad")
	node  = types.MustParseIdentity("0x0000000000000000000000000000000000000001")
	sink  = types.MustParseIdentity("0x00000000000000000000000000000000000000f0")
)

type lockFunc func(types.Identity) (bool, error)

func (f lockFunc) IsComputeNodeValid(id types.Identity) (bool, error) { return f(id) }

type env struct {
	ctx    context.Context
	st     kv.Store
	roles  *roles.Registry
	tokens *token.Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	tx, err := db.OpenTransaction()
	require.NoError(t, err)
	t.Cleanup(func() {
		tx.Discard()
		require.NoError(t, db.Close())
	})
	st := kv.NewTxStore(tx)
	r := roles.NewRegistry(st)
	require.NoError(t, r.Bootstrap(admin, types.Administrator))
	return &env{
		ctx:    logging.NewContext(context.Background(), zaptest.NewLogger(t)),
		st:     st,
		roles:  r,
		tokens: token.NewLedger(st),
	}
}

func (e *env) fund(t *testing.T, id types.Identity, amount, approve uint64) {
	t.Helper()
	require.NoError(t, e.tokens.Mint(id, amount))
	require.NoError(t, e.tokens.Approve(id, types.StakingAccount, approve))
}

func TestDeposit(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig())
	e.fund(t, node, 150, 150)

	require.NoError(t, l.Deposit(e.ctx, node, 100))

	stake, err := l.BalanceOf(node)
	require.NoError(t, err)
	require.EqualValues(t, 100, stake)
	escrow, err := e.tokens.BalanceOf(types.StakingAccount)
	require.NoError(t, err)
	require.EqualValues(t, 100, escrow)
	eligible, err := l.IsEligible(node)
	require.NoError(t, err)
	require.True(t, eligible)
}

func TestDepositWithoutApprovalLeavesStakeUnchanged(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig())
	e.fund(t, node, 150, 50)

	require.ErrorIs(t, l.Deposit(e.ctx, node, 100), types.ErrInsufficientApproval)

	stake, err := l.BalanceOf(node)
	require.NoError(t, err)
	require.Zero(t, stake)
	bal, err := e.tokens.BalanceOf(node)
	require.NoError(t, err)
	require.EqualValues(t, 150, bal)
}

func TestDepositTokenStoreFailure(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	tokens := mocks.NewMockAccountStore(gomock.NewController(t))
	tokens.EXPECT().
		TransferFrom(types.StakingAccount, node, types.StakingAccount, uint64(10)).
		Return(types.ErrInsufficientApproval)
	l := staking.NewLedger(e.st, tokens, e.roles, staking.DefaultConfig())

	require.ErrorIs(t, l.Deposit(e.ctx, node, 10), types.ErrInsufficientApproval)
	stake, err := l.BalanceOf(node)
	require.NoError(t, err)
	require.Zero(t, stake)
}

func TestDepositApprovedButUnfunded(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig())
	require.NoError(t, e.tokens.Approve(node, types.StakingAccount, 10))

	err := l.Deposit(e.ctx, node, 10)
	require.ErrorIs(t, err, types.ErrInsufficientApproval)
	require.Equal(t, types.KindInsufficientApproval, types.KindOf(err))
	stake, err := l.BalanceOf(node)
	require.NoError(t, err)
	require.Zero(t, stake)
}

func TestWithdraw(t *testing.T) {
	t.Parallel()

	t.Run("returns tokens", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig())
		e.fund(t, node, 100, 100)
		require.NoError(t, l.Deposit(e.ctx, node, 100))

		require.NoError(t, l.Withdraw(e.ctx, node, 40))

		stake, err := l.BalanceOf(node)
		require.NoError(t, err)
		require.EqualValues(t, 60, stake)
		bal, err := e.tokens.BalanceOf(node)
		require.NoError(t, err)
		require.EqualValues(t, 40, bal)
	})
	t.Run("more than staked", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig())
		require.ErrorIs(t, l.Withdraw(e.ctx, node, 1), types.ErrInsufficientStake)
	})
	t.Run("locked by active run", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		locked := lockFunc(func(id types.Identity) (bool, error) { return id == node, nil })
		l := staking.NewLedger(e.st, e.tokens, e.roles, staking.DefaultConfig(), staking.WithLockChecker(locked))
		e.fund(t, node, 100, 100)
		require.NoError(t, l.Deposit(e.ctx, node, 100))

		require.ErrorIs(t, l.Withdraw(e.ctx, node, 10), types.ErrStakeLocked)
	})
}

func TestSlash(t *testing.T) {
	t.Parallel()
	cfg := staking.Config{MinDeposit: 100, SlashSink: sink}

	t.Run("clamps to balance", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, cfg)
		e.fund(t, node, 100, 100)
		require.NoError(t, l.Deposit(e.ctx, node, 100))

		slashed, err := l.Slash(e.ctx, admin, node, 500)
		require.NoError(t, err)
		require.EqualValues(t, 100, slashed)

		stake, err := l.BalanceOf(node)
		require.NoError(t, err)
		require.Zero(t, stake)
		sunk, err := e.tokens.BalanceOf(sink)
		require.NoError(t, err)
		require.EqualValues(t, 100, sunk)
	})
	t.Run("settlement may slash", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, cfg)
		e.fund(t, node, 100, 100)
		require.NoError(t, l.Deposit(e.ctx, node, 100))

		slashed, err := l.Slash(e.ctx, types.SettlementAccount, node, 30)
		require.NoError(t, err)
		require.EqualValues(t, 30, slashed)
	})
	t.Run("zero stake", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, cfg)
		slashed, err := l.Slash(e.ctx, admin, node, 30)
		require.NoError(t, err)
		require.Zero(t, slashed)
	})
	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		l := staking.NewLedger(e.st, e.tokens, e.roles, cfg)
		e.fund(t, node, 100, 100)
		require.NoError(t, l.Deposit(e.ctx, node, 100))

		_, err := l.Slash(e.ctx, node, node, 30)
		require.ErrorIs(t, err, types.ErrUnauthorized)
		stake, err := l.BalanceOf(node)
		require.NoError(t, err)
		require.EqualValues(t, 100, stake)
	})
}
