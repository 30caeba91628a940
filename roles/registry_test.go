package roles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/roles"
	"github.com/computeledger/trainmgr/types"
)

var (
	admin = types.MustParseIdentity("0x00000000000000000000000000000000000000ad")
	node  = types.MustParseIdentity("0x0000000000000000000000000000000000000001")
	other = types.MustParseIdentity("0x0000000000000000000000000000000000000002")
)

func newRegistry(t *testing.T) (context.Context, *roles.Registry) {
	t.Helper()
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	tx, err := db.OpenTransaction()
	require.NoError(t, err)
	t.Cleanup(func() {
		tx.Discard()
		require.NoError(t, db.Close())
	})
	r := roles.NewRegistry(kv.NewTxStore(tx))
	require.NoError(t, r.Bootstrap(admin, types.Administrator))
	return logging.NewContext(context.Background(), zaptest.NewLogger(t)), r
}

func TestGrantRoleIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)

	require.NoError(t, r.GrantRole(ctx, admin, node, types.ComputeNodeOperator))
	require.NoError(t, r.GrantRole(ctx, admin, node, types.ComputeNodeOperator))

	set, err := r.Roles(node)
	require.NoError(t, err)
	require.Equal(t, []types.Role{types.ComputeNodeOperator}, set.Roles())
}

func TestUnauthorizedCallsDoNotMutate(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)

	require.ErrorIs(t, r.GrantRole(ctx, node, node, types.Administrator), types.ErrUnauthorized)
	require.ErrorIs(t, r.WhitelistComputeNode(ctx, node, node), types.ErrUnauthorized)
	require.ErrorIs(t, r.RevokeRole(ctx, node, admin, types.Administrator), types.ErrUnauthorized)

	ok, err := r.HasRole(node, types.Administrator)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.IsWhitelisted(node)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.IsAdmin(admin)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuthorizeAnyOf(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)
	require.NoError(t, r.GrantRole(ctx, admin, node, types.ModelTrainer))

	require.NoError(t, r.Authorize(node, types.Administrator, types.ModelTrainer))
	require.ErrorIs(t, r.Authorize(node, types.Administrator), types.ErrUnauthorized)
	require.ErrorIs(t, r.Authorize(other, types.ComputeNodeOperator), types.ErrUnauthorized)
}

func TestRevokeRole(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)
	require.NoError(t, r.GrantRole(ctx, admin, other, types.Administrator))

	require.ErrorIs(t, r.RevokeRole(ctx, admin, admin, types.Administrator), types.ErrInvalidArgument)
	require.NoError(t, r.RevokeRole(ctx, other, admin, types.Administrator))

	ok, err := r.IsAdmin(admin)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWhitelist(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)

	require.NoError(t, r.WhitelistComputeNode(ctx, admin, node))
	require.NoError(t, r.WhitelistComputeNode(ctx, admin, node))
	ok, err := r.IsWhitelisted(node)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.RemoveFromWhitelist(ctx, admin, node))
	ok, err = r.IsWhitelisted(node)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGrantRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	ctx, r := newRegistry(t)
	require.ErrorIs(t, r.GrantRole(ctx, admin, types.Identity{}, types.ModelTrainer), types.ErrInvalidArgument)
	require.ErrorIs(t, r.GrantRole(ctx, admin, node, types.Role(9)), types.ErrInvalidArgument)
}
