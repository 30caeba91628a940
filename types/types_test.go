package types_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/computeledger/trainmgr/types"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want types.Role
	}{
		{"ComputeNodeOperator", types.ComputeNodeOperator},
		{"node", types.ComputeNodeOperator},
		{"compute-node", types.ComputeNodeOperator},
		{"MODELTRAINER", types.ModelTrainer},
		{"trainer", types.ModelTrainer},
		{"Administrator", types.Administrator},
		{"admin", types.Administrator},
	}
	for _, tc := range tests {
		role, err := types.ParseRole(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, role)
	}

	_, err := types.ParseRole("janitor")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	require.False(t, types.RoleNone.Valid())
	require.Equal(t, "Role(9)", types.Role(9).String())
}

func TestRoleSet(t *testing.T) {
	s := types.NewRoleSet(types.ModelTrainer)
	require.True(t, s.Has(types.ModelTrainer))
	require.False(t, s.Has(types.Administrator))

	s = s.With(types.Administrator).With(types.Administrator)
	require.Equal(t, []types.Role{types.ModelTrainer, types.Administrator}, s.Roles())
	require.Equal(t, "[ModelTrainer,Administrator]", s.String())

	s = s.Without(types.ModelTrainer).Without(types.ComputeNodeOperator)
	require.Equal(t, []types.Role{types.Administrator}, s.Roles())
	require.False(t, s.Has(types.RoleNone))
	require.Empty(t, types.RoleSet(0).Roles())
}

func TestParseRunID(t *testing.T) {
	id, err := types.ParseRunID("42")
	require.NoError(t, err)
	require.Equal(t, types.RunID(42), id)
	require.Equal(t, "42", id.String())

	for _, bad := range []string{"", "0", "-1", "x"} {
		_, err := types.ParseRunID(bad)
		require.ErrorIs(t, err, types.ErrInvalidArgument, bad)
	}
}

func TestRunStatusTransitions(t *testing.T) {
	next, ok := types.RunRegistered.Next()
	require.True(t, ok)
	require.Equal(t, types.RunStarted, next)

	next, ok = next.Next()
	require.True(t, ok)
	require.Equal(t, types.RunEnded, next)

	_, ok = next.Next()
	require.False(t, ok)
}

func TestIdentityText(t *testing.T) {
	const addr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	id, err := types.ParseIdentity(strings.ToLower(addr))
	require.NoError(t, err)
	require.Equal(t, addr, id.String())

	raw, err := json.Marshal(struct{ ID types.Identity }{id})
	require.NoError(t, err)
	require.JSONEq(t, `{"ID":"`+addr+`"}`, string(raw))

	var decoded struct{ ID types.Identity }
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, id, decoded.ID)

	_, err = types.ParseIdentity("0x1234")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	require.True(t, types.Identity{}.IsZero())
	require.NotEqual(t, types.StakingAccount, types.SettlementAccount)
}

func TestHashText(t *testing.T) {
	h := types.Hash{1, 2, 3}
	parsed, err := types.ParseHash(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
	require.Equal(t, "01020300", h.ShortString())

	parsed, err = types.ParseHash(strings.TrimPrefix(h.String(), "0x"))
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = types.ParseHash("abcd")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = types.ParseHash("zz")
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}
