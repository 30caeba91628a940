package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/computeledger/trainmgr/types"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, types.Kind(""), types.KindOf(nil))
	require.Equal(t, types.KindInternal, types.KindOf(errors.New("disk on fire")))
	require.Equal(t, types.KindStakeLocked, types.KindOf(fmt.Errorf("withdraw: %w", types.ErrStakeLocked)))

	// A finalized run is also an invalid state, but keeps its own kind.
	require.ErrorIs(t, types.ErrRunFinalized, types.ErrInvalidState)
	require.Equal(t, types.KindRunFinalized, types.KindOf(types.ErrRunFinalized))
	require.Equal(t, types.KindInvalidState, types.KindOf(types.ErrInvalidState))
}

func TestErrorFromKind(t *testing.T) {
	for _, sentinel := range []error{
		types.ErrUnauthorized,
		types.ErrInvalidState,
		types.ErrRunFinalized,
		types.ErrNotWhitelisted,
		types.ErrNotAMember,
		types.ErrInsufficientApproval,
		types.ErrAlreadySettled,
		types.ErrNotFound,
		types.ErrMalformedAttestation,
		types.ErrInsufficientStake,
		types.ErrStakeLocked,
		types.ErrInsufficientBalance,
		types.ErrInvalidArgument,
		types.ErrInvalidNonce,
		types.ErrInvalidSignature,
		types.ErrTxAlreadyKnown,
		types.ErrWrongChain,
		types.ErrPending,
	} {
		sentinel := sentinel
		t.Run(string(types.KindOf(sentinel)), func(t *testing.T) {
			wrapped := fmt.Errorf("%w: details", sentinel)
			kind := types.KindOf(wrapped)

			rebuilt := types.ErrorFromKind(kind, wrapped.Error())
			require.ErrorIs(t, rebuilt, sentinel)
			require.Equal(t, kind, types.KindOf(rebuilt))
			require.Equal(t, wrapped.Error(), rebuilt.Error())

			require.Equal(t, sentinel, types.ErrorFromKind(kind, ""))
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		err := types.ErrorFromKind("Unheard", "")
		require.EqualError(t, err, "Unheard")
		require.Equal(t, types.KindInternal, types.KindOf(err))

		err = types.ErrorFromKind(types.KindInternal, "boom")
		require.EqualError(t, err, "boom")
	})
}
