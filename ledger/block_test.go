package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

func TestStorageFailureRequeuesRestOfBlock(t *testing.T) {
	t.Parallel()
	admin, err := signing.GenerateKey()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ChainID = 5
	cfg.BlockInterval = time.Hour
	cfg.Admin = admin.Identity()

	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	l, err := New(ctx, db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	var hashes []types.Hash
	for nonce := uint64(0); nonce < 3; nonce++ {
		stx, err := signing.SignTx(signing.Tx{
			ChainID: cfg.ChainID,
			Nonce:   nonce,
			Call:    signing.Call{Method: signing.MethodRegisterRun, Name: "Test", Amount: 10},
		}, admin)
		require.NoError(t, err)
		hash, err := l.Submit(ctx, stx)
		require.NoError(t, err)
		hashes = append(hashes, hash)
	}

	failures := 1
	l.beforeCommit = func(hash types.Hash) error {
		if hash == hashes[1] && failures > 0 {
			failures--
			return errors.New("disk full")
		}
		return nil
	}

	l.Flush()
	receipt, err := l.Receipt(hashes[0])
	require.NoError(t, err)
	require.EqualValues(t, 1, receipt.Height)
	for _, hash := range hashes[1:] {
		_, err := l.Receipt(hash)
		require.ErrorIs(t, err, types.ErrPending)
	}
	nonce, err := l.Nonce(admin.Identity())
	require.NoError(t, err)
	require.EqualValues(t, 3, nonce)

	l.Flush()
	for i, hash := range hashes {
		receipt, err := l.Receipt(hash)
		require.NoError(t, err)
		require.NoError(t, receipt.Err())
		require.EqualValues(t, i+1, receipt.Height)
		require.EqualValues(t, i+1, receipt.Result)
	}
	confirmed, err := l.ConfirmedNonce(admin.Identity())
	require.NoError(t, err)
	require.EqualValues(t, 3, confirmed)
	require.NoError(t, l.VerifyLog())
}
