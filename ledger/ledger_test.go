package ledger_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

type env struct {
	ctx   context.Context
	l     *ledger.Ledger
	admin *signing.KeySigner
}

func testConfig(admin types.Identity) ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.ChainID = 5
	cfg.BlockInterval = 10 * time.Millisecond
	cfg.Admin = admin
	return cfg
}

func newEnv(t *testing.T, opts ...func(*ledger.Config)) *env {
	t.Helper()
	admin, err := signing.GenerateKey()
	require.NoError(t, err)
	cfg := testConfig(admin.Identity())
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	l, err := ledger.New(ctx, db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return &env{ctx: ctx, l: l, admin: admin}
}

func (e *env) sign(t *testing.T, signer signing.Signer, nonce uint64, call signing.Call) *signing.SignedTx {
	t.Helper()
	stx, err := signing.SignTx(signing.Tx{ChainID: e.l.ChainID(), Nonce: nonce, Call: call}, signer)
	require.NoError(t, err)
	return stx
}

// exec submits call with the next nonce of signer and waits for its receipt.
func (e *env) exec(t *testing.T, signer signing.Signer, call signing.Call) *ledger.Receipt {
	t.Helper()
	nonce, err := e.l.Nonce(signer.Identity())
	require.NoError(t, err)
	hash, err := e.l.Submit(e.ctx, e.sign(t, signer, nonce, call))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()
	receipt, err := e.l.WaitReceipt(ctx, hash)
	require.NoError(t, err)
	return receipt
}

func TestGenesisGrantsAdmin(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	account, err := e.l.Account(e.admin.Identity())
	require.NoError(t, err)
	require.True(t, account.Roles.Has(types.Administrator))
	require.True(t, account.Roles.Has(types.ModelTrainer))

	head, err := e.l.Head()
	require.NoError(t, err)
	require.Zero(t, head.Height)
	require.NoError(t, e.l.VerifyLog())
}

func TestSubmitAndReceipt(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	receipt := e.exec(t, e.admin, signing.Call{Method: signing.MethodRegisterRun, Name: "Test", Amount: 10})
	require.Equal(t, ledger.StatusSuccess, receipt.Status)
	require.NoError(t, receipt.Err())
	require.EqualValues(t, 1, receipt.Result)
	require.EqualValues(t, 1, receipt.Height)
	require.Equal(t, e.admin.Identity(), receipt.From)

	run, err := e.l.TrainingRun(1)
	require.NoError(t, err)
	require.Equal(t, "Test", run.Name)
	require.Equal(t, types.RunRegistered, run.Status)

	nonce, err := e.l.ConfirmedNonce(e.admin.Identity())
	require.NoError(t, err)
	require.EqualValues(t, 1, nonce)
}

func TestFailedCallConsumesNonceOnly(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	receipt := e.exec(t, e.admin, signing.Call{Method: signing.MethodStartRun, Run: 9})
	require.Equal(t, ledger.StatusFailed, receipt.Status)
	require.Equal(t, types.KindNotFound, receipt.Kind)
	require.ErrorIs(t, receipt.Err(), types.ErrNotFound)
	require.Zero(t, receipt.Result)

	nonce, err := e.l.ConfirmedNonce(e.admin.Identity())
	require.NoError(t, err)
	require.EqualValues(t, 1, nonce)

	// A call failing halfway leaves no partial state.
	node, err := signing.GenerateKey()
	require.NoError(t, err)
	receipt = e.exec(t, node, signing.Call{Method: signing.MethodDeposit, Amount: 100})
	require.ErrorIs(t, receipt.Err(), types.ErrInsufficientApproval)
	account, err := e.l.Account(node.Identity())
	require.NoError(t, err)
	require.Zero(t, account.Stake)
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	t.Run("wrong nonce", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.l.Submit(e.ctx, e.sign(t, e.admin, 1, signing.Call{Method: signing.MethodRegisterRun, Name: "x"}))
		require.ErrorIs(t, err, types.ErrInvalidNonce)
	})
	t.Run("wrong chain", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		stx, err := signing.SignTx(signing.Tx{ChainID: 99, Call: signing.Call{Method: signing.MethodRegisterRun}}, e.admin)
		require.NoError(t, err)
		_, err = e.l.Submit(e.ctx, stx)
		require.ErrorIs(t, err, types.ErrWrongChain)
	})
	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		stx := e.sign(t, e.admin, 0, signing.Call{Method: signing.MethodRegisterRun, Name: "x"})
		stx.Tx.Call.Name = "y"
		_, err := e.l.Submit(e.ctx, stx)
		require.ErrorIs(t, err, types.ErrInvalidSignature)
	})
	t.Run("unknown method", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.l.Submit(e.ctx, e.sign(t, e.admin, 0, signing.Call{Method: 200}))
		require.ErrorIs(t, err, types.ErrInvalidArgument)
	})
	t.Run("duplicate", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, func(c *ledger.Config) { c.BlockInterval = time.Hour })
		stx := e.sign(t, e.admin, 0, signing.Call{Method: signing.MethodRegisterRun, Name: "x"})
		hash, err := e.l.Submit(e.ctx, stx)
		require.NoError(t, err)
		_, err = e.l.Submit(e.ctx, stx)
		require.ErrorIs(t, err, types.ErrTxAlreadyKnown)

		_, err = e.l.Receipt(hash)
		require.ErrorIs(t, err, types.ErrPending)
		e.l.Flush()
		_, err = e.l.Receipt(hash)
		require.NoError(t, err)

		_, err = e.l.Submit(e.ctx, stx)
		require.ErrorIs(t, err, types.ErrTxAlreadyKnown)
	})
}

func TestPendingNonces(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(c *ledger.Config) { c.BlockInterval = time.Hour })
	id := e.admin.Identity()

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, err := e.l.Submit(e.ctx, e.sign(t, e.admin, nonce, signing.Call{Method: signing.MethodRegisterRun, Name: "x"}))
		require.NoError(t, err)
	}
	next, err := e.l.Nonce(id)
	require.NoError(t, err)
	require.EqualValues(t, 3, next)
	confirmed, err := e.l.ConfirmedNonce(id)
	require.NoError(t, err)
	require.Zero(t, confirmed)

	e.l.Flush()
	confirmed, err = e.l.ConfirmedNonce(id)
	require.NoError(t, err)
	require.EqualValues(t, 3, confirmed)
	latest, err := e.l.TrainingRun(3)
	require.NoError(t, err)
	require.Equal(t, types.RunID(3), latest.ID)
}

func TestMaxBlockSizeAppliesImmediately(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(c *ledger.Config) {
		c.BlockInterval = time.Hour
		c.MaxBlockSize = 1
	})
	receipt := e.exec(t, e.admin, signing.Call{Method: signing.MethodRegisterRun, Name: "x"})
	require.NoError(t, receipt.Err())
}

func TestConcurrentStartOnlyOneWins(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	trainer, err := signing.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, e.exec(t, e.admin, signing.Call{
		Method: signing.MethodGrantRole, Target: trainer.Identity(), Role: types.ModelTrainer,
	}).Err())
	require.NoError(t, e.exec(t, trainer, signing.Call{Method: signing.MethodRegisterRun, Name: "Test", Amount: 10}).Err())

	var (
		wg       sync.WaitGroup
		receipts = make([]*ledger.Receipt, 2)
		errs     = make([]error, 2)
	)
	for i, signer := range []*signing.KeySigner{e.admin, trainer} {
		i, signer := i, signer
		stx := e.sign(t, signer, 1, signing.Call{Method: signing.MethodStartRun, Run: 1})
		wg.Add(1)
		go func() {
			defer wg.Done()
			hash, err := e.l.Submit(e.ctx, stx)
			if err != nil {
				errs[i] = err
				return
			}
			ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
			defer cancel()
			receipts[i], errs[i] = e.l.WaitReceipt(ctx, hash)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var wins, invalid int
	for _, r := range receipts {
		switch {
		case r.Status == ledger.StatusSuccess:
			wins++
		case r.Kind == types.KindInvalidState:
			invalid++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, invalid)

	run, err := e.l.TrainingRun(1)
	require.NoError(t, err)
	require.Equal(t, types.RunStarted, run.Status)
}

func TestReopenKeepsState(t *testing.T) {
	t.Parallel()
	admin, err := signing.GenerateKey()
	require.NoError(t, err)
	cfg := testConfig(admin.Identity())
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	path := filepath.Join(t.TempDir(), "ledger")

	l, err := ledger.Open(ctx, path, cfg)
	require.NoError(t, err)
	e := &env{ctx: ctx, l: l, admin: admin}
	for i := 0; i < 3; i++ {
		require.NoError(t, e.exec(t, admin, signing.Call{Method: signing.MethodRegisterRun, Name: "x"}).Err())
	}
	head, err := l.Head()
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = ledger.Open(ctx, path, cfg)
	require.NoError(t, err)
	reopened, err := l.Head()
	require.NoError(t, err)
	require.Equal(t, head, reopened)
	require.NoError(t, l.VerifyLog())
	nonce, err := l.Nonce(admin.Identity())
	require.NoError(t, err)
	require.EqualValues(t, 3, nonce)
	require.NoError(t, l.Close())

	cfg.ChainID++
	_, err = ledger.Open(ctx, path, cfg)
	require.ErrorIs(t, err, types.ErrWrongChain)
}

func TestLogIsHashChained(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	var hashes []types.Hash
	for i := 0; i < 4; i++ {
		receipt := e.exec(t, e.admin, signing.Call{Method: signing.MethodStartRun, Run: types.RunID(i + 1)})
		hashes = append(hashes, receipt.Hash)
	}
	for i, hash := range hashes {
		got, err := e.l.TxAt(uint64(i + 1))
		require.NoError(t, err)
		require.Equal(t, hash, got)
	}
	_, err := e.l.TxAt(5)
	require.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, e.l.VerifyLog())
}

func TestWaitReceiptHonoursContext(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(c *ledger.Config) { c.BlockInterval = time.Hour })
	hash, err := e.l.Submit(e.ctx, e.sign(t, e.admin, 0, signing.Call{Method: signing.MethodRegisterRun, Name: "x"}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(e.ctx, 20*time.Millisecond)
	defer cancel()
	_, err = e.l.WaitReceipt(ctx, hash)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The transaction is still applied.
	e.l.Flush()
	receipt, err := e.l.Receipt(hash)
	require.NoError(t, err)
	require.NoError(t, receipt.Err())

	_, err = e.l.Receipt(types.Hash{1})
	require.ErrorIs(t, err, types.ErrNotFound)
}
