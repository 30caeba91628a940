// Package client drives the training protocol on behalf of one participant:
// it builds calls, signs them, submits them to a Backend and waits for their
// receipts.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

const (
	DefaultNonceRetries = 3
	DefaultPollInterval = 100 * time.Millisecond
)

type Client struct {
	backend Backend
	signer  signing.Signer
	chainID uint64
	logger  *zap.Logger

	nonceRetries int
	pollInterval time.Duration

	// serializes nonce lookup and submission of this signer.
	submitMu sync.Mutex
}

type OptionFunc func(*Client)

// WithNonceRetries sets how many times a submission rejected for its nonce
// is signed again with a fresh one.
func WithNonceRetries(n int) OptionFunc {
	return func(c *Client) {
		c.nonceRetries = n
	}
}

// WithPollInterval sets how often a backend without push notification is
// asked for a pending receipt.
func WithPollInterval(d time.Duration) OptionFunc {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// New creates a client signing with signer. It asks the backend for the
// chain id.
func New(ctx context.Context, backend Backend, signer signing.Signer, opts ...OptionFunc) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting chain id: %w", err)
	}
	c := &Client{
		backend:      backend,
		signer:       signer,
		chainID:      chainID,
		logger:       logging.FromContext(ctx).Named("client").With(zap.Stringer("identity", signer.Identity())),
		nonceRetries: DefaultNonceRetries,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Identity() types.Identity {
	return c.signer.Identity()
}

func (c *Client) Backend() Backend {
	return c.backend
}

// Send signs and submits call without waiting for it to apply. A submission
// rejected for its nonce, because another process of the same identity got
// in first, is retried with a fresh nonce. A submission the backend already
// knows, as when a retried request raced its lost response, is our own
// transaction and counts as sent.
func (c *Client) Send(ctx context.Context, call signing.Call) (types.Hash, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	for attempt := 0; ; attempt++ {
		nonce, err := c.backend.Nonce(ctx, c.signer.Identity())
		if err != nil {
			return types.Hash{}, fmt.Errorf("getting nonce: %w", err)
		}
		tx, err := signing.SignTx(signing.Tx{ChainID: c.chainID, Nonce: nonce, Call: call}, c.signer)
		if err != nil {
			return types.Hash{}, fmt.Errorf("signing %s: %w", call.Method, err)
		}
		hash, err := c.backend.Submit(ctx, tx)
		switch {
		case err == nil:
			c.logger.Debug("submitted", zap.Stringer("method", call.Method), zap.Uint64("nonce", nonce), zap.Stringer("hash", hash))
			return hash, nil
		case errors.Is(err, types.ErrTxAlreadyKnown):
			hash, herr := tx.Hash()
			if herr != nil {
				return types.Hash{}, fmt.Errorf("hashing %s: %w", call.Method, herr)
			}
			c.logger.Debug("transaction already submitted", zap.Stringer("method", call.Method), zap.Stringer("hash", hash))
			return hash, nil
		case errors.Is(err, types.ErrInvalidNonce) && attempt < c.nonceRetries:
			c.logger.Info("nonce taken, retrying", zap.Uint64("nonce", nonce), zap.Int("attempt", attempt+1))
			continue
		default:
			return types.Hash{}, fmt.Errorf("submitting %s: %w", call.Method, err)
		}
	}
}

// WaitReceipt blocks until the transaction has a receipt or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, hash types.Hash) (*ledger.Receipt, error) {
	if w, ok := c.backend.(receiptWaiter); ok {
		return w.WaitReceipt(ctx, hash)
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.Receipt(ctx, hash)
		if !errors.Is(err, types.ErrPending) {
			return receipt, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Execute sends call and waits for it to apply. A failed transaction
// returns its receipt together with the typed error it failed with.
func (c *Client) Execute(ctx context.Context, call signing.Call) (*ledger.Receipt, error) {
	hash, err := c.Send(ctx, call)
	if err != nil {
		return nil, err
	}
	receipt, err := c.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s %s: %w", call.Method, hash.ShortString(), err)
	}
	if err := receipt.Err(); err != nil {
		c.logger.Debug("transaction failed", zap.Stringer("method", call.Method), zap.Stringer("hash", hash), zap.Error(err))
		return receipt, fmt.Errorf("%s: %w", call.Method, err)
	}
	return receipt, nil
}

func (c *Client) Approve(ctx context.Context, spender types.Identity, amount uint64) error {
	_, err := c.Execute(ctx, signing.Call{Method: signing.MethodApprove, Target: spender, Amount: amount})
	return err
}

func (c *Client) Transfer(ctx context.Context, to types.Identity, amount uint64) error {
	_, err := c.Execute(ctx, signing.Call{Method: signing.MethodTransfer, Target: to, Amount: amount})
	return err
}

// Account returns the balances and roles of the client's identity.
func (c *Client) Account(ctx context.Context) (*ledger.Balances, error) {
	return c.backend.Account(ctx, c.signer.Identity())
}

func (c *Client) TrainingRun(ctx context.Context, id types.RunID) (*training.Run, error) {
	return c.backend.TrainingRun(ctx, id)
}

// WaitForStatus polls run id until it reaches status.
func (c *Client) WaitForStatus(ctx context.Context, id types.RunID, status types.RunStatus) (*training.Run, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		run, err := c.backend.TrainingRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status >= status {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForMembers polls run id until at least n compute nodes joined it.
func (c *Client) WaitForMembers(ctx context.Context, id types.RunID, n int) ([]training.Member, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		members, err := c.backend.ComputeNodes(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(members) >= n {
			return members, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
