package client

import (
	"context"

	"github.com/computeledger/trainmgr/ledger"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

//go:generate mockgen -package mocks -destination ./mocks/backend.go . Backend

// Backend is the ledger as seen by a participant.
//
// Receipt returns types.ErrPending while the transaction waits for a block.
type Backend interface {
	ChainID(ctx context.Context) (uint64, error)
	Nonce(ctx context.Context, id types.Identity) (uint64, error)
	Submit(ctx context.Context, tx *signing.SignedTx) (types.Hash, error)
	Receipt(ctx context.Context, hash types.Hash) (*ledger.Receipt, error)

	LatestRunID(ctx context.Context) (types.RunID, error)
	TrainingRun(ctx context.Context, id types.RunID) (*training.Run, error)
	ComputeNodes(ctx context.Context, id types.RunID) ([]training.Member, error)
	Attestations(ctx context.Context, id types.RunID, node types.Identity) ([][]byte, error)
	NodeAttestations(ctx context.Context, node types.Identity) ([][]byte, error)
	IsComputeNodeValid(ctx context.Context, node types.Identity) (bool, error)
	Settlement(ctx context.Context, id types.RunID) (*settlement.Record, error)
	MinimumStake(ctx context.Context) (uint64, error)
	Account(ctx context.Context, id types.Identity) (*ledger.Balances, error)
}

// receiptWaiter is implemented by backends that can block until a receipt
// exists instead of being polled.
type receiptWaiter interface {
	WaitReceipt(ctx context.Context, hash types.Hash) (*ledger.Receipt, error)
}

// Local is a Backend over a ledger in the same process.
type Local struct {
	l *ledger.Ledger
}

var (
	_ Backend       = (*Local)(nil)
	_ receiptWaiter = (*Local)(nil)
)

func NewLocal(l *ledger.Ledger) *Local {
	return &Local{l: l}
}

func (b *Local) ChainID(context.Context) (uint64, error) {
	return b.l.ChainID(), nil
}

func (b *Local) Nonce(_ context.Context, id types.Identity) (uint64, error) {
	return b.l.Nonce(id)
}

func (b *Local) Submit(ctx context.Context, tx *signing.SignedTx) (types.Hash, error) {
	return b.l.Submit(ctx, tx)
}

func (b *Local) Receipt(_ context.Context, hash types.Hash) (*ledger.Receipt, error) {
	return b.l.Receipt(hash)
}

func (b *Local) WaitReceipt(ctx context.Context, hash types.Hash) (*ledger.Receipt, error) {
	return b.l.WaitReceipt(ctx, hash)
}

func (b *Local) LatestRunID(context.Context) (types.RunID, error) {
	var id types.RunID
	err := b.l.View(func(c *ledger.Contracts) error {
		var err error
		id, err = c.Training.LatestRunID()
		return err
	})
	return id, err
}

func (b *Local) TrainingRun(_ context.Context, id types.RunID) (*training.Run, error) {
	return b.l.TrainingRun(id)
}

func (b *Local) ComputeNodes(_ context.Context, id types.RunID) ([]training.Member, error) {
	return b.l.ComputeNodes(id)
}

func (b *Local) Attestations(_ context.Context, id types.RunID, node types.Identity) ([][]byte, error) {
	var atts [][]byte
	err := b.l.View(func(c *ledger.Contracts) error {
		var err error
		atts, err = c.Training.GetAttestations(id, node)
		return err
	})
	return atts, err
}

func (b *Local) NodeAttestations(_ context.Context, node types.Identity) ([][]byte, error) {
	var atts [][]byte
	err := b.l.View(func(c *ledger.Contracts) error {
		var err error
		atts, err = c.Training.GetAttestationsForComputeNode(node)
		return err
	})
	return atts, err
}

func (b *Local) IsComputeNodeValid(_ context.Context, node types.Identity) (bool, error) {
	var valid bool
	err := b.l.View(func(c *ledger.Contracts) error {
		var err error
		valid, err = c.Training.IsComputeNodeValid(node)
		return err
	})
	return valid, err
}

func (b *Local) Settlement(_ context.Context, id types.RunID) (*settlement.Record, error) {
	return b.l.Settlement(id)
}

func (b *Local) MinimumStake(context.Context) (uint64, error) {
	var minimum uint64
	err := b.l.View(func(c *ledger.Contracts) error {
		minimum = c.Staking.MinDeposit()
		return nil
	})
	return minimum, err
}

func (b *Local) Account(_ context.Context, id types.Identity) (*ledger.Balances, error) {
	return b.l.Account(id)
}
