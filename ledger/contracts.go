package ledger

import (
	"context"
	"fmt"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/roles"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/staking"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

// Contracts are the protocol modules bound to one view of the state.
type Contracts struct {
	Roles      *roles.Registry
	Tokens     *token.Ledger
	Staking    *staking.Ledger
	Training   *training.Manager
	Settlement *settlement.Settler
}

func bind(st kv.Store, cfg *Config, height uint64) *Contracts {
	registry := roles.NewRegistry(st)
	tokens := token.NewLedger(st)
	runs := training.NewManager(st, registry,
		training.WithVerifier(attestation.NewFrameVerifier(cfg.Attestation.MaxSize)),
		training.AtHeight(height),
	)
	stakes := staking.NewLedger(st, tokens, registry, cfg.Staking, staking.WithLockChecker(runs))
	return &Contracts{
		Roles:      registry,
		Tokens:     tokens,
		Staking:    stakes,
		Training:   runs,
		Settlement: settlement.NewSettler(st, runs, stakes, tokens, registry, cfg.Settlement, settlement.AtHeight(height)),
	}
}

// dispatch executes call on behalf of from. The returned value ends up in
// the receipt.
func (c *Contracts) dispatch(ctx context.Context, from types.Identity, call *signing.Call) (uint64, error) {
	switch call.Method {
	case signing.MethodGrantRole:
		return 0, c.Roles.GrantRole(ctx, from, call.Target, call.Role)
	case signing.MethodRevokeRole:
		return 0, c.Roles.RevokeRole(ctx, from, call.Target, call.Role)
	case signing.MethodWhitelist:
		return 0, c.Roles.WhitelistComputeNode(ctx, from, call.Target)
	case signing.MethodUnwhitelist:
		return 0, c.Roles.RemoveFromWhitelist(ctx, from, call.Target)

	case signing.MethodMint:
		if err := c.Roles.Authorize(from, types.Administrator); err != nil {
			return 0, err
		}
		return call.Amount, c.Tokens.Mint(call.Target, call.Amount)
	case signing.MethodApprove:
		return call.Amount, c.Tokens.Approve(from, call.Target, call.Amount)
	case signing.MethodTransfer:
		return call.Amount, c.Tokens.Transfer(from, call.Target, call.Amount)

	case signing.MethodDeposit:
		return call.Amount, c.Staking.Deposit(ctx, from, call.Amount)
	case signing.MethodWithdraw:
		return call.Amount, c.Staking.Withdraw(ctx, from, call.Amount)
	case signing.MethodSlash:
		return c.Staking.Slash(ctx, from, call.Target, call.Amount)

	case signing.MethodRegisterRun:
		id, err := c.Training.RegisterTrainingRun(ctx, from, call.Name, call.Amount)
		return uint64(id), err
	case signing.MethodJoinRun:
		return 0, c.Training.JoinTrainingRun(ctx, from, targetOrSelf(call.Target, from), call.IP, call.Run)
	case signing.MethodStartRun:
		return 0, c.Training.StartTrainingRun(ctx, from, call.Run)
	case signing.MethodSubmitAttestation:
		node := targetOrSelf(call.Target, from)
		if err := c.Training.SubmitAttestation(ctx, from, node, call.Run, call.Payload); err != nil {
			return 0, err
		}
		return c.Training.AttestationCount(call.Run, node)
	case signing.MethodEndRun:
		return 0, c.Training.EndTrainingRun(ctx, from, call.Run)
	case signing.MethodSettle:
		record, err := c.Settlement.Settle(ctx, from, call.Run)
		if err != nil {
			return 0, err
		}
		return record.Paid, nil
	}
	return 0, fmt.Errorf("%w: unknown method %d", types.ErrInvalidArgument, call.Method)
}

func targetOrSelf(target, from types.Identity) types.Identity {
	if target.IsZero() {
		return from
	}
	return target
}
