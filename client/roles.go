package client

import (
	"context"

	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

// Admin groups the calls only an Administrator may make.
type Admin struct {
	*Client
}

func (a Admin) GrantRole(ctx context.Context, id types.Identity, role types.Role) error {
	_, err := a.Execute(ctx, signing.Call{Method: signing.MethodGrantRole, Target: id, Role: role})
	return err
}

func (a Admin) RevokeRole(ctx context.Context, id types.Identity, role types.Role) error {
	_, err := a.Execute(ctx, signing.Call{Method: signing.MethodRevokeRole, Target: id, Role: role})
	return err
}

func (a Admin) WhitelistComputeNode(ctx context.Context, id types.Identity) error {
	_, err := a.Execute(ctx, signing.Call{Method: signing.MethodWhitelist, Target: id})
	return err
}

func (a Admin) RemoveFromWhitelist(ctx context.Context, id types.Identity) error {
	_, err := a.Execute(ctx, signing.Call{Method: signing.MethodUnwhitelist, Target: id})
	return err
}

func (a Admin) Mint(ctx context.Context, to types.Identity, amount uint64) error {
	_, err := a.Execute(ctx, signing.Call{Method: signing.MethodMint, Target: to, Amount: amount})
	return err
}

// Slash returns the amount actually slashed, which is capped by the stake.
func (a Admin) Slash(ctx context.Context, id types.Identity, amount uint64) (uint64, error) {
	receipt, err := a.Execute(ctx, signing.Call{Method: signing.MethodSlash, Target: id, Amount: amount})
	if err != nil {
		return 0, err
	}
	return receipt.Result, nil
}

// OnboardComputeNode grants the operator role, whitelists the node and
// funds it with enough tokens to stake.
func (a Admin) OnboardComputeNode(ctx context.Context, id types.Identity, funds uint64) error {
	if err := a.GrantRole(ctx, id, types.ComputeNodeOperator); err != nil {
		return err
	}
	if err := a.WhitelistComputeNode(ctx, id); err != nil {
		return err
	}
	if funds == 0 {
		return nil
	}
	return a.Mint(ctx, id, funds)
}

// Trainer drives the runs it owns.
type Trainer struct {
	*Client
}

func (t Trainer) RegisterTrainingRun(ctx context.Context, name string, budget uint64) (types.RunID, error) {
	receipt, err := t.Execute(ctx, signing.Call{Method: signing.MethodRegisterRun, Name: name, Amount: budget})
	if err != nil {
		return 0, err
	}
	return types.RunID(receipt.Result), nil
}

func (t Trainer) StartTrainingRun(ctx context.Context, id types.RunID) error {
	_, err := t.Execute(ctx, signing.Call{Method: signing.MethodStartRun, Run: id})
	return err
}

func (t Trainer) EndTrainingRun(ctx context.Context, id types.RunID) error {
	_, err := t.Execute(ctx, signing.Call{Method: signing.MethodEndRun, Run: id})
	return err
}

// FundSettlement lets the settlement module pull up to budget from the
// trainer when a run is settled.
func (t Trainer) FundSettlement(ctx context.Context, budget uint64) error {
	return t.Approve(ctx, types.SettlementAccount, budget)
}

func (t Trainer) Settle(ctx context.Context, id types.RunID) (*settlement.Record, error) {
	if _, err := t.Execute(ctx, signing.Call{Method: signing.MethodSettle, Run: id}); err != nil {
		return nil, err
	}
	return t.backend.Settlement(ctx, id)
}

// ComputeNode is a node operator taking part in runs.
type ComputeNode struct {
	*Client
}

// Deposit approves the staking module and escrows amount.
func (n ComputeNode) Deposit(ctx context.Context, amount uint64) error {
	if err := n.Approve(ctx, types.StakingAccount, amount); err != nil {
		return err
	}
	_, err := n.Execute(ctx, signing.Call{Method: signing.MethodDeposit, Amount: amount})
	return err
}

func (n ComputeNode) Withdraw(ctx context.Context, amount uint64) error {
	_, err := n.Execute(ctx, signing.Call{Method: signing.MethodWithdraw, Amount: amount})
	return err
}

func (n ComputeNode) JoinTrainingRun(ctx context.Context, id types.RunID, ip string) error {
	_, err := n.Execute(ctx, signing.Call{Method: signing.MethodJoinRun, Run: id, IP: ip})
	return err
}

// SubmitAttestation returns the number of attestations the node has
// submitted to the run so far.
func (n ComputeNode) SubmitAttestation(ctx context.Context, id types.RunID, att []byte) (uint64, error) {
	receipt, err := n.Execute(ctx, signing.Call{Method: signing.MethodSubmitAttestation, Run: id, Payload: att})
	if err != nil {
		return 0, err
	}
	return receipt.Result, nil
}

func (n ComputeNode) IsValid(ctx context.Context) (bool, error) {
	return n.backend.IsComputeNodeValid(ctx, n.Identity())
}

func (n ComputeNode) Attestations(ctx context.Context) ([][]byte, error) {
	return n.backend.NodeAttestations(ctx, n.Identity())
}
