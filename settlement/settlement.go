// Package settlement pays out the budget of an ended training run to its
// members in proportion to their attestations, and slashes members that
// never attested.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

var (
	settlementsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "settlement",
		Name:      "runs_settled_total",
		Help:      "Training runs settled",
	})
	rewardsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "settlement",
		Name:      "rewards_paid_total",
		Help:      "Tokens paid out as rewards",
	})
)

var settlePrefix = []byte("settle/")

type Config struct {
	// Stake below the minimum deposit makes a member's attestations count
	// as zero unless IgnoreMinStake is set.
	IgnoreMinStake bool   `long:"ignore-min-stake" description:"Reward attestations of members staking less than the minimum deposit"`
	SlashAmount    uint64 `long:"slash-amount" description:"Stake slashed from members without attestations (0 means the minimum deposit)"`
}

func DefaultConfig() Config {
	return Config{}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("ignore_min_stake", c.IgnoreMinStake)
	enc.AddUint64("slash_amount", c.SlashAmount)
	return nil
}

type Runs interface {
	GetTrainingRun(id types.RunID) (*training.Run, error)
	GetComputeNodesForTrainingRun(id types.RunID) ([]training.Member, error)
}

type Stakes interface {
	BalanceOf(id types.Identity) (uint64, error)
	MinDeposit() uint64
	Slash(ctx context.Context, caller, id types.Identity, amount uint64) (uint64, error)
}

type Authorizer interface {
	Authorize(caller types.Identity, roles ...types.Role) error
}

type Payout struct {
	Identity     types.Identity
	Attestations uint64
	// Counted is zero when the member's attestations were not rewarded.
	Counted uint64
	Amount  uint64
}

type Slash struct {
	Identity  types.Identity
	Requested uint64
	Slashed   uint64
}

// Record is the stored outcome of settling a run.
type Record struct {
	Run               types.RunID
	Height            uint64
	Budget            uint64
	TotalAttestations uint64
	Paid              uint64
	// DustTo received the remainder of the integer division, if any.
	DustTo  types.Identity
	Dust    uint64
	Payouts []Payout
	Slashes []Slash
}

type Settler struct {
	st     kv.Store
	runs   Runs
	stakes Stakes
	tokens token.AccountStore
	auth   Authorizer
	cfg    Config
	height uint64
}

type OptionFunc func(*Settler)

func AtHeight(height uint64) OptionFunc {
	return func(s *Settler) {
		s.height = height
	}
}

func NewSettler(
	st kv.Store,
	runs Runs,
	stakes Stakes,
	tokens token.AccountStore,
	auth Authorizer,
	cfg Config,
	opts ...OptionFunc,
) *Settler {
	s := &Settler{
		st:     st,
		runs:   runs,
		stakes: stakes,
		tokens: tokens,
		auth:   auth,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func settleKey(id types.RunID) []byte {
	return kv.Key(settlePrefix, kv.U64(uint64(id)))
}

// Settle distributes the budget of an ended run. Rewards are paid from the
// owner's account through the allowance it granted to the settlement
// account. A failed payment fails the whole settlement.
func (s *Settler) Settle(ctx context.Context, caller types.Identity, id types.RunID) (*Record, error) {
	run, err := s.runs.GetTrainingRun(id)
	if err != nil {
		return nil, err
	}
	if caller != run.Owner {
		if err := s.auth.Authorize(caller, types.Administrator); err != nil {
			return nil, err
		}
	}
	if run.Status != types.RunEnded {
		return nil, fmt.Errorf("%w: run %d is %s, settlement needs it Ended", types.ErrInvalidState, id, run.Status)
	}
	settled, err := s.st.Has(settleKey(id))
	if err != nil {
		return nil, fmt.Errorf("checking settlement of run %d: %w", id, err)
	}
	if settled {
		return nil, fmt.Errorf("%w: run %d", types.ErrAlreadySettled, id)
	}

	members, err := s.runs.GetComputeNodesForTrainingRun(id)
	if err != nil {
		return nil, err
	}
	payouts, err := s.count(members)
	if err != nil {
		return nil, err
	}
	record := &Record{
		Run:     id,
		Height:  s.height,
		Budget:  run.Budget,
		Payouts: payouts,
	}
	record.TotalAttestations, record.Dust, record.DustTo = split(run.Budget, payouts)

	logger := logging.FromContext(ctx).With(zap.Stringer("run", id))
	for _, p := range payouts {
		if p.Amount == 0 {
			continue
		}
		if err := s.tokens.TransferFrom(types.SettlementAccount, run.Owner, p.Identity, p.Amount); err != nil {
			if errors.Is(err, types.ErrInsufficientApproval) {
				return nil, fmt.Errorf("paying %d to %s: %w", p.Amount, p.Identity, err)
			}
			return nil, fmt.Errorf("%w: paying %d to %s: %v", types.ErrInsufficientApproval, p.Amount, p.Identity, err)
		}
		record.Paid += p.Amount
	}

	slashAmount := s.cfg.SlashAmount
	if slashAmount == 0 {
		slashAmount = s.stakes.MinDeposit()
	}
	for _, p := range payouts {
		if p.Attestations != 0 {
			continue
		}
		slashed, err := s.stakes.Slash(ctx, types.SettlementAccount, p.Identity, slashAmount)
		if err != nil {
			return nil, fmt.Errorf("slashing %s: %w", p.Identity, err)
		}
		record.Slashes = append(record.Slashes, Slash{Identity: p.Identity, Requested: slashAmount, Slashed: slashed})
	}

	if err := kv.PutRecord(s.st, settleKey(id), record); err != nil {
		return nil, fmt.Errorf("storing settlement: %w", err)
	}
	settlementsMetric.Inc()
	rewardsMetric.Add(float64(record.Paid))
	logger.Info("settled training run",
		zap.Int("members", len(payouts)),
		zap.Uint64("attestations", record.TotalAttestations),
		zap.Uint64("paid", record.Paid),
		zap.Int("slashed", len(record.Slashes)),
	)
	return record, nil
}

// Get returns the settlement of run.
func (s *Settler) Get(id types.RunID) (*Record, error) {
	record := &Record{}
	found, err := kv.LookupRecord(s.st, settleKey(id), record)
	switch {
	case err != nil:
		return nil, fmt.Errorf("loading settlement of run %d: %w", id, err)
	case !found:
		return nil, fmt.Errorf("%w: settlement of run %d", types.ErrNotFound, id)
	}
	return record, nil
}

func (s *Settler) count(members []training.Member) ([]Payout, error) {
	payouts := make([]Payout, 0, len(members))
	for _, m := range members {
		p := Payout{Identity: m.Identity, Attestations: m.Attestations, Counted: m.Attestations}
		if !s.cfg.IgnoreMinStake && m.Attestations > 0 {
			stake, err := s.stakes.BalanceOf(m.Identity)
			if err != nil {
				return nil, err
			}
			if stake < s.stakes.MinDeposit() {
				p.Counted = 0
			}
		}
		payouts = append(payouts, p)
	}
	return payouts, nil
}

// split fills in the amounts: floor(budget * counted / total) each, with the
// remainder going to the member with the most counted attestations. Ties go
// to the lowest identity, payouts are expected in identity order.
func split(budget uint64, payouts []Payout) (total, dust uint64, dustTo types.Identity) {
	top := -1
	for i, p := range payouts {
		total += p.Counted
		if p.Counted > 0 && (top < 0 || p.Counted > payouts[top].Counted) {
			top = i
		}
	}
	if total == 0 {
		return 0, 0, types.Identity{}
	}

	var (
		bigBudget = new(big.Int).SetUint64(budget)
		bigTotal  = new(big.Int).SetUint64(total)
		share     = new(big.Int)
		paid      uint64
	)
	for i := range payouts {
		share.SetUint64(payouts[i].Counted)
		share.Mul(share, bigBudget)
		share.Quo(share, bigTotal)
		payouts[i].Amount = share.Uint64()
		paid += payouts[i].Amount
	}
	dust = budget - paid
	payouts[top].Amount += dust
	return total, dust, payouts[top].Identity
}
