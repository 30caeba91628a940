// Package staking escrows compute node collateral in the token store and
// slashes it on misbehaviour.
package staking

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/types"
)

var (
	depositedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "staking",
		Name:      "deposited_total",
		Help:      "Tokens deposited as stake",
	})
	withdrawnMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "staking",
		Name:      "withdrawn_total",
		Help:      "Tokens withdrawn from stake",
	})
	slashedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "staking",
		Name:      "slashed_total",
		Help:      "Tokens slashed from stake",
	})
)

var stakePrefix = []byte("stake/")

const DefaultMinDeposit = 100

type Config struct {
	MinDeposit uint64         `long:"min-deposit" description:"Smallest stake that makes a compute node eligible for rewards"`
	SlashSink  types.Identity `long:"slash-sink" description:"Account receiving slashed stake (the burn address by default)"`
}

func DefaultConfig() Config {
	return Config{
		MinDeposit: DefaultMinDeposit,
		SlashSink:  types.BurnIdentity,
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("min_deposit", c.MinDeposit)
	enc.AddString("slash_sink", c.SlashSink.String())
	return nil
}

// Authorizer is the part of the role registry staking relies on.
type Authorizer interface {
	Authorize(caller types.Identity, roles ...types.Role) error
}

// LockChecker reports whether a node is committed to an active run.
// Stake of such a node cannot be withdrawn.
type LockChecker interface {
	IsComputeNodeValid(id types.Identity) (bool, error)
}

type Ledger struct {
	st     kv.Store
	tokens token.AccountStore
	auth   Authorizer
	locks  LockChecker
	cfg    Config
}

type OptionFunc func(*Ledger)

func WithLockChecker(locks LockChecker) OptionFunc {
	return func(l *Ledger) {
		l.locks = locks
	}
}

func NewLedger(st kv.Store, tokens token.AccountStore, auth Authorizer, cfg Config, opts ...OptionFunc) *Ledger {
	if cfg.SlashSink.IsZero() {
		cfg.SlashSink = types.BurnIdentity
	}
	l := &Ledger{
		st:     st,
		tokens: tokens,
		auth:   auth,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func stakeKey(id types.Identity) []byte { return kv.Key(stakePrefix, id[:]) }

func (l *Ledger) BalanceOf(id types.Identity) (uint64, error) {
	v, err := kv.GetUint64(l.st, stakeKey(id))
	if err != nil {
		return 0, fmt.Errorf("reading stake of %s: %w", id, err)
	}
	return v, nil
}

func (l *Ledger) MinDeposit() uint64 {
	return l.cfg.MinDeposit
}

// IsEligible reports whether id has staked at least MinDeposit.
func (l *Ledger) IsEligible(id types.Identity) (bool, error) {
	bal, err := l.BalanceOf(id)
	if err != nil {
		return false, err
	}
	return bal >= l.cfg.MinDeposit, nil
}

// Deposit moves amount from caller into escrow. The caller must have
// approved the staking account for at least amount beforehand.
func (l *Ledger) Deposit(ctx context.Context, caller types.Identity, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero deposit", types.ErrInvalidArgument)
	}
	bal, err := l.BalanceOf(caller)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("%w: stake overflows", types.ErrInvalidArgument)
	}
	// Any failure of the escrow transfer, a missing approval or missing
	// funds, is reported as InsufficientApproval.
	if err := l.tokens.TransferFrom(types.StakingAccount, caller, types.StakingAccount, amount); err != nil {
		if errors.Is(err, types.ErrInsufficientApproval) {
			return fmt.Errorf("escrowing stake: %w", err)
		}
		return fmt.Errorf("%w: escrowing stake: %v", types.ErrInsufficientApproval, err)
	}
	if err := kv.PutUint64(l.st, stakeKey(caller), bal+amount); err != nil {
		return fmt.Errorf("storing stake: %w", err)
	}
	depositedMetric.Add(float64(amount))
	logging.FromContext(ctx).Info("stake deposited",
		zap.Stringer("identity", caller), zap.Uint64("amount", amount), zap.Uint64("stake", bal+amount))
	return nil
}

func (l *Ledger) Withdraw(ctx context.Context, caller types.Identity, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero withdrawal", types.ErrInvalidArgument)
	}
	bal, err := l.BalanceOf(caller)
	if err != nil {
		return err
	}
	if amount > bal {
		return fmt.Errorf("%w: %s has %d staked, requested %d", types.ErrInsufficientStake, caller, bal, amount)
	}
	if l.locks != nil {
		locked, err := l.locks.IsComputeNodeValid(caller)
		if err != nil {
			return fmt.Errorf("checking stake lock: %w", err)
		}
		if locked {
			return fmt.Errorf("%w: %s", types.ErrStakeLocked, caller)
		}
	}
	if err := kv.PutUint64(l.st, stakeKey(caller), bal-amount); err != nil {
		return fmt.Errorf("storing stake: %w", err)
	}
	if err := l.tokens.Transfer(types.StakingAccount, caller, amount); err != nil {
		return fmt.Errorf("releasing stake: %w", err)
	}
	withdrawnMetric.Add(float64(amount))
	logging.FromContext(ctx).Info("stake withdrawn",
		zap.Stringer("identity", caller), zap.Uint64("amount", amount), zap.Uint64("stake", bal-amount))
	return nil
}

// Slash removes min(amount, stake) from id and sends it to the slash sink.
// Only administrators and the settlement module may slash. Slashing more
// than the stake is not an error, the returned value is what was removed.
func (l *Ledger) Slash(ctx context.Context, caller, id types.Identity, amount uint64) (uint64, error) {
	if caller != types.SettlementAccount {
		if err := l.auth.Authorize(caller, types.Administrator); err != nil {
			return 0, err
		}
	}
	bal, err := l.BalanceOf(id)
	if err != nil {
		return 0, err
	}
	slashed := min(amount, bal)
	if slashed == 0 {
		return 0, nil
	}
	if err := kv.PutUint64(l.st, stakeKey(id), bal-slashed); err != nil {
		return 0, fmt.Errorf("storing stake: %w", err)
	}
	if err := l.tokens.Transfer(types.StakingAccount, l.cfg.SlashSink, slashed); err != nil {
		return 0, fmt.Errorf("moving slashed stake: %w", err)
	}
	slashedMetric.Add(float64(slashed))
	logging.FromContext(ctx).Info("stake slashed",
		zap.Stringer("identity", id),
		zap.Stringer("by", caller),
		zap.Uint64("requested", amount),
		zap.Uint64("slashed", slashed),
	)
	return slashed, nil
}
