package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap/zaptest"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/roles"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/staking"
	"github.com/computeledger/trainmgr/token"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

var (
	admin   = types.MustParseIdentity("0x00000000000000000000000000000000000000ad")
	trainer = types.MustParseIdentity("0x00000000000000000000000000000000000000ee")
	nodeA   = types.MustParseIdentity("0x000000000000000000000000000000000000000a")
	nodeB   = types.MustParseIdentity("0x000000000000000000000000000000000000000b")
	nodeC   = types.MustParseIdentity("0x000000000000000000000000000000000000000c")
	sink    = types.MustParseIdentity("0x00000000000000000000000000000000000000f0")
)

const minDeposit = 100

type contracts struct {
	roles    *roles.Registry
	tokens   *token.Ledger
	stakes   *staking.Ledger
	training *training.Manager
	settler  *settlement.Settler
}

type env struct {
	ctx context.Context
	db  *leveldb.DB
	cfg settlement.Config
}

func newEnv(t *testing.T, cfg settlement.Config) *env {
	t.Helper()
	db, err := kv.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	e := &env{
		ctx: logging.NewContext(context.Background(), zaptest.NewLogger(t)),
		db:  db,
		cfg: cfg,
	}
	e.do(t, func(c *contracts) error {
		if err := c.roles.Bootstrap(admin, types.Administrator); err != nil {
			return err
		}
		if err := c.roles.GrantRole(e.ctx, admin, trainer, types.ModelTrainer); err != nil {
			return err
		}
		for _, node := range []types.Identity{nodeA, nodeB, nodeC} {
			if err := c.roles.GrantRole(e.ctx, admin, node, types.ComputeNodeOperator); err != nil {
				return err
			}
			if err := c.roles.WhitelistComputeNode(e.ctx, admin, node); err != nil {
				return err
			}
		}
		return nil
	})
	return e
}

func (e *env) bind(st kv.Store) *contracts {
	r := roles.NewRegistry(st)
	tokens := token.NewLedger(st)
	runs := training.NewManager(st, r)
	stakes := staking.NewLedger(st, tokens, r, staking.Config{MinDeposit: minDeposit, SlashSink: sink},
		staking.WithLockChecker(runs))
	return &contracts{
		roles:    r,
		tokens:   tokens,
		stakes:   stakes,
		training: runs,
		settler:  settlement.NewSettler(st, runs, stakes, tokens, r, e.cfg),
	}
}

func (e *env) update(fn func(c *contracts) error) error {
	return kv.Update(e.db, func(st kv.Store) error {
		return fn(e.bind(st))
	})
}

func (e *env) do(t *testing.T, fn func(c *contracts) error) {
	t.Helper()
	require.NoError(t, e.update(fn))
}

func (e *env) balance(t *testing.T, id types.Identity) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, kv.View(e.db, func(st kv.Store) error {
		var err error
		bal, err = token.NewLedger(st).BalanceOf(id)
		return err
	}))
	return bal
}

func (e *env) stake(t *testing.T, node types.Identity, amount uint64) {
	t.Helper()
	e.do(t, func(c *contracts) error {
		if err := c.tokens.Mint(node, amount); err != nil {
			return err
		}
		if err := c.tokens.Approve(node, types.StakingAccount, amount); err != nil {
			return err
		}
		return c.stakes.Deposit(e.ctx, node, amount)
	})
}

// endedRun registers a run with budget, funds and approves the trainer for
// approved tokens, and runs it to completion with the given attestation
// count per member.
func (e *env) endedRun(t *testing.T, budget, approved uint64, atts map[types.Identity]int) types.RunID {
	t.Helper()
	var id types.RunID
	gen := attestation.NewRandomGenerator(8)
	e.do(t, func(c *contracts) error {
		var err error
		if id, err = c.training.RegisterTrainingRun(e.ctx, trainer, "Test", budget); err != nil {
			return err
		}
		if err := c.tokens.Mint(trainer, budget); err != nil {
			return err
		}
		if err := c.tokens.Approve(trainer, types.SettlementAccount, approved); err != nil {
			return err
		}
		for node := range atts {
			if err := c.training.JoinTrainingRun(e.ctx, node, node, "10.0.0.1", id); err != nil {
				return err
			}
		}
		if err := c.training.StartTrainingRun(e.ctx, trainer, id); err != nil {
			return err
		}
		for node, n := range atts {
			for i := 0; i < n; i++ {
				if err := c.training.SubmitAttestation(e.ctx, node, node, id, attestation.MustGenerate(gen)); err != nil {
					return err
				}
			}
		}
		return c.training.EndTrainingRun(e.ctx, trainer, id)
	})
	return id
}

func (e *env) settle(id types.RunID) (*settlement.Record, error) {
	var record *settlement.Record
	err := e.update(func(c *contracts) error {
		var err error
		record, err = c.settler.Settle(e.ctx, trainer, id)
		return err
	})
	return record, err
}

func TestSettleSingleMemberGetsFullBudget(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 3})

	record, err := e.settle(id)
	require.NoError(t, err)
	require.EqualValues(t, 10, record.Paid)
	require.EqualValues(t, 3, record.TotalAttestations)
	require.EqualValues(t, 10, e.balance(t, nodeA))
	require.Zero(t, e.balance(t, trainer))

	_, err = e.settle(id)
	require.ErrorIs(t, err, types.ErrAlreadySettled)
	require.EqualValues(t, 10, e.balance(t, nodeA))

	require.NoError(t, kv.View(e.db, func(st kv.Store) error {
		stored, err := e.bind(st).settler.Get(id)
		require.NoError(t, err)
		require.Equal(t, record.Payouts, stored.Payouts)
		return nil
	}))
}

func TestSettleProportionalWithDust(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	e.stake(t, nodeB, minDeposit)
	id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 1, nodeB: 2})

	record, err := e.settle(id)
	require.NoError(t, err)
	// floor(10/3) = 3 and floor(20/3) = 6, the remaining 1 goes to B.
	require.EqualValues(t, 3, e.balance(t, nodeA))
	require.EqualValues(t, 7, e.balance(t, nodeB))
	require.EqualValues(t, 1, record.Dust)
	require.Equal(t, nodeB, record.DustTo)
	require.EqualValues(t, 10, record.Paid)
}

func TestSettleDustTieGoesToLowestIdentity(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	e.stake(t, nodeB, minDeposit)
	id := e.endedRun(t, 3, 3, map[types.Identity]int{nodeA: 1, nodeB: 1})

	record, err := e.settle(id)
	require.NoError(t, err)
	require.Equal(t, nodeA, record.DustTo)
	require.EqualValues(t, 2, e.balance(t, nodeA))
	require.EqualValues(t, 1, e.balance(t, nodeB))
}

func TestSettleSlashesSilentMembers(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	e.stake(t, nodeC, 40)
	id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 2, nodeC: 0})

	record, err := e.settle(id)
	require.NoError(t, err)
	require.Equal(t, []settlement.Slash{{Identity: nodeC, Requested: minDeposit, Slashed: 40}}, record.Slashes)
	require.EqualValues(t, 10, e.balance(t, nodeA))
	require.EqualValues(t, 40, e.balance(t, sink))

	require.NoError(t, kv.View(e.db, func(st kv.Store) error {
		stake, err := e.bind(st).stakes.BalanceOf(nodeC)
		require.NoError(t, err)
		require.Zero(t, stake)
		return nil
	}))
}

func TestSilentMemberCannotEscapeSlashByMovingRuns(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	e.stake(t, nodeB, minDeposit)
	gen := attestation.NewRandomGenerator(8)

	var first, second types.RunID
	e.do(t, func(c *contracts) error {
		var err error
		if first, err = c.training.RegisterTrainingRun(e.ctx, trainer, "First", 10); err != nil {
			return err
		}
		if err := c.tokens.Mint(trainer, 10); err != nil {
			return err
		}
		if err := c.tokens.Approve(trainer, types.SettlementAccount, 10); err != nil {
			return err
		}
		for _, node := range []types.Identity{nodeA, nodeB} {
			if err := c.training.JoinTrainingRun(e.ctx, node, node, "10.0.0.1", first); err != nil {
				return err
			}
		}
		if err := c.training.StartTrainingRun(e.ctx, trainer, first); err != nil {
			return err
		}
		if err := c.training.SubmitAttestation(e.ctx, nodeA, nodeA, first, attestation.MustGenerate(gen)); err != nil {
			return err
		}
		second, err = c.training.RegisterTrainingRun(e.ctx, trainer, "Second", 10)
		return err
	})

	err := e.update(func(c *contracts) error {
		return c.training.JoinTrainingRun(e.ctx, nodeB, nodeB, "10.0.0.2", second)
	})
	require.ErrorIs(t, err, types.ErrInvalidState)

	e.do(t, func(c *contracts) error {
		return c.training.EndTrainingRun(e.ctx, trainer, first)
	})
	record, err := e.settle(first)
	require.NoError(t, err)
	require.Len(t, record.Payouts, 2)
	require.Equal(t, []settlement.Slash{{Identity: nodeB, Requested: minDeposit, Slashed: minDeposit}}, record.Slashes)
	require.EqualValues(t, 10, e.balance(t, nodeA))
	require.EqualValues(t, minDeposit, e.balance(t, sink))
}

func TestSettleMinimumStakePolicy(t *testing.T) {
	t.Parallel()

	t.Run("enforced", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, settlement.DefaultConfig())
		e.stake(t, nodeA, minDeposit)
		id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 1, nodeB: 5})

		record, err := e.settle(id)
		require.NoError(t, err)
		require.EqualValues(t, 10, e.balance(t, nodeA))
		require.Zero(t, e.balance(t, nodeB))
		require.Empty(t, record.Slashes)
	})
	t.Run("ignored", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, settlement.Config{IgnoreMinStake: true})
		id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 1, nodeB: 1})

		_, err := e.settle(id)
		require.NoError(t, err)
		require.EqualValues(t, 5, e.balance(t, nodeA))
		require.EqualValues(t, 5, e.balance(t, nodeB))
	})
}

func TestSettleInsufficientApprovalIsAtomic(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	e.stake(t, nodeB, minDeposit)
	id := e.endedRun(t, 10, 6, map[types.Identity]int{nodeA: 1, nodeB: 1})

	_, err := e.settle(id)
	require.ErrorIs(t, err, types.ErrInsufficientApproval)
	require.Zero(t, e.balance(t, nodeA))
	require.Zero(t, e.balance(t, nodeB))
	require.EqualValues(t, 10, e.balance(t, trainer))

	require.NoError(t, kv.View(e.db, func(st kv.Store) error {
		_, err := e.bind(st).settler.Get(id)
		require.ErrorIs(t, err, types.ErrNotFound)
		return nil
	}))

	// Raising the allowance lets the settlement go through.
	e.do(t, func(c *contracts) error {
		return c.tokens.Approve(trainer, types.SettlementAccount, 10)
	})
	_, err = e.settle(id)
	require.NoError(t, err)
	require.EqualValues(t, 5, e.balance(t, nodeA))
}

func TestSettleApprovedButUnfundedOwner(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 1})
	e.do(t, func(c *contracts) error {
		return c.tokens.Transfer(trainer, admin, 10)
	})

	_, err := e.settle(id)
	require.ErrorIs(t, err, types.ErrInsufficientApproval)
	require.Equal(t, types.KindInsufficientApproval, types.KindOf(err))
	require.Zero(t, e.balance(t, nodeA))
}

func TestSettleRequiresEndedRun(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	var id types.RunID
	e.do(t, func(c *contracts) error {
		var err error
		id, err = c.training.RegisterTrainingRun(e.ctx, trainer, "Test", 10)
		return err
	})

	_, err := e.settle(id)
	require.ErrorIs(t, err, types.ErrInvalidState)
	_, err = e.settle(id + 1)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestSettleAuthorization(t *testing.T) {
	t.Parallel()
	e := newEnv(t, settlement.DefaultConfig())
	e.stake(t, nodeA, minDeposit)
	id := e.endedRun(t, 10, 10, map[types.Identity]int{nodeA: 1})

	err := e.update(func(c *contracts) error {
		_, err := c.settler.Settle(e.ctx, nodeA, id)
		return err
	})
	require.ErrorIs(t, err, types.ErrUnauthorized)

	err = e.update(func(c *contracts) error {
		_, err := c.settler.Settle(e.ctx, admin, id)
		return err
	})
	require.NoError(t, err)
}
