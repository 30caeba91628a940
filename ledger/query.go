package ledger

import (
	"fmt"

	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/training"
	"github.com/computeledger/trainmgr/types"
)

// Ended runs, their members and settlements never change again, so their
// query results are kept in an LRU cache.

type runCacheKey types.RunID

type membersCacheKey types.RunID

type settlementCacheKey types.RunID

// TrainingRun returns the run with id.
func (l *Ledger) TrainingRun(id types.RunID) (*training.Run, error) {
	if v, ok := l.cache.Get(runCacheKey(id)); ok {
		return v.(*training.Run), nil
	}
	var run *training.Run
	err := l.View(func(c *Contracts) error {
		var err error
		run, err = c.Training.GetTrainingRun(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if run.Status == types.RunEnded {
		l.cache.Add(runCacheKey(id), run)
	}
	return run, nil
}

// ComputeNodes returns the members of run with their attestation counts.
func (l *Ledger) ComputeNodes(id types.RunID) ([]training.Member, error) {
	if v, ok := l.cache.Get(membersCacheKey(id)); ok {
		return v.([]training.Member), nil
	}
	var (
		members []training.Member
		ended   bool
	)
	err := l.View(func(c *Contracts) error {
		run, err := c.Training.GetTrainingRun(id)
		if err != nil {
			return err
		}
		ended = run.Status == types.RunEnded
		members, err = c.Training.GetComputeNodesForTrainingRun(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ended {
		l.cache.Add(membersCacheKey(id), members)
	}
	return members, nil
}

// Settlement returns the settlement record of run.
func (l *Ledger) Settlement(id types.RunID) (*settlement.Record, error) {
	if v, ok := l.cache.Get(settlementCacheKey(id)); ok {
		return v.(*settlement.Record), nil
	}
	var record *settlement.Record
	err := l.View(func(c *Contracts) error {
		var err error
		record, err = c.Settlement.Get(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.cache.Add(settlementCacheKey(id), record)
	return record, nil
}

// Balances of one identity across the token store and staking.
type Balances struct {
	Tokens      uint64
	Stake       uint64
	Roles       types.RoleSet
	Whitelisted bool
}

func (l *Ledger) Account(id types.Identity) (*Balances, error) {
	b := &Balances{}
	err := l.View(func(c *Contracts) error {
		var err error
		if b.Tokens, err = c.Tokens.BalanceOf(id); err != nil {
			return err
		}
		if b.Stake, err = c.Staking.BalanceOf(id); err != nil {
			return err
		}
		if b.Roles, err = c.Roles.Roles(id); err != nil {
			return err
		}
		b.Whitelisted, err = c.Roles.IsWhitelisted(id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return b, nil
}
