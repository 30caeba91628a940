package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/types"
)

// Attestor posts an attestation for a run every time the training loop
// reaches an iteration the cadence marks as due.
type Attestor struct {
	node    ComputeNode
	run     types.RunID
	gen     attestation.Generator
	cadence attestation.Cadence
}

func NewAttestor(node ComputeNode, run types.RunID, gen attestation.Generator, cadence attestation.Cadence) *Attestor {
	return &Attestor{node: node, run: run, gen: gen, cadence: cadence}
}

// Report is called after each training iteration and submits an attestation
// when one is due.
func (a *Attestor) Report(ctx context.Context, iteration uint64) (bool, error) {
	if !a.cadence.Due(iteration) {
		return false, nil
	}
	att, err := a.gen.Generate()
	if err != nil {
		return false, fmt.Errorf("generating attestation: %w", err)
	}
	count, err := a.node.SubmitAttestation(ctx, a.run, att)
	if err != nil {
		return false, fmt.Errorf("attesting iteration %d of run %d: %w", iteration, a.run, err)
	}
	a.node.logger.Debug("attested",
		zap.Stringer("run", a.run),
		zap.Uint64("iteration", iteration),
		zap.Uint64("count", count),
	)
	return true, nil
}

// Run reports every iteration received until iterations is closed or ctx is
// done. It returns the number of attestations submitted.
func (a *Attestor) Run(ctx context.Context, iterations <-chan uint64) (int, error) {
	submitted := 0
	for {
		select {
		case <-ctx.Done():
			return submitted, ctx.Err()
		case it, ok := <-iterations:
			if !ok {
				return submitted, nil
			}
			done, err := a.Report(ctx, it)
			if err != nil {
				return submitted, err
			}
			if done {
				submitted++
			}
		}
	}
}
