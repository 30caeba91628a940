// Package training implements the training run state machine:
// Registered -> Started -> Ended, with compute node membership and the
// append-only attestation log of each run.
package training

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/sha256-simd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/merkle-tree"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/types"
)

var (
	runsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "training",
		Name:      "runs_total",
		Help:      "Training runs entering each status",
	}, []string{"status"})

	attestationsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "training",
		Name:      "attestations_total",
		Help:      "Attestations accepted",
	})
)

// Registry is the part of the role registry the state machine relies on.
type Registry interface {
	Authorize(caller types.Identity, roles ...types.Role) error
	HasRole(id types.Identity, role types.Role) (bool, error)
	IsWhitelisted(id types.Identity) (bool, error)
}

type Manager struct {
	st       kv.Store
	roles    Registry
	verifier attestation.Verifier
	height   uint64
}

type OptionFunc func(*Manager)

func WithVerifier(v attestation.Verifier) OptionFunc {
	return func(m *Manager) {
		m.verifier = v
	}
}

// AtHeight stamps transitions with the height of the block being applied.
func AtHeight(height uint64) OptionFunc {
	return func(m *Manager) {
		m.height = height
	}
}

func NewManager(st kv.Store, roles Registry, opts ...OptionFunc) *Manager {
	m := &Manager{
		st:       st,
		roles:    roles,
		verifier: attestation.NewFrameVerifier(attestation.DefaultMaxSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) RegisterTrainingRun(ctx context.Context, caller types.Identity, name string, budget uint64) (types.RunID, error) {
	if err := m.roles.Authorize(caller, types.ModelTrainer); err != nil {
		return 0, err
	}
	if name == "" || len(name) > MaxNameLength {
		return 0, fmt.Errorf("%w: run name must have 1 to %d bytes", types.ErrInvalidArgument, MaxNameLength)
	}
	last, err := kv.GetUint64(m.st, runSeqKey)
	if err != nil {
		return 0, fmt.Errorf("reading run sequence: %w", err)
	}
	run := &Run{
		ID:        types.RunID(last + 1),
		Name:      name,
		Budget:    budget,
		Owner:     caller,
		Status:    types.RunRegistered,
		CreatedAt: m.height,
	}
	if err := kv.PutUint64(m.st, runSeqKey, uint64(run.ID)); err != nil {
		return 0, fmt.Errorf("storing run sequence: %w", err)
	}
	if err := m.putRun(run); err != nil {
		return 0, err
	}
	runsMetric.WithLabelValues(types.RunRegistered.String()).Inc()
	logging.FromContext(ctx).Info("registered training run",
		zap.Stringer("run", run.ID),
		zap.String("name", name),
		zap.Uint64("budget", budget),
		zap.Stringer("owner", caller),
	)
	return run.ID, nil
}

// JoinTrainingRun registers node as a member of run. Joining the same run
// again only updates the IP. Joining another run supersedes the previous
// registration: the node is dropped from a previous run that has not
// started, and a previous run that is still training makes the join fail
// with ErrInvalidState, so its members stay accountable at settlement.
func (m *Manager) JoinTrainingRun(ctx context.Context, caller, node types.Identity, ip string, id types.RunID) error {
	run, err := m.GetTrainingRun(id)
	if err != nil {
		return err
	}
	if err := m.authorizeNode(caller, node, types.ComputeNodeOperator); err != nil {
		return err
	}
	if run.Status == types.RunEnded {
		return fmt.Errorf("%w: run %d", types.ErrRunFinalized, id)
	}
	ok, err := m.roles.IsWhitelisted(node)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotWhitelisted, node)
	}
	if ip == "" || len(ip) > MaxIPLength {
		return fmt.Errorf("%w: ip must have 1 to %d bytes", types.ErrInvalidArgument, MaxIPLength)
	}

	logger := logging.FromContext(ctx).With(zap.Stringer("run", id), zap.Stringer("node", node))
	reg, found, err := m.registration(node)
	if err != nil {
		return err
	}
	if found && reg.Run != id {
		if err := m.leave(ctx, reg.Run, node); err != nil {
			return err
		}
	}

	member := Member{Identity: node, IP: ip, JoinedAt: m.height}
	existing, isMember, err := m.member(id, node)
	if err != nil {
		return err
	}
	if isMember {
		member.JoinedAt = existing.JoinedAt
	} else {
		run.Members++
		if err := m.putRun(run); err != nil {
			return err
		}
	}
	if err := kv.PutRecord(m.st, memberKey(id, node), &member); err != nil {
		return fmt.Errorf("storing member: %w", err)
	}
	if err := kv.PutRecord(m.st, registrationKey(node), &Registration{Run: id, IP: ip}); err != nil {
		return fmt.Errorf("storing registration: %w", err)
	}
	if isMember {
		logger.Info("updated compute node ip", zap.String("ip", ip))
	} else {
		logger.Info("compute node joined training run", zap.String("ip", ip))
	}
	return nil
}

// RegisterComputeNode is JoinTrainingRun under the name the node-side
// tooling uses.
func (m *Manager) RegisterComputeNode(ctx context.Context, caller, node types.Identity, ip string, id types.RunID) error {
	return m.JoinTrainingRun(ctx, caller, node, ip, id)
}

func (m *Manager) leave(ctx context.Context, id types.RunID, node types.Identity) error {
	prev, err := m.GetTrainingRun(id)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return nil
	case err != nil:
		return err
	case prev.Status == types.RunEnded:
		return nil
	}
	_, isMember, err := m.member(id, node)
	if err != nil || !isMember {
		return err
	}
	if prev.Status == types.RunStarted {
		return fmt.Errorf("%w: node %s is training in run %d until it ends", types.ErrInvalidState, node, id)
	}
	if err := m.st.Delete(memberKey(id, node)); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	prev.Members--
	if err := m.putRun(prev); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("compute node left training run",
		zap.Stringer("run", id), zap.Stringer("node", node))
	return nil
}

func (m *Manager) StartTrainingRun(ctx context.Context, caller types.Identity, id types.RunID) error {
	run, err := m.transition(caller, id, types.RunRegistered)
	if err != nil {
		return err
	}
	run.Status = types.RunStarted
	run.StartedAt = m.height
	if err := m.putRun(run); err != nil {
		return err
	}
	runsMetric.WithLabelValues(types.RunStarted.String()).Inc()
	logging.FromContext(ctx).Info("started training run",
		zap.Stringer("run", id), zap.Uint64("members", run.Members))
	return nil
}

// EndTrainingRun finalizes the run and fixes the merkle root over its
// attestations.
func (m *Manager) EndTrainingRun(ctx context.Context, caller types.Identity, id types.RunID) error {
	run, err := m.transition(caller, id, types.RunStarted)
	if err != nil {
		return err
	}
	root, err := m.attestationRoot(id)
	if err != nil {
		return err
	}
	run.Status = types.RunEnded
	run.EndedAt = m.height
	run.AttestationRoot = root
	if err := m.putRun(run); err != nil {
		return err
	}
	runsMetric.WithLabelValues(types.RunEnded.String()).Inc()
	logging.FromContext(ctx).Info("ended training run",
		zap.Stringer("run", id),
		zap.Uint64("attestations", run.Attestations),
		zap.Binary("root", root),
	)
	return nil
}

func (m *Manager) SubmitAttestation(ctx context.Context, caller, node types.Identity, id types.RunID, att []byte) error {
	run, err := m.GetTrainingRun(id)
	if err != nil {
		return err
	}
	switch run.Status {
	case types.RunRegistered:
		return fmt.Errorf("%w: run %d has not started", types.ErrInvalidState, id)
	case types.RunEnded:
		return fmt.Errorf("%w: run %d", types.ErrRunFinalized, id)
	}
	if err := m.authorizeNode(caller, node, types.RoleNone); err != nil {
		return err
	}
	if _, isMember, err := m.member(id, node); err != nil {
		return err
	} else if !isMember {
		return fmt.Errorf("%w: %s in run %d", types.ErrNotAMember, node, id)
	}
	if err := m.verifier.Verify(att); err != nil {
		return err
	}

	seq, err := kv.GetUint64(m.st, attestationCountKey(id, node))
	if err != nil {
		return fmt.Errorf("reading attestation count: %w", err)
	}
	if err := m.st.Put(attestationKey(id, node, seq), att); err != nil {
		return fmt.Errorf("storing attestation: %w", err)
	}
	if err := kv.PutUint64(m.st, attestationCountKey(id, node), seq+1); err != nil {
		return fmt.Errorf("storing attestation count: %w", err)
	}
	run.Attestations++
	if err := m.putRun(run); err != nil {
		return err
	}
	attestationsMetric.Inc()
	logging.FromContext(ctx).Debug("accepted attestation",
		zap.Stringer("run", id), zap.Stringer("node", node), zap.Uint64("seq", seq))
	return nil
}

// transition loads run and checks the caller may move it out of from.
func (m *Manager) transition(caller types.Identity, id types.RunID, from types.RunStatus) (*Run, error) {
	run, err := m.GetTrainingRun(id)
	if err != nil {
		return nil, err
	}
	if caller != run.Owner {
		if err := m.roles.Authorize(caller, types.Administrator); err != nil {
			return nil, err
		}
	}
	switch {
	case run.Status == from:
		return run, nil
	case run.Status == types.RunEnded:
		return nil, fmt.Errorf("%w: run %d", types.ErrRunFinalized, id)
	default:
		return nil, fmt.Errorf("%w: run %d is %s, expected %s", types.ErrInvalidState, id, run.Status, from)
	}
}

// authorizeNode lets administrators act for any node, and a node act for
// itself if it holds role (RoleNone means no role is required).
func (m *Manager) authorizeNode(caller, node types.Identity, role types.Role) error {
	if caller == node {
		if role == types.RoleNone {
			return nil
		}
		ok, err := m.roles.HasRole(caller, role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return m.roles.Authorize(caller, types.Administrator)
}

func (m *Manager) putRun(run *Run) error {
	if err := kv.PutRecord(m.st, runKey(run.ID), run); err != nil {
		return fmt.Errorf("storing run %d: %w", run.ID, err)
	}
	return nil
}

func (m *Manager) attestationRoot(id types.RunID) ([]byte, error) {
	tree, err := merkle.NewTreeBuilder().
		WithHashFunc(hashNode).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merkle tree: %w", err)
	}

	prefix := runAttestationsPrefix(id)
	it := m.st.Iterate(prefix)
	defer it.Release()
	leaves := 0
	for it.Next() {
		if err := tree.AddLeaf(hashLeaf(it.Key()[len(prefix):], it.Value())); err != nil {
			return nil, err
		}
		leaves++
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterating attestations: %w", err)
	}
	if leaves == 0 {
		return nil, nil
	}
	return tree.Root(), nil
}

// hashLeaf commits to the attestation and to its position, so that
// reordering the log changes the root.
func hashLeaf(position, att []byte) []byte {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte{0x00})
	_, _ = hasher.Write(position)
	_, _ = hasher.Write(att)
	return hasher.Sum(nil)
}

func hashNode(buf, lChild, rChild []byte) []byte {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte{0x01})
	_, _ = hasher.Write(lChild)
	_, _ = hasher.Write(rChild)
	return hasher.Sum(buf)
}
