package training

import (
	"errors"
	"fmt"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/types"
)

func (m *Manager) GetTrainingRun(id types.RunID) (*Run, error) {
	run := &Run{}
	found, err := kv.LookupRecord(m.st, runKey(id), run)
	switch {
	case err != nil:
		return nil, fmt.Errorf("loading run %d: %w", id, err)
	case !found:
		return nil, fmt.Errorf("%w: training run %d", types.ErrNotFound, id)
	}
	return run, nil
}

func (m *Manager) GetTrainingRunStatus(id types.RunID) (types.RunStatus, error) {
	run, err := m.GetTrainingRun(id)
	if err != nil {
		return 0, err
	}
	return run.Status, nil
}

// LatestRunID returns the id of the most recently registered run, zero if
// there is none.
func (m *Manager) LatestRunID() (types.RunID, error) {
	last, err := kv.GetUint64(m.st, runSeqKey)
	if err != nil {
		return 0, fmt.Errorf("reading run sequence: %w", err)
	}
	return types.RunID(last), nil
}

// GetComputeNodesForTrainingRun lists the current members ordered by
// identity, with their attestation counts.
func (m *Manager) GetComputeNodesForTrainingRun(id types.RunID) ([]Member, error) {
	if _, err := m.GetTrainingRun(id); err != nil {
		return nil, err
	}
	it := m.st.Iterate(membersPrefix(id))
	defer it.Release()
	var members []Member
	for it.Next() {
		var member Member
		if err := kv.Unmarshal(it.Value(), &member); err != nil {
			return nil, fmt.Errorf("decoding member of run %d: %w", id, err)
		}
		count, err := kv.GetUint64(m.st, attestationCountKey(id, member.Identity))
		if err != nil {
			return nil, err
		}
		member.Attestations = count
		members = append(members, member)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterating members of run %d: %w", id, err)
	}
	return members, nil
}

// AttestationCounts maps every current member of run to the number of
// attestations it submitted.
func (m *Manager) AttestationCounts(id types.RunID) (map[types.Identity]uint64, error) {
	members, err := m.GetComputeNodesForTrainingRun(id)
	if err != nil {
		return nil, err
	}
	counts := make(map[types.Identity]uint64, len(members))
	for _, member := range members {
		counts[member.Identity] = member.Attestations
	}
	return counts, nil
}

func (m *Manager) AttestationCount(id types.RunID, node types.Identity) (uint64, error) {
	return kv.GetUint64(m.st, attestationCountKey(id, node))
}

// Registration returns the run node last joined.
func (m *Manager) Registration(node types.Identity) (*Registration, bool, error) {
	return m.registration(node)
}

// IsComputeNodeValid reports whether node is registered with a run that has
// not ended.
func (m *Manager) IsComputeNodeValid(node types.Identity) (bool, error) {
	reg, found, err := m.registration(node)
	if err != nil || !found {
		return false, err
	}
	status, err := m.GetTrainingRunStatus(reg.Run)
	switch {
	case errors.Is(err, types.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return status != types.RunEnded, nil
}

// GetAttestations returns the attestations node submitted to run, in
// submission order.
func (m *Manager) GetAttestations(id types.RunID, node types.Identity) ([][]byte, error) {
	if _, err := m.GetTrainingRun(id); err != nil {
		return nil, err
	}
	it := m.st.Iterate(nodeAttestationsPrefix(id, node))
	defer it.Release()
	atts := [][]byte{}
	for it.Next() {
		atts = append(atts, append([]byte(nil), it.Value()...))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterating attestations: %w", err)
	}
	return atts, nil
}

// GetAttestationsForComputeNode returns the attestations of node in the run
// it is currently or was most recently registered with. A node that never
// joined a run has none.
func (m *Manager) GetAttestationsForComputeNode(node types.Identity) ([][]byte, error) {
	reg, found, err := m.registration(node)
	if err != nil {
		return nil, err
	}
	if !found {
		return [][]byte{}, nil
	}
	return m.GetAttestations(reg.Run, node)
}

func (m *Manager) registration(node types.Identity) (*Registration, bool, error) {
	reg := &Registration{}
	found, err := kv.LookupRecord(m.st, registrationKey(node), reg)
	if err != nil {
		return nil, false, fmt.Errorf("loading registration of %s: %w", node, err)
	}
	return reg, found, nil
}

func (m *Manager) member(id types.RunID, node types.Identity) (*Member, bool, error) {
	member := &Member{}
	found, err := kv.LookupRecord(m.st, memberKey(id, node), member)
	if err != nil {
		return nil, false, fmt.Errorf("loading member %s of run %d: %w", node, id, err)
	}
	return member, found, nil
}
