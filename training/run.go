package training

import (
	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/types"
)

const (
	MaxNameLength = 256
	MaxIPLength   = 255
)

// Run is the stored state of a training run.
type Run struct {
	ID     types.RunID
	Name   string
	Budget uint64
	Owner  types.Identity
	Status types.RunStatus

	// Ledger heights of the transitions, zero until reached.
	CreatedAt uint64
	StartedAt uint64
	EndedAt   uint64

	Members      uint64
	Attestations uint64
	// AttestationRoot commits to every attestation of the run. It is set
	// when the run ends and stays empty for runs ended without attestations.
	AttestationRoot []byte
}

// Member is a compute node taking part in a run.
type Member struct {
	Identity     types.Identity
	IP           string
	JoinedAt     uint64
	Attestations uint64
}

// Registration binds a compute node to the run it last joined.
type Registration struct {
	Run types.RunID
	IP  string
}

var (
	runSeqKey      = []byte("run/seq")
	runPrefix      = []byte("run/")
	memberInfix    = []byte("/m/")
	nodePrefix     = []byte("node/")
	attPrefix      = []byte("att/")
	attCountPrefix = []byte("attn/")
)

func runKey(id types.RunID) []byte {
	return kv.Key(runPrefix, kv.U64(uint64(id)))
}

func membersPrefix(id types.RunID) []byte {
	return kv.Key(runPrefix, kv.U64(uint64(id)), memberInfix)
}

func memberKey(id types.RunID, node types.Identity) []byte {
	return kv.Key(membersPrefix(id), node[:])
}

func registrationKey(node types.Identity) []byte {
	return kv.Key(nodePrefix, node[:])
}

func runAttestationsPrefix(id types.RunID) []byte {
	return kv.Key(attPrefix, kv.U64(uint64(id)), []byte{'/'})
}

func nodeAttestationsPrefix(id types.RunID, node types.Identity) []byte {
	return kv.Key(runAttestationsPrefix(id), node[:], []byte{'/'})
}

func attestationKey(id types.RunID, node types.Identity, seq uint64) []byte {
	return kv.Key(nodeAttestationsPrefix(id, node), kv.U64(seq))
}

// The per (run, node) counter survives the node leaving the run, so a node
// that rejoins continues its sequence instead of overwriting it.
func attestationCountKey(id types.RunID, node types.Identity) []byte {
	return kv.Key(attCountPrefix, kv.U64(uint64(id)), []byte{'/'}, node[:])
}
