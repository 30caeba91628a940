package ledger

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

type Status uint8

const (
	StatusFailed Status = iota
	StatusSuccess
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failed"
}

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	Hash   types.Hash
	Height uint64 // position in the log, 1 for the first transaction
	Block  uint64
	From   types.Identity
	Nonce  uint64
	Method signing.Method
	Status Status
	Kind   types.Kind
	Error  string
	// Result carries the return value of the call, such as the id of a
	// registered run or the amount slashed.
	Result  uint64
	LogHash types.Hash
}

// Err rebuilds the typed error of a failed receipt.
func (r *Receipt) Err() error {
	if r.Status == StatusSuccess {
		return nil
	}
	return types.ErrorFromKind(r.Kind, r.Error)
}

// Head is the tip of the transaction log.
type Head struct {
	Height uint64
	Block  uint64
	Hash   types.Hash
}

var (
	headKey     = []byte("ledger/head")
	genesisKey  = []byte("ledger/genesis")
	chainKey    = []byte("ledger/chain")
	noncePrefix = []byte("ledger/nonce/")
	rcptPrefix  = []byte("ledger/rcpt/")
	logPrefix   = []byte("ledger/log/")
)

func nonceKey(id types.Identity) []byte { return kv.Key(noncePrefix, id[:]) }
func receiptKey(hash types.Hash) []byte { return kv.Key(rcptPrefix, hash[:]) }
func logKey(height uint64) []byte       { return kv.Key(logPrefix, kv.U64(height)) }

func genesisHash(chainID uint64, admin types.Identity) types.Hash {
	hasher := sha256.New()
	_, _ = hasher.Write(binary.BigEndian.AppendUint64(nil, chainID))
	_, _ = hasher.Write(admin[:])
	var h types.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// chain links a receipt to everything before it.
func chain(prev types.Hash, height uint64, tx types.Hash, status Status) types.Hash {
	hasher := sha256.New()
	_, _ = hasher.Write(prev[:])
	_, _ = hasher.Write(binary.BigEndian.AppendUint64(nil, height))
	_, _ = hasher.Write(tx[:])
	_, _ = hasher.Write([]byte{byte(status)})
	var h types.Hash
	copy(h[:], hasher.Sum(nil))
	return h
}
