package ledger

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/settlement"
	"github.com/computeledger/trainmgr/staking"
	"github.com/computeledger/trainmgr/types"
)

const (
	DefaultChainID       = 1
	DefaultBlockInterval = 200 * time.Millisecond
	DefaultMaxBlockSize  = 256
	DefaultMaxPending    = 4096
	DefaultCacheSize     = 1024
)

type Config struct {
	ChainID       uint64        `long:"chain-id" description:"Chain id every transaction must carry"`
	BlockInterval time.Duration `long:"block-interval" description:"Longest time a submitted transaction waits before its block is applied"`
	MaxBlockSize  int           `long:"max-block-size" description:"Number of pending transactions that triggers a block right away"`
	MaxPending    int           `long:"max-pending" description:"Pending transactions accepted before submissions are refused"`
	CacheSize     int           `long:"query-cache-size" description:"Number of finalized run query results kept in memory"`

	// Admin is granted Administrator and ModelTrainer in the genesis state.
	Admin types.Identity `no-flag:"true"`

	Staking     staking.Config     `no-flag:"true"`
	Settlement  settlement.Config  `no-flag:"true"`
	Attestation attestation.Config `no-flag:"true"`
}

func DefaultConfig() Config {
	return Config{
		ChainID:       DefaultChainID,
		BlockInterval: DefaultBlockInterval,
		MaxBlockSize:  DefaultMaxBlockSize,
		MaxPending:    DefaultMaxPending,
		CacheSize:     DefaultCacheSize,
		Staking:       staking.DefaultConfig(),
		Settlement:    settlement.DefaultConfig(),
		Attestation:   attestation.DefaultConfig(),
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("chain_id", c.ChainID)
	enc.AddDuration("block_interval", c.BlockInterval)
	enc.AddInt("max_block_size", c.MaxBlockSize)
	enc.AddInt("max_pending", c.MaxPending)
	enc.AddString("admin", c.Admin.String())
	if err := enc.AddObject("staking", c.Staking); err != nil {
		return err
	}
	return enc.AddObject("settlement", c.Settlement)
}
