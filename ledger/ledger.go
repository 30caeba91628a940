// Package ledger is a single node ledger for the training protocol.
//
// It totally orders signed transactions, enforces per sender nonces, and
// applies every transaction atomically to the contract state in leveldb.
// Each applied transaction gets a receipt and extends a hash chained log.
// Submitted transactions are queued and applied in blocks, either after
// BlockInterval or as soon as MaxBlockSize transactions are pending.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"

	"github.com/computeledger/trainmgr/kv"
	"github.com/computeledger/trainmgr/logging"
	"github.com/computeledger/trainmgr/signing"
	"github.com/computeledger/trainmgr/types"
)

var (
	ErrClosed    = errors.New("ledger is closed")
	ErrQueueFull = errors.New("too many pending transactions")

	txsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trainmgr",
		Subsystem: "ledger",
		Name:      "txs_total",
		Help:      "Applied transactions by method and status",
	}, []string{"method", "status"})

	blockSizeMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trainmgr",
		Subsystem: "ledger",
		Name:      "block_size",
		Help:      "Transactions per applied block",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	blockLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "trainmgr",
		Subsystem: "ledger",
		Name:      "block_apply_latency_seconds",
		Help:      "Latency of applying a block",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	})

	pendingMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trainmgr",
		Subsystem: "ledger",
		Name:      "pending_txs",
		Help:      "Transactions waiting for the next block",
	})
)

type pendingTx struct {
	hash types.Hash
	tx   *signing.SignedTx
}

type Ledger struct {
	cfg    Config
	db     *leveldb.DB
	reader kv.Reader
	logger *zap.Logger
	cache  *lru.Cache

	// serializes block application, so blocks apply in the order their
	// transactions were taken from the queue.
	applyMu sync.Mutex

	// beforeCommit, when set, runs before each transaction commits and
	// aborts the commit on error. Tests use it to simulate storage failures.
	beforeCommit func(hash types.Hash) error

	// protects everything below, which Submit and the flush timer share.
	mu           sync.Mutex
	pending      []pendingTx
	pendingTxs   map[types.Hash]struct{}
	pendingNonce map[types.Identity]uint64
	flushPending *time.Timer
	blockDone    chan struct{}
	closed       bool
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string, cfg Config) (*Ledger, error) {
	db, err := kv.Open(path)
	if err != nil {
		return nil, err
	}
	l, err := New(ctx, db, cfg)
	if err != nil {
		return nil, multierror.Append(err, db.Close()).ErrorOrNil()
	}
	return l, nil
}

// New builds a ledger over db and writes the genesis state if db is empty.
// The ledger takes ownership of db.
func New(ctx context.Context, db *leveldb.DB, cfg Config) (*Ledger, error) {
	def := DefaultConfig()
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = def.BlockInterval
	}
	if cfg.MaxBlockSize <= 0 {
		cfg.MaxBlockSize = def.MaxBlockSize
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	l := &Ledger{
		cfg:          cfg,
		db:           db,
		reader:       kv.NewDBReader(db),
		logger:       logging.FromContext(ctx).Named("ledger"),
		cache:        cache,
		pendingTxs:   make(map[types.Hash]struct{}),
		pendingNonce: make(map[types.Identity]uint64),
		blockDone:    make(chan struct{}),
	}
	if err := l.genesis(); err != nil {
		return nil, err
	}
	head, err := l.Head()
	if err != nil {
		return nil, err
	}
	l.logger.Info("ledger ready",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Uint64("height", head.Height),
		zap.Stringer("head", head.Hash),
	)
	return l, nil
}

func (l *Ledger) genesis() error {
	return kv.Update(l.db, func(st kv.Store) error {
		var head Head
		found, err := kv.LookupRecord(st, headKey, &head)
		if err != nil {
			return err
		}
		if found {
			chainID, err := kv.GetUint64(st, chainKey)
			if err != nil {
				return err
			}
			if chainID != l.cfg.ChainID {
				return fmt.Errorf("%w: database belongs to chain %d, configured %d", types.ErrWrongChain, chainID, l.cfg.ChainID)
			}
			return nil
		}
		if l.cfg.Admin.IsZero() {
			return fmt.Errorf("%w: genesis needs an admin identity", types.ErrInvalidArgument)
		}
		contracts := bind(st, &l.cfg, 0)
		if err := contracts.Roles.Bootstrap(l.cfg.Admin, types.Administrator, types.ModelTrainer); err != nil {
			return fmt.Errorf("bootstrapping roles: %w", err)
		}
		if err := st.Put(chainKey, kv.U64(l.cfg.ChainID)); err != nil {
			return err
		}
		head = Head{Hash: genesisHash(l.cfg.ChainID, l.cfg.Admin)}
		if err := st.Put(genesisKey, head.Hash[:]); err != nil {
			return err
		}
		l.logger.Info("wrote genesis state", zap.Stringer("admin", l.cfg.Admin), zap.Stringer("hash", head.Hash))
		return kv.PutRecord(st, headKey, &head)
	})
}

func (l *Ledger) ChainID() uint64 {
	return l.cfg.ChainID
}

// Admin is the identity bootstrapped as administrator at genesis.
func (l *Ledger) Admin() types.Identity {
	return l.cfg.Admin
}

func (l *Ledger) Head() (*Head, error) {
	head := &Head{}
	if err := kv.GetRecord(l.reader, headKey, head); err != nil {
		return nil, fmt.Errorf("loading head: %w", err)
	}
	return head, nil
}

// Submit queues a signed transaction and returns its hash. It fails right
// away when the transaction could never apply: wrong chain, bad signature,
// a nonce other than the sender's next one, or a transaction already seen.
// A transaction that is queued always gets a receipt, possibly a failed one.
func (l *Ledger) Submit(ctx context.Context, stx *signing.SignedTx) (types.Hash, error) {
	if stx.Tx.ChainID != l.cfg.ChainID {
		return types.Hash{}, fmt.Errorf("%w: got %d, expected %d", types.ErrWrongChain, stx.Tx.ChainID, l.cfg.ChainID)
	}
	hash, err := stx.Verify()
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	if !stx.Tx.Call.Method.Valid() {
		return types.Hash{}, fmt.Errorf("%w: unknown method %d", types.ErrInvalidArgument, stx.Tx.Call.Method)
	}
	from := stx.Tx.From

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return types.Hash{}, ErrClosed
	}
	if _, ok := l.pendingTxs[hash]; ok {
		return types.Hash{}, fmt.Errorf("%w: %s", types.ErrTxAlreadyKnown, hash)
	}
	if known, err := l.db.Has(receiptKey(hash), nil); err != nil {
		return types.Hash{}, fmt.Errorf("checking receipt: %w", err)
	} else if known {
		return types.Hash{}, fmt.Errorf("%w: %s", types.ErrTxAlreadyKnown, hash)
	}
	expected, err := l.nextNonce(from)
	if err != nil {
		return types.Hash{}, err
	}
	if stx.Tx.Nonce != expected {
		return types.Hash{}, fmt.Errorf("%w: %s sent nonce %d, expected %d", types.ErrInvalidNonce, from, stx.Tx.Nonce, expected)
	}
	if len(l.pending) >= l.cfg.MaxPending {
		return types.Hash{}, ErrQueueFull
	}

	l.pending = append(l.pending, pendingTx{hash: hash, tx: stx})
	l.pendingTxs[hash] = struct{}{}
	l.pendingNonce[from] = expected + 1
	pendingMetric.Inc()
	logging.FromContext(ctx).Debug("queued transaction",
		zap.Stringer("hash", hash),
		zap.Stringer("from", from),
		zap.Uint64("nonce", stx.Tx.Nonce),
		zap.Stringer("method", stx.Tx.Call.Method),
	)

	switch {
	case len(l.pending) >= l.cfg.MaxBlockSize:
		if l.flushPending != nil {
			l.flushPending.Stop()
		}
		l.flushPending = time.AfterFunc(0, l.flushPendingTxs)
	case l.flushPending == nil:
		l.flushPending = time.AfterFunc(l.cfg.BlockInterval, l.flushPendingTxs)
	}
	return hash, nil
}

// Nonce returns the nonce the next transaction of id must carry, counting
// transactions still waiting for a block.
func (l *Ledger) Nonce(id types.Identity) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextNonce(id)
}

// ConfirmedNonce counts only applied transactions.
func (l *Ledger) ConfirmedNonce(id types.Identity) (uint64, error) {
	return kv.GetUint64(l.reader, nonceKey(id))
}

func (l *Ledger) nextNonce(id types.Identity) (uint64, error) {
	if n, ok := l.pendingNonce[id]; ok {
		return n, nil
	}
	n, err := kv.GetUint64(l.reader, nonceKey(id))
	if err != nil {
		return 0, fmt.Errorf("reading nonce of %s: %w", id, err)
	}
	return n, nil
}

// Receipt returns the receipt of an applied transaction, types.ErrPending
// while it waits for a block, and types.ErrNotFound for unknown hashes.
func (l *Ledger) Receipt(hash types.Hash) (*Receipt, error) {
	// Pending entries are dropped only after the receipt is committed, so
	// checking the queue first cannot miss a transaction in between.
	l.mu.Lock()
	_, pending := l.pendingTxs[hash]
	l.mu.Unlock()

	receipt := &Receipt{}
	found, err := kv.LookupRecord(l.reader, receiptKey(hash), receipt)
	if err != nil {
		return nil, fmt.Errorf("loading receipt %s: %w", hash, err)
	}
	if found {
		return receipt, nil
	}
	if pending {
		return nil, fmt.Errorf("%w: %s", types.ErrPending, hash)
	}
	return nil, fmt.Errorf("%w: transaction %s", types.ErrNotFound, hash)
}

// WaitReceipt blocks until the transaction is applied or ctx is done.
// Giving up on the wait does not withdraw the transaction.
func (l *Ledger) WaitReceipt(ctx context.Context, hash types.Hash) (*Receipt, error) {
	for {
		l.mu.Lock()
		done := l.blockDone
		l.mu.Unlock()

		receipt, err := l.Receipt(hash)
		if !errors.Is(err, types.ErrPending) {
			return receipt, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
	}
}

// TxAt returns the hash of the transaction at height in the log.
func (l *Ledger) TxAt(height uint64) (types.Hash, error) {
	data, err := l.db.Get(logKey(height), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return types.Hash{}, fmt.Errorf("%w: height %d", types.ErrNotFound, height)
	case err != nil:
		return types.Hash{}, err
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, nil
}

// VerifyLog recomputes the hash chain from genesis to the head.
func (l *Ledger) VerifyLog() error {
	return kv.View(l.db, func(st kv.Store) error {
		genesis, err := st.Get(genesisKey)
		if err != nil {
			return fmt.Errorf("loading genesis hash: %w", err)
		}
		var head Head
		if err := kv.GetRecord(st, headKey, &head); err != nil {
			return err
		}
		var prev types.Hash
		copy(prev[:], genesis)
		for height := uint64(1); height <= head.Height; height++ {
			data, err := st.Get(logKey(height))
			if err != nil {
				return fmt.Errorf("loading log entry %d: %w", height, err)
			}
			var hash types.Hash
			copy(hash[:], data)
			var receipt Receipt
			if err := kv.GetRecord(st, receiptKey(hash), &receipt); err != nil {
				return err
			}
			expected := chain(prev, height, hash, receipt.Status)
			if receipt.Height != height || receipt.LogHash != expected {
				return fmt.Errorf("log broken at height %d", height)
			}
			prev = expected
		}
		if prev != head.Hash {
			return fmt.Errorf("head %s does not match log %s", head.Hash, prev)
		}
		return nil
	})
}

// View runs fn against a snapshot of the confirmed state.
func (l *Ledger) View(fn func(*Contracts) error) error {
	return kv.View(l.db, func(st kv.Store) error {
		var head Head
		if err := kv.GetRecord(st, headKey, &head); err != nil {
			return err
		}
		return fn(bind(st, &l.cfg, head.Height))
	})
}

// Flush applies all pending transactions now.
func (l *Ledger) Flush() {
	l.flushPendingTxs()
}

func (l *Ledger) flushPendingTxs() {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()

	l.mu.Lock()
	if l.flushPending != nil {
		l.flushPending.Stop()
		l.flushPending = nil
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	pendingMetric.Sub(float64(len(batch)))
	applied, err := l.applyBlock(batch)
	if err != nil {
		l.logger.Error("failed to apply block",
			zap.Int("applied", applied), zap.Int("requeued", len(batch)-applied), zap.Error(err))
	}

	l.mu.Lock()
	for _, p := range batch[:applied] {
		delete(l.pendingTxs, p.hash)
		if l.pendingNonce[p.tx.Tx.From] == p.tx.Tx.Nonce+1 {
			delete(l.pendingNonce, p.tx.Tx.From)
		}
	}
	// Transactions that did not apply go back to the head of the queue, in
	// order, so they keep their nonces and still get a receipt.
	if rest := batch[applied:]; len(rest) > 0 {
		l.pending = append(append(make([]pendingTx, 0, len(rest)+len(l.pending)), rest...), l.pending...)
		pendingMetric.Add(float64(len(rest)))
		if !l.closed && l.flushPending == nil {
			l.flushPending = time.AfterFunc(l.cfg.BlockInterval, l.flushPendingTxs)
		}
	}
	close(l.blockDone)
	l.blockDone = make(chan struct{})
	l.mu.Unlock()
}

// applyBlock applies batch in order and returns how many transactions got a
// receipt. On error the remaining ones are untouched.
func (l *Ledger) applyBlock(batch []pendingTx) (int, error) {
	start := time.Now()
	head, err := l.Head()
	if err != nil {
		return 0, err
	}
	block := head.Block + 1
	logger := l.logger.With(zap.Uint64("block", block))
	ctx := logging.NewContext(context.Background(), logger)

	failed := 0
	for i, p := range batch {
		receipt, err := l.applyTx(ctx, head, block, p)
		if err != nil {
			return i, fmt.Errorf("applying %s: %w", p.hash, err)
		}
		if receipt.Status != StatusSuccess {
			failed++
		}
		txsMetric.WithLabelValues(receipt.Method.String(), receipt.Status.String()).Inc()
		head = &Head{Height: receipt.Height, Block: block, Hash: receipt.LogHash}
	}
	blockSizeMetric.Observe(float64(len(batch)))
	blockLatencyMetric.Observe(time.Since(start).Seconds())
	logger.Info("applied block",
		zap.Int("txs", len(batch)),
		zap.Int("failed", failed),
		zap.Uint64("height", head.Height),
		zap.Stringer("head", head.Hash),
	)
	return len(batch), nil
}

// applyTx executes one transaction in its own leveldb transaction. When the
// call fails its changes are discarded, and the receipt and nonce bump are
// written on a clean transaction instead.
func (l *Ledger) applyTx(ctx context.Context, head *Head, block uint64, p pendingTx) (*Receipt, error) {
	height := head.Height + 1
	tx := &p.tx.Tx
	receipt := &Receipt{
		Hash:   p.hash,
		Height: height,
		Block:  block,
		From:   tx.From,
		Nonce:  tx.Nonce,
		Method: tx.Call.Method,
		Status: StatusSuccess,
	}
	logger := logging.FromContext(ctx).With(
		zap.Stringer("tx", p.hash),
		zap.Stringer("from", tx.From),
		zap.Stringer("method", tx.Call.Method),
	)

	dbtx, err := l.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("opening transaction: %w", err)
	}
	st := kv.NewTxStore(dbtx)
	result, callErr := bind(st, &l.cfg, height).dispatch(logging.NewContext(ctx, logger), tx.From, &tx.Call)
	if callErr != nil {
		dbtx.Discard()
		receipt.Status = StatusFailed
		receipt.Kind = types.KindOf(callErr)
		receipt.Error = callErr.Error()
		logger.Info("transaction failed", zap.String("kind", string(receipt.Kind)), zap.Error(callErr))

		if dbtx, err = l.db.OpenTransaction(); err != nil {
			return nil, fmt.Errorf("opening transaction: %w", err)
		}
		st = kv.NewTxStore(dbtx)
	} else {
		receipt.Result = result
	}
	receipt.LogHash = chain(head.Hash, height, p.hash, receipt.Status)

	if err := l.finalize(st, receipt); err != nil {
		dbtx.Discard()
		return nil, err
	}
	if l.beforeCommit != nil {
		if err := l.beforeCommit(p.hash); err != nil {
			dbtx.Discard()
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return receipt, nil
}

func (l *Ledger) finalize(st kv.Store, receipt *Receipt) error {
	if err := kv.PutUint64(st, nonceKey(receipt.From), receipt.Nonce+1); err != nil {
		return fmt.Errorf("storing nonce: %w", err)
	}
	if err := kv.PutRecord(st, receiptKey(receipt.Hash), receipt); err != nil {
		return fmt.Errorf("storing receipt: %w", err)
	}
	if err := st.Put(logKey(receipt.Height), receipt.Hash[:]); err != nil {
		return fmt.Errorf("storing log entry: %w", err)
	}
	head := Head{Height: receipt.Height, Block: receipt.Block, Hash: receipt.LogHash}
	if err := kv.PutRecord(st, headKey, &head); err != nil {
		return fmt.Errorf("storing head: %w", err)
	}
	return nil
}

// Close applies what is still pending and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.flushPendingTxs()

	l.mu.Lock()
	if n := len(l.pending); n > 0 {
		l.logger.Warn("closing with unapplied transactions", zap.Int("txs", n))
	}
	l.mu.Unlock()

	var result *multierror.Error
	if err := l.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing database: %w", err))
	}
	l.cache.Purge()
	return result.ErrorOrNil()
}
