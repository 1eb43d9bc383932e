// Package broadcast serializes transaction submissions per account and
// recovers from stale-nonce rejections. One broadcaster owns one
// (chain, address) pair; its queue releases tasks strictly in arrival order
// so the node sees a gap-free, at-most-once nonce sequence.
package broadcast

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/seqlabs/txgate/internal/chain"
	"github.com/seqlabs/txgate/internal/chain/eth"
	"github.com/seqlabs/txgate/internal/metrics"
	"github.com/seqlabs/txgate/internal/nonce"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// Defaults for broadcaster options.
const (
	DefaultSendTimeout = 30 * time.Second
	DefaultQueueDepth  = 256
)

// State tracks a task through its lifecycle.
type State int

// Task states.
const (
	StateQueued State = iota
	StateActive
	StateSent
	StateCommitted
	StateRetrying
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateSent:
		return "sent"
	case StateCommitted:
		return "committed"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request describes one transaction to broadcast.
type Request struct {
	To       *common.Address // nil for contract creation
	Value    *big.Int
	Data     []byte
	GasLimit uint64

	// Legacy pricing
	GasPrice *big.Int

	// EIP-1559 pricing; when GasFeeCap is set a dynamic-fee transaction is
	// built and GasPrice is ignored.
	GasFeeCap *big.Int
	GasTipCap *big.Int

	// Nonce forces a specific nonce, bypassing allocation. The caller takes
	// full responsibility for sequencing.
	Nonce *uint64
}

// Validate checks that the request can be turned into a transaction.
func (r *Request) Validate() error {
	if r.GasLimit == 0 {
		return txgerr.ErrInvalidGasLimit
	}
	if r.GasFeeCap == nil && r.GasPrice == nil {
		return txgerr.WithDetails(txgerr.ErrInvalidValue, map[string]string{
			"reason": "either gas_price or gas_fee_cap is required",
		})
	}
	return nil
}

// Result is the outcome of a successful broadcast.
type Result struct {
	Tx      *types.Transaction // signed transaction as sent
	Hash    common.Hash
	Nonce   uint64
	Retried bool // true if the send succeeded on the nonce-conflict retry
}

// task is one queued broadcast. It is owned by the queue until dequeued,
// then by the worker until resolved.
type task struct {
	req        *Request
	ctx        context.Context
	enqueuedAt time.Time
	state      State

	result *Result
	err    error
	done   chan struct{}
}

// Options configures a broadcaster.
type Options struct {
	// SendTimeout bounds each node send so a stalled node cannot wedge the
	// queue. Zero means DefaultSendTimeout.
	SendTimeout time.Duration
	// QueueDepth is the queued-task capacity. Zero means DefaultQueueDepth.
	QueueDepth int
	// Logger is the parent logger.
	Logger zerolog.Logger
}

// Broadcaster serializes all transaction submissions for one
// (chain, address) pair. At most one task is active at a time; that is the
// sole mutual-exclusion invariant this subsystem exists to provide.
type Broadcaster struct {
	chainID     chain.ID
	client      chain.NodeClient
	signer      chain.Signer
	nonces      *nonce.Manager
	sendTimeout time.Duration
	log         zerolog.Logger

	queue   chan *task
	pending atomic.Int64 // queued + active tasks

	// mu makes enqueue and Close mutually exclusive: a task accepted into
	// the queue is always either processed or failed by the worker's drain,
	// never stranded behind an exited worker.
	mu     sync.Mutex
	closed bool

	quit      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// New creates a broadcaster and starts its worker goroutine.
func New(id chain.ID, client chain.NodeClient, signer chain.Signer, nonces *nonce.Manager, opts Options) *Broadcaster {
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	queueDepth := opts.QueueDepth
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	b := &Broadcaster{
		chainID:     id,
		client:      client,
		signer:      signer,
		nonces:      nonces,
		sendTimeout: sendTimeout,
		log: opts.Logger.With().
			Str("component", "broadcaster").
			Str("chain", id.String()).
			Str("address", signer.Address().Hex()).
			Logger(),
		queue:    make(chan *task, queueDepth),
		quit:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go b.run()
	return b
}

// Chain returns the network this broadcaster submits to.
func (b *Broadcaster) Chain() chain.ID {
	return b.chainID
}

// Address returns the account this broadcaster submits for.
func (b *Broadcaster) Address() common.Address {
	return b.signer.Address()
}

// PendingTasks returns the number of queued plus active tasks. The registry
// uses this to pin busy broadcasters against eviction.
func (b *Broadcaster) PendingTasks() int {
	return int(b.pending.Load())
}

// Broadcast enqueues the request and suspends the caller until the task is
// resolved. Tasks are released strictly in arrival order. A caller whose ctx
// is cancelled while the task is still queued gets the ctx error; the worker
// skips the task when its turn comes. Once a task is active it always
// resolves internally so one abandoned caller never wedges the queue.
func (b *Broadcaster) Broadcast(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &task{
		req:        req,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		state:      StateQueued,
		done:       make(chan struct{}),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, txgerr.ErrBroadcasterClosed
	}
	select {
	case b.queue <- t:
		depth := b.pending.Add(1)
		b.mu.Unlock()
		metrics.Global.RecordQueueDepth(depth)
	default:
		b.mu.Unlock()
		return nil, txgerr.WithDetails(txgerr.ErrQueueFull, map[string]string{
			"chain":   b.chainID.String(),
			"address": b.signer.Address().Hex(),
		})
	}

	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		// Abandoned by the caller; the worker still resolves the task
		// internally to free the queue.
		return nil, ctx.Err()
	}
}

// Close stops the worker. Tasks still queued are failed with
// ErrBroadcasterClosed so no caller is left hanging; enqueues that lose the
// race to Close are refused outright.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.quit)
		<-b.finished
	})
}

// run is the worker loop. Draining the queue one task at a time is what
// yields strict FIFO order and the one-active-task invariant.
func (b *Broadcaster) run() {
	defer close(b.finished)

	for {
		select {
		case t := <-b.queue:
			b.process(t)
		case <-b.quit:
			for {
				select {
				case t := <-b.queue:
					b.resolve(t, nil, txgerr.ErrBroadcasterClosed)
					b.pending.Add(-1)
				default:
					return
				}
			}
		}
	}
}

// process runs one task to a terminal state. The queue always advances
// afterwards, whatever happened.
func (b *Broadcaster) process(t *task) {
	defer b.pending.Add(-1)

	if err := t.ctx.Err(); err != nil {
		t.state = StateFailed
		metrics.Global.RecordTaskCancelled()
		b.log.Debug().
			Dur("queued_for", time.Since(t.enqueuedAt)).
			Msg("task cancelled before activation")
		b.resolve(t, nil, err)
		return
	}

	t.state = StateActive
	res, err := b.submit(t)
	metrics.Global.RecordBroadcast(err)
	b.resolve(t, res, err)
}

// resolve publishes the task outcome to the waiting caller.
func (b *Broadcaster) resolve(t *task, res *Result, err error) {
	t.result = res
	t.err = err
	close(t.done)
}

// submit performs nonce resolution, signing, the send, and the single
// nonce-conflict retry.
func (b *Broadcaster) submit(t *task) (*Result, error) {
	// Once active the task must resolve regardless of the caller, so the
	// node calls run on a context detached from caller cancellation.
	base := context.WithoutCancel(t.ctx)

	evmChainID, err := b.client.ChainID(base)
	if err != nil {
		t.state = StateFailed
		return nil, err
	}

	explicit := t.req.Nonce != nil
	var n uint64
	if explicit {
		n = *t.req.Nonce
	} else {
		n, err = b.nonces.NextNonce(base, b.chainID, b.signer.Address())
		if err != nil {
			t.state = StateFailed
			return nil, err
		}
	}

	t.state = StateSent
	signedTx, sendErr := b.send(base, t.req, n, evmChainID)
	if sendErr == nil {
		return b.finish(t, signedTx, n, explicit, false)
	}

	corrected, conflict := extractExpectedNonce(sendErr.Error())
	if !conflict {
		t.state = StateFailed
		return nil, b.terminal(sendErr)
	}

	// Recoverable: the node expects a different nonce. Correct the record,
	// resend at the corrected nonce, exactly once.
	metrics.Global.RecordNonceConflict()
	t.state = StateRetrying
	b.log.Warn().
		Uint64("sent_nonce", n).
		Uint64("corrected_nonce", corrected).
		Msg("nonce conflict, retrying with corrected nonce")

	if err := b.nonces.OverridePending(b.chainID, b.signer.Address(), corrected); err != nil {
		t.state = StateFailed
		return nil, err
	}

	retryNonce := corrected
	if !explicit {
		// Re-allocate so the corrected nonce is tracked as pending and the
		// next allocation yields corrected+1.
		retryNonce, err = b.nonces.NextNonce(base, b.chainID, b.signer.Address())
		if err != nil {
			t.state = StateFailed
			return nil, err
		}
	}

	metrics.Global.RecordConflictRetry()
	t.state = StateSent
	signedTx, err = b.send(base, t.req, retryNonce, evmChainID)
	if err != nil {
		// Second failure of any kind is terminal.
		t.state = StateFailed
		return nil, b.terminal(err)
	}

	return b.finish(t, signedTx, retryNonce, explicit, true)
}

// send builds, signs, and submits the transaction at the given nonce, with
// the per-send timeout applied.
func (b *Broadcaster) send(ctx context.Context, req *Request, n uint64, evmChainID *big.Int) (*types.Transaction, error) {
	signedTx, err := b.signer.SignTx(buildTx(req, n, evmChainID), evmChainID)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	if err := b.client.SendTransaction(sendCtx, signedTx); err != nil {
		return nil, err
	}
	return signedTx, nil
}

// finish commits the nonce (when it was allocated) and assembles the result.
func (b *Broadcaster) finish(t *task, signedTx *types.Transaction, n uint64, explicit, retried bool) (*Result, error) {
	if !explicit {
		if err := b.nonces.Commit(b.chainID, b.signer.Address(), n); err != nil {
			// The transaction is already on the wire; failing the caller now
			// would misreport a send that happened. Surface loudly instead.
			b.log.Error().Err(err).Uint64("nonce", n).
				Msg("commit failed after successful send")
		}
	}

	t.state = StateCommitted
	b.log.Debug().
		Uint64("nonce", n).
		Str("tx_hash", signedTx.Hash().Hex()).
		Bool("retried", retried).
		Dur("queued_for", time.Since(t.enqueuedAt)).
		Msg("transaction broadcast")

	return &Result{
		Tx:      signedTx,
		Hash:    signedTx.Hash(),
		Nonce:   n,
		Retried: retried,
	}, nil
}

// terminal maps a failed send into the caller-facing error. Everything
// propagates verbatim except a timed-out send, which is named so callers can
// distinguish a stalled node from a rejection.
func (b *Broadcaster) terminal(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return txgerr.WithCause(txgerr.ErrSendTimeout, err)
	}
	return err
}

// RevertReason re-executes the request as a read-only call at the given
// block to recover the contract's revert string. Best effort: it returns ""
// when the reason cannot be determined and never affects nonce state.
func (b *Broadcaster) RevertReason(ctx context.Context, req *Request, blockNumber *big.Int) string {
	msg := chain.CallMsg{
		From:  b.signer.Address(),
		To:    req.To,
		Gas:   req.GasLimit,
		Value: req.Value,
		Data:  req.Data,
	}

	data, err := b.client.CallContract(ctx, msg, blockNumber)
	if err != nil {
		// Some nodes return the revert encoding in the error itself; there
		// is nothing structured to decode here.
		return ""
	}

	return eth.DecodeRevertReason(data)
}

// buildTx assembles an unsigned transaction at the given nonce. A set
// GasFeeCap selects EIP-1559 pricing; otherwise a legacy transaction is
// built.
func buildTx(req *Request, n uint64, evmChainID *big.Int) *types.Transaction {
	if req.GasFeeCap != nil {
		tip := req.GasTipCap
		if tip == nil {
			tip = req.GasFeeCap
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   evmChainID,
			Nonce:     n,
			To:        req.To,
			Value:     req.Value,
			Gas:       req.GasLimit,
			GasFeeCap: req.GasFeeCap,
			GasTipCap: tip,
			Data:      req.Data,
		})
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    n,
		To:       req.To,
		Value:    req.Value,
		Gas:      req.GasLimit,
		GasPrice: req.GasPrice,
		Data:     req.Data,
	})
}
