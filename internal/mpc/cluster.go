package mpc

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"VeilPerp/internal/circuit"
)

// Handler receives completed computation results. Called from cluster
// worker goroutines; implementations must be safe for concurrent use.
type Handler func(ctx context.Context, res Result)

// Cluster accepts confidential computation requests. Submission and result
// delivery are decoupled: Submit returns once the request is queued, the
// result arrives later through the Handler. Every accepted request
// eventually resolves to exactly one result, success or abort.
type Cluster interface {
	Submit(ctx context.Context, req Request) error
}

var (
	ErrClusterClosed = errors.New("compute cluster closed")
	ErrClusterBusy   = errors.New("compute cluster queue full")
)

// LocalCluster executes circuits in-process on a worker pool. It stands in
// for a remote confidential cluster in tests and single-node deploys; the
// async submit/callback contract is identical.
type LocalCluster struct {
	codec   *Codec
	handler Handler
	logger  zerolog.Logger

	queue chan Request
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewLocalCluster(codec *Codec, workers int, handler Handler, logger zerolog.Logger) *LocalCluster {
	if workers <= 0 {
		workers = 1
	}
	lc := &LocalCluster{
		codec:   codec,
		handler: handler,
		logger:  logger,
		queue:   make(chan Request, 64),
	}
	lc.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go lc.worker()
	}
	return lc
}

// Submit queues a request for execution. The send never blocks: callers
// submit while holding ledger state that result delivery re-enters, so a
// submitter parked on a full queue could never be drained. A full queue
// is ErrClusterBusy, which the caller unwinds like any other refusal.
func (lc *LocalCluster) Submit(_ context.Context, req Request) error {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return ErrClusterClosed
	}
	lc.mu.Unlock()

	select {
	case lc.queue <- req:
		return nil
	default:
		return ErrClusterBusy
	}
}

// Close stops accepting requests, drains the queue and waits for workers.
func (lc *LocalCluster) Close() {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return
	}
	lc.closed = true
	lc.mu.Unlock()

	close(lc.queue)
	lc.wg.Wait()
}

func (lc *LocalCluster) worker() {
	defer lc.wg.Done()
	for req := range lc.queue {
		res := lc.execute(req)
		lc.handler(context.Background(), res)
	}
}

// execute runs one circuit. A record or input that fails to open aborts
// the computation; the ledger decides what an abort means.
func (lc *LocalCluster) execute(req Request) Result {
	res := Result{
		RequestID: req.ID,
		Circuit:   req.Circuit,
		Position:  req.Position,
		Nonce:     req.Nonce,
	}

	abort := func(err error) Result {
		lc.logger.Warn().
			Str("request_id", req.ID.String()).
			Str("circuit", string(req.Circuit)).
			Err(err).
			Msg("computation aborted")
		res.Aborted = true
		return res
	}

	switch req.Circuit {
	case CircuitInitPosition:
		if req.Input == nil {
			return abort(errors.New("init request without sealed input"))
		}
		input, err := lc.codec.OpenInput(*req.Input, req.Nonce)
		if err != nil {
			return abort(err)
		}
		status, state := circuit.InitPosition(input, req.Params.Price)
		res.Status = status
		res.CurrentLeverage = state.Leverage
		rec := lc.codec.Seal(state, req.Nonce+1)
		res.NewRecord = &rec
		res.NewNonce = req.Nonce + 1

	case CircuitUpdateCollateral:
		state, err := lc.codec.Open(req.Record, req.Nonce)
		if err != nil {
			return abort(err)
		}
		status, next := circuit.UpdateCollateral(state, req.Params.Amount, req.Params.IsAdd, req.Params.MaxLeverage)
		res.Status = status
		res.CurrentLeverage = next.Leverage
		rec := lc.codec.Seal(next, req.Nonce+1)
		res.NewRecord = &rec
		res.NewNonce = req.Nonce + 1

	case CircuitCheckLiquidation:
		state, err := lc.codec.Open(req.Record, req.Nonce)
		if err != nil {
			return abort(err)
		}
		out := circuit.CheckLiquidation(state, req.Params.Price, req.Params.MaxLeverage, req.Params.FeeBps)
		res.Liquidatable = out.Liquidatable
		res.LiquidatorReward = out.LiquidatorReward
		res.OwnerAmount = out.OwnerAmount

	case CircuitClosePosition:
		state, err := lc.codec.Open(req.Record, req.Nonce)
		if err != nil {
			return abort(err)
		}
		out := circuit.ClosePosition(state, req.Params.Price, req.Params.FeeBps)
		res.ProfitUSD = out.ProfitUSD
		res.LossUSD = out.LossUSD
		res.TransferAmount = out.TransferAmount
		res.FeeAmount = out.FeeAmount

	case CircuitCalculatePnL:
		state, err := lc.codec.Open(req.Record, req.Nonce)
		if err != nil {
			return abort(err)
		}
		out := circuit.CalculatePnL(state, req.Params.Price)
		res.ProfitUSD = out.ProfitUSD
		res.LossUSD = out.LossUSD
		res.CurrentLeverage = out.CurrentLeverage

	default:
		return abort(errors.New("unknown circuit " + string(req.Circuit)))
	}

	return res
}
