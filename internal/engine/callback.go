package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"VeilPerp/internal/circuit"
	"VeilPerp/internal/custody"
	"VeilPerp/internal/event"
	"VeilPerp/internal/fixed"
	"VeilPerp/internal/mpc"
	"VeilPerp/internal/state"
)

// HandleResult settles one computation result. The nonce binding is
// checked before anything else: a result computed against a superseded
// record is discarded with the record byte-for-byte untouched, because
// the callback for the current nonce is still in flight.
func (e *Engine) HandleResult(ctx context.Context, res mpc.Result) error {
	start := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pending[res.RequestID]
	if !ok {
		e.rejectCallback(res.Circuit, "unknown")
		return fmt.Errorf("%w: %s", ErrUnknownRequest, res.RequestID)
	}

	rec, err := e.book.Get(p.position)
	if err != nil {
		panic(fmt.Sprintf("pending request %s for missing position %s", res.RequestID, p.position))
	}

	// A mutating result bound to the wrong nonce is discarded without
	// consuming the pending entry: the result for the record's actual
	// nonce is still owed, and the record must stay exactly as it is.
	// A view-only result computed against a since-resealed record gets
	// no second delivery, so its entry is consumed here or leaks.
	if res.Nonce != rec.Nonce {
		e.rejectCallback(res.Circuit, "nonce")
		if p.circuit == mpc.CircuitCalculatePnL {
			delete(e.pending, res.RequestID)
			if e.metrics != nil {
				e.metrics.RequestsInFlight.Set(float64(len(e.pending)))
			}
		}
		return fmt.Errorf("%w: result %d, record %d", ErrNonceMismatch, res.Nonce, rec.Nonce)
	}

	delete(e.pending, res.RequestID)
	if e.metrics != nil {
		e.metrics.RequestsInFlight.Set(float64(len(e.pending)))
	}

	if res.Aborted {
		return e.applyAbort(ctx, p, rec, res)
	}

	switch p.circuit {
	case mpc.CircuitInitPosition:
		err = e.applyInit(ctx, p, rec, res)
	case mpc.CircuitUpdateCollateral:
		err = e.applyUpdate(ctx, p, rec, res)
	case mpc.CircuitClosePosition:
		err = e.applyClose(ctx, p, rec, res)
	case mpc.CircuitCheckLiquidation:
		err = e.applyLiquidate(ctx, p, rec, res)
	case mpc.CircuitCalculatePnL:
		err = e.applyPnL(ctx, p, rec, res)
	default:
		panic(fmt.Sprintf("pending request %s with unknown circuit %s", res.RequestID, p.circuit))
	}

	if e.metrics != nil {
		e.metrics.CallbackDuration.WithLabelValues(string(p.circuit)).Observe(e.now().Sub(start).Seconds())
		e.metrics.PositionsActive.Set(float64(e.book.ActiveCount()))
	}
	return err
}

// applyAbort resolves a computation the cluster could not finish. An
// aborted init is settled like a rejected one: the deposit goes back and
// the slot closes. Aborted mutating circuits just release the busy mark;
// a view-only PnL holds no mark to release.
func (e *Engine) applyAbort(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	if e.metrics != nil {
		e.metrics.CallbacksAborted.WithLabelValues(string(p.circuit)).Inc()
	}

	switch p.circuit {
	case mpc.CircuitInitPosition:
		e.refundAndClose(ctx, p, rec, res.RequestID)
	case mpc.CircuitUpdateCollateral, mpc.CircuitClosePosition, mpc.CircuitCheckLiquidation:
		rec.Busy = false
		if p.circuit == mpc.CircuitUpdateCollateral && p.isAdd {
			e.unwindAdd(ctx, p, rec)
		}
	}
	return ErrComputationAborted
}

// applyInit activates the position or refunds a rejected open.
func (e *Engine) applyInit(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	if res.Status != circuit.StatusOK {
		e.refundAndClose(ctx, p, rec, res.RequestID)
		e.rejectCallback(p.circuit, "status")
		return fmt.Errorf("%w: status %d", ErrOpenRejected, res.Status)
	}
	if res.NewRecord == nil {
		panic(fmt.Sprintf("init result %s without resealed record", res.RequestID))
	}

	rec.Sealed = *res.NewRecord
	rec.Nonce = res.NewNonce
	rec.Busy = false
	e.transition(rec, state.StatusActive)

	c := e.mustCustody(p.custody)
	c.RecordOpen(p.amount, 0)

	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PositionOpened{
		RequestID:        res.RequestID,
		Position:         rec.Key.String(),
		Owner:            rec.Owner,
		Pool:             rec.Pool,
		Custody:          rec.Custody,
		CollateralAmount: p.amount,
	})
	if e.metrics != nil {
		e.metrics.CallbacksApplied.WithLabelValues(string(p.circuit)).Inc()
		e.metrics.PositionsOpened.Inc()
	}
	return nil
}

// applyUpdate commits a collateral change. A removal pays out only now,
// after the circuit has proven the remaining collateral supports it.
func (e *Engine) applyUpdate(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	if res.Status != circuit.StatusOK {
		rec.Busy = false
		if p.isAdd {
			e.unwindAdd(ctx, p, rec)
		}
		e.rejectCallback(p.circuit, "status")
		return fmt.Errorf("%w: status %d", ErrUpdateRejected, res.Status)
	}
	if res.NewRecord == nil {
		panic(fmt.Sprintf("update result %s without resealed record", res.RequestID))
	}

	if !p.isAdd {
		if err := e.bank.TransferOut(ctx, p.owner, rec.Custody, p.amount); err != nil {
			rec.Busy = false
			e.rejectCallback(p.circuit, "payout")
			return err
		}
		c := e.mustCustody(p.custody)
		c.RemoveCollateral(p.amount)
		c.Unlock(p.amount)
		rec.LockedCollateral = fixed.SubFloor(rec.LockedCollateral, p.amount)
	}

	rec.Sealed = *res.NewRecord
	rec.Nonce = res.NewNonce
	rec.Busy = false
	e.transition(rec, state.StatusActive)

	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PositionUpdated{
		RequestID: res.RequestID,
		Position:  rec.Key.String(),
		Amount:    p.amount,
		IsAdd:     p.isAdd,
	})
	if e.metrics != nil {
		e.metrics.CallbacksApplied.WithLabelValues(string(p.circuit)).Inc()
	}
	return nil
}

// applyClose settles a close from the revealed scalars. The payout leg
// runs first: if it fails the position stays active and closable again.
func (e *Engine) applyClose(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	if res.TransferAmount > 0 {
		if err := e.bank.TransferOut(ctx, p.owner, rec.Custody, res.TransferAmount); err != nil {
			rec.Busy = false
			e.rejectCallback(p.circuit, "payout")
			return err
		}
	}

	c := e.mustCustody(p.custody)
	c.CollectFee(res.FeeAmount)
	c.Unlock(rec.LockedCollateral)
	c.RemoveCollateral(rec.LockedCollateral)
	c.RecordClose(res.TransferAmount, res.FeeAmount, res.ProfitUSD, res.LossUSD)

	rec.LockedCollateral = 0
	rec.Busy = false
	e.transition(rec, state.StatusClosed)

	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PositionClosed{
		RequestID:      res.RequestID,
		Position:       rec.Key.String(),
		Owner:          rec.Owner,
		ProfitUSD:      res.ProfitUSD,
		LossUSD:        res.LossUSD,
		TransferAmount: res.TransferAmount,
		FeeAmount:      res.FeeAmount,
		Reason:         "closed",
	})
	if e.metrics != nil {
		e.metrics.CallbacksApplied.WithLabelValues(string(p.circuit)).Inc()
		e.metrics.PositionsClosed.WithLabelValues("closed").Inc()
	}
	return nil
}

// applyLiquidate settles a liquidation split, or releases the position
// if the circuit found it healthy.
func (e *Engine) applyLiquidate(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	if !res.Liquidatable {
		rec.Busy = false
		e.rejectCallback(p.circuit, "healthy")
		return ErrNotLiquidatable
	}

	if res.LiquidatorReward > 0 {
		if err := e.bank.TransferOut(ctx, p.liquidator, rec.Custody, res.LiquidatorReward); err != nil {
			rec.Busy = false
			e.rejectCallback(p.circuit, "payout")
			return err
		}
	}
	if res.OwnerAmount > 0 {
		if err := e.bank.TransferOut(ctx, p.owner, rec.Custody, res.OwnerAmount); err != nil {
			rec.Busy = false
			e.rejectCallback(p.circuit, "payout")
			return err
		}
	}

	c := e.mustCustody(p.custody)
	c.Unlock(rec.LockedCollateral)
	c.RemoveCollateral(rec.LockedCollateral)
	c.RecordLiquidation(res.LiquidatorReward, res.OwnerAmount)

	rec.LockedCollateral = 0
	rec.Busy = false
	e.transition(rec, state.StatusLiquidated)

	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PositionLiquidated{
		RequestID:        res.RequestID,
		Position:         rec.Key.String(),
		Owner:            rec.Owner,
		Liquidator:       p.liquidator,
		LiquidatorReward: res.LiquidatorReward,
		OwnerAmount:      res.OwnerAmount,
	})
	if e.metrics != nil {
		e.metrics.CallbacksApplied.WithLabelValues(string(p.circuit)).Inc()
		e.metrics.PositionsLiquidated.Inc()
	}
	return nil
}

// applyPnL records the revealed figures. The record never changes.
func (e *Engine) applyPnL(ctx context.Context, p pending, rec *state.PositionRecord, res mpc.Result) error {
	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PnLCalculated{
		RequestID:       res.RequestID,
		Position:        rec.Key.String(),
		ProfitUSD:       res.ProfitUSD,
		LossUSD:         res.LossUSD,
		CurrentLeverage: res.CurrentLeverage,
	})
	if e.metrics != nil {
		e.metrics.CallbacksApplied.WithLabelValues(string(p.circuit)).Inc()
	}
	return nil
}

// refundAndClose unwinds a Pending open whose init did not commit: the
// deposit goes back to the owner and the slot closes.
func (e *Engine) refundAndClose(ctx context.Context, p pending, rec *state.PositionRecord, requestID uuid.UUID) {
	if err := e.bank.TransferOut(ctx, p.owner, rec.Custody, p.amount); err != nil {
		e.logger.Error().Err(err).Msg("open refund failed")
	}
	c := e.mustCustody(p.custody)
	c.RemoveCollateral(p.amount)
	c.Unlock(p.amount)

	rec.LockedCollateral = 0
	rec.Busy = false
	e.transition(rec, state.StatusClosed)

	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.PositionClosed{
		RequestID:      requestID,
		Position:       rec.Key.String(),
		Owner:          rec.Owner,
		TransferAmount: p.amount,
		Reason:         "rejected",
	})
	if e.metrics != nil {
		e.metrics.PositionsClosed.WithLabelValues("rejected").Inc()
	}
}

// unwindAdd reverses the eager deposit of a rejected or aborted add.
func (e *Engine) unwindAdd(ctx context.Context, p pending, rec *state.PositionRecord) {
	if err := e.bank.TransferOut(ctx, p.owner, rec.Custody, p.amount); err != nil {
		e.logger.Error().Err(err).Msg("add collateral refund failed")
	}
	c := e.mustCustody(p.custody)
	c.Unlock(p.amount)
	c.RemoveCollateral(p.amount)
	rec.LockedCollateral = fixed.SubFloor(rec.LockedCollateral, p.amount)
}

// mustCustody resolves a custody a pending request referenced. The
// custody existed at submit; pools never drop custodies.
func (e *Engine) mustCustody(name string) *custody.Custody {
	c, err := e.pool.Custody(name)
	if err != nil {
		panic(fmt.Sprintf("custody %s vanished with requests pending", name))
	}
	return c
}

// rejectCallback counts a discarded callback.
func (e *Engine) rejectCallback(id mpc.CircuitID, reason string) {
	if e.metrics != nil {
		e.metrics.CallbacksRejected.WithLabelValues(string(id), reason).Inc()
	}
}

