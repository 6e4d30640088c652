package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"VeilPerp/internal/custody"
	"VeilPerp/internal/event"
	"VeilPerp/internal/mpc"
	"VeilPerp/internal/state"
)

// OpenParams carries an open request. The sealed input holds side, size
// and collateral; CollateralAmount is the plaintext deposit that backs
// them, and Nonce is the record nonce the input was sealed under.
type OpenParams struct {
	Owner            uuid.UUID
	Custody          string
	CollateralAmount uint64
	Input            mpc.SealedInput
	Nonce            uint64
}

// OpenPosition validates an open, moves the deposit, and submits the
// init circuit. The record is Pending and Busy until the callback lands;
// every plaintext side effect is unwound if submission fails.
func (e *Engine) OpenPosition(ctx context.Context, p OpenParams) (uuid.UUID, error) {
	if !e.perms.AllowOpen {
		e.rejectSubmit(mpc.CircuitInitPosition, "permission")
		return uuid.Nil, ErrPermissionDenied
	}
	if p.CollateralAmount == 0 {
		e.rejectSubmit(mpc.CircuitInitPosition, "zero_deposit")
		return uuid.Nil, fmt.Errorf("open: zero collateral deposit")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.pool.Custody(p.Custody)
	if err != nil {
		e.rejectSubmit(mpc.CircuitInitPosition, "custody")
		return uuid.Nil, err
	}
	price, err := e.feed.GetPrice(c.FeedID)
	if err != nil {
		e.rejectSubmit(mpc.CircuitInitPosition, "oracle")
		return uuid.Nil, err
	}

	key := state.DeriveKey(p.Owner, e.pool.Name, p.Custody)
	now := e.now()
	rec := &state.PositionRecord{
		Key:               key,
		Owner:             p.Owner,
		Pool:              e.pool.Name,
		Custody:           p.Custody,
		CollateralCustody: p.Custody,
		Nonce:             p.Nonce,
		Status:            state.StatusPending,
		Busy:              true,
		LockedCollateral:  p.CollateralAmount,
		OpenTime:          now,
		UpdateTime:        now,
	}
	if err := e.book.Create(rec); err != nil {
		e.rejectSubmit(mpc.CircuitInitPosition, "slot")
		return uuid.Nil, err
	}

	// Plaintext legs commit eagerly; each failure unwinds everything
	// before it.
	if err := c.Lock(p.CollateralAmount); err != nil {
		e.book.Discard(key)
		e.rejectSubmit(mpc.CircuitInitPosition, "lock")
		return uuid.Nil, err
	}
	if err := c.AddCollateral(p.CollateralAmount); err != nil {
		c.Unlock(p.CollateralAmount)
		e.book.Discard(key)
		e.rejectSubmit(mpc.CircuitInitPosition, "collateral")
		return uuid.Nil, err
	}
	if err := e.bank.TransferIn(ctx, p.Owner, p.Custody, p.CollateralAmount); err != nil {
		c.RemoveCollateral(p.CollateralAmount)
		c.Unlock(p.CollateralAmount)
		e.book.Discard(key)
		e.rejectSubmit(mpc.CircuitInitPosition, "funds")
		return uuid.Nil, err
	}

	req := mpc.Request{
		ID:       uuid.New(),
		Circuit:  mpc.CircuitInitPosition,
		Position: key,
		Nonce:    p.Nonce,
		Input:    &p.Input,
		Params:   mpc.Params{Price: price.Value},
	}
	if err := e.cluster.Submit(ctx, req); err != nil {
		if berr := e.bank.TransferOut(ctx, p.Owner, p.Custody, p.CollateralAmount); berr != nil {
			e.logger.Error().Err(berr).Msg("open deposit refund failed")
		}
		c.RemoveCollateral(p.CollateralAmount)
		c.Unlock(p.CollateralAmount)
		e.book.Discard(key)
		e.rejectSubmit(mpc.CircuitInitPosition, "cluster")
		return uuid.Nil, err
	}

	e.track(req.ID, pending{
		circuit:  mpc.CircuitInitPosition,
		position: key,
		owner:    p.Owner,
		custody:  p.Custody,
		amount:   p.CollateralAmount,
	})
	e.appendAudit(ctx, e.pool.Name, p.Custody, &event.OpenRequested{
		RequestID:        req.ID,
		Position:         key.String(),
		Owner:            p.Owner,
		Pool:             e.pool.Name,
		Custody:          p.Custody,
		CollateralAmount: p.CollateralAmount,
	})
	return req.ID, nil
}

// UpdateCollateral submits a collateral add or removal. An add moves the
// deposit eagerly; a removal moves nothing until the circuit approves it.
// The circuit recomputes leverage against the stored entry price, so no
// oracle read happens here.
func (e *Engine) UpdateCollateral(ctx context.Context, caller uuid.UUID, key mpc.PositionKey, amount uint64, isAdd bool) (uuid.UUID, error) {
	if !isAdd && !e.perms.AllowCollateralWithdrawal {
		e.rejectSubmit(mpc.CircuitUpdateCollateral, "permission")
		return uuid.Nil, ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, c, err := e.mutableRecord(caller, key, mpc.CircuitUpdateCollateral)
	if err != nil {
		return uuid.Nil, err
	}

	if isAdd {
		if err := e.bank.TransferIn(ctx, caller, rec.Custody, amount); err != nil {
			e.rejectSubmit(mpc.CircuitUpdateCollateral, "funds")
			return uuid.Nil, err
		}
		if err := c.AddCollateral(amount); err != nil {
			if berr := e.bank.TransferOut(ctx, caller, rec.Custody, amount); berr != nil {
				e.logger.Error().Err(berr).Msg("add collateral refund failed")
			}
			e.rejectSubmit(mpc.CircuitUpdateCollateral, "collateral")
			return uuid.Nil, err
		}
		if err := c.Lock(amount); err != nil {
			c.RemoveCollateral(amount)
			if berr := e.bank.TransferOut(ctx, caller, rec.Custody, amount); berr != nil {
				e.logger.Error().Err(berr).Msg("add collateral refund failed")
			}
			e.rejectSubmit(mpc.CircuitUpdateCollateral, "lock")
			return uuid.Nil, err
		}
		rec.LockedCollateral += amount
	}

	req := mpc.Request{
		ID:       uuid.New(),
		Circuit:  mpc.CircuitUpdateCollateral,
		Position: key,
		Nonce:    rec.Nonce,
		Record:   rec.Sealed,
		Params: mpc.Params{
			Amount:      amount,
			IsAdd:       isAdd,
			MaxLeverage: c.Pricing.MaxLeverage,
		},
	}
	if err := e.submitBusy(ctx, rec, req); err != nil {
		if isAdd {
			c.Unlock(amount)
			c.RemoveCollateral(amount)
			rec.LockedCollateral -= amount
			if berr := e.bank.TransferOut(ctx, caller, rec.Custody, amount); berr != nil {
				e.logger.Error().Err(berr).Msg("add collateral refund failed")
			}
		}
		return uuid.Nil, err
	}

	e.track(req.ID, pending{
		circuit:  mpc.CircuitUpdateCollateral,
		position: key,
		owner:    caller,
		custody:  rec.Custody,
		amount:   amount,
		isAdd:    isAdd,
	})
	e.appendAudit(ctx, rec.Pool, rec.Custody, &event.CollateralUpdateRequested{
		RequestID: req.ID,
		Position:  key.String(),
		Amount:    amount,
		IsAdd:     isAdd,
	})
	return req.ID, nil
}

// ClosePosition submits a close at the current oracle price.
func (e *Engine) ClosePosition(ctx context.Context, caller uuid.UUID, key mpc.PositionKey) (uuid.UUID, error) {
	if !e.perms.AllowClose {
		e.rejectSubmit(mpc.CircuitClosePosition, "permission")
		return uuid.Nil, ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, c, err := e.mutableRecord(caller, key, mpc.CircuitClosePosition)
	if err != nil {
		return uuid.Nil, err
	}
	price, err := e.feed.GetPrice(c.FeedID)
	if err != nil {
		e.rejectSubmit(mpc.CircuitClosePosition, "oracle")
		return uuid.Nil, err
	}

	req := mpc.Request{
		ID:       uuid.New(),
		Circuit:  mpc.CircuitClosePosition,
		Position: key,
		Nonce:    rec.Nonce,
		Record:   rec.Sealed,
		Params: mpc.Params{
			Price:  price.Value,
			FeeBps: c.Fees.CloseBps,
		},
	}
	if err := e.submitBusy(ctx, rec, req); err != nil {
		return uuid.Nil, err
	}

	e.track(req.ID, pending{
		circuit:  mpc.CircuitClosePosition,
		position: key,
		owner:    caller,
		custody:  rec.Custody,
	})
	return req.ID, nil
}

// Liquidate submits a liquidation check on any active position. The
// caller need not own it; the circuit decides whether anything happens.
func (e *Engine) Liquidate(ctx context.Context, liquidator uuid.UUID, key mpc.PositionKey) (uuid.UUID, error) {
	if !e.perms.AllowLiquidation {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "permission")
		return uuid.Nil, ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.book.Get(key)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "missing")
		return uuid.Nil, err
	}
	if rec.Status != state.StatusActive {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "inactive")
		return uuid.Nil, ErrPositionInactive
	}
	if rec.Busy {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "busy")
		return uuid.Nil, ErrPositionBusy
	}
	c, err := e.pool.Custody(rec.Custody)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "custody")
		return uuid.Nil, err
	}
	price, err := e.feed.GetPrice(c.FeedID)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCheckLiquidation, "oracle")
		return uuid.Nil, err
	}

	req := mpc.Request{
		ID:       uuid.New(),
		Circuit:  mpc.CircuitCheckLiquidation,
		Position: key,
		Nonce:    rec.Nonce,
		Record:   rec.Sealed,
		Params: mpc.Params{
			Price:       price.Value,
			MaxLeverage: c.Pricing.MaxLeverage,
			FeeBps:      c.Fees.LiquidationBps,
		},
	}
	if err := e.submitBusy(ctx, rec, req); err != nil {
		return uuid.Nil, err
	}

	e.track(req.ID, pending{
		circuit:    mpc.CircuitCheckLiquidation,
		position:   key,
		owner:      rec.Owner,
		custody:    rec.Custody,
		liquidator: liquidator,
	})
	return req.ID, nil
}

// CalculatePnL submits a view-only PnL computation. It does not mark the
// position busy: nothing about the record changes when the result lands.
func (e *Engine) CalculatePnL(ctx context.Context, caller uuid.UUID, key mpc.PositionKey) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.book.Get(key)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "missing")
		return uuid.Nil, err
	}
	if rec.Owner != caller {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "owner")
		return uuid.Nil, ErrNotOwner
	}
	if rec.Status != state.StatusActive {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "inactive")
		return uuid.Nil, ErrPositionInactive
	}
	c, err := e.pool.Custody(rec.Custody)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "custody")
		return uuid.Nil, err
	}
	price, err := e.feed.GetPrice(c.FeedID)
	if err != nil {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "oracle")
		return uuid.Nil, err
	}

	req := mpc.Request{
		ID:       uuid.New(),
		Circuit:  mpc.CircuitCalculatePnL,
		Position: key,
		Nonce:    rec.Nonce,
		Record:   rec.Sealed,
		Params:   mpc.Params{Price: price.Value},
	}
	if err := e.cluster.Submit(ctx, req); err != nil {
		e.rejectSubmit(mpc.CircuitCalculatePnL, "cluster")
		return uuid.Nil, err
	}

	e.track(req.ID, pending{
		circuit:  mpc.CircuitCalculatePnL,
		position: key,
		owner:    caller,
		custody:  rec.Custody,
	})
	return req.ID, nil
}

// mutableRecord fetches a record for an owner-gated mutating submit.
func (e *Engine) mutableRecord(caller uuid.UUID, key mpc.PositionKey, circuit mpc.CircuitID) (*state.PositionRecord, *custody.Custody, error) {
	rec, err := e.book.Get(key)
	if err != nil {
		e.rejectSubmit(circuit, "missing")
		return nil, nil, err
	}
	if rec.Owner != caller {
		e.rejectSubmit(circuit, "owner")
		return nil, nil, ErrNotOwner
	}
	if rec.Status != state.StatusActive {
		e.rejectSubmit(circuit, "inactive")
		return nil, nil, ErrPositionInactive
	}
	if rec.Busy {
		e.rejectSubmit(circuit, "busy")
		return nil, nil, ErrPositionBusy
	}
	c, err := e.pool.Custody(rec.Custody)
	if err != nil {
		e.rejectSubmit(circuit, "custody")
		return nil, nil, err
	}
	return rec, c, nil
}

// submitBusy marks the record busy and submits, clearing the mark if the
// cluster refuses the request.
func (e *Engine) submitBusy(ctx context.Context, rec *state.PositionRecord, req mpc.Request) error {
	rec.Busy = true
	if err := e.cluster.Submit(ctx, req); err != nil {
		rec.Busy = false
		e.rejectSubmit(req.Circuit, "cluster")
		return err
	}
	return nil
}

// track registers a pending computation and bumps the gauges.
func (e *Engine) track(id uuid.UUID, p pending) {
	e.pending[id] = p
	if e.metrics != nil {
		e.metrics.RequestsSubmitted.WithLabelValues(string(p.circuit)).Inc()
		e.metrics.RequestsInFlight.Set(float64(len(e.pending)))
	}
}
