package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VeilPerp/internal/custody"
	"VeilPerp/internal/event"
	"VeilPerp/internal/mpc"
	"VeilPerp/internal/observability"
	"VeilPerp/internal/oracle"
	"VeilPerp/internal/state"
)

// Permissions gates operations globally. All true in normal operation;
// flipped off one by one to wind a market down.
type Permissions struct {
	AllowOpen                 bool
	AllowClose                bool
	AllowCollateralWithdrawal bool
	AllowLiquidation          bool
	AllowAddLiquidity         bool
	AllowRemoveLiquidity      bool
}

// AllowAll returns fully open permissions.
func AllowAll() Permissions {
	return Permissions{
		AllowOpen:                 true,
		AllowClose:                true,
		AllowCollateralWithdrawal: true,
		AllowLiquidation:          true,
		AllowAddLiquidity:         true,
		AllowRemoveLiquidity:      true,
	}
}

// pending is one in-flight computation: everything the callback needs to
// settle that the result envelope does not carry.
type pending struct {
	circuit    mpc.CircuitID
	position   mpc.PositionKey
	owner      uuid.UUID
	custody    string
	amount     uint64 // tokens moved or requested at submit
	isAdd      bool
	liquidator uuid.UUID
}

// Config wires an Engine. Metrics may be nil.
type Config struct {
	Book        *state.Book
	Pool        *custody.Pool
	Feed        oracle.Feed
	Bank        Bank
	Audit       event.AuditLog
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	Permissions Permissions
}

// Engine is the orchestrator: it validates requests against plaintext
// state, moves the plaintext transfer legs, submits circuits to the
// compute cluster, and settles state from callbacks. One mutex covers
// the book, the custody accounting and the pending table; every
// operation commits or unwinds atomically under it.
type Engine struct {
	book    *state.Book
	pool    *custody.Pool
	cluster mpc.Cluster
	feed    oracle.Feed
	bank    Bank
	audit   event.AuditLog
	logger  zerolog.Logger
	metrics *observability.Metrics
	perms   Permissions

	mu      sync.Mutex
	seq     int64
	pending map[uuid.UUID]pending

	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	audit := cfg.Audit
	if audit == nil {
		audit = event.NewMemoryAuditLog()
	}
	return &Engine{
		book:    cfg.Book,
		pool:    cfg.Pool,
		feed:    cfg.Feed,
		bank:    cfg.Bank,
		audit:   audit,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		perms:   cfg.Permissions,
		pending: make(map[uuid.UUID]pending),
		now:     time.Now,
	}
}

// SetCluster attaches the compute cluster. Must be called before the
// first submit; split from NewEngine because the cluster's handler is
// the engine's own callback.
func (e *Engine) SetCluster(c mpc.Cluster) {
	e.cluster = c
}

// Handler adapts HandleResult to the cluster callback signature.
// Rejected callbacks are logged, not propagated: the cluster does not
// care why a result was discarded.
func (e *Engine) Handler() mpc.Handler {
	return func(ctx context.Context, res mpc.Result) {
		if err := e.HandleResult(ctx, res); err != nil {
			e.logger.Warn().
				Str("request_id", res.RequestID.String()).
				Str("circuit", string(res.Circuit)).
				Err(err).
				Msg("callback not applied")
		}
	}
}

// ResumeSequence sets the audit sequence counter. Called once at startup
// with the highest persisted sequence, before any submits.
func (e *Engine) ResumeSequence(seq int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if seq > e.seq {
		e.seq = seq
	}
}

// PendingCount returns the number of in-flight computations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.pending)
}

// transition moves a record's status, panicking on an invalid edge. An
// invalid transition here means the orchestrator's own guards failed.
func (e *Engine) transition(rec *state.PositionRecord, next state.Status) {
	if !rec.Status.CanTransitionTo(next) {
		panic(fmt.Sprintf("invalid position transition %s -> %s at %x", rec.Status, next, rec.Key[:4]))
	}
	rec.Status = next
	rec.UpdateTime = e.now()
}

// appendAudit assigns the next sequence and writes the envelope. Called
// with e.mu held. A failing sink is logged, never blocks a settlement.
func (e *Engine) appendAudit(ctx context.Context, pool, custodyName string, payload event.Event) {
	e.seq++
	env := event.Envelope{
		Sequence:  e.seq,
		EventType: payload.EventType(),
		Position:  payload.PositionKey(),
		Pool:      pool,
		Custody:   custodyName,
		Timestamp: e.now(),
		Payload:   payload,
	}
	if err := e.audit.Append(ctx, env); err != nil {
		e.logger.Error().
			Int64("sequence", env.Sequence).
			Str("event_type", env.EventType.String()).
			Err(err).
			Msg("audit append failed")
	}
	if e.metrics != nil {
		e.metrics.AuditSequence.Set(float64(e.seq))
	}
}

// rejectSubmit counts a submit-side rejection.
func (e *Engine) rejectSubmit(circuit mpc.CircuitID, reason string) {
	if e.metrics != nil {
		e.metrics.RequestsRejected.WithLabelValues(string(circuit), reason).Inc()
	}
}

// AddLiquidity deposits provider tokens into a custody and mints shares.
func (e *Engine) AddLiquidity(ctx context.Context, provider uuid.UUID, custodyName string, amount, minShares uint64) (uint64, error) {
	if !e.perms.AllowAddLiquidity {
		return 0, ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.bank.TransferIn(ctx, provider, custodyName, amount); err != nil {
		return 0, err
	}
	shares, err := e.pool.AddLiquidity(custodyName, amount, minShares)
	if err != nil {
		if berr := e.bank.TransferOut(ctx, provider, custodyName, amount); berr != nil {
			e.logger.Error().Err(berr).Msg("liquidity deposit refund failed")
		}
		return 0, err
	}

	e.appendAudit(ctx, e.pool.Name, custodyName, &event.LiquidityAdded{
		Provider: provider,
		Pool:     e.pool.Name,
		Custody:  custodyName,
		Amount:   amount,
		Shares:   shares,
	})
	return shares, nil
}

// RemoveLiquidity burns provider shares and pays out free liquidity.
func (e *Engine) RemoveLiquidity(ctx context.Context, provider uuid.UUID, custodyName string, shares, minAmount uint64) (uint64, error) {
	if !e.perms.AllowRemoveLiquidity {
		return 0, ErrPermissionDenied
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	amount, err := e.pool.RemoveLiquidity(custodyName, shares, minAmount)
	if err != nil {
		return 0, err
	}
	if err := e.bank.TransferOut(ctx, provider, custodyName, amount); err != nil {
		return 0, err
	}

	e.appendAudit(ctx, e.pool.Name, custodyName, &event.LiquidityRemoved{
		Provider: provider,
		Pool:     e.pool.Name,
		Custody:  custodyName,
		Shares:   shares,
		Amount:   amount,
	})
	return amount, nil
}
