package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"VeilPerp/internal/engine"
	"VeilPerp/internal/observability"
)

// Processor is the ingestion shell: it drains raw commands, parses and
// validates them, and drives the orchestrator. Engine rejections are
// conclusive and ACK the message; only delivery-level failures NAK for
// redelivery.
type Processor struct {
	eng     *engine.Engine
	input   <-chan RawCommand
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewProcessor(eng *engine.Engine, input <-chan RawCommand, logger zerolog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		eng:     eng,
		input:   input,
		logger:  logger,
		metrics: metrics,
	}
}

// Run processes commands until the context ends or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-p.input:
			if !ok {
				return nil
			}
			p.process(ctx, raw)
		}
	}
}

func (p *Processor) process(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		p.logger.Warn().
			Str("subject", raw.Subject).
			Err(err).
			Msg("unparseable command dropped")
		p.count(raw.Kind, "unparseable")
		raw.AckFunc()
		return
	}

	err = p.dispatch(ctx, cmd)
	if err != nil {
		p.logger.Info().
			Str("kind", cmd.Kind).
			Err(err).
			Msg("command rejected")
		p.count(cmd.Kind, "rejected")
		raw.AckFunc()
		return
	}

	p.count(cmd.Kind, "accepted")
	raw.AckFunc()
}

func (p *Processor) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CommandOpen:
		_, err := p.eng.OpenPosition(ctx, engine.OpenParams{
			Owner:            cmd.Open.Owner,
			Custody:          cmd.Open.Custody,
			CollateralAmount: cmd.Open.CollateralAmount,
			Input:            cmd.Open.Input,
			Nonce:            cmd.Open.Nonce,
		})
		return err
	case CommandUpdate:
		_, err := p.eng.UpdateCollateral(ctx, cmd.Update.Caller, cmd.Update.Position, cmd.Update.Amount, cmd.Update.IsAdd)
		return err
	case CommandClose:
		_, err := p.eng.ClosePosition(ctx, cmd.Close.Caller, cmd.Close.Position)
		return err
	case CommandLiquidate:
		_, err := p.eng.Liquidate(ctx, cmd.Liquidate.Liquidator, cmd.Liquidate.Position)
		return err
	case CommandPnL:
		_, err := p.eng.CalculatePnL(ctx, cmd.PnL.Caller, cmd.PnL.Position)
		return err
	case CommandAddLiquidity:
		_, err := p.eng.AddLiquidity(ctx, cmd.AddLiquidity.Provider, cmd.AddLiquidity.Custody, cmd.AddLiquidity.Amount, cmd.AddLiquidity.Minimum)
		return err
	case CommandRemoveLiquidity:
		_, err := p.eng.RemoveLiquidity(ctx, cmd.RemoveLiquidity.Provider, cmd.RemoveLiquidity.Custody, cmd.RemoveLiquidity.Amount, cmd.RemoveLiquidity.Minimum)
		return err
	}
	return nil
}

func (p *Processor) count(kind, status string) {
	if p.metrics != nil {
		p.metrics.CommandsReceived.WithLabelValues(kind, status).Inc()
	}
}
