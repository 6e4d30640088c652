package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"VeilPerp/internal/mpc"
)

// Command kinds as they appear on the wire.
const (
	CommandOpen            = "Open"
	CommandUpdate          = "UpdateCollateral"
	CommandClose           = "Close"
	CommandLiquidate       = "Liquidate"
	CommandPnL             = "CalculatePnL"
	CommandAddLiquidity    = "AddLiquidity"
	CommandRemoveLiquidity = "RemoveLiquidity"
)

// Command is a validated, typed command ready for the orchestrator.
// Exactly one of the pointer fields is set, matching Kind.
type Command struct {
	Kind            string
	Open            *OpenCommand
	Update          *UpdateCommand
	Close           *CloseCommand
	Liquidate       *LiquidateCommand
	PnL             *PnLCommand
	AddLiquidity    *LiquidityCommand
	RemoveLiquidity *LiquidityCommand
}

// OpenCommand opens a position: a plaintext deposit plus sealed trade
// parameters bound to the given record nonce.
type OpenCommand struct {
	Owner            uuid.UUID
	Custody          string
	CollateralAmount uint64
	Nonce            uint64
	Input            mpc.SealedInput
}

// UpdateCommand adds or removes position collateral.
type UpdateCommand struct {
	Caller   uuid.UUID
	Position mpc.PositionKey
	Amount   uint64
	IsAdd    bool
}

// CloseCommand closes a position at the current oracle price.
type CloseCommand struct {
	Caller   uuid.UUID
	Position mpc.PositionKey
}

// LiquidateCommand requests a liquidation check on any position.
type LiquidateCommand struct {
	Liquidator uuid.UUID
	Position   mpc.PositionKey
}

// PnLCommand requests a view-only PnL reveal.
type PnLCommand struct {
	Caller   uuid.UUID
	Position mpc.PositionKey
}

// LiquidityCommand adds or removes pool liquidity.
type LiquidityCommand struct {
	Provider uuid.UUID
	Custody  string
	Amount   uint64 // deposit for add, shares for remove
	Minimum  uint64 // min shares for add, min amount for remove
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Sealed slots
// and position keys travel as hex strings via the mpc types' JSON codecs.

type openJSON struct {
	Owner            string           `json:"owner"`
	Custody          string           `json:"custody"`
	CollateralAmount uint64           `json:"collateral_amount"`
	Nonce            uint64           `json:"nonce"`
	Input            *mpc.SealedInput `json:"input"`
}

type updateJSON struct {
	Caller   string           `json:"caller"`
	Position *mpc.PositionKey `json:"position"`
	Amount   uint64           `json:"amount"`
	IsAdd    bool             `json:"is_add"`
}

type positionCallJSON struct {
	Caller   string           `json:"caller"`
	Position *mpc.PositionKey `json:"position"`
}

type liquidityJSON struct {
	Provider string `json:"provider"`
	Custody  string `json:"custody"`
	Amount   uint64 `json:"amount"`
	Minimum  uint64 `json:"minimum"`
}

// ParseCommand converts a raw NATS command into its typed form.
func ParseCommand(raw RawCommand) (Command, error) {
	switch raw.Kind {
	case CommandOpen:
		cmd, err := parseOpen(raw.Data)
		return Command{Kind: raw.Kind, Open: cmd}, err
	case CommandUpdate:
		cmd, err := parseUpdate(raw.Data)
		return Command{Kind: raw.Kind, Update: cmd}, err
	case CommandClose:
		cmd, err := parseClose(raw.Data)
		return Command{Kind: raw.Kind, Close: cmd}, err
	case CommandLiquidate:
		cmd, err := parseLiquidate(raw.Data)
		return Command{Kind: raw.Kind, Liquidate: cmd}, err
	case CommandPnL:
		cmd, err := parsePnL(raw.Data)
		return Command{Kind: raw.Kind, PnL: cmd}, err
	case CommandAddLiquidity:
		cmd, err := parseLiquidity(raw.Data, "AddLiquidity")
		return Command{Kind: raw.Kind, AddLiquidity: cmd}, err
	case CommandRemoveLiquidity:
		cmd, err := parseLiquidity(raw.Data, "RemoveLiquidity")
		return Command{Kind: raw.Kind, RemoveLiquidity: cmd}, err
	default:
		return Command{}, fmt.Errorf("unknown command kind: %s", raw.Kind)
	}
}

func parseOpen(data []byte) (*OpenCommand, error) {
	var j openJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Open: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	if j.Custody == "" {
		return nil, fmt.Errorf("parse Open: empty custody")
	}
	if j.Input == nil {
		return nil, fmt.Errorf("parse Open: missing sealed input")
	}
	return &OpenCommand{
		Owner:            owner,
		Custody:          j.Custody,
		CollateralAmount: j.CollateralAmount,
		Nonce:            j.Nonce,
		Input:            *j.Input,
	}, nil
}

func parseUpdate(data []byte) (*UpdateCommand, error) {
	var j updateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdateCollateral: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	if j.Position == nil {
		return nil, fmt.Errorf("parse UpdateCollateral: missing position")
	}
	return &UpdateCommand{
		Caller:   caller,
		Position: *j.Position,
		Amount:   j.Amount,
		IsAdd:    j.IsAdd,
	}, nil
}

func parseClose(data []byte) (*CloseCommand, error) {
	caller, position, err := parsePositionCall(data, "Close")
	if err != nil {
		return nil, err
	}
	return &CloseCommand{Caller: caller, Position: position}, nil
}

func parseLiquidate(data []byte) (*LiquidateCommand, error) {
	caller, position, err := parsePositionCall(data, "Liquidate")
	if err != nil {
		return nil, err
	}
	return &LiquidateCommand{Liquidator: caller, Position: position}, nil
}

func parsePnL(data []byte) (*PnLCommand, error) {
	caller, position, err := parsePositionCall(data, "CalculatePnL")
	if err != nil {
		return nil, err
	}
	return &PnLCommand{Caller: caller, Position: position}, nil
}

func parsePositionCall(data []byte, what string) (uuid.UUID, mpc.PositionKey, error) {
	var j positionCallJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return uuid.Nil, mpc.PositionKey{}, fmt.Errorf("parse %s: %w", what, err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return uuid.Nil, mpc.PositionKey{}, fmt.Errorf("parse caller: %w", err)
	}
	if j.Position == nil {
		return uuid.Nil, mpc.PositionKey{}, fmt.Errorf("parse %s: missing position", what)
	}
	return caller, *j.Position, nil
}

func parseLiquidity(data []byte, what string) (*LiquidityCommand, error) {
	var j liquidityJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", what, err)
	}
	provider, err := uuid.Parse(j.Provider)
	if err != nil {
		return nil, fmt.Errorf("parse provider: %w", err)
	}
	if j.Custody == "" {
		return nil, fmt.Errorf("parse %s: empty custody", what)
	}
	return &LiquidityCommand{
		Provider: provider,
		Custody:  j.Custody,
		Amount:   j.Amount,
		Minimum:  j.Minimum,
	}, nil
}
