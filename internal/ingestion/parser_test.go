package ingestion_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"VeilPerp/internal/ingestion"
	"VeilPerp/internal/mpc"
)

func rawFromJSON(t *testing.T, kind string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Kind:      kind,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOpen(t *testing.T) {
	payload := map[string]interface{}{
		"owner":             "550e8400-e29b-41d4-a716-446655440000",
		"custody":           "USDC",
		"collateral_amount": uint64(1_000000),
		"nonce":             uint64(7),
		"input":             strings.Repeat("ab", 128),
	}

	raw := rawFromJSON(t, ingestion.CommandOpen, payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cmd.Open == nil {
		t.Fatalf("Open command not populated")
	}
	if cmd.Open.Custody != "USDC" {
		t.Errorf("custody: got %s, want USDC", cmd.Open.Custody)
	}
	if cmd.Open.CollateralAmount != 1_000000 {
		t.Errorf("collateral_amount: got %d, want 1000000", cmd.Open.CollateralAmount)
	}
	if cmd.Open.Nonce != 7 {
		t.Errorf("nonce: got %d, want 7", cmd.Open.Nonce)
	}
	if cmd.Open.Input[0][0] != 0xab {
		t.Errorf("input slot 0 byte 0: got %x, want ab", cmd.Open.Input[0][0])
	}
}

func TestParseOpenRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"bad owner", map[string]interface{}{
			"owner":   "not-a-uuid",
			"custody": "USDC",
			"input":   strings.Repeat("ab", 128),
		}},
		{"missing input", map[string]interface{}{
			"owner":   "550e8400-e29b-41d4-a716-446655440000",
			"custody": "USDC",
		}},
		{"short input", map[string]interface{}{
			"owner":   "550e8400-e29b-41d4-a716-446655440000",
			"custody": "USDC",
			"input":   "abcd",
		}},
		{"empty custody", map[string]interface{}{
			"owner": "550e8400-e29b-41d4-a716-446655440000",
			"input": strings.Repeat("ab", 128),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, ingestion.CommandOpen, tc.payload)
			if _, err := ingestion.ParseCommand(raw); err == nil {
				t.Errorf("expected parse error")
			}
		})
	}
}

func TestParseUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"caller":   "660e8400-e29b-41d4-a716-446655440001",
		"position": strings.Repeat("11", 32),
		"amount":   uint64(500000),
		"is_add":   true,
	}

	raw := rawFromJSON(t, ingestion.CommandUpdate, payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if cmd.Update == nil {
		t.Fatalf("Update command not populated")
	}
	if !cmd.Update.IsAdd {
		t.Errorf("is_add not carried")
	}
	if cmd.Update.Amount != 500000 {
		t.Errorf("amount: got %d, want 500000", cmd.Update.Amount)
	}
	want := mpc.PositionKey{}
	for i := range want {
		want[i] = 0x11
	}
	if cmd.Update.Position != want {
		t.Errorf("position key not decoded")
	}
}

func TestParsePositionCalls(t *testing.T) {
	payload := map[string]interface{}{
		"caller":   "660e8400-e29b-41d4-a716-446655440001",
		"position": strings.Repeat("22", 32),
	}

	for _, kind := range []string{ingestion.CommandClose, ingestion.CommandLiquidate, ingestion.CommandPnL} {
		raw := rawFromJSON(t, kind, payload)
		cmd, err := ingestion.ParseCommand(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", kind, err)
		}
		if cmd.Kind != kind {
			t.Errorf("kind: got %s, want %s", cmd.Kind, kind)
		}
	}
}

func TestParseLiquidity(t *testing.T) {
	payload := map[string]interface{}{
		"provider": "770e8400-e29b-41d4-a716-446655440002",
		"custody":  "USDC",
		"amount":   uint64(5_000000),
		"minimum":  uint64(4_900000),
	}

	raw := rawFromJSON(t, ingestion.CommandAddLiquidity, payload)
	cmd, err := ingestion.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.AddLiquidity == nil {
		t.Fatalf("AddLiquidity command not populated")
	}
	if cmd.AddLiquidity.Minimum != 4_900000 {
		t.Errorf("minimum: got %d, want 4900000", cmd.AddLiquidity.Minimum)
	}
}

func TestParseUnknownKind(t *testing.T) {
	raw := rawFromJSON(t, "Nonsense", map[string]interface{}{})
	if _, err := ingestion.ParseCommand(raw); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}
