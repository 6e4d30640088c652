package mpc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VeilPerp/internal/circuit"
)

func runOne(t *testing.T, codec *Codec, req Request) Result {
	t.Helper()

	results := make(chan Result, 1)
	lc := NewLocalCluster(codec, 2, func(_ context.Context, res Result) {
		results <- res
	}, zerolog.Nop())
	defer lc.Close()

	if err := lc.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no result within 5s")
		return Result{}
	}
}

func TestLocalClusterInitPosition(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, KeySize)
	codec, _ := NewCodec(key)

	nonce := uint64(1000)
	input := codec.SealInput(circuit.OpenInput{
		Side:       circuit.SideLong,
		SizeUSD:    10_000_000000,
		Collateral: 2_000000,
	}, nonce)

	res := runOne(t, codec, Request{
		ID:       uuid.New(),
		Circuit:  CircuitInitPosition,
		Nonce:    nonce,
		Input:    &input,
		Params:   Params{Price: 100_000000},
	})

	if res.Aborted {
		t.Fatal("unexpected abort")
	}
	if res.Status != circuit.StatusOK {
		t.Fatalf("status = %d, want 0", res.Status)
	}
	if res.NewRecord == nil || res.NewNonce != nonce+1 {
		t.Fatal("init must produce a resealed record at nonce+1")
	}

	state, err := codec.Open(*res.NewRecord, res.NewNonce)
	if err != nil {
		t.Fatalf("open new record: %v", err)
	}
	if state.EntryPrice != 100_000000 {
		t.Errorf("entry price = %d, want oracle price", state.EntryPrice)
	}
	if state.Leverage != 500_000 {
		t.Errorf("leverage = %d, want 500_000", state.Leverage)
	}
}

func TestLocalClusterUpdateAndPnL(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, KeySize)
	codec, _ := NewCodec(key)

	state := circuit.PositionState{
		Side:       circuit.SideShort,
		SizeUSD:    10_000_000000,
		Collateral: 30_000000,
		EntryPrice: 100_000000,
		Leverage:   33_333,
	}
	nonce := uint64(500)
	rec := codec.Seal(state, nonce)

	update := runOne(t, codec, Request{
		ID:      uuid.New(),
		Circuit: CircuitUpdateCollateral,
		Nonce:   nonce,
		Record:  rec,
		Params:  Params{Amount: 10_000000, IsAdd: true, MaxLeverage: 500_000},
	})
	if update.Aborted || update.Status != circuit.StatusOK {
		t.Fatalf("update failed: aborted=%v status=%d", update.Aborted, update.Status)
	}
	next, err := codec.Open(*update.NewRecord, update.NewNonce)
	if err != nil {
		t.Fatalf("open updated record: %v", err)
	}
	if next.Collateral != 40_000000 {
		t.Errorf("collateral = %d, want 40_000000", next.Collateral)
	}

	pnl := runOne(t, codec, Request{
		ID:      uuid.New(),
		Circuit: CircuitCalculatePnL,
		Nonce:   update.NewNonce,
		Record:  *update.NewRecord,
		Params:  Params{Price: 120_000000},
	})
	if pnl.Aborted {
		t.Fatal("unexpected abort")
	}
	if pnl.NewRecord != nil {
		t.Error("view-only circuit must not reseal the record")
	}
	if pnl.LossUSD != 2_000_000000 {
		t.Errorf("loss = %d, want 2_000_000000", pnl.LossUSD)
	}
}

func TestLocalClusterAbortsOnBadNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, KeySize)
	codec, _ := NewCodec(key)

	rec := codec.Seal(circuit.PositionState{Side: circuit.SideLong, SizeUSD: 1, Collateral: 1, EntryPrice: 1}, 7)

	// Request bound to the wrong nonce: the record will not open.
	res := runOne(t, codec, Request{
		ID:      uuid.New(),
		Circuit: CircuitClosePosition,
		Nonce:   8,
		Record:  rec,
		Params:  Params{Price: 1},
	})
	if !res.Aborted {
		t.Error("unopenable record must abort, not return values")
	}
}

func TestLocalClusterFullQueueRejects(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, KeySize)
	codec, _ := NewCodec(key)

	release := make(chan struct{})
	lc := NewLocalCluster(codec, 1, func(context.Context, Result) {
		<-release
	}, zerolog.Nop())
	defer func() {
		close(release)
		lc.Close()
	}()

	// The first request parks the worker in its handler and the rest fill
	// the buffer. Every submission must still return promptly: a full
	// queue is ErrClusterBusy, never a blocked send.
	busy := 0
	for i := 0; i < 200; i++ {
		switch err := lc.Submit(context.Background(), Request{ID: uuid.New(), Circuit: CircuitCalculatePnL}); err {
		case nil:
		case ErrClusterBusy:
			busy++
		default:
			t.Fatalf("Submit: %v", err)
		}
	}
	if busy == 0 {
		t.Fatal("queue never reported full after 200 submissions")
	}
}

func TestLocalClusterSubmitAfterClose(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, KeySize)
	codec, _ := NewCodec(key)

	lc := NewLocalCluster(codec, 1, func(context.Context, Result) {}, zerolog.Nop())
	lc.Close()

	if err := lc.Submit(context.Background(), Request{ID: uuid.New()}); err != ErrClusterClosed {
		t.Errorf("Submit after Close = %v, want ErrClusterClosed", err)
	}
}
