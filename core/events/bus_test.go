package events

import (
	"math/big"
	"testing"

	"swapcore/core/types"
)

func TestBusDeliversCommittedEntriesOnly(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(PriceInvalidated{Asset: "eth"})
	entry := types.LogEntry{Sequence: 7, Time: 100, Event: PriceInvalidated{Asset: "eth"}.Event()}
	bus.Emit(Committed{Entry: entry})

	select {
	case got := <-ch:
		if got.Sequence != 7 || got.Event.Type != TypePriceInvalidated {
			t.Fatalf("unexpected entry %+v", got)
		}
		if got.Event.Attributes["asset"] != "ETH" {
			t.Fatalf("asset not normalized: %q", got.Event.Attributes["asset"])
		}
	default:
		t.Fatalf("expected committed entry to be delivered")
	}
	select {
	case extra := <-ch:
		t.Fatalf("uncommitted event leaked: %+v", extra)
	default:
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(1)
	_, cancel := bus.Subscribe()
	defer cancel()

	var dropped int
	bus.OnDrop(func(types.LogEntry) { dropped++ })
	for i := 0; i < 3; i++ {
		bus.Emit(Committed{Entry: types.LogEntry{Sequence: uint64(i + 1), Event: &types.Event{Type: "x"}}})
	}
	if dropped != 2 || bus.Dropped() != 2 {
		t.Fatalf("expected two drops, got callback=%d counter=%d", dropped, bus.Dropped())
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
	bus.Emit(Committed{Entry: types.LogEntry{Event: &types.Event{Type: "x"}}})
}

func TestSwapInitiatedAttributes(t *testing.T) {
	var initiator, recipient [20]byte
	initiator[0], recipient[0] = 1, 2
	evt := SwapInitiated{
		Initiator:  initiator,
		Recipient:  recipient,
		FromAsset:  " eth ",
		ToAsset:    "btc",
		FromAmount: big.NewInt(1000),
		ToAmount:   big.NewInt(50),
		Fee:        big.NewInt(3),
		Expiry:     3600,
	}.Event()
	if evt.Type != TypeSwapInitiated {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if evt.Attributes["fromAsset"] != "ETH" || evt.Attributes["toAsset"] != "BTC" {
		t.Fatalf("assets not normalized: %v", evt.Attributes)
	}
	if evt.Attributes["fromAmount"] != "1000" || evt.Attributes["fee"] != "3" || evt.Attributes["expiry"] != "3600" {
		t.Fatalf("unexpected amounts: %v", evt.Attributes)
	}
	if evt.Attributes["oraclePrice"] != "0" {
		t.Fatalf("nil amounts render as zero, got %q", evt.Attributes["oraclePrice"])
	}
}

func TestPauseToggledType(t *testing.T) {
	if (PauseToggled{Paused: true}).EventType() != TypeModulePaused {
		t.Fatalf("expected paused type")
	}
	if (PauseToggled{Module: " HTLC "}).Event().Attributes["module"] != "htlc" {
		t.Fatalf("module should be lowercased")
	}
}
