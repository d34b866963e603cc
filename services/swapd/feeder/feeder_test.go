package feeder

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

type fakeSource struct {
	name  string
	quote Quote
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, asset, quote string) (Quote, error) {
	_ = ctx
	if f.err != nil {
		return Quote{}, f.err
	}
	return f.quote, nil
}

type capturingPublisher struct {
	updates []Update
	err     error
}

func (c *capturingPublisher) PublishPrice(ctx context.Context, update Update) error {
	_ = ctx
	if c.err != nil {
		return c.err
	}
	c.updates = append(c.updates, update)
	return nil
}

type capturingRecorder struct {
	updates []Update
}

func (c *capturingRecorder) RecordUpdate(ctx context.Context, update Update) error {
	c.updates = append(c.updates, update)
	return nil
}

func mustRat(value string) *big.Rat {
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("invalid rat")
	}
	return rat
}

func TestTickPublishesMedian(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srcA := &fakeSource{name: "alpha", quote: Quote{Rate: mustRat("1999.5"), Timestamp: now}}
	srcB := &fakeSource{name: "beta", quote: Quote{Rate: mustRat("2000"), Timestamp: now}}
	srcC := &fakeSource{name: "gamma", quote: Quote{Rate: mustRat("2100.25"), Timestamp: now}}

	publisher := &capturingPublisher{}
	recorder := &capturingRecorder{}
	f, err := New(publisher, []Source{srcA, srcB, srcC}, []string{"eth"}, "usd", time.Second, time.Minute, 2,
		WithClock(func() time.Time { return now }), WithRecorder(recorder))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(publisher.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(publisher.updates))
	}
	update := publisher.updates[0]
	if update.Asset != "ETH" || update.Quote != "USD" {
		t.Fatalf("unexpected pair %s/%s", update.Asset, update.Quote)
	}
	if update.Price.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected fixed-point price %s", update.Price)
	}
	if len(update.ProofID) != 64 || len(update.Feeders) != 3 {
		t.Fatalf("unexpected proof %q feeders %v", update.ProofID, update.Feeders)
	}
	if len(recorder.updates) != 1 {
		t.Fatalf("expected snapshot to be recorded")
	}
}

func TestTickSkipsStaleAndFailingSources(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	fresh := &fakeSource{name: "fresh", quote: Quote{Rate: mustRat("1.5"), Timestamp: now}}
	stale := &fakeSource{name: "stale", quote: Quote{Rate: mustRat("9"), Timestamp: now.Add(-time.Hour)}}
	future := &fakeSource{name: "future", quote: Quote{Rate: mustRat("9"), Timestamp: now.Add(time.Hour)}}
	broken := &fakeSource{name: "broken", err: errors.New("boom")}

	publisher := &capturingPublisher{}
	f, err := New(publisher, []Source{fresh, stale, future, broken}, []string{"BTC"}, "USD", time.Second, time.Minute, 1,
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := f.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := publisher.updates[0].Price; got.Cmp(big.NewInt(150_000_000)) != 0 {
		t.Fatalf("unexpected price %s", got)
	}
	if feeders := publisher.updates[0].Feeders; len(feeders) != 1 || feeders[0] != "fresh" {
		t.Fatalf("unexpected feeders %v", feeders)
	}
}

func TestTickRequiresQuorum(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	only := &fakeSource{name: "only", quote: Quote{Rate: mustRat("1"), Timestamp: now}}
	publisher := &capturingPublisher{}
	f, err := New(publisher, []Source{only}, []string{"ETH"}, "USD", time.Second, time.Minute, 2,
		WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new feeder: %v", err)
	}
	if err := f.Tick(context.Background()); err == nil {
		t.Fatalf("expected quorum failure")
	}
	if len(publisher.updates) != 0 {
		t.Fatalf("nothing should be published without quorum")
	}
}

func TestToFixedPointFloors(t *testing.T) {
	if got := ToFixedPoint(mustRat("0.123456789")); got.Int64() != 12_345_678 {
		t.Fatalf("unexpected fixed point %s", got)
	}
	if got := ToFixedPoint(mustRat("0.000000001")); got.Sign() != 0 {
		t.Fatalf("sub-unit price must floor to zero, got %s", got)
	}
}

func TestComputeMedianEven(t *testing.T) {
	median := computeMedian([]Quote{{Rate: mustRat("1")}, {Rate: mustRat("3")}})
	if median.Cmp(mustRat("2")) != 0 {
		t.Fatalf("unexpected median %s", median.FloatString(2))
	}
}
