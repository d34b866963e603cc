package router

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"swapcore/core/state"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/htlc"
	"swapcore/native/oracle"
	"swapcore/storage"
)

var (
	admin   = [20]byte{0xAD}
	trader  = [20]byte{0x01}
	reserve = [20]byte{0x5E}
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fixture struct {
	manager  *state.Manager
	registry *oracle.Registry
	router   *Router
	access   *access.Keeper
	bank     *bank.Keeper
	now      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	manager, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	f := &fixture{
		manager:  manager,
		registry: oracle.NewRegistry(manager),
		access:   access.NewKeeper(manager),
		bank:     bank.NewKeeper(manager),
		now:      1_700_000_000,
	}
	manager.SetNowFunc(func() int64 { return f.now })
	provider, err := NewReserveProvider(reserve, f.registry, 0)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	cfg := DefaultConfig()
	cfg.NativeAsset = "NATIVE"
	f.router = New(manager, f.registry, provider, cfg)

	if err := f.access.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, asset := range []string{"ETH", "BTC", "NATIVE"} {
		if err := f.registry.SetAssetDecimals(ctx, admin, asset, 18); err != nil {
			t.Fatalf("decimals: %v", err)
		}
	}
	if err := f.registry.UpdatePriceFeed(ctx, admin, "ETH", big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("price: %v", err)
	}
	if err := f.registry.UpdatePriceFeed(ctx, admin, "NATIVE", big.NewInt(100_000_000)); err != nil {
		t.Fatalf("price: %v", err)
	}
	mint := []struct {
		holder [20]byte
		asset  string
		amount *big.Int
	}{
		{trader, "ETH", units(10)},
		{trader, "NATIVE", units(10)},
		{reserve, "BTC", units(1_000)},
		{reserve, "ETH", units(1_000)},
	}
	for _, m := range mint {
		if err := f.bank.Mint(ctx, m.holder, m.asset, m.amount); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	return f
}

func (f *fixture) balance(t *testing.T, asset string, holder [20]byte) *big.Int {
	t.Helper()
	amount, err := f.bank.Balance(context.Background(), asset, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return amount
}

type stubProvider struct {
	account [20]byte
	fill    func(ctx context.Context, store state.Store, order Order) (*big.Int, error)
}

func (s *stubProvider) Account() [20]byte { return s.account }

func (s *stubProvider) Execute(ctx context.Context, store state.Store, order Order) (*big.Int, error) {
	return s.fill(ctx, store, order)
}

func TestGetOptimalRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote, err := f.router.GetOptimalRoute(ctx, "eth", "btc", units(1))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.ExpectedOutput.Cmp(units(20)) != 0 || quote.Confidence != 8_500 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	wantFee := new(big.Int).Div(units(1), big.NewInt(1_000))
	if quote.Fee.Cmp(wantFee) != 0 || new(big.Int).Add(quote.Fee, quote.NetAmount).Cmp(units(1)) != 0 {
		t.Fatalf("unexpected fee split %s/%s", quote.Fee, quote.NetAmount)
	}
	desc, err := DecodeRoute(quote.Route)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.FromAsset != "ETH" || desc.ToAsset != "BTC" || desc.Amount.Cmp(units(1)) != 0 || desc.QuotedAt != uint64(f.now) {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if _, err := f.router.GetOptimalRoute(ctx, "ETH", "ETH", units(1)); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.router.GetOptimalRoute(ctx, "BTC", "ETH", units(1)); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if f.manager.LastSequence() == 0 {
		t.Fatalf("setup should have logged events")
	}
}

func TestExecuteSwapSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quote, err := f.router.GetOptimalRoute(ctx, "ETH", "BTC", units(1))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	head := f.manager.LastSequence()
	actual, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{
		FromAsset: "ETH",
		ToAsset:   "BTC",
		Amount:    units(1),
		MinOutput: units(19),
		Route:     quote.Route,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	// net 0.999 ETH at 20 BTC/ETH with no spread.
	want := new(big.Int).Mul(quote.NetAmount, big.NewInt(20))
	if actual.Cmp(want) != 0 {
		t.Fatalf("unexpected output %s want %s", actual, want)
	}
	if got := f.balance(t, "BTC", trader); got.Cmp(want) != 0 {
		t.Fatalf("trader BTC %s", got)
	}
	if got := f.balance(t, "ETH", f.router.Vault()); got.Cmp(quote.Fee) != 0 {
		t.Fatalf("vault should keep only the fee, got %s", got)
	}
	accrued, _ := f.router.AccruedFees(ctx, "ETH")
	if accrued.Cmp(quote.Fee) != 0 {
		t.Fatalf("accrued %s", accrued)
	}
	key, _ := ExecutionKey(trader, "ETH", "BTC", units(1), f.now)
	exec, ok := f.router.GetExecution(ctx, key)
	if !ok || exec.ActualAmount.Cmp(want) != 0 || exec.QuotedAmount.Cmp(units(20)) != 0 || exec.Outcome != OutcomeSettled {
		t.Fatalf("unexpected execution %+v", exec)
	}
	if f.manager.LastSequence() != head+1 {
		t.Fatalf("expected exactly one executed event")
	}

	_, err = f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(19)})
	if !errors.Is(err, ErrDuplicateExecution) {
		t.Fatalf("same caller, amount and instant must be rejected, got %v", err)
	}
}

func TestExecuteSwapValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name string
		req  ExecuteRequest
		want error
	}{
		{"same asset", ExecuteRequest{FromAsset: "ETH", ToAsset: "eth", Amount: units(1), MinOutput: big.NewInt(1)}, common.ErrValidation},
		{"zero amount", ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: big.NewInt(0), MinOutput: big.NewInt(1)}, common.ErrValidation},
		{"zero min output", ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: big.NewInt(0)}, common.ErrValidation},
		{"quote below minimum", ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(21)}, ErrQuoteBelowMinimum},
		{"value on token", ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1), Value: big.NewInt(1)}, ErrUnexpectedValue},
		{"native without value", ExecuteRequest{FromAsset: "NATIVE", ToAsset: "ETH", Amount: units(1), MinOutput: big.NewInt(1)}, ErrValueMismatch},
		{"malformed route", ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1), Route: []byte{0xff}}, common.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.router.ExecuteSwap(ctx, trader, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	other, err := EncodeRoute(RouteDescriptor{FromAsset: "ETH", ToAsset: "BTC", Amount: units(2)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1), Route: other}); !errors.Is(err, ErrRouteMismatch) {
		t.Fatalf("expected route mismatch, got %v", err)
	}
	if got := f.balance(t, "ETH", trader); got.Cmp(units(10)) != 0 {
		t.Fatalf("rejected calls must not move funds, got %s", got)
	}
}

func TestExecuteSwapNativeValue(t *testing.T) {
	f := newFixture(t)
	actual, err := f.router.ExecuteSwap(context.Background(), trader, ExecuteRequest{
		FromAsset: "native",
		ToAsset:   "ETH",
		Amount:    units(1),
		MinOutput: big.NewInt(1),
		Value:     units(1),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if actual.Sign() <= 0 {
		t.Fatalf("expected positive output")
	}
	if got := f.balance(t, "NATIVE", trader); got.Cmp(units(9)) != 0 {
		t.Fatalf("native balance %s", got)
	}
}

func TestProviderShortfallLeavesNoExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.SetProvider(&stubProvider{account: reserve, fill: func(_ context.Context, store state.Store, order Order) (*big.Int, error) {
		if err := bank.Transfer(store, reserve, order.Recipient, order.ToAsset, units(1)); err != nil {
			return nil, err
		}
		// Over-reports; the router must rely on the measured delta.
		return units(50), nil
	}})
	head := f.manager.LastSequence()
	_, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(19)})
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	key, _ := ExecutionKey(trader, "ETH", "BTC", units(1), f.now)
	if _, ok := f.router.GetExecution(ctx, key); ok {
		t.Fatalf("no execution may be recorded on slippage")
	}
	if got := f.balance(t, "ETH", trader); got.Cmp(units(10)) != 0 {
		t.Fatalf("trader funds must be untouched, got %s", got)
	}
	if got := f.balance(t, "BTC", reserve); got.Cmp(units(1_000)) != 0 {
		t.Fatalf("provider fill must be rolled back, got %s", got)
	}
	if f.manager.LastSequence() != head {
		t.Fatalf("failed execution must not log events")
	}
}

func TestProviderFailureIsExternal(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no liquidity")
	f.router.SetProvider(&stubProvider{account: reserve, fill: func(context.Context, state.Store, Order) (*big.Int, error) {
		return nil, boom
	}})
	_, err := f.router.ExecuteSwap(context.Background(), trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1)})
	if !errors.Is(err, common.ErrExternalCall) || !errors.Is(err, boom) {
		t.Fatalf("expected external call failure wrapping provider error, got %v", err)
	}
}

func TestProviderReentryRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := htlc.NewLedger(f.manager, f.registry)
	var reentryErrs []error
	f.router.SetProvider(&stubProvider{account: reserve, fill: func(ctx context.Context, store state.Store, order Order) (*big.Int, error) {
		_, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1)})
		reentryErrs = append(reentryErrs, err)
		reentryErrs = append(reentryErrs, ledger.Refund(ctx, trader, [32]byte{1}))
		if err := f.router.WithdrawFees(ctx, admin, "ETH", big.NewInt(1), admin); err != nil {
			reentryErrs = append(reentryErrs, err)
		}
		return nil, bank.Transfer(store, reserve, order.Recipient, order.ToAsset, units(20))
	}})
	if _, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(19)}); err != nil {
		t.Fatalf("outer execution should settle: %v", err)
	}
	if len(reentryErrs) != 3 {
		t.Fatalf("expected three rejected re-entries, got %d", len(reentryErrs))
	}
	for _, err := range reentryErrs {
		if !errors.Is(err, common.ErrReentrant) {
			t.Fatalf("expected reentrant call error, got %v", err)
		}
	}
}

func TestPausedRouter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.access.SetPaused(ctx, admin, common.ModuleRouter, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "ETH"})
	if !errors.Is(err, common.ErrPaused) {
		t.Fatalf("pause must be checked first, got %v", err)
	}
	if _, err := f.router.GetOptimalRoute(ctx, "ETH", "BTC", units(1)); err != nil {
		t.Fatalf("quotes stay available while paused: %v", err)
	}
}

func TestFeeWithdrawalAndRescue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1)}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	fee, _ := f.router.AccruedFees(ctx, "ETH")
	stray := units(3)
	err := f.manager.Update(ctx, func(_ context.Context, tx *state.Tx) error {
		return bank.Transfer(tx, trader, f.router.Vault(), "ETH", stray)
	})
	if err != nil {
		t.Fatalf("stray transfer: %v", err)
	}
	treasury := [20]byte{0x7E}

	if err := f.router.RescueTokens(ctx, trader, "ETH", stray, treasury); !errors.Is(err, common.ErrNotAdmin) {
		t.Fatalf("expected admin check, got %v", err)
	}
	over := new(big.Int).Add(stray, big.NewInt(1))
	if err := f.router.RescueTokens(ctx, admin, "ETH", over, treasury); !errors.Is(err, ErrExceedsHoldings) {
		t.Fatalf("rescue may not touch accrued fees, got %v", err)
	}
	if err := f.router.RescueTokens(ctx, admin, "ETH", stray, treasury); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if err := f.router.WithdrawFees(ctx, admin, "ETH", new(big.Int).Add(fee, big.NewInt(1)), treasury); !errors.Is(err, common.ErrState) {
		t.Fatalf("expected state error above accrued, got %v", err)
	}
	if err := f.router.WithdrawFees(ctx, admin, "ETH", fee, treasury); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if got := f.balance(t, "ETH", treasury); got.Cmp(new(big.Int).Add(stray, fee)) != 0 {
		t.Fatalf("treasury %s", got)
	}
	if got := f.balance(t, "ETH", f.router.Vault()); got.Sign() != 0 {
		t.Fatalf("vault should be empty, got %s", got)
	}
}

func TestReserveProviderSpread(t *testing.T) {
	f := newFixture(t)
	provider, err := NewReserveProvider(reserve, f.registry, 100)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	f.router.SetProvider(provider)
	actual, err := f.router.ExecuteSwap(context.Background(), trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: units(1), MinOutput: units(1)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	net := new(big.Int).Sub(units(1), new(big.Int).Div(units(1), big.NewInt(1_000)))
	want := new(big.Int).Mul(net, big.NewInt(20))
	want.Mul(want, big.NewInt(9_900))
	want.Quo(want, big.NewInt(10_000))
	if actual.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, actual)
	}
	if _, err := NewReserveProvider(reserve, f.registry, 10_000); err == nil {
		t.Fatalf("full spread must be rejected")
	}
}

func TestSetProviderDuringExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alt, err := NewReserveProvider(reserve, f.registry, 0)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	primary := f.router.currentProvider()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				f.router.SetProvider(alt)
			} else {
				f.router.SetProvider(primary)
			}
		}
	}()
	for i := 0; i < 20; i++ {
		amount := big.NewInt(1_000_000 + int64(i))
		if _, err := f.router.ExecuteSwap(ctx, trader, ExecuteRequest{FromAsset: "ETH", ToAsset: "BTC", Amount: amount, MinOutput: big.NewInt(1)}); err != nil {
			close(done)
			wg.Wait()
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}
