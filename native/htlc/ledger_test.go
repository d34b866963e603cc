package htlc

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"swapcore/core/events"
	"swapcore/core/state"
	"swapcore/crypto"
	"swapcore/native/access"
	"swapcore/native/bank"
	"swapcore/native/common"
	"swapcore/native/fees"
	"swapcore/native/oracle"
	"swapcore/storage"
)

var (
	admin     = [20]byte{0xAD}
	initiator = [20]byte{0x01}
	recipient = [20]byte{0x02}
	secret    = []byte("correct horse battery staple")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func mustInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad int %q", s)
	}
	return v
}

type recordingEmitter struct{ types []string }

func (r *recordingEmitter) Emit(evt events.Event) {
	if c, ok := evt.(events.Committed); ok {
		r.types = append(r.types, c.EventType())
	}
}

type fixture struct {
	manager  *state.Manager
	registry *oracle.Registry
	ledger   *Ledger
	access   *access.Keeper
	bank     *bank.Keeper
	emitted  *recordingEmitter
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
		emitted:  &recordingEmitter{},
		now:      1_700_000_000,
	}
	f.ledger = NewLedger(manager, f.registry)
	manager.SetNowFunc(func() int64 { return f.now })
	manager.SetEmitter(f.emitted)

	if err := f.access.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, asset := range []string{"ETH", "BTC"} {
		if err := f.registry.SetAssetDecimals(ctx, admin, asset, 18); err != nil {
			t.Fatalf("decimals: %v", err)
		}
	}
	if err := f.registry.UpdatePriceFeed(ctx, admin, "ETH", big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("price: %v", err)
	}
	if err := f.bank.Mint(ctx, initiator, "ETH", eth(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return f
}

func (f *fixture) request() InitiateRequest {
	return InitiateRequest{
		Recipient:  recipient,
		FromAsset:  "ETH",
		ToAsset:    "BTC",
		FromAmount: eth(1),
		ToAmount:   eth(20),
		Hashlock:   crypto.HashSecret(secret),
		Expiry:     f.now + 7_200,
	}
}

func (f *fixture) balance(t *testing.T, holder [20]byte) *big.Int {
	t.Helper()
	amount, err := f.bank.Balance(context.Background(), "ETH", holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return amount
}

func TestInitiateStoresNetAmountAndLocksGross(t *testing.T) {
	f := newFixture(t)
	key, err := f.ledger.InitiateSwap(context.Background(), initiator, f.request())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	swap, ok := f.ledger.GetSwap(context.Background(), key)
	if !ok {
		t.Fatalf("swap not found")
	}
	if swap.FromAmount.Cmp(mustInt(t, "997500000000000000")) != 0 {
		t.Fatalf("unexpected net amount %s", swap.FromAmount)
	}
	if swap.Fee.Cmp(mustInt(t, "2500000000000000")) != 0 {
		t.Fatalf("unexpected fee %s", swap.Fee)
	}
	if swap.OraclePrice.Int64() != 2_000_000_000 || swap.Confidence != common.DefaultConfidence {
		t.Fatalf("unexpected price stamp %s / %d", swap.OraclePrice, swap.Confidence)
	}
	if swap.Withdrawn || swap.Refunded || swap.StatusAt(f.now) != StatusCreated {
		t.Fatalf("fresh swap must be created")
	}
	if got := f.balance(t, f.ledger.Vault()); got.Cmp(eth(1)) != 0 {
		t.Fatalf("vault should hold the gross amount, got %s", got)
	}
	if got := f.balance(t, initiator); got.Cmp(eth(9)) != 0 {
		t.Fatalf("initiator balance %s", got)
	}
	accrued, err := f.ledger.AccruedFees(context.Background(), "eth")
	if err != nil || accrued.Cmp(swap.Fee) != 0 {
		t.Fatalf("accrued fees %s err=%v", accrued, err)
	}
	if last := f.emitted.types[len(f.emitted.types)-1]; last != events.TypeSwapInitiated {
		t.Fatalf("expected initiated event, got %s", last)
	}
}

func TestFeeArithmeticFloors(t *testing.T) {
	for _, gross := range []int64{1, 399, 400, 401, 12_345_678} {
		fee, net := fees.Split(big.NewInt(gross), 25)
		if fee.Int64() != gross*25/10_000 {
			t.Fatalf("gross %d: fee %s", gross, fee)
		}
		if new(big.Int).Add(fee, net).Int64() != gross {
			t.Fatalf("gross %d: fee+net mismatch", gross)
		}
	}
}

func TestPriceDeviationGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// expected = 1e18 * 2e9 / 1e8 = 2e19; 5% is 1e18.
	cases := []struct {
		toAmount string
		ok       bool
	}{
		{"20000000000000000000", true},
		{"21000000000000000000", true},
		{"19000000000000000000", true},
		{"21000000000000000001", false},
		{"18999999999999999999", false},
	}
	for i, tc := range cases {
		req := f.request()
		req.ToAmount = mustInt(t, tc.toAmount)
		req.Expiry += int64(i)
		_, err := f.ledger.InitiateSwap(ctx, initiator, req)
		if tc.ok && err != nil {
			t.Fatalf("toAmount %s: unexpected error %v", tc.toAmount, err)
		}
		if !tc.ok && !errors.Is(err, ErrPriceDeviation) {
			t.Fatalf("toAmount %s: expected deviation error, got %v", tc.toAmount, err)
		}
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mutate := []struct {
		name string
		fn   func(*InitiateRequest)
	}{
		{"empty recipient", func(r *InitiateRequest) { r.Recipient = [20]byte{} }},
		{"zero from amount", func(r *InitiateRequest) { r.FromAmount = big.NewInt(0) }},
		{"negative to amount", func(r *InitiateRequest) { r.ToAmount = big.NewInt(-1) }},
		{"same asset", func(r *InitiateRequest) { r.ToAsset = "eth" }},
		{"empty hashlock", func(r *InitiateRequest) { r.Hashlock = [32]byte{} }},
		{"expiry too soon", func(r *InitiateRequest) { r.Expiry = f.now + 3_599 }},
		{"expiry too far", func(r *InitiateRequest) { r.Expiry = f.now + 86_401 }},
	}
	for _, tc := range mutate {
		req := f.request()
		tc.fn(&req)
		if _, err := f.ledger.InitiateSwap(ctx, initiator, req); !errors.Is(err, common.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if got := f.balance(t, initiator); got.Cmp(eth(10)) != 0 {
		t.Fatalf("rejected calls must not move funds, balance %s", got)
	}

	edge := f.request()
	edge.Expiry = f.now + 3_600
	if _, err := f.ledger.InitiateSwap(ctx, initiator, edge); err != nil {
		t.Fatalf("minimum timelock is inclusive: %v", err)
	}
	edge.Expiry = f.now + 86_400
	if _, err := f.ledger.InitiateSwap(ctx, initiator, edge); err != nil {
		t.Fatalf("maximum timelock is inclusive: %v", err)
	}
}

func TestInitiateRequiresValidPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.registry.InvalidatePriceFeed(ctx, admin, "ETH"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := f.ledger.InitiateSwap(ctx, initiator, f.request()); !errors.Is(err, oracle.ErrInvalidPrice) {
		t.Fatalf("expected invalid oracle price, got %v", err)
	}
}

func TestInitiateReplayRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.InitiateSwap(ctx, initiator, f.request()); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	if _, err := f.ledger.InitiateSwap(ctx, initiator, f.request()); !errors.Is(err, ErrSwapExists) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if got := f.balance(t, initiator); got.Cmp(eth(9)) != 0 {
		t.Fatalf("replay must not lock funds twice, balance %s", got)
	}
}

func TestInitiateInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.FromAmount = eth(11)
	req.ToAmount = eth(220)
	_, err := f.ledger.InitiateSwap(context.Background(), initiator, req)
	if !errors.Is(err, common.ErrExternalCall) || !errors.Is(err, bank.ErrInsufficientBalance) {
		t.Fatalf("expected external call failure wrapping the bank error, got %v", err)
	}
	if _, err := SwapKey(initiator, req); err != nil {
		t.Fatalf("key: %v", err)
	}
	key, _ := SwapKey(initiator, req)
	if _, ok := f.ledger.GetSwap(context.Background(), key); ok {
		t.Fatalf("failed initiation must not persist a record")
	}
}

func TestWithdrawWithSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, err := f.ledger.InitiateSwap(ctx, initiator, f.request())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	relayer := [20]byte{0x99}
	if err := f.ledger.Withdraw(ctx, relayer, key, []byte("wrong")); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected invalid secret, got %v", err)
	}
	if err := f.ledger.Withdraw(ctx, relayer, key, secret); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	swap, _ := f.ledger.GetSwap(ctx, key)
	if !swap.Withdrawn || swap.Refunded || string(swap.Secret) != string(secret) {
		t.Fatalf("unexpected record after withdraw %+v", swap)
	}
	if got := f.balance(t, recipient); got.Cmp(mustInt(t, "997500000000000000")) != 0 {
		t.Fatalf("recipient should receive the net amount, got %s", got)
	}
	if got := f.balance(t, relayer); got.Sign() != 0 {
		t.Fatalf("the submitter never receives funds")
	}

	if err := f.ledger.Withdraw(ctx, relayer, key, secret); !errors.Is(err, ErrSwapResolved) {
		t.Fatalf("second withdraw must fail, got %v", err)
	}
	f.now = swap.Expiry
	if err := f.ledger.Refund(ctx, initiator, key); !errors.Is(err, ErrSwapResolved) {
		t.Fatalf("refund after withdraw must fail, got %v", err)
	}
	if f.ledger.SwapStatus(ctx, key) != StatusWithdrawn {
		t.Fatalf("status should stay withdrawn")
	}
}

func TestWithdrawAcceptsAnyPreimageLength(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := make([]byte, 2048)
	for i := range long {
		long[i] = byte(i)
	}
	for _, preimage := range [][]byte{{}, long} {
		req := f.request()
		req.Hashlock = crypto.HashSecret(preimage)
		key, err := f.ledger.InitiateSwap(ctx, initiator, req)
		if err != nil {
			t.Fatalf("initiate with %d-byte preimage: %v", len(preimage), err)
		}
		if err := f.ledger.Withdraw(ctx, recipient, key, preimage); err != nil {
			t.Fatalf("withdraw with %d-byte preimage: %v", len(preimage), err)
		}
		if f.ledger.SwapStatus(ctx, key) != StatusWithdrawn {
			t.Fatalf("swap with %d-byte preimage should be withdrawn", len(preimage))
		}
	}
	if got := f.balance(t, recipient); got.Cmp(mustInt(t, "1995000000000000000")) != 0 {
		t.Fatalf("recipient should receive both net amounts, got %s", got)
	}
}

func TestWithdrawAtExpiryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request()
	key, err := f.ledger.InitiateSwap(ctx, initiator, req)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.now = req.Expiry
	if err := f.ledger.Withdraw(ctx, recipient, key, secret); !errors.Is(err, ErrSwapExpired) {
		t.Fatalf("withdraw at expiry must fail, got %v", err)
	}
	if f.ledger.SwapStatus(ctx, key) != StatusExpired {
		t.Fatalf("expected expired status")
	}
}

func TestRefundLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request()
	key, err := f.ledger.InitiateSwap(ctx, initiator, req)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.ledger.Refund(ctx, initiator, key); !errors.Is(err, ErrSwapNotExpired) || !errors.Is(err, common.ErrState) {
		t.Fatalf("refund before expiry must be a state error, got %v", err)
	}
	f.now = req.Expiry
	if err := f.ledger.Refund(ctx, initiator, key); err != nil {
		t.Fatalf("refund: %v", err)
	}
	swap, _ := f.ledger.GetSwap(ctx, key)
	if !swap.Refunded || swap.Withdrawn {
		t.Fatalf("expected refunded record")
	}
	want := new(big.Int).Sub(eth(10), mustInt(t, "2500000000000000"))
	if got := f.balance(t, initiator); got.Cmp(want) != 0 {
		t.Fatalf("initiator should get the net amount back, got %s want %s", got, want)
	}
	if err := f.ledger.Refund(ctx, initiator, key); !errors.Is(err, ErrSwapResolved) {
		t.Fatalf("second refund must fail, got %v", err)
	}
	if err := f.ledger.Withdraw(ctx, recipient, key, secret); !errors.Is(err, ErrSwapResolved) {
		t.Fatalf("withdraw after refund must fail, got %v", err)
	}
}

func TestUnknownSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, ok := f.ledger.GetSwap(ctx, [32]byte{1}); ok {
		t.Fatalf("expected not found")
	}
	if err := f.ledger.Withdraw(ctx, recipient, [32]byte{1}, secret); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := f.ledger.Refund(ctx, recipient, [32]byte{1}); !errors.Is(err, ErrSwapNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.ledger.SwapStatus(ctx, [32]byte{1}) != StatusUnknown {
		t.Fatalf("expected unknown status")
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key, err := f.ledger.InitiateSwap(ctx, initiator, f.request())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.access.SetPaused(ctx, admin, common.ModuleHTLC, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	bad := f.request()
	bad.FromAmount = big.NewInt(0)
	if _, err := f.ledger.InitiateSwap(ctx, initiator, bad); !errors.Is(err, common.ErrPaused) {
		t.Fatalf("pause must be checked before validation, got %v", err)
	}
	if err := f.ledger.Withdraw(ctx, recipient, key, secret); !errors.Is(err, common.ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := f.ledger.Refund(ctx, recipient, key); !errors.Is(err, common.ErrPaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := f.access.SetPaused(ctx, admin, common.ModuleHTLC, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.ledger.Withdraw(ctx, recipient, key, secret); err != nil {
		t.Fatalf("withdraw after unpause: %v", err)
	}
}

func TestRecommendationConfidence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recKey, err := f.registry.CreateSwapRecommendation(ctx, admin, "ETH", "BTC", eth(20), 9_300)
	if err != nil {
		t.Fatalf("recommendation: %v", err)
	}
	req := f.request()
	req.RecommendationKey = recKey
	key, err := f.ledger.InitiateSwap(ctx, initiator, req)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	swap, _ := f.ledger.GetSwap(ctx, key)
	if swap.Confidence != 9_300 {
		t.Fatalf("expected recommendation confidence, got %d", swap.Confidence)
	}
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.InitiateSwap(ctx, initiator, f.request()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	treasury := [20]byte{0x7E}
	fee := mustInt(t, "2500000000000000")
	if err := f.ledger.WithdrawFees(ctx, initiator, "ETH", fee, treasury); !errors.Is(err, common.ErrNotAdmin) {
		t.Fatalf("expected admin check, got %v", err)
	}
	over := new(big.Int).Add(fee, big.NewInt(1))
	if err := f.ledger.WithdrawFees(ctx, admin, "ETH", over, treasury); !errors.Is(err, common.ErrState) {
		t.Fatalf("expected state error above accrued, got %v", err)
	}
	if err := f.ledger.WithdrawFees(ctx, admin, "eth", fee, treasury); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if got := f.balance(t, treasury); got.Cmp(fee) != 0 {
		t.Fatalf("treasury balance %s", got)
	}
	if got := f.balance(t, f.ledger.Vault()); got.Cmp(mustInt(t, "997500000000000000")) != 0 {
		t.Fatalf("vault must still cover the locked swap, got %s", got)
	}
}

func TestSetParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ledger.SetParams(ctx, admin, Params{FeeBps: 1_001, ToleranceBps: 1, MinTimelock: 1, MaxTimelock: 2}); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected fee bound, got %v", err)
	}
	if err := f.ledger.SetParams(ctx, admin, Params{FeeBps: 10, ToleranceBps: 100, MinTimelock: 60, MaxTimelock: 60}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	params, err := f.ledger.Params(ctx)
	if err != nil || params.FeeBps != 10 || params.MaxTimelock != 60 {
		t.Fatalf("unexpected params %+v err=%v", params, err)
	}
	req := f.request()
	if _, err := f.ledger.InitiateSwap(ctx, initiator, req); !errors.Is(err, ErrTimelockBounds) {
		t.Fatalf("new timelock window must apply, got %v", err)
	}
}
