package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"contentpay/core/events"
	"contentpay/core/types"
)

type transferCall struct {
	from   [20]byte
	to     [20]byte
	amount uint64
	token  bool
}

type mockEnv struct {
	balances map[[20]byte]uint64
	mints    map[[20]byte]*types.Mint
	holdings map[[20]byte]*types.TokenHolding
	calls    []transferCall
	failOn   int // 1-based transfer index that fails; 0 disables
	emitted  []events.Event
	sequence uint64
	now      int64
}

func newMockEnv() *mockEnv {
	return &mockEnv{
		balances: make(map[[20]byte]uint64),
		mints:    make(map[[20]byte]*types.Mint),
		holdings: make(map[[20]byte]*types.TokenHolding),
		sequence: 41,
		now:      1_700_000_000,
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockEnv) TransferNative(from, to [20]byte, amount uint64) error {
	m.calls = append(m.calls, transferCall{from: from, to: to, amount: amount})
	if m.failOn == len(m.calls) {
		return fmt.Errorf("ledger unavailable")
	}
	if m.balances[from] < amount {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

func (m *mockEnv) Mint(id [20]byte) (*types.Mint, bool, error) {
	mint, ok := m.mints[id]
	return mint, ok, nil
}

func (m *mockEnv) Holding(addr [20]byte) (*types.TokenHolding, bool, error) {
	holding, ok := m.holdings[addr]
	if !ok {
		return nil, false, nil
	}
	return holding.Clone(), true, nil
}

func (m *mockEnv) AssociatedHolding(owner, mint [20]byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = owner[i] ^ mint[i] ^ 0x5A
	}
	return out
}

func (m *mockEnv) TransferToken(fromHolding, toHolding, authority [20]byte, amount uint64) error {
	m.calls = append(m.calls, transferCall{from: fromHolding, to: toHolding, amount: amount, token: true})
	if m.failOn == len(m.calls) {
		return fmt.Errorf("token program rejected transfer")
	}
	src, ok := m.holdings[fromHolding]
	if !ok || src.Owner != authority {
		return fmt.Errorf("authority mismatch")
	}
	if src.Amount < amount {
		return fmt.Errorf("insufficient token balance")
	}
	src.Amount -= amount
	m.holdings[toHolding].Amount += amount
	return nil
}

func (m *mockEnv) Emit(evt events.Event) { m.emitted = append(m.emitted, evt) }

func (m *mockEnv) Clock() (uint64, int64) {
	m.sequence++
	return m.sequence, m.now
}

func (m *mockEnv) addHolding(owner, mint [20]byte, amount uint64) [20]byte {
	addr := m.AssociatedHolding(owner, mint)
	m.holdings[addr] = &types.TokenHolding{Address: addr, Owner: owner, Mint: mint, Amount: amount}
	return addr
}

var (
	payer    = newTestAddress(0x01)
	creator  = newTestAddress(0x02)
	platform = newTestAddress(0x03)
	referrer = newTestAddress(0x04)
	usdc     = newTestAddress(0xC1)
	other    = newTestAddress(0xC2)
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	schedule := DefaultFeeSchedule()
	schedule.Tokens = []AllowedToken{{Mint: usdc, Symbol: "USDC"}}
	engine, err := NewEngine(schedule)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func nativeRequest() PurchaseRequest {
	ref := referrer
	return PurchaseRequest{
		ContentID:      "content-1",
		PurchaseID:     "purchase-1",
		Amount:         1_000_000,
		FeeBps:         500,
		ReferrerFeeBps: 100,
		Payer:          payer,
		Creator:        creator,
		Platform:       platform,
		Referrer:       &ref,
		Asset:          NativeAsset(),
	}
}

func TestSettleNativeWithReferrer(t *testing.T) {
	engine := testEngine(t)
	env := newMockEnv()
	env.balances[payer] = 2_000_000

	record, err := engine.Settle(env, nativeRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(env.calls) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(env.calls))
	}
	wantOrder := []transferCall{
		{from: payer, to: referrer, amount: 10_000},
		{from: payer, to: platform, amount: 50_000},
		{from: payer, to: creator, amount: 940_000},
	}
	for i, want := range wantOrder {
		if env.calls[i] != want {
			t.Fatalf("transfer %d: got %+v want %+v", i, env.calls[i], want)
		}
	}
	if env.balances[payer] != 1_000_000 || env.balances[creator] != 940_000 {
		t.Fatalf("unexpected balances: %+v", env.balances)
	}
	if record.Currency != CurrencyNative || record.Decimals != NativeDecimals || record.Asset != nil {
		t.Fatalf("unexpected currency fields: %+v", record)
	}
	if record.Split().Total() != record.Amount {
		t.Fatalf("record does not conserve funds")
	}
	if record.Sequence != 42 || record.Timestamp != env.now {
		t.Fatalf("unexpected clock stamp %d/%d", record.Sequence, record.Timestamp)
	}
	if record.Referrer == nil || *record.Referrer != referrer || record.ReferrerFeeBps != 100 {
		t.Fatalf("unexpected referrer fields: %+v", record)
	}
	if len(env.emitted) != 1 {
		t.Fatalf("expected one emitted record, got %d", len(env.emitted))
	}
	emitted, ok := env.emitted[0].(SettlementRecord)
	if !ok || emitted.PurchaseID != "purchase-1" {
		t.Fatalf("unexpected emitted event %#v", env.emitted[0])
	}
}

func TestSettleWithoutReferrerIgnoresReferrerFee(t *testing.T) {
	engine := testEngine(t)
	env := newMockEnv()
	env.balances[payer] = 1_000_000
	req := nativeRequest()
	req.Referrer = nil

	record, err := engine.Settle(env, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.ReferrerFee != 0 || record.ReferrerFeeBps != 0 {
		t.Fatalf("expected no referrer share, got %+v", record)
	}
	if len(env.calls) != 2 {
		t.Fatalf("expected platform and creator transfers only, got %d", len(env.calls))
	}
	if record.CreatorAmount != 950_000 {
		t.Fatalf("unexpected creator amount %d", record.CreatorAmount)
	}
}

func TestSettleSkipsZeroTransfers(t *testing.T) {
	engine := testEngine(t)
	env := newMockEnv()
	env.balances[payer] = 7
	req := nativeRequest()
	req.Amount = 7
	req.FeeBps = 1
	req.ReferrerFeeBps = 0

	record, err := engine.Settle(env, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.PlatformFee != 0 || record.CreatorAmount != 7 {
		t.Fatalf("unexpected split %+v", record.Split())
	}
	if len(env.calls) != 1 || env.calls[0].to != creator {
		t.Fatalf("expected single creator transfer, got %+v", env.calls)
	}

	env = newMockEnv()
	req.Amount = 0
	if _, err := engine.Settle(env, req); err != nil {
		t.Fatalf("settle zero amount: %v", err)
	}
	if len(env.calls) != 0 || len(env.emitted) != 1 {
		t.Fatalf("zero amount should record without transfers: calls=%d emitted=%d", len(env.calls), len(env.emitted))
	}
}

func TestSettleRejectsBeforeTransfers(t *testing.T) {
	engine := testEngine(t)
	cases := []struct {
		name   string
		mutate func(*PurchaseRequest, *mockEnv)
		want   error
	}{
		{"fee too high", func(r *PurchaseRequest, _ *mockEnv) { r.FeeBps = 3001 }, ErrFeeExceedsMaximum},
		{"referrer fee too high", func(r *PurchaseRequest, _ *mockEnv) { r.ReferrerFeeBps = 501 }, ErrFeeExceedsMaximum},
		{"referrer fee too high without referrer", func(r *PurchaseRequest, _ *mockEnv) {
			r.Referrer = nil
			r.ReferrerFeeBps = 501
		}, ErrFeeExceedsMaximum},
		{"unsupported token", func(r *PurchaseRequest, _ *mockEnv) { r.Asset = TokenAsset(other) }, ErrUnsupportedAsset},
		{"unsupported token beats other errors", func(r *PurchaseRequest, _ *mockEnv) {
			r.Asset = TokenAsset(other)
			r.FeeBps = 9_999
			r.ContentID = ""
		}, ErrUnsupportedAsset},
		{"missing content id", func(r *PurchaseRequest, _ *mockEnv) { r.ContentID = "  " }, ErrInvalidRequest},
		{"missing platform", func(r *PurchaseRequest, _ *mockEnv) { r.Platform = [20]byte{} }, ErrInvalidRequest},
		{"unregistered mint", func(r *PurchaseRequest, _ *mockEnv) { r.Asset = TokenAsset(usdc) }, ErrInvalidAssetMint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newMockEnv()
			env.balances[payer] = 10_000_000
			req := nativeRequest()
			tc.mutate(&req, env)
			record, err := engine.Settle(env, req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if record != nil {
				t.Fatalf("expected no record on failure")
			}
			if len(env.calls) != 0 || len(env.emitted) != 0 {
				t.Fatalf("expected zero transfers and events, got %d/%d", len(env.calls), len(env.emitted))
			}
		})
	}
}

func TestSettleAbortsOnTransferFailure(t *testing.T) {
	engine := testEngine(t)
	for failAt := 1; failAt <= 3; failAt++ {
		env := newMockEnv()
		env.balances[payer] = 1_000_000
		env.failOn = failAt
		_, err := engine.Settle(env, nativeRequest())
		if !errors.Is(err, ErrTransferFailed) {
			t.Fatalf("fail at %d: expected transfer failure, got %v", failAt, err)
		}
		if len(env.calls) != failAt {
			t.Fatalf("fail at %d: later transfers must not be attempted, saw %d", failAt, len(env.calls))
		}
		if len(env.emitted) != 0 {
			t.Fatalf("fail at %d: no record may be emitted", failAt)
		}
	}

	env := newMockEnv()
	env.balances[payer] = 100
	if _, err := engine.Settle(env, nativeRequest()); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected insufficient balance to surface as transfer failure, got %v", err)
	}
}

func tokenEnv() *mockEnv {
	env := newMockEnv()
	env.mints[usdc] = &types.Mint{ID: usdc, Symbol: "USDC", Decimals: 6}
	env.addHolding(payer, usdc, 5_000_000)
	env.addHolding(creator, usdc, 0)
	env.addHolding(platform, usdc, 0)
	env.addHolding(referrer, usdc, 0)
	return env
}

func TestSettleToken(t *testing.T) {
	engine := testEngine(t)
	env := tokenEnv()
	req := nativeRequest()
	req.Asset = TokenAsset(usdc)

	record, err := engine.Settle(env, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.Currency != CurrencyToken || record.Decimals != 6 {
		t.Fatalf("unexpected currency fields %+v", record)
	}
	if record.Asset == nil || *record.Asset != usdc {
		t.Fatalf("record must carry the mint")
	}
	for _, call := range env.calls {
		if !call.token {
			t.Fatalf("token settlement issued a native transfer")
		}
	}
	if got := env.holdings[env.AssociatedHolding(creator, usdc)].Amount; got != 940_000 {
		t.Fatalf("unexpected creator token balance %d", got)
	}
	if got := env.holdings[env.AssociatedHolding(payer, usdc)].Amount; got != 4_000_000 {
		t.Fatalf("unexpected payer token balance %d", got)
	}
}

func TestSettleTokenExplicitSourceHolding(t *testing.T) {
	engine := testEngine(t)
	env := tokenEnv()
	source := newTestAddress(0xEE)
	env.holdings[source] = &types.TokenHolding{Address: source, Owner: payer, Mint: usdc, Amount: 1_000_000}
	req := nativeRequest()
	req.Referrer = nil
	req.Asset = TokenAsset(usdc)
	req.Asset.SourceHolding = &source

	if _, err := engine.Settle(env, req); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if env.holdings[source].Amount != 0 {
		t.Fatalf("expected explicit holding to be drained, left %d", env.holdings[source].Amount)
	}
	for _, call := range env.calls {
		if call.from != source {
			t.Fatalf("transfer drew from %x instead of the explicit holding", call.from)
		}
	}
}

func TestSettleTokenHoldingChecks(t *testing.T) {
	engine := testEngine(t)
	foreign := newTestAddress(0xEF)

	cases := []struct {
		name  string
		setup func(*mockEnv, *PurchaseRequest)
		want  error
	}{
		{"source owned by someone else", func(env *mockEnv, r *PurchaseRequest) {
			env.holdings[foreign] = &types.TokenHolding{Address: foreign, Owner: creator, Mint: usdc, Amount: 10_000_000}
			r.Asset.SourceHolding = &foreign
		}, ErrInvalidAccountOwner},
		{"source holds another mint", func(env *mockEnv, r *PurchaseRequest) {
			env.holdings[foreign] = &types.TokenHolding{Address: foreign, Owner: payer, Mint: other, Amount: 10_000_000}
			r.Asset.SourceHolding = &foreign
		}, ErrInvalidAssetMint},
		{"creator without holding", func(env *mockEnv, r *PurchaseRequest) {
			delete(env.holdings, env.AssociatedHolding(creator, usdc))
		}, ErrInvalidAccountOwner},
		{"platform holding with wrong mint", func(env *mockEnv, r *PurchaseRequest) {
			env.holdings[env.AssociatedHolding(platform, usdc)].Mint = other
		}, ErrInvalidAssetMint},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := tokenEnv()
			req := nativeRequest()
			req.Asset = TokenAsset(usdc)
			tc.setup(env, &req)
			if _, err := engine.Settle(env, req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(env.calls) != 0 {
				t.Fatalf("expected zero transfers, got %d", len(env.calls))
			}
		})
	}
}

func TestSettleConservationAcrossInputs(t *testing.T) {
	engine := testEngine(t)
	for _, amount := range []uint64{1, 9, 10_000, 123_456_789} {
		for _, fee := range []uint16{0, 1, 1234, 3000} {
			for _, ref := range []uint16{0, 7, 500} {
				env := newMockEnv()
				env.balances[payer] = amount
				req := nativeRequest()
				req.Amount = amount
				req.FeeBps = fee
				req.ReferrerFeeBps = ref
				record, err := engine.Settle(env, req)
				if err != nil {
					t.Fatalf("settle %d/%d/%d: %v", amount, fee, ref, err)
				}
				if env.balances[payer] != 0 {
					t.Fatalf("payer retained %d for %d/%d/%d", env.balances[payer], amount, fee, ref)
				}
				if record.Split().Total() != amount {
					t.Fatalf("record does not conserve %d", amount)
				}
				if ref == 0 {
					for _, call := range env.calls {
						if call.to == referrer {
							t.Fatalf("referrer transfer issued with zero bps")
						}
					}
				}
			}
		}
	}
}

func TestNewEngineRejectsInvalidSchedule(t *testing.T) {
	if _, err := NewEngine(FeeSchedule{}); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	var engine *Engine
	if _, err := engine.Settle(newMockEnv(), nativeRequest()); err == nil {
		t.Fatalf("expected nil engine error")
	}
	if _, err := testEngine(t).Settle(nil, nativeRequest()); err == nil {
		t.Fatalf("expected nil environment error")
	}
}
