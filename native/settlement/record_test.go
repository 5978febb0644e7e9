package settlement

import (
	"testing"

	"contentpay/core/events"
	"contentpay/crypto"
)

func TestDisplayAmount(t *testing.T) {
	cases := []struct {
		amount   uint64
		decimals uint8
		want     string
	}{
		{1_000_000, 6, "1"},
		{1_500_000_000, 9, "1.5"},
		{1, 9, "0.000000001"},
		{0, 6, "0"},
		{42, 0, "42"},
	}
	for _, tc := range cases {
		if got := DisplayAmount(tc.amount, tc.decimals); got != tc.want {
			t.Fatalf("DisplayAmount(%d, %d) = %q, want %q", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestSettlementRecordEvent(t *testing.T) {
	ref := referrer
	mint := usdc
	record := SettlementRecord{
		ContentID:      "content-1",
		PurchaseID:     "purchase-1",
		Payer:          payer,
		Creator:        creator,
		Platform:       platform,
		Referrer:       &ref,
		Asset:          &mint,
		Currency:       CurrencyToken,
		Decimals:       6,
		Amount:         2_500_000,
		CreatorAmount:  2_350_000,
		PlatformFee:    125_000,
		ReferrerFee:    25_000,
		FeeBps:         500,
		ReferrerFeeBps: 100,
		Sequence:       7,
		Timestamp:      1_700_000_000,
	}
	evt := events.Render(record)
	if evt == nil || evt.Type != EventTypePurchaseSettled {
		t.Fatalf("unexpected event %#v", evt)
	}
	want := map[string]string{
		"currency":      "TOKEN",
		"displayAmount": "2.5",
		"creatorAmount": "2350000",
		"platformFee":   "125000",
		"referrerFee":   "25000",
		"sequence":      "7",
		"payer":         crypto.FormatAccount(payer),
		"referrer":      crypto.FormatAccount(referrer),
		"mint":          crypto.FormatAsset(usdc),
	}
	for key, value := range want {
		if evt.Attributes[key] != value {
			t.Fatalf("attribute %s = %q, want %q", key, evt.Attributes[key], value)
		}
	}

	record.Referrer = nil
	record.Asset = nil
	record.Currency = CurrencyNative
	evt = record.Event()
	if _, ok := evt.Attributes["referrer"]; ok {
		t.Fatalf("referrer attribute must be omitted without a referrer")
	}
	if _, ok := evt.Attributes["mint"]; ok {
		t.Fatalf("mint attribute must be omitted for native settlements")
	}
}

func TestRecorderBuildUsesEffectiveReferrerRate(t *testing.T) {
	rec := &events.Recorder{}
	recorder := NewRecorder(rec)
	req := nativeRequest()
	req.Referrer = nil
	split, err := ComputeSplit(req.Amount, req.FeeBps, req.EffectiveReferrerFeeBps())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	record := recorder.Build(req, split, NewNativeAdapter(newMockEnv()), 3, 99)
	if record.ReferrerFeeBps != 0 {
		t.Fatalf("expected effective referrer bps 0, got %d", record.ReferrerFeeBps)
	}
	recorder.Emit(record)
	if got := rec.Events(); len(got) != 1 || got[0].EventType() != EventTypePurchaseSettled {
		t.Fatalf("unexpected recorded events %#v", got)
	}
}

func TestCurrencyKindText(t *testing.T) {
	text, err := CurrencyToken.MarshalText()
	if err != nil || string(text) != "TOKEN" {
		t.Fatalf("unexpected text %q (%v)", text, err)
	}
	if CurrencyNative.String() != "NATIVE" {
		t.Fatalf("unexpected native name")
	}
}

func TestRecordKeepsIdentifiersVerbatim(t *testing.T) {
	req := nativeRequest()
	req.ContentID = " content-1"
	req.PurchaseID = "purchase-1 "
	split, err := ComputeSplit(req.Amount, req.FeeBps, req.EffectiveReferrerFeeBps())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	record := NewRecorder(nil).Build(req, split, NewNativeAdapter(newMockEnv()), 1, 1)
	if record.ContentID != " content-1" || record.PurchaseID != "purchase-1 " {
		t.Fatalf("identifiers altered: %q %q", record.ContentID, record.PurchaseID)
	}
	attrs := record.Event().Attributes
	if attrs["contentId"] != " content-1" || attrs["purchaseId"] != "purchase-1 " {
		t.Fatalf("event identifiers altered: %q %q", attrs["contentId"], attrs["purchaseId"])
	}

	trimmed := req
	trimmed.ContentID = "content-1"
	if NewRecorder(nil).Build(trimmed, split, NewNativeAdapter(newMockEnv()), 1, 1).Event().Attributes["contentId"] == attrs["contentId"] {
		t.Fatalf("distinct ids rendered identically")
	}
}
