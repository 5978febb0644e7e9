package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"contentpay/crypto"
	"contentpay/services/settled"
)

func TestKeygenSignRoundTrip(t *testing.T) {
	t.Setenv(defaultPassEnv, "secret")
	keystorePath := filepath.Join(t.TempDir(), "payer.keystore")

	var out bytes.Buffer
	if err := runKeygen([]string{"-keystore", keystorePath}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	address := strings.TrimSpace(out.String())
	if _, err := crypto.ParseAccount(address, crypto.AccountPrefix); err != nil {
		t.Fatalf("keygen printed invalid address %q: %v", address, err)
	}
	if err := runKeygen([]string{"-keystore", keystorePath}, &out); err == nil {
		t.Fatalf("expected existing keystore to be protected")
	}

	out.Reset()
	if err := runAddress([]string{"-keystore", keystorePath}, &out); err != nil {
		t.Fatalf("address: %v", err)
	}
	if strings.TrimSpace(out.String()) != address {
		t.Fatalf("address mismatch: %q vs %q", out.String(), address)
	}

	request := settled.PurchaseRequest{
		ContentID:  "content-1",
		PurchaseID: "purchase-1",
		Amount:     "1000",
		FeeBps:     500,
		Creator:    crypto.FormatAccount([20]byte{2}),
		Platform:   crypto.FormatAccount([20]byte{3}),
	}
	raw, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out.Reset()
	if err := runSign([]string{"-keystore", keystorePath}, bytes.NewReader(raw), &out); err != nil {
		t.Fatalf("sign: %v", err)
	}
	var signed settled.PurchaseRequest
	if err := json.Unmarshal(out.Bytes(), &signed); err != nil {
		t.Fatalf("decode signed: %v", err)
	}
	if signed.Payer != address {
		t.Fatalf("payer not filled from keystore")
	}
	_, auth, err := signed.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	sig, err := signed.SignatureBytes()
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	if err := auth.Verify(sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignRejectsForeignPayer(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	raw := []byte(`{"payer":"` + crypto.FormatAccount([20]byte{9}) + `","amount":"1"}`)
	if _, err := signRequest(raw, key); err == nil {
		t.Fatalf("expected payer mismatch")
	}
}
