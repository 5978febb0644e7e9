package settled

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"contentpay/crypto"
	"contentpay/native/settlement"
)

// PurchaseRequest is the wire form of a purchase. Mint selects a token
// settlement; an empty mint settles in the native currency. Amount is a
// decimal string of base units.
type PurchaseRequest struct {
	ContentID      string `json:"contentId"`
	PurchaseID     string `json:"purchaseId"`
	Amount         string `json:"amount"`
	FeeBps         uint16 `json:"feeBps"`
	ReferrerFeeBps uint16 `json:"referrerFeeBps"`
	Payer          string `json:"payer"`
	Creator        string `json:"creator"`
	Platform       string `json:"platform"`
	Referrer       string `json:"referrer,omitempty"`
	Mint           string `json:"mint,omitempty"`
	SourceHolding  string `json:"sourceHolding,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// Decode converts the wire request into the engine request and the payer's
// authorization, which covers every field that moves funds.
func (r PurchaseRequest) Decode() (settlement.PurchaseRequest, crypto.Authorization, error) {
	var out settlement.PurchaseRequest
	amount, err := strconv.ParseUint(strings.TrimSpace(r.Amount), 10, 64)
	if err != nil {
		return out, crypto.Authorization{}, invalidf("amount: %v", err)
	}
	out.ContentID = r.ContentID
	out.PurchaseID = r.PurchaseID
	out.Amount = amount
	out.FeeBps = r.FeeBps
	out.ReferrerFeeBps = r.ReferrerFeeBps

	fields := []struct {
		name  string
		value string
		dest  *[20]byte
	}{
		{"payer", r.Payer, &out.Payer},
		{"creator", r.Creator, &out.Creator},
		{"platform", r.Platform, &out.Platform},
	}
	for _, field := range fields {
		addr, err := crypto.ParseAccount(field.value, crypto.AccountPrefix)
		if err != nil {
			return out, crypto.Authorization{}, invalidf("%s: %v", field.name, err)
		}
		*field.dest = addr
	}
	if strings.TrimSpace(r.Referrer) != "" {
		referrer, err := crypto.ParseAccount(r.Referrer, crypto.AccountPrefix)
		if err != nil {
			return out, crypto.Authorization{}, invalidf("referrer: %v", err)
		}
		out.Referrer = &referrer
	}
	if strings.TrimSpace(r.Mint) != "" {
		mint, err := crypto.ParseAccount(r.Mint, crypto.AssetPrefix)
		if err != nil {
			return out, crypto.Authorization{}, invalidf("mint: %v", err)
		}
		out.Asset = settlement.TokenAsset(mint)
	}
	if strings.TrimSpace(r.SourceHolding) != "" {
		holding, err := crypto.ParseAccount(r.SourceHolding, crypto.AssetPrefix)
		if err != nil {
			return out, crypto.Authorization{}, invalidf("sourceHolding: %v", err)
		}
		out.Asset.SourceHolding = &holding
	}

	auth := crypto.Authorization{
		Payer:          out.Payer,
		Creator:        out.Creator,
		Platform:       out.Platform,
		Referrer:       out.Referrer,
		ContentID:      out.ContentID,
		PurchaseID:     out.PurchaseID,
		Amount:         out.Amount,
		FeeBps:         out.FeeBps,
		ReferrerFeeBps: out.ReferrerFeeBps,
		Mint:           out.Asset.Mint,
		SourceHolding:  out.Asset.SourceHolding,
	}
	return out, auth, nil
}

// SignatureBytes decodes the optional hex signature.
func (r PurchaseRequest) SignatureBytes() ([]byte, error) {
	raw := strings.TrimSpace(r.Signature)
	if raw == "" {
		return nil, nil
	}
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	return sig, nil
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{settlement.ErrInvalidRequest}, args...)...)
}
