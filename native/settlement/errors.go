package settlement

import "errors"

var (
	// ErrFeeExceedsMaximum reports a fee or referrer fee above the configured cap.
	ErrFeeExceedsMaximum = errors.New("settlement: fee basis points exceeds maximum allowed")
	// ErrUnsupportedAsset reports a token mint outside the configured allowlist.
	ErrUnsupportedAsset = errors.New("settlement: unsupported asset")
	// ErrInvalidAccountOwner reports a holding account not owned by the expected identity.
	ErrInvalidAccountOwner = errors.New("settlement: invalid holding account owner")
	// ErrInvalidAssetMint reports a holding account or mint that does not match the requested asset.
	ErrInvalidAssetMint = errors.New("settlement: invalid asset mint")
	// ErrOverflow reports a bps product that does not fit in 64 bits.
	ErrOverflow = errors.New("settlement: overflow in arithmetic")
	// ErrUnderflow reports fees exceeding the settled amount.
	ErrUnderflow = errors.New("settlement: underflow in arithmetic")
	// ErrTransferFailed reports a MOVE rejected by the ledger.
	ErrTransferFailed = errors.New("settlement: transfer failed")
	// ErrInvalidRequest reports a structurally invalid purchase request.
	ErrInvalidRequest = errors.New("settlement: invalid request")

	errNilEngine      = errors.New("settlement: engine not configured")
	errNilEnvironment = errors.New("settlement: environment not configured")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrFeeExceedsMaximum, "FeeExceedsMaximum"},
	{ErrUnsupportedAsset, "UnsupportedAsset"},
	{ErrInvalidAccountOwner, "InvalidAccountOwner"},
	{ErrInvalidAssetMint, "InvalidAssetMint"},
	{ErrOverflow, "Overflow"},
	{ErrUnderflow, "Underflow"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrInvalidRequest, "InvalidRequest"},
}

// ErrorKind returns the stable name of the settlement error wrapped by err,
// or an empty string when err is not a settlement error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return ""
}
