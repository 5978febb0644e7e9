package config

// Fees captures the basis-point limits applied to every settlement.
type Fees struct {
	BpsDenominator    uint64 `toml:"BpsDenominator"`
	MaxFeeBps         uint16 `toml:"MaxFeeBps"`
	MaxReferrerFeeBps uint16 `toml:"MaxReferrerFeeBps"`
}

// Token is one allowlisted mint. Mint is a bech32 asset address.
type Token struct {
	Symbol string `toml:"Symbol"`
	Mint   string `toml:"Mint"`
}

// FeeSchedule is the on-disk form of the settlement fee schedule.
type FeeSchedule struct {
	Fees   Fees    `toml:"Fees"`
	Tokens []Token `toml:"Tokens"`
}
