package domain

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// Well-known mints.
const (
	// WSOL is the wrapped SOL mint, the native leg of most routes.
	WSOL = "So11111111111111111111111111111111111111112"
	// USDC mint.
	USDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// AssetAmount is an integer token amount in base units with the mint's
// display decimals attached. Decimals are presentational only; all
// arithmetic happens on BaseUnits.
type AssetAmount struct {
	Mint      string
	BaseUnits *big.Int
	Decimals  int
}

// NewAssetAmount builds an AssetAmount from a base-unit string.
func NewAssetAmount(mint, baseUnits string, decimals int) (AssetAmount, bool) {
	v, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok || v.Sign() < 0 {
		return AssetAmount{}, false
	}
	return AssetAmount{Mint: mint, BaseUnits: v, Decimals: decimals}, true
}

// FromUI converts a UI amount (e.g. "1.5" SOL) to base units.
func FromUI(mint string, ui decimal.Decimal, decimals int) AssetAmount {
	scaled := ui.Shift(int32(decimals)).Truncate(0)
	return AssetAmount{Mint: mint, BaseUnits: scaled.BigInt(), Decimals: decimals}
}

// UI returns the display representation of the amount.
func (a AssetAmount) UI() decimal.Decimal {
	if a.BaseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.BaseUnits, 0).Shift(int32(-a.Decimals))
}

// IsZero reports whether the amount is absent or zero.
func (a AssetAmount) IsZero() bool {
	return a.BaseUnits == nil || a.BaseUnits.Sign() == 0
}

func itoa(v int) string { return strconv.Itoa(v) }
