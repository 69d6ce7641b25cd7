package models

import (
	"math"

	"github.com/shopspring/decimal"

	"mintqueue-system/internal/status"
)

// BaseUnitScale converts API-level decimal amounts into the integer base
// units the ledger operates in (six decimal places, matching the smallest
// unit of the settlement currency).
var BaseUnitScale = decimal.NewFromInt(1_000_000)

// Caps on deploy parameters and batch sizes. Together they keep every
// product the economics compute (threshold amount, batch cost, pro-rata
// credits) inside uint64 range: MaxThreshold * maxCostUnits < 2^63.
const (
	MaxThreshold   uint64 = 1_000_000
	MaxBatchAssets        = 100
)

// maxCostUnits bounds per-unit costs at one million currency units.
const maxCostUnits uint64 = 1_000_000_000_000

// maxAmount bounds any single converted amount at the int64 range IntPart
// can represent.
var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ToBaseUnits converts a decimal amount to ledger base units. Amounts with
// sub-unit precision are rejected rather than silently truncated, and
// amounts past the representable range are rejected rather than wrapped.
func ToBaseUnits(amount decimal.Decimal) (uint64, error) {
	scaled := amount.Mul(BaseUnitScale)
	if !scaled.IsInteger() || scaled.IsNegative() || scaled.Cmp(maxAmount) > 0 {
		return 0, status.ErrInvalidAmount
	}
	return uint64(scaled.IntPart()), nil
}

// FromBaseUnits converts ledger base units back to a decimal amount.
func FromBaseUnits(units uint64) decimal.Decimal {
	return decimal.NewFromUint64(units).Div(BaseUnitScale)
}

// JoinCost is the escrow owed for a batch: base cost per asset, always
// collected at base cost. The effective-cost discount is realized only at
// trigger time as a pro-rata credit. Callers enforce MaxBatchAssets and the
// cost cap, so the product cannot overflow.
func JoinCost(baseCost uint64, assetCount int) uint64 {
	return baseCost * uint64(assetCount)
}

// Validate checks deploy parameters before any transaction is built.
func (in QueueConfigInput) Validate() error {
	if in.Threshold == 0 || in.Threshold > MaxThreshold {
		return status.ErrInvalidThreshold
	}
	if in.TimeWindowSecs <= 0 {
		return status.ErrInvalidTimeWindow
	}
	base, err := ToBaseUnits(in.BaseCost)
	if err != nil || base == 0 || base > maxCostUnits {
		return status.ErrInvalidCosts
	}
	effective, err := ToBaseUnits(in.EffectiveCost)
	if err != nil {
		return status.ErrInvalidCosts
	}
	if effective >= base {
		return status.ErrInvalidCosts
	}
	if in.PlatformAddress == "" || in.EscrowAddress == "" {
		return status.ErrInvalidAddress
	}
	return nil
}
