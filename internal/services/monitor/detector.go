package monitor

import "github.com/shopspring/decimal"

type Decision int

const (
	NoChange Decision = iota
	Drop
	Invalid
)

func (d Decision) String() string {
	switch d {
	case NoChange:
		return "no_change"
	case Drop:
		return "drop"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

var one = decimal.NewFromInt(1)

// Classify reports a Drop when newPrice <= oldPrice*(1-threshold); the boundary itself counts.
// An unset old price, or a missing or non-positive new price, is Invalid.
func Classify(oldPrice, newPrice decimal.NullDecimal, threshold decimal.Decimal) Decision {
	if !oldPrice.Valid || !oldPrice.Decimal.IsPositive() {
		return Invalid
	}
	if !newPrice.Valid || !newPrice.Decimal.IsPositive() {
		return Invalid
	}
	limit := oldPrice.Decimal.Mul(one.Sub(threshold))
	// A notification must record a strict decrease, which matters only for a zero threshold.
	if newPrice.Decimal.LessThanOrEqual(limit) && newPrice.Decimal.LessThan(oldPrice.Decimal) {
		return Drop
	}
	return NoChange
}
