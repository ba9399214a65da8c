package price

import (
	"time"

	"github.com/shopspring/decimal"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeNetworkFailure
	OutcomeParseFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeNetworkFailure:
		return "network_failure"
	case OutcomeParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// Observation is the result of one fetch attempt. Price is valid only for OutcomeSuccess.
type Observation struct {
	ProductRef string
	Price      decimal.NullDecimal
	ObservedAt time.Time
	Outcome    Outcome
	Err        error
}

func Success(ref string, p decimal.Decimal, at time.Time) Observation {
	return Observation{
		ProductRef: ref,
		Price:      decimal.NewNullDecimal(p),
		ObservedAt: at,
		Outcome:    OutcomeSuccess,
	}
}

func Failure(ref string, o Outcome, err error, at time.Time) Observation {
	return Observation{ProductRef: ref, ObservedAt: at, Outcome: o, Err: err}
}
