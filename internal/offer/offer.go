// Package offer resolves a property's cash-offer figures, which arrive
// either as a single amount or as a min/max range under current or legacy
// field names, into one canonical value for display and templates.
package offer

import (
	"fmt"
	"strconv"
)

// Record is an offer as stored on a property row. Absent fields are nil.
type Record struct {
	CashOfferAmount *float64 `json:"cash_offer_amount,omitempty" yaml:"cash_offer_amount,omitempty"`
	MinOfferAmount  *float64 `json:"min_offer_amount,omitempty" yaml:"min_offer_amount,omitempty"`
	MaxOfferAmount  *float64 `json:"max_offer_amount,omitempty" yaml:"max_offer_amount,omitempty"`

	// Legacy range columns, superseded by Min/MaxOfferAmount.
	LegacyMin *float64 `json:"cash_offer_min,omitempty" yaml:"cash_offer_min,omitempty"`
	LegacyMax *float64 `json:"cash_offer_max,omitempty" yaml:"cash_offer_max,omitempty"`
}

// Amount returns a pointer for building records literally.
func Amount(v float64) *float64 { return &v }

// FixedRecord builds a record with only a fixed amount.
func FixedRecord(amount float64) Record {
	return Record{CashOfferAmount: Amount(amount)}
}

// RangeRecord builds a record with current range field names.
func RangeRecord(min, max float64) Record {
	return Record{MinOfferAmount: Amount(min), MaxOfferAmount: Amount(max)}
}

// Merge returns r with absent fields filled from other.
func (r Record) Merge(other Record) Record {
	if r.CashOfferAmount == nil {
		r.CashOfferAmount = other.CashOfferAmount
	}
	if r.MinOfferAmount == nil {
		r.MinOfferAmount = other.MinOfferAmount
	}
	if r.MaxOfferAmount == nil {
		r.MaxOfferAmount = other.MaxOfferAmount
	}
	if r.LegacyMin == nil {
		r.LegacyMin = other.LegacyMin
	}
	if r.LegacyMax == nil {
		r.LegacyMax = other.LegacyMax
	}
	return r
}

type Kind string

const (
	KindFixed Kind = "fixed"
	KindRange Kind = "range"
)

// Offer is the canonical form of a Record: either Fixed or Range.
type Offer interface {
	Kind() Kind
	offer()
}

type Fixed struct {
	Amount float64
}

type Range struct {
	Min float64
	Max float64
}

func (Fixed) Kind() Kind { return KindFixed }
func (Range) Kind() Kind { return KindRange }
func (Fixed) offer()     {}
func (Range) offer()     {}

// present treats a missing or zero bound as absent.
func present(v *float64) bool {
	return v != nil && *v != 0
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Resolve coalesces legacy field names and picks the offer shape. Current
// range names win over legacy ones. Anything that is not a range is Fixed,
// including an empty record (Fixed{0}).
func Resolve(r Record) Offer {
	switch {
	case present(r.MinOfferAmount) && present(r.MaxOfferAmount):
		return Range{Min: *r.MinOfferAmount, Max: *r.MaxOfferAmount}
	case present(r.LegacyMin) && present(r.LegacyMax):
		return Range{Min: *r.LegacyMin, Max: *r.LegacyMax}
	default:
		return Fixed{Amount: value(r.CashOfferAmount)}
	}
}

// Classify reports whether r is a range or a fixed offer.
func Classify(r Record) Kind {
	return Resolve(r).Kind()
}

// IsValid reports whether r holds a usable offer: a range with min > 0 and
// max > min, or a fixed amount > 0. An empty record is not valid.
func IsValid(r Record) bool {
	switch o := Resolve(r).(type) {
	case Range:
		return o.Min > 0 && o.Max > o.Min
	case Fixed:
		return o.Amount > 0
	}
	return false
}

// Average returns the midpoint of a range or the fixed amount. Invalid and
// empty records average to 0.
func Average(r Record) float64 {
	if !IsValid(r) {
		return 0
	}
	switch o := Resolve(r).(type) {
	case Range:
		return (o.Min + o.Max) / 2
	case Fixed:
		return o.Amount
	}
	return 0
}

// Describe renders a terse diagnostic with raw, ungrouped numbers, e.g.
// "Range: $100000 - $120000" or "Fixed: $110000".
func Describe(r Record) string {
	switch o := Resolve(r).(type) {
	case Range:
		return fmt.Sprintf("Range: $%s - $%s", raw(o.Min), raw(o.Max))
	case Fixed:
		return fmt.Sprintf("Fixed: $%s", raw(o.Amount))
	}
	return ""
}

func raw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
