// Package stats compares conversion rates between experiment variants.
package stats

import (
	"math"
	"sort"

	"github.com/offerpage/offerpage/internal/store"
)

// ConfidenceThreshold is the level at which a leader is called.
const ConfidenceThreshold = 0.95

type Result struct {
	Variants        []VariantResult `json:"variants"`
	Confident       bool            `json:"confident"`
	ConfidenceLevel float64         `json:"confidence_level"`
	LeadingVariant  string          `json:"leading_variant"`
}

// VariantResult is one variant's conversion summary. A conversion is a
// submitted form.
type VariantResult struct {
	Name                 string  `json:"name"`
	Views                int     `json:"views"`
	Conversions          int     `json:"conversions"`
	Rate                 float64 `json:"rate"`
	CILower              float64 `json:"ci_lower"`
	CIUpper              float64 `json:"ci_upper"`
	AvgTimeOnPageSeconds float64 `json:"avg_time_on_page_seconds"`
}

// SignificanceTest runs a two-proportion z-test and returns the confidence
// that A converts better than B. Missing data on either side yields 0.5.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0.5
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)
	pooled := float64(aConv+bConv) / float64(aViews+bViews)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1
		case pA < pB:
			return 0
		default:
			return 0.5
		}
	}
	return normalCDF((pA - pB) / se)
}

func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// Analyze builds per-variant results for the variants in order. The first
// variant is the control. Variants that appear in rows but not in variants
// are appended in name order; a nil variants list uses rows alone.
func Analyze(variants []string, rows []store.VariantStats) *Result {
	byName := make(map[string]store.VariantStats, len(rows))
	for _, r := range rows {
		byName[r.Variant] = r
	}

	names := append([]string(nil), variants...)
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	var extra []string
	for _, r := range rows {
		if !known[r.Variant] {
			extra = append(extra, r.Variant)
			known[r.Variant] = true
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	res := &Result{Variants: make([]VariantResult, len(names))}
	leader := 0
	for i, name := range names {
		s := byName[name]
		rate := 0.0
		if s.Views > 0 {
			rate = float64(s.Conversions) / float64(s.Views)
		}
		lo, hi := WilsonInterval(s.Conversions, s.Views, ConfidenceThreshold)
		res.Variants[i] = VariantResult{
			Name:                 name,
			Views:                s.Views,
			Conversions:          s.Conversions,
			Rate:                 rate,
			CILower:              lo,
			CIUpper:              hi,
			AvgTimeOnPageSeconds: s.AvgTimeOnPageSeconds,
		}
		if rate > res.Variants[leader].Rate {
			leader = i
		}
	}
	if len(names) == 0 {
		return res
	}
	res.LeadingVariant = names[leader]

	if len(names) >= 2 {
		// Compare the leader to the control, or the control to its best
		// challenger when the control leads.
		a, b := leader, 0
		if leader == 0 {
			b = 1
			for i := 2; i < len(names); i++ {
				if res.Variants[i].Rate > res.Variants[b].Rate {
					b = i
				}
			}
		}
		v, w := res.Variants[a], res.Variants[b]
		res.ConfidenceLevel = SignificanceTest(v.Conversions, v.Views, w.Conversions, w.Views)
		res.Confident = res.ConfidenceLevel >= ConfidenceThreshold
	}
	return res
}
