package stats

import "github.com/offerpage/offerpage/internal/store"

// FunnelRow counts how many sessions of one variant reached each flag.
type FunnelRow struct {
	Variant  string             `json:"variant"`
	Sessions int                `json:"sessions"`
	Reached  map[store.Flag]int `json:"reached"`
}

// Funnel tallies flags per variant, in order of first appearance.
func Funnel(records []*store.ABTest) []FunnelRow {
	idx := make(map[string]int)
	var rows []FunnelRow
	for _, rec := range records {
		i, ok := idx[rec.Variant]
		if !ok {
			i = len(rows)
			idx[rec.Variant] = i
			rows = append(rows, FunnelRow{Variant: rec.Variant, Reached: make(map[store.Flag]int)})
		}
		rows[i].Sessions++
		for _, f := range store.AllFlags {
			if rec.Has(f) {
				rows[i].Reached[f]++
			}
		}
	}
	return rows
}
