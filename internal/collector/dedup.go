package collector

import "github.com/dwsmith1983/tally/pkg/types"

// Dedup keeps the last record for each (EntityID, Date) key. Output order
// follows each key's first appearance.
func Dedup(records []types.MetricsRecord) []types.MetricsRecord {
	index := make(map[types.RecordKey]int, len(records))
	out := make([]types.MetricsRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
