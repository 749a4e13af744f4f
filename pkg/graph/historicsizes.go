package graph

// TableSizeSample records the entry count and approximate serialized byte
// size of one table from one build, used to build the historic running-size
// table referenced by spec.md §5 (Supplemented features: "historic running
// size table") and consumed by the historic-size reuse check,
// PermitsContextReuse (spec.md §4.I: "2x doubling rule").
type TableSizeSample struct {
	EntryCount int
	ByteSize   int64
}

// HistoricTableSizes accumulates one TableSizeSample per build, per table,
// in chronological order (oldest first). pkg/graphbundle persists this as the
// bundle's historicTableSizes file and reads it back for the next build, where
// PermitsContextReuse decides whether a reloaded graph may be reused.
type HistoricTableSizes struct {
	Paths      []TableSizeSample
	Strings    []TableSizeSample
	Symbols    []TableSizeSample
	Qualifiers []TableSizeSample
	Pips       []TableSizeSample
}

// maxHistoricSamples bounds how many samples are retained per table; only
// the most recent entries matter for sizing the next build.
const maxHistoricSamples = 20

// Record appends one sample to a history slice, trimming from the front if
// it has grown past maxHistoricSamples.
func Record(history []TableSizeSample, sample TableSizeSample) []TableSizeSample {
	history = append(history, sample)
	if len(history) > maxHistoricSamples {
		history = history[len(history)-maxHistoricSamples:]
	}
	return history
}

// EstimateNextSize applies the 2x doubling rule: the suggested preallocation
// size is twice the largest recent sample, which absorbs build-over-build
// growth without requiring a reallocation in the common case of a graph that
// grows slowly. If history is empty, it returns zero, telling the caller to
// fall back to the table's own default capacity.
func EstimateNextSize(history []TableSizeSample) int {
	max := 0
	for _, sample := range history {
		if sample.EntryCount > max {
			max = sample.EntryCount
		}
	}
	return max * 2
}

// totalBytes sums the ByteSize of every per-table history's sample at
// index, or zero if that history doesn't have a sample that far back.
func totalBytes(h HistoricTableSizes, index func([]TableSizeSample) TableSizeSample) int64 {
	var total int64
	for _, history := range [][]TableSizeSample{h.Paths, h.Strings, h.Symbols, h.Qualifiers, h.Pips} {
		if len(history) == 0 {
			continue
		}
		total += index(history).ByteSize
	}
	return total
}

// PermitsContextReuse implements the historic-size heuristic of spec.md §3:
// "reuse is disallowed if the most recent total size exceeds twice the
// oldest recorded size." Both EngineStateCarry (reusing a retained
// in-memory context across invocations) and PartialReuseCoordinator (which
// may only run against a reloaded context that passes this same check,
// spec.md §4.G) consult it. An empty history permits reuse, since there is
// nothing yet to compare against.
func PermitsContextReuse(h HistoricTableSizes) bool {
	oldest := totalBytes(h, func(s []TableSizeSample) TableSizeSample { return s[0] })
	if oldest == 0 {
		return true
	}
	newest := totalBytes(h, func(s []TableSizeSample) TableSizeSample { return s[len(s)-1] })
	return newest <= 2*oldest
}
