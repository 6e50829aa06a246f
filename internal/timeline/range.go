// Package timeline collapses sparse token selections on a video's timeline
// into the minimal ordered set of disjoint time ranges that covers them.
package timeline

import "sort"

// MergeGap is the maximum silent gap, in seconds, between two selected
// intervals that still causes them to be joined into one output range. It is
// a fixed design constant: small enough to respect deliberately sparse
// selections, large enough that a run of adjacent words does not turn into
// dozens of sub-second cuts.
const MergeGap = 0.5

// Range is a [start,end) time interval in the source video's timeline,
// in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the range length in seconds.
func (r Range) Duration() float64 {
	return r.End - r.Start
}

// normalize swaps inverted intervals so malformed transcript data degrades
// into a usable range instead of breaking the fold below.
func normalize(r Range) Range {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	return r
}

// Merge collapses token intervals into the smallest ordered list of disjoint
// ranges covering every input. Inputs may arrive in any order and may overlap;
// two intervals separated by less than MergeGap seconds are joined. The result
// is sorted by start, mutually disjoint, and stable under re-merging.
func Merge(tokens []Range) []Range {
	if len(tokens) == 0 {
		return nil
	}

	sorted := make([]Range, len(tokens))
	for i, t := range tokens {
		sorted[i] = normalize(t)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]Range, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start-cur.End < MergeGap {
			// Overlapping or near-adjacent: extend, but only if it grows.
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}
