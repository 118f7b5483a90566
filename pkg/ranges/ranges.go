// Package ranges implements the scanned-range bookkeeping: merging block
// intervals into a canonical set and locating coverage gaps for backfill.
package ranges

import "sort"

// Range is a closed interval [From, To] of block numbers known to have been
// fully scanned.
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (r Range) Len() uint64 {
	return r.To - r.From + 1
}

// Merge collapses an unordered list of ranges into a sorted list with no
// overlapping and no adjacent entries. Adjacent means next.From == prev.To+1:
// a zero-size gap merges. Merge never mutates its input and is idempotent.
func Merge(rs []Range) []Range {
	if len(rs) < 2 {
		return append([]Range(nil), rs...)
	}

	sorted := append([]Range(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].From != sorted[j].From {
			return sorted[i].From < sorted[j].From
		}
		return sorted[i].To < sorted[j].To
	})

	merged := sorted[:1]
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if cur.From <= last.To+1 {
			if cur.To > last.To {
				last.To = cur.To
			}
		} else {
			merged = append(merged, cur)
		}
	}

	return merged
}

// HighestTo returns the highest scanned block among rs, or fallback when rs
// is empty.
func HighestTo(rs []Range, fallback uint64) uint64 {
	highest := fallback
	for _, r := range rs {
		if r.To > highest {
			highest = r.To
		}
	}

	return highest
}

// LargestGap finds the single largest uncovered interval among the merged
// ranges, relative to startBlock. The leading gap between startBlock and the
// first range counts. The open tail above the highest range does not: head
// tracking owns that region, backfill only repairs holes behind it.
func LargestGap(rs []Range, startBlock uint64) (Range, bool) {
	merged := Merge(rs)

	var (
		best  Range
		size  uint64
		found bool
	)

	nextUncovered := startBlock
	for _, r := range merged {
		if r.From > nextUncovered {
			gap := Range{From: nextUncovered, To: r.From - 1}
			if gap.Len() > size {
				best = gap
				size = gap.Len()
				found = true
			}
		}
		if r.To+1 > nextUncovered {
			nextUncovered = r.To + 1
		}
	}

	return best, found
}
