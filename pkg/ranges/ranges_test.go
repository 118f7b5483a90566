package ranges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		input []Range
		want  []Range
	}{
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
		{
			name:  "single",
			input: []Range{{From: 5, To: 10}},
			want:  []Range{{From: 5, To: 10}},
		},
		{
			name:  "overlapping",
			input: []Range{{From: 1, To: 10}, {From: 5, To: 20}},
			want:  []Range{{From: 1, To: 20}},
		},
		{
			name:  "adjacent ranges merge",
			input: []Range{{From: 1, To: 10}, {From: 11, To: 20}},
			want:  []Range{{From: 1, To: 20}},
		},
		{
			name:  "gap of one block stays split",
			input: []Range{{From: 1, To: 10}, {From: 12, To: 20}},
			want:  []Range{{From: 1, To: 10}, {From: 12, To: 20}},
		},
		{
			name:  "contained range is absorbed",
			input: []Range{{From: 1, To: 100}, {From: 20, To: 30}},
			want:  []Range{{From: 1, To: 100}},
		},
		{
			name:  "unsorted input",
			input: []Range{{From: 50, To: 60}, {From: 1, To: 10}, {From: 8, To: 52}},
			want:  []Range{{From: 1, To: 60}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.input)
			require.Equal(t, tc.want, got)

			// Idempotence: merging a merged list changes nothing.
			require.Equal(t, got, Merge(got))

			// No mergeable pair may remain.
			for i := 1; i < len(got); i++ {
				assert.Less(t, got[i-1].To+1, got[i].From)
			}
		})
	}
}

func TestMergeIsCommutative(t *testing.T) {
	a := []Range{{From: 1, To: 5}, {From: 30, To: 40}, {From: 6, To: 10}}
	b := []Range{{From: 6, To: 10}, {From: 1, To: 5}, {From: 30, To: 40}}

	require.Equal(t, Merge(a), Merge(b))
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	input := []Range{{From: 5, To: 10}, {From: 1, To: 20}}
	Merge(input)

	require.Equal(t, []Range{{From: 5, To: 10}, {From: 1, To: 20}}, input)
}

func TestHighestTo(t *testing.T) {
	require.Equal(t, uint64(100), HighestTo(nil, 100))
	require.Equal(t, uint64(60), HighestTo([]Range{{From: 1, To: 10}, {From: 50, To: 60}}, 0))
}

func TestLargestGap(t *testing.T) {
	t.Run("no ranges means no gap", func(t *testing.T) {
		_, found := LargestGap(nil, 100)
		require.False(t, found)
	})

	t.Run("contiguous coverage has no gap", func(t *testing.T) {
		_, found := LargestGap([]Range{{From: 100, To: 200}}, 100)
		require.False(t, found)
	})

	t.Run("leading gap includes the start block", func(t *testing.T) {
		gap, found := LargestGap([]Range{{From: 150, To: 200}}, 100)
		require.True(t, found)
		require.Equal(t, Range{From: 100, To: 149}, gap)
	})

	t.Run("largest of several gaps wins", func(t *testing.T) {
		rs := []Range{{From: 100, To: 110}, {From: 120, To: 130}, {From: 500, To: 600}}
		gap, found := LargestGap(rs, 100)
		require.True(t, found)
		require.Equal(t, Range{From: 131, To: 499}, gap)
	})

	t.Run("tail above highest range is not a gap", func(t *testing.T) {
		_, found := LargestGap([]Range{{From: 100, To: 200}}, 100)
		require.False(t, found)
	})
}
