package feed

import "sort"

// Less is the global feed order: most recently mined first. Block number is
// authoritative; the numeric post id breaks ties within a block and the
// self-reported timestamp is only a last resort, since it is subject to
// clock skew.
func Less(a, b *Post) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber > b.BlockNumber
	}

	if a.ID != b.ID {
		return a.ID > b.ID
	}

	return a.Timestamp > b.Timestamp
}

// SortPosts sorts posts in place into the global feed order.
func SortPosts(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return Less(posts[i], posts[j])
	})
}
